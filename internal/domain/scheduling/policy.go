// internal/domain/scheduling/policy.go
package scheduling

import (
	"fmt"
	"time"
)

// DeclinePolicy decides what happens when the other party declines every offered time.
type DeclinePolicy string

const (
	DeclineCancel  DeclinePolicy = "cancel"
	DeclineReoffer DeclinePolicy = "reoffer"
)

// Policy holds the thresholds and caps that gate autonomous decisions.
type Policy struct {
	AutoAcceptMin      float64 // minimum confidence to act on accept/decline
	AutoCounterMin     float64 // minimum confidence to act on a counter-proposal
	MaxCounterRounds   int
	MaxBookingAttempts int
	MaxExternalRetries int // failed oracle/availability attempts per message before review
	StageTimeout       time.Duration
	DeclinePolicy      DeclinePolicy
	ReminderLead       time.Duration
	MatchExpiryWindow  time.Duration
	ProposalHorizon    time.Duration // counter-proposals further out are not auto-handled
	WorkdayStartHour   int
	WorkdayEndHour     int
	AlternativesCount  int
	BatchLimit         int
	BatchConcurrency   int
	BookingRetryBase   time.Duration
	BookingRetryMax    time.Duration
}

// DefaultPolicy returns the documented production defaults.
func DefaultPolicy() Policy {
	return Policy{
		AutoAcceptMin:      0.85,
		AutoCounterMin:     0.80,
		MaxCounterRounds:   3,
		MaxBookingAttempts: 3,
		MaxExternalRetries: 3,
		StageTimeout:       20 * time.Second,
		DeclinePolicy:      DeclineCancel,
		ReminderLead:       24 * time.Hour,
		MatchExpiryWindow:  30 * 24 * time.Hour,
		ProposalHorizon:    90 * 24 * time.Hour,
		WorkdayStartHour:   9,
		WorkdayEndHour:     17,
		AlternativesCount:  3,
		BatchLimit:         50,
		BatchConcurrency:   4,
		BookingRetryBase:   time.Minute,
		BookingRetryMax:    time.Hour,
	}
}

// Validate rejects policies that would make the engine loop or act on noise.
func (p Policy) Validate() error {
	if p.AutoAcceptMin <= 0 || p.AutoAcceptMin > 1 {
		return fmt.Errorf("auto accept threshold must be in (0,1], got %v", p.AutoAcceptMin)
	}
	if p.AutoCounterMin <= 0 || p.AutoCounterMin > 1 {
		return fmt.Errorf("auto counter threshold must be in (0,1], got %v", p.AutoCounterMin)
	}
	if p.MaxCounterRounds < 0 {
		return fmt.Errorf("max counter rounds must not be negative, got %d", p.MaxCounterRounds)
	}
	if p.MaxBookingAttempts < 1 || p.MaxExternalRetries < 1 {
		return fmt.Errorf("retry caps must be at least 1")
	}
	if p.StageTimeout <= 0 {
		return fmt.Errorf("stage timeout must be positive")
	}
	if p.DeclinePolicy != DeclineCancel && p.DeclinePolicy != DeclineReoffer {
		return fmt.Errorf("unknown decline policy %q", p.DeclinePolicy)
	}
	if p.WorkdayStartHour < 0 || p.WorkdayEndHour > 24 || p.WorkdayStartHour >= p.WorkdayEndHour {
		return fmt.Errorf("invalid workday hours %d-%d", p.WorkdayStartHour, p.WorkdayEndHour)
	}
	if p.BatchLimit < 1 || p.BatchConcurrency < 1 {
		return fmt.Errorf("batch limit and concurrency must be at least 1")
	}
	return nil
}
