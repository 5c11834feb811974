// internal/app/alternatives.go
package app

import (
	"context"
	"time"

	"scheduling_autopilot/internal/domain/calendar"
	"scheduling_autopilot/internal/domain/scheduling"
)

const (
	alternativeScanDays  = 7
	maxAvailabilityCalls = 20
)

// alternativeFinder proposes open slots for the organizer when a requested time is declined.
type alternativeFinder struct {
	calendar calendar.Provider
	policy   scheduling.Policy
	now      func() time.Time
}

// Find returns up to policy.AlternativesCount free slots, preferring still-valid offered
// windows and then workday slots starting on the day of around. Slots overlapping exclude
// are skipped.
func (f *alternativeFinder) Find(ctx context.Context, req *scheduling.Request, around time.Time, exclude []scheduling.TimeWindow) ([]scheduling.TimeWindow, error) {
	organizer, ok := req.Organizer()
	if !ok {
		return nil, &scheduling.DataIntegrityError{RequestID: req.ID, Reason: "no internal organizer"}
	}

	var found []scheduling.TimeWindow
	calls := 0
	seen := make(map[int64]bool)
	for _, start := range f.candidates(req, around) {
		if len(found) >= f.policy.AlternativesCount || calls >= maxAvailabilityCalls {
			break
		}
		if seen[start.Unix()] {
			continue
		}
		seen[start.Unix()] = true

		slot := scheduling.TimeWindow{Start: start, End: start.Add(req.Duration)}
		if overlapsAny(slot, exclude) {
			continue
		}
		calls++
		free, err := f.available(ctx, organizer.Email, slot)
		if err != nil {
			return nil, err
		}
		if free {
			found = append(found, slot)
		}
	}
	return found, nil
}

func (f *alternativeFinder) available(ctx context.Context, organizer string, slot scheduling.TimeWindow) (bool, error) {
	stageCtx, cancel := context.WithTimeout(ctx, f.policy.StageTimeout)
	defer cancel()
	free, err := f.calendar.CheckAvailability(stageCtx, organizer, slot)
	if err != nil {
		return false, &scheduling.ExternalServiceError{Service: "calendar", Err: err}
	}
	return free, nil
}

func (f *alternativeFinder) candidates(req *scheduling.Request, around time.Time) []time.Time {
	now := f.now()
	loc := req.Loc()

	var out []time.Time
	for _, w := range req.ProposedWindows {
		if w.Start.After(now) {
			out = append(out, w.Start)
		}
	}

	from := around
	if from.Before(now) {
		from = now
	}
	from = from.In(loc)
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	for d := 0; d < alternativeScanDays; d++ {
		date := day.AddDate(0, 0, d)
		if date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
			continue
		}
		dayEnd := time.Date(date.Year(), date.Month(), date.Day(), f.policy.WorkdayEndHour, 0, 0, 0, loc)
		for h := f.policy.WorkdayStartHour; h < f.policy.WorkdayEndHour; h++ {
			slot := time.Date(date.Year(), date.Month(), date.Day(), h, 0, 0, 0, loc)
			if !slot.After(now) || slot.Add(req.Duration).After(dayEnd) {
				continue
			}
			out = append(out, slot)
		}
	}
	return out
}

func overlapsAny(w scheduling.TimeWindow, others []scheduling.TimeWindow) bool {
	for _, o := range others {
		if w.Overlaps(o) {
			return true
		}
	}
	return false
}
