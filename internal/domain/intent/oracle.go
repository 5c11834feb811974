// internal/domain/intent/oracle.go
package intent

import (
	"context"
	"time"

	"scheduling_autopilot/internal/domain/scheduling"
)

// Intent is what an inbound reply wants to do with the offered times.
type Intent string

const (
	Accept         Intent = "accept"
	Decline        Intent = "decline"
	CounterPropose Intent = "counter_propose"
	Ambiguous      Intent = "ambiguous"
)

// Valid reports whether i is one of the known intents.
func (i Intent) Valid() bool {
	switch i {
	case Accept, Decline, CounterPropose, Ambiguous:
		return true
	}
	return false
}

// Input is what the oracle sees. Relative expressions in the text are resolved against
// ReceivedAt in Timezone.
type Input struct {
	Subject        string
	Body           string
	OfferedWindows []scheduling.TimeWindow
	Timezone       string
	ReceivedAt     time.Time
}

// Result is the oracle's advisory answer. The engine re-validates it before acting.
type Result struct {
	Intent         Intent
	ExtractedTimes []time.Time
	Confidence     float64
	Reasoning      string
}

// Oracle classifies free-text replies. Implementations wrap a language model.
type Oracle interface {
	Classify(ctx context.Context, in Input) (*Result, error)
}
