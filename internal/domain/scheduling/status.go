// internal/domain/scheduling/status.go
package scheduling

// Status is the lifecycle state of a scheduling negotiation.
type Status string

const (
	StatusAwaitingResponse Status = "awaiting_response"
	StatusNegotiating      Status = "negotiating"
	StatusConfirming       Status = "confirming"
	StatusConfirmed        Status = "confirmed"
	StatusCancelled        Status = "cancelled"
	StatusExpired          Status = "expired"
	StatusNeedsReview      Status = "needs_review" // terminal until a human acts
)

// OpenStatuses are the statuses in which inbound messages are matched and acted on.
var OpenStatuses = []Status{StatusAwaitingResponse, StatusNegotiating, StatusConfirming}

// engineTransitions lists the moves the autopilot may make on its own.
// Self-transitions on terminal statuses are bookkeeping updates (email results, reminders).
var engineTransitions = map[Status][]Status{
	StatusAwaitingResponse: {StatusNegotiating, StatusConfirming, StatusCancelled, StatusExpired, StatusNeedsReview},
	StatusNegotiating:      {StatusConfirming, StatusNegotiating, StatusNeedsReview, StatusCancelled, StatusExpired},
	StatusConfirming:       {StatusConfirmed, StatusConfirming, StatusNegotiating, StatusNeedsReview},
	StatusConfirmed:        {StatusConfirmed},
	StatusNeedsReview:      {StatusNeedsReview},
}

// humanTransitions are only reachable through the review surface.
var humanTransitions = map[Status][]Status{
	StatusAwaitingResponse: {StatusCancelled},
	StatusNegotiating:      {StatusCancelled},
	StatusConfirming:       {StatusCancelled},
	StatusConfirmed:        {StatusCancelled},
	StatusNeedsReview:      {StatusNegotiating, StatusConfirming, StatusCancelled},
}

// IsOpen reports whether the autopilot still matches inbound mail against the request.
func (s Status) IsOpen() bool {
	for _, open := range OpenStatuses {
		if s == open {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status can no longer change through the engine.
func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusCancelled || s == StatusExpired
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusAwaitingResponse, StatusNegotiating, StatusConfirming, StatusConfirmed,
		StatusCancelled, StatusExpired, StatusNeedsReview:
		return true
	}
	return false
}

// CanTransition reports whether actor may move a request from one status to another.
func CanTransition(from, to Status, actor Actor) bool {
	table := engineTransitions
	if actor == ActorHuman {
		table = humanTransitions
	}
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}
