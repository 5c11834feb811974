// internal/domain/calendar/provider.go
package calendar

import (
	"context"

	"scheduling_autopilot/internal/domain/scheduling"
)

// Attendee is an invitee of a calendar event.
type Attendee struct {
	Email       string
	Name        string
	IsOrganizer bool
}

// EventInput describes an event to create. IdempotencyKey makes retried creates return the
// event created by the first successful attempt.
type EventInput struct {
	IdempotencyKey string
	Title          string
	Attendees      []Attendee
	Window         scheduling.TimeWindow
	Timezone       string
	Platform       string
	Location       string
}

// Event is a created calendar event.
type Event struct {
	ID      string
	JoinURL string
}

// Provider is the calendar collaborator.
type Provider interface {
	CreateEvent(ctx context.Context, in EventInput) (*Event, error)
	DeleteEvent(ctx context.Context, eventID string) error
	CheckAvailability(ctx context.Context, organizer string, window scheduling.TimeWindow) (bool, error)
}
