// internal/domain/scheduling/request.go
package scheduling

import (
	"database/sql"
	"strings"
	"time"
)

// Side tells whether an attendee belongs to our organization or the other party.
type Side string

const (
	SideInternal Side = "internal"
	SideExternal Side = "external"
)

// NextActionType names the follow-up the autopilot owes a request.
type NextActionType string

const (
	NextActionNone         NextActionType = ""
	NextActionAwaitReply   NextActionType = "await_reply"
	NextActionRetryBooking NextActionType = "retry_booking"
	NextActionSendReminder NextActionType = "send_reminder"
)

// TimeWindow is a half-open interval [Start, End).
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Fits reports whether a meeting of the given duration starting at t lies inside the window.
func (w TimeWindow) Fits(t time.Time, duration time.Duration) bool {
	return !t.Before(w.Start) && !t.Add(duration).After(w.End)
}

// Overlaps reports whether two windows share any instant.
func (w TimeWindow) Overlaps(other TimeWindow) bool {
	return w.Start.Before(other.End) && other.Start.Before(w.End)
}

// Attendee is a participant of a scheduling request. Created with the request, never mutated.
type Attendee struct {
	RequestID        string
	Side             Side
	Email            string
	Name             string
	IsOrganizer      bool
	IsPrimaryContact bool
}

// Request is the aggregate for one meeting-to-be-scheduled negotiation.
// Corresponds to the 'scheduling_requests' table.
type Request struct {
	ID              string
	Title           string
	Status          Status
	Duration        time.Duration
	ProposedWindows []TimeWindow
	Timezone        string
	Platform        string // e.g. zoom, google_meet, in_person
	Location        string
	SelectedTime    sql.NullTime
	CalendarEventID sql.NullString // set at most once; cleared only by cancellation
	MeetingLink     string
	ThreadID        sql.NullString // conversation id of the outbound proposal
	NextActionType  NextActionType
	NextActionAt    sql.NullTime
	CounterRounds   int
	BookingAttempts int
	LastActionAt    time.Time
	CompanyID       sql.NullString // opaque, owned elsewhere
	DealID          sql.NullString // opaque, owned elsewhere
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Attendees []Attendee
}

// Clone returns a deep copy so callers can stage mutations without touching the original.
func (r *Request) Clone() *Request {
	c := *r
	c.ProposedWindows = append([]TimeWindow(nil), r.ProposedWindows...)
	c.Attendees = append([]Attendee(nil), r.Attendees...)
	return &c
}

// Loc resolves the request timezone, falling back to UTC.
func (r *Request) Loc() *time.Location {
	if r.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Organizer returns the internal organizer, if any.
func (r *Request) Organizer() (Attendee, bool) {
	for _, a := range r.Attendees {
		if a.IsOrganizer && a.Side == SideInternal {
			return a, true
		}
	}
	return Attendee{}, false
}

// ExternalAttendees returns the attendees on the other side of the negotiation.
func (r *Request) ExternalAttendees() []Attendee {
	var out []Attendee
	for _, a := range r.Attendees {
		if a.Side == SideExternal {
			out = append(out, a)
		}
	}
	return out
}

// HasExternalAttendee reports whether email belongs to an external attendee (case-insensitive).
func (r *Request) HasExternalAttendee(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, a := range r.ExternalAttendees() {
		if strings.ToLower(a.Email) == email {
			return true
		}
	}
	return false
}

// WindowFor returns the offered window that a meeting starting at t fits into.
func (r *Request) WindowFor(t time.Time) (TimeWindow, bool) {
	for _, w := range r.ProposedWindows {
		if w.Fits(t, r.Duration) {
			return w, true
		}
	}
	return TimeWindow{}, false
}

// Validate checks the data the engine needs to act on the request autonomously.
func (r *Request) Validate() error {
	switch {
	case r.ID == "":
		return &DataIntegrityError{RequestID: r.ID, Reason: "missing id"}
	case r.Duration <= 0:
		return &DataIntegrityError{RequestID: r.ID, Reason: "missing duration"}
	case len(r.ExternalAttendees()) == 0:
		return &DataIntegrityError{RequestID: r.ID, Reason: "no external attendee"}
	}
	if _, ok := r.Organizer(); !ok {
		return &DataIntegrityError{RequestID: r.ID, Reason: "no internal organizer"}
	}
	if r.Timezone != "" {
		if _, err := time.LoadLocation(r.Timezone); err != nil {
			return &DataIntegrityError{RequestID: r.ID, Reason: "unknown timezone " + r.Timezone}
		}
	}
	if r.Status == StatusConfirming && !r.SelectedTime.Valid {
		return &DataIntegrityError{RequestID: r.ID, Reason: "confirming without selected time"}
	}
	return nil
}
