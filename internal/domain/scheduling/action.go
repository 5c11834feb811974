// internal/domain/scheduling/action.go
package scheduling

import (
	"database/sql"
	"time"
)

// ActionType is the vocabulary of the append-only action log.
type ActionType string

const (
	ActionEmailSent         ActionType = "email_sent"
	ActionEmailReceived     ActionType = "email_received"
	ActionTimeProposed      ActionType = "time_proposed"
	ActionTimeAccepted      ActionType = "time_accepted"
	ActionTimeDeclined      ActionType = "time_declined"
	ActionCounterProposed   ActionType = "counter_proposed"
	ActionAutoAccepted      ActionType = "auto_accepted"
	ActionAutoDeclined      ActionType = "auto_declined"
	ActionNeedsReview       ActionType = "needs_review"
	ActionBooked            ActionType = "booked"
	ActionReminderScheduled ActionType = "reminder_scheduled"
	ActionCancelled         ActionType = "cancelled"
	ActionEmailFailed       ActionType = "email_failed"
	ActionBookingFailed     ActionType = "booking_failed"
	ActionExpired           ActionType = "expired"
	ActionEventDeleteFailed ActionType = "event_delete_failed"
)

// Actor records who caused an action.
type Actor string

const (
	ActorSystem   Actor = "system"
	ActorHuman    Actor = "human"
	ActorExternal Actor = "external"
)

// Action is one row of the action log. Never mutated or deleted.
// Sequence is assigned by the store and is strictly increasing per request.
type Action struct {
	ID              string
	RequestID       string
	Sequence        int64
	Type            ActionType
	Actor           Actor
	Subject         string
	Content         string
	Reasoning       string
	SourceMessageID sql.NullString
	CreatedAt       time.Time
}

// NewAction builds an action for the given request.
func NewAction(requestID string, actionType ActionType, actor Actor, reasoning string) Action {
	return Action{RequestID: requestID, Type: actionType, Actor: actor, Reasoning: reasoning}
}

// WithSource references the message that caused the action without copying its content.
func (a Action) WithSource(messageID string) Action {
	a.SourceMessageID = sql.NullString{String: messageID, Valid: messageID != ""}
	return a
}

// FromMessage attaches the source message and its snapshot to the action.
func (a Action) FromMessage(email *IncomingEmail) Action {
	if email == nil {
		return a
	}
	a.SourceMessageID = sql.NullString{String: email.ID, Valid: email.ID != ""}
	a.Subject = email.Subject
	a.Content = email.Text()
	return a
}
