// internal/app/booking.go
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"scheduling_autopilot/internal/domain/calendar"
	"scheduling_autopilot/internal/domain/mail"
	"scheduling_autopilot/internal/domain/scheduling"

	"github.com/sirupsen/logrus"
)

// BookingResult summarizes one booking or reminder run.
type BookingResult struct {
	RequestID       string            `json:"requestId"`
	Status          scheduling.Status `json:"status"`
	EventID         string            `json:"eventId,omitempty"`
	ActionsExecuted int               `json:"actionsExecuted"`
	Flagged         bool              `json:"flagged"`
	Retrying        bool              `json:"retrying,omitempty"`
}

// BookingExecutor turns a confirming request into a calendar event, confirmation email and reminder.
type BookingExecutor struct {
	repo      scheduling.Repository
	calendar  calendar.Provider
	transport mail.Transport
	flagger   *reviewFlagger
	policy    scheduling.Policy
	now       func() time.Time
	logger    *logrus.Entry
}

// IdempotencyKey identifies the calendar event for a request and start time. Retried
// creations with the same key must not produce a second event.
func IdempotencyKey(requestID string, start time.Time) string {
	return fmt.Sprintf("%s:%d", requestID, start.Unix())
}

// Execute books the selected time of a confirming request. threadID, when set, is the
// conversation the confirmation should reply into.
func (b *BookingExecutor) Execute(ctx context.Context, requestID, threadID string) (*BookingResult, error) {
	req, err := b.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	log := b.logger.WithFields(logrus.Fields{"request_id": req.ID, "attempt": req.BookingAttempts + 1})

	if req.Status != scheduling.StatusConfirming {
		return nil, fmt.Errorf("%w: request %s is %s, not confirming", scheduling.ErrConcurrencyConflict, req.ID, req.Status)
	}
	if req.CalendarEventID.Valid {
		log.Info("Request already booked, skipping")
		return &BookingResult{RequestID: req.ID, Status: req.Status, EventID: req.CalendarEventID.String}, nil
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	event, err := b.createEvent(ctx, req)
	if err != nil {
		log.WithError(err).Warn("Calendar booking failed")
		return b.recordFailure(ctx, req, err)
	}

	next := req.Clone()
	next.Status = scheduling.StatusConfirmed
	next.CalendarEventID = sql.NullString{String: event.ID, Valid: true}
	next.MeetingLink = event.JoinURL
	next.LastActionAt = b.now()
	next.NextActionType = scheduling.NextActionNone
	next.NextActionAt = sql.NullTime{}
	booked := scheduling.NewAction(req.ID, scheduling.ActionBooked, scheduling.ActorSystem,
		fmt.Sprintf("calendar event %s created for %s", event.ID, formatTime(req.SelectedTime.Time, req.Loc())))

	committed, err := b.repo.Commit(ctx, next, scheduling.Precondition{Status: req.Status, Version: req.Version}, []scheduling.Action{booked})
	if err != nil {
		if errors.Is(err, scheduling.ErrConcurrencyConflict) {
			// the request moved on while the event was being created
			if derr := b.deleteEvent(ctx, event.ID); derr != nil {
				log.WithError(derr).WithField("event_id", event.ID).Error("Failed to remove orphaned calendar event")
			}
		}
		return nil, err
	}
	log.WithField("event_id", event.ID).Info("Meeting booked")

	res := &BookingResult{RequestID: req.ID, Status: next.Status, EventID: event.ID, ActionsExecuted: len(committed)}
	res.ActionsExecuted += b.confirm(ctx, next, threadID)
	return res, nil
}

func (b *BookingExecutor) createEvent(ctx context.Context, req *scheduling.Request) (*calendar.Event, error) {
	stageCtx, cancel := context.WithTimeout(ctx, b.policy.StageTimeout)
	defer cancel()

	attendees := make([]calendar.Attendee, 0, len(req.Attendees))
	for _, a := range req.Attendees {
		attendees = append(attendees, calendar.Attendee{Email: a.Email, Name: a.Name, IsOrganizer: a.IsOrganizer})
	}
	start := req.SelectedTime.Time
	event, err := b.calendar.CreateEvent(stageCtx, calendar.EventInput{
		IdempotencyKey: IdempotencyKey(req.ID, start),
		Title:          req.Title,
		Attendees:      attendees,
		Window:         scheduling.TimeWindow{Start: start, End: start.Add(req.Duration)},
		Timezone:       req.Timezone,
		Platform:       req.Platform,
		Location:       req.Location,
	})
	if err != nil {
		return nil, &scheduling.ExternalServiceError{Service: "calendar", Err: err}
	}
	return event, nil
}

func (b *BookingExecutor) deleteEvent(ctx context.Context, eventID string) error {
	stageCtx, cancel := context.WithTimeout(ctx, b.policy.StageTimeout)
	defer cancel()
	return b.calendar.DeleteEvent(stageCtx, eventID)
}

// recordFailure keeps the request in confirming with a scheduled retry, or escalates once
// the attempt budget is spent.
func (b *BookingExecutor) recordFailure(ctx context.Context, req *scheduling.Request, cause error) (*BookingResult, error) {
	attempts := req.BookingAttempts + 1
	failed := scheduling.NewAction(req.ID, scheduling.ActionBookingFailed, scheduling.ActorSystem,
		fmt.Sprintf("attempt %d/%d: %v", attempts, b.policy.MaxBookingAttempts, cause))

	if attempts >= b.policy.MaxBookingAttempts {
		reason := fmt.Sprintf("calendar booking failed after %d attempts: %v", attempts, cause)
		next, committed, err := b.flagger.flag(ctx, req, reason, "", failed)
		if err != nil {
			return nil, err
		}
		return &BookingResult{RequestID: req.ID, Status: next.Status, ActionsExecuted: len(committed), Flagged: true}, nil
	}

	now := b.now()
	next := req.Clone()
	next.BookingAttempts = attempts
	next.LastActionAt = now
	next.NextActionType = scheduling.NextActionRetryBooking
	next.NextActionAt = sql.NullTime{
		Time:  NextRetryAt(now, attempts, b.policy.BookingRetryBase, b.policy.BookingRetryMax, nil),
		Valid: true,
	}
	committed, err := b.repo.Commit(ctx, next, scheduling.Precondition{Status: req.Status, Version: req.Version}, []scheduling.Action{failed})
	if err != nil {
		return nil, err
	}
	b.logger.WithFields(logrus.Fields{
		"request_id": req.ID,
		"retry_at":   next.NextActionAt.Time,
	}).Info("Booking retry scheduled")
	return &BookingResult{RequestID: req.ID, Status: next.Status, ActionsExecuted: len(committed), Retrying: true}, nil
}

// confirm sends the confirmation and schedules the reminder. The booking is already durable,
// so failures here are recorded but never revert it.
func (b *BookingExecutor) confirm(ctx context.Context, req *scheduling.Request, threadID string) int {
	subject := confirmationSubject(req)
	body := confirmationBody(req)
	var actions []scheduling.Action
	if err := deliver(ctx, b.transport, b.policy.StageTimeout, req, threadFor(req, threadID), subject, body); err != nil {
		b.logger.WithError(err).WithField("request_id", req.ID).Error("Failed to send confirmation")
		actions = append(actions, scheduling.NewAction(req.ID, scheduling.ActionEmailFailed, scheduling.ActorSystem, "confirmation: "+err.Error()))
	} else {
		sent := scheduling.NewAction(req.ID, scheduling.ActionEmailSent, scheduling.ActorSystem, "sent confirmation")
		sent.Subject, sent.Content = subject, body
		actions = append(actions, sent)
	}

	now := b.now()
	next := req.Clone()
	next.LastActionAt = now
	if at, ok := b.reminderTime(req.SelectedTime.Time, now); ok {
		next.NextActionType = scheduling.NextActionSendReminder
		next.NextActionAt = sql.NullTime{Time: at, Valid: true}
		actions = append(actions, scheduling.NewAction(req.ID, scheduling.ActionReminderScheduled, scheduling.ActorSystem,
			"reminder at "+formatTime(at, req.Loc())))
	}

	committed, err := b.repo.Commit(ctx, next, scheduling.Precondition{Status: req.Status, Version: req.Version}, actions)
	if err != nil {
		b.logger.WithError(err).WithField("request_id", req.ID).Warn("Confirmation bookkeeping not recorded")
		return 0
	}
	return len(committed)
}

// reminderTime is ReminderLead before the meeting, or one hour before when the meeting is
// closer than that. No reminder when even that has passed.
func (b *BookingExecutor) reminderTime(start, now time.Time) (time.Time, bool) {
	at := start.Add(-b.policy.ReminderLead)
	if !at.After(now) {
		at = start.Add(-time.Hour)
	}
	return at, at.After(now)
}

// SendReminder delivers the pre-meeting reminder of a confirmed request.
func (b *BookingExecutor) SendReminder(ctx context.Context, requestID string) (*BookingResult, error) {
	req, err := b.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != scheduling.StatusConfirmed || req.NextActionType != scheduling.NextActionSendReminder {
		return nil, fmt.Errorf("%w: request %s has no pending reminder", scheduling.ErrConcurrencyConflict, req.ID)
	}

	subject := "Reminder: " + req.Title
	body := reminderBody(req)
	var action scheduling.Action
	if err := deliver(ctx, b.transport, b.policy.StageTimeout, req, "", subject, body); err != nil {
		b.logger.WithError(err).WithField("request_id", req.ID).Error("Failed to send reminder")
		action = scheduling.NewAction(req.ID, scheduling.ActionEmailFailed, scheduling.ActorSystem, "reminder: "+err.Error())
	} else {
		action = scheduling.NewAction(req.ID, scheduling.ActionEmailSent, scheduling.ActorSystem, "sent reminder")
		action.Subject, action.Content = subject, body
	}

	next := req.Clone()
	next.LastActionAt = b.now()
	next.NextActionType = scheduling.NextActionNone
	next.NextActionAt = sql.NullTime{}
	committed, err := b.repo.Commit(ctx, next, scheduling.Precondition{Status: req.Status, Version: req.Version}, []scheduling.Action{action})
	if err != nil {
		return nil, err
	}
	return &BookingResult{RequestID: req.ID, Status: next.Status, ActionsExecuted: len(committed)}, nil
}
