// internal/infra/calendar/local.go
package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"scheduling_autopilot/internal/domain/calendar"
	"scheduling_autopilot/internal/domain/scheduling"
	"scheduling_autopilot/internal/infra/database"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EventStore persists booked events. Implemented by database.PostgresCalendarStore.
type EventStore interface {
	Insert(ctx context.Context, ev *database.CalendarEvent) (*database.CalendarEvent, error)
	Cancel(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) error
	ListBusy(ctx context.Context, organizer string, from, to time.Time) ([]*database.CalendarEvent, error)
}

// FreeBusy answers whether an organizer is free during a window.
type FreeBusy interface {
	IsFree(ctx context.Context, organizer string, window scheduling.TimeWindow) (bool, error)
}

// LocalCalendar books events into the local store and checks availability against the
// organizer's feed plus everything already booked here.
type LocalCalendar struct {
	store        EventStore
	freeBusy     FreeBusy
	linkTemplate string // "{id}" is replaced with the event id
	now          func() time.Time
	logger       *logrus.Entry
}

func NewLocalCalendar(store EventStore, freeBusy FreeBusy, linkTemplate string, logger *logrus.Entry) *LocalCalendar {
	return &LocalCalendar{store: store, freeBusy: freeBusy, linkTemplate: linkTemplate, now: time.Now, logger: logger}
}

func (c *LocalCalendar) CreateEvent(ctx context.Context, in calendar.EventInput) (*calendar.Event, error) {
	if in.IdempotencyKey == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}
	var organizer string
	emails := make([]string, 0, len(in.Attendees))
	for _, a := range in.Attendees {
		emails = append(emails, a.Email)
		if a.IsOrganizer {
			organizer = a.Email
		}
	}
	if organizer == "" {
		return nil, fmt.Errorf("event has no organizer")
	}

	id := uuid.NewString()
	joinURL := c.joinURL(id, in.Platform)
	ics, err := RenderInvite(id, in, joinURL, c.now())
	if err != nil {
		return nil, err
	}
	stored, err := c.store.Insert(ctx, &database.CalendarEvent{
		ID:             id,
		IdempotencyKey: in.IdempotencyKey,
		OrganizerEmail: organizer,
		Title:          in.Title,
		StartsAt:       in.Window.Start,
		EndsAt:         in.Window.End,
		Timezone:       in.Timezone,
		Platform:       in.Platform,
		Location:       in.Location,
		JoinURL:        joinURL,
		Attendees:      emails,
		ICS:            ics,
	})
	if err != nil {
		return nil, err
	}
	if stored.ID != id {
		log := c.logger.WithFields(logrus.Fields{"event_id": stored.ID, "key": in.IdempotencyKey})
		if stored.CancelledAt.Valid {
			// a compensated booking is being retried for the same slot
			if err := c.store.Restore(ctx, stored.ID); err != nil {
				return nil, err
			}
			log.Info("Cancelled calendar event restored for key")
		} else {
			log.Info("Calendar event already existed for key")
		}
	}
	return &calendar.Event{ID: stored.ID, JoinURL: stored.JoinURL}, nil
}

// DeleteEvent cancels the event. Unknown ids are treated as already deleted.
func (c *LocalCalendar) DeleteEvent(ctx context.Context, eventID string) error {
	err := c.store.Cancel(ctx, eventID)
	if errors.Is(err, database.ErrCalendarEventNotFound) {
		return nil
	}
	return err
}

func (c *LocalCalendar) CheckAvailability(ctx context.Context, organizer string, window scheduling.TimeWindow) (bool, error) {
	booked, err := c.store.ListBusy(ctx, organizer, window.Start, window.End)
	if err != nil {
		return false, err
	}
	if len(booked) > 0 {
		return false, nil
	}
	return c.freeBusy.IsFree(ctx, organizer, window)
}

func (c *LocalCalendar) joinURL(id, platform string) string {
	if c.linkTemplate == "" || strings.EqualFold(platform, "in_person") {
		return ""
	}
	return strings.ReplaceAll(c.linkTemplate, "{id}", id)
}
