// internal/infra/database/postgres_calendar_store.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

var ErrCalendarEventNotFound = fmt.Errorf("calendar event not found")

// CalendarEvent is a row of 'calendar_events'.
type CalendarEvent struct {
	ID             string
	IdempotencyKey string
	OrganizerEmail string
	Title          string
	StartsAt       time.Time
	EndsAt         time.Time
	Timezone       string
	Platform       string
	Location       string
	JoinURL        string
	Attendees      []string
	ICS            string
	CancelledAt    sql.NullTime
	CreatedAt      time.Time
}

type PostgresCalendarStore struct {
	db *sql.DB
}

func NewPostgresCalendarStore(db *sql.DB) *PostgresCalendarStore {
	return &PostgresCalendarStore{db: db}
}

// Insert stores ev unless an event with the same idempotency key exists, in which case the
// existing row is returned.
func (s *PostgresCalendarStore) Insert(ctx context.Context, ev *CalendarEvent) (*CalendarEvent, error) {
	query := `INSERT INTO calendar_events (id, idempotency_key, organizer_email, title, starts_at, ends_at, timezone,
                  platform, location, join_url, attendees, ics)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
               ON CONFLICT (idempotency_key) DO NOTHING
               RETURNING created_at`
	err := s.db.QueryRowContext(ctx, query, ev.ID, ev.IdempotencyKey, ev.OrganizerEmail, ev.Title, ev.StartsAt, ev.EndsAt,
		ev.Timezone, ev.Platform, ev.Location, ev.JoinURL, pq.Array(ev.Attendees), ev.ICS).Scan(&ev.CreatedAt)
	if err == sql.ErrNoRows {
		return s.getBy(ctx, "idempotency_key", ev.IdempotencyKey)
	}
	if err != nil {
		return nil, fmt.Errorf("error inserting calendar event: %w", err)
	}
	return ev, nil
}

func (s *PostgresCalendarStore) GetByID(ctx context.Context, id string) (*CalendarEvent, error) {
	return s.getBy(ctx, "id", id)
}

func (s *PostgresCalendarStore) getBy(ctx context.Context, column, value string) (*CalendarEvent, error) {
	query := `SELECT id, idempotency_key, organizer_email, title, starts_at, ends_at, timezone, platform, location,
                     join_url, attendees, ics, cancelled_at, created_at
               FROM calendar_events WHERE ` + column + ` = $1`
	ev := &CalendarEvent{}
	err := s.db.QueryRowContext(ctx, query, value).Scan(&ev.ID, &ev.IdempotencyKey, &ev.OrganizerEmail, &ev.Title,
		&ev.StartsAt, &ev.EndsAt, &ev.Timezone, &ev.Platform, &ev.Location, &ev.JoinURL, pq.Array(&ev.Attendees),
		&ev.ICS, &ev.CancelledAt, &ev.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCalendarEventNotFound
		}
		return nil, fmt.Errorf("error getting calendar event: %w", err)
	}
	return ev, nil
}

// Cancel marks the event cancelled. Cancelling twice is not an error.
func (s *PostgresCalendarStore) Cancel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE calendar_events SET cancelled_at = COALESCE(cancelled_at, NOW()) WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error cancelling calendar event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error cancelling calendar event: %w", err)
	}
	if n == 0 {
		return ErrCalendarEventNotFound
	}
	return nil
}

// Restore clears the cancellation of an event, used when a booking for the same key is retried.
func (s *PostgresCalendarStore) Restore(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE calendar_events SET cancelled_at = NULL WHERE id = $1`, id); err != nil {
		return fmt.Errorf("error restoring calendar event: %w", err)
	}
	return nil
}

// ListBusy returns the organizer's booked, non-cancelled events overlapping [from, to).
func (s *PostgresCalendarStore) ListBusy(ctx context.Context, organizer string, from, to time.Time) ([]*CalendarEvent, error) {
	query := `SELECT id, starts_at, ends_at FROM calendar_events
               WHERE lower(organizer_email) = lower($1) AND cancelled_at IS NULL
                 AND starts_at < $3 AND ends_at > $2
               ORDER BY starts_at`
	rows, err := s.db.QueryContext(ctx, query, organizer, from, to)
	if err != nil {
		return nil, fmt.Errorf("error querying busy calendar events: %w", err)
	}
	defer rows.Close()
	events := make([]*CalendarEvent, 0)
	for rows.Next() {
		ev := &CalendarEvent{}
		if err := rows.Scan(&ev.ID, &ev.StartsAt, &ev.EndsAt); err != nil {
			return nil, fmt.Errorf("error scanning busy calendar event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating busy calendar events: %w", err)
	}
	return events, nil
}
