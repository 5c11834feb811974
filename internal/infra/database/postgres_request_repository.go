// internal/infra/database/postgres_request_repository.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"scheduling_autopilot/internal/domain/scheduling"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const requestColumns = `id, title, status, duration_seconds, proposed_windows, timezone, platform, location,
       selected_time, calendar_event_id, meeting_link, thread_id, next_action_type, next_action_at,
       counter_rounds, booking_attempts, last_action_at, company_id, deal_id, version, created_at, updated_at`

type PostgresRequestRepository struct {
	db *sql.DB
}

func NewPostgresRequestRepository(db *sql.DB) *PostgresRequestRepository {
	return &PostgresRequestRepository{db: db}
}

// Create inserts a request and its attendees in one transaction.
func (r *PostgresRequestRepository) Create(ctx context.Context, req *scheduling.Request) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Version == 0 {
		req.Version = 1
	}
	if req.LastActionAt.IsZero() {
		req.LastActionAt = time.Now()
	}
	windows, err := json.Marshal(windowsOrEmpty(req.ProposedWindows))
	if err != nil {
		return fmt.Errorf("error encoding proposed windows: %w", err)
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for request create: %w", err)
	}
	defer txn.Rollback()

	query := `INSERT INTO scheduling_requests (id, title, status, duration_seconds, proposed_windows, timezone, platform,
                  location, selected_time, calendar_event_id, meeting_link, thread_id, next_action_type, next_action_at,
                  counter_rounds, booking_attempts, last_action_at, company_id, deal_id, version)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
               RETURNING created_at, updated_at`
	err = txn.QueryRowContext(ctx, query,
		req.ID, req.Title, req.Status, int64(req.Duration/time.Second), windows, req.Timezone, req.Platform,
		req.Location, req.SelectedTime, req.CalendarEventID, req.MeetingLink, req.ThreadID, req.NextActionType,
		req.NextActionAt, req.CounterRounds, req.BookingAttempts, req.LastActionAt, req.CompanyID, req.DealID, req.Version,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating scheduling request: %w", err)
	}

	stmt, err := txn.PrepareContext(ctx, `INSERT INTO scheduling_attendees (request_id, side, email, name, is_organizer, is_primary_contact)
                                         VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return fmt.Errorf("failed to prepare attendee insert: %w", err)
	}
	defer stmt.Close()
	for i := range req.Attendees {
		a := &req.Attendees[i]
		a.RequestID = req.ID
		if _, err := stmt.ExecContext(ctx, a.RequestID, a.Side, a.Email, a.Name, a.IsOrganizer, a.IsPrimaryContact); err != nil {
			return fmt.Errorf("error inserting attendee %s: %w", a.Email, err)
		}
	}
	return txn.Commit()
}

func (r *PostgresRequestRepository) GetByID(ctx context.Context, id string) (*scheduling.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM scheduling_requests WHERE id = $1`
	req, err := scanRequest(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, scheduling.ErrRequestNotFound
		}
		return nil, fmt.Errorf("error getting scheduling request by ID: %w", err)
	}
	if err := r.loadAttendees(ctx, []*scheduling.Request{req}); err != nil {
		return nil, err
	}
	return req, nil
}

func (r *PostgresRequestRepository) ListByStatus(ctx context.Context, statuses []scheduling.Status, limit int) ([]*scheduling.Request, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	query := `SELECT ` + requestColumns + ` FROM scheduling_requests
               WHERE status = ANY($1::text[])
               ORDER BY last_action_at DESC
               LIMIT $2`
	return r.list(ctx, "by status", query, pq.Array(names), nullLimit(limit))
}

func (r *PostgresRequestRepository) ListDue(ctx context.Context, status scheduling.Status, actionType scheduling.NextActionType, now time.Time, limit int) ([]*scheduling.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM scheduling_requests
               WHERE status = $1 AND next_action_type = $2 AND next_action_at <= $3
               ORDER BY next_action_at ASC
               LIMIT $4`
	return r.list(ctx, "due", query, status, actionType, now, nullLimit(limit))
}

func (r *PostgresRequestRepository) ListStale(ctx context.Context, status scheduling.Status, before time.Time, limit int) ([]*scheduling.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM scheduling_requests
               WHERE status = $1 AND last_action_at < $2
               ORDER BY last_action_at ASC
               LIMIT $3`
	return r.list(ctx, "stale", query, status, before, nullLimit(limit))
}

func (r *PostgresRequestRepository) list(ctx context.Context, what, query string, args ...any) ([]*scheduling.Request, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying %s scheduling requests: %w", what, err)
	}
	defer rows.Close()

	reqs := make([]*scheduling.Request, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning scheduling request row: %w", err)
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scheduling request rows: %w", err)
	}
	if err := r.loadAttendees(ctx, reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

// Commit applies a status-and-version guarded update and appends actions in one transaction.
// calendar_event_id can only be replaced on cancellation.
func (r *PostgresRequestRepository) Commit(ctx context.Context, next *scheduling.Request, expect scheduling.Precondition, actions []scheduling.Action) ([]scheduling.Action, error) {
	windows, err := json.Marshal(windowsOrEmpty(next.ProposedWindows))
	if err != nil {
		return nil, fmt.Errorf("error encoding proposed windows: %w", err)
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction for commit: %w", err)
	}
	defer txn.Rollback()

	query := `UPDATE scheduling_requests
               SET status = $1, proposed_windows = $2, selected_time = $3, calendar_event_id = $4, meeting_link = $5,
                   thread_id = $6, next_action_type = $7, next_action_at = $8, counter_rounds = $9,
                   booking_attempts = $10, last_action_at = $11, version = version + 1, updated_at = NOW()
               WHERE id = $12 AND status = $13 AND version = $14
                 AND (calendar_event_id IS NULL OR calendar_event_id IS NOT DISTINCT FROM $4 OR $1 = 'cancelled')
               RETURNING version, updated_at`
	var version int
	var updatedAt time.Time
	err = txn.QueryRowContext(ctx, query,
		next.Status, windows, next.SelectedTime, next.CalendarEventID, next.MeetingLink,
		next.ThreadID, next.NextActionType, next.NextActionAt, next.CounterRounds,
		next.BookingAttempts, next.LastActionAt, next.ID, expect.Status, expect.Version,
	).Scan(&version, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: request %s expected %s v%d", scheduling.ErrConcurrencyConflict, next.ID, expect.Status, expect.Version)
		}
		return nil, fmt.Errorf("error updating scheduling request: %w", err)
	}

	// the row lock taken by the update serializes sequence assignment per request
	var seq int64
	err = txn.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM scheduling_actions WHERE request_id = $1`, next.ID).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("error reading action sequence: %w", err)
	}

	stmt, err := txn.PrepareContext(ctx, `INSERT INTO scheduling_actions (id, request_id, sequence, action_type, actor, subject, content, reasoning, source_message_id)
                                         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
                                         RETURNING created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare action insert: %w", err)
	}
	defer stmt.Close()

	committed := make([]scheduling.Action, 0, len(actions))
	for _, a := range actions {
		seq++
		a.ID = uuid.NewString()
		a.RequestID = next.ID
		a.Sequence = seq
		err := stmt.QueryRowContext(ctx, a.ID, a.RequestID, a.Sequence, a.Type, a.Actor, a.Subject, a.Content, a.Reasoning, a.SourceMessageID).Scan(&a.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: %s for message %s", scheduling.ErrDuplicateMessage, a.Type, a.SourceMessageID.String)
			}
			return nil, fmt.Errorf("error appending %s action: %w", a.Type, err)
		}
		committed = append(committed, a)
	}

	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit request %s: %w", next.ID, err)
	}
	next.Version = version
	next.UpdatedAt = updatedAt
	return committed, nil
}

func (r *PostgresRequestRepository) ListActions(ctx context.Context, requestID string) ([]scheduling.Action, error) {
	query := `SELECT id, request_id, sequence, action_type, actor, subject, content, reasoning, source_message_id, created_at
               FROM scheduling_actions WHERE request_id = $1 ORDER BY sequence`
	rows, err := r.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("error querying actions: %w", err)
	}
	defer rows.Close()

	actions := make([]scheduling.Action, 0)
	for rows.Next() {
		var a scheduling.Action
		if err := rows.Scan(&a.ID, &a.RequestID, &a.Sequence, &a.Type, &a.Actor, &a.Subject, &a.Content, &a.Reasoning, &a.SourceMessageID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning action row: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action rows: %w", err)
	}
	return actions, nil
}

func (r *PostgresRequestRepository) IsMessageProcessed(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM scheduling_actions WHERE source_message_id = $1)`, messageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("error checking processed message: %w", err)
	}
	return exists, nil
}

func (r *PostgresRequestRepository) RecordMessageFailure(ctx context.Context, messageID, requestID, reason string) (int, error) {
	query := `INSERT INTO message_failures (message_id, request_id, attempts, last_error)
               VALUES ($1, $2, 1, $3)
               ON CONFLICT (message_id) DO UPDATE
               SET attempts = message_failures.attempts + 1, last_error = EXCLUDED.last_error, updated_at = NOW()
               RETURNING attempts`
	var attempts int
	if err := r.db.QueryRowContext(ctx, query, messageID, requestID, reason).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("error recording message failure: %w", err)
	}
	return attempts, nil
}

func (r *PostgresRequestRepository) loadAttendees(ctx context.Context, reqs []*scheduling.Request) error {
	if len(reqs) == 0 {
		return nil
	}
	byID := make(map[string]*scheduling.Request, len(reqs))
	ids := make([]string, 0, len(reqs))
	for _, req := range reqs {
		byID[req.ID] = req
		ids = append(ids, req.ID)
	}

	query := `SELECT request_id, side, email, name, is_organizer, is_primary_contact
               FROM scheduling_attendees WHERE request_id = ANY($1::text[])
               ORDER BY request_id, is_organizer DESC, email`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("error querying attendees: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a scheduling.Attendee
		if err := rows.Scan(&a.RequestID, &a.Side, &a.Email, &a.Name, &a.IsOrganizer, &a.IsPrimaryContact); err != nil {
			return fmt.Errorf("error scanning attendee row: %w", err)
		}
		if req, ok := byID[a.RequestID]; ok {
			req.Attendees = append(req.Attendees, a)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating attendee rows: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*scheduling.Request, error) {
	req := &scheduling.Request{}
	var seconds int64
	var windows []byte
	err := row.Scan(
		&req.ID, &req.Title, &req.Status, &seconds, &windows, &req.Timezone, &req.Platform, &req.Location,
		&req.SelectedTime, &req.CalendarEventID, &req.MeetingLink, &req.ThreadID, &req.NextActionType, &req.NextActionAt,
		&req.CounterRounds, &req.BookingAttempts, &req.LastActionAt, &req.CompanyID, &req.DealID, &req.Version,
		&req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.Duration = time.Duration(seconds) * time.Second
	if len(windows) > 0 {
		if err := json.Unmarshal(windows, &req.ProposedWindows); err != nil {
			return nil, fmt.Errorf("error decoding proposed windows of %s: %w", req.ID, err)
		}
	}
	return req, nil
}

func windowsOrEmpty(w []scheduling.TimeWindow) []scheduling.TimeWindow {
	if w == nil {
		return []scheduling.TimeWindow{}
	}
	return w
}
