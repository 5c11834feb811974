// internal/infra/database/postgres_mailbox.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"scheduling_autopilot/internal/domain/scheduling"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresInbox stores inbound messages delivered by the webhook until the autopilot consumes them.
type PostgresInbox struct {
	db *sql.DB
}

func NewPostgresInbox(db *sql.DB) *PostgresInbox {
	return &PostgresInbox{db: db}
}

// Save stores a message. It reports false when the message id was already stored.
func (r *PostgresInbox) Save(ctx context.Context, m *scheduling.IncomingEmail) (bool, error) {
	query := `INSERT INTO inbound_emails (id, subject, body, body_preview, sender_address, sender_name, received_at, conversation_id)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
               ON CONFLICT (id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, m.ID, m.Subject, m.Body, m.BodyPreview, m.SenderAddress, m.SenderName, m.ReceivedAt, m.ConversationID)
	if err != nil {
		return false, fmt.Errorf("error saving inbound email: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error saving inbound email: %w", err)
	}
	return n == 1, nil
}

// ListMessages returns unacknowledged messages that no action references yet, oldest first.
func (r *PostgresInbox) ListMessages(ctx context.Context, since time.Time, limit int) ([]*scheduling.IncomingEmail, error) {
	query := `SELECT m.id, m.subject, m.body, m.body_preview, m.sender_address, m.sender_name, m.received_at, m.conversation_id
               FROM inbound_emails m
               WHERE m.received_at >= $1
                 AND m.acknowledged_at IS NULL
                 AND NOT EXISTS (SELECT 1 FROM scheduling_actions a WHERE a.source_message_id = m.id)
               ORDER BY m.received_at ASC
               LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, since, nullLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("error querying inbound emails: %w", err)
	}
	defer rows.Close()

	msgs := make([]*scheduling.IncomingEmail, 0)
	for rows.Next() {
		m := &scheduling.IncomingEmail{}
		if err := rows.Scan(&m.ID, &m.Subject, &m.Body, &m.BodyPreview, &m.SenderAddress, &m.SenderName, &m.ReceivedAt, &m.ConversationID); err != nil {
			return nil, fmt.Errorf("error scanning inbound email: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating inbound emails: %w", err)
	}
	return msgs, nil
}

func (r *PostgresInbox) Acknowledge(ctx context.Context, messageID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE inbound_emails SET acknowledged_at = NOW() WHERE id = $1 AND acknowledged_at IS NULL`, messageID)
	if err != nil {
		return fmt.Errorf("error acknowledging inbound email: %w", err)
	}
	return nil
}

// PostgresOutbox implements mail delivery by queueing messages for an external relay.
type PostgresOutbox struct {
	db *sql.DB
}

func NewPostgresOutbox(db *sql.DB) *PostgresOutbox {
	return &PostgresOutbox{db: db}
}

func (r *PostgresOutbox) SendEmail(ctx context.Context, to []string, subject, body string) error {
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}
	query := `INSERT INTO outbound_emails (id, recipients, subject, body) VALUES ($1, $2, $3, $4)`
	if _, err := r.db.ExecContext(ctx, query, uuid.NewString(), pq.Array(to), subject, body); err != nil {
		return fmt.Errorf("error queueing outbound email: %w", err)
	}
	return nil
}

func (r *PostgresOutbox) ReplyToMessage(ctx context.Context, threadID, body string) error {
	if threadID == "" {
		return fmt.Errorf("empty thread id")
	}
	query := `INSERT INTO outbound_emails (id, body, thread_id) VALUES ($1, $2, $3)`
	if _, err := r.db.ExecContext(ctx, query, uuid.NewString(), body, threadID); err != nil {
		return fmt.Errorf("error queueing outbound reply: %w", err)
	}
	return nil
}
