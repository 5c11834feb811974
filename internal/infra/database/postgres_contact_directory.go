// internal/infra/database/postgres_contact_directory.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PostgresContactDirectory resolves a sender to the company/deal of earlier requests with an
// external attendee from the same email domain.
type PostgresContactDirectory struct {
	db *sql.DB
}

func NewPostgresContactDirectory(db *sql.DB) *PostgresContactDirectory {
	return &PostgresContactDirectory{db: db}
}

func (d *PostgresContactDirectory) LookupSender(ctx context.Context, email string) (string, string, error) {
	_, domain, ok := strings.Cut(strings.ToLower(strings.TrimSpace(email)), "@")
	if !ok || domain == "" {
		return "", "", nil
	}
	query := `SELECT r.company_id, r.deal_id
               FROM scheduling_attendees a
               JOIN scheduling_requests r ON r.id = a.request_id
               WHERE a.side = 'external' AND lower(a.email) LIKE '%@' || $1
                 AND (r.company_id IS NOT NULL OR r.deal_id IS NOT NULL)
               ORDER BY r.last_action_at DESC
               LIMIT 1`
	var companyID, dealID sql.NullString
	err := d.db.QueryRowContext(ctx, query, domain).Scan(&companyID, &dealID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", "", nil
		}
		return "", "", fmt.Errorf("error looking up sender %s: %w", email, err)
	}
	return companyID.String, dealID.String, nil
}
