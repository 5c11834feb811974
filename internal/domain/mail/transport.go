// internal/domain/mail/transport.go
package mail

import (
	"context"
	"time"

	"scheduling_autopilot/internal/domain/scheduling"
)

// Transport sends outbound mail. ReplyToMessage keeps the thread intact.
type Transport interface {
	SendEmail(ctx context.Context, to []string, subject, body string) error
	ReplyToMessage(ctx context.Context, threadID, body string) error
}

// Mailbox lists unconsumed inbound messages received since a point in time, oldest first.
// A message is consumed once an action references it or it has been acknowledged.
type Mailbox interface {
	ListMessages(ctx context.Context, since time.Time, limit int) ([]*scheduling.IncomingEmail, error)
	Acknowledge(ctx context.Context, messageID string) error
}
