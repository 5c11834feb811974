// internal/infra/memory/transport.go
package memory

import (
	"context"
	"sync"
)

// SentEmail is one message handed to the Transport.
type SentEmail struct {
	To       []string
	ThreadID string
	Subject  string
	Body     string
}

// Transport records outbound mail. Set Err to make every send fail.
type Transport struct {
	mu   sync.Mutex
	sent []SentEmail
	Err  error
}

func NewTransport() *Transport {
	return &Transport{}
}

func (t *Transport) SendEmail(ctx context.Context, to []string, subject, body string) error {
	return t.record(ctx, SentEmail{To: append([]string(nil), to...), Subject: subject, Body: body})
}

func (t *Transport) ReplyToMessage(ctx context.Context, threadID, body string) error {
	return t.record(ctx, SentEmail{ThreadID: threadID, Body: body})
}

func (t *Transport) record(ctx context.Context, e SentEmail) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return t.Err
	}
	t.sent = append(t.sent, e)
	return nil
}

// Sent returns a copy of everything sent so far.
func (t *Transport) Sent() []SentEmail {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]SentEmail(nil), t.sent...)
}
