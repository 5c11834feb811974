// internal/infra/memory/mailbox.go
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"scheduling_autopilot/internal/domain/scheduling"
)

// Mailbox is an in-process mail.Mailbox. A message counts as consumed once the
// store has an action referencing it or it was acknowledged.
type Mailbox struct {
	mu       sync.Mutex
	messages map[string]*scheduling.IncomingEmail
	acked    map[string]bool
	store    *Store
}

func NewMailbox(store *Store) *Mailbox {
	return &Mailbox{messages: make(map[string]*scheduling.IncomingEmail), acked: make(map[string]bool), store: store}
}

// Save stores a message, reporting false when the id is already known.
func (m *Mailbox) Save(ctx context.Context, email *scheduling.IncomingEmail) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[email.ID]; ok {
		return false, nil
	}
	cp := *email
	m.messages[email.ID] = &cp
	return true, nil
}

func (m *Mailbox) ListMessages(ctx context.Context, since time.Time, limit int) ([]*scheduling.IncomingEmail, error) {
	m.mu.Lock()
	candidates := make([]*scheduling.IncomingEmail, 0, len(m.messages))
	for id, msg := range m.messages {
		if !m.acked[id] && !msg.ReceivedAt.Before(since) {
			cp := *msg
			candidates = append(candidates, &cp)
		}
	}
	m.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ReceivedAt.Before(candidates[j].ReceivedAt) })
	out := make([]*scheduling.IncomingEmail, 0, len(candidates))
	for _, msg := range candidates {
		if m.store != nil {
			used, err := m.store.IsMessageProcessed(ctx, msg.ID)
			if err != nil {
				return nil, err
			}
			if used {
				continue
			}
		}
		out = append(out, msg)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Mailbox) Acknowledge(ctx context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[messageID]; !ok {
		return fmt.Errorf("unknown message %s", messageID)
	}
	m.acked[messageID] = true
	return nil
}

// Acknowledged reports whether Acknowledge was called for the message.
func (m *Mailbox) Acknowledged(messageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acked[messageID]
}
