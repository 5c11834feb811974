package memory

import (
	"context"
	"testing"
	"time"

	"scheduling_autopilot/internal/domain/scheduling"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func email(id string, at time.Time) *scheduling.IncomingEmail {
	return &scheduling.IncomingEmail{ID: id, SenderAddress: "jane@acme.example", ReceivedAt: at}
}

func TestMailbox_ListMessages(t *testing.T) {
	s := NewStore(clock)
	m := NewMailbox(s)
	ctx := context.Background()

	created, err := m.Save(ctx, email("late", now))
	require.NoError(t, err)
	assert.True(t, created)
	created, err = m.Save(ctx, email("late", now))
	require.NoError(t, err)
	assert.False(t, created, "redelivery is not a new message")

	_, _ = m.Save(ctx, email("early", now.Add(-time.Hour)))
	_, _ = m.Save(ctx, email("ancient", now.Add(-60*24*time.Hour)))
	_, _ = m.Save(ctx, email("acked", now.Add(-time.Minute)))
	_, _ = m.Save(ctx, email("used", now.Add(-2*time.Minute)))
	require.NoError(t, m.Acknowledge(ctx, "acked"))

	req := request("r1")
	require.NoError(t, s.Create(ctx, req))
	_, err = s.Commit(ctx, req.Clone(), precondition(req), []scheduling.Action{
		scheduling.NewAction("r1", scheduling.ActionEmailReceived, scheduling.ActorExternal, "").WithSource("used"),
	})
	require.NoError(t, err)

	msgs, err := m.ListMessages(ctx, now.Add(-24*time.Hour), 0)
	require.NoError(t, err)
	var ids []string
	for _, msg := range msgs {
		ids = append(ids, msg.ID)
	}
	assert.Equal(t, []string{"early", "late"}, ids)

	limited, err := m.ListMessages(ctx, now.Add(-24*time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "early", limited[0].ID)

	assert.True(t, m.Acknowledged("acked"))
	assert.Error(t, m.Acknowledge(ctx, "missing"))
}

func TestTransport_RecordsAndFails(t *testing.T) {
	tr := NewTransport()
	require.NoError(t, tr.SendEmail(context.Background(), []string{"jane@acme.example"}, "Hi", "body"))
	require.NoError(t, tr.ReplyToMessage(context.Background(), "conv-1", "reply"))

	sent := tr.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "Hi", sent[0].Subject)
	assert.Equal(t, "conv-1", sent[1].ThreadID)

	tr.Err = assert.AnError
	assert.ErrorIs(t, tr.SendEmail(context.Background(), nil, "Hi", "body"), assert.AnError)
	assert.Len(t, tr.Sent(), 2)
}
