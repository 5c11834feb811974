package database

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"scheduling_autopilot/internal/domain/scheduling"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDB connects to TEST_DATABASE_URL. Tests using it are skipped when it is unset.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}
	db, err := NewPostgresConnection(dsn)
	require.NoError(t, err)
	require.NoError(t, EnsureSchema(context.Background(), db))
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleRequest() *scheduling.Request {
	start := time.Now().Add(72 * time.Hour).Truncate(time.Hour).UTC()
	return &scheduling.Request{
		Title:           "Intro call",
		Status:          scheduling.StatusAwaitingResponse,
		Duration:        30 * time.Minute,
		ProposedWindows: []scheduling.TimeWindow{{Start: start, End: start.Add(time.Hour)}},
		Timezone:        "UTC",
		Platform:        "zoom",
		ThreadID:        sql.NullString{String: "conv-" + uuid.NewString(), Valid: true},
		Attendees: []scheduling.Attendee{
			{Side: scheduling.SideInternal, Email: "olga@ourco.example", IsOrganizer: true},
			{Side: scheduling.SideExternal, Email: "jane@acme.example", IsPrimaryContact: true},
		},
	}
}

func TestPostgresRequestRepository_CommitGuards(t *testing.T) {
	db := testDB(t)
	repo := NewPostgresRequestRepository(db)
	ctx := context.Background()

	req := sampleRequest()
	require.NoError(t, repo.Create(ctx, req))

	got, err := repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.Title, got.Title)
	assert.Len(t, got.Attendees, 2)
	require.Len(t, got.ProposedWindows, 1)
	assert.True(t, got.ProposedWindows[0].Start.Equal(req.ProposedWindows[0].Start))

	msgID := "msg-" + uuid.NewString()
	next := got.Clone()
	next.Status = scheduling.StatusNegotiating
	next.CounterRounds = 1
	committed, err := repo.Commit(ctx, next, scheduling.Precondition{Status: got.Status, Version: got.Version}, []scheduling.Action{
		scheduling.NewAction(req.ID, scheduling.ActionEmailReceived, scheduling.ActorExternal, "").WithSource(msgID),
		scheduling.NewAction(req.ID, scheduling.ActionCounterProposed, scheduling.ActorExternal, "").WithSource(msgID),
	})
	require.NoError(t, err)
	require.Len(t, committed, 2)
	assert.Equal(t, int64(2), committed[1].Sequence)
	assert.Equal(t, got.Version+1, next.Version)

	processed, err := repo.IsMessageProcessed(ctx, msgID)
	require.NoError(t, err)
	assert.True(t, processed)

	// stale precondition
	_, err = repo.Commit(ctx, got.Clone(), scheduling.Precondition{Status: got.Status, Version: got.Version}, nil)
	assert.ErrorIs(t, err, scheduling.ErrConcurrencyConflict)

	// same message, same action type
	again := next.Clone()
	_, err = repo.Commit(ctx, again, scheduling.Precondition{Status: next.Status, Version: next.Version}, []scheduling.Action{
		scheduling.NewAction(req.ID, scheduling.ActionEmailReceived, scheduling.ActorExternal, "").WithSource(msgID),
	})
	assert.ErrorIs(t, err, scheduling.ErrDuplicateMessage)

	actions, err := repo.ListActions(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, actions, 2)
}

func TestPostgresRequestRepository_EventIDWrittenOnce(t *testing.T) {
	db := testDB(t)
	repo := NewPostgresRequestRepository(db)
	ctx := context.Background()

	req := sampleRequest()
	req.Status = scheduling.StatusConfirmed
	req.SelectedTime = sql.NullTime{Time: req.ProposedWindows[0].Start, Valid: true}
	req.CalendarEventID = sql.NullString{String: uuid.NewString(), Valid: true}
	require.NoError(t, repo.Create(ctx, req))

	replaced := req.Clone()
	replaced.CalendarEventID = sql.NullString{String: uuid.NewString(), Valid: true}
	_, err := repo.Commit(ctx, replaced, scheduling.Precondition{Status: req.Status, Version: req.Version}, nil)
	assert.ErrorIs(t, err, scheduling.ErrConcurrencyConflict)

	cancelled := req.Clone()
	cancelled.Status = scheduling.StatusCancelled
	cancelled.CalendarEventID = sql.NullString{}
	_, err = repo.Commit(ctx, cancelled, scheduling.Precondition{Status: req.Status, Version: req.Version}, nil)
	assert.NoError(t, err)
}

func TestPostgresInbox(t *testing.T) {
	db := testDB(t)
	inbox := NewPostgresInbox(db)
	ctx := context.Background()

	msg := &scheduling.IncomingEmail{
		ID:            "msg-" + uuid.NewString(),
		Subject:       "Re: Intro call",
		Body:          "works for me",
		SenderAddress: "jane@acme.example",
		ReceivedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
	created, err := inbox.Save(ctx, msg)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = inbox.Save(ctx, msg)
	require.NoError(t, err)
	assert.False(t, created)

	listed := func() bool {
		msgs, err := inbox.ListMessages(ctx, msg.ReceivedAt.Add(-time.Second), 0)
		require.NoError(t, err)
		for _, m := range msgs {
			if m.ID == msg.ID {
				return true
			}
		}
		return false
	}
	assert.True(t, listed())
	require.NoError(t, inbox.Acknowledge(ctx, msg.ID))
	assert.False(t, listed())
}

func TestPostgresCalendarStore_IdempotentInsertAndRestore(t *testing.T) {
	db := testDB(t)
	store := NewPostgresCalendarStore(db)
	ctx := context.Background()

	start := time.Now().Add(48 * time.Hour).Truncate(time.Hour).UTC()
	ev := &CalendarEvent{
		ID:             uuid.NewString(),
		IdempotencyKey: "key-" + uuid.NewString(),
		OrganizerEmail: "olga-" + uuid.NewString() + "@ourco.example",
		Title:          "Intro call",
		StartsAt:       start,
		EndsAt:         start.Add(30 * time.Minute),
		Timezone:       "UTC",
		Attendees:      []string{"jane@acme.example"},
		ICS:            "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n",
	}
	first, err := store.Insert(ctx, ev)
	require.NoError(t, err)

	dup := *ev
	dup.ID = uuid.NewString()
	second, err := store.Insert(ctx, &dup)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	busy, err := store.ListBusy(ctx, ev.OrganizerEmail, start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, busy, 1)

	require.NoError(t, store.Cancel(ctx, first.ID))
	busy, err = store.ListBusy(ctx, ev.OrganizerEmail, start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, busy)

	require.NoError(t, store.Restore(ctx, first.ID))
	got, err := store.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, got.CancelledAt.Valid)
}
