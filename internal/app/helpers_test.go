package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"scheduling_autopilot/internal/domain/calendar"
	"scheduling_autopilot/internal/domain/intent"
	"scheduling_autopilot/internal/domain/scheduling"
	"scheduling_autopilot/internal/infra/memory"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Wednesday 1 July 2026, 09:00 UTC. Monday the 6th is the next Monday.
var testNow = time.Date(2026, time.July, 1, 9, 0, 0, 0, time.UTC)

func monday(hour, minute int) time.Time {
	return time.Date(2026, time.July, 6, hour, minute, 0, 0, time.UTC)
}

type mockOracle struct {
	mock.Mock
}

func (m *mockOracle) Classify(ctx context.Context, in intent.Input) (*intent.Result, error) {
	args := m.Called(ctx, in)
	res, _ := args.Get(0).(*intent.Result)
	return res, args.Error(1)
}

func bodyIs(body string) interface{} {
	return mock.MatchedBy(func(in intent.Input) bool { return in.Body == body })
}

type fakeCalendar struct {
	mu        sync.Mutex
	busy      []scheduling.TimeWindow
	createErr error
	deleteErr error
	availErr  error
	hang      bool
	events    map[string]*calendar.Event
	created   int
	deleted   []string
	checks    int
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{events: make(map[string]*calendar.Event)}
}

func (f *fakeCalendar) CreateEvent(ctx context.Context, in calendar.EventInput) (*calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	if ev, ok := f.events[in.IdempotencyKey]; ok {
		return ev, nil
	}
	f.created++
	ev := &calendar.Event{ID: fmt.Sprintf("evt-%d", f.created), JoinURL: fmt.Sprintf("https://meet.example.com/%d", f.created)}
	f.events[in.IdempotencyKey] = ev
	return ev, nil
}

func (f *fakeCalendar) DeleteEvent(ctx context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, eventID)
	return nil
}

func (f *fakeCalendar) CheckAvailability(ctx context.Context, organizer string, window scheduling.TimeWindow) (bool, error) {
	f.mu.Lock()
	f.checks++
	if f.hang {
		f.mu.Unlock()
		<-ctx.Done()
		return false, ctx.Err()
	}
	defer f.mu.Unlock()
	if f.availErr != nil {
		return false, f.availErr
	}
	for _, b := range f.busy {
		if b.Overlaps(window) {
			return false, nil
		}
	}
	return true, nil
}

func (f *fakeCalendar) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

type recordingNotifier struct {
	mu      sync.Mutex
	reasons map[string]string
}

func (n *recordingNotifier) NotifyNeedsReview(ctx context.Context, req *scheduling.Request, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.reasons == nil {
		n.reasons = make(map[string]string)
	}
	n.reasons[req.ID] = reason
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.reasons)
}

type testEnv struct {
	store     *memory.Store
	mailbox   *memory.Mailbox
	transport *memory.Transport
	calendar  *fakeCalendar
	oracle    *mockOracle
	notifier  *recordingNotifier
	deps      Deps
	service   *SchedulingService
	autopilot *Autopilot
}

func newTestEnv(t *testing.T, tweak ...func(p *scheduling.Policy)) *testEnv {
	t.Helper()
	policy := scheduling.DefaultPolicy()
	for _, fn := range tweak {
		fn(&policy)
	}
	require.NoError(t, policy.Validate())

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	now := func() time.Time { return testNow }
	store := memory.NewStore(now)
	env := &testEnv{
		store:     store,
		mailbox:   memory.NewMailbox(store),
		transport: memory.NewTransport(),
		calendar:  newFakeCalendar(),
		oracle:    &mockOracle{},
		notifier:  &recordingNotifier{},
	}
	env.deps = Deps{
		Repo:      store,
		Mailbox:   env.mailbox,
		Transport: env.transport,
		Calendar:  env.calendar,
		Oracle:    env.oracle,
		Notifier:  env.notifier,
		Policy:    policy,
		Now:       now,
		Logger:    logrus.NewEntry(logger),
	}
	env.service = NewSchedulingService(env.deps)
	env.autopilot = NewAutopilot(env.service, env.deps)
	return env
}

// newRequest builds an awaiting_response request offering Monday 10-11 for a 30 minute call.
func newRequest(id string) *scheduling.Request {
	return &scheduling.Request{
		ID:              id,
		Title:           "Intro call with Acme",
		Status:          scheduling.StatusAwaitingResponse,
		Duration:        30 * time.Minute,
		ProposedWindows: []scheduling.TimeWindow{{Start: monday(10, 0), End: monday(11, 0)}},
		Timezone:        "UTC",
		Platform:        "zoom",
		ThreadID:        sql.NullString{String: "conv-" + id, Valid: true},
		LastActionAt:    testNow.Add(-24 * time.Hour),
		Attendees: []scheduling.Attendee{
			{Side: scheduling.SideInternal, Email: "olga@ourco.example", Name: "Olga Berg", IsOrganizer: true},
			{Side: scheduling.SideExternal, Email: "jane@acme.example", Name: "Jane Doe", IsPrimaryContact: true},
		},
	}
}

func (e *testEnv) create(t *testing.T, req *scheduling.Request) *scheduling.Request {
	t.Helper()
	require.NoError(t, e.store.Create(context.Background(), req))
	return req
}

func (e *testEnv) get(t *testing.T, id string) *scheduling.Request {
	t.Helper()
	req, err := e.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return req
}

func (e *testEnv) actionTypes(t *testing.T, id string) []scheduling.ActionType {
	t.Helper()
	actions, err := e.store.ListActions(context.Background(), id)
	require.NoError(t, err)
	types := make([]scheduling.ActionType, 0, len(actions))
	for _, a := range actions {
		types = append(types, a.Type)
	}
	return types
}

func replyTo(req *scheduling.Request, id, body string) *scheduling.IncomingEmail {
	return &scheduling.IncomingEmail{
		ID:             id,
		Subject:        "Re: " + req.Title,
		Body:           body,
		SenderAddress:  "jane@acme.example",
		SenderName:     "Jane Doe",
		ReceivedAt:     testNow,
		ConversationID: req.ThreadID.String,
	}
}

func result(in intent.Intent, confidence float64, times ...time.Time) *intent.Result {
	return &intent.Result{Intent: in, Confidence: confidence, ExtractedTimes: times, Reasoning: "test"}
}
