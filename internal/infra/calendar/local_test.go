package calendar

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"scheduling_autopilot/internal/domain/scheduling"
	"scheduling_autopilot/internal/infra/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEventStore struct {
	mu    sync.Mutex
	byKey map[string]*database.CalendarEvent
	byID  map[string]*database.CalendarEvent
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{byKey: map[string]*database.CalendarEvent{}, byID: map[string]*database.CalendarEvent{}}
}

func (s *fakeEventStore) Insert(ctx context.Context, ev *database.CalendarEvent) (*database.CalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byKey[ev.IdempotencyKey]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *ev
	s.byKey[ev.IdempotencyKey] = &cp
	s.byID[ev.ID] = &cp
	return ev, nil
}

func (s *fakeEventStore) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.byID[id]
	if !ok {
		return database.ErrCalendarEventNotFound
	}
	ev.CancelledAt = sql.NullTime{Time: time.Now(), Valid: true}
	return nil
}

func (s *fakeEventStore) Restore(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.byID[id]
	if !ok {
		return database.ErrCalendarEventNotFound
	}
	ev.CancelledAt = sql.NullTime{}
	return nil
}

func (s *fakeEventStore) ListBusy(ctx context.Context, organizer string, from, to time.Time) ([]*database.CalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*database.CalendarEvent
	for _, ev := range s.byID {
		if ev.OrganizerEmail == organizer && !ev.CancelledAt.Valid && ev.StartsAt.Before(to) && from.Before(ev.EndsAt) {
			out = append(out, ev)
		}
	}
	return out, nil
}

type staticFreeBusy struct {
	free  bool
	calls int
}

func (f *staticFreeBusy) IsFree(ctx context.Context, organizer string, window scheduling.TimeWindow) (bool, error) {
	f.calls++
	return f.free, nil
}

func TestLocalCalendar_CreateEventIsIdempotent(t *testing.T) {
	store := newFakeEventStore()
	cal := NewLocalCalendar(store, &staticFreeBusy{free: true}, "https://meet.example.com/{id}", quietLogger())

	first, err := cal.CreateEvent(context.Background(), eventInput())
	require.NoError(t, err)
	assert.Equal(t, "https://meet.example.com/"+first.ID, first.JoinURL)

	again, err := cal.CreateEvent(context.Background(), eventInput())
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Len(t, store.byID, 1)
	assert.Contains(t, store.byID[first.ID].ICS, "UID:"+first.ID)
}

func TestLocalCalendar_RetryRestoresCancelledEvent(t *testing.T) {
	store := newFakeEventStore()
	cal := NewLocalCalendar(store, &staticFreeBusy{free: true}, "", quietLogger())

	ev, err := cal.CreateEvent(context.Background(), eventInput())
	require.NoError(t, err)
	require.NoError(t, cal.DeleteEvent(context.Background(), ev.ID))
	assert.True(t, store.byID[ev.ID].CancelledAt.Valid)

	again, err := cal.CreateEvent(context.Background(), eventInput())
	require.NoError(t, err)
	assert.Equal(t, ev.ID, again.ID)
	assert.False(t, store.byID[ev.ID].CancelledAt.Valid)
}

func TestLocalCalendar_Validation(t *testing.T) {
	cal := NewLocalCalendar(newFakeEventStore(), &staticFreeBusy{free: true}, "", quietLogger())

	in := eventInput()
	in.IdempotencyKey = ""
	_, err := cal.CreateEvent(context.Background(), in)
	assert.Error(t, err)

	in = eventInput()
	in.Attendees[0].IsOrganizer = false
	_, err = cal.CreateEvent(context.Background(), in)
	assert.Error(t, err)
}

func TestLocalCalendar_InPersonHasNoLink(t *testing.T) {
	cal := NewLocalCalendar(newFakeEventStore(), &staticFreeBusy{free: true}, "https://meet.example.com/{id}", quietLogger())
	in := eventInput()
	in.Platform = "in_person"
	ev, err := cal.CreateEvent(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, ev.JoinURL)
}

func TestLocalCalendar_DeleteUnknownIsNoop(t *testing.T) {
	cal := NewLocalCalendar(newFakeEventStore(), &staticFreeBusy{free: true}, "", quietLogger())
	assert.NoError(t, cal.DeleteEvent(context.Background(), "missing"))
}

func TestLocalCalendar_CheckAvailability(t *testing.T) {
	store := newFakeEventStore()
	feed := &staticFreeBusy{free: true}
	cal := NewLocalCalendar(store, feed, "", quietLogger())

	_, err := cal.CreateEvent(context.Background(), eventInput())
	require.NoError(t, err)

	booked := eventInput().Window
	free, err := cal.CheckAvailability(context.Background(), "olga@ourco.example", booked)
	require.NoError(t, err)
	assert.False(t, free)
	assert.Zero(t, feed.calls, "local bookings short-circuit the feed")

	later := window(booked.End, time.Hour)
	free, err = cal.CheckAvailability(context.Background(), "olga@ourco.example", later)
	require.NoError(t, err)
	assert.True(t, free)
	assert.Equal(t, 1, feed.calls)
}
