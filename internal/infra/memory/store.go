// internal/infra/memory/store.go
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"scheduling_autopilot/internal/domain/scheduling"

	"github.com/google/uuid"
)

// Store is an in-process scheduling.Repository with the same guards as the Postgres one.
type Store struct {
	mu       sync.Mutex
	requests map[string]*scheduling.Request
	actions  map[string][]scheduling.Action
	failures map[string]int
	now      func() time.Time

	// CommitHook runs inside Commit before the guard is checked. Tests use it to race writes.
	CommitHook func(next *scheduling.Request)
}

func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		requests: make(map[string]*scheduling.Request),
		actions:  make(map[string][]scheduling.Action),
		failures: make(map[string]int),
		now:      now,
	}
}

func (s *Store) Create(ctx context.Context, req *scheduling.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if _, ok := s.requests[req.ID]; ok {
		return fmt.Errorf("request %s already exists", req.ID)
	}
	if req.Version == 0 {
		req.Version = 1
	}
	if req.LastActionAt.IsZero() {
		req.LastActionAt = s.now()
	}
	req.CreatedAt = s.now()
	req.UpdatedAt = req.CreatedAt
	for i := range req.Attendees {
		req.Attendees[i].RequestID = req.ID
	}
	s.requests[req.ID] = req.Clone()
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*scheduling.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, scheduling.ErrRequestNotFound
	}
	return req.Clone(), nil
}

func (s *Store) ListByStatus(ctx context.Context, statuses []scheduling.Status, limit int) ([]*scheduling.Request, error) {
	want := make(map[scheduling.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	out := s.filter(func(r *scheduling.Request) bool { return want[r.Status] })
	sort.Slice(out, func(i, j int) bool { return out[i].LastActionAt.After(out[j].LastActionAt) })
	return truncate(out, limit), nil
}

func (s *Store) ListDue(ctx context.Context, status scheduling.Status, actionType scheduling.NextActionType, now time.Time, limit int) ([]*scheduling.Request, error) {
	out := s.filter(func(r *scheduling.Request) bool {
		return r.Status == status && r.NextActionType == actionType && r.NextActionAt.Valid && !r.NextActionAt.Time.After(now)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].NextActionAt.Time.Before(out[j].NextActionAt.Time) })
	return truncate(out, limit), nil
}

func (s *Store) ListStale(ctx context.Context, status scheduling.Status, before time.Time, limit int) ([]*scheduling.Request, error) {
	out := s.filter(func(r *scheduling.Request) bool {
		return r.Status == status && r.LastActionAt.Before(before)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].LastActionAt.Before(out[j].LastActionAt) })
	return truncate(out, limit), nil
}

func (s *Store) Commit(ctx context.Context, next *scheduling.Request, expect scheduling.Precondition, actions []scheduling.Action) ([]scheduling.Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.CommitHook != nil {
		s.CommitHook(next)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.requests[next.ID]
	if !ok || cur.Status != expect.Status || cur.Version != expect.Version || !eventIDAllowed(cur, next) {
		return nil, fmt.Errorf("%w: request %s expected %s v%d", scheduling.ErrConcurrencyConflict, next.ID, expect.Status, expect.Version)
	}
	for _, a := range actions {
		if a.SourceMessageID.Valid && s.sourceUsed(a.SourceMessageID.String, a.Type) {
			return nil, fmt.Errorf("%w: %s for message %s", scheduling.ErrDuplicateMessage, a.Type, a.SourceMessageID.String)
		}
	}

	log := s.actions[next.ID]
	seq := int64(len(log))
	committed := make([]scheduling.Action, 0, len(actions))
	for _, a := range actions {
		seq++
		a.ID = uuid.NewString()
		a.RequestID = next.ID
		a.Sequence = seq
		a.CreatedAt = s.now()
		committed = append(committed, a)
	}
	s.actions[next.ID] = append(log, committed...)

	stored := next.Clone()
	stored.Attendees = cur.Attendees
	stored.CreatedAt = cur.CreatedAt
	stored.Version = cur.Version + 1
	stored.UpdatedAt = s.now()
	s.requests[next.ID] = stored
	next.Version = stored.Version
	next.UpdatedAt = stored.UpdatedAt
	return committed, nil
}

func (s *Store) ListActions(ctx context.Context, requestID string) ([]scheduling.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scheduling.Action(nil), s.actions[requestID]...), nil
}

func (s *Store) IsMessageProcessed(ctx context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, log := range s.actions {
		for _, a := range log {
			if a.SourceMessageID.Valid && a.SourceMessageID.String == messageID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *Store) RecordMessageFailure(ctx context.Context, messageID, requestID, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[messageID]++
	return s.failures[messageID], nil
}

// Put overwrites a stored request without any guard. Tests use it to simulate other writers.
func (s *Store) Put(req *scheduling.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := req.Clone()
	if cur, ok := s.requests[req.ID]; ok {
		stored.Version = cur.Version + 1
	}
	s.requests[req.ID] = stored
}

func (s *Store) sourceUsed(messageID string, t scheduling.ActionType) bool {
	for _, log := range s.actions {
		for _, a := range log {
			if a.SourceMessageID.Valid && a.SourceMessageID.String == messageID && a.Type == t {
				return true
			}
		}
	}
	return false
}

func (s *Store) filter(keep func(r *scheduling.Request) bool) []*scheduling.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*scheduling.Request, 0)
	for _, r := range s.requests {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	return out
}

// eventIDAllowed mirrors the store guard: an event id is written once and only
// cancellation may replace or clear it.
func eventIDAllowed(cur, next *scheduling.Request) bool {
	if !cur.CalendarEventID.Valid || next.Status == scheduling.StatusCancelled {
		return true
	}
	return next.CalendarEventID == sql.NullString{String: cur.CalendarEventID.String, Valid: true}
}

func truncate(reqs []*scheduling.Request, limit int) []*scheduling.Request {
	if limit > 0 && len(reqs) > limit {
		return reqs[:limit]
	}
	return reqs
}
