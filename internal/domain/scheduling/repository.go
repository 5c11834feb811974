// internal/domain/scheduling/repository.go
package scheduling

import (
	"context"
	"time"
)

// Precondition is the pre-state a write expects to still find in the store.
type Precondition struct {
	Status  Status
	Version int
}

// Repository persists requests, attendees and the action log.
type Repository interface {
	Create(ctx context.Context, req *Request) error
	GetByID(ctx context.Context, id string) (*Request, error)
	ListByStatus(ctx context.Context, statuses []Status, limit int) ([]*Request, error)
	// ListDue returns requests in status whose next action of the given type is due at or before now.
	ListDue(ctx context.Context, status Status, actionType NextActionType, now time.Time, limit int) ([]*Request, error)
	// ListStale returns requests in status whose last action is older than before.
	ListStale(ctx context.Context, status Status, before time.Time, limit int) ([]*Request, error)

	// Commit writes next and appends actions atomically, only if the stored request still
	// matches expect. A mismatch returns ErrConcurrencyConflict. On success next.Version is
	// bumped and the assigned action sequences are returned in order.
	Commit(ctx context.Context, next *Request, expect Precondition, actions []Action) ([]Action, error)

	ListActions(ctx context.Context, requestID string) ([]Action, error)
	// IsMessageProcessed reports whether any action references the message id.
	IsMessageProcessed(ctx context.Context, messageID string) (bool, error)
	// RecordMessageFailure counts a failed processing attempt and returns the total so far.
	RecordMessageFailure(ctx context.Context, messageID, requestID, reason string) (int, error)
}
