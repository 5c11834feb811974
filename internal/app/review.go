// internal/app/review.go
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"scheduling_autopilot/internal/domain/scheduling"

	"github.com/sirupsen/logrus"
)

// ReviewNotifier tells humans that a request needs their attention.
type ReviewNotifier interface {
	NotifyNeedsReview(ctx context.Context, req *scheduling.Request, reason string) error
}

// reviewFlagger moves requests to needs_review and notifies reviewers.
type reviewFlagger struct {
	repo     scheduling.Repository
	notifier ReviewNotifier
	now      func() time.Time
	logger   *logrus.Entry
}

// flag commits req -> needs_review, appending preceding actions and then exactly one
// needs_review action referencing messageID (if any).
func (f *reviewFlagger) flag(ctx context.Context, req *scheduling.Request, reason, messageID string, preceding ...scheduling.Action) (*scheduling.Request, []scheduling.Action, error) {
	if !scheduling.CanTransition(req.Status, scheduling.StatusNeedsReview, scheduling.ActorSystem) {
		return nil, nil, fmt.Errorf("%w: %s -> %s", scheduling.ErrInvalidTransition, req.Status, scheduling.StatusNeedsReview)
	}
	next := req.Clone()
	next.Status = scheduling.StatusNeedsReview
	next.LastActionAt = f.now()
	next.NextActionType = scheduling.NextActionNone
	next.NextActionAt = sql.NullTime{}

	actions := append([]scheduling.Action{}, preceding...)
	actions = append(actions, scheduling.NewAction(req.ID, scheduling.ActionNeedsReview, scheduling.ActorSystem, reason).WithSource(messageID))
	committed, err := f.repo.Commit(ctx, next, scheduling.Precondition{Status: req.Status, Version: req.Version}, actions)
	if err != nil {
		return nil, nil, err
	}
	f.notify(ctx, next, reason)
	return next, committed, nil
}

// notify is best effort: the flag is already durable in the action log.
func (f *reviewFlagger) notify(ctx context.Context, req *scheduling.Request, reason string) {
	log := f.logger.WithFields(logrus.Fields{"request_id": req.ID, "reason": reason})
	log.Warn("Scheduling request flagged for review")
	if f.notifier == nil {
		return
	}
	if err := f.notifier.NotifyNeedsReview(ctx, req, reason); err != nil {
		log.WithError(err).Error("Failed to notify reviewers")
	}
}
