// internal/app/review_service.go
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"scheduling_autopilot/internal/domain/calendar"
	"scheduling_autopilot/internal/domain/scheduling"

	"github.com/sirupsen/logrus"
)

var ErrReviewerNotAuthorized = fmt.Errorf("performing user is not authorized as a reviewer")
var ErrNotAwaitingReview = fmt.Errorf("scheduling request is not awaiting review")
var ErrAlreadyClosed = fmt.Errorf("scheduling request is already closed")

// ReviewService lets the human reviewer act on requests the autopilot escalated.
type ReviewService struct {
	repo       scheduling.Repository
	calendar   calendar.Provider
	locks      *requestLocks
	adminID    int64
	stageLimit time.Duration
	now        func() time.Time
	logger     *logrus.Entry
}

// NewReviewService shares the engine's per-request locks so human and automatic
// transitions on one request never interleave in this process.
func NewReviewService(service *SchedulingService, calendar calendar.Provider, adminID int64) *ReviewService {
	return &ReviewService{
		repo:       service.repo,
		calendar:   calendar,
		locks:      service.locks,
		adminID:    adminID,
		stageLimit: service.policy.StageTimeout,
		now:        service.now,
		logger:     service.logger.WithField("component", "review"),
	}
}

// ListPending returns requests waiting for a human decision.
func (s *ReviewService) ListPending(ctx context.Context, performingAdminID int64, limit int) ([]*scheduling.Request, error) {
	if performingAdminID != s.adminID {
		return nil, ErrReviewerNotAuthorized
	}
	return s.repo.ListByStatus(ctx, []scheduling.Status{scheduling.StatusNeedsReview}, limit)
}

// Cancel closes a request on behalf of a human. The cancellation is committed first; a booked
// calendar event is deleted afterwards and a failed delete is logged as its own action.
func (s *ReviewService) Cancel(ctx context.Context, performingAdminID int64, requestID, reason string) (*scheduling.Request, error) {
	if performingAdminID != s.adminID {
		return nil, ErrReviewerNotAuthorized
	}
	unlock := s.locks.Lock(requestID)
	defer unlock()

	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !scheduling.CanTransition(req.Status, scheduling.StatusCancelled, scheduling.ActorHuman) {
		return req, ErrAlreadyClosed
	}

	next := req.Clone()
	next.CalendarEventID = sql.NullString{}
	next.MeetingLink = ""
	next.Status = scheduling.StatusCancelled
	next.LastActionAt = s.now()
	next.NextActionType = scheduling.NextActionNone
	next.NextActionAt = sql.NullTime{}

	if reason == "" {
		reason = "cancelled by reviewer"
	}
	action := scheduling.NewAction(req.ID, scheduling.ActionCancelled, scheduling.ActorHuman, reason)
	if _, err := s.repo.Commit(ctx, next, scheduling.Precondition{Status: req.Status, Version: req.Version}, []scheduling.Action{action}); err != nil {
		return nil, fmt.Errorf("failed to cancel request %s: %w", req.ID, err)
	}
	log := s.logger.WithFields(logrus.Fields{"request_id": req.ID, "from": req.Status})
	log.Info("Request cancelled by reviewer")

	if req.CalendarEventID.Valid {
		s.deleteEvent(ctx, next, req.CalendarEventID.String, log)
	}
	return next, nil
}

func (s *ReviewService) deleteEvent(ctx context.Context, req *scheduling.Request, eventID string, log *logrus.Entry) {
	stageCtx, cancel := context.WithTimeout(ctx, s.stageLimit)
	err := s.calendar.DeleteEvent(stageCtx, eventID)
	cancel()
	if err == nil {
		return
	}
	log = log.WithField("event_id", eventID)
	log.WithError(err).Error("Failed to delete calendar event of cancelled request")

	failed := scheduling.NewAction(req.ID, scheduling.ActionEventDeleteFailed, scheduling.ActorSystem,
		fmt.Sprintf("calendar event %s not deleted: %v", eventID, err))
	if _, cerr := s.repo.Commit(ctx, req, scheduling.Precondition{Status: req.Status, Version: req.Version}, []scheduling.Action{failed}); cerr != nil {
		log.WithError(cerr).Warn("Event deletion failure not recorded")
	}
}

// Resume hands a reviewed request back to the autopilot. A request with a chosen but unbooked
// time goes back to confirming and is booked on the next pass; anything else waits for the
// next reply in negotiating with a fresh round budget.
func (s *ReviewService) Resume(ctx context.Context, performingAdminID int64, requestID string) (*scheduling.Request, error) {
	if performingAdminID != s.adminID {
		return nil, ErrReviewerNotAuthorized
	}
	unlock := s.locks.Lock(requestID)
	defer unlock()

	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != scheduling.StatusNeedsReview {
		return req, ErrNotAwaitingReview
	}

	now := s.now()
	next := req.Clone()
	next.LastActionAt = now
	next.CounterRounds = 0
	var note string
	if req.SelectedTime.Valid && !req.CalendarEventID.Valid && req.SelectedTime.Time.After(now) {
		next.Status = scheduling.StatusConfirming
		next.BookingAttempts = 0
		next.NextActionType = scheduling.NextActionRetryBooking
		next.NextActionAt = sql.NullTime{Time: now, Valid: true}
		note = "resumed by reviewer: booking " + formatTime(req.SelectedTime.Time, req.Loc())
	} else {
		next.Status = scheduling.StatusNegotiating
		next.NextActionType = scheduling.NextActionAwaitReply
		next.NextActionAt = sql.NullTime{}
		note = "resumed by reviewer: awaiting reply"
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	// time_proposed marks the hand-back in the log
	action := scheduling.NewAction(req.ID, scheduling.ActionTimeProposed, scheduling.ActorHuman, note)
	if _, err := s.repo.Commit(ctx, next, scheduling.Precondition{Status: req.Status, Version: req.Version}, []scheduling.Action{action}); err != nil {
		if errors.Is(err, scheduling.ErrConcurrencyConflict) {
			return nil, ErrNotAwaitingReview
		}
		return nil, fmt.Errorf("failed to resume request %s: %w", req.ID, err)
	}
	s.logger.WithFields(logrus.Fields{"request_id": req.ID, "to": next.Status}).Info("Request resumed by reviewer")
	return next, nil
}
