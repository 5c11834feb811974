// internal/app/engine.go
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"scheduling_autopilot/internal/domain/calendar"
	"scheduling_autopilot/internal/domain/intent"
	"scheduling_autopilot/internal/domain/mail"
	"scheduling_autopilot/internal/domain/scheduling"

	"github.com/sirupsen/logrus"
)

var ErrInvalidMessage = fmt.Errorf("incoming message is missing required fields")

// Deps bundles the collaborators of the scheduling engine.
type Deps struct {
	Repo      scheduling.Repository
	Mailbox   mail.Mailbox
	Transport mail.Transport
	Calendar  calendar.Provider
	Oracle    intent.Oracle
	Directory ContactDirectory // optional
	Notifier  ReviewNotifier   // optional
	Policy    scheduling.Policy
	Now       func() time.Time // defaults to time.Now
	Logger    *logrus.Entry
}

// Outcome reports what processing one inbound message did.
type Outcome struct {
	RequestID       string            `json:"requestId,omitempty"`
	MessageID       string            `json:"messageId"`
	Matched         bool              `json:"matched"`
	MatchSignal     string            `json:"matchSignal,omitempty"`
	Duplicate       bool              `json:"duplicate,omitempty"`
	Conflict        bool              `json:"conflict,omitempty"`
	Decision        DecisionKind      `json:"decision,omitempty"`
	Status          scheduling.Status `json:"status,omitempty"`
	ActionsExecuted int               `json:"actionsExecuted"`
	Flagged         bool              `json:"flagged"`
	DryRun          bool              `json:"dryRun,omitempty"`
}

// SchedulingService is the entry point for inbound replies and scheduled follow-ups.
// Work on one request is serialized in-process; the store's version guard covers
// other processes.
type SchedulingService struct {
	repo       scheduling.Repository
	matcher    *Matcher
	classifier *IntentClassifier
	machine    *NegotiationMachine
	booking    *BookingExecutor
	flagger    *reviewFlagger
	locks      *requestLocks
	policy     scheduling.Policy
	now        func() time.Time
	logger     *logrus.Entry
}

func NewSchedulingService(deps Deps) *SchedulingService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	flagger := &reviewFlagger{repo: deps.Repo, notifier: deps.Notifier, now: now, logger: logger}
	booking := &BookingExecutor{
		repo:      deps.Repo,
		calendar:  deps.Calendar,
		transport: deps.Transport,
		flagger:   flagger,
		policy:    deps.Policy,
		now:       now,
		logger:    logger.WithField("component", "booking"),
	}
	machine := &NegotiationMachine{
		repo:         deps.Repo,
		calendar:     deps.Calendar,
		transport:    deps.Transport,
		booking:      booking,
		flagger:      flagger,
		alternatives: &alternativeFinder{calendar: deps.Calendar, policy: deps.Policy, now: now},
		policy:       deps.Policy,
		now:          now,
		logger:       logger.WithField("component", "negotiation"),
	}
	return &SchedulingService{
		repo:       deps.Repo,
		matcher:    NewMatcher(deps.Directory, deps.Policy.MatchExpiryWindow, logger.WithField("component", "matcher")),
		classifier: NewIntentClassifier(deps.Oracle, deps.Policy.StageTimeout, logger.WithField("component", "classifier")),
		machine:    machine,
		booking:    booking,
		flagger:    flagger,
		locks:      newRequestLocks(),
		policy:     deps.Policy,
		now:        now,
		logger:     logger,
	}
}

// ProcessMessage matches, classifies and acts on one inbound email.
// Unmatched and already-processed messages are not errors.
func (s *SchedulingService) ProcessMessage(ctx context.Context, email *scheduling.IncomingEmail) (*Outcome, error) {
	return s.processMessage(ctx, email, false)
}

func (s *SchedulingService) processMessage(ctx context.Context, email *scheduling.IncomingEmail, dryRun bool) (*Outcome, error) {
	if email == nil || email.ID == "" {
		return nil, ErrInvalidMessage
	}
	processed, err := s.repo.IsMessageProcessed(ctx, email.ID)
	if err != nil {
		return nil, fmt.Errorf("checking message %s: %w", email.ID, err)
	}
	if processed {
		return &Outcome{MessageID: email.ID, Duplicate: true, DryRun: dryRun}, nil
	}

	open, err := s.repo.ListByStatus(ctx, scheduling.OpenStatuses, 0)
	if err != nil {
		return nil, fmt.Errorf("listing open requests: %w", err)
	}
	match, err := s.matcher.Match(ctx, email, open)
	if errors.Is(err, scheduling.ErrMatchNotFound) {
		s.logger.WithFields(logrus.Fields{"message_id": email.ID, "sender": email.SenderAddress}).Info("Message matched no open request")
		return &Outcome{MessageID: email.ID, DryRun: dryRun}, nil
	}
	if err != nil {
		return nil, err
	}

	out, err := s.processMatched(ctx, match.Request.ID, email, dryRun)
	if out != nil {
		out.MatchSignal = match.Signal
	}
	return out, err
}

// processMatched runs classification and the state machine for a message already
// attributed to requestID.
func (s *SchedulingService) processMatched(ctx context.Context, requestID string, email *scheduling.IncomingEmail, dryRun bool) (*Outcome, error) {
	unlock := s.locks.Lock(requestID)
	defer unlock()

	processed, err := s.repo.IsMessageProcessed(ctx, email.ID)
	if err != nil {
		return nil, fmt.Errorf("checking message %s: %w", email.ID, err)
	}
	if processed {
		return &Outcome{RequestID: requestID, MessageID: email.ID, Matched: true, Duplicate: true, DryRun: dryRun}, nil
	}

	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.Status.IsOpen() {
		return s.conflict(req, email, dryRun), nil
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	cls, err := s.classifier.Classify(ctx, req, email)
	if err != nil {
		return s.externalFailure(ctx, req, email, err, dryRun)
	}
	d, err := s.machine.Decide(ctx, req, email, cls)
	if err != nil {
		return s.externalFailure(ctx, req, email, err, dryRun)
	}
	return s.apply(ctx, req, email, d, dryRun)
}

func (s *SchedulingService) apply(ctx context.Context, req *scheduling.Request, email *scheduling.IncomingEmail, d *Decision, dryRun bool) (*Outcome, error) {
	out, err := s.machine.Apply(ctx, req, email, d, dryRun)
	switch {
	case errors.Is(err, scheduling.ErrConcurrencyConflict):
		if out == nil {
			return s.conflict(req, email, dryRun), nil
		}
		// committed, but the request moved on before booking
		out.Conflict = true
		return out, nil
	case errors.Is(err, scheduling.ErrDuplicateMessage):
		return &Outcome{RequestID: req.ID, MessageID: email.ID, Matched: true, Duplicate: true}, nil
	}
	return out, err
}

func (s *SchedulingService) conflict(req *scheduling.Request, email *scheduling.IncomingEmail, dryRun bool) *Outcome {
	s.logger.WithFields(logrus.Fields{
		"request_id": req.ID,
		"message_id": email.ID,
		"status":     req.Status,
	}).Info("Request changed concurrently, skipping")
	return &Outcome{RequestID: req.ID, MessageID: email.ID, Matched: true, Conflict: true, Status: req.Status, DryRun: dryRun}
}

// externalFailure leaves the message for a later batch until MaxExternalRetries is reached,
// then escalates the request.
func (s *SchedulingService) externalFailure(ctx context.Context, req *scheduling.Request, email *scheduling.IncomingEmail, cause error, dryRun bool) (*Outcome, error) {
	var ext *scheduling.ExternalServiceError
	if !errors.As(cause, &ext) || dryRun {
		return nil, cause
	}
	attempts, err := s.repo.RecordMessageFailure(ctx, email.ID, req.ID, cause.Error())
	if err != nil {
		return nil, fmt.Errorf("recording failure of message %s: %w", email.ID, err)
	}
	log := s.logger.WithFields(logrus.Fields{
		"request_id": req.ID,
		"message_id": email.ID,
		"service":    ext.Service,
		"attempts":   attempts,
	})
	if attempts < s.policy.MaxExternalRetries {
		log.WithError(cause).Warn("External service failed, message will be retried")
		return nil, cause
	}
	log.WithError(cause).Error("External service retries exhausted")
	d := s.machine.reviewDecision(req, email, fmt.Sprintf("%s failed %d times: %v", ext.Service, attempts, ext.Err))
	return s.apply(ctx, req, email, d, false)
}

// RetryBooking runs the booking executor for a confirming request whose retry is due.
func (s *SchedulingService) RetryBooking(ctx context.Context, requestID string, dryRun bool) (*BookingResult, error) {
	unlock := s.locks.Lock(requestID)
	defer unlock()
	if dryRun {
		req, err := s.repo.GetByID(ctx, requestID)
		if err != nil {
			return nil, err
		}
		return &BookingResult{RequestID: req.ID, Status: scheduling.StatusConfirmed, ActionsExecuted: 3}, nil
	}
	return s.booking.Execute(ctx, requestID, "")
}

// SendReminder delivers a due reminder.
func (s *SchedulingService) SendReminder(ctx context.Context, requestID string, dryRun bool) (*BookingResult, error) {
	unlock := s.locks.Lock(requestID)
	defer unlock()
	if dryRun {
		return &BookingResult{RequestID: requestID, Status: scheduling.StatusConfirmed, ActionsExecuted: 1}, nil
	}
	return s.booking.SendReminder(ctx, requestID)
}

// Expire closes a request that has waited for a reply longer than the expiry window.
// It returns false when the request is no longer stale.
func (s *SchedulingService) Expire(ctx context.Context, requestID string, dryRun bool) (bool, error) {
	unlock := s.locks.Lock(requestID)
	defer unlock()

	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return false, err
	}
	cutoff := s.now().Add(-s.policy.MatchExpiryWindow)
	if !scheduling.CanTransition(req.Status, scheduling.StatusExpired, scheduling.ActorSystem) || req.LastActionAt.After(cutoff) {
		return false, nil
	}
	if dryRun {
		return true, nil
	}

	next := req.Clone()
	next.Status = scheduling.StatusExpired
	next.LastActionAt = s.now()
	next.NextActionType = scheduling.NextActionNone
	next.NextActionAt = sql.NullTime{}
	expired := scheduling.NewAction(req.ID, scheduling.ActionExpired, scheduling.ActorSystem,
		fmt.Sprintf("no reply since %s", req.LastActionAt.Format(time.RFC3339)))
	if _, err := s.repo.Commit(ctx, next, scheduling.Precondition{Status: req.Status, Version: req.Version}, []scheduling.Action{expired}); err != nil {
		if errors.Is(err, scheduling.ErrConcurrencyConflict) {
			return false, nil
		}
		return false, err
	}
	s.logger.WithField("request_id", req.ID).Info("Scheduling request expired")
	return true, nil
}
