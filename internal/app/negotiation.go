// internal/app/negotiation.go
package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"scheduling_autopilot/internal/domain/calendar"
	"scheduling_autopilot/internal/domain/intent"
	"scheduling_autopilot/internal/domain/mail"
	"scheduling_autopilot/internal/domain/scheduling"

	"github.com/sirupsen/logrus"
)

// DecisionKind names the policy branch the state machine took.
type DecisionKind string

const (
	DecisionAccept      DecisionKind = "accept"
	DecisionAutoAccept  DecisionKind = "auto_accept_counter"
	DecisionAutoDecline DecisionKind = "auto_decline_counter"
	DecisionCancel      DecisionKind = "cancel"
	DecisionReoffer     DecisionKind = "reoffer"
	DecisionAcknowledge DecisionKind = "acknowledge"
	DecisionReview      DecisionKind = "review"
)

// Decision is a planned transition. Nothing is written until Apply.
type Decision struct {
	Kind             DecisionKind
	Next             scheduling.Status
	SelectedTime     time.Time
	DeclinedTime     time.Time
	Alternatives     []scheduling.TimeWindow
	CounterRounds    int
	Reason           string
	Actions          []scheduling.Action
	Book             bool
	SendAlternatives bool
	Flag             bool
}

// projectedActions is the number of actions a successful Apply would write.
func (d *Decision) projectedActions() int {
	n := len(d.Actions)
	if d.SendAlternatives {
		n++ // email_sent
	}
	if d.Book {
		n += 3 // booked, email_sent, reminder_scheduled
	}
	return n
}

// NegotiationMachine applies business policy to classified replies and drives status transitions.
type NegotiationMachine struct {
	repo         scheduling.Repository
	calendar     calendar.Provider
	transport    mail.Transport
	booking      *BookingExecutor
	flagger      *reviewFlagger
	alternatives *alternativeFinder
	policy       scheduling.Policy
	now          func() time.Time
	logger       *logrus.Entry
}

// Decide maps a classification to a decision. It only reads: the organizer availability
// check and alternative search are the only external calls.
func (n *NegotiationMachine) Decide(ctx context.Context, req *scheduling.Request, email *scheduling.IncomingEmail, cls *Classification) (*Decision, error) {
	var (
		d   *Decision
		err error
	)
	switch cls.Intent {
	case intent.Accept:
		d = n.decideAccept(req, email, cls)
	case intent.CounterPropose:
		d, err = n.decideCounter(ctx, req, email, cls)
	case intent.Decline:
		d, err = n.decideDecline(ctx, req, email, cls)
	default:
		d = n.reviewDecision(req, email, "ambiguous reply: "+cls.Reasoning)
	}
	if err != nil {
		return nil, err
	}
	if d.Kind != DecisionReview && !scheduling.CanTransition(req.Status, d.Next, scheduling.ActorSystem) {
		d = n.reviewDecision(req, email, fmt.Sprintf("%s not allowed from %s", d.Kind, req.Status))
	}
	return d, nil
}

func (n *NegotiationMachine) decideAccept(req *scheduling.Request, email *scheduling.IncomingEmail, cls *Classification) *Decision {
	if req.Status == scheduling.StatusConfirming {
		return &Decision{
			Kind:    DecisionAcknowledge,
			Next:    req.Status,
			Reason:  "acceptance while booking is in progress",
			Actions: []scheduling.Action{received(req, email)},
		}
	}
	if cls.Confidence < n.policy.AutoAcceptMin {
		return n.lowConfidence(req, email, cls, n.policy.AutoAcceptMin)
	}

	var selected time.Time
	switch {
	case len(cls.ExtractedTimes) > 0:
		selected = cls.ExtractedTimes[0]
	case len(req.ProposedWindows) == 1:
		selected = req.ProposedWindows[0].Start.In(req.Loc())
	default:
		return n.reviewDecision(req, email, fmt.Sprintf("acceptance does not identify one of %d offered windows", len(req.ProposedWindows)))
	}
	if !selected.After(email.ReceivedAt) {
		return n.reviewDecision(req, email, "accepted window "+formatTime(selected, req.Loc())+" has already passed")
	}

	return &Decision{
		Kind:         DecisionAccept,
		Next:         scheduling.StatusConfirming,
		SelectedTime: selected,
		Reason:       cls.Reasoning,
		Book:         true,
		Actions: []scheduling.Action{
			received(req, email),
			scheduling.NewAction(req.ID, scheduling.ActionTimeAccepted, scheduling.ActorExternal,
				fmt.Sprintf("accepted %s (confidence %.2f): %s", formatTime(selected, req.Loc()), cls.Confidence, cls.Reasoning)).WithSource(email.ID),
		},
	}
}

func (n *NegotiationMachine) decideCounter(ctx context.Context, req *scheduling.Request, email *scheduling.IncomingEmail, cls *Classification) (*Decision, error) {
	if cls.Confidence < n.policy.AutoCounterMin {
		return n.lowConfidence(req, email, cls, n.policy.AutoCounterMin), nil
	}
	proposed := cls.CounterTime
	loc := req.Loc()
	if reason := n.checkHardConstraints(proposed, email); reason != "" {
		return n.reviewDecision(req, email, fmt.Sprintf("%v: %s", scheduling.ErrAvailabilityConstraint, reason)), nil
	}

	organizer, _ := req.Organizer()
	slot := scheduling.TimeWindow{Start: proposed, End: proposed.Add(req.Duration)}
	free, err := n.alternatives.available(ctx, organizer.Email, slot)
	if err != nil {
		return nil, err
	}

	counter := scheduling.NewAction(req.ID, scheduling.ActionCounterProposed, scheduling.ActorExternal,
		fmt.Sprintf("proposed %s (confidence %.2f): %s", formatTime(proposed, loc), cls.Confidence, cls.Reasoning)).WithSource(email.ID)

	if free {
		return &Decision{
			Kind:         DecisionAutoAccept,
			Next:         scheduling.StatusConfirming,
			SelectedTime: proposed,
			Reason:       "organizer available at proposed time",
			Book:         true,
			Actions: []scheduling.Action{
				received(req, email),
				counter,
				scheduling.NewAction(req.ID, scheduling.ActionAutoAccepted, scheduling.ActorSystem,
					fmt.Sprintf("%s is free at %s", organizer.Email, formatTime(proposed, loc))).WithSource(email.ID),
			},
		}, nil
	}

	rounds := req.CounterRounds + 1
	if rounds > n.policy.MaxCounterRounds {
		d := n.reviewDecision(req, email, fmt.Sprintf("%v: counter-proposal round limit %d reached, organizer busy at %s",
			scheduling.ErrAvailabilityConstraint, n.policy.MaxCounterRounds, formatTime(proposed, loc)))
		d.Actions = append([]scheduling.Action{d.Actions[0], counter}, d.Actions[1:]...)
		return d, nil
	}

	alts, err := n.alternatives.Find(ctx, req, proposed, []scheduling.TimeWindow{slot})
	if err != nil {
		return nil, err
	}
	if len(alts) == 0 {
		d := n.reviewDecision(req, email, fmt.Sprintf("organizer busy at %s and no alternative times are free", formatTime(proposed, loc)))
		d.Actions = append([]scheduling.Action{d.Actions[0], counter}, d.Actions[1:]...)
		return d, nil
	}

	return &Decision{
		Kind:             DecisionAutoDecline,
		Next:             scheduling.StatusNegotiating,
		DeclinedTime:     proposed,
		Alternatives:     alts,
		CounterRounds:    rounds,
		Reason:           "organizer busy at proposed time",
		SendAlternatives: true,
		Actions: []scheduling.Action{
			received(req, email),
			counter,
			scheduling.NewAction(req.ID, scheduling.ActionAutoDeclined, scheduling.ActorSystem,
				fmt.Sprintf("%s is busy at %s; offered %s (round %d/%d)", organizer.Email, formatTime(proposed, loc),
					describeWindows(alts, loc), rounds, n.policy.MaxCounterRounds)).WithSource(email.ID),
		},
	}, nil
}

func (n *NegotiationMachine) decideDecline(ctx context.Context, req *scheduling.Request, email *scheduling.IncomingEmail, cls *Classification) (*Decision, error) {
	if cls.Confidence < n.policy.AutoAcceptMin {
		return n.lowConfidence(req, email, cls, n.policy.AutoAcceptMin), nil
	}
	declined := scheduling.NewAction(req.ID, scheduling.ActionTimeDeclined, scheduling.ActorExternal,
		fmt.Sprintf("declined offered times (confidence %.2f): %s", cls.Confidence, cls.Reasoning)).WithSource(email.ID)

	if n.policy.DeclinePolicy == scheduling.DeclineCancel {
		if !scheduling.CanTransition(req.Status, scheduling.StatusCancelled, scheduling.ActorSystem) {
			return n.reviewDecision(req, email, "declined after acceptance: "+cls.Reasoning), nil
		}
		return &Decision{
			Kind:    DecisionCancel,
			Next:    scheduling.StatusCancelled,
			Reason:  cls.Reasoning,
			Actions: []scheduling.Action{received(req, email), declined},
		}, nil
	}

	rounds := req.CounterRounds + 1
	if rounds > n.policy.MaxCounterRounds {
		return n.reviewDecision(req, email, fmt.Sprintf("declined and counter-proposal round limit %d reached", n.policy.MaxCounterRounds)), nil
	}
	after := email.ReceivedAt
	for _, w := range req.ProposedWindows {
		if w.End.After(after) {
			after = w.End
		}
	}
	fresh := req.Clone()
	fresh.ProposedWindows = nil // declined windows are not re-offered
	alts, err := n.alternatives.Find(ctx, fresh, after, req.ProposedWindows)
	if err != nil {
		return nil, err
	}
	if len(alts) == 0 {
		return n.reviewDecision(req, email, "declined and no alternative times are free"), nil
	}
	return &Decision{
		Kind:             DecisionReoffer,
		Next:             scheduling.StatusNegotiating,
		Alternatives:     alts,
		CounterRounds:    rounds,
		Reason:           cls.Reasoning,
		SendAlternatives: true,
		Actions: []scheduling.Action{
			received(req, email),
			declined,
			scheduling.NewAction(req.ID, scheduling.ActionTimeProposed, scheduling.ActorSystem,
				"offered "+describeWindows(alts, req.Loc())).WithSource(email.ID),
		},
	}, nil
}

func (n *NegotiationMachine) checkHardConstraints(proposed time.Time, email *scheduling.IncomingEmail) string {
	now := n.now()
	switch {
	case !proposed.After(email.ReceivedAt) || !proposed.After(now):
		return "proposed time " + proposed.Format(time.RFC3339) + " is in the past"
	case proposed.After(now.Add(n.policy.ProposalHorizon)):
		return "proposed time " + proposed.Format(time.RFC3339) + " is beyond the scheduling horizon"
	}
	return ""
}

func (n *NegotiationMachine) lowConfidence(req *scheduling.Request, email *scheduling.IncomingEmail, cls *Classification, min float64) *Decision {
	return n.reviewDecision(req, email, fmt.Sprintf("%v: %s at %.2f < %.2f: %s",
		scheduling.ErrLowConfidence, cls.Intent, cls.Confidence, min, cls.Reasoning))
}

// reviewDecision escalates to a human. The needs_review action is keyed by the message id,
// so reprocessing the same message cannot append a second one.
func (n *NegotiationMachine) reviewDecision(req *scheduling.Request, email *scheduling.IncomingEmail, reason string) *Decision {
	return &Decision{
		Kind:   DecisionReview,
		Next:   scheduling.StatusNeedsReview,
		Reason: reason,
		Flag:   true,
		Actions: []scheduling.Action{
			received(req, email),
			scheduling.NewAction(req.ID, scheduling.ActionNeedsReview, scheduling.ActorSystem, reason).WithSource(email.ID),
		},
	}
}

// Apply commits the decision with a status-and-version guard, then runs its side effects.
// A failure in a side effect after the commit escalates the request to needs_review.
func (n *NegotiationMachine) Apply(ctx context.Context, req *scheduling.Request, email *scheduling.IncomingEmail, d *Decision, dryRun bool) (*Outcome, error) {
	out := &Outcome{
		RequestID: req.ID,
		MessageID: email.ID,
		Matched:   true,
		Decision:  d.Kind,
		Status:    d.Next,
		Flagged:   d.Flag,
		DryRun:    dryRun,
	}
	log := n.logger.WithFields(logrus.Fields{
		"request_id": req.ID,
		"message_id": email.ID,
		"decision":   d.Kind,
		"from":       req.Status,
		"to":         d.Next,
	})
	if dryRun {
		out.ActionsExecuted = d.projectedActions()
		log.Info("Dry run: decision not applied")
		return out, nil
	}

	now := n.now()
	next := req.Clone()
	next.Status = d.Next
	next.LastActionAt = now
	if !next.ThreadID.Valid && email.ConversationID != "" {
		next.ThreadID = sql.NullString{String: email.ConversationID, Valid: true}
	}
	switch d.Next {
	case scheduling.StatusConfirming:
		// an acknowledgement keeps the pending retry and its backoff
		if !d.SelectedTime.IsZero() {
			next.SelectedTime = sql.NullTime{Time: d.SelectedTime, Valid: true}
			next.BookingAttempts = 0
			next.NextActionType = scheduling.NextActionRetryBooking
			next.NextActionAt = sql.NullTime{Time: now, Valid: true}
		}
	case scheduling.StatusNegotiating:
		if len(d.Alternatives) > 0 {
			next.ProposedWindows = d.Alternatives
			next.CounterRounds = d.CounterRounds
		}
		next.NextActionType = scheduling.NextActionAwaitReply
		next.NextActionAt = sql.NullTime{}
	default:
		next.NextActionType = scheduling.NextActionNone
		next.NextActionAt = sql.NullTime{}
	}

	committed, err := n.repo.Commit(ctx, next, scheduling.Precondition{Status: req.Status, Version: req.Version}, d.Actions)
	if err != nil {
		return nil, err
	}
	out.ActionsExecuted = len(committed)
	log.Info("Scheduling request transitioned")

	if d.Flag {
		n.flagger.notify(ctx, next, d.Reason)
	}
	if d.SendAlternatives {
		n.sendAlternatives(ctx, next, email, d, out)
	}
	if d.Book {
		res, err := n.booking.Execute(ctx, next.ID, email.ConversationID)
		if err != nil {
			return out, fmt.Errorf("booking request %s: %w", next.ID, err)
		}
		out.ActionsExecuted += res.ActionsExecuted
		out.Status = res.Status
		out.Flagged = out.Flagged || res.Flagged
	}
	return out, nil
}

func (n *NegotiationMachine) sendAlternatives(ctx context.Context, req *scheduling.Request, email *scheduling.IncomingEmail, d *Decision, out *Outcome) {
	body := alternativesBody(req, d.DeclinedTime, d.Alternatives)
	subject := "Re: " + req.Title
	err := deliver(ctx, n.transport, n.policy.StageTimeout, req, threadFor(req, email.ConversationID), subject, body)
	if err != nil {
		failed := scheduling.NewAction(req.ID, scheduling.ActionEmailFailed, scheduling.ActorSystem, err.Error()).WithSource(email.ID)
		_, committed, ferr := n.flagger.flag(ctx, req, "failed to send alternative times: "+err.Error(), email.ID, failed)
		if ferr != nil {
			n.logger.WithError(ferr).WithField("request_id", req.ID).Error("Failed to escalate request after mail failure")
			return
		}
		out.ActionsExecuted += len(committed)
		out.Flagged = true
		out.Status = scheduling.StatusNeedsReview
		return
	}

	next := req.Clone()
	next.LastActionAt = n.now()
	sent := scheduling.NewAction(req.ID, scheduling.ActionEmailSent, scheduling.ActorSystem, "sent alternative times")
	sent.Subject, sent.Content = subject, body
	committed, err := n.repo.Commit(ctx, next, scheduling.Precondition{Status: req.Status, Version: req.Version}, []scheduling.Action{sent})
	if err != nil {
		n.logger.WithError(err).WithField("request_id", req.ID).Warn("Alternatives sent but email_sent action not recorded")
		return
	}
	out.ActionsExecuted += len(committed)
}

// deliver replies in thread when one is known, otherwise starts a new message to the external side.
func deliver(ctx context.Context, transport mail.Transport, timeout time.Duration, req *scheduling.Request, threadID, subject, body string) error {
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var err error
	if threadID != "" {
		err = transport.ReplyToMessage(stageCtx, threadID, body)
	} else {
		err = transport.SendEmail(stageCtx, externalEmails(req), subject, body)
	}
	if err != nil {
		return &scheduling.ExternalServiceError{Service: "mail", Err: err}
	}
	return nil
}

func threadFor(req *scheduling.Request, conversationID string) string {
	if conversationID != "" {
		return conversationID
	}
	if req.ThreadID.Valid {
		return req.ThreadID.String
	}
	return ""
}

func received(req *scheduling.Request, email *scheduling.IncomingEmail) scheduling.Action {
	return scheduling.NewAction(req.ID, scheduling.ActionEmailReceived, scheduling.ActorExternal, "").FromMessage(email)
}

func describeWindows(windows []scheduling.TimeWindow, loc *time.Location) string {
	parts := make([]string, 0, len(windows))
	for _, w := range windows {
		parts = append(parts, formatTime(w.Start, loc))
	}
	return strings.Join(parts, "; ")
}
