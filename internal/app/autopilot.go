// internal/app/autopilot.go
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"scheduling_autopilot/internal/domain/mail"
	"scheduling_autopilot/internal/domain/scheduling"

	"github.com/sirupsen/logrus"
)

// Workflow selects one kind of autopilot work.
type Workflow string

const (
	WorkflowInbound   Workflow = "inbound"
	WorkflowBookings  Workflow = "bookings"
	WorkflowReminders Workflow = "reminders"
	WorkflowExpiry    Workflow = "expiry"
)

// AllWorkflows is the default selection, in execution order.
var AllWorkflows = []Workflow{WorkflowInbound, WorkflowBookings, WorkflowReminders, WorkflowExpiry}

var ErrUnknownWorkflow = fmt.Errorf("unknown workflow")

// ParseWorkflow validates a workflow name.
func ParseWorkflow(s string) (Workflow, error) {
	for _, w := range AllWorkflows {
		if string(w) == s {
			return w, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownWorkflow, s)
}

// BatchOptions selects what a batch run does. Zero Limit means the policy batch limit.
type BatchOptions struct {
	Workflows []Workflow `json:"workflows"`
	DryRun    bool       `json:"dryRun"`
	Limit     int        `json:"limit"`
}

// ItemError is one failed item. It never aborts the batch.
type ItemError struct {
	Workflow  Workflow `json:"workflow"`
	RequestID string   `json:"requestId,omitempty"`
	MessageID string   `json:"messageId,omitempty"`
	Error     string   `json:"error"`
}

// BatchResult aggregates one batch run.
type BatchResult struct {
	ActionsExecuted int         `json:"actionsExecuted"`
	FlagsCreated    int         `json:"flagsCreated"`
	Errors          []ItemError `json:"errors"`
	Processed       int         `json:"processed"`
	DryRun          bool        `json:"dryRun"`
}

// Autopilot is the periodic batch driver.
type Autopilot struct {
	service *SchedulingService
	mailbox mail.Mailbox
	repo    scheduling.Repository
	policy  scheduling.Policy
	now     func() time.Time
	logger  *logrus.Entry
}

func NewAutopilot(service *SchedulingService, deps Deps) *Autopilot {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Autopilot{
		service: service,
		mailbox: deps.Mailbox,
		repo:    deps.Repo,
		policy:  deps.Policy,
		now:     service.now,
		logger:  logger.WithField("component", "autopilot"),
	}
}

// batch collects results from concurrently processed items.
type batch struct {
	mu     sync.Mutex
	res    BatchResult
	budget int
}

func (b *batch) remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.budget - b.res.Processed
}

func (b *batch) add(processed, actions, flags int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.res.Processed += processed
	b.res.ActionsExecuted += actions
	b.res.FlagsCreated += flags
}

func (b *batch) fail(wf Workflow, requestID, messageID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.res.Errors = append(b.res.Errors, ItemError{Workflow: wf, RequestID: requestID, MessageID: messageID, Error: err.Error()})
}

// RunBatch runs the selected workflows once. Only invalid options return an error; item
// failures are collected in the result.
func (a *Autopilot) RunBatch(ctx context.Context, opts BatchOptions) (*BatchResult, error) {
	workflows := opts.Workflows
	if len(workflows) == 0 {
		workflows = AllWorkflows
	}
	for _, wf := range workflows {
		if _, err := ParseWorkflow(string(wf)); err != nil {
			return nil, err
		}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = a.policy.BatchLimit
	}

	b := &batch{budget: limit, res: BatchResult{Errors: []ItemError{}, DryRun: opts.DryRun}}
	started := a.now()
	for _, wf := range orderWorkflows(workflows) {
		if ctx.Err() != nil {
			b.fail(wf, "", "", ctx.Err())
			break
		}
		if b.remaining() <= 0 {
			break
		}
		log := a.logger.WithField("workflow", wf)
		switch wf {
		case WorkflowInbound:
			a.runInbound(ctx, b, opts.DryRun)
		case WorkflowBookings:
			a.runDue(ctx, b, wf, scheduling.StatusConfirming, scheduling.NextActionRetryBooking, opts.DryRun)
		case WorkflowReminders:
			a.runDue(ctx, b, wf, scheduling.StatusConfirmed, scheduling.NextActionSendReminder, opts.DryRun)
		case WorkflowExpiry:
			a.runExpiry(ctx, b, opts.DryRun)
		}
		log.Debug("Workflow finished")
	}

	a.logger.WithFields(logrus.Fields{
		"processed":        b.res.Processed,
		"actions_executed": b.res.ActionsExecuted,
		"flags_created":    b.res.FlagsCreated,
		"errors":           len(b.res.Errors),
		"dry_run":          opts.DryRun,
		"duration":         a.now().Sub(started).String(),
	}).Info("Autopilot batch finished")
	return &b.res, nil
}

func orderWorkflows(selected []Workflow) []Workflow {
	want := make(map[Workflow]bool, len(selected))
	for _, wf := range selected {
		want[wf] = true
	}
	var out []Workflow
	for _, wf := range AllWorkflows {
		if want[wf] {
			out = append(out, wf)
		}
	}
	return out
}

func (a *Autopilot) runInbound(ctx context.Context, b *batch, dryRun bool) {
	msgs, err := a.mailbox.ListMessages(ctx, a.now().Add(-a.policy.MatchExpiryWindow), b.remaining())
	if err != nil {
		b.fail(WorkflowInbound, "", "", fmt.Errorf("listing inbound messages: %w", err))
		return
	}
	if len(msgs) == 0 {
		return
	}
	open, err := a.repo.ListByStatus(ctx, scheduling.OpenStatuses, 0)
	if err != nil {
		b.fail(WorkflowInbound, "", "", fmt.Errorf("listing open requests: %w", err))
		return
	}

	// messages for one request are processed in arrival order
	groups := make(map[string][]*scheduling.IncomingEmail)
	var order []string
	for _, msg := range msgs {
		match, err := a.service.matcher.Match(ctx, msg, open)
		if errors.Is(err, scheduling.ErrMatchNotFound) {
			b.add(1, 0, 0)
			a.acknowledge(ctx, msg.ID, dryRun)
			continue
		}
		if err != nil {
			b.add(1, 0, 0)
			b.fail(WorkflowInbound, "", msg.ID, err)
			continue
		}
		id := match.Request.ID
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], msg)
	}

	a.forEach(ctx, b, WorkflowInbound, order, func(ctx context.Context, requestID string) {
		for _, msg := range groups[requestID] {
			err := a.safely(func() error {
				out, err := a.service.processMatched(ctx, requestID, msg, dryRun)
				if err != nil {
					return err
				}
				flags := 0
				if out.Flagged {
					flags = 1
				}
				b.add(1, out.ActionsExecuted, flags)
				if !out.Conflict {
					a.acknowledge(ctx, msg.ID, dryRun)
				}
				return nil
			})
			if err != nil {
				b.add(1, 0, 0)
				b.fail(WorkflowInbound, requestID, msg.ID, err)
			}
		}
	})
}

func (a *Autopilot) acknowledge(ctx context.Context, messageID string, dryRun bool) {
	if dryRun {
		return
	}
	if err := a.mailbox.Acknowledge(ctx, messageID); err != nil {
		a.logger.WithError(err).WithField("message_id", messageID).Warn("Failed to acknowledge message")
	}
}

func (a *Autopilot) runDue(ctx context.Context, b *batch, wf Workflow, status scheduling.Status, action scheduling.NextActionType, dryRun bool) {
	due, err := a.repo.ListDue(ctx, status, action, a.now(), b.remaining())
	if err != nil {
		b.fail(wf, "", "", fmt.Errorf("listing due requests: %w", err))
		return
	}
	a.forEach(ctx, b, wf, requestIDs(due), func(ctx context.Context, id string) {
		err := a.safely(func() error {
			var (
				res *BookingResult
				err error
			)
			if wf == WorkflowBookings {
				res, err = a.service.RetryBooking(ctx, id, dryRun)
			} else {
				res, err = a.service.SendReminder(ctx, id, dryRun)
			}
			if errors.Is(err, scheduling.ErrConcurrencyConflict) {
				b.add(1, 0, 0)
				return nil
			}
			if err != nil {
				return err
			}
			flags := 0
			if res.Flagged {
				flags = 1
			}
			b.add(1, res.ActionsExecuted, flags)
			return nil
		})
		if err != nil {
			b.add(1, 0, 0)
			b.fail(wf, id, "", err)
		}
	})
}

func (a *Autopilot) runExpiry(ctx context.Context, b *batch, dryRun bool) {
	before := a.now().Add(-a.policy.MatchExpiryWindow)
	var stale []*scheduling.Request
	for _, status := range []scheduling.Status{scheduling.StatusAwaitingResponse, scheduling.StatusNegotiating} {
		limit := b.remaining() - len(stale)
		if limit <= 0 {
			break
		}
		reqs, err := a.repo.ListStale(ctx, status, before, limit)
		if err != nil {
			b.fail(WorkflowExpiry, "", "", fmt.Errorf("listing stale %s requests: %w", status, err))
			continue
		}
		stale = append(stale, reqs...)
	}
	a.forEach(ctx, b, WorkflowExpiry, requestIDs(stale), func(ctx context.Context, id string) {
		err := a.safely(func() error {
			expired, err := a.service.Expire(ctx, id, dryRun)
			if err != nil {
				return err
			}
			actions := 0
			if expired {
				actions = 1
			}
			b.add(1, actions, 0)
			return nil
		})
		if err != nil {
			b.add(1, 0, 0)
			b.fail(WorkflowExpiry, id, "", err)
		}
	})
}

// forEach runs fn for each distinct request id with at most BatchConcurrency in flight.
func (a *Autopilot) forEach(ctx context.Context, b *batch, wf Workflow, ids []string, fn func(ctx context.Context, id string)) {
	sem := make(chan struct{}, a.policy.BatchConcurrency)
	var wg sync.WaitGroup
	for _, id := range ids {
		if ctx.Err() != nil {
			b.fail(wf, id, "", ctx.Err())
			continue
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(ctx, id)
		}(id)
	}
	wg.Wait()
}

// safely turns a panic in one item into an error for that item.
func (a *Autopilot) safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.WithField("panic", r).Error("Recovered from panic while processing item")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func requestIDs(reqs []*scheduling.Request) []string {
	ids := make([]string, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.ID)
	}
	return ids
}
