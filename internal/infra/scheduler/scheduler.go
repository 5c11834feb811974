package scheduler

import (
	"context"
	"fmt"
	"time"

	"scheduling_autopilot/internal/app"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// BatchRunner runs one autopilot batch. Implemented by app.Autopilot.
type BatchRunner interface {
	RunBatch(ctx context.Context, opts app.BatchOptions) (*app.BatchResult, error)
}

type AutopilotScheduler struct {
	cronEngine        *cron.Cron
	runner            BatchRunner
	logger            *logrus.Entry
	cronSpecAutopilot string
	cronSpecExpiry    string
	jobTimeout        time.Duration
}

func NewAutopilotScheduler(
	runner BatchRunner,
	logger *logrus.Entry,
	cronSpecAutopilot string, // e.g., "*/5 * * * *" (every 5 minutes)
	cronSpecExpiry string, // e.g., "0 3 * * *" (3 AM daily)
) *AutopilotScheduler {
	return &AutopilotScheduler{
		cronEngine: cron.New(
			cron.WithLocation(time.Local),
			cron.WithLogger(cron.PrintfLogger(logger)),
			cron.WithChain(skipOverlapping(logger)),
		),
		runner:            runner,
		logger:            logger,
		cronSpecAutopilot: cronSpecAutopilot,
		cronSpecExpiry:    cronSpecExpiry,
		jobTimeout:        4 * time.Minute,
	}
}

// skipOverlapping drops a tick while the previous run of the same job is still going.
// Skips are logged through logrus at info level.
func skipOverlapping(logger *logrus.Entry) cron.JobWrapper {
	return cron.SkipIfStillRunning(cron.VerbosePrintfLogger(logger))
}

func (s *AutopilotScheduler) Start() error {
	s.logger.Info("Starting autopilot scheduler...")

	_, err := s.cronEngine.AddFunc(s.cronSpecAutopilot, func() {
		s.run("autopilot", []app.Workflow{app.WorkflowInbound, app.WorkflowBookings, app.WorkflowReminders})
	})
	if err != nil {
		return fmt.Errorf("could not add autopilot cron job: %w", err)
	}

	_, err = s.cronEngine.AddFunc(s.cronSpecExpiry, func() {
		s.run("expiry", []app.Workflow{app.WorkflowExpiry})
	})
	if err != nil {
		return fmt.Errorf("could not add expiry cron job: %w", err)
	}

	s.cronEngine.Start()
	s.logger.Info("Autopilot scheduler started with jobs.")
	return nil
}

func (s *AutopilotScheduler) run(job string, workflows []app.Workflow) {
	log := s.logger.WithField("job", job)
	log.Debug("Cron job triggered.")
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	res, err := s.runner.RunBatch(ctx, app.BatchOptions{Workflows: workflows})
	if err != nil {
		log.WithError(err).Error("Autopilot batch failed")
		return
	}
	for _, itemErr := range res.Errors {
		log.WithFields(logrus.Fields{
			"workflow":   itemErr.Workflow,
			"request_id": itemErr.RequestID,
			"message_id": itemErr.MessageID,
		}).Warn(itemErr.Error)
	}
}

func (s *AutopilotScheduler) Stop() {
	s.logger.Info("Stopping autopilot scheduler...")
	ctx := s.cronEngine.Stop() // waits for running jobs
	<-ctx.Done()
	s.logger.Info("Autopilot scheduler gracefully stopped.")
}
