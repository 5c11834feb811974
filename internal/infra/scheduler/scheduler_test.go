package scheduler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"scheduling_autopilot/internal/app"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRunner struct{ mock.Mock }

func (m *mockRunner) RunBatch(ctx context.Context, opts app.BatchOptions) (*app.BatchResult, error) {
	args := m.Called(ctx, opts)
	res, _ := args.Get(0).(*app.BatchResult)
	return res, args.Error(1)
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestStart_RejectsInvalidSpec(t *testing.T) {
	s := NewAutopilotScheduler(&mockRunner{}, quietLogger(), "every five minutes", "0 3 * * *")
	err := s.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "autopilot cron job")

	s = NewAutopilotScheduler(&mockRunner{}, quietLogger(), "*/5 * * * *", "61 3 * * *")
	err = s.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expiry cron job")
}

func TestStartStop(t *testing.T) {
	s := NewAutopilotScheduler(&mockRunner{}, quietLogger(), "*/5 * * * *", "0 3 * * *")
	require.NoError(t, s.Start())
	assert.Len(t, s.cronEngine.Entries(), 2)
	s.Stop()
}

func TestRun_PassesWorkflowsAndSurvivesErrors(t *testing.T) {
	runner := &mockRunner{}
	s := NewAutopilotScheduler(runner, quietLogger(), "*/5 * * * *", "0 3 * * *")

	runner.On("RunBatch", mock.Anything, app.BatchOptions{Workflows: []app.Workflow{app.WorkflowExpiry}}).
		Return(&app.BatchResult{Processed: 2, Errors: []app.ItemError{{Workflow: app.WorkflowExpiry, RequestID: "r1", Error: "boom"}}}, nil).Once()
	runner.On("RunBatch", mock.Anything, app.BatchOptions{Workflows: []app.Workflow{app.WorkflowInbound}}).
		Return(nil, errors.New("unknown workflow")).Once()

	s.run("expiry", []app.Workflow{app.WorkflowExpiry})
	s.run("autopilot", []app.Workflow{app.WorkflowInbound})

	runner.AssertExpectations(t)
	_, hasDeadline := runner.Calls[0].Arguments.Get(0).(context.Context).Deadline()
	assert.True(t, hasDeadline, "each run is bounded by the job timeout")
}

func TestSkipOverlapping_LogsThroughLogrus(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)

	started := make(chan struct{})
	release := make(chan struct{})
	job := cron.NewChain(skipOverlapping(logrus.NewEntry(l))).Then(cron.FuncJob(func() {
		close(started)
		<-release
	}))

	done := make(chan struct{})
	go func() {
		job.Run()
		close(done)
	}()
	<-started
	job.Run() // skipped while the first run holds the slot
	close(release)
	<-done

	assert.Contains(t, buf.String(), "skip")
	assert.Contains(t, buf.String(), "level=info")
}
