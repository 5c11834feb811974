package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"scheduling_autopilot/internal/domain/scheduling"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reviewerID int64 = 4242

func flaggedRequest(id string) *scheduling.Request {
	req := newRequest(id)
	req.Status = scheduling.StatusNeedsReview
	req.CounterRounds = 3
	return req
}

func TestReviewService_RejectsOtherUsers(t *testing.T) {
	env := newTestEnv(t)
	reviews := NewReviewService(env.service, env.calendar, reviewerID)
	env.create(t, flaggedRequest("r1"))

	_, err := reviews.ListPending(context.Background(), 1, 10)
	assert.ErrorIs(t, err, ErrReviewerNotAuthorized)
	_, err = reviews.Cancel(context.Background(), 1, "r1", "")
	assert.ErrorIs(t, err, ErrReviewerNotAuthorized)
	_, err = reviews.Resume(context.Background(), 1, "r1")
	assert.ErrorIs(t, err, ErrReviewerNotAuthorized)
	assert.Equal(t, scheduling.StatusNeedsReview, env.get(t, "r1").Status)
}

func TestReviewService_ListPending(t *testing.T) {
	env := newTestEnv(t)
	reviews := NewReviewService(env.service, env.calendar, reviewerID)
	env.create(t, flaggedRequest("r1"))
	env.create(t, newRequest("r2"))

	pending, err := reviews.ListPending(context.Background(), reviewerID, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "r1", pending[0].ID)
}

func TestReviewService_ResumeToNegotiating(t *testing.T) {
	env := newTestEnv(t)
	reviews := NewReviewService(env.service, env.calendar, reviewerID)
	env.create(t, flaggedRequest("r1"))

	req, err := reviews.Resume(context.Background(), reviewerID, "r1")
	require.NoError(t, err)
	assert.Equal(t, scheduling.StatusNegotiating, req.Status)

	stored := env.get(t, "r1")
	assert.Equal(t, scheduling.StatusNegotiating, stored.Status)
	assert.Zero(t, stored.CounterRounds)
	assert.Equal(t, scheduling.NextActionAwaitReply, stored.NextActionType)

	actions, err := env.store.ListActions(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, scheduling.ActorHuman, actions[0].Actor)

	_, err = reviews.Resume(context.Background(), reviewerID, "r1")
	assert.ErrorIs(t, err, ErrNotAwaitingReview)
}

func TestReviewService_ResumeWithSelectedTimeRebooks(t *testing.T) {
	env := newTestEnv(t)
	reviews := NewReviewService(env.service, env.calendar, reviewerID)
	req := flaggedRequest("r1")
	req.SelectedTime = sql.NullTime{Time: monday(10, 0), Valid: true}
	req.BookingAttempts = 3
	env.create(t, req)

	resumed, err := reviews.Resume(context.Background(), reviewerID, "r1")
	require.NoError(t, err)
	assert.Equal(t, scheduling.StatusConfirming, resumed.Status)
	assert.Zero(t, resumed.BookingAttempts)

	res, err := env.autopilot.RunBatch(context.Background(), BatchOptions{Workflows: []Workflow{WorkflowBookings}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, scheduling.StatusConfirmed, env.get(t, "r1").Status)
}

func TestReviewService_CancelRemovesEvent(t *testing.T) {
	env := newTestEnv(t)
	reviews := NewReviewService(env.service, env.calendar, reviewerID)
	req := confirmingRequest("r1")
	req.Status = scheduling.StatusConfirmed
	req.CalendarEventID = sql.NullString{String: "evt-5", Valid: true}
	req.MeetingLink = "https://meet.example.com/5"
	env.create(t, req)

	cancelled, err := reviews.Cancel(context.Background(), reviewerID, "r1", "customer went silent")
	require.NoError(t, err)
	assert.Equal(t, scheduling.StatusCancelled, cancelled.Status)
	assert.Equal(t, []string{"evt-5"}, env.calendar.deleted)

	stored := env.get(t, "r1")
	assert.False(t, stored.CalendarEventID.Valid)
	assert.Empty(t, stored.MeetingLink)
	assert.Equal(t, []scheduling.ActionType{scheduling.ActionCancelled}, env.actionTypes(t, "r1"))

	_, err = reviews.Cancel(context.Background(), reviewerID, "r1", "")
	assert.ErrorIs(t, err, ErrAlreadyClosed)
}

func confirmedRequest(id, eventID string) *scheduling.Request {
	req := confirmingRequest(id)
	req.Status = scheduling.StatusConfirmed
	req.CalendarEventID = sql.NullString{String: eventID, Valid: true}
	req.MeetingLink = "https://meet.example.com/" + eventID
	return req
}

func TestReviewService_CancelLosingRaceKeepsEvent(t *testing.T) {
	env := newTestEnv(t)
	reviews := NewReviewService(env.service, env.calendar, reviewerID)
	env.create(t, confirmedRequest("r1", "evt-9"))

	env.store.CommitHook = func(next *scheduling.Request) {
		env.store.CommitHook = nil
		env.store.Put(env.get(t, "r1"))
	}
	_, err := reviews.Cancel(context.Background(), reviewerID, "r1", "")
	assert.ErrorIs(t, err, scheduling.ErrConcurrencyConflict)
	assert.Empty(t, env.calendar.deleted)

	stored := env.get(t, "r1")
	assert.Equal(t, scheduling.StatusConfirmed, stored.Status)
	assert.Equal(t, sql.NullString{String: "evt-9", Valid: true}, stored.CalendarEventID)
	assert.Empty(t, env.actionTypes(t, "r1"))
}

func TestReviewService_CancelSurvivesFailedEventDelete(t *testing.T) {
	env := newTestEnv(t)
	reviews := NewReviewService(env.service, env.calendar, reviewerID)
	env.create(t, confirmedRequest("r1", "evt-9"))
	env.calendar.deleteErr = errors.New("calendar down")

	cancelled, err := reviews.Cancel(context.Background(), reviewerID, "r1", "")
	require.NoError(t, err)
	assert.Equal(t, scheduling.StatusCancelled, cancelled.Status)

	stored := env.get(t, "r1")
	assert.Equal(t, scheduling.StatusCancelled, stored.Status)
	assert.False(t, stored.CalendarEventID.Valid)
	assert.Equal(t, []scheduling.ActionType{
		scheduling.ActionCancelled, scheduling.ActionEventDeleteFailed,
	}, env.actionTypes(t, "r1"))
}

func TestReviewService_UnknownRequest(t *testing.T) {
	env := newTestEnv(t)
	reviews := NewReviewService(env.service, env.calendar, reviewerID)
	_, err := reviews.Cancel(context.Background(), reviewerID, "missing", "")
	assert.ErrorIs(t, err, scheduling.ErrRequestNotFound)
}
