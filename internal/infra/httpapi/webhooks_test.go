package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"scheduling_autopilot/internal/app"
	"scheduling_autopilot/internal/domain/scheduling"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSecret = "s3cret"

var webhookNow = time.Date(2026, time.July, 1, 9, 0, 0, 0, time.UTC)

type mockInbox struct{ mock.Mock }

func (m *mockInbox) Save(ctx context.Context, e *scheduling.IncomingEmail) (bool, error) {
	args := m.Called(ctx, e)
	return args.Bool(0), args.Error(1)
}

type mockProcessor struct{ mock.Mock }

func (m *mockProcessor) ProcessMessage(ctx context.Context, e *scheduling.IncomingEmail) (*app.Outcome, error) {
	args := m.Called(ctx, e)
	out, _ := args.Get(0).(*app.Outcome)
	return out, args.Error(1)
}

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func signedRequest(body string) *http.Request {
	ts := strconv.FormatInt(webhookNow.Unix(), 10)
	r := httptest.NewRequest(http.MethodPost, "/webhooks/inbound-email", strings.NewReader(body))
	r.Header.Set("X-Timestamp", ts)
	r.Header.Set("X-Signature", SignHex(testSecret, ts, []byte(body)))
	return r
}

const payload = `{"id":"m1","subject":"Re: Intro call","body":"works for me","senderAddress":"jane@acme.example","conversationId":"conv-1"}`

func serve(inbox Inbox, processor MessageProcessor, r *http.Request) *httptest.ResponseRecorder {
	h := InboundEmailHandler(testSecret, func() time.Time { return webhookNow }, inbox, processor, discardLogger())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestInboundEmailHandler_ProcessesSignedEmail(t *testing.T) {
	inbox := &mockInbox{}
	processor := &mockProcessor{}
	isM1 := mock.MatchedBy(func(e *scheduling.IncomingEmail) bool {
		return e.ID == "m1" && e.ConversationID == "conv-1" && e.ReceivedAt.Equal(webhookNow)
	})
	inbox.On("Save", mock.Anything, isM1).Return(true, nil).Once()
	processor.On("ProcessMessage", mock.Anything, isM1).Return(&app.Outcome{
		RequestID: "r1", MessageID: "m1", Matched: true, Decision: app.DecisionAccept,
		Status: scheduling.StatusConfirmed, ActionsExecuted: 5,
	}, nil).Once()

	rec := serve(inbox, processor, signedRequest(payload))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	var out app.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "r1", out.RequestID)
	assert.Equal(t, scheduling.StatusConfirmed, out.Status)
	inbox.AssertExpectations(t)
	processor.AssertExpectations(t)
}

func TestInboundEmailHandler_RejectsBeforeProcessing(t *testing.T) {
	unsigned := httptest.NewRequest(http.MethodPost, "/webhooks/inbound-email", strings.NewReader(payload))
	unsigned.Header.Set("X-Timestamp", strconv.FormatInt(webhookNow.Unix(), 10))
	unsigned.Header.Set("X-Signature", "00")

	stale := signedRequest(payload)
	stale.Header.Set("X-Timestamp", "12")

	cases := []struct {
		name string
		req  *http.Request
		code int
	}{
		{"wrong method", httptest.NewRequest(http.MethodGet, "/webhooks/inbound-email", nil), http.StatusMethodNotAllowed},
		{"bad signature", unsigned, http.StatusUnauthorized},
		{"stale timestamp", stale, http.StatusBadRequest},
		{"not json", signedRequest("hello"), http.StatusBadRequest},
		{"missing id", signedRequest(`{"senderAddress":"jane@acme.example"}`), http.StatusBadRequest},
		{"missing sender", signedRequest(`{"id":"m1"}`), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inbox := &mockInbox{}
			processor := &mockProcessor{}
			rec := serve(inbox, processor, tc.req)
			assert.Equal(t, tc.code, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
			inbox.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
			processor.AssertNotCalled(t, "ProcessMessage", mock.Anything, mock.Anything)
		})
	}
}

func TestInboundEmailHandler_MapsProcessingErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"invalid message", app.ErrInvalidMessage, http.StatusBadRequest},
		{"oracle down", &scheduling.ExternalServiceError{Service: "oracle", Err: errors.New("timeout")}, http.StatusServiceUnavailable},
		{"incomplete request", &scheduling.DataIntegrityError{RequestID: "r1", Reason: "no organizer"}, http.StatusUnprocessableEntity},
		{"unexpected", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inbox := &mockInbox{}
			processor := &mockProcessor{}
			inbox.On("Save", mock.Anything, mock.Anything).Return(false, nil)
			processor.On("ProcessMessage", mock.Anything, mock.Anything).Return(nil, tc.err)

			rec := serve(inbox, processor, signedRequest(payload))
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestInboundEmailHandler_InboxFailure(t *testing.T) {
	inbox := &mockInbox{}
	processor := &mockProcessor{}
	inbox.On("Save", mock.Anything, mock.Anything).Return(false, errors.New("connection refused"))

	rec := serve(inbox, processor, signedRequest(payload))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	processor.AssertNotCalled(t, "ProcessMessage", mock.Anything, mock.Anything)
}

type pinger struct{ err error }

func (p pinger) PingContext(ctx context.Context) error { return p.err }

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler(pinger{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	HealthHandler(pinger{err: errors.New("down")}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewRouter(t *testing.T) {
	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	router := NewRouter(webhook, HealthHandler(pinger{}), discardLogger())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/inbound-email", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
