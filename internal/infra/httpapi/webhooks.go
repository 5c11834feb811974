// internal/infra/httpapi/webhooks.go
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"scheduling_autopilot/internal/app"
	"scheduling_autopilot/internal/domain/scheduling"

	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

// Inbox persists inbound messages so the batch can pick them up if processing fails here.
type Inbox interface {
	Save(ctx context.Context, m *scheduling.IncomingEmail) (bool, error)
}

// MessageProcessor is the single-message entry point of the engine.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, email *scheduling.IncomingEmail) (*app.Outcome, error)
}

// InboundEmailHandler accepts signed IncomingEmail payloads from the mail provider.
func InboundEmailHandler(secret string, now func() time.Time, inbox Inbox, processor MessageProcessor, logger *logrus.Entry) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		body, err := readBody(r, maxBodyBytes)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := VerifySignature(secret, r.Header.Get("X-Timestamp"), r.Header.Get("X-Signature"), body, now()); err != nil {
			switch {
			case errors.Is(err, ErrInvalidTimestamp), errors.Is(err, ErrTimestampOutsideWindow):
				writeError(w, http.StatusBadRequest, err.Error())
			default:
				writeError(w, http.StatusUnauthorized, err.Error())
			}
			return
		}

		var email scheduling.IncomingEmail
		if err := json.Unmarshal(body, &email); err != nil {
			writeError(w, http.StatusBadRequest, "invalid email payload")
			return
		}
		email.ID = strings.TrimSpace(email.ID)
		if email.ID == "" || email.SenderAddress == "" {
			writeError(w, http.StatusBadRequest, "id and senderAddress are required")
			return
		}
		if email.ReceivedAt.IsZero() {
			email.ReceivedAt = now()
		}

		log := logger.WithField("message_id", email.ID)
		created, err := inbox.Save(r.Context(), &email)
		if err != nil {
			log.WithError(err).Error("Failed to store inbound email")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !created {
			log.Debug("Inbound email redelivered")
		}

		out, err := processor.ProcessMessage(r.Context(), &email)
		if err != nil {
			var ext *scheduling.ExternalServiceError
			var integrity *scheduling.DataIntegrityError
			switch {
			case errors.Is(err, app.ErrInvalidMessage):
				writeError(w, http.StatusBadRequest, err.Error())
			case errors.As(err, &ext):
				log.WithError(err).Warn("Processing deferred, external service unavailable")
				writeError(w, http.StatusServiceUnavailable, ext.Service+" unavailable")
			case errors.As(err, &integrity):
				log.WithError(err).Error("Matched request is incomplete")
				writeError(w, http.StatusUnprocessableEntity, err.Error())
			default:
				log.WithError(err).Error("Failed to process inbound email")
				writeError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}
		writeJSON(w, http.StatusAccepted, out)
	}
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

func HealthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func readBody(r *http.Request, limit int64) ([]byte, error) {
	defer r.Body.Close()
	b, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, errors.New("failed to read body")
	}
	if int64(len(b)) > limit {
		return nil, errors.New("payload too large")
	}
	return b, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
