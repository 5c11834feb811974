// internal/app/classifier.go
package app

import (
	"context"
	"fmt"
	"math"
	"time"

	"scheduling_autopilot/internal/domain/intent"
	"scheduling_autopilot/internal/domain/scheduling"

	"github.com/sirupsen/logrus"
)

// Classification is the engine's validated view of an oracle result.
type Classification struct {
	Intent         intent.Intent
	OracleIntent   intent.Intent
	ExtractedTimes []time.Time
	// CounterTime is the first extracted time outside the offered windows.
	CounterTime time.Time
	Confidence  float64
	Reasoning   string
	Overridden  bool
}

// IntentClassifier asks the oracle and enforces engine policy on its answer.
type IntentClassifier struct {
	oracle  intent.Oracle
	timeout time.Duration
	logger  *logrus.Entry
}

func NewIntentClassifier(oracle intent.Oracle, timeout time.Duration, logger *logrus.Entry) *IntentClassifier {
	return &IntentClassifier{oracle: oracle, timeout: timeout, logger: logger}
}

// Classify returns the validated classification of email in the context of req.
// Oracle failures, including timeouts, are returned as *scheduling.ExternalServiceError.
func (c *IntentClassifier) Classify(ctx context.Context, req *scheduling.Request, email *scheduling.IncomingEmail) (*Classification, error) {
	stageCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.oracle.Classify(stageCtx, intent.Input{
		Subject:        email.Subject,
		Body:           email.Text(),
		OfferedWindows: req.ProposedWindows,
		Timezone:       req.Timezone,
		ReceivedAt:     email.ReceivedAt,
	})
	if err != nil {
		return nil, &scheduling.ExternalServiceError{Service: "oracle", Err: err}
	}
	if res == nil {
		return nil, &scheduling.ExternalServiceError{Service: "oracle", Err: fmt.Errorf("empty classification")}
	}

	cls := c.validate(req, res)
	c.logger.WithFields(logrus.Fields{
		"request_id":    req.ID,
		"message_id":    email.ID,
		"oracle_intent": res.Intent,
		"intent":        cls.Intent,
		"confidence":    cls.Confidence,
		"times":         len(cls.ExtractedTimes),
		"overridden":    cls.Overridden,
	}).Info("Message classified")
	return cls, nil
}

// validate normalizes the oracle result and applies the explicit-new-time override.
func (c *IntentClassifier) validate(req *scheduling.Request, res *intent.Result) *Classification {
	cls := &Classification{
		Intent:       res.Intent,
		OracleIntent: res.Intent,
		Confidence:   res.Confidence,
		Reasoning:    res.Reasoning,
	}
	if !cls.Intent.Valid() {
		cls.Intent = intent.Ambiguous
		cls.Reasoning = fmt.Sprintf("oracle returned unknown intent %q: %s", res.Intent, res.Reasoning)
	}
	if math.IsNaN(cls.Confidence) || cls.Confidence < 0 || cls.Confidence > 1 {
		cls.Confidence = 0
	}

	loc := req.Loc()
	seen := make(map[int64]bool)
	for _, t := range res.ExtractedTimes {
		if t.IsZero() {
			continue
		}
		t = t.In(loc).Truncate(time.Minute)
		if seen[t.Unix()] {
			continue
		}
		seen[t.Unix()] = true
		cls.ExtractedTimes = append(cls.ExtractedTimes, t)
	}

	for _, t := range cls.ExtractedTimes {
		if _, offered := req.WindowFor(t); !offered {
			cls.CounterTime = t
			break
		}
	}

	switch {
	case !cls.CounterTime.IsZero():
		// An explicit new time overrides whatever sentiment the text expressed.
		if cls.Intent != intent.CounterPropose {
			cls.Overridden = true
			cls.Intent = intent.CounterPropose
		}
	case cls.Intent == intent.CounterPropose && len(cls.ExtractedTimes) > 0:
		// Every proposed time is one we offered: the reply picks an offered window.
		cls.Overridden = true
		cls.Intent = intent.Accept
	case cls.Intent == intent.CounterPropose:
		cls.Overridden = true
		cls.Intent = intent.Ambiguous
		cls.Reasoning = "counter-proposal without a concrete time: " + cls.Reasoning
	}
	return cls
}
