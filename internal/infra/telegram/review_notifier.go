// internal/infra/telegram/review_notifier.go
package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"scheduling_autopilot/internal/domain/scheduling"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const (
	uniqueCancel = "rv_cancel"
	uniqueResume = "rv_resume"
)

// ReviewNotifier posts flagged requests to the reviewer chat with Cancel/Resume buttons.
type ReviewNotifier struct {
	client Client
	chatID int64
	logger *logrus.Entry
}

func NewReviewNotifier(client Client, chatID int64, logger *logrus.Entry) *ReviewNotifier {
	return &ReviewNotifier{client: client, chatID: chatID, logger: logger}
}

func (n *ReviewNotifier) NotifyNeedsReview(ctx context.Context, req *scheduling.Request, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text := formatFlag(req, reason)
	if err := n.client.SendMessage(n.chatID, text, &telebot.SendOptions{ReplyMarkup: reviewMarkup(req.ID)}); err != nil {
		return fmt.Errorf("failed to send review notification for %s: %w", req.ID, err)
	}
	n.logger.WithField("request_id", req.ID).Debug("Review notification sent")
	return nil
}

func reviewMarkup(requestID string) *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{}
	btnCancel := markup.Data("Cancel", uniqueCancel, requestID)
	btnResume := markup.Data("Resume", uniqueResume, requestID)
	markup.Inline(markup.Row(btnCancel, btnResume))
	return markup
}

func formatFlag(req *scheduling.Request, reason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Needs review: %s\n", req.Title)
	fmt.Fprintf(&b, "Request: %s\n", req.ID)
	var external []string
	for _, a := range req.ExternalAttendees() {
		external = append(external, a.Email)
	}
	if len(external) > 0 {
		fmt.Fprintf(&b, "With: %s\n", strings.Join(external, ", "))
	}
	if req.SelectedTime.Valid {
		fmt.Fprintf(&b, "Selected: %s\n", req.SelectedTime.Time.In(req.Loc()).Format(time.RFC1123))
	}
	fmt.Fprintf(&b, "Reason: %s", reason)
	return b.String()
}

func formatPending(reqs []*scheduling.Request) string {
	if len(reqs) == 0 {
		return "No requests are waiting for review."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "--- Waiting for review (%d) ---\n", len(reqs))
	for _, r := range reqs {
		fmt.Fprintf(&b, "%s  %s  (last action %s)\n", r.ID, r.Title, r.LastActionAt.Format("2006-01-02 15:04"))
	}
	return b.String()
}
