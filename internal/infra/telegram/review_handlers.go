// internal/infra/telegram/review_handlers.go
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"scheduling_autopilot/internal/app"
	"scheduling_autopilot/internal/domain/scheduling"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const pendingListLimit = 20

// Reviewer is the review service as seen by the bot.
type Reviewer interface {
	ListPending(ctx context.Context, performingAdminID int64, limit int) ([]*scheduling.Request, error)
	Cancel(ctx context.Context, performingAdminID int64, requestID, reason string) (*scheduling.Request, error)
	Resume(ctx context.Context, performingAdminID int64, requestID string) (*scheduling.Request, error)
}

// RegisterReviewHandlers registers the reviewer commands and the inline button callbacks.
func RegisterReviewHandlers(ctx context.Context, b *telebot.Bot, reviewer Reviewer, adminTelegramID int64, baseLogger *logrus.Entry) {
	b.Handle("/pending", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/pending",
			"sender_id": c.Sender().ID,
		})
		if c.Sender().ID != adminTelegramID {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send("Error: you are not allowed to use this command.")
		}
		reqs, err := reviewer.ListPending(ctx, c.Sender().ID, pendingListLimit)
		if err != nil {
			handlerLogger.WithError(err).Error("Failed to list pending requests")
			return c.Send(describeError(err))
		}
		return c.Send(formatPending(reqs))
	})

	b.Handle("/cancel", func(c telebot.Context) error {
		return handleReviewCommand(c, adminTelegramID, baseLogger.WithField("handler", "/cancel"), func(id string) (string, error) {
			reason := strings.TrimSpace(strings.Join(c.Args()[1:], " "))
			req, err := reviewer.Cancel(ctx, c.Sender().ID, id, reason)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Request %s cancelled.", req.ID), nil
		})
	})

	b.Handle("/resume", func(c telebot.Context) error {
		return handleReviewCommand(c, adminTelegramID, baseLogger.WithField("handler", "/resume"), func(id string) (string, error) {
			req, err := reviewer.Resume(ctx, c.Sender().ID, id)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Request %s resumed, now %s.", req.ID, req.Status), nil
		})
	})

	b.Handle(&telebot.Btn{Unique: uniqueCancel}, func(c telebot.Context) error {
		return handleReviewCallback(c, adminTelegramID, baseLogger.WithField("handler", uniqueCancel), func(id string) (string, error) {
			if _, err := reviewer.Cancel(ctx, c.Sender().ID, id, "cancelled from review notification"); err != nil {
				return "", err
			}
			return "Cancelled", nil
		})
	})

	b.Handle(&telebot.Btn{Unique: uniqueResume}, func(c telebot.Context) error {
		return handleReviewCallback(c, adminTelegramID, baseLogger.WithField("handler", uniqueResume), func(id string) (string, error) {
			req, err := reviewer.Resume(ctx, c.Sender().ID, id)
			if err != nil {
				return "", err
			}
			return "Resumed: " + string(req.Status), nil
		})
	})
}

func handleReviewCommand(c telebot.Context, adminTelegramID int64, log *logrus.Entry, act func(id string) (string, error)) error {
	log = log.WithField("sender_id", c.Sender().ID)
	if c.Sender().ID != adminTelegramID {
		log.Warn("Unauthorized access attempt")
		return c.Send("Error: you are not allowed to use this command.")
	}
	args := c.Args()
	if len(args) < 1 || strings.TrimSpace(args[0]) == "" {
		return c.Send("Usage: /cancel <request id> [reason] or /resume <request id>")
	}
	id := strings.TrimSpace(args[0])
	msg, err := act(id)
	if err != nil {
		log.WithError(err).WithField("request_id", id).Warn("Review command failed")
		return c.Send(describeError(err))
	}
	log.WithField("request_id", id).Info("Review command applied")
	return c.Send(msg)
}

func handleReviewCallback(c telebot.Context, adminTelegramID int64, log *logrus.Entry, act func(id string) (string, error)) error {
	id := strings.TrimSpace(c.Callback().Data)
	log = log.WithFields(logrus.Fields{"sender_id": c.Sender().ID, "request_id": id})
	if c.Sender().ID != adminTelegramID {
		log.Warn("Unauthorized callback")
		return c.Respond(&telebot.CallbackResponse{Text: "Not allowed."})
	}
	if id == "" {
		log.Warn("Callback without request id")
		return c.Respond(&telebot.CallbackResponse{Text: "Invalid request."})
	}
	msg, err := act(id)
	if err != nil {
		log.WithError(err).Warn("Review callback failed")
		return c.Respond(&telebot.CallbackResponse{Text: describeError(err)})
	}
	log.Info("Review callback applied")
	return c.Respond(&telebot.CallbackResponse{Text: msg})
}

// describeError maps service errors to reviewer-facing text.
func describeError(err error) string {
	var ext *scheduling.ExternalServiceError
	switch {
	case errors.Is(err, app.ErrReviewerNotAuthorized):
		return "Error: you are not allowed to use this command."
	case errors.Is(err, scheduling.ErrRequestNotFound):
		return "Request not found."
	case errors.Is(err, app.ErrNotAwaitingReview):
		return "Request is not waiting for review."
	case errors.Is(err, app.ErrAlreadyClosed):
		return "Request is already closed."
	case errors.Is(err, scheduling.ErrConcurrencyConflict):
		return "Request changed while you were reviewing it, check it again."
	case errors.As(err, &ext):
		return fmt.Sprintf("%s is unavailable, try again later.", ext.Service)
	}
	return "Something went wrong: " + err.Error()
}
