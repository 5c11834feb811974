// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func RegisterBotCommands(b *telebot.Bot, adminTelegramID int64, baseLogger *logrus.Entry) {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")

	b.Handle("/start", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/start").WithField("sender_id", senderID)
		logCtx.Info("Processing /start command")

		if senderID == adminTelegramID {
			return c.Send("Hi " + c.Sender().FirstName + "! I will post scheduling requests that need your review here. Use /help for commands.")
		}
		logCtx.Info("User is unknown")
		return c.Send("This bot only serves the scheduling reviewer.")
	})

	b.Handle("/help", func(c telebot.Context) error {
		if c.Sender().ID != adminTelegramID {
			return c.Send("No commands are available to you.")
		}
		return c.Send(helpText(), &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
	})
}

func helpText() string {
	var helpText strings.Builder
	helpText.WriteString("Reviewer commands:\n\n")
	helpText.WriteString("`/pending`\n - List requests waiting for review.\n\n")
	helpText.WriteString("`/cancel <request id> [reason]`\n - Cancel a request and remove its calendar event.\n\n")
	helpText.WriteString("`/resume <request id>`\n - Hand a reviewed request back to the autopilot.\n\n")
	helpText.WriteString("`/help`\n - Show this message.")
	return helpText.String()
}
