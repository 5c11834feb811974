package telegram

import (
	"unicode/utf8"

	"gopkg.in/telebot.v3"
)

// maxMessageRunes is Telegram's limit for one text message.
const maxMessageRunes = 4096

const truncationMark = "\n…"

// Client sends text to a Telegram chat.
type Client interface {
	SendMessage(chatID int64, text string, options *telebot.SendOptions) error
}

// TelebotAdapter sends through a telebot.Bot. The reviewer chat may be a group, so the
// recipient is a chat id rather than a user.
type TelebotAdapter struct {
	bot *telebot.Bot
}

func NewTelebotAdapter(b *telebot.Bot) *TelebotAdapter {
	return &TelebotAdapter{bot: b}
}

func (a *TelebotAdapter) SendMessage(chatID int64, text string, options *telebot.SendOptions) error {
	if options == nil {
		options = &telebot.SendOptions{}
	}
	_, err := a.bot.Send(telebot.ChatID(chatID), fitMessage(text), options)
	return err
}

// fitMessage cuts text that Telegram would reject as too long.
func fitMessage(text string) string {
	if utf8.RuneCountInString(text) <= maxMessageRunes {
		return text
	}
	keep := maxMessageRunes - utf8.RuneCountInString(truncationMark)
	runes := []rune(text)
	return string(runes[:keep]) + truncationMark
}
