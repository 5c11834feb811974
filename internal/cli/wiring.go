package cli

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"scheduling_autopilot/internal/app"
	"scheduling_autopilot/internal/infra/calendar"
	"scheduling_autopilot/internal/infra/config"
	idb "scheduling_autopilot/internal/infra/database"
	"scheduling_autopilot/internal/infra/logger"
	"scheduling_autopilot/internal/infra/oracle"
	"scheduling_autopilot/internal/infra/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// environment is everything a command needs once configuration and the database are up.
type environment struct {
	cfg      *config.AppConfig
	db       *sql.DB
	inbox    *idb.PostgresInbox
	calendar *calendar.LocalCalendar
	bot      *telebot.Bot // nil without TELEGRAM_TOKEN
	deps     app.Deps
}

func setup(ctx context.Context) (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("could not load application configuration: %w", err)
	}
	logger.Init(cfg)
	log := logger.Component("main")
	log.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"log_level":   cfg.LogLevel,
		"oracle":      cfg.OracleProvider,
	}).Info("Configuration loaded")

	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}
	if err := idb.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	classifierOracle, err := oracle.New(cfg.OracleProvider, cfg.OracleModel, cfg.AnthropicAPIKey, cfg.OpenAIAPIKey)
	if err != nil {
		db.Close()
		return nil, err
	}

	freeBusy := calendar.NewICSAvailability(cfg.OrganizerFeeds, &http.Client{Timeout: 15 * time.Second}, logger.Component("availability"))
	cal := calendar.NewLocalCalendar(idb.NewPostgresCalendarStore(db), freeBusy, cfg.MeetingLinkTemplate, logger.Component("calendar"))
	inbox := idb.NewPostgresInbox(db)

	bot, notifier, err := reviewNotifier(cfg, "")
	if err != nil {
		db.Close()
		return nil, err
	}

	return &environment{
		cfg:      cfg,
		db:       db,
		inbox:    inbox,
		calendar: cal,
		bot:      bot,
		deps: app.Deps{
			Repo:      idb.NewPostgresRequestRepository(db),
			Mailbox:   inbox,
			Transport: idb.NewPostgresOutbox(db),
			Calendar:  cal,
			Oracle:    classifierOracle,
			Directory: idb.NewPostgresContactDirectory(db),
			Notifier:  notifier,
			Policy:    cfg.Policy,
			Logger:    logger.Component("engine"),
		},
	}, nil
}

// reviewNotifier builds the bot every command uses to push needs_review flags to the
// reviewer chat. Only serve starts polling it. An empty apiURL means the public Bot API.
func reviewNotifier(cfg *config.AppConfig, apiURL string) (*telebot.Bot, app.ReviewNotifier, error) {
	if cfg.TelegramToken == "" {
		logger.Component("main").Warn("TELEGRAM_TOKEN not set, review notifications disabled")
		return nil, nil, nil
	}
	bot, err := newBot(cfg.TelegramToken, apiURL)
	if err != nil {
		return nil, nil, fmt.Errorf("could not create telegram bot: %w", err)
	}
	notifier := telegram.NewReviewNotifier(telegram.NewTelebotAdapter(bot), cfg.ReviewerChatID, logger.Component("review_notifier"))
	return bot, notifier, nil
}

func newBot(token, apiURL string) (*telebot.Bot, error) {
	botLogger := logger.Component("telebot")
	pref := telebot.Settings{
		URL:    apiURL,
		Token:  token,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) {
			entry := botLogger.WithError(err)
			if c != nil && c.Sender() != nil && c.Chat() != nil {
				entry = entry.WithFields(logrus.Fields{"sender_id": c.Sender().ID, "chat_id": c.Chat().ID})
			}
			entry.Error("Telegram handler failed")
		},
	}
	return telebot.NewBot(pref)
}

func (e *environment) Close() {
	e.db.Close()
}
