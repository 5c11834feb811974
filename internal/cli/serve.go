package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"scheduling_autopilot/internal/app"
	"scheduling_autopilot/internal/infra/httpapi"
	"scheduling_autopilot/internal/infra/logger"
	"scheduling_autopilot/internal/infra/scheduler"
	"scheduling_autopilot/internal/infra/telegram"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the inbound webhook, the cron autopilot and the review bot",
	RunE:  serve,
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := setup(ctx)
	if err != nil {
		return err
	}
	defer env.Close()
	mainLogger := logger.Component("main")

	service := app.NewSchedulingService(env.deps)
	autopilot := app.NewAutopilot(service, env.deps)

	cronScheduler := scheduler.NewAutopilotScheduler(autopilot, logger.Component("scheduler"), env.cfg.CronSpecAutopilot, env.cfg.CronSpecExpiry)
	if err := cronScheduler.Start(); err != nil {
		return err
	}
	defer cronScheduler.Stop()

	webhook := httpapi.InboundEmailHandler(env.cfg.WebhookSecret, nil, env.inbox, service, logger.Component("webhook"))
	if env.cfg.WebhookSecret == "" {
		mainLogger.Warn("WEBHOOK_SECRET not set, inbound webhook will reject every request")
	}
	server := httpapi.NewServer(env.cfg.HTTPAddr, httpapi.NewRouter(webhook, httpapi.HealthHandler(env.db), logger.Component("http")), logger.Component("http"))
	server.Start()

	if bot := env.bot; bot != nil {
		reviews := app.NewReviewService(service, env.calendar, env.cfg.AdminTelegramID)
		botLogger := logger.Component("telegram")
		telegram.RegisterBotCommands(bot, env.cfg.AdminTelegramID, botLogger)
		telegram.RegisterReviewHandlers(ctx, bot, reviews, env.cfg.AdminTelegramID, botLogger)
		go bot.Start()
		defer bot.Stop()
	}

	mainLogger.Info("Application setup complete")
	<-ctx.Done()

	mainLogger.Info("Shutting down application...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		mainLogger.WithError(err).Error("HTTP server shutdown failed")
	}
	return nil
}
