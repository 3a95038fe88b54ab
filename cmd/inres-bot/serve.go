package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/phonginreallife/inres-oncall/authz"
	"github.com/phonginreallife/inres-oncall/handlers"
	"github.com/phonginreallife/inres-oncall/internal/config"
	"github.com/phonginreallife/inres-oncall/internal/observability"
	"github.com/phonginreallife/inres-oncall/router"
	"github.com/phonginreallife/inres-oncall/services"
	"github.com/phonginreallife/inres-oncall/workers"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the escalation workers and the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.App
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := observability.NewLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	loc, err := cfg.Escalation.Location()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observability.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	b := &backends{cfg: cfg, logger: logger}
	st, err := b.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, closeSessions, err := b.openSessions(ctx)
	if err != nil {
		return err
	}
	defer closeSessions()

	telegram, err := services.NewTelegramService(cfg.TelegramBotToken, logger.Named("telegram"))
	if err != nil {
		return err
	}

	notifications := workers.NewNotificationWorker(telegram, cfg.Notification.Workers, cfg.Notification.QueueSize,
		logger.Named("notifications"), metrics)
	// queued messages are still delivered while shutting down
	notifications.Start(context.WithoutCancel(ctx))
	defer notifications.Stop()

	gate := authz.NewGate(cfg.SuperAdminID)

	escalation := services.NewEscalationService(st, notifications, services.EscalationConfig{
		ReminderAfter: cfg.Escalation.ReminderAfter,
		EscalateAfter: cfg.Escalation.EscalateAfter,
		Location:      loc,
	}, logger.Named("escalation"), metrics)

	incidents := workers.NewIncidentWorker(st, escalation, logger.Named("incident_worker"))
	escalation.SetScheduler(incidents)
	defer incidents.Stop()

	if cfg.Firebase.PushEnabled {
		app, err := b.firebaseApp(ctx)
		if err != nil {
			return err
		}
		fcm, err := services.NewFCMService(ctx, app, logger.Named("fcm"))
		if err != nil {
			return err
		}
		escalation.SetPusher(fcm)
	}

	if n, err := incidents.Recover(ctx); err != nil {
		logger.Error("failed to recover pending incidents", zap.Error(err))
	} else if n > 0 {
		logger.Info("recovered pending incidents", zap.Int("count", n))
	}

	directory := services.NewDirectoryService(st, gate, logger.Named("directory"))
	directory.SetClock(time.Now, loc)
	roster := services.NewRosterService(st, sessions, gate, logger.Named("roster"), metrics)
	roster.SetClock(time.Now, loc)

	bot := handlers.NewBotHandler(telegram, notifications, directory, roster, escalation, logger.Named("bot"), metrics)
	bot.BotUsername = telegram.Username()
	defer bot.Wait()

	deps := router.Dependencies{
		Store:         st,
		Authorizer:    gate,
		Directory:     directory,
		Gatherer:      reg,
		JWTSecret:     cfg.JWTSecret,
		WebhookSecret: cfg.WebhookSecret,
		Logger:        logger.Named("http"),
	}
	if cfg.Mode == "webhook" {
		deps.Bot = bot
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.NewGinRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Mode == "webhook" {
		url := strings.TrimRight(cfg.WebhookURL, "/") + "/telegram/webhook/" + cfg.WebhookSecret
		if err := telegram.SetWebhook(url); err != nil {
			return err
		}
	} else if err := telegram.RemoveWebhook(); err != nil {
		logger.Warn("failed to remove webhook before polling", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return incidents.Run(gctx, cfg.Escalation.SweepInterval)
	})

	if cfg.Mode != "webhook" {
		updates := telegram.Updates(gctx)
		g.Go(func() error {
			bot.Poll(gctx, updates)
			return nil
		})
	}

	logger.Info("bot started",
		zap.String("mode", cfg.Mode),
		zap.String("username", bot.BotUsername),
		zap.String("store", cfg.StoreDriver))

	err = g.Wait()
	logger.Info("shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
