package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"oralgrader/internal/api"
	"oralgrader/internal/config"
	"oralgrader/internal/pipeline"
	"oralgrader/internal/telegram"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and its HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Error("failed to load configuration")
		return err
	}
	log := newLogger(cfg, os.Stderr)
	if cfg.TelegramMode == config.TelegramOff {
		return fmt.Errorf("serve needs TELEGRAM_MODE polling or webhook")
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bot := telegram.NewClient(cfg.TelegramAPIURL, cfg.TelegramToken, log)
	a, err := buildApp(ctx, cfg, log, bot, bot)
	if err != nil {
		log.WithError(err).Error("failed to start")
		return err
	}
	stopQueue := a.startQueue(ctx)
	dispatcher := pipeline.NewDispatcher(a.orchestrator, int64(cfg.MaxConcurrentEvents), log)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	handler := &api.Handler{
		Interactions:  a.interactions,
		WebhookSecret: cfg.TelegramWebhookSecret,
		RubricVersion: a.bundle.Version,
		STTProvider:   a.provider.Name(),
		Log:           log,
	}
	if cfg.TelegramMode == "webhook" {
		handler.Dispatcher = dispatcher
	}
	api.RegisterRoutes(r, handler)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logrus.Fields{"port": cfg.Port, "mode": cfg.TelegramMode}).Info("oralgrader running")
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
	if cfg.TelegramMode == "polling" {
		poller := telegram.NewPoller(bot, dispatcher, log)
		g.Go(func() error { return poller.Run(gctx) })
	}

	err = g.Wait()

	// in-flight events first, then the log they write to, then the uploads they queued
	log.Info("shutting down")
	dispatcher.Wait()
	if cerr := a.interactions.Close(); cerr != nil {
		log.WithError(cerr).Warn("failed to close interaction log")
	}
	stopQueue()

	if err != nil {
		log.WithError(err).Error("server stopped with error")
	}
	return err
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"component": "http",
			"method":    c.Request.Method,
			"path":      c.FullPath(),
			"status":    c.Writer.Status(),
			"latency":   time.Since(start).String(),
		}).Debug("request handled")
	}
}
