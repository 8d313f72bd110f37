package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/user/tiktok-scheduler-go/internal/accountlock"
	"github.com/user/tiktok-scheduler-go/internal/bot"
	"github.com/user/tiktok-scheduler-go/internal/config"
	"github.com/user/tiktok-scheduler-go/internal/media"
	"github.com/user/tiktok-scheduler-go/internal/notify"
	"github.com/user/tiktok-scheduler-go/internal/publisher"
	"github.com/user/tiktok-scheduler-go/internal/scheduler"
	"github.com/user/tiktok-scheduler-go/internal/server"
	"github.com/user/tiktok-scheduler-go/internal/service"
	"github.com/user/tiktok-scheduler-go/internal/store"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout = 30 * time.Second
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	level, _ := zerolog.ParseLevel(cfg.Log.Level)
	zerolog.SetGlobalLevel(level)
	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var st store.Store
	switch cfg.DB.Driver {
	case config.DriverMemory:
		log.Warn().Msg("Using in-memory store, schedules are lost on restart")
		st = store.NewMemoryStore()
	default:
		mysqlStore, err := store.NewMySQLStore(&cfg.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		st = mysqlStore
		log.Info().Msg("Database connection established")
	}

	files, err := media.NewStorage(&cfg.Media)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare media storage")
	}

	svc, err := service.NewService(st, files, &cfg.Engine)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create service")
	}

	// Telegram is optional; without a token neither commands nor notifications run
	var telegramClient *bot.Client
	var notifier scheduler.Notifier
	if cfg.Bot.Enabled() {
		telegramClient, err = bot.NewClient(cfg.Bot.Token, cfg.Bot.ChatID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Telegram client")
		}
		notifier = notify.NewService(telegramClient, telegramClient.ChatID())
	}

	browserPublisher := publisher.NewBrowserPublisher(&cfg.Publisher)
	dispatcher := scheduler.NewDispatcher(st, accountlock.NewRegistry(), browserPublisher, files, notifier, cfg.Engine.PublishTimeout)
	sched := scheduler.NewScheduler(st, dispatcher, &cfg.Engine)

	httpServer := server.NewServer(st, svc, sched, files.UploadDir(), cfg.Media.MaxUploadMB<<20)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := httpServer.Start(cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	if err := sched.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	if telegramClient != nil {
		botHandler := bot.NewHandler(svc, sched, telegramClient)
		go func() {
			log.Info().Msg("Starting Telegram bot polling")
			for update := range telegramClient.Updates() {
				botHandler.HandleUpdate(ctx, update)
			}
		}()
	}

	log.Info().Msg("Upload scheduler started successfully")

	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()

	log.Info().Msg("Starting graceful shutdown...")

	// 1. Stop polling; attempts already claimed run to completion
	sched.Stop()

	// 2. Stop Telegram bot polling
	if telegramClient != nil {
		telegramClient.StopReceivingUpdates()
		log.Info().Msg("Telegram bot polling stopped")
	}

	// 3. Stop HTTP server
	if err := httpServer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping HTTP server")
	} else {
		log.Info().Msg("HTTP server stopped")
	}

	// 4. Close database connection pool
	if err := st.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing database connection")
	} else {
		log.Info().Msg("Database connection closed")
	}

	cancel()

	select {
	case <-shutdownCtx.Done():
		if shutdownCtx.Err() == context.DeadlineExceeded {
			log.Warn().Msg("Shutdown timeout exceeded, forcing exit")
		}
	default:
		log.Info().Msg("Graceful shutdown completed")
	}
}
