package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mediaforge/media_downloader/internal/cleanup"
	"github.com/mediaforge/media_downloader/internal/config"
	"github.com/mediaforge/media_downloader/internal/download"
	"github.com/mediaforge/media_downloader/internal/http/rest"
	"github.com/mediaforge/media_downloader/internal/library"
	"github.com/mediaforge/media_downloader/internal/logctx"
	"github.com/mediaforge/media_downloader/internal/notifier"
	"github.com/mediaforge/media_downloader/internal/registry"
	"github.com/mediaforge/media_downloader/internal/storage/sqlite"
	"github.com/mediaforge/media_downloader/internal/telemetry"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	handler := logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("media downloader starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	store := sqlite.NewInstrumentedRecordStore(database, tel)
	catalog := library.NewCatalog(database)

	// =========================================================================
	// Start Download Manager
	downloadDir := filepath.Join(cfg.StorageDir, "downloads")

	reg := registry.New()
	engine := download.NewEngine(cfg.TransferTimeout, download.DefaultChunkSize)
	monitor := download.NewMonitor(reg, cfg.ProgressInterval)
	dl := download.NewDownloader(ctx, reg, store, catalog, engine, monitor, tel, downloadDir)

	defer dl.Close()

	// =========================================================================
	// Start Notification
	setupNotifications(ctx, dl, cfg)

	// =========================================================================
	// Start Cleanup
	setupCleanup(ctx, store, dl.PersistLocker(), cfg)

	// =========================================================================
	// Start API Service
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, dl, tel, cfg)

	go func() {
		logger.Info("initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for download requests...",
		"download_dir", downloadDir,
		"transfer_timeout", cfg.TransferTimeout.String(),
		"retention", cfg.KeepDownloadedFor.String(),
	)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}

		return nil
	}
}

func setupServer(ctx context.Context, dl *download.Downloader, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	dHandler := rest.NewDownloadHandler(dl, tel)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)
	r.Use(telemetry.HTTPLogging)

	r.Mount("/", dHandler.Routes())
	r.Handle("/metrics", tel.Handler())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func setupNotifications(ctx context.Context, dl *download.Downloader, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	if cfg.DiscordWebhookURL == "" {
		return
	}

	notif := &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}

	go func() {
		for event := range dl.OnDownloadFinished {
			logger.Info("download finished", "download_id", event.ID, "title", event.Title)

			if notifyErr := notif.Notify(ctx,
				"✅ Download finished: "+event.Title+" ("+event.ID+")",
			); notifyErr != nil {
				logger.Error("failed to send notification", "download_id", event.ID, "err", notifyErr)
			}
		}
	}()

	go func() {
		for event := range dl.OnDownloadFailed {
			logger.Error("download failed", "download_id", event.ID, "title", event.Title, "err", event.Error)

			if notifyErr := notif.Notify(ctx,
				"❌ Download failed: "+event.Title+" ("+event.Error+")",
			); notifyErr != nil {
				logger.Error("failed to send notification", "download_id", event.ID, "err", notifyErr)
			}
		}
	}()
}

func setupCleanup(ctx context.Context, store download.RecordStore, lock sync.Locker, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("cleanup goroutine shutting down")

				return
			case <-ticker.C:
				if err := cleanup.DeleteExpired(ctx, store, cfg.KeepDownloadedFor, lock); err != nil {
					logger.Error("failed to delete expired downloads", "err", err)
				}
			}
		}
	}()
}
