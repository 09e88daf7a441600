// Command printbridge accepts receipt print jobs over HTTP and delivers them
// to ESC/POS network printers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/printbridge/internal/api"
	"github.com/orrn/printbridge/internal/api/middleware"
	"github.com/orrn/printbridge/internal/archive"
	"github.com/orrn/printbridge/internal/config"
	"github.com/orrn/printbridge/internal/core"
	"github.com/orrn/printbridge/internal/db"
	"github.com/orrn/printbridge/internal/events"
	"github.com/orrn/printbridge/internal/logger"
	"github.com/orrn/printbridge/internal/webhook"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "./config.yaml", "path to the YAML config file")
	hashKey := flag.String("hash-key", "", "print the bcrypt hash of an API key for auth.api_key_hash and exit")
	flag.Parse()

	if *hashKey != "" {
		hash, err := middleware.HashKey(*hashKey)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "printbridge:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer log.Sync()

	opts, err := core.OptionsFromConfig(&cfg.Printer)
	if err != nil {
		return fmt.Errorf("invalid printer config: %w", err)
	}

	var dialer core.Dialer
	if cfg.Printer.DryRun {
		dry, err := core.NewDryRunDialer(cfg.Printer.DryRunDir)
		if err != nil {
			return err
		}
		dialer = dry
		log.Warn("dry-run mode, no printer will be contacted", zap.String("capture_dir", cfg.Printer.DryRunDir))
	} else {
		dialer = core.TCPDialer(cfg.Printer.ConnectTimeout)
	}

	bridge := core.NewBridge(opts, dialer, log.With(zap.String("component", "bridge")))
	deps := api.Deps{Config: cfg, Printer: bridge, Log: log}

	hub := events.NewHub(cfg.Server.AllowedOrigins, log)
	defer hub.Close()
	bridge.AddObserver(hub)
	deps.Events = hub

	if len(cfg.Webhooks.Endpoints) > 0 {
		sender := webhook.NewSender(webhook.ConfigFrom(&cfg.Webhooks), log)
		sender.Start()
		defer sender.Stop()
		bridge.AddObserver(sender)
		deps.Webhooks = sender
	}

	if cfg.Journal.Path != "" {
		store, err := db.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		bridge.AddObserver(db.NewJournal(store, log.With(zap.String("component", "journal"))))
		deps.Journal = store

		archiver, err := archive.NewArchiver(store, archive.ArchiveConfig{
			ArchivePath:   cfg.Journal.ArchivePath,
			RetentionDays: cfg.Journal.RetentionDays,
		}, log.With(zap.String("component", "archive")))
		if err != nil {
			return err
		}
		archiver.Start()
		defer archiver.Stop()
		deps.Archiver = archiver

		log.Info("job journal enabled", zap.String("path", cfg.Journal.Path))
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := api.NewRouter(deps)
	if err != nil {
		return err
	}

	srv := api.NewServer(cfg, router)

	errCh := make(chan error, 1)
	go func() {
		log.Info("print bridge listening",
			zap.Int("port", cfg.Server.Port),
			zap.Bool("auth", cfg.Auth.Enabled()),
			zap.Bool("status_check", cfg.Printer.StatusCheck),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
