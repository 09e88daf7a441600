// Command printbridge-backup uploads the newest journal archive to an
// S3-compatible bucket. It is meant to be run from cron or a systemd timer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/printbridge/internal/backup"
	"github.com/orrn/printbridge/internal/config"
	"github.com/orrn/printbridge/internal/logger"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to the YAML config file")
	dir := flag.String("dir", "", "directory to search (overrides backup.dir)")
	pattern := flag.String("pattern", "", "glob of files to consider (overrides backup.pattern)")
	timeout := flag.Duration("timeout", 5*time.Minute, "upload timeout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "printbridge-backup:", err)
		os.Exit(1)
	}
	if *dir != "" {
		cfg.Backup.Dir = *dir
	}
	if *pattern != "" {
		cfg.Backup.Pattern = *pattern
	}

	log := logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}).With(zap.String("component", "backup"))

	err = run(cfg, *timeout, log)
	log.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, timeout time.Duration, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	uploader, err := backup.NewS3Uploader(ctx, &cfg.Backup, log)
	if err != nil {
		log.Error("failed to configure uploader", zap.Error(err))
		return err
	}

	keys, err := backup.Run(ctx, &cfg.Backup, uploader)
	if err != nil {
		log.Error("backup failed", zap.String("dir", cfg.Backup.Dir), zap.Error(err))
		return err
	}
	log.Info("backup uploaded", zap.Strings("keys", keys))
	return nil
}
