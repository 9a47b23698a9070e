package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"samplib/internal/config"
	"samplib/internal/daemon"
	"samplib/internal/logging"
	"samplib/internal/storage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	db, err := storage.Open(cfg)
	if err != nil {
		logger.Error("open library database", logging.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	d, err := daemon.New(cfg, db, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		os.Exit(1)
	}

	if err := d.Run(ctx); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			logger.Error("another samplibd instance holds the lock", slog.String("lock", d.Status().LockFilePath))
			os.Exit(1)
		}
		logger.Error("daemon exited", logging.Error(err))
		os.Exit(1)
	}
	logger.Info("samplibd shutting down")
}
