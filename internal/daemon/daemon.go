// Package daemon runs the analysis pipeline as a single-instance background
// process, guarded by a file lock so two daemons never share the library
// database and index.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"samplib/internal/config"
	"samplib/internal/logging"
	"samplib/internal/pipeline"
	"samplib/internal/storage"
)

// ErrAlreadyRunning means another daemon holds the instance lock.
var ErrAlreadyRunning = errors.New("another samplib daemon is already running")

// Daemon owns the pipeline manager lifecycle and the instance lock.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *storage.DB
	manager *pipeline.Manager

	lockPath string
	lock     *flock.Flock
	running  atomic.Bool
}

// Status reports daemon runtime information.
type Status struct {
	Running      bool
	DatabasePath string
	IndexPath    string
	LockFilePath string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, db *storage.DB, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || db == nil {
		return nil, errors.New("daemon requires config and database")
	}
	lockPath := filepath.Join(cfg.DataDir, "samplibd.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "daemon"),
		db:       db,
		manager:  pipeline.NewManager(cfg, db, logger),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Run acquires the instance lock and blocks on the pipeline until the
// context ends.
func (d *Daemon) Run(ctx context.Context) error {
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock", logging.Error(err))
		}
	}()

	d.running.Store(true)
	defer d.running.Store(false)
	d.logger.Info("daemon started",
		logging.String("lock", d.lockPath),
		logging.String("database", d.db.Path()))

	err = d.manager.Run(ctx)
	d.logger.Info("daemon stopped")
	return err
}

// Manager exposes the pipeline for command handlers.
func (d *Daemon) Manager() *pipeline.Manager {
	return d.manager
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:      d.running.Load(),
		DatabasePath: d.db.Path(),
		IndexPath:    d.cfg.IndexPath(),
		LockFilePath: d.lockPath,
	}
}
