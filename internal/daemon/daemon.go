// Package daemon wires the murmur components together: job store, pipeline,
// scheduler, and API server. A file lock guarantees a single instance per
// jobs directory.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"murmur/internal/api"
	"murmur/internal/config"
	"murmur/internal/jobs"
	"murmur/internal/logging"
	"murmur/internal/pipeline"
	"murmur/internal/scheduler"
	"murmur/internal/services/llm"
	"murmur/internal/services/pyannote"
	"murmur/internal/services/whisper"
)

type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	lock   *flock.Flock
	store  *jobs.SQLiteStore
	sched  *scheduler.Scheduler
	server *api.Server

	running atomic.Bool
}

func New(cfg *config.Config, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Daemon{
		cfg:    cfg,
		logger: logger.With(logging.String(logging.FieldComponent, "daemon")),
	}
}

// Start brings the daemon up: lock, store, recovery, scheduler, API. It
// returns once everything is serving.
func (d *Daemon) Start(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return fmt.Errorf("daemon already running")
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		d.running.Store(false)
		return err
	}

	d.lock = flock.New(filepath.Join(d.cfg.Paths.JobsDir, "murmurd.lock"))
	locked, err := d.lock.TryLock()
	if err != nil {
		d.running.Store(false)
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !locked {
		d.running.Store(false)
		return fmt.Errorf("another murmurd instance holds %s", d.lock.Path())
	}

	store, err := jobs.OpenSQLite(ctx, d.cfg)
	if err != nil {
		d.releaseLock()
		d.running.Store(false)
		return err
	}
	d.store = store

	processor := pipeline.New(
		store,
		whisper.New(d.cfg, d.logger),
		pyannote.New(d.cfg, d.logger),
		llm.New(d.cfg, d.logger),
		d.logger,
	)
	d.sched = scheduler.New(store, processor, d.cfg, d.logger)

	recovered, err := recoverJobs(ctx, store, d.sched, d.logger)
	if err != nil {
		d.teardown(ctx)
		return err
	}
	if recovered > 0 {
		d.logger.Info("recovered jobs from previous run", logging.Int("count", recovered))
	}

	d.sched.Start(ctx)

	d.server = api.NewServer(d.cfg, store, d.sched, d.logger)
	if err := d.server.Start(ctx); err != nil {
		d.teardown(ctx)
		return err
	}

	d.logger.Info("daemon started", logging.String("addr", d.server.Addr()))
	return nil
}

// Stop shuts components down in reverse start order.
func (d *Daemon) Stop(ctx context.Context) error {
	if !d.running.CompareAndSwap(true, false) {
		return nil
	}
	var firstErr error
	if d.server != nil {
		if err := d.server.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.sched != nil {
		if err := d.sched.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.releaseLock()
	d.logger.Info("daemon stopped")
	return firstErr
}

// Addr returns the API listen address once started.
func (d *Daemon) Addr() string {
	if d.server == nil {
		return d.cfg.Paths.APIBind
	}
	return d.server.Addr()
}

func (d *Daemon) teardown(ctx context.Context) {
	if d.sched != nil {
		_ = d.sched.Stop()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
	d.releaseLock()
	d.running.Store(false)
}

func (d *Daemon) releaseLock() {
	if d.lock != nil {
		_ = d.lock.Unlock()
	}
}

type enqueuer interface {
	Enqueue(jobID string, priority int) error
}

// recoverJobs re-admits unfinished work after a restart. ListJobs first heals
// every cached status from the surviving artifacts; queued jobs then go back
// on the queue, and jobs interrupted mid-processing are reprocessed from the
// top since every stage write is idempotent.
func recoverJobs(ctx context.Context, store jobs.Store, queue enqueuer, logger *slog.Logger) (int, error) {
	listed, _, err := store.ListJobs(ctx, "", 0, 0)
	if err != nil {
		return 0, fmt.Errorf("list jobs for recovery: %w", err)
	}
	recovered := 0
	for _, job := range listed {
		if job.Status != jobs.StatusQueued && job.Status != jobs.StatusProcessing {
			continue
		}
		if err := queue.Enqueue(job.ID, 0); err != nil {
			logger.Warn("requeue failed during recovery",
				logging.String(logging.FieldJobID, job.ID), logging.Error(err))
			continue
		}
		recovered++
	}
	return recovered, nil
}
