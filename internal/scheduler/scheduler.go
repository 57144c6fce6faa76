// Package scheduler admits queued jobs to a bounded worker pool. Intake is
// unbounded and priority-ordered; equal priorities run in submission order.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"murmur/internal/config"
	"murmur/internal/jobs"
	"murmur/internal/logging"
)

var (
	// ErrAlreadyQueued is returned when a job is enqueued while already
	// waiting or processing.
	ErrAlreadyQueued = errors.New("job already queued")
	// ErrJobRunning is returned when a cancellation targets a job whose
	// worker has already started.
	ErrJobRunning = errors.New("job is processing")
	// ErrNotQueued is returned when a cancellation targets a job the
	// scheduler does not hold.
	ErrNotQueued = errors.New("job is not queued")
	// ErrSchedulerStopped is returned when a job is enqueued after Stop.
	ErrSchedulerStopped = errors.New("scheduler is stopped")
)

// Runner processes one job to a terminal state.
type Runner interface {
	Process(ctx context.Context, jobID string) error
}

// Stats is a point-in-time snapshot of scheduler state.
type Stats struct {
	Running bool     `json:"running"`
	Workers int      `json:"workers"`
	Queued  int      `json:"queued"`
	Active  []string `json:"active"`
}

type entry struct {
	jobID    string
	priority int
	seq      uint64
}

// Scheduler owns the intake queue and the worker pool. Jobs enqueued before
// Start sit in intake until the dispatch loop comes up.
type Scheduler struct {
	store        jobs.Store
	runner       Runner
	logger       *slog.Logger
	workers      int
	pollInterval time.Duration
	stopTimeout  time.Duration

	mu      sync.Mutex
	running bool
	stopped bool
	queue   []entry
	pending map[string]struct{}
	active  map[string]struct{}
	seq     uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
	slots  chan struct{}
	wake   chan struct{}
}

func New(store jobs.Store, runner Runner, cfg *config.Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		store:        store,
		runner:       runner,
		logger:       logger.With(logging.String(logging.FieldComponent, "scheduler")),
		workers:      cfg.Scheduler.Workers,
		pollInterval: time.Duration(cfg.Scheduler.QueuePollInterval) * time.Second,
		stopTimeout:  time.Duration(cfg.Scheduler.StopTimeout) * time.Second,
		pending:      make(map[string]struct{}),
		active:       make(map[string]struct{}),
		wake:         make(chan struct{}, 1),
	}
}

// Start launches the dispatch loop. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Warn("scheduler already running")
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.stopped = false
	s.slots = make(chan struct{}, s.workers)
	s.wg.Add(1)
	go s.dispatch(runCtx)
	s.logger.Info("scheduler started", logging.Int("workers", s.workers))
}

// Stop halts dispatch and waits for in-flight workers up to the configured
// timeout. Jobs still waiting in intake stay queued in the store and are
// re-admitted on the next start.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-time.After(s.stopTimeout):
		return fmt.Errorf("scheduler stop timed out after %s", s.stopTimeout)
	}
}

// Enqueue adds a job to intake. Lower priority values run first; equal
// priorities keep submission order. Intake accepts jobs before Start (startup
// recovery queues ahead of the dispatch loop) but not after Stop.
func (s *Scheduler) Enqueue(jobID string, priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("enqueue %s: %w", jobID, ErrSchedulerStopped)
	}
	if _, ok := s.pending[jobID]; ok {
		return fmt.Errorf("enqueue %s: %w", jobID, ErrAlreadyQueued)
	}
	if _, ok := s.active[jobID]; ok {
		return fmt.Errorf("enqueue %s: %w", jobID, ErrAlreadyQueued)
	}
	s.seq++
	s.queue = append(s.queue, entry{jobID: jobID, priority: priority, seq: s.seq})
	sort.SliceStable(s.queue, func(i, j int) bool {
		if s.queue[i].priority != s.queue[j].priority {
			return s.queue[i].priority < s.queue[j].priority
		}
		return s.queue[i].seq < s.queue[j].seq
	})
	s.pending[jobID] = struct{}{}
	s.signal()
	return nil
}

// Cancel removes a job from intake before a worker picks it up and records
// the cancellation as the job's terminal failure. Jobs already running cannot
// be cancelled.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	s.mu.Lock()
	if _, ok := s.active[jobID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("cancel %s: %w", jobID, ErrJobRunning)
	}
	if _, ok := s.pending[jobID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("cancel %s: %w", jobID, ErrNotQueued)
	}
	delete(s.pending, jobID)
	for i, queued := range s.queue {
		if queued.jobID == jobID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if err := s.store.SaveError(ctx, jobID, "Job cancelled by user"); err != nil {
		return fmt.Errorf("record cancellation for %s: %w", jobID, err)
	}
	s.logger.Info("job cancelled", logging.String(logging.FieldJobID, jobID))
	return nil
}

// Stats reports queue depth and active workers.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := make([]string, 0, len(s.active))
	for jobID := range s.active {
		active = append(active, jobID)
	}
	sort.Strings(active)
	return Stats{
		Running: s.running,
		Workers: s.workers,
		Queued:  len(s.queue),
		Active:  active,
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dispatch(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		for s.dispatchOne(ctx) {
		}
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// dispatchOne admits the head of the queue when a worker slot is free. It
// reports whether it admitted anything.
func (s *Scheduler) dispatchOne(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case s.slots <- struct{}{}:
	default:
		return false
	}
	next, ok := s.pop()
	if !ok {
		<-s.slots
		return false
	}
	s.wg.Add(1)
	go s.runJob(ctx, next)
	return true
}

// pop moves the head entry from pending to active.
func (s *Scheduler) pop() (entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return entry{}, false
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	delete(s.pending, next.jobID)
	s.active[next.jobID] = struct{}{}
	return next, true
}

func (s *Scheduler) runJob(ctx context.Context, next entry) {
	defer s.wg.Done()
	defer func() { <-s.slots }()
	defer func() {
		s.mu.Lock()
		delete(s.active, next.jobID)
		s.mu.Unlock()
		s.signal()
	}()

	logger := s.logger.With(logging.String(logging.FieldJobID, next.jobID))
	logger.Info("job started", logging.Int("priority", next.priority))

	err := s.process(ctx, next.jobID)
	if err != nil {
		logger.Error("job failed", logging.Error(err))
	} else {
		logger.Info("job finished")
	}
	s.ensureTerminal(ctx, next.jobID, err)
}

// process shields the dispatch loop from panicking collaborators: a panic
// becomes an ordinary job failure.
func (s *Scheduler) process(ctx context.Context, jobID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processing panic: %v", r)
		}
	}()
	return s.runner.Process(ctx, jobID)
}

// ensureTerminal guarantees every admitted job ends completed or failed, even
// when the runner errored without recording a failure. Jobs interrupted by
// shutdown are left mid-stage for startup recovery instead.
func (s *Scheduler) ensureTerminal(ctx context.Context, jobID string, cause error) {
	if ctx.Err() != nil {
		return
	}
	job, err := s.store.GetJob(context.WithoutCancel(ctx), jobID)
	if err != nil || job == nil {
		return
	}
	if job.Status == jobs.StatusCompleted || job.Status == jobs.StatusFailed {
		return
	}
	message := "Processing failed"
	if cause != nil {
		message = fmt.Sprintf("Processing failed: %v", cause)
	}
	if err := s.store.SaveError(context.WithoutCancel(ctx), jobID, message); err != nil {
		s.logger.Error("recording terminal failure failed",
			logging.String(logging.FieldJobID, jobID), logging.Error(err))
	}
}
