package daemon

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"murmur/internal/jobs"
	"murmur/internal/logging"
	"murmur/internal/testsupport"
)

func TestDaemonStartServesAndStops(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = "127.0.0.1:0"
	d := New(cfg, nil)

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	defer d.Stop(ctx)

	resp, err := http.Get(fmt.Sprintf("http://%s/api/health", d.Addr()))
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.Stop(stopCtx); err != nil {
		t.Fatalf("stop daemon: %v", err)
	}
}

func TestDaemonLockRejectsSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = "127.0.0.1:0"
	first := New(cfg, nil)
	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("start first daemon: %v", err)
	}
	defer first.Stop(ctx)

	second := New(cfg, nil)
	if err := second.Start(ctx); err == nil {
		second.Stop(ctx)
		t.Fatal("second daemon should fail to acquire the lock")
	}
}

type recordingQueue struct {
	ids []string
}

func (q *recordingQueue) Enqueue(jobID string, _ int) error {
	q.ids = append(q.ids, jobID)
	return nil
}

func TestRecoverJobsRequeuesUnfinishedWork(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemory(t.TempDir())

	queued, _ := store.CreateJob(ctx, "queued.mp3", 1, jobs.Options{})
	interrupted, _ := store.CreateJob(ctx, "interrupted.mp3", 1, jobs.Options{})
	done, _ := store.CreateJob(ctx, "done.mp3", 1, jobs.Options{})
	failed, _ := store.CreateJob(ctx, "failed.mp3", 1, jobs.Options{})

	// Simulate a worker killed mid-transcription: progress exists but the
	// cached status was never updated past queued.
	if err := store.UpdateProgress(ctx, interrupted.ID, 20, "Transcribing audio"); err != nil {
		t.Fatalf("update progress: %v", err)
	}
	if err := store.MarkStage(ctx, done.ID, jobs.StageComplete); err != nil {
		t.Fatalf("mark complete: %v", err)
	}
	if err := store.SaveError(ctx, failed.ID, "boom"); err != nil {
		t.Fatalf("save error: %v", err)
	}

	queue := &recordingQueue{}
	recovered, err := recoverJobs(ctx, store, queue, logging.NewNop())
	if err != nil {
		t.Fatalf("recover jobs: %v", err)
	}
	if recovered != 2 {
		t.Fatalf("recovered = %d, want 2", recovered)
	}
	requeued := map[string]bool{}
	for _, id := range queue.ids {
		requeued[id] = true
	}
	if !requeued[queued.ID] || !requeued[interrupted.ID] {
		t.Fatalf("requeued = %v", queue.ids)
	}
	if requeued[done.ID] || requeued[failed.ID] {
		t.Fatalf("terminal jobs must not be requeued: %v", queue.ids)
	}
}
