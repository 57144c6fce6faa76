package jobs_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"murmur/internal/jobs"
	"murmur/internal/testsupport"
)

func boolPtr(v bool) *bool { return &v }

// openStores returns both Store implementations so every semantic test runs
// against each.
func openStores(t *testing.T) map[string]jobs.Store {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return map[string]jobs.Store{
		"sqlite": testsupport.MustOpenStore(t, cfg),
		"memory": jobs.NewMemory(t.TempDir()),
	}
}

func mustCreate(t *testing.T, store jobs.Store, filename string, opts jobs.Options) *jobs.Job {
	t.Helper()
	job, err := store.CreateJob(context.Background(), filename, 1024, opts)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func TestCreateAndGetJob(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			opts := jobs.Options{EnableDiarization: boolPtr(false), WhisperModel: "small"}
			created := mustCreate(t, store, "meeting.mp3", opts)

			loaded, err := store.GetJob(ctx, created.ID)
			if err != nil {
				t.Fatalf("get job: %v", err)
			}
			if loaded == nil {
				t.Fatal("job should exist")
			}
			if loaded.OriginalFilename != "meeting.mp3" || loaded.FileSize != 1024 {
				t.Fatalf("unexpected job fields: %+v", loaded)
			}
			if loaded.Stage != jobs.StageNotStarted || loaded.Status != jobs.StatusQueued {
				t.Fatalf("new job should be queued, got stage=%s status=%s", loaded.Stage, loaded.Status)
			}
			if loaded.Options.DiarizationEnabled() {
				t.Fatal("diarization option should round-trip as disabled")
			}
			if loaded.Options.WhisperModel != "small" {
				t.Fatalf("whisper model = %q", loaded.Options.WhisperModel)
			}

			missing, err := store.GetJob(ctx, "no-such-job")
			if err != nil {
				t.Fatalf("get missing job: %v", err)
			}
			if missing != nil {
				t.Fatal("missing job should be nil")
			}
		})
	}
}

func TestSaveAudioRoundTrip(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job := mustCreate(t, store, "call.wav", jobs.Options{})

			path, err := store.SaveAudio(ctx, job.ID, strings.NewReader("RIFF fake audio"))
			if err != nil {
				t.Fatalf("save audio: %v", err)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("read stored audio: %v", err)
			}
			if string(data) != "RIFF fake audio" {
				t.Fatalf("stored audio = %q", data)
			}

			stored, err := store.AudioPath(ctx, job.ID)
			if err != nil {
				t.Fatalf("audio path: %v", err)
			}
			if stored != path {
				t.Fatalf("audio path = %q, want %q", stored, path)
			}
			if !strings.HasSuffix(stored, ".wav") {
				t.Fatalf("audio path should keep the original extension: %q", stored)
			}

			if _, err := store.SaveAudio(ctx, "no-such-job", strings.NewReader("x")); !errors.Is(err, jobs.ErrNotFound) {
				t.Fatalf("save audio for missing job: %v", err)
			}
		})
	}
}

func TestStageLifecycle(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job := mustCreate(t, store, "talk.mp3", jobs.Options{})

			if err := store.MarkStage(ctx, job.ID, jobs.StageTranscribing); err != nil {
				t.Fatalf("mark transcribing: %v", err)
			}
			if err := store.UpdateProgress(ctx, job.ID, 20, "Transcribing audio"); err != nil {
				t.Fatalf("update progress: %v", err)
			}
			transcription := &jobs.Transcription{
				Text:     "hello world",
				Segments: []jobs.Segment{{ID: 0, Start: 0, End: 1.5, Text: "hello world"}},
				Language: "en",
				Metadata: jobs.StageMetadata{Model: "base", DurationSeconds: 1.5},
			}
			if err := store.SaveTranscription(ctx, job.ID, transcription); err != nil {
				t.Fatalf("save transcription: %v", err)
			}

			loaded, err := store.GetJob(ctx, job.ID)
			if err != nil {
				t.Fatalf("get job: %v", err)
			}
			if loaded.Stage != jobs.StageTranscriptionComplete || loaded.Status != jobs.StatusProcessing {
				t.Fatalf("after transcription: stage=%s status=%s", loaded.Stage, loaded.Status)
			}

			diarization := &jobs.Diarization{
				Turns:    []jobs.SpeakerTurn{{Start: 0, End: 1.5, Speaker: "SPEAKER_00"}},
				Segments: []jobs.Segment{{ID: 0, Start: 0, End: 1.5, Text: "hello world", Speaker: "SPEAKER_00"}},
				Metadata: jobs.StageMetadata{NumSpeakers: 1, NumTurns: 1},
			}
			if err := store.SaveDiarization(ctx, job.ID, diarization); err != nil {
				t.Fatalf("save diarization: %v", err)
			}
			if err := store.SaveSummary(ctx, job.ID, "A short greeting.", jobs.StageMetadata{Model: "gpt-4o-mini"}); err != nil {
				t.Fatalf("save summary: %v", err)
			}

			loaded, err = store.GetJob(ctx, job.ID)
			if err != nil {
				t.Fatalf("get job: %v", err)
			}
			if loaded.Stage != jobs.StageComplete || loaded.Status != jobs.StatusCompleted {
				t.Fatalf("after summary: stage=%s status=%s", loaded.Stage, loaded.Status)
			}
			if loaded.CompletedAt == nil {
				t.Fatal("completed job should carry a completion timestamp")
			}

			result, err := store.GetResult(ctx, job.ID)
			if err != nil {
				t.Fatalf("get result: %v", err)
			}
			if result.Transcript != "hello world" || result.Summary != "A short greeting." {
				t.Fatalf("unexpected result: %+v", result)
			}
			if len(result.Segments) != 1 || result.Segments[0].Speaker != "SPEAKER_00" {
				t.Fatalf("result should prefer speaker-labeled segments: %+v", result.Segments)
			}
			if result.ProcessingMetadata.Transcription == nil || result.ProcessingMetadata.Diarization == nil || result.ProcessingMetadata.Summarization == nil {
				t.Fatalf("all stage metadata blocks should be present: %+v", result.ProcessingMetadata)
			}
		})
	}
}

func TestFailureIsTerminal(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job := mustCreate(t, store, "bad.mp3", jobs.Options{})

			if err := store.SaveError(ctx, job.ID, "Transcription failed: decode error"); err != nil {
				t.Fatalf("save error: %v", err)
			}
			loaded, err := store.GetJob(ctx, job.ID)
			if err != nil {
				t.Fatalf("get job: %v", err)
			}
			if loaded.Stage != jobs.StageFailed || loaded.Status != jobs.StatusFailed {
				t.Fatalf("failed job: stage=%s status=%s", loaded.Stage, loaded.Status)
			}
			if loaded.FailedAt == nil {
				t.Fatal("failed job should carry a failure timestamp")
			}

			if err := store.SaveTranscription(ctx, job.ID, &jobs.Transcription{Text: "late"}); !errors.Is(err, jobs.ErrJobFailed) {
				t.Fatalf("late transcription write: %v", err)
			}
			if err := store.MarkStage(ctx, job.ID, jobs.StageComplete); !errors.Is(err, jobs.ErrJobFailed) {
				t.Fatalf("late completion: %v", err)
			}
			if err := store.UpdateProgress(ctx, job.ID, 99, "late"); !errors.Is(err, jobs.ErrJobFailed) {
				t.Fatalf("late progress: %v", err)
			}

			// The last error message wins.
			if err := store.SaveError(ctx, job.ID, "Job cancelled by user"); err != nil {
				t.Fatalf("second save error: %v", err)
			}
			message, ok, err := store.GetError(ctx, job.ID)
			if err != nil || !ok {
				t.Fatalf("get error: %v, %v", ok, err)
			}
			if message != "Job cancelled by user" {
				t.Fatalf("error message = %q", message)
			}
		})
	}
}

func TestListJobsHealsStatus(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job := mustCreate(t, store, "crashed.mp3", jobs.Options{})

			// A worker that died mid-stage leaves a progress artifact behind
			// while the cached status still says queued.
			if err := store.UpdateProgress(ctx, job.ID, 20, "Transcribing audio"); err != nil {
				t.Fatalf("update progress: %v", err)
			}
			before, err := store.GetJob(ctx, job.ID)
			if err != nil {
				t.Fatalf("get job: %v", err)
			}
			if before.Status != jobs.StatusQueued {
				t.Fatalf("precondition: cached status = %s", before.Status)
			}

			listed, total, err := store.ListJobs(ctx, "", 0, 0)
			if err != nil {
				t.Fatalf("list jobs: %v", err)
			}
			if total != 1 || len(listed) != 1 {
				t.Fatalf("list jobs: total=%d len=%d", total, len(listed))
			}
			if listed[0].Status != jobs.StatusProcessing {
				t.Fatalf("derived status = %s, want processing", listed[0].Status)
			}

			// The healed status must be persisted, not just returned.
			after, err := store.GetJob(ctx, job.ID)
			if err != nil {
				t.Fatalf("get job: %v", err)
			}
			if after.Status != jobs.StatusProcessing {
				t.Fatalf("persisted status = %s, want processing", after.Status)
			}
		})
	}
}

func TestListJobsFilterAndPaging(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := mustCreate(t, store, "a.mp3", jobs.Options{})
			time.Sleep(2 * time.Millisecond)
			second := mustCreate(t, store, "b.mp3", jobs.Options{})
			time.Sleep(2 * time.Millisecond)
			third := mustCreate(t, store, "c.mp3", jobs.Options{})

			if err := store.SaveError(ctx, second.ID, "boom"); err != nil {
				t.Fatalf("save error: %v", err)
			}

			listed, total, err := store.ListJobs(ctx, "", 0, 0)
			if err != nil {
				t.Fatalf("list jobs: %v", err)
			}
			if total != 3 {
				t.Fatalf("total = %d, want 3", total)
			}
			if listed[0].ID != third.ID || listed[2].ID != first.ID {
				t.Fatalf("jobs should list newest first: %s, %s, %s", listed[0].ID, listed[1].ID, listed[2].ID)
			}

			failed, total, err := store.ListJobs(ctx, jobs.StatusFailed, 0, 0)
			if err != nil {
				t.Fatalf("list failed jobs: %v", err)
			}
			if total != 1 || len(failed) != 1 || failed[0].ID != second.ID {
				t.Fatalf("failed filter: total=%d jobs=%+v", total, failed)
			}

			page, total, err := store.ListJobs(ctx, "", 1, 1)
			if err != nil {
				t.Fatalf("list page: %v", err)
			}
			if total != 3 || len(page) != 1 || page[0].ID != second.ID {
				t.Fatalf("page: total=%d len=%d", total, len(page))
			}

			empty, total, err := store.ListJobs(ctx, "", 10, 5)
			if err != nil {
				t.Fatalf("list past end: %v", err)
			}
			if total != 3 || len(empty) != 0 {
				t.Fatalf("past-end page: total=%d len=%d", total, len(empty))
			}
		})
	}
}

func TestDeleteJob(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job := mustCreate(t, store, "gone.mp3", jobs.Options{})
			path, err := store.SaveAudio(ctx, job.ID, strings.NewReader("data"))
			if err != nil {
				t.Fatalf("save audio: %v", err)
			}

			deleted, err := store.DeleteJob(ctx, job.ID)
			if err != nil {
				t.Fatalf("delete job: %v", err)
			}
			if !deleted {
				t.Fatal("delete should report the job existed")
			}
			if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
				t.Fatalf("audio blob should be removed: %v", err)
			}
			loaded, err := store.GetJob(ctx, job.ID)
			if err != nil {
				t.Fatalf("get deleted job: %v", err)
			}
			if loaded != nil {
				t.Fatal("deleted job should be gone")
			}

			deleted, err = store.DeleteJob(ctx, job.ID)
			if err != nil {
				t.Fatalf("second delete: %v", err)
			}
			if deleted {
				t.Fatal("second delete should report missing")
			}
		})
	}
}

func TestResultForMissingJob(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			result, err := store.GetResult(context.Background(), "no-such-job")
			if err != nil {
				t.Fatalf("get result: %v", err)
			}
			if result != nil {
				t.Fatal("result for missing job should be nil")
			}
		})
	}
}
