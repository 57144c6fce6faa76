package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"murmur/internal/jobs"
)

type stubTranscriber struct {
	transcription jobs.Transcription
	err           error
	calls         int
	onTranscribe  func(ctx context.Context)
}

func (s *stubTranscriber) Transcribe(ctx context.Context, _ string, _ jobs.Options) (*jobs.Transcription, error) {
	s.calls++
	if s.onTranscribe != nil {
		s.onTranscribe(ctx)
	}
	if s.err != nil {
		return nil, s.err
	}
	cp := s.transcription
	return &cp, nil
}

type stubDiarizer struct {
	ready       bool
	reason      string
	diarization jobs.Diarization
	err         error
	calls       int
}

func (s *stubDiarizer) Ready(jobs.Options) (bool, string) { return s.ready, s.reason }

func (s *stubDiarizer) Diarize(context.Context, string, jobs.Options) (*jobs.Diarization, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	cp := s.diarization
	return &cp, nil
}

type stubSummarizer struct {
	ready   bool
	reason  string
	summary string
	err     error
	calls   int
	sawText string
}

func (s *stubSummarizer) Ready(jobs.Options) (bool, string) { return s.ready, s.reason }

func (s *stubSummarizer) Summarize(_ context.Context, transcription *jobs.Transcription, _ jobs.Options) (string, jobs.StageMetadata, error) {
	s.calls++
	s.sawText = transcription.Text
	if s.err != nil {
		return "", jobs.StageMetadata{}, s.err
	}
	return s.summary, jobs.StageMetadata{Model: "stub-llm"}, nil
}

type fixture struct {
	store       *jobs.MemoryStore
	transcriber *stubTranscriber
	diarizer    *stubDiarizer
	summarizer  *stubSummarizer
	processor   *Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: jobs.NewMemory(t.TempDir()),
		transcriber: &stubTranscriber{
			transcription: jobs.Transcription{
				Text:     "hello from the meeting",
				Segments: []jobs.Segment{{ID: 0, Start: 0, End: 2, Text: "hello from the meeting"}},
				Language: "en",
				Metadata: jobs.StageMetadata{Model: "base"},
			},
		},
		diarizer: &stubDiarizer{
			ready: true,
			diarization: jobs.Diarization{
				Turns:    []jobs.SpeakerTurn{{Start: 0, End: 2, Speaker: "SPEAKER_00"}},
				Metadata: jobs.StageMetadata{NumSpeakers: 1, NumTurns: 1},
			},
		},
		summarizer: &stubSummarizer{ready: true, summary: "People said hello."},
	}
	f.processor = New(f.store, f.transcriber, f.diarizer, f.summarizer, nil)
	return f
}

func (f *fixture) submit(t *testing.T, opts jobs.Options) *jobs.Job {
	t.Helper()
	ctx := context.Background()
	job, err := f.store.CreateJob(ctx, "input.mp3", 100, opts)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, err := f.store.SaveAudio(ctx, job.ID, strings.NewReader("fake audio")); err != nil {
		t.Fatalf("save audio: %v", err)
	}
	return job
}

func TestProcessFullPipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.submit(t, jobs.Options{})

	if err := f.processor.Process(ctx, job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	loaded, err := f.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if loaded.Stage != jobs.StageComplete || loaded.Status != jobs.StatusCompleted {
		t.Fatalf("stage=%s status=%s", loaded.Stage, loaded.Status)
	}

	result, err := f.store.GetResult(ctx, job.ID)
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if result.Summary != "People said hello." {
		t.Fatalf("summary = %q", result.Summary)
	}
	if len(result.Segments) != 1 || result.Segments[0].Speaker != "SPEAKER_00" {
		t.Fatalf("segments should carry speaker labels: %+v", result.Segments)
	}
	if f.summarizer.sawText != "hello from the meeting" {
		t.Fatalf("summarizer input = %q", f.summarizer.sawText)
	}

	progress, err := f.store.GetProgress(ctx, job.ID)
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}
	if progress.Percent != 100 || progress.Message != "Processing complete" {
		t.Fatalf("final progress = %+v", progress)
	}
}

func TestProcessTranscriptionFailureFailsJob(t *testing.T) {
	f := newFixture(t)
	f.transcriber.err = errors.New("whisper exited with status 1")
	ctx := context.Background()
	job := f.submit(t, jobs.Options{})

	if err := f.processor.Process(ctx, job.ID); err == nil {
		t.Fatal("process should report the transcription failure")
	}

	loaded, _ := f.store.GetJob(ctx, job.ID)
	if loaded.Status != jobs.StatusFailed {
		t.Fatalf("status = %s, want failed", loaded.Status)
	}
	message, ok, err := f.store.GetError(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("get error: %v, %v", ok, err)
	}
	if message != "Transcription failed: whisper exited with status 1" {
		t.Fatalf("error message = %q", message)
	}
	if f.diarizer.calls != 0 || f.summarizer.calls != 0 {
		t.Fatal("later stages must not run after a transcription failure")
	}
}

func TestProcessDiarizationFailureIsSoft(t *testing.T) {
	f := newFixture(t)
	f.diarizer.err = errors.New("pyannote crashed")
	ctx := context.Background()
	job := f.submit(t, jobs.Options{})

	if err := f.processor.Process(ctx, job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	loaded, _ := f.store.GetJob(ctx, job.ID)
	if loaded.Status != jobs.StatusCompleted {
		t.Fatalf("status = %s, want completed", loaded.Status)
	}
	diarization, err := f.store.GetDiarization(ctx, job.ID)
	if err != nil {
		t.Fatalf("get diarization: %v", err)
	}
	if diarization != nil {
		t.Fatal("failed diarization must leave no artifact")
	}
	if f.summarizer.calls != 1 {
		t.Fatal("summarization should still run")
	}
	result, _ := f.store.GetResult(ctx, job.ID)
	if result.Segments[0].Speaker != "" {
		t.Fatalf("segments should stay unlabeled: %+v", result.Segments)
	}
}

func TestProcessDiarizerUnavailableSkips(t *testing.T) {
	f := newFixture(t)
	f.diarizer.ready = false
	f.diarizer.reason = "no HuggingFace token configured"
	ctx := context.Background()
	job := f.submit(t, jobs.Options{})

	if err := f.processor.Process(ctx, job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	if f.diarizer.calls != 0 {
		t.Fatal("unready diarizer must not be invoked")
	}
	loaded, _ := f.store.GetJob(ctx, job.ID)
	if loaded.Status != jobs.StatusCompleted {
		t.Fatalf("status = %s, want completed", loaded.Status)
	}
}

func TestProcessSummarizerUnavailableCompletesWithoutSummary(t *testing.T) {
	f := newFixture(t)
	f.summarizer.ready = false
	f.summarizer.reason = "no OpenAI API key configured"
	ctx := context.Background()
	job := f.submit(t, jobs.Options{})

	if err := f.processor.Process(ctx, job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	if f.summarizer.calls != 0 {
		t.Fatal("unready summarizer must not be invoked")
	}
	loaded, _ := f.store.GetJob(ctx, job.ID)
	if loaded.Status != jobs.StatusCompleted {
		t.Fatalf("status = %s, want completed", loaded.Status)
	}
	if _, ok, _ := f.store.GetSummary(ctx, job.ID); ok {
		t.Fatal("summary should be absent")
	}
	progress, _ := f.store.GetProgress(ctx, job.ID)
	if progress.Percent != 100 || progress.Message != "Summary skipped (no OpenAI API key configured)" {
		t.Fatalf("final progress = %+v", progress)
	}
}

func TestProcessEmptyTranscriptSkipsSummary(t *testing.T) {
	f := newFixture(t)
	f.transcriber.transcription = jobs.Transcription{Text: "   ", Language: "en"}
	f.diarizer.ready = false
	ctx := context.Background()
	job := f.submit(t, jobs.Options{})

	if err := f.processor.Process(ctx, job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	if f.summarizer.calls != 0 {
		t.Fatal("summarizer must not run on an empty transcript")
	}
	progress, _ := f.store.GetProgress(ctx, job.ID)
	if progress.Message != "Summary skipped (empty transcript)" {
		t.Fatalf("final progress = %+v", progress)
	}
}

func TestProcessSummarizationFailureCompletesJob(t *testing.T) {
	f := newFixture(t)
	f.summarizer.err = errors.New("llm timeout")
	ctx := context.Background()
	job := f.submit(t, jobs.Options{})

	if err := f.processor.Process(ctx, job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	loaded, _ := f.store.GetJob(ctx, job.ID)
	if loaded.Status != jobs.StatusCompleted {
		t.Fatalf("status = %s, want completed", loaded.Status)
	}
	if _, ok, _ := f.store.GetSummary(ctx, job.ID); ok {
		t.Fatal("summary should be absent after a summarization failure")
	}
	progress, _ := f.store.GetProgress(ctx, job.ID)
	if progress.Message != "Summary generation failed: llm timeout" {
		t.Fatalf("final progress = %+v", progress)
	}
}

func TestProcessOptionalStagesDisabled(t *testing.T) {
	f := newFixture(t)
	disabled := false
	ctx := context.Background()
	job := f.submit(t, jobs.Options{EnableDiarization: &disabled, EnableSummarization: &disabled})

	if err := f.processor.Process(ctx, job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	if f.diarizer.calls != 0 || f.summarizer.calls != 0 {
		t.Fatal("disabled stages must not run")
	}
	loaded, _ := f.store.GetJob(ctx, job.ID)
	if loaded.Status != jobs.StatusCompleted {
		t.Fatalf("status = %s, want completed", loaded.Status)
	}
}

func TestProcessCancelledDuringTranscriptionKeepsCancelError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.submit(t, jobs.Options{})

	// Cancellation writes the error artifact while the stage is running; the
	// pipeline must notice at the next store write and keep that message.
	f.transcriber.onTranscribe = func(ctx context.Context) {
		if err := f.store.SaveError(ctx, job.ID, "Job cancelled by user"); err != nil {
			t.Errorf("save cancel error: %v", err)
		}
	}

	err := f.processor.Process(ctx, job.ID)
	if !errors.Is(err, jobs.ErrJobFailed) {
		t.Fatalf("process should stop on the external failure, got %v", err)
	}
	message, ok, _ := f.store.GetError(ctx, job.ID)
	if !ok || message != "Job cancelled by user" {
		t.Fatalf("error message = %q, %v", message, ok)
	}
	if f.diarizer.calls != 0 || f.summarizer.calls != 0 {
		t.Fatal("cancelled job must not reach later stages")
	}
}

func TestProcessMissingAudioFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job, err := f.store.CreateJob(ctx, "input.mp3", 100, jobs.Options{})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	if err := f.processor.Process(ctx, job.ID); err == nil {
		t.Fatal("process should fail without a media file")
	}
	loaded, _ := f.store.GetJob(ctx, job.ID)
	if loaded.Status != jobs.StatusFailed {
		t.Fatalf("status = %s, want failed", loaded.Status)
	}
}
