package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"murmur/internal/jobs"
	"murmur/internal/logging"
	"murmur/internal/services"
)

// Transcriber converts a media file into transcript text and timed segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, opts jobs.Options) (*jobs.Transcription, error)
}

// Diarizer identifies speaker turns in a media file. Ready reports whether
// the stage can run for the given job; when it cannot, the reason appears in
// the job's progress message.
type Diarizer interface {
	Ready(opts jobs.Options) (bool, string)
	Diarize(ctx context.Context, audioPath string, opts jobs.Options) (*jobs.Diarization, error)
}

// Summarizer condenses a transcript into prose.
type Summarizer interface {
	Ready(opts jobs.Options) (bool, string)
	Summarize(ctx context.Context, transcription *jobs.Transcription, opts jobs.Options) (string, jobs.StageMetadata, error)
}

// Processor drives a single job through the pipeline against the job store.
// It is stateless and safe for concurrent use by multiple workers.
type Processor struct {
	store       jobs.Store
	transcriber Transcriber
	diarizer    Diarizer
	summarizer  Summarizer
	logger      *slog.Logger
}

func New(store jobs.Store, transcriber Transcriber, diarizer Diarizer, summarizer Summarizer, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Processor{
		store:       store,
		transcriber: transcriber,
		diarizer:    diarizer,
		summarizer:  summarizer,
		logger:      logger.With(logging.String(logging.FieldComponent, "pipeline")),
	}
}

// Process runs the job to a terminal state. It returns an error only when the
// job failed or could not be processed; skipped optional stages are not
// errors. A jobs.ErrJobFailed from a checkpoint means the job was failed
// externally (cancellation) and processing stops without overwriting that
// failure.
func (p *Processor) Process(ctx context.Context, jobID string) error {
	ctx = services.WithJobID(ctx, jobID)
	logger := logging.WithContext(ctx, p.logger)

	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("process job %s: %w", jobID, jobs.ErrNotFound)
	}
	audioPath, err := p.store.AudioPath(ctx, jobID)
	if err != nil {
		return err
	}
	if audioPath == "" {
		return p.fail(ctx, jobID, "No media file found for job", services.Wrap(services.ErrValidation, "transcription", "locate media", "no media file", nil))
	}

	transcription, err := p.runTranscription(ctx, logger, job, audioPath)
	if err != nil {
		return err
	}

	transcription = p.runDiarization(ctx, logger, job, audioPath, transcription)

	return p.runSummarization(ctx, logger, job, transcription)
}

// runTranscription is the only fatal stage: any failure fails the job.
func (p *Processor) runTranscription(ctx context.Context, logger *slog.Logger, job *jobs.Job, audioPath string) (*jobs.Transcription, error) {
	stageCtx := services.WithStage(ctx, "transcription")
	if err := p.store.MarkStage(stageCtx, job.ID, jobs.StageTranscribing); err != nil {
		return nil, err
	}
	if err := p.checkpoint(stageCtx, job.ID, 10, "Starting transcription"); err != nil {
		return nil, err
	}
	if err := p.checkpoint(stageCtx, job.ID, 20, "Transcribing audio"); err != nil {
		return nil, err
	}

	transcription, err := p.transcriber.Transcribe(stageCtx, audioPath, job.Options)
	if err != nil {
		logger.Error("transcription failed", logging.Error(err))
		return nil, p.fail(stageCtx, job.ID, fmt.Sprintf("Transcription failed: %v", err), err)
	}
	if err := p.store.SaveTranscription(stageCtx, job.ID, transcription); err != nil {
		return nil, err
	}
	if err := p.checkpoint(stageCtx, job.ID, 40, "Transcription complete"); err != nil {
		return nil, err
	}
	logger.Info("transcription complete",
		logging.String("language", transcription.Language),
		logging.Int("segments", len(transcription.Segments)))
	return transcription, nil
}

// runDiarization is best-effort. It returns the transcription that later
// stages should summarize, with speaker labels merged in when the stage
// succeeded.
func (p *Processor) runDiarization(ctx context.Context, logger *slog.Logger, job *jobs.Job, audioPath string, transcription *jobs.Transcription) *jobs.Transcription {
	if !job.Options.DiarizationEnabled() {
		return transcription
	}
	stageCtx := services.WithStage(ctx, "diarization")
	if ready, reason := p.diarizer.Ready(job.Options); !ready {
		logger.Info("diarization skipped", logging.String("reason", reason))
		p.softCheckpoint(stageCtx, job.ID, 70, fmt.Sprintf("Speaker identification skipped (%s)", reason))
		return transcription
	}
	if err := p.store.MarkStage(stageCtx, job.ID, jobs.StageDiarizing); err != nil {
		return transcription
	}
	p.softCheckpoint(stageCtx, job.ID, 50, "Starting speaker identification")
	p.softCheckpoint(stageCtx, job.ID, 60, "Identifying speakers")

	diarization, err := p.diarizer.Diarize(stageCtx, audioPath, job.Options)
	if err != nil {
		logger.Warn("diarization failed, continuing without speaker labels", logging.Error(err))
		p.softCheckpoint(stageCtx, job.ID, 70, fmt.Sprintf("Speaker identification failed: %v", err))
		return transcription
	}

	diarization.Segments = AssignSpeakers(transcription.Segments, diarization.Turns)
	if err := p.store.SaveDiarization(stageCtx, job.ID, diarization); err != nil {
		logger.Warn("persisting diarization failed, continuing", logging.Error(err))
		return transcription
	}
	p.softCheckpoint(stageCtx, job.ID, 70, "Speaker identification complete")
	logger.Info("diarization complete",
		logging.Int("speakers", diarization.Metadata.NumSpeakers),
		logging.Int("turns", len(diarization.Turns)))

	labeled := *transcription
	labeled.Segments = diarization.Segments
	return &labeled
}

// runSummarization is best-effort but owns the final transition: whatever
// happens here, a non-failed job ends in stage complete.
func (p *Processor) runSummarization(ctx context.Context, logger *slog.Logger, job *jobs.Job, transcription *jobs.Transcription) error {
	stageCtx := services.WithStage(ctx, "summarization")
	if !job.Options.SummarizationEnabled() {
		return p.complete(stageCtx, job.ID, "Processing complete")
	}
	if strings.TrimSpace(transcription.Text) == "" {
		logger.Info("summarization skipped", logging.String("reason", "empty transcript"))
		return p.complete(stageCtx, job.ID, "Summary skipped (empty transcript)")
	}
	if ready, reason := p.summarizer.Ready(job.Options); !ready {
		logger.Info("summarization skipped", logging.String("reason", reason))
		return p.complete(stageCtx, job.ID, fmt.Sprintf("Summary skipped (%s)", reason))
	}

	if err := p.store.MarkStage(stageCtx, job.ID, jobs.StageSummarizing); err != nil {
		return err
	}
	p.softCheckpoint(stageCtx, job.ID, 80, "Starting summary generation")
	p.softCheckpoint(stageCtx, job.ID, 90, "Generating summary")

	summary, meta, err := p.summarizer.Summarize(stageCtx, transcription, job.Options)
	if err != nil {
		logger.Warn("summarization failed, completing without summary", logging.Error(err))
		return p.complete(stageCtx, job.ID, fmt.Sprintf("Summary generation failed: %v", err))
	}
	if err := p.store.SaveSummary(stageCtx, job.ID, summary, meta); err != nil {
		return err
	}
	if err := p.checkpoint(stageCtx, job.ID, 100, "Processing complete"); err != nil {
		return err
	}
	logger.Info("summarization complete", logging.String("model", meta.Model))
	return nil
}

// complete marks the job done and writes the closing checkpoint.
func (p *Processor) complete(ctx context.Context, jobID, message string) error {
	if err := p.store.MarkStage(ctx, jobID, jobs.StageComplete); err != nil {
		return err
	}
	return p.checkpoint(ctx, jobID, 100, message)
}

// fail records the terminal error artifact and returns the causing error.
// When the job was already failed externally, that failure is preserved.
func (p *Processor) fail(ctx context.Context, jobID, message string, cause error) error {
	if errors.Is(cause, jobs.ErrJobFailed) {
		return cause
	}
	if err := p.store.SaveError(ctx, jobID, message); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// checkpoint writes a progress artifact. jobs.ErrJobFailed propagates so an
// externally failed (cancelled) job aborts at the next checkpoint.
func (p *Processor) checkpoint(ctx context.Context, jobID string, percent float64, message string) error {
	return p.store.UpdateProgress(ctx, jobID, percent, message)
}

// softCheckpoint is checkpoint for best-effort stages, where a progress write
// failure must not disturb the pipeline.
func (p *Processor) softCheckpoint(ctx context.Context, jobID string, percent float64, message string) {
	if err := p.store.UpdateProgress(ctx, jobID, percent, message); err != nil {
		p.logger.Warn("progress update failed", logging.String(logging.FieldJobID, jobID), logging.Error(err))
	}
}
