package jobs

import (
	"context"
	"io"
)

// Store persists jobs and their stage artifacts. Implementations must make
// artifact writes atomic per call and must reject stage writes against jobs
// that have already failed with ErrJobFailed.
type Store interface {
	// CreateJob registers a new job in stage not_started.
	CreateJob(ctx context.Context, originalFilename string, fileSize int64, opts Options) (*Job, error)
	// GetJob returns the job record, or (nil, nil) when absent.
	GetJob(ctx context.Context, id string) (*Job, error)
	// ListJobs recomputes each job's status from its artifacts, persists any
	// change, then returns jobs newest-first filtered by status. An empty
	// filter matches everything. The second return is the total match count
	// before limit/offset.
	ListJobs(ctx context.Context, filter Status, limit, offset int) ([]*Job, int, error)
	// DeleteJob removes the job record, its artifacts, and its media blob.
	// It reports whether the job existed.
	DeleteJob(ctx context.Context, id string) (bool, error)

	// SaveAudio stores the submitted media blob and returns its path.
	SaveAudio(ctx context.Context, id string, src io.Reader) (string, error)
	// AudioPath returns the stored media path, or "" when absent.
	AudioPath(ctx context.Context, id string) (string, error)

	// MarkStage advances the job's stage and recomputes its coarse status.
	MarkStage(ctx context.Context, id string, stage Stage) error
	// UpdateProgress records the latest pipeline checkpoint.
	UpdateProgress(ctx context.Context, id string, percent float64, message string) error

	SaveTranscription(ctx context.Context, id string, transcription *Transcription) error
	SaveDiarization(ctx context.Context, id string, diarization *Diarization) error
	// SaveSummary stores the summary text and marks the job complete.
	SaveSummary(ctx context.Context, id string, text string, meta StageMetadata) error
	// SaveError records a terminal failure. It never returns ErrJobFailed;
	// the last error message wins.
	SaveError(ctx context.Context, id string, message string) error

	GetTranscription(ctx context.Context, id string) (*Transcription, error)
	GetDiarization(ctx context.Context, id string) (*Diarization, error)
	GetSummary(ctx context.Context, id string) (string, bool, error)
	GetProgress(ctx context.Context, id string) (*Progress, error)
	GetError(ctx context.Context, id string) (string, bool, error)
	// GetResult assembles the aggregate view from whatever artifacts exist,
	// or returns (nil, nil) when the job is absent.
	GetResult(ctx context.Context, id string) (*Result, error)

	Close() error
}
