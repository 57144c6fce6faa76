package jobs

import (
	"strings"
	"time"
)

// Stage is the fine-grained pipeline position of a job.
type Stage string

const (
	StageNotStarted            Stage = "not_started"
	StageTranscribing          Stage = "transcribing"
	StageTranscriptionComplete Stage = "transcription_complete"
	StageDiarizing             Stage = "diarizing"
	StageDiarizationComplete   Stage = "diarization_complete"
	StageSummarizing           Stage = "summarizing"
	StageComplete              Stage = "complete"
	StageFailed                Stage = "failed"
)

// Status is the coarse external view of a job's lifecycle.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{StatusQueued, StatusProcessing, StatusCompleted, StatusFailed}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// StatusForStage maps a stage to its coarse status.
func StatusForStage(stage Stage) Status {
	switch stage {
	case StageNotStarted:
		return StatusQueued
	case StageComplete:
		return StatusCompleted
	case StageFailed:
		return StatusFailed
	default:
		return StatusProcessing
	}
}

// Options is the per-job processing option bag. Boolean toggles default to
// enabled when absent so uploads without options run the full pipeline.
type Options struct {
	EnableDiarization   *bool  `json:"enable_diarization,omitempty"`
	EnableSummarization *bool  `json:"enable_summarization,omitempty"`
	WhisperModel        string `json:"whisper_model,omitempty"`
	LLMModel            string `json:"llm_model,omitempty"`
	LLMBaseURL          string `json:"llm_base_url,omitempty"`
	LLMAPIKey           string `json:"llm_api_key,omitempty"`
}

// DiarizationEnabled reports whether the diarization stage was requested.
func (o Options) DiarizationEnabled() bool {
	return o.EnableDiarization == nil || *o.EnableDiarization
}

// SummarizationEnabled reports whether the summarization stage was requested.
func (o Options) SummarizationEnabled() bool {
	return o.EnableSummarization == nil || *o.EnableSummarization
}

// Job is one submitted media file's processing request.
type Job struct {
	ID               string     `json:"id"`
	OriginalFilename string     `json:"original_filename"`
	FileSize         int64      `json:"file_size"`
	Options          Options    `json:"options"`
	Stage            Stage      `json:"stage"`
	Status           Status     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	FailedAt         *time.Time `json:"failed_at,omitempty"`
}

// ArtifactSet records which persisted facts exist for a job. Completed is the
// explicit completion record (stamped only by SaveSummary or a Complete stage
// transition), so a crashed worker can never leave it behind spuriously.
type ArtifactSet struct {
	Audio         bool
	Transcription bool
	Diarization   bool
	Summary       bool
	Progress      bool
	Error         bool
	Completed     bool
}

// DeriveStatus computes a job's status purely from persisted facts and the
// options bag. This is the crash-recovery path: it never consults the cached
// status column.
func DeriveStatus(set ArtifactSet, opts Options) Status {
	switch {
	case set.Error:
		return StatusFailed
	case set.Summary, set.Completed:
		return StatusCompleted
	case set.Transcription && !opts.DiarizationEnabled() && !opts.SummarizationEnabled():
		return StatusCompleted
	case set.Transcription, set.Progress:
		return StatusProcessing
	default:
		return StatusQueued
	}
}
