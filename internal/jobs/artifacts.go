package jobs

import "time"

// Segment is one timed span of transcript text. Speaker is empty until
// diarization labels it.
type Segment struct {
	ID           int     `json:"id"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
	NoSpeechProb float64 `json:"no_speech_prob,omitempty"`
	Speaker      string  `json:"speaker,omitempty"`
}

// StageMetadata describes how a stage produced its artifact.
type StageMetadata struct {
	Model           string  `json:"model,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	NumSpeakers     int     `json:"num_speakers,omitempty"`
	NumTurns        int     `json:"num_turns,omitempty"`
	Device          string  `json:"device,omitempty"`
}

// Transcription is the output of the transcription stage.
type Transcription struct {
	Text     string        `json:"text"`
	Segments []Segment     `json:"segments"`
	Language string        `json:"language,omitempty"`
	Metadata StageMetadata `json:"metadata"`
}

// SpeakerTurn is one contiguous span attributed to a single speaker.
type SpeakerTurn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// Diarization is the output of the speaker attribution stage: the raw speaker
// turns plus the transcript segments with speaker labels merged in.
type Diarization struct {
	Turns    []SpeakerTurn `json:"turns"`
	Segments []Segment     `json:"segments"`
	Metadata StageMetadata `json:"metadata"`
}

// Progress is the most recent checkpoint written by the pipeline.
type Progress struct {
	Percent   float64   `json:"percent"`
	Message   string    `json:"message"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProcessingMetadata aggregates per-stage metadata for the final result.
// Stages that never ran contribute no block.
type ProcessingMetadata struct {
	Transcription *StageMetadata `json:"transcription,omitempty"`
	Diarization   *StageMetadata `json:"diarization,omitempty"`
	Summarization *StageMetadata `json:"summarization,omitempty"`
}

// Result is the aggregate view of a job assembled from whatever artifacts
// exist. Fields for stages that did not run are zero.
type Result struct {
	Job                *Job               `json:"job"`
	Transcript         string             `json:"transcript,omitempty"`
	Segments           []Segment          `json:"segments,omitempty"`
	Language           string             `json:"language,omitempty"`
	Summary            string             `json:"summary,omitempty"`
	Error              string             `json:"error,omitempty"`
	ProcessingMetadata ProcessingMetadata `json:"processing_metadata"`
}
