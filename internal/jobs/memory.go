package jobs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store with the same semantics as SQLiteStore.
// Media blobs still land on disk under dir so collaborators get real paths.
type MemoryStore struct {
	mu   sync.Mutex
	dir  string
	jobs map[string]*memoryJob
}

type memoryJob struct {
	job           Job
	audioName     string
	transcription *Transcription
	diarization   *Diarization
	summary       *summaryPayload
	progress      *Progress
	errorMessage  string
	hasError      bool
}

func NewMemory(dir string) *MemoryStore {
	return &MemoryStore{dir: dir, jobs: make(map[string]*memoryJob)}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateJob(_ context.Context, originalFilename string, fileSize int64, opts Options) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	job := Job{
		ID:               uuid.NewString(),
		OriginalFilename: originalFilename,
		FileSize:         fileSize,
		Options:          opts,
		Stage:            StageNotStarted,
		Status:           StatusQueued,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.jobs[job.ID] = &memoryJob{job: job}
	cp := job
	return &cp, nil
}

func (s *MemoryStore) GetJob(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := record.job
	return &cp, nil
}

func (s *MemoryStore) ListJobs(_ context.Context, filter Status, limit, offset int) ([]*Job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]*memoryJob, 0, len(s.jobs))
	for _, record := range s.jobs {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].job.CreatedAt.Equal(records[j].job.CreatedAt) {
			return records[i].job.CreatedAt.After(records[j].job.CreatedAt)
		}
		return records[i].job.ID > records[j].job.ID
	})

	var matched []*Job
	for _, record := range records {
		derived := DeriveStatus(record.artifactSet(), record.job.Options)
		if derived != record.job.Status {
			record.job.Status = derived
			record.job.UpdatedAt = time.Now().UTC()
		}
		if filter != "" && record.job.Status != filter {
			continue
		}
		cp := record.job
		matched = append(matched, &cp)
	}
	total := len(matched)
	if offset > 0 {
		if offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[offset:]
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (s *MemoryStore) DeleteJob(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return false, nil
	}
	delete(s.jobs, id)
	if err := os.RemoveAll(filepath.Join(s.dir, id)); err != nil {
		return true, fmt.Errorf("remove job directory for %s: %w", id, err)
	}
	return true, nil
}

func (s *MemoryStore) SaveAudio(_ context.Context, id string, src io.Reader) (string, error) {
	s.mu.Lock()
	record, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("save audio for %s: %w", id, ErrNotFound)
	}
	name := "audio" + filepath.Ext(record.job.OriginalFilename)
	s.mu.Unlock()

	dir := filepath.Join(s.dir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create job directory: %w", err)
	}
	path := filepath.Join(dir, name)
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", fmt.Errorf("write audio file: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("close audio file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.jobs[id]; ok {
		record.audioName = name
		record.job.UpdatedAt = time.Now().UTC()
	}
	return path, nil
}

func (s *MemoryStore) AudioPath(_ context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.jobs[id]
	if !ok || record.audioName == "" {
		return "", nil
	}
	return filepath.Join(s.dir, id, record.audioName), nil
}

func (s *MemoryStore) MarkStage(_ context.Context, id string, stage Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := s.stageWritable(id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	record.job.Stage = stage
	record.job.Status = StatusForStage(stage)
	record.job.UpdatedAt = now
	if stage == StageComplete {
		record.job.CompletedAt = &now
	}
	return nil
}

func (s *MemoryStore) UpdateProgress(_ context.Context, id string, percent float64, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := s.stageWritable(id)
	if err != nil {
		return err
	}
	record.progress = &Progress{Percent: percent, Message: message, UpdatedAt: time.Now().UTC()}
	return nil
}

func (s *MemoryStore) SaveTranscription(_ context.Context, id string, transcription *Transcription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := s.stageWritable(id)
	if err != nil {
		return err
	}
	cp := *transcription
	record.transcription = &cp
	s.advance(record, StageTranscriptionComplete)
	return nil
}

func (s *MemoryStore) SaveDiarization(_ context.Context, id string, diarization *Diarization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := s.stageWritable(id)
	if err != nil {
		return err
	}
	cp := *diarization
	record.diarization = &cp
	s.advance(record, StageDiarizationComplete)
	return nil
}

func (s *MemoryStore) SaveSummary(_ context.Context, id string, text string, meta StageMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := s.stageWritable(id)
	if err != nil {
		return err
	}
	record.summary = &summaryPayload{Text: text, Metadata: meta}
	s.advance(record, StageComplete)
	return nil
}

func (s *MemoryStore) SaveError(_ context.Context, id string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("save error for %s: %w", id, ErrNotFound)
	}
	now := time.Now().UTC()
	record.errorMessage = message
	record.hasError = true
	record.job.Stage = StageFailed
	record.job.Status = StatusFailed
	record.job.UpdatedAt = now
	record.job.FailedAt = &now
	return nil
}

func (s *MemoryStore) GetTranscription(_ context.Context, id string) (*Transcription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.jobs[id]
	if !ok || record.transcription == nil {
		return nil, nil
	}
	cp := *record.transcription
	return &cp, nil
}

func (s *MemoryStore) GetDiarization(_ context.Context, id string) (*Diarization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.jobs[id]
	if !ok || record.diarization == nil {
		return nil, nil
	}
	cp := *record.diarization
	return &cp, nil
}

func (s *MemoryStore) GetSummary(_ context.Context, id string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.jobs[id]
	if !ok || record.summary == nil {
		return "", false, nil
	}
	return record.summary.Text, true, nil
}

func (s *MemoryStore) GetProgress(_ context.Context, id string) (*Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.jobs[id]
	if !ok || record.progress == nil {
		return nil, nil
	}
	cp := *record.progress
	return &cp, nil
}

func (s *MemoryStore) GetError(_ context.Context, id string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.jobs[id]
	if !ok || !record.hasError {
		return "", false, nil
	}
	return record.errorMessage, true, nil
}

func (s *MemoryStore) GetResult(_ context.Context, id string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	job := record.job
	result := &Result{Job: &job}
	if record.transcription != nil {
		result.Transcript = record.transcription.Text
		result.Segments = record.transcription.Segments
		result.Language = record.transcription.Language
		meta := record.transcription.Metadata
		result.ProcessingMetadata.Transcription = &meta
	}
	if record.diarization != nil {
		if len(record.diarization.Segments) > 0 {
			result.Segments = record.diarization.Segments
		}
		meta := record.diarization.Metadata
		result.ProcessingMetadata.Diarization = &meta
	}
	if record.summary != nil {
		result.Summary = record.summary.Text
		meta := record.summary.Metadata
		result.ProcessingMetadata.Summarization = &meta
	}
	if record.hasError {
		result.Error = record.errorMessage
	}
	return result, nil
}

func (s *MemoryStore) stageWritable(id string) (*memoryJob, error) {
	record, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("stage write for %s: %w", id, ErrNotFound)
	}
	if record.job.Stage == StageFailed {
		return nil, fmt.Errorf("stage write for %s: %w", id, ErrJobFailed)
	}
	return record, nil
}

func (s *MemoryStore) advance(record *memoryJob, stage Stage) {
	now := time.Now().UTC()
	record.job.Stage = stage
	record.job.Status = StatusForStage(stage)
	record.job.UpdatedAt = now
	if stage == StageComplete {
		record.job.CompletedAt = &now
	}
}

func (r *memoryJob) artifactSet() ArtifactSet {
	return ArtifactSet{
		Audio:         r.audioName != "",
		Transcription: r.transcription != nil,
		Diarization:   r.diarization != nil,
		Summary:       r.summary != nil,
		Progress:      r.progress != nil,
		Error:         r.hasError,
		Completed:     r.job.CompletedAt != nil,
	}
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*SQLiteStore)(nil)
