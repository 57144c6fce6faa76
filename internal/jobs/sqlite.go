package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"murmur/internal/config"
)

const (
	artifactAudio         = "audio"
	artifactTranscription = "transcription"
	artifactDiarization   = "diarization"
	artifactSummary       = "summary"
	artifactProgress      = "progress"
	artifactError         = "error"
)

// summaryPayload is the persisted form of the summary artifact.
type summaryPayload struct {
	Text     string        `json:"text"`
	Metadata StageMetadata `json:"metadata"`
}

// SQLiteStore is the durable Store backed by a SQLite database plus per-job
// blob directories for uploaded media.
type SQLiteStore struct {
	db   *sql.DB
	root string
}

// OpenSQLite opens (creating if needed) the job database under the configured
// jobs directory.
func OpenSQLite(ctx context.Context, cfg *config.Config) (*SQLiteStore, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := os.MkdirAll(cfg.Paths.JobsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create jobs directory: %w", err)
	}
	dbPath := filepath.Join(cfg.Paths.JobsDir, "murmur.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open job database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping job database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db, root: cfg.Paths.JobsDir}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, originalFilename string, fileSize int64, opts Options) (*Job, error) {
	optionsJSON, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}
	now := time.Now().UTC()
	job := &Job{
		ID:               uuid.NewString(),
		OriginalFilename: originalFilename,
		FileSize:         fileSize,
		Options:          opts,
		Stage:            StageNotStarted,
		Status:           StatusQueued,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO jobs (id, original_filename, file_size, options_json, stage, status, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.OriginalFilename, job.FileSize, string(optionsJSON),
		string(job.Stage), string(job.Status), formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, original_filename, file_size, options_json, stage, status,
               created_at, updated_at, completed_at, failed_at
        FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter Status, limit, offset int) ([]*Job, int, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, original_filename, file_size, options_json, stage, status,
               created_at, updated_at, completed_at, failed_at
        FROM jobs`)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", err)
	}
	// RFC 3339 text does not sort lexicographically across fractional-second
	// widths, so order on the parsed timestamps.
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID > jobs[j].ID
	})

	kinds, err := s.artifactKinds(ctx)
	if err != nil {
		return nil, 0, err
	}
	for _, job := range jobs {
		derived := DeriveStatus(artifactSetFor(job, kinds[job.ID]), job.Options)
		if derived != job.Status {
			if err := s.persistDerivedStatus(ctx, job.ID, derived); err != nil {
				return nil, 0, err
			}
			job.Status = derived
		}
	}

	var matched []*Job
	for _, job := range jobs {
		if filter != "" && job.Status != filter {
			continue
		}
		matched = append(matched, job)
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

// artifactKinds returns, per job, the set of artifact kinds present.
func (s *SQLiteStore) artifactKinds(ctx context.Context) (map[string]map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT job_id, kind FROM artifacts`)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	kinds := make(map[string]map[string]struct{})
	for rows.Next() {
		var jobID, kind string
		if err := rows.Scan(&jobID, &kind); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		set, ok := kinds[jobID]
		if !ok {
			set = make(map[string]struct{})
			kinds[jobID] = set
		}
		set[kind] = struct{}{}
	}
	return kinds, rows.Err()
}

func (s *SQLiteStore) persistDerivedStatus(ctx context.Context, id string, status Status) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("persist derived status for %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete job %s: %w", id, err)
	}
	if affected == 0 {
		return false, nil
	}
	if err := os.RemoveAll(s.jobDir(id)); err != nil {
		return true, fmt.Errorf("remove job directory for %s: %w", id, err)
	}
	return true, nil
}

func (s *SQLiteStore) SaveAudio(ctx context.Context, id string, src io.Reader) (string, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return "", err
	}
	if job == nil {
		return "", fmt.Errorf("save audio for %s: %w", id, ErrNotFound)
	}
	dir := s.jobDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create job directory: %w", err)
	}
	name := "audio" + filepath.Ext(job.OriginalFilename)
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
	if err := s.upsertArtifact(ctx, id, artifactAudio, name); err != nil {
		return "", err
	}
	return path, nil
}

func (s *SQLiteStore) AudioPath(ctx context.Context, id string) (string, error) {
	payload, ok, err := s.artifactPayload(ctx, id, artifactAudio)
	if err != nil || !ok {
		return "", err
	}
	return filepath.Join(s.jobDir(id), payload), nil
}

func (s *SQLiteStore) MarkStage(ctx context.Context, id string, stage Stage) error {
	now := time.Now().UTC()
	status := StatusForStage(stage)
	var res sql.Result
	var err error
	if stage == StageComplete {
		res, err = s.db.ExecContext(ctx, `
            UPDATE jobs SET stage = ?, status = ?, updated_at = ?, completed_at = ?
            WHERE id = ? AND stage != ?`,
			string(stage), string(status), formatTime(now), formatTime(now), id, string(StageFailed))
	} else {
		res, err = s.db.ExecContext(ctx, `
            UPDATE jobs SET stage = ?, status = ?, updated_at = ?
            WHERE id = ? AND stage != ?`,
			string(stage), string(status), formatTime(now), id, string(StageFailed))
	}
	if err != nil {
		return fmt.Errorf("mark stage for %s: %w", id, err)
	}
	return s.checkStageWrite(ctx, id, res)
}

func (s *SQLiteStore) UpdateProgress(ctx context.Context, id string, percent float64, message string) error {
	if failed, err := s.jobFailed(ctx, id); err != nil {
		return err
	} else if failed {
		return fmt.Errorf("update progress for %s: %w", id, ErrJobFailed)
	}
	payload, err := json.Marshal(Progress{Percent: percent, Message: message, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	return s.upsertArtifact(ctx, id, artifactProgress, string(payload))
}

func (s *SQLiteStore) SaveTranscription(ctx context.Context, id string, transcription *Transcription) error {
	payload, err := json.Marshal(transcription)
	if err != nil {
		return fmt.Errorf("encode transcription: %w", err)
	}
	return s.saveStageArtifact(ctx, id, artifactTranscription, string(payload), StageTranscriptionComplete)
}

func (s *SQLiteStore) SaveDiarization(ctx context.Context, id string, diarization *Diarization) error {
	payload, err := json.Marshal(diarization)
	if err != nil {
		return fmt.Errorf("encode diarization: %w", err)
	}
	return s.saveStageArtifact(ctx, id, artifactDiarization, string(payload), StageDiarizationComplete)
}

func (s *SQLiteStore) SaveSummary(ctx context.Context, id string, text string, meta StageMetadata) error {
	payload, err := json.Marshal(summaryPayload{Text: text, Metadata: meta})
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return s.saveStageArtifact(ctx, id, artifactSummary, string(payload), StageComplete)
}

func (s *SQLiteStore) SaveError(ctx context.Context, id string, message string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
        UPDATE jobs SET stage = ?, status = ?, updated_at = ?, failed_at = ?
        WHERE id = ?`,
		string(StageFailed), string(StatusFailed), formatTime(now), formatTime(now), id)
	if err != nil {
		return fmt.Errorf("save error for %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save error for %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("save error for %s: %w", id, ErrNotFound)
	}
	return s.upsertArtifact(ctx, id, artifactError, message)
}

func (s *SQLiteStore) GetTranscription(ctx context.Context, id string) (*Transcription, error) {
	payload, ok, err := s.artifactPayload(ctx, id, artifactTranscription)
	if err != nil || !ok {
		return nil, err
	}
	var transcription Transcription
	if err := json.Unmarshal([]byte(payload), &transcription); err != nil {
		return nil, fmt.Errorf("decode transcription for %s: %w", id, err)
	}
	return &transcription, nil
}

func (s *SQLiteStore) GetDiarization(ctx context.Context, id string) (*Diarization, error) {
	payload, ok, err := s.artifactPayload(ctx, id, artifactDiarization)
	if err != nil || !ok {
		return nil, err
	}
	var diarization Diarization
	if err := json.Unmarshal([]byte(payload), &diarization); err != nil {
		return nil, fmt.Errorf("decode diarization for %s: %w", id, err)
	}
	return &diarization, nil
}

func (s *SQLiteStore) GetSummary(ctx context.Context, id string) (string, bool, error) {
	text, _, ok, err := s.summaryArtifact(ctx, id)
	if err != nil || !ok {
		return "", false, err
	}
	return text, true, nil
}

func (s *SQLiteStore) GetProgress(ctx context.Context, id string) (*Progress, error) {
	payload, ok, err := s.artifactPayload(ctx, id, artifactProgress)
	if err != nil || !ok {
		return nil, err
	}
	var progress Progress
	if err := json.Unmarshal([]byte(payload), &progress); err != nil {
		return nil, fmt.Errorf("decode progress for %s: %w", id, err)
	}
	return &progress, nil
}

func (s *SQLiteStore) GetError(ctx context.Context, id string) (string, bool, error) {
	return s.artifactPayload(ctx, id, artifactError)
}

func (s *SQLiteStore) GetResult(ctx context.Context, id string) (*Result, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}
	result := &Result{Job: job}

	if transcription, err := s.GetTranscription(ctx, id); err != nil {
		return nil, err
	} else if transcription != nil {
		result.Transcript = transcription.Text
		result.Segments = transcription.Segments
		result.Language = transcription.Language
		meta := transcription.Metadata
		result.ProcessingMetadata.Transcription = &meta
	}

	if diarization, err := s.GetDiarization(ctx, id); err != nil {
		return nil, err
	} else if diarization != nil {
		if len(diarization.Segments) > 0 {
			result.Segments = diarization.Segments
		}
		meta := diarization.Metadata
		result.ProcessingMetadata.Diarization = &meta
	}

	if text, meta, ok, err := s.summaryArtifact(ctx, id); err != nil {
		return nil, err
	} else if ok {
		result.Summary = text
		result.ProcessingMetadata.Summarization = &meta
	}

	if message, ok, err := s.GetError(ctx, id); err != nil {
		return nil, err
	} else if ok {
		result.Error = message
	}
	return result, nil
}

// saveStageArtifact writes an artifact and advances the job's stage in the
// same logical step, refusing to touch failed jobs.
func (s *SQLiteStore) saveStageArtifact(ctx context.Context, id, kind, payload string, stage Stage) error {
	now := time.Now().UTC()
	status := StatusForStage(stage)
	var res sql.Result
	var err error
	if stage == StageComplete {
		res, err = s.db.ExecContext(ctx, `
            UPDATE jobs SET stage = ?, status = ?, updated_at = ?, completed_at = ?
            WHERE id = ? AND stage != ?`,
			string(stage), string(status), formatTime(now), formatTime(now), id, string(StageFailed))
	} else {
		res, err = s.db.ExecContext(ctx, `
            UPDATE jobs SET stage = ?, status = ?, updated_at = ?
            WHERE id = ? AND stage != ?`,
			string(stage), string(status), formatTime(now), id, string(StageFailed))
	}
	if err != nil {
		return fmt.Errorf("advance stage for %s: %w", id, err)
	}
	if err := s.checkStageWrite(ctx, id, res); err != nil {
		return err
	}
	return s.upsertArtifact(ctx, id, kind, payload)
}

// checkStageWrite distinguishes "job absent" from "job already failed" when a
// guarded stage update matched no rows.
func (s *SQLiteStore) checkStageWrite(ctx context.Context, id string, res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("stage write for %s: %w", id, err)
	}
	if affected > 0 {
		return nil
	}
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("stage write for %s: %w", id, ErrNotFound)
	}
	return fmt.Errorf("stage write for %s: %w", id, ErrJobFailed)
}

func (s *SQLiteStore) jobFailed(ctx context.Context, id string) (bool, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return job.Stage == StageFailed, nil
}

func (s *SQLiteStore) upsertArtifact(ctx context.Context, id, kind, payload string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO artifacts (job_id, kind, payload, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(job_id, kind) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		id, kind, payload, formatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("store %s artifact for %s: %w", kind, id, err)
	}
	return nil
}

func (s *SQLiteStore) artifactPayload(ctx context.Context, id, kind string) (string, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM artifacts WHERE job_id = ? AND kind = ?`, id, kind).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load %s artifact for %s: %w", kind, id, err)
	}
	return payload, true, nil
}

func (s *SQLiteStore) summaryArtifact(ctx context.Context, id string) (string, StageMetadata, bool, error) {
	payload, ok, err := s.artifactPayload(ctx, id, artifactSummary)
	if err != nil || !ok {
		return "", StageMetadata{}, false, err
	}
	var stored summaryPayload
	if err := json.Unmarshal([]byte(payload), &stored); err != nil {
		return "", StageMetadata{}, false, fmt.Errorf("decode summary for %s: %w", id, err)
	}
	return stored.Text, stored.Metadata, true, nil
}

func (s *SQLiteStore) jobDir(id string) string {
	return filepath.Join(s.root, id)
}

func artifactSetFor(job *Job, kinds map[string]struct{}) ArtifactSet {
	has := func(kind string) bool {
		_, ok := kinds[kind]
		return ok
	}
	return ArtifactSet{
		Audio:         has(artifactAudio),
		Transcription: has(artifactTranscription),
		Diarization:   has(artifactDiarization),
		Summary:       has(artifactSummary),
		Progress:      has(artifactProgress),
		Error:         has(artifactError),
		Completed:     job.CompletedAt != nil,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job         Job
		optionsJSON string
		stage       string
		status      string
		createdAt   string
		updatedAt   string
		completedAt sql.NullString
		failedAt    sql.NullString
	)
	if err := row.Scan(&job.ID, &job.OriginalFilename, &job.FileSize, &optionsJSON,
		&stage, &status, &createdAt, &updatedAt, &completedAt, &failedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(optionsJSON), &job.Options); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	job.Stage = Stage(stage)
	job.Status = Status(status)
	var err error
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if job.CompletedAt, err = parseNullableTime(completedAt); err != nil {
		return nil, err
	}
	if job.FailedAt, err = parseNullableTime(failedAt); err != nil {
		return nil, err
	}
	return &job, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return parsed, nil
}

func parseNullableTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	parsed, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
