// Package api exposes the daemon's HTTP surface: job submission, status,
// results, queue introspection, and health.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"murmur/internal/config"
	"murmur/internal/jobs"
	"murmur/internal/language"
	"murmur/internal/logging"
	"murmur/internal/scheduler"
	"murmur/internal/services"
)

// Version is stamped at build time.
var Version = "dev"

// maxUploadBytes bounds multipart memory buffering, not the file size: the
// file part itself streams to disk.
const maxUploadBytes = 32 << 20

// Queue is the scheduler surface the API needs.
type Queue interface {
	Enqueue(jobID string, priority int) error
	Cancel(ctx context.Context, jobID string) error
	Stats() scheduler.Stats
}

type Server struct {
	store      jobs.Store
	queue      Queue
	logger     *slog.Logger
	bind       string
	httpServer *http.Server
	listener   net.Listener
}

func NewServer(cfg *config.Config, store jobs.Store, queue Queue, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		store:  store,
		queue:  queue,
		logger: logger.With(logging.String(logging.FieldComponent, "api")),
		bind:   cfg.Paths.APIBind,
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/jobs", s.handleUpload)
	mux.HandleFunc("GET /api/jobs", s.handleList)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleStatus)
	mux.HandleFunc("GET /api/jobs/{id}/result", s.handleResult)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", s.handleCancel)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.handleDelete)
	mux.HandleFunc("GET /api/queue", s.handleQueue)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	return s.withRequestID(mux)
}

// Start begins serving in the background. The listener is bound synchronously
// so a bad bind address fails here, not later.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("bind api listener on %s: %w", s.bind, err)
	}
	s.listener = listener
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server stopped unexpectedly", logging.Error(err))
		}
	}()
	s.logger.Info("api listening", logging.String("addr", listener.Addr().String()))
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := services.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)

		started := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		logging.WithContext(ctx, s.logger).Debug("request served",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Duration("elapsed", time.Since(started)))
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()
	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "file must have a name")
		return
	}

	opts, err := parseOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	priority, err := parseIntField(r, "priority", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.store.CreateJob(ctx, header.Filename, header.Size, opts)
	if err != nil {
		s.internalError(ctx, w, "create job", err)
		return
	}
	if _, err := s.store.SaveAudio(ctx, job.ID, file); err != nil {
		s.internalError(ctx, w, "store media", err)
		return
	}
	if err := s.queue.Enqueue(job.ID, priority); err != nil {
		s.internalError(ctx, w, "enqueue job", err)
		return
	}

	logging.WithContext(ctx, s.logger).Info("job submitted",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("filename", job.OriginalFilename),
		logging.Int64("size", job.FileSize))
	writeJSON(w, http.StatusCreated, uploadResponse{Job: job})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var filter jobs.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, ok := jobs.ParseStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", raw))
			return
		}
		filter = parsed
	}
	limit, err := parseQueryInt(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseQueryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	listed, total, err := s.store.ListJobs(ctx, filter, limit, offset)
	if err != nil {
		s.internalError(ctx, w, "list jobs", err)
		return
	}
	if listed == nil {
		listed = []*jobs.Job{}
	}
	writeJSON(w, http.StatusOK, listResponse{Jobs: listed, Total: total})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		s.internalError(ctx, w, "load job", err)
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	progress, err := s.store.GetProgress(ctx, id)
	if err != nil {
		s.internalError(ctx, w, "load progress", err)
		return
	}
	response := statusResponse{Job: job, Progress: progress}
	if transcription, err := s.store.GetTranscription(ctx, id); err == nil && transcription != nil {
		response.LanguageName = language.DisplayName(transcription.Language)
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	result, err := s.store.GetResult(ctx, id)
	if err != nil {
		s.internalError(ctx, w, "load result", err)
		return
	}
	if result == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{
		Result:       result,
		LanguageName: language.DisplayName(result.Language),
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		s.internalError(ctx, w, "load job", err)
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err := s.queue.Cancel(ctx, id); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrJobRunning):
			writeError(w, http.StatusConflict, "job is already processing")
		case errors.Is(err, scheduler.ErrNotQueued):
			writeError(w, http.StatusConflict, "job is not waiting in the queue")
		default:
			s.internalError(ctx, w, "cancel job", err)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDelete removes a job. A waiting job is cancelled first; a job whose
// worker is running cannot be deleted.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if err := s.queue.Cancel(ctx, id); err != nil {
		if errors.Is(err, scheduler.ErrJobRunning) {
			writeError(w, http.StatusConflict, "job is processing; cancel is not possible while running")
			return
		}
		if !errors.Is(err, scheduler.ErrNotQueued) {
			s.internalError(ctx, w, "cancel before delete", err)
			return
		}
	}
	deleted, err := s.store.DeleteJob(ctx, id)
	if err != nil {
		s.internalError(ctx, w, "delete job", err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	logging.WithContext(ctx, s.logger).Info("job deleted", logging.String(logging.FieldJobID, id))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, queueResponse{Queue: s.queue.Stats()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: Version})
}

func (s *Server) internalError(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	logging.WithContext(ctx, s.logger).Error(operation+" failed", logging.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func parseOptions(r *http.Request) (jobs.Options, error) {
	var opts jobs.Options
	for field, target := range map[string]**bool{
		"enable_diarization":   &opts.EnableDiarization,
		"enable_summarization": &opts.EnableSummarization,
	} {
		raw := strings.TrimSpace(r.FormValue(field))
		if raw == "" {
			continue
		}
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return jobs.Options{}, fmt.Errorf("invalid %s value %q", field, raw)
		}
		*target = &value
	}
	opts.WhisperModel = strings.TrimSpace(r.FormValue("whisper_model"))
	opts.LLMModel = strings.TrimSpace(r.FormValue("llm_model"))
	opts.LLMBaseURL = strings.TrimSpace(r.FormValue("llm_base_url"))
	opts.LLMAPIKey = strings.TrimSpace(r.FormValue("llm_api_key"))
	return opts, nil
}

func parseIntField(r *http.Request, field string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.FormValue(field))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q", field, raw)
	}
	return value, nil
}

func parseQueryInt(r *http.Request, field string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(field))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid %s value %q", field, raw)
	}
	return value, nil
}
