// Package whisper shells out to the whisper CLI (via uvx) to transcribe a
// media file and parses its JSON output into transcript segments.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"murmur/internal/config"
	"murmur/internal/jobs"
	"murmur/internal/logging"
	"murmur/internal/services"
)

type Service struct {
	model    string
	cacheDir string
	cuda     bool
	logger   *slog.Logger
}

func New(cfg *config.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		model:    cfg.Transcriber.Model,
		cacheDir: cfg.Transcriber.CacheDir,
		cuda:     cfg.Transcriber.CUDAEnabled,
		logger:   logger.With(logging.String(logging.FieldComponent, "whisper")),
	}
}

// Transcribe runs whisper against the media file. The job's options may
// override the configured model.
func (s *Service) Transcribe(ctx context.Context, audioPath string, opts jobs.Options) (*jobs.Transcription, error) {
	model := s.model
	if opts.WhisperModel != "" {
		model = opts.WhisperModel
	}
	outDir, err := os.MkdirTemp("", "murmur-whisper-")
	if err != nil {
		return nil, fmt.Errorf("create whisper output directory: %w", err)
	}
	defer os.RemoveAll(outDir)

	args := buildArgs(audioPath, model, outDir, s.cacheDir, s.cuda)
	logger := logging.WithContext(ctx, s.logger)
	logger.Info("running whisper", logging.String("model", model))

	cmd := exec.CommandContext(ctx, "uvx", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := lastLine(stderr.String())
		return nil, services.Wrap(services.ErrExternalTool, "transcription", "whisper", detail, err)
	}

	outputPath := filepath.Join(outDir, outputName(audioPath))
	transcription, err := loadTranscription(outputPath, model, deviceName(s.cuda))
	if err != nil {
		return nil, err
	}
	logger.Info("whisper finished",
		logging.String("language", transcription.Language),
		logging.Int("segments", len(transcription.Segments)))
	return transcription, nil
}

func buildArgs(audioPath, model, outDir, cacheDir string, cuda bool) []string {
	args := []string{
		"--from", "openai-whisper", "whisper",
		audioPath,
		"--model", model,
		"--output_format", "json",
		"--output_dir", outDir,
		"--device", deviceName(cuda),
		"--verbose", "False",
	}
	if cacheDir != "" {
		args = append(args, "--model_dir", cacheDir)
	}
	return args
}

func deviceName(cuda bool) string {
	if cuda {
		return "cuda"
	}
	return "cpu"
}

// outputName is the JSON file whisper writes next to its other formats: the
// input basename with the extension swapped.
func outputName(audioPath string) string {
	base := filepath.Base(audioPath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".json"
}

type whisperOutput struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		ID           int     `json:"id"`
		Start        float64 `json:"start"`
		End          float64 `json:"end"`
		Text         string  `json:"text"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
}

func loadTranscription(path, model, device string) (*jobs.Transcription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "transcription", "whisper", "read output", err)
	}
	var output whisperOutput
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "transcription", "whisper", "decode output", err)
	}

	segments := make([]jobs.Segment, 0, len(output.Segments))
	var duration float64
	for _, segment := range output.Segments {
		segments = append(segments, jobs.Segment{
			ID:           segment.ID,
			Start:        segment.Start,
			End:          segment.End,
			Text:         strings.TrimSpace(segment.Text),
			NoSpeechProb: segment.NoSpeechProb,
		})
		if segment.End > duration {
			duration = segment.End
		}
	}
	return &jobs.Transcription{
		Text:     strings.TrimSpace(output.Text),
		Segments: segments,
		Language: output.Language,
		Metadata: jobs.StageMetadata{
			Model:           model,
			DurationSeconds: duration,
			Device:          device,
		},
	}, nil
}

func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return "whisper failed"
}
