// Package pyannote identifies speaker turns in a media file by driving the
// pyannote.audio pipeline through uvx. The stage requires a HuggingFace token
// for the gated model weights; without one the service reports itself not
// ready and the pipeline skips it.
package pyannote

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"murmur/internal/config"
	"murmur/internal/jobs"
	"murmur/internal/logging"
	"murmur/internal/services"
)

// diarizeScript prints one JSON document with the detected speaker turns.
const diarizeScript = `
import json, sys
from pyannote.audio import Pipeline
pipeline = Pipeline.from_pretrained(sys.argv[2], use_auth_token=True)
annotation = pipeline(sys.argv[1])
turns = [
    {"start": segment.start, "end": segment.end, "speaker": label}
    for segment, _, label in annotation.itertracks(yield_label=True)
]
json.dump({"turns": turns}, sys.stdout)
`

type Service struct {
	model  string
	token  string
	logger *slog.Logger
}

func New(cfg *config.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		model:  cfg.Diarizer.Model,
		token:  cfg.Diarizer.HFToken,
		logger: logger.With(logging.String(logging.FieldComponent, "pyannote")),
	}
}

// Ready reports whether diarization can run.
func (s *Service) Ready(jobs.Options) (bool, string) {
	if strings.TrimSpace(s.token) == "" {
		return false, "no HuggingFace token configured"
	}
	return true, ""
}

func (s *Service) Diarize(ctx context.Context, audioPath string, _ jobs.Options) (*jobs.Diarization, error) {
	logger := logging.WithContext(ctx, s.logger)
	logger.Info("running diarization", logging.String("model", s.model))

	cmd := exec.CommandContext(ctx, "uvx", "--from", "pyannote.audio", "python", "-c", diarizeScript, audioPath, s.model)
	cmd.Env = append(os.Environ(),
		"HUGGINGFACE_TOKEN="+s.token,
		"HF_TOKEN="+s.token,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := lastLine(stderr.String())
		return nil, services.Wrap(services.ErrExternalTool, "diarization", "pyannote", detail, err)
	}

	diarization, err := parseOutput(stdout.Bytes(), s.model)
	if err != nil {
		return nil, err
	}
	logger.Info("diarization finished",
		logging.Int("speakers", diarization.Metadata.NumSpeakers),
		logging.Int("turns", len(diarization.Turns)))
	return diarization, nil
}

type diarizeOutput struct {
	Turns []jobs.SpeakerTurn `json:"turns"`
}

func parseOutput(data []byte, model string) (*jobs.Diarization, error) {
	var output diarizeOutput
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "diarization", "pyannote", "decode output", err)
	}
	speakers := make(map[string]struct{})
	var duration float64
	for _, turn := range output.Turns {
		speakers[turn.Speaker] = struct{}{}
		if turn.End > duration {
			duration = turn.End
		}
	}
	return &jobs.Diarization{
		Turns: output.Turns,
		Metadata: jobs.StageMetadata{
			Model:           model,
			DurationSeconds: duration,
			NumSpeakers:     len(speakers),
			NumTurns:        len(output.Turns),
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
	return "pyannote failed"
}
