package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"murmur/internal/services"
)

func newBufferLogger(level string) (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	levelVar := new(slog.LevelVar)
	levelVar.Set(parseLevel(level))
	return slog.New(newConsoleHandler(buf, levelVar, false)), buf
}

func TestConsoleHandlerFormat(t *testing.T) {
	logger, buf := newBufferLogger("info")
	logger = logger.With(String(FieldComponent, "scheduler"))
	logger.Info("job started", String(FieldJobID, "abc-123"), Int("priority", 2))

	line := buf.String()
	if !strings.Contains(line, "INFO scheduler: job started") {
		t.Fatalf("line = %q", line)
	}
	if !strings.Contains(line, "job_id=abc-123") {
		t.Fatalf("line = %q", line)
	}
	if !strings.Contains(line, "priority=2") {
		t.Fatalf("line = %q", line)
	}
}

func TestConsoleHandlerQuotesValuesWithSpaces(t *testing.T) {
	logger, buf := newBufferLogger("info")
	logger.Info("note", String("message", "two words"))
	if !strings.Contains(buf.String(), `message="two words"`) {
		t.Fatalf("line = %q", buf.String())
	}
}

func TestConsoleHandlerHonorsLevel(t *testing.T) {
	logger, buf := newBufferLogger("warn")
	logger.Info("hidden")
	logger.Warn("visible")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info should be filtered: %q", out)
	}
	if !strings.Contains(out, "WARN visible") {
		t.Fatalf("warn should pass: %q", out)
	}
}

func TestErrorAttr(t *testing.T) {
	logger, buf := newBufferLogger("info")
	logger.Error("failed", Error(errors.New("boom")))
	if !strings.Contains(buf.String(), "error=boom") {
		t.Fatalf("line = %q", buf.String())
	}
	logger.Error("failed", Error(nil))
	if !strings.Contains(buf.String(), "error=<nil>") {
		t.Fatalf("line = %q", buf.String())
	}
}

func TestWithContextAddsFields(t *testing.T) {
	logger, buf := newBufferLogger("info")
	ctx := services.WithJobID(context.Background(), "job-9")
	ctx = services.WithStage(ctx, "transcription")
	ctx = services.WithRequestID(ctx, "req-1")

	WithContext(ctx, logger).Info("checkpoint")
	line := buf.String()
	for _, want := range []string{"job_id=job-9", "stage=transcription", "correlation_id=req-1"} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q missing %q", line, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"unknown": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "yaml"}); err == nil {
		t.Fatal("unknown format should error")
	}
}
