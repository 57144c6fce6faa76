// Package testsupport provides helpers shared by package tests: throwaway
// configurations rooted in t.TempDir and pre-opened job stores.
package testsupport

import (
	"path/filepath"
	"testing"

	"murmur/internal/config"
)

// NewConfig returns a validated configuration whose paths all live under a
// per-test temporary directory.
func NewConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.JobsDir = filepath.Join(base, "jobs")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Transcriber.CacheDir = filepath.Join(base, "whisper-cache")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate config: %v", err)
	}
	return &cfg
}
