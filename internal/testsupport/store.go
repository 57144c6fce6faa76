package testsupport

import (
	"context"
	"testing"

	"murmur/internal/config"
	"murmur/internal/jobs"
)

// MustOpenStore opens a SQLite job store under the test configuration and
// closes it when the test finishes.
func MustOpenStore(t *testing.T, cfg *config.Config) *jobs.SQLiteStore {
	t.Helper()
	store, err := jobs.OpenSQLite(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close job store: %v", err)
		}
	})
	return store
}
