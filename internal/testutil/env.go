// Package testutil provides utilities for testing packsync in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/adrg/xdg"
)

// SetupTestEnv creates isolated XDG directories for the test and returns
// the temporary directory holding them. This ensures tests never read or
// write the user's real packsync configuration, logs or installations.
//
// The cleanup function is automatically handled by t.TempDir(),
// so callers don't need to manually clean up.
func SetupTestEnv(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()

	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(tmpDir, "state"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmpDir, "cache"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmpDir, "data"))

	// Mark as test mode
	t.Setenv("PACKSYNC_TEST_MODE", "1")

	dirs := []string{
		filepath.Join(tmpDir, "config"),
		filepath.Join(tmpDir, "state"),
		filepath.Join(tmpDir, "cache"),
		filepath.Join(tmpDir, "data"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}

	// xdg caches the environment at init.
	xdg.Reload()
	t.Cleanup(xdg.Reload)

	return tmpDir
}
