// Package paths provides centralized path resolution for fenceline's own
// state files (currently just logs).
//
// Resolution order:
//  1. If ~/.fenceline/ exists → use the legacy flat layout
//  2. If XDG_STATE_HOME is set → use $XDG_STATE_HOME/fenceline
//  3. Fresh install, no XDG var → default to ~/.fenceline/
package paths

import (
	"os"
	"path/filepath"
	"sync"
)

var (
	mu       sync.Mutex
	resolved string
)

// resolve computes the state directory once and caches it.
func resolve() (string, error) {
	mu.Lock()
	defer mu.Unlock()

	if resolved != "" {
		return resolved, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	legacyDir := filepath.Join(home, ".fenceline")

	if info, err := os.Stat(legacyDir); err == nil && info.IsDir() {
		resolved = legacyDir
		return resolved, nil
	}

	if xdgState := os.Getenv("XDG_STATE_HOME"); xdgState != "" {
		resolved = filepath.Join(xdgState, "fenceline")
		return resolved, nil
	}

	resolved = legacyDir
	return resolved, nil
}

// StateDir returns the directory for runtime state and logs.
func StateDir() (string, error) {
	return resolve()
}

// LogsDir returns the directory for log files.
func LogsDir() (string, error) {
	dir, err := resolve()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}

// Reset clears the cached path resolution. This is intended for testing only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resolved = ""
}
