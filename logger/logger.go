package logger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quarterdeck/fenceline/paths"
)

var (
	root     *slog.Logger
	levelVar = new(slog.LevelVar)
	logFile  *os.File
	mu       sync.Mutex
	initDone bool
)

// DefaultLogPath returns the default log file path.
func DefaultLogPath() (string, error) {
	dir, err := paths.LogsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "fenceline.log"), nil
}

// SetDebug enables or disables debug level logging
func SetDebug(enabled bool) {
	if enabled {
		levelVar.Set(slog.LevelDebug)
	} else {
		levelVar.Set(slog.LevelInfo)
	}
}

// Init initializes the logger with a custom path. Must be called before logging.
// If not called, the default path will be used on first log call.
// Returns an error if the log file cannot be opened.
func Init(path string) error {
	mu.Lock()
	defer mu.Unlock()

	if initDone {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	logFile = f
	handler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: levelVar})
	root = slog.New(handler)
	initDone = true

	root.Info("logger initialized", "path", path)
	return nil
}

// ensureInit initializes the logger with default settings if not already initialized.
// Caller must hold mu.
func ensureInit() {
	if initDone {
		return
	}

	defaultPath, err := DefaultLogPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to get default log path: %v\n", err)
		return
	}

	dir := filepath.Dir(defaultPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to create log directory %s: %v\n", dir, err)
		return
	}

	f, err := os.OpenFile(defaultPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to open log file %s: %v\n", defaultPath, err)
		return
	}
	logFile = f
	handler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: levelVar})
	root = slog.New(handler)
	initDone = true

	root.Info("logger initialized", "path", defaultPath)
}

// Get returns the root logger instance.
// Use this when you don't have component context.
func Get() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	ensureInit()

	if root == nil {
		return slog.Default()
	}
	return root
}

// WithComponent returns a logger with the component name attached.
//
// Example:
//
//	log := logger.WithComponent("workspace")
//	log.Info("worktree created", "path", path)
//	// Output: level=INFO msg="worktree created" component=workspace path=/...
func WithComponent(component string) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	ensureInit()

	if root == nil {
		return slog.Default().With("component", component)
	}
	return root.With("component", component)
}

// WithTenant returns a logger with the tenant ID attached.
// All log entries from this logger will include tenantID as a structured field.
func WithTenant(tenantID string) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	ensureInit()

	if root == nil {
		return slog.Default().With("tenantID", tenantID)
	}
	return root.With("tenantID", tenantID)
}

// WithSession returns a logger with the session ID attached.
func WithSession(sessionID string) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	ensureInit()

	if root == nil {
		return slog.Default().With("sessionID", sessionID)
	}
	return root.With("sessionID", sessionID)
}

// Security emits a structured security-audit event at WARN level. Boundary
// rejections, cross-tenant access attempts, and idle-session reaping all go
// through here so audit events share a uniform shape: an action name,
// security_event=true, an RFC3339 timestamp, and caller-supplied attributes
// (tenant id, resource id, paths).
func Security(action string, attrs ...any) {
	base := []any{
		"action", action,
		"security_event", true,
		"timestamp", time.Now().UTC().Format(time.RFC3339),
	}
	Get().Warn("security audit event", append(base, attrs...)...)
}

// Close closes the log file
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	root = nil
}

// Reset resets the logger state, allowing reinitialization.
// This is primarily for testing purposes.
func Reset() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	initDone = false
	root = nil
	levelVar = new(slog.LevelVar)
}
