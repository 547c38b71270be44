// Package pty owns interactive terminal sessions. Each session is a shell
// attached to a pseudo-terminal, registered under a random id and tagged
// with the owning tenant. Every operation on an existing session checks
// ownership first; a session belonging to another tenant is reported as
// not found, indistinguishable from a session that never existed.
//
// The registry's mutex is the only synchronization: it is held for map
// lookups, ownership checks, and the brief write/resize syscall, never for
// the lifetime of a session, so unrelated tenants' terminals are not
// serialized on one lock.
package pty

import (
	"context"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/quarterdeck/fenceline/boundary"
	"github.com/quarterdeck/fenceline/logger"
)

var (
	// ErrSessionNotFound covers both truly missing sessions and sessions
	// owned by another tenant.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed is returned for operations on a session that was
	// already torn down. Sessions never reopen; callers must create a new
	// one.
	ErrSessionClosed = errors.New("session already closed")

	// ErrUnauthorized is returned when the requested working directory
	// fails boundary validation.
	ErrUnauthorized = errors.New("working directory is outside tenant boundary")
)

// outputBufferSize is the capacity of a session's output channel. The
// downstream consumer drains it continuously; the buffer only absorbs
// short bursts.
const outputBufferSize = 64

// session is one live terminal. OS handles are exclusively owned by the
// registry entry, so removing the entry and releasing the handles is always
// safe and final.
type session struct {
	tenant         boundary.TenantID
	ptmx           *os.File
	cmd            *osexec.Cmd
	closed         bool
	createdAt      time.Time
	lastActivityAt time.Time
	done           chan struct{}
	stop           chan struct{}
}

// release closes the session's OS handles, kills the shell, and unblocks
// the output reader if its consumer stopped draining. Called exactly once,
// after the registry entry is removed. Safe to call on partially-populated
// fake sessions in tests.
func (s *session) release() {
	s.closed = true
	if s.stop != nil {
		close(s.stop)
	}
	if s.ptmx != nil {
		_ = s.ptmx.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

// Registry tracks all live PTY sessions.
type Registry struct {
	mu        sync.Mutex
	sessions  map[string]*session
	validator *boundary.Validator
}

// NewRegistry creates an empty Registry enforcing the given boundary.
func NewRegistry(validator *boundary.Validator) *Registry {
	return &Registry{
		sessions:  make(map[string]*session),
		validator: validator,
	}
}

// CreateSession validates workingDir for the tenant, spawns an interactive
// shell on a pseudo-terminal sized cols×rows, and registers it under a fresh
// random id. The returned channel carries the terminal's output and closes
// when the shell exits or the pty errors; the registry entry stays until an
// explicit CloseSession or a reaper pass, so late callers observe
// ErrSessionClosed instead of a dangling id.
func (r *Registry) CreateSession(ctx context.Context, tenant boundary.TenantID, workingDir string, cols, rows uint16) (string, <-chan []byte, error) {
	validated, err := r.validator.Validate(tenant, workingDir)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s", ErrUnauthorized, workingDir)
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	shellPath, profile := interactiveShell()

	cmd := osexec.Command(shellPath, profile.args...)
	cmd.Dir = validated

	env := append(os.Environ(), "TERM=xterm-256color", "COLORTERM=truecolor")
	env = append(env, profile.env...)
	// Multi-tenant: pin HOME inside the boundary so shell expansion of ~
	// cannot reference paths outside it.
	if r.validator.Mode().IsMultiTenant() {
		env = append(env, "HOME="+r.validator.TenantBase(tenant))
	}
	cmd.Env = env

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create pty: %w", err)
	}

	id := uuid.NewString()
	now := time.Now()
	s := &session{
		tenant:         tenant,
		ptmx:           ptmx,
		cmd:            cmd,
		createdAt:      now,
		lastActivityAt: now,
		done:           make(chan struct{}),
		stop:           make(chan struct{}),
	}

	out := make(chan []byte, outputBufferSize)
	go func() {
		defer close(out)
		defer close(s.done)
		defer func() { _ = cmd.Wait() }()
		buf := make([]byte, 4096)
		for {
			n, err := ptmx.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				// The consumer may have gone away with the buffer
				// full; the stop channel unblocks the send so a
				// released session never pins this goroutine.
				select {
				case out <- data:
				case <-s.stop:
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	logger.WithComponent("pty").Info("created session",
		"sessionID", id, "tenantID", string(tenant), "workingDir", validated)

	return id, out, nil
}

// lookupOwnedLocked finds a session and verifies ownership. A session owned
// by another tenant is logged to the security audit and reported as not
// found. Caller must hold r.mu.
func (r *Registry) lookupOwnedLocked(tenant boundary.TenantID, id string) (*session, error) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.tenant != tenant {
		logger.Security("unauthorized_session_access",
			"sessionID", id,
			"requestingTenant", string(tenant),
			"resourceType", "pty_session",
		)
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Write sends data to the session's terminal and bumps its activity time.
func (r *Registry) Write(tenant boundary.TenantID, id string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.lookupOwnedLocked(tenant, id)
	if err != nil {
		return err
	}
	if s.closed {
		return ErrSessionClosed
	}

	if _, err := s.ptmx.Write(data); err != nil {
		return fmt.Errorf("failed to write to pty: %w", err)
	}
	s.lastActivityAt = time.Now()
	return nil
}

// Resize changes the session's terminal dimensions and bumps its activity
// time.
func (r *Registry) Resize(tenant boundary.TenantID, id string, cols, rows uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.lookupOwnedLocked(tenant, id)
	if err != nil {
		return err
	}
	if s.closed {
		return ErrSessionClosed
	}

	if err := pty.Setsize(s.ptmx, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return fmt.Errorf("failed to resize pty: %w", err)
	}
	s.lastActivityAt = time.Now()
	return nil
}

// CloseSession removes the session from the registry and releases its OS
// handles.
func (r *Registry) CloseSession(tenant boundary.TenantID, id string) error {
	r.mu.Lock()
	s, err := r.lookupOwnedLocked(tenant, id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	s.release()
	logger.WithComponent("pty").Info("closed session", "sessionID", id, "tenantID", string(tenant))
	return nil
}

// SessionExistsForUser reports whether the session exists and belongs to the
// tenant.
func (r *Registry) SessionExistsForUser(tenant boundary.TenantID, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return ok && s.tenant == tenant
}

// ListUserSessions returns the ids of every session owned by the tenant.
func (r *Registry) ListUserSessions(tenant boundary.TenantID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, s := range r.sessions {
		if s.tenant == tenant {
			ids = append(ids, id)
		}
	}
	return ids
}

// CloseAllUserSessions removes and releases every session owned by the
// tenant, returning the count closed.
func (r *Registry) CloseAllUserSessions(tenant boundary.TenantID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for id, s := range r.sessions {
		if s.tenant != tenant {
			continue
		}
		delete(r.sessions, id)
		s.release()
		count++
		logger.WithComponent("pty").Info("closed session during bulk cleanup",
			"sessionID", id, "tenantID", string(tenant))
	}
	return count
}

// CleanupIdleSessions removes and releases every session idle longer than
// timeout, returning the count removed. Each removal goes to the security
// audit log with tenant and session id.
func (r *Registry) CleanupIdleSessions(timeout time.Duration) int {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for id, s := range r.sessions {
		if now.Sub(s.lastActivityAt) <= timeout {
			continue
		}
		delete(r.sessions, id)
		s.release()
		count++
		logger.Security("idle_session_reaped",
			"sessionID", id,
			"tenantID", string(s.tenant),
			"resourceType", "pty_session",
			"idleSince", s.lastActivityAt.UTC().Format(time.RFC3339),
		)
	}
	return count
}
