// Package cleanup runs the engine's periodic janitor: each tick reaps idle
// PTY sessions and removes execution-ownership records whose OS child is
// gone. A failure in one sub-task never prevents the other, and no tick
// failure stops the loop.
package cleanup

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/quarterdeck/fenceline/boundary"
	"github.com/quarterdeck/fenceline/logger"
)

// ProcessOwnership is one execution-ownership record from the persistence
// layer: which tenant's workspace an execution process belongs to.
type ProcessOwnership struct {
	ExecutionID uuid.UUID
	TenantID    boundary.TenantID
	WorkspaceID uuid.UUID
}

// ProcessStore exposes the ownership records the orphan sweep reconciles.
type ProcessStore interface {
	ListProcessOwnership(ctx context.Context) ([]ProcessOwnership, error)
	RemoveExecutionOwner(ctx context.Context, executionID uuid.UUID) error
}

// ChildIndex answers whether a live OS child handle exists for an execution.
type ChildIndex interface {
	HasChildHandle(executionID uuid.UUID) bool
}

// SessionReaper is the slice of the PTY registry the scheduler drives.
type SessionReaper interface {
	CleanupIdleSessions(timeout time.Duration) int
}

// Scheduler ties the sub-tasks to one ticker.
type Scheduler struct {
	reaper      SessionReaper
	store       ProcessStore
	children    ChildIndex
	interval    time.Duration
	idleTimeout time.Duration
}

// NewScheduler creates a Scheduler. reaper, store, and children may each be
// nil to disable the corresponding sub-task.
func NewScheduler(reaper SessionReaper, store ProcessStore, children ChildIndex, interval, idleTimeout time.Duration) *Scheduler {
	return &Scheduler{
		reaper:      reaper,
		store:       store,
		children:    children,
		interval:    interval,
		idleTimeout: idleTimeout,
	}
}

// Run sweeps once immediately, then ticks until ctx is cancelled.
// Blocking; callers run it in a goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	log := logger.WithComponent("cleanup")
	log.Info("starting cleanup scheduler", "interval", s.interval, "idleTimeout", s.idleTimeout)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// First sweep happens at startup, not one interval in; stale state
	// from before a restart is reconciled right away.
	if ctx.Err() == nil {
		s.tick(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("cleanup scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.reapIdleSessions()
	s.sweepOrphanedOwners(ctx)
}

func (s *Scheduler) reapIdleSessions() {
	if s.reaper == nil {
		return
	}
	if count := s.reaper.CleanupIdleSessions(s.idleTimeout); count > 0 {
		logger.WithComponent("cleanup").Info("reaped idle pty sessions", "count", count)
	}
}

// sweepOrphanedOwners removes ownership records whose execution has no live
// child handle. A record that fails to remove is logged and retried on the
// next tick.
func (s *Scheduler) sweepOrphanedOwners(ctx context.Context) {
	if s.store == nil || s.children == nil {
		return
	}
	log := logger.WithComponent("cleanup")

	owners, err := s.store.ListProcessOwnership(ctx)
	if err != nil {
		log.Error("failed to list process ownership", "error", err)
		return
	}

	for _, owner := range owners {
		if s.children.HasChildHandle(owner.ExecutionID) {
			continue
		}
		if err := s.store.RemoveExecutionOwner(ctx, owner.ExecutionID); err != nil {
			log.Error("failed to remove stale execution owner",
				"executionID", owner.ExecutionID, "error", err)
			continue
		}
		log.Info("removed stale execution ownership",
			"executionID", owner.ExecutionID,
			"tenantID", string(owner.TenantID),
			"workspaceID", owner.WorkspaceID)
	}
}
