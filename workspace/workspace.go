// Package workspace manages the lifecycle of task workspaces: directories
// holding one git worktree per repository. Creation is all-or-nothing — on a
// partial failure every worktree created so far is rolled back and the
// workspace directory is removed, so callers never observe a half-built
// workspace. The package also migrates legacy single-worktree layouts and
// sweeps orphaned workspace directories against the persistence layer.
//
// All mutating entry points validate the workspace directory against the
// tenant's boundary before touching the filesystem. Git is driven
// exclusively through the injected executor so tests can run without real
// repositories.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/quarterdeck/fenceline/boundary"
	"github.com/quarterdeck/fenceline/exec"
	"github.com/quarterdeck/fenceline/logger"
)

var (
	// ErrNoRepositories is returned when a workspace operation is invoked
	// with an empty repository list.
	ErrNoRepositories = errors.New("no repositories provided")

	// ErrUnauthorized is returned when the workspace directory fails
	// boundary validation. The message never names the resolved path;
	// the detail goes to the security-audit log.
	ErrUnauthorized = errors.New("workspace path is outside tenant boundary")
)

// PartialCreationError reports which repository broke an all-or-nothing
// workspace creation. By the time the caller sees it, rollback has already
// removed every worktree created earlier in the same call.
type PartialCreationError struct {
	RepoName string
	Err      error
}

func (e *PartialCreationError) Error() string {
	return fmt.Sprintf("failed to create worktree for repo %q: %v", e.RepoName, e.Err)
}

func (e *PartialCreationError) Unwrap() error {
	return e.Err
}

// RepoInput describes one repository to include in a workspace.
type RepoInput struct {
	RepoID       uuid.UUID
	RepoName     string
	RepoPath     string
	TargetBranch string
}

// RepoWorktree is one created git worktree within a workspace. It is never
// mutated after creation; it is destroyed on cleanup or rollback.
type RepoWorktree struct {
	RepoID         uuid.UUID
	RepoName       string
	SourceRepoPath string
	WorktreePath   string
}

// Container is a fully-created task workspace. It is only ever returned in
// the fully-created state.
type Container struct {
	WorkspaceDir string
	Worktrees    []RepoWorktree
}

// RefStore answers whether a live workspace record references a container
// directory. The orphan sweep removes directories with no such reference.
type RefStore interface {
	ContainerRefExists(ctx context.Context, containerPath string) (bool, error)
}

// Manager owns workspace lifecycle operations. Its filesystem operations are
// not internally locked; callers must not run concurrent create/cleanup on
// the same workspace directory.
type Manager struct {
	executor           exec.CommandExecutor
	validator          *boundary.Validator
	refs               RefStore
	disableOrphanSweep bool
}

// NewManager creates a Manager. refs may be nil when the orphan sweep is
// disabled.
func NewManager(executor exec.CommandExecutor, validator *boundary.Validator, refs RefStore, disableOrphanSweep bool) *Manager {
	return &Manager{
		executor:           executor,
		validator:          validator,
		refs:               refs,
		disableOrphanSweep: disableOrphanSweep,
	}
}

// CreateWorkspace creates workspaceDir with one worktree per repo, each on a
// fresh branch tracking the repo's target branch. On the first failure it
// rolls back every worktree created in this call (in creation order), removes
// the workspace directory if now empty, and returns a PartialCreationError.
func (m *Manager) CreateWorkspace(ctx context.Context, tenant boundary.TenantID, workspaceDir string, repos []RepoInput, branch string) (*Container, error) {
	if len(repos) == 0 {
		return nil, ErrNoRepositories
	}

	validated, err := m.validator.Validate(tenant, workspaceDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, workspaceDir)
	}

	log := logger.WithComponent("workspace").With("tenantID", string(tenant))
	log.Info("creating workspace", "workspaceDir", validated, "repoCount", len(repos))

	if err := os.MkdirAll(validated, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}

	var created []RepoWorktree
	for _, input := range repos {
		worktreePath := filepath.Join(validated, input.RepoName)

		if err := m.createWorktree(ctx, input.RepoPath, branch, worktreePath, input.TargetBranch); err != nil {
			log.Error("worktree creation failed, rolling back", "repoName", input.RepoName, "error", err)

			m.rollbackCreated(ctx, created)

			// Rollback errors are logged above; only the original
			// creation failure reaches the caller.
			if rmErr := os.Remove(validated); rmErr != nil {
				log.Debug("could not remove workspace dir during rollback", "error", rmErr)
			}

			return nil, &PartialCreationError{RepoName: input.RepoName, Err: err}
		}

		created = append(created, RepoWorktree{
			RepoID:         input.RepoID,
			RepoName:       input.RepoName,
			SourceRepoPath: input.RepoPath,
			WorktreePath:   worktreePath,
		})
	}

	log.Info("created workspace", "workspaceDir", validated, "worktreeCount", len(created))

	return &Container{WorkspaceDir: validated, Worktrees: created}, nil
}

// rollbackCreated removes already-created worktrees in creation order.
// Best-effort: a worktree that fails to remove is logged and skipped.
func (m *Manager) rollbackCreated(ctx context.Context, created []RepoWorktree) {
	for _, wt := range created {
		if err := m.removeWorktree(ctx, wt.SourceRepoPath, wt.WorktreePath); err != nil {
			logger.WithComponent("workspace").Error("failed to remove worktree during rollback",
				"repoName", wt.RepoName, "worktreePath", wt.WorktreePath, "error", err)
		}
	}
}

// EnsureWorkspaceExists brings a workspace to the expected layout after a
// cold restart. Single-repo workspaces are first checked for the legacy
// layout (the workspace directory itself was the worktree) and migrated;
// otherwise any missing per-repo worktrees are created without disturbing
// existing ones.
func (m *Manager) EnsureWorkspaceExists(ctx context.Context, tenant boundary.TenantID, workspaceDir string, repos []RepoInput, branch string) error {
	if len(repos) == 0 {
		return ErrNoRepositories
	}

	validated, err := m.validator.Validate(tenant, workspaceDir)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnauthorized, workspaceDir)
	}

	if len(repos) == 1 {
		migrated, err := m.migrateLegacyWorktree(ctx, validated, repos[0])
		if err != nil {
			return err
		}
		if migrated {
			return nil
		}
	}

	if err := os.MkdirAll(validated, 0755); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}

	for _, input := range repos {
		worktreePath := filepath.Join(validated, input.RepoName)
		if err := m.ensureWorktree(ctx, input.RepoPath, branch, worktreePath, input.TargetBranch); err != nil {
			return err
		}
	}

	return nil
}

// migrateLegacyWorktree relocates an old-layout workspace (workspace dir IS
// the worktree, marked by a .git file) into the current layout at
// workspaceDir/<repoName>. Git cannot move a worktree into its own
// subdirectory, so the move goes through a temporary sibling. Returns true
// when a migration was performed.
func (m *Manager) migrateLegacyWorktree(ctx context.Context, workspaceDir string, repo RepoInput) (bool, error) {
	expected := filepath.Join(workspaceDir, repo.RepoName)

	// A .git *file* marks a worktree; a .git directory is a full clone.
	gitMarker, err := os.Stat(filepath.Join(workspaceDir, ".git"))
	if err != nil || gitMarker.IsDir() {
		return false, nil
	}
	if _, err := os.Stat(expected); err == nil {
		return false, nil
	}

	log := logger.WithComponent("workspace")
	log.Info("detected legacy worktree layout, migrating", "workspaceDir", workspaceDir)

	tempPath := workspaceDir + "-migrating"
	if err := m.moveWorktree(ctx, repo.RepoPath, workspaceDir, tempPath); err != nil {
		return false, err
	}

	if err := os.MkdirAll(workspaceDir, 0755); err != nil {
		return false, fmt.Errorf("failed to recreate workspace directory: %w", err)
	}

	if err := m.moveWorktree(ctx, repo.RepoPath, tempPath, expected); err != nil {
		return false, err
	}

	if _, err := os.Stat(tempPath); err == nil {
		if rmErr := os.RemoveAll(tempPath); rmErr != nil {
			log.Debug("could not remove migration temp dir", "tempPath", tempPath, "error", rmErr)
		}
	}

	log.Info("migrated legacy worktree", "worktreePath", expected)
	return true, nil
}

// CleanupWorkspace removes every repo's worktree and then the workspace
// directory. Best-effort: already-missing worktrees are tolerated so cleanup
// never gets stuck on a partially-vanished workspace.
func (m *Manager) CleanupWorkspace(ctx context.Context, tenant boundary.TenantID, workspaceDir string, repos []RepoInput) error {
	validated, err := m.validator.Validate(tenant, workspaceDir)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnauthorized, workspaceDir)
	}

	log := logger.WithComponent("workspace").With("tenantID", string(tenant))
	log.Info("cleaning up workspace", "workspaceDir", validated)

	for _, input := range repos {
		worktreePath := filepath.Join(validated, input.RepoName)
		if err := m.removeWorktree(ctx, input.RepoPath, worktreePath); err != nil {
			log.Warn("failed to remove worktree during cleanup", "repoName", input.RepoName, "error", err)
		}
	}

	if _, err := os.Stat(validated); err == nil {
		if rmErr := os.RemoveAll(validated); rmErr != nil {
			log.Debug("could not remove workspace directory", "workspaceDir", validated, "error", rmErr)
		}
	}

	return nil
}

// CleanupOrphanWorkspaces scans the boundary root for workspace directories
// with no live reference in the RefStore and force-removes them. In
// multi-tenant mode each tenant directory's children are scanned; in
// single-tenant mode the root's children are the workspaces. Unreadable
// directories are removed directly rather than skipped, so a corrupted
// workspace cannot leak disk forever.
func (m *Manager) CleanupOrphanWorkspaces(ctx context.Context) {
	log := logger.WithComponent("workspace")

	if m.disableOrphanSweep {
		log.Debug("orphan workspace sweep is disabled")
		return
	}
	if m.refs == nil {
		log.Debug("no ref store configured, skipping orphan sweep")
		return
	}

	root := m.validator.Root()
	if !m.validator.Mode().IsMultiTenant() {
		m.sweepOrphansIn(ctx, root)
		return
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error("failed to read boundary root", "root", root, "error", err)
		}
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m.sweepOrphansIn(ctx, filepath.Join(root, entry.Name()))
	}
}

// sweepOrphansIn removes every unreferenced workspace directory under dir.
func (m *Manager) sweepOrphansIn(ctx context.Context, dir string) {
	log := logger.WithComponent("workspace")

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error("failed to read workspace directory", "dir", dir, "error", err)
		}
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		exists, err := m.refs.ContainerRefExists(ctx, path)
		if err != nil {
			log.Error("ref store lookup failed", "path", path, "error", err)
			continue
		}
		if exists {
			continue
		}

		log.Info("found orphaned workspace", "path", path)
		if err := m.removeOrphanWorkspace(ctx, path); err != nil {
			log.Error("failed to remove orphaned workspace", "path", path, "error", err)
		} else {
			log.Info("removed orphaned workspace", "path", path)
		}
	}
}

// removeOrphanWorkspace tears down a workspace whose repository list is
// unknown: each subdirectory is treated as a suspected worktree and
// deregistered from its source repository where possible, then the
// directory is removed.
func (m *Manager) removeOrphanWorkspace(ctx context.Context, workspaceDir string) error {
	entries, err := os.ReadDir(workspaceDir)
	if err != nil {
		// Unreadable: remove directly rather than leak.
		return os.RemoveAll(workspaceDir)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(workspaceDir, entry.Name())
		if err := m.cleanupSuspectedWorktree(ctx, path); err != nil {
			logger.WithComponent("workspace").Warn("failed to cleanup suspected worktree", "path", path, "error", err)
		}
	}

	if _, err := os.Stat(workspaceDir); err == nil {
		return os.RemoveAll(workspaceDir)
	}
	return nil
}
