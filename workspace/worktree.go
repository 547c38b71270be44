package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/quarterdeck/fenceline/logger"
)

// Low-level git worktree primitives. Every git invocation goes through the
// injected executor; errors carry the command's combined output.

// branchExists reports whether a local branch exists in the repository.
func (m *Manager) branchExists(ctx context.Context, repoPath, branch string) bool {
	_, _, err := m.executor.Run(ctx, repoPath, "git", "rev-parse", "--verify", "refs/heads/"+branch)
	return err == nil
}

// createWorktree adds a worktree at worktreePath on branch. A fresh branch
// is created from targetBranch; if the branch already exists (a retried
// task attempt), it is checked out as-is.
func (m *Manager) createWorktree(ctx context.Context, repoPath, branch, worktreePath, targetBranch string) error {
	if err := os.MkdirAll(filepath.Dir(worktreePath), 0755); err != nil {
		return fmt.Errorf("failed to create worktree parent directory: %w", err)
	}

	var args []string
	if m.branchExists(ctx, repoPath, branch) {
		args = []string{"worktree", "add", worktreePath, branch}
	} else {
		args = []string{"worktree", "add", "-b", branch, worktreePath, targetBranch}
	}

	output, err := m.executor.CombinedOutput(ctx, repoPath, "git", args...)
	if err != nil {
		return fmt.Errorf("git worktree add failed: %s: %w", strings.TrimSpace(string(output)), err)
	}

	logger.WithComponent("workspace").Info("created worktree", "branch", branch, "worktreePath", worktreePath)
	return nil
}

// ensureWorktree creates the worktree if it is missing. An existing
// directory with a .git marker file is left untouched.
func (m *Manager) ensureWorktree(ctx context.Context, repoPath, branch, worktreePath, targetBranch string) error {
	if info, err := os.Stat(filepath.Join(worktreePath, ".git")); err == nil && !info.IsDir() {
		return nil
	}

	// A stale registration can linger after the directory vanished; prune
	// before re-adding so git does not refuse the path.
	if output, err := m.executor.CombinedOutput(ctx, repoPath, "git", "worktree", "prune"); err != nil {
		logger.WithComponent("workspace").Debug("git worktree prune failed",
			"repoPath", repoPath, "output", strings.TrimSpace(string(output)), "error", err)
	}

	return m.createWorktree(ctx, repoPath, branch, worktreePath, targetBranch)
}

// removeWorktree removes a worktree and its registration. When git refuses
// (corrupted or already-vanished worktree), the registration is pruned and
// the directory removed directly.
func (m *Manager) removeWorktree(ctx context.Context, repoPath, worktreePath string) error {
	if repoPath == "" {
		return os.RemoveAll(worktreePath)
	}

	output, err := m.executor.CombinedOutput(ctx, repoPath, "git", "worktree", "remove", "--force", worktreePath)
	if err == nil {
		return nil
	}

	logger.WithComponent("workspace").Debug("git worktree remove failed, falling back to direct removal",
		"worktreePath", worktreePath, "output", strings.TrimSpace(string(output)), "error", err)

	if pruneOut, pruneErr := m.executor.CombinedOutput(ctx, repoPath, "git", "worktree", "prune"); pruneErr != nil {
		logger.WithComponent("workspace").Debug("git worktree prune failed",
			"repoPath", repoPath, "output", strings.TrimSpace(string(pruneOut)), "error", pruneErr)
	}

	if rmErr := os.RemoveAll(worktreePath); rmErr != nil {
		return fmt.Errorf("failed to remove worktree directory: %w", rmErr)
	}
	return nil
}

// moveWorktree relocates a worktree, keeping git's registration consistent.
func (m *Manager) moveWorktree(ctx context.Context, repoPath, fromPath, toPath string) error {
	output, err := m.executor.CombinedOutput(ctx, repoPath, "git", "worktree", "move", fromPath, toPath)
	if err != nil {
		return fmt.Errorf("git worktree move failed: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// cleanupSuspectedWorktree tears down a directory believed to be a worktree
// whose source repository is unknown (orphan sweep). The source is recovered
// from the .git marker file when possible so the registration is cleaned up
// too; either way the directory ends up removed.
func (m *Manager) cleanupSuspectedWorktree(ctx context.Context, path string) error {
	gitFile := filepath.Join(path, ".git")
	if info, err := os.Stat(gitFile); err == nil && !info.IsDir() {
		if repoPath := sourceRepoFromGitFile(gitFile); repoPath != "" {
			if _, err := m.executor.CombinedOutput(ctx, repoPath, "git", "worktree", "remove", "--force", path); err == nil {
				return nil
			}
			_, _ = m.executor.CombinedOutput(ctx, repoPath, "git", "worktree", "prune")
		}
	}
	return os.RemoveAll(path)
}

// sourceRepoFromGitFile parses a worktree's .git marker file, whose content
// is "gitdir: <repo>/.git/worktrees/<name>", back to the repository root.
// Returns empty when the file cannot be parsed.
func sourceRepoFromGitFile(gitFile string) string {
	data, err := os.ReadFile(gitFile)
	if err != nil {
		return ""
	}

	line := strings.TrimSpace(string(data))
	gitDir, ok := strings.CutPrefix(line, "gitdir:")
	if !ok {
		return ""
	}
	gitDir = strings.TrimSpace(gitDir)

	sep := string(filepath.Separator)
	marker := sep + ".git" + sep + "worktrees" + sep
	idx := strings.Index(gitDir, marker)
	if idx < 0 {
		return ""
	}
	return gitDir[:idx]
}
