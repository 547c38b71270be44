// Package store provides SQLite-backed persistence for the isolation
// engine: which workspace containers are live (consulted by the orphan
// workspace sweep) and which tenant owns each execution process (reconciled
// by the cleanup scheduler).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/quarterdeck/fenceline/boundary"
	"github.com/quarterdeck/fenceline/cleanup"
	"github.com/quarterdeck/fenceline/workspace"
)

// Store provides access to the engine's SQLite database.
type Store struct {
	db *sql.DB
}

// Compile-time interface checks for the collaborators this store backs.
var (
	_ workspace.RefStore   = (*Store)(nil)
	_ cleanup.ProcessStore = (*Store)(nil)
)

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workspaces (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		container_path TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS execution_owners (
		execution_id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		workspace_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (workspace_id) REFERENCES workspaces(id)
	);

	CREATE INDEX IF NOT EXISTS idx_workspaces_tenant_id ON workspaces(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_execution_owners_workspace_id ON execution_owners(workspace_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Workspace Records ---

// RegisterWorkspace records a live workspace container and returns its id.
func (s *Store) RegisterWorkspace(ctx context.Context, tenant boundary.TenantID, containerPath string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workspaces (id, tenant_id, container_path, created_at) VALUES (?, ?, ?, ?)`,
		id.String(), string(tenant), containerPath, time.Now().UTC(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert workspace: %w", err)
	}
	return id, nil
}

// RemoveWorkspace deletes a workspace record, typically after its container
// directory has been cleaned up.
func (s *Store) RemoveWorkspace(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id.String())
	return err
}

// ContainerRefExists reports whether a live workspace record references the
// container path. Directories with no reference are fair game for the
// orphan sweep.
func (s *Store) ContainerRefExists(ctx context.Context, containerPath string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM workspaces WHERE container_path = ?`, containerPath,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query workspace ref: %w", err)
	}
	return true, nil
}

// --- Execution Ownership ---

// RegisterExecutionOwner records which tenant and workspace own an
// execution process.
func (s *Store) RegisterExecutionOwner(ctx context.Context, executionID uuid.UUID, tenant boundary.TenantID, workspaceID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_owners (execution_id, tenant_id, workspace_id, created_at) VALUES (?, ?, ?, ?)`,
		executionID.String(), string(tenant), workspaceID.String(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert execution owner: %w", err)
	}
	return nil
}

// ListProcessOwnership returns every execution-ownership record.
func (s *Store) ListProcessOwnership(ctx context.Context) ([]cleanup.ProcessOwnership, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT execution_id, tenant_id, workspace_id FROM execution_owners ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query execution owners: %w", err)
	}
	defer rows.Close()

	var owners []cleanup.ProcessOwnership
	for rows.Next() {
		var executionID, tenantID, workspaceID string
		if err := rows.Scan(&executionID, &tenantID, &workspaceID); err != nil {
			return nil, fmt.Errorf("scan execution owner: %w", err)
		}

		execUUID, err := uuid.Parse(executionID)
		if err != nil {
			return nil, fmt.Errorf("parse execution id %q: %w", executionID, err)
		}
		wsUUID, err := uuid.Parse(workspaceID)
		if err != nil {
			return nil, fmt.Errorf("parse workspace id %q: %w", workspaceID, err)
		}

		owners = append(owners, cleanup.ProcessOwnership{
			ExecutionID: execUUID,
			TenantID:    boundary.TenantID(tenantID),
			WorkspaceID: wsUUID,
		})
	}
	return owners, rows.Err()
}

// RemoveExecutionOwner deletes an execution-ownership record.
func (s *Store) RemoveExecutionOwner(ctx context.Context, executionID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM execution_owners WHERE execution_id = ?`, executionID.String())
	return err
}
