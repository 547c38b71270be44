// Package boundary decides whether filesystem paths fall inside a tenant's
// sandbox. Every component that touches the filesystem or spawns a process
// on behalf of a tenant consults the Validator first; only a validated path
// is ever passed on.
//
// The threat model is adversarial: requested paths may contain `..`
// traversal, symlinks (including chains terminating in another tenant's
// sandbox), or be probes for other tenants' resources. Rejections are
// indistinguishable from "path does not exist" at the API surface so the
// Validator cannot be used to enumerate other tenants' files; the detail
// goes to the security-audit log instead.
package boundary

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/quarterdeck/fenceline/logger"
)

// TenantID is an opaque identifier for an authenticated user. The engine
// never parses credentials; it trusts the identity handed to it.
type TenantID string

// DefaultRoot is the directory under which all tenant sandboxes live when
// no override is configured.
const DefaultRoot = "/workspaces"

var (
	// ErrOutsideBoundary is returned for every rejection class: traversal
	// outside the tenant's sandbox, symlinks resolving elsewhere, and
	// probes for other tenants' paths. Callers must surface it as
	// "not found", never "forbidden".
	ErrOutsideBoundary = errors.New("path is outside tenant boundary")

	// ErrInvalidPath is returned for paths the OS could not represent:
	// empty strings and paths containing NUL bytes.
	ErrInvalidPath = errors.New("invalid path")
)

// Validator checks candidate paths against tenant sandboxes. It holds no
// mutable state and is safe for concurrent use.
type Validator struct {
	mode DeploymentMode
	root string
}

// NewValidator returns a Validator for the given mode and boundary root.
// An empty root falls back to DefaultRoot.
func NewValidator(mode DeploymentMode, root string) *Validator {
	if root == "" {
		root = DefaultRoot
	}
	return &Validator{mode: mode, root: root}
}

// Root returns the configured boundary root directory.
func (v *Validator) Root() string {
	return v.root
}

// Mode returns the deployment mode the validator enforces.
func (v *Validator) Mode() DeploymentMode {
	return v.mode
}

// TenantBase returns the sandbox directory for a tenant: root/<tenant> in
// multi-tenant mode. In single-tenant mode there is only one trust domain,
// so the root itself is the base. The directory is lazily creatable; callers
// create it on first use.
func (v *Validator) TenantBase(tenant TenantID) string {
	if !v.mode.IsMultiTenant() {
		return v.root
	}
	return filepath.Join(v.root, string(tenant))
}

// Validate decides whether path resolves inside tenant's sandbox and
// returns the canonicalized path on success.
//
// In single-tenant mode the check is advisory: the path is canonicalized
// when it exists and returned unchanged otherwise.
//
// In multi-tenant mode the candidate is fully resolved (all symlinks,
// including chains and `..` traversal) before the containment decision, so
// a symlink inside the sandbox that points elsewhere is rejected, while a
// path that traverses out and back in via `..` is accepted. For paths that
// do not exist yet, the longest existing prefix is canonicalized component
// by component so a symlinked ancestor cannot smuggle the tail outside the
// sandbox.
func (v *Validator) Validate(tenant TenantID, path string) (string, error) {
	if path == "" || strings.ContainsRune(path, 0) {
		return "", ErrInvalidPath
	}

	if !v.mode.IsMultiTenant() {
		if resolved, err := filepath.EvalSymlinks(path); err == nil {
			return resolved, nil
		}
		return path, nil
	}

	base := v.TenantBase(tenant)
	// Canonicalize the base when it exists; a base that has never been
	// created has no filesystem content to resolve, so the literal path
	// is a safe, conservative comparison prefix.
	if resolved, err := filepath.EvalSymlinks(base); err == nil {
		base = resolved
	}

	resolved, err := resolveCandidate(path)
	if err != nil {
		return "", ErrInvalidPath
	}

	if !hasPathPrefix(resolved, base) {
		logger.Security("boundary_violation",
			"tenantID", string(tenant),
			"requestedPath", path,
			"resolvedPath", resolved,
			"tenantBase", base,
		)
		return "", ErrOutsideBoundary
	}

	return resolved, nil
}

// resolveCandidate canonicalizes path. When the full path exists, every
// symlink in it is resolved in one shot. When it does not exist yet, the
// path is walked component by component: each existing prefix is
// canonicalized before the next component is appended, and `..` in the
// non-existent tail is folded against the already-resolved prefix.
func resolveCandidate(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}

	resolved := string(filepath.Separator)
	for _, comp := range strings.Split(abs, string(filepath.Separator)) {
		switch comp {
		case "", ".":
			continue
		case "..":
			resolved = filepath.Dir(resolved)
			continue
		}
		resolved = filepath.Join(resolved, comp)
		if r, err := filepath.EvalSymlinks(resolved); err == nil {
			resolved = r
		}
	}
	return resolved, nil
}

// hasPathPrefix reports whether path is prefix itself or lives under it,
// comparing by path components. A plain string prefix check would wrongly
// accept sibling directories sharing a name prefix ("/workspaces/alice2"
// against "/workspaces/alice").
func hasPathPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}
	prefix = strings.TrimSuffix(prefix, string(filepath.Separator))
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return strings.HasPrefix(path[len(prefix):], string(filepath.Separator))
}
