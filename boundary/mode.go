package boundary

import "fmt"

// DeploymentMode selects between the two trust models the engine supports.
// It is resolved once at startup from configuration and threaded through
// constructors; components never consult the environment themselves.
type DeploymentMode int

const (
	// SingleTenant is the default mode: exactly one trust domain, so
	// boundary checks are advisory (best-effort canonicalization, never
	// rejecting).
	SingleTenant DeploymentMode = iota

	// MultiTenant enforces mandatory, rejecting boundary checks. One
	// tenant must never read, write, or observe another tenant's
	// filesystem state, terminal sessions, or processes.
	MultiTenant
)

// ParseMode parses a mode string from configuration.
// Accepts "single-tenant"/"single" and "multi-tenant"/"multi".
func ParseMode(s string) (DeploymentMode, error) {
	switch s {
	case "", "single-tenant", "single":
		return SingleTenant, nil
	case "multi-tenant", "multi":
		return MultiTenant, nil
	default:
		return SingleTenant, fmt.Errorf("unknown deployment mode %q", s)
	}
}

// String returns a lowercase name for the mode, for logging and display.
func (m DeploymentMode) String() string {
	switch m {
	case SingleTenant:
		return "single-tenant"
	case MultiTenant:
		return "multi-tenant"
	default:
		return "unknown"
	}
}

// IsMultiTenant reports whether boundary checks are mandatory.
func (m DeploymentMode) IsMultiTenant() bool {
	return m == MultiTenant
}
