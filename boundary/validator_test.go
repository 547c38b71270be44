package boundary

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// setupBoundary creates a boundary root with a sandbox for the given
// tenants and returns a multi-tenant Validator over it. The returned root
// is symlink-resolved so expectations compare cleanly on hosts where the
// temp directory is itself a symlink (macOS /var → /private/var).
func setupBoundary(t *testing.T, tenants ...TenantID) (*Validator, string) {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("resolve temp dir: %v", err)
	}
	for _, tenant := range tenants {
		if err := os.MkdirAll(filepath.Join(root, string(tenant)), 0755); err != nil {
			t.Fatalf("create tenant base: %v", err)
		}
	}
	return NewValidator(MultiTenant, root), root
}

func TestValidate_PathInsideBoundary(t *testing.T) {
	v, root := setupBoundary(t, "alice")
	projDir := filepath.Join(root, "alice", "proj")
	if err := os.MkdirAll(projDir, 0755); err != nil {
		t.Fatal(err)
	}

	got, err := v.Validate("alice", projDir)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got != projDir {
		t.Errorf("Validate = %q, want %q", got, projDir)
	}
}

func TestValidate_TenantBaseItselfAllowed(t *testing.T) {
	v, root := setupBoundary(t, "alice")

	got, err := v.Validate("alice", filepath.Join(root, "alice"))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got != filepath.Join(root, "alice") {
		t.Errorf("Validate = %q", got)
	}
}

func TestValidate_DotDotEscapeRejected(t *testing.T) {
	v, root := setupBoundary(t, "alice", "bob")
	secret := filepath.Join(root, "bob", "secret.txt")
	if err := os.WriteFile(secret, []byte("s"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := v.Validate("alice", filepath.Join(root, "alice", "..", "bob", "secret.txt"))
	if !errors.Is(err, ErrOutsideBoundary) {
		t.Fatalf("err = %v, want ErrOutsideBoundary", err)
	}
}

func TestValidate_NetTraversalInsideAccepted(t *testing.T) {
	v, root := setupBoundary(t, "alice")
	for _, dir := range []string{"proj", "proj2"} {
		if err := os.MkdirAll(filepath.Join(root, "alice", dir), 0755); err != nil {
			t.Fatal(err)
		}
	}
	file := filepath.Join(root, "alice", "proj2", "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := v.Validate("alice", filepath.Join(root, "alice", "proj", "..", "proj2", "file.txt"))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got != file {
		t.Errorf("Validate = %q, want %q", got, file)
	}
}

func TestValidate_SiblingPrefixRejected(t *testing.T) {
	v, root := setupBoundary(t, "alice", "alice2")
	inside2 := filepath.Join(root, "alice2", "data")
	if err := os.MkdirAll(inside2, 0755); err != nil {
		t.Fatal(err)
	}

	// "alice2" shares a string prefix with "alice"; component comparison
	// must still reject it.
	_, err := v.Validate("alice", inside2)
	if !errors.Is(err, ErrOutsideBoundary) {
		t.Fatalf("err = %v, want ErrOutsideBoundary", err)
	}
}

func TestValidate_SymlinkEscapeRejected(t *testing.T) {
	v, root := setupBoundary(t, "alice", "bob")
	target := filepath.Join(root, "bob", "private")
	if err := os.MkdirAll(target, 0755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "alice", "innocent")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	// The symlink sits inside alice's sandbox but resolves into bob's.
	_, err := v.Validate("alice", link)
	if !errors.Is(err, ErrOutsideBoundary) {
		t.Fatalf("err = %v, want ErrOutsideBoundary", err)
	}
}

func TestValidate_SymlinkChainEscapeRejected(t *testing.T) {
	v, root := setupBoundary(t, "alice")
	outside := filepath.Join(root, "outside")
	if err := os.MkdirAll(outside, 0755); err != nil {
		t.Fatal(err)
	}
	hop := filepath.Join(root, "alice", "hop")
	if err := os.Symlink(outside, hop); err != nil {
		t.Fatal(err)
	}
	entry := filepath.Join(root, "alice", "entry")
	if err := os.Symlink(hop, entry); err != nil {
		t.Fatal(err)
	}

	_, err := v.Validate("alice", entry)
	if !errors.Is(err, ErrOutsideBoundary) {
		t.Fatalf("err = %v, want ErrOutsideBoundary", err)
	}
}

func TestValidate_SymlinkWithinBoundaryAccepted(t *testing.T) {
	v, root := setupBoundary(t, "alice")
	target := filepath.Join(root, "alice", "real")
	if err := os.MkdirAll(target, 0755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "alice", "alias")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	got, err := v.Validate("alice", link)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got != target {
		t.Errorf("Validate = %q, want %q", got, target)
	}
}

func TestValidate_SymlinkedParentOfNonexistentPathRejected(t *testing.T) {
	v, root := setupBoundary(t, "alice", "bob")
	if err := os.MkdirAll(filepath.Join(root, "bob", "area"), 0755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "alice", "portal")
	if err := os.Symlink(filepath.Join(root, "bob", "area"), link); err != nil {
		t.Fatal(err)
	}

	// The requested file does not exist, but its symlinked parent resolves
	// into bob's sandbox; the prefix walk must still catch it.
	_, err := v.Validate("alice", filepath.Join(link, "new-file.txt"))
	if !errors.Is(err, ErrOutsideBoundary) {
		t.Fatalf("err = %v, want ErrOutsideBoundary", err)
	}
}

func TestValidate_NonexistentPathInsideAccepted(t *testing.T) {
	v, root := setupBoundary(t, "alice")

	want := filepath.Join(root, "alice", "not-yet", "created")
	got, err := v.Validate("alice", want)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got != want {
		t.Errorf("Validate = %q, want %q", got, want)
	}
}

func TestValidate_NoEnumeration(t *testing.T) {
	v, root := setupBoundary(t, "alice", "bob")
	secret := filepath.Join(root, "bob", "secret.txt")
	if err := os.WriteFile(secret, []byte("s"), 0644); err != nil {
		t.Fatal(err)
	}

	_, errOther := v.Validate("alice", secret)
	_, errGhost := v.Validate("alice", filepath.Join(root, "ghost", "never-existed.txt"))

	// A probe for another tenant's real file and a probe for a path that
	// never existed must be externally indistinguishable.
	if !errors.Is(errOther, ErrOutsideBoundary) {
		t.Fatalf("cross-tenant err = %v, want ErrOutsideBoundary", errOther)
	}
	if !errors.Is(errGhost, ErrOutsideBoundary) {
		t.Fatalf("nonexistent err = %v, want ErrOutsideBoundary", errGhost)
	}
	if errOther.Error() != errGhost.Error() {
		t.Errorf("error text differs: %q vs %q", errOther, errGhost)
	}
}

func TestValidate_EmptyPathRejected(t *testing.T) {
	v, _ := setupBoundary(t, "alice")
	if _, err := v.Validate("alice", ""); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("err = %v, want ErrInvalidPath", err)
	}
}

func TestValidate_NulBytePathRejected(t *testing.T) {
	v, root := setupBoundary(t, "alice")
	if _, err := v.Validate("alice", filepath.Join(root, "alice")+"\x00evil"); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("err = %v, want ErrInvalidPath", err)
	}
}

func TestValidate_UncreatedTenantBaseLiteralComparison(t *testing.T) {
	// No sandbox directory exists yet for carol; the literal base path is
	// still a valid comparison prefix for not-yet-created paths.
	v, root := setupBoundary(t)

	want := filepath.Join(root, "carol", "first-workspace")
	got, err := v.Validate("carol", want)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got != want {
		t.Errorf("Validate = %q, want %q", got, want)
	}

	if _, err := v.Validate("carol", filepath.Join(root, "dave", "x")); !errors.Is(err, ErrOutsideBoundary) {
		t.Fatalf("err = %v, want ErrOutsideBoundary", err)
	}
}

func TestValidate_SingleTenantNeverRejects(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	v := NewValidator(SingleTenant, root)

	outside := filepath.Join(root, "..", "anywhere")
	got, err := v.Validate("whoever", outside)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got == "" {
		t.Error("single-tenant validation should return a path")
	}

	// Existing paths come back canonicalized.
	real := filepath.Join(root, "real")
	if err := os.MkdirAll(real, 0755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "alias")
	if err := os.Symlink(real, link); err != nil {
		t.Fatal(err)
	}
	got, err = v.Validate("whoever", link)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got != real {
		t.Errorf("Validate = %q, want canonical %q", got, real)
	}
}

func TestTenantBase(t *testing.T) {
	multi := NewValidator(MultiTenant, "/workspaces")
	if got := multi.TenantBase("alice"); got != "/workspaces/alice" {
		t.Errorf("TenantBase = %q", got)
	}

	single := NewValidator(SingleTenant, "/workspaces")
	if got := single.TenantBase("alice"); got != "/workspaces" {
		t.Errorf("single-tenant TenantBase = %q", got)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    DeploymentMode
		wantErr bool
	}{
		{"", SingleTenant, false},
		{"single-tenant", SingleTenant, false},
		{"single", SingleTenant, false},
		{"multi-tenant", MultiTenant, false},
		{"multi", MultiTenant, false},
		{"kubernetes", SingleTenant, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
