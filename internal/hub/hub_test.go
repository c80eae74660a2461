package hub

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeGit struct {
	calls     []string
	responses map[string]string
	errs      map[string]error
	failOnce  map[string]int // key -> remaining failures
}

func newFakeGit() *fakeGit {
	return &fakeGit{responses: map[string]string{}, errs: map[string]error{}, failOnce: map[string]int{}}
}

func (f *fakeGit) Run(dir string, args ...string) (string, error) {
	key := strings.Join(args, " ")
	f.calls = append(f.calls, key)
	if n := f.failOnce[key]; n > 0 {
		f.failOnce[key] = n - 1
		return "", fmt.Errorf("transient: %s", key)
	}
	if err, ok := f.errs[key]; ok {
		return "", err
	}
	return f.responses[key], nil
}

func (f *fakeGit) count(key string) int {
	n := 0
	for _, c := range f.calls {
		if c == key {
			n++
		}
	}
	return n
}

func asRepo(f *fakeGit) {
	f.responses["rev-parse --is-inside-work-tree"] = "true"
}

func TestPathFor(t *testing.T) {
	got := PathFor("/home/dev/shopd", "shopd")
	want := filepath.Join("/home/dev", ".relay_hub_shopd")
	if got != want {
		t.Errorf("PathFor = %q, want %q", got, want)
	}
}

func TestPrepareClonesWhenMissing(t *testing.T) {
	parent := t.TempDir()
	ws := filepath.Join(parent, "shopd")
	if err := os.MkdirAll(ws, 0o755); err != nil {
		t.Fatal(err)
	}

	fake := newFakeGit()
	asRepo(fake)
	remoteURL := "ssh://git@example.com/shopd/shopd.git"
	fake.responses["remote get-url origin"] = remoteURL

	h, err := Prepare(fake, ws, "shopd", "origin")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	// The hub must be a clone of the remote, not of the workspace: its
	// origin is where publication eventually pushes.
	wantClone := "clone --depth 1 " + remoteURL + " " + filepath.Join(parent, ".relay_hub_shopd")
	if fake.count(wantClone) != 1 {
		t.Errorf("clone not issued against the remote, calls = %v", fake.calls)
	}
	for _, c := range fake.calls {
		if strings.HasPrefix(c, "clone") && strings.Contains(c, " "+ws+" ") {
			t.Errorf("hub cloned from the workspace: %v", c)
		}
	}
	if h.Path() != filepath.Join(parent, ".relay_hub_shopd") {
		t.Errorf("Path = %q", h.Path())
	}
}

func TestPrepareFailsWithoutRemote(t *testing.T) {
	parent := t.TempDir()
	ws := filepath.Join(parent, "shopd")
	if err := os.MkdirAll(ws, 0o755); err != nil {
		t.Fatal(err)
	}

	fake := newFakeGit()
	asRepo(fake)
	fake.errs["remote get-url origin"] = fmt.Errorf("error: No such remote 'origin'")

	if _, err := Prepare(fake, ws, "shopd", "origin"); err == nil {
		t.Fatal("expected Prepare to fail when the remote cannot be resolved")
	}
}

func TestPrepareReusesExisting(t *testing.T) {
	parent := t.TempDir()
	ws := filepath.Join(parent, "shopd")
	hubDir := filepath.Join(parent, ".relay_hub_shopd")
	for _, d := range []string{ws, hubDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	fake := newFakeGit()
	asRepo(fake)

	if _, err := Prepare(fake, ws, "shopd", "origin"); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	for _, c := range fake.calls {
		if strings.HasPrefix(c, "clone") || strings.HasPrefix(c, "remote get-url") {
			t.Errorf("unexpected call on existing hub: %v", fake.calls)
		}
	}
}

func TestOpenMissingHub(t *testing.T) {
	fake := newFakeGit() // rev-parse not stubbed, so IsRepo is false
	if _, err := Open(fake, t.TempDir(), "ghost"); err == nil {
		t.Fatal("expected error opening a missing hub")
	}
}

func TestSyncRetriesOnce(t *testing.T) {
	parent := t.TempDir()
	ws := filepath.Join(parent, "shopd")
	hubDir := filepath.Join(parent, ".relay_hub_shopd")
	for _, d := range []string{ws, hubDir} {
		os.MkdirAll(d, 0o755)
	}

	fake := newFakeGit()
	asRepo(fake)
	fake.failOnce["fetch origin main"] = 1

	h, err := Open(fake, ws, "shopd")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := h.Sync("origin", "main"); err != nil {
		t.Fatalf("Sync should succeed on retry: %v", err)
	}
	if fake.count("fetch origin main") != 2 {
		t.Errorf("fetch attempts = %d, want 2", fake.count("fetch origin main"))
	}
	if fake.count("reset --hard FETCH_HEAD") != 1 {
		t.Errorf("reset attempts = %d, want 1", fake.count("reset --hard FETCH_HEAD"))
	}
}

func TestSyncGivesUpAfterRetry(t *testing.T) {
	parent := t.TempDir()
	ws := filepath.Join(parent, "shopd")
	hubDir := filepath.Join(parent, ".relay_hub_shopd")
	for _, d := range []string{ws, hubDir} {
		os.MkdirAll(d, 0o755)
	}

	fake := newFakeGit()
	asRepo(fake)
	fake.errs["fetch origin main"] = fmt.Errorf("remote unreachable")

	h, err := Open(fake, ws, "shopd")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := h.Sync("origin", "main"); err == nil {
		t.Fatal("expected Sync to fail after retries")
	}
	if fake.count("fetch origin main") != 2 {
		t.Errorf("fetch attempts = %d, want 2", fake.count("fetch origin main"))
	}
}

func TestCopyFromWorkspace(t *testing.T) {
	parent := t.TempDir()
	ws := filepath.Join(parent, "shopd")
	hubDir := filepath.Join(parent, ".relay_hub_shopd")
	for _, d := range []string{ws, hubDir} {
		os.MkdirAll(d, 0o755)
	}

	// A changed file, and a file deleted from the workspace but still in the hub.
	os.MkdirAll(filepath.Join(ws, "internal"), 0o755)
	os.WriteFile(filepath.Join(ws, "internal", "cart.go"), []byte("package internal\n"), 0o644)
	os.WriteFile(filepath.Join(hubDir, "gone.go"), []byte("old\n"), 0o644)

	fake := newFakeGit()
	asRepo(fake)
	h, err := Open(fake, ws, "shopd")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	err = h.CopyFromWorkspace(ws, []string{filepath.Join("internal", "cart.go"), "gone.go"})
	if err != nil {
		t.Fatalf("CopyFromWorkspace: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(hubDir, "internal", "cart.go"))
	if err != nil {
		t.Fatalf("copied file missing: %v", err)
	}
	if string(data) != "package internal\n" {
		t.Errorf("copied content = %q", data)
	}
	if _, err := os.Stat(filepath.Join(hubDir, "gone.go")); !os.IsNotExist(err) {
		t.Error("deleted workspace file should be removed from hub")
	}
}

func TestCleanupBranches(t *testing.T) {
	parent := t.TempDir()
	ws := filepath.Join(parent, "shopd")
	hubDir := filepath.Join(parent, ".relay_hub_shopd")
	for _, d := range []string{ws, hubDir} {
		os.MkdirAll(d, 0o755)
	}

	fake := newFakeGit()
	asRepo(fake)
	fake.responses["for-each-ref --format=%(refname:short) refs/heads"] = "main\nrelay/clone/p1\nrelay/code/p1"
	fake.responses["rev-parse --abbrev-ref HEAD"] = "main"

	h, err := Open(fake, ws, "shopd")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	deleted, err := h.CleanupBranches("main")
	if err != nil {
		t.Fatalf("CleanupBranches: %v", err)
	}
	if len(deleted) != 2 {
		t.Errorf("deleted = %v, want both relay branches", deleted)
	}
	if fake.count("checkout main") != 1 {
		t.Errorf("expected checkout main before sweeping, calls = %v", fake.calls)
	}
}

func TestDestroy(t *testing.T) {
	parent := t.TempDir()
	ws := filepath.Join(parent, "shopd")
	hubDir := filepath.Join(parent, ".relay_hub_shopd")
	for _, d := range []string{ws, hubDir} {
		os.MkdirAll(d, 0o755)
	}
	os.WriteFile(filepath.Join(hubDir, "f"), []byte("x"), 0o644)

	fake := newFakeGit()
	asRepo(fake)
	h, err := Open(fake, ws, "shopd")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := h.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := os.Stat(hubDir); !os.IsNotExist(err) {
		t.Error("hub directory still exists after Destroy")
	}
}
