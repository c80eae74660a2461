package stages

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/relaydev/relay/internal/git"
	"github.com/relaydev/relay/internal/hub"
	"github.com/relaydev/relay/internal/pipeline"
)

func TestCloneStage(t *testing.T) {
	parent := t.TempDir()
	ws := filepath.Join(parent, "shopd")
	if err := os.MkdirAll(filepath.Join(ws, "store"), 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(ws, "store", "cart.go"), []byte("package store\n"), 0o644)

	fake := newFakeGit()
	fake.responses["diff --name-only origin/main HEAD"] = "store/cart.go\nremoved.go"
	remoteURL := "ssh://git@example.com/shopd/shopd.git"
	fake.responses["remote get-url origin"] = remoteURL

	rc := pipeline.NewRunContext("a1b2c3d4-0000-0000-0000-000000000000", "shopd", ws, "relay.yaml", "origin", "main")

	var attached *hub.Hub
	c := &Clone{
		RC:        rc,
		Cfg:       testConfig(),
		Runner:    fake,
		Workspace: git.NewRepo(fake, ws),
		Log:       discard(),
		AttachHub: func(h *hub.Hub) { attached = h },
	}

	data, err := c.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if attached == nil {
		t.Fatal("hub not attached")
	}
	if rc.HubPath != filepath.Join(parent, ".relay_hub_shopd") {
		t.Errorf("HubPath = %q", rc.HubPath)
	}
	if fake.count("clone --depth 1 "+remoteURL+" "+rc.HubPath) != 1 {
		t.Errorf("hub not cloned from the remote, calls = %v", fake.calls)
	}
	if fake.count("fetch origin main") != 1 || fake.count("reset --hard FETCH_HEAD") != 1 {
		t.Errorf("hub not synced, calls = %v", fake.calls)
	}

	if len(rc.ChangedFiles) != 2 {
		t.Errorf("ChangedFiles = %v", rc.ChangedFiles)
	}

	branch, ok := rc.StageBranch("clone")
	if !ok || branch != "relay/clone/"+rc.PipelineID {
		t.Errorf("stage branch = %q, %v", branch, ok)
	}
	if fake.count("checkout -b "+branch) != 1 {
		t.Errorf("branch not created, calls = %v", fake.calls)
	}

	// Changed file mirrored into the hub.
	if _, err := os.Stat(filepath.Join(rc.HubPath, "store", "cart.go")); err != nil {
		t.Errorf("changed file not copied to hub: %v", err)
	}

	if data["commit"] != "deadbeefcafe" {
		t.Errorf("commit = %v", data["commit"])
	}
}

func TestCloneFallsBackToLastCommit(t *testing.T) {
	parent := t.TempDir()
	ws := filepath.Join(parent, "shopd")
	os.MkdirAll(ws, 0o755)

	fake := newFakeGit()
	fake.errFor = func(key string) error {
		if key == "diff --name-only origin/main HEAD" {
			return os.ErrNotExist
		}
		return nil
	}
	fake.responses["diff --name-only HEAD~1 HEAD"] = "main.go"
	fake.responses["remote get-url origin"] = "ssh://git@example.com/shopd/shopd.git"

	rc := pipeline.NewRunContext("pid-1", "shopd", ws, "relay.yaml", "origin", "main")
	c := &Clone{
		RC:        rc,
		Cfg:       testConfig(),
		Runner:    fake,
		Workspace: git.NewRepo(fake, ws),
		Log:       discard(),
	}

	if _, err := c.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(rc.ChangedFiles) != 1 || rc.ChangedFiles[0] != "main.go" {
		t.Errorf("ChangedFiles = %v", rc.ChangedFiles)
	}
}
