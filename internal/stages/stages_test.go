package stages

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/relaydev/relay/internal/config"
	"github.com/relaydev/relay/internal/hub"
	"github.com/relaydev/relay/internal/logging"
	"github.com/relaydev/relay/internal/pipeline"
)

// fakeGit plays back canned git responses keyed by the joined argument
// string. errFor, when set, decides per-call failures.
type fakeGit struct {
	calls     []string
	responses map[string]string
	errFor    func(key string) error
}

func newFakeGit() *fakeGit {
	f := &fakeGit{responses: map[string]string{}}
	f.responses["rev-parse --is-inside-work-tree"] = "true"
	f.responses["rev-parse HEAD"] = "deadbeefcafe"
	return f
}

func (f *fakeGit) Run(dir string, args ...string) (string, error) {
	key := strings.Join(args, " ")
	f.calls = append(f.calls, key)
	if f.errFor != nil {
		if err := f.errFor(key); err != nil {
			return "", err
		}
	}
	return f.responses[key], nil
}

func (f *fakeGit) count(prefix string) int {
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// fakeCmd scripts shell command results by exact command string.
type cmdResult struct {
	stdout string
	stderr string
	exit   int
}

type fakeCmd struct {
	results map[string]cmdResult
	calls   []string
}

func newFakeCmd() *fakeCmd {
	return &fakeCmd{results: map[string]cmdResult{}}
}

func (f *fakeCmd) Run(ctx context.Context, dir, command string) (string, string, int, error) {
	f.calls = append(f.calls, command)
	r := f.results[command]
	return r.stdout, r.stderr, r.exit, nil
}

func (f *fakeCmd) count(command string) int {
	n := 0
	for _, c := range f.calls {
		if c == command {
			n++
		}
	}
	return n
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Project.Name = "shopd"
	cfg.Git.Remote = "origin"
	cfg.Git.BaseBranch = "main"
	cfg.Exec.Command = "go build ./..."
	cfg.Test.Command = "go test ./..."
	cfg.Report.OutputDir = filepath.Join(".relay", "reports")
	return cfg
}

func testHub(t *testing.T, fake *fakeGit) (*pipeline.RunContext, *hub.Hub) {
	t.Helper()
	parent := t.TempDir()
	ws := filepath.Join(parent, "shopd")
	hubDir := filepath.Join(parent, ".relay_hub_shopd")
	for _, d := range []string{ws, hubDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	h, err := hub.Open(fake, ws, "shopd")
	if err != nil {
		t.Fatalf("hub.Open: %v", err)
	}
	rc := pipeline.NewRunContext("a1b2c3d4-0000-0000-0000-000000000000", "shopd", ws, "relay.yaml", "origin", "main")
	rc.HubPath = h.Path()
	return rc, h
}

func discard() *logging.StageLogger { return logging.Discard() }
