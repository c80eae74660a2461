package stages

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/relaydev/relay/internal/pipeline"
)

func TestReportStage(t *testing.T) {
	ws := t.TempDir()
	rc := pipeline.NewRunContext("a1b2c3d4-0000-0000-0000-000000000000", "shopd", ws, "relay.yaml", "origin", "main")
	rc.LatestCommits = []pipeline.CommitInfo{{SHA: "abc123def456", Message: "fix checkout race", Author: "Dana"}}
	rc.MarkStage("clone", pipeline.StatusSuccess)

	cache := pipeline.NewStore(ws)
	now := time.Now().UTC().Format(time.RFC3339)
	cache.Write(&pipeline.StageOutput{
		PipelineID: rc.PipelineID, AgentName: "clone", Status: "success",
		StartedAt: now, EndedAt: now, Data: map[string]any{},
	})
	cache.Write(&pipeline.StageOutput{
		PipelineID: rc.PipelineID, AgentName: "test", Status: "success",
		StartedAt: now, EndedAt: now,
		Data: map[string]any{
			"optimized_queries": []any{map[string]any{
				"location": "store/orders.go:7", "suggested": "SELECT id FROM orders",
				"original_cost": 120.5, "best_cost": 14.25,
			}},
			"total_queries": 1,
		},
	})
	cache.Write(&pipeline.StageOutput{
		PipelineID: rc.PipelineID, AgentName: "notify", Status: "success",
		StartedAt: now, EndedAt: now,
		Data: map[string]any{"matched": 2, "create_report": true},
	})

	ev := testEvents(t)
	ev.LogPushAttempt(rc.PipelineID, 1, "origin", "relay/sync/x:main", false, "remote hung up")
	ev.LogPushAttempt(rc.PipelineID, 2, "origin", "relay/sync/x:main", true, "")

	cfg := testConfig()
	r := &Report{RC: rc, Cfg: cfg, Log: discard(), Cache: cache, Events: ev}

	data, err := r.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	path, _ := data["report_path"].(string)
	if path == "" {
		t.Fatal("report_path missing")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	text := string(raw)

	for _, want := range []string{
		"# Relay run a1b2c3d4",
		"| clone | success |",
		"`abc123de` fix checkout race (Dana)",
		"store/orders.go:7: cost 120.5 -> 14.2",
		"2 chat message(s) matched",
		"attempt 1: relay/sync/x:main -> origin (failed)",
		"attempt 2: relay/sync/x:main -> origin (ok)",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q:\n%s", want, text)
		}
	}
}

func TestReportStageMinimal(t *testing.T) {
	ws := t.TempDir()
	rc := pipeline.NewRunContext("pid-1", "shopd", ws, "relay.yaml", "origin", "main")

	r := &Report{RC: rc, Cfg: testConfig(), Log: discard(), Cache: pipeline.NewStore(ws)}
	data, err := r.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if data["report_path"] == "" {
		t.Error("report_path missing")
	}
}
