package stages

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/relaydev/relay/internal/command"
	"github.com/relaydev/relay/internal/config"
	"github.com/relaydev/relay/internal/hub"
	"github.com/relaydev/relay/internal/logging"
	"github.com/relaydev/relay/internal/pipeline"
)

// Test validates the checkpoint: benchmark any discovered SQL queries
// against the configured database, rewrite files where a candidate wins,
// then run the test suite. Test failure is fatal for the run; optimizer
// findings are advisory data for the report.
type Test struct {
	RC  *pipeline.RunContext
	Cfg *config.Config
	Hub *hub.Hub
	Log *logging.StageLogger
	Cmd command.Runner

	// Planner and Provider are created from config when nil; tests inject
	// fakes here.
	Planner  Planner
	Provider CandidateProvider
}

func (t *Test) Name() string { return "test" }

func (t *Test) Execute(ctx context.Context) (map[string]any, error) {
	rc := t.RC

	branch := rc.StageBranchName(t.Name())
	if err := t.Hub.CreateStageBranch(branch); err != nil {
		return nil, err
	}
	if err := rc.SetStageBranch(t.Name(), branch); err != nil {
		return nil, err
	}

	data := map[string]any{}

	optimized, err := t.optimize(ctx)
	if err != nil {
		return nil, err
	}
	data["optimized_queries"] = optimized
	data["total_queries"] = len(rc.Queries)

	res, err := t.runProfile(ctx, "test", t.Cfg.Test)
	if err != nil {
		return nil, err
	}
	data["test_exit_code"] = res.ExitCode
	data["test_duration_ms"] = res.DurationMs
	if !res.Passed() {
		return nil, &pipeline.ExternalToolError{
			Tool:     t.Cfg.Test.Command,
			ExitCode: res.ExitCode,
			TimedOut: res.TimedOut,
			Detail:   tail(res.Stderr, 500),
		}
	}

	sha, err := checkpoint(t.Hub, fmt.Sprintf("relay: test checkpoint %s", rc.ShortID()))
	if err != nil {
		return nil, err
	}
	data["commit"] = sha
	return data, nil
}

func (t *Test) runProfile(ctx context.Context, name string, p config.Profile) (*command.Result, error) {
	timeout, err := p.Duration()
	if err != nil {
		return nil, &pipeline.ConfigurationError{Msg: fmt.Sprintf("%s.timeout: %v", name, err)}
	}
	t.Log.Info("running", "step", name, "command", p.Command)
	res, rerr := command.Run(ctx, t.Cmd, t.Hub.Path(), p.Command, timeout)
	if rerr != nil {
		return nil, &pipeline.ExternalToolError{Tool: p.Command, ExitCode: -1, Detail: rerr.Error()}
	}
	t.Log.LogCommand(p.Command, res.ExitCode, res.Stdout, res.Stderr)
	return res, nil
}

// optimize benchmarks each discovered query and, where a candidate beat the
// original plan, rewrites the hub copy of the file so the test command runs
// against the optimized query.
func (t *Test) optimize(ctx context.Context) ([]Suggestion, error) {
	suggestions := []Suggestion{}
	if !t.Cfg.Optimizer.Enabled || !t.RC.HasQuery {
		return suggestions, nil
	}

	planner := t.Planner
	if planner == nil {
		p, err := NewPlanner(ctx, t.Cfg.Database.DSN())
		if err != nil {
			return nil, err
		}
		defer p.Close()
		planner = p
	}

	provider := t.Provider
	if provider == nil {
		provider = &CommandProvider{Command: t.Cfg.Optimizer.CandidateCommand, Dir: t.RC.WorkspacePath}
	}

	for _, q := range t.RC.Queries {
		candidates, err := provider.Candidates(ctx, q)
		if err != nil {
			t.Log.Warn("candidate generation failed", "query", q.Query, "error", err)
			continue
		}
		s, err := BestQuery(ctx, planner, q, candidates)
		if err != nil {
			t.Log.Warn("benchmark failed", "query", q.Query, "error", err)
			continue
		}
		if s == nil {
			continue
		}
		if err := t.rewriteQuery(q, s.Suggested); err != nil {
			t.Log.Warn("rewrite failed, keeping original query", "location", s.Location, "error", err)
			continue
		}
		suggestions = append(suggestions, *s)
		t.Log.Info("faster query applied", "location", s.Location, "original_cost", s.OriginalCost, "best_cost", s.BestCost)
	}
	return suggestions, nil
}

// rewriteQuery swaps the original literal for the winning candidate in the
// hub copy of the file.
func (t *Test) rewriteQuery(q pipeline.QueryInfo, suggested string) error {
	path := filepath.Join(t.Hub.Path(), q.FilePath)
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if !bytes.Contains(data, []byte(q.Query)) {
		return fmt.Errorf("query not found in %s", q.FilePath)
	}
	return os.WriteFile(path, bytes.Replace(data, []byte(q.Query), []byte(suggested), 1), info.Mode())
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
