package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/relaydev/relay/internal/command"
	"github.com/relaydev/relay/internal/config"
	"github.com/relaydev/relay/internal/hub"
	"github.com/relaydev/relay/internal/logging"
	"github.com/relaydev/relay/internal/pipeline"
	"github.com/relaydev/relay/internal/sqlscan"
)

// Code validates the checkpoint's code: it verifies the build tool is
// available, runs the static checks (advisory) and the execution command
// (fatal on failure), and discovers embedded SQL queries so the test stage
// knows what to benchmark.
type Code struct {
	RC  *pipeline.RunContext
	Cfg *config.Config
	Hub *hub.Hub
	Log *logging.StageLogger
	Cmd command.Runner
}

func (c *Code) Name() string { return "code" }

func (c *Code) Execute(ctx context.Context) (map[string]any, error) {
	rc := c.RC

	branch := rc.StageBranchName(c.Name())
	if err := c.Hub.CreateStageBranch(branch); err != nil {
		return nil, err
	}
	if err := rc.SetStageBranch(c.Name(), branch); err != nil {
		return nil, err
	}

	if err := c.envCheck(ctx); err != nil {
		return nil, err
	}

	data := map[string]any{}
	data["checks_passed"] = c.staticChecks(ctx)

	res, err := c.runExec(ctx)
	if err != nil {
		return nil, err
	}
	data["exec_exit_code"] = res.ExitCode
	data["exec_duration_ms"] = res.DurationMs
	if !res.Passed() {
		return nil, &pipeline.ExternalToolError{
			Tool:     c.Cfg.Exec.Command,
			ExitCode: res.ExitCode,
			TimedOut: res.TimedOut,
			Detail:   tail(res.Stderr, 500),
		}
	}

	queries, err := sqlscan.ScanFiles(rc.WorkspacePath, rc.ChangedFiles)
	if err != nil {
		return nil, fmt.Errorf("scan for queries: %w", err)
	}
	rc.SetQueries(queries)
	for _, q := range queries {
		c.Log.Debug("query found", "location", sqlscan.Describe(q))
	}
	c.Log.Info("analysis finished", "files", len(rc.ChangedFiles), "queries", len(queries))

	sha, err := checkpoint(c.Hub, fmt.Sprintf("relay: code checkpoint %s", rc.ShortID()))
	if err != nil {
		return nil, err
	}
	data["has_query"] = rc.HasQuery
	data["query_count"] = len(queries)
	data["queries"] = queries
	data["commit"] = sha
	return data, nil
}

// envCheck verifies the execution command's tool exists before anything runs
// against the checkpoint.
func (c *Code) envCheck(ctx context.Context) error {
	tool, _, _ := strings.Cut(strings.TrimSpace(c.Cfg.Exec.Command), " ")
	if tool == "" {
		return &pipeline.ConfigurationError{Msg: "exec.command is empty"}
	}
	res, err := command.Run(ctx, c.Cmd, c.Hub.Path(), "command -v "+tool, 0)
	if err != nil {
		return &pipeline.ConfigurationError{Msg: fmt.Sprintf("check for %s: %v", tool, err)}
	}
	if !res.Passed() {
		return &pipeline.ConfigurationError{Msg: fmt.Sprintf("%s not found on PATH", tool)}
	}
	return nil
}

// staticChecks runs the configured lint command. Findings are warnings; the
// refactor stage gets its chance to fix them later.
func (c *Code) staticChecks(ctx context.Context) bool {
	if c.Cfg.Checks.Command == "" {
		return true
	}
	timeout, err := c.Cfg.Checks.Duration()
	if err != nil {
		c.Log.Warn("checks.timeout invalid, skipping checks", "error", err)
		return true
	}
	res, err := command.Run(ctx, c.Cmd, c.Hub.Path(), c.Cfg.Checks.Command, timeout)
	if err != nil {
		c.Log.Warn("checks command failed to run", "error", err)
		return true
	}
	c.Log.LogCommand(c.Cfg.Checks.Command, res.ExitCode, res.Stdout, res.Stderr)
	if !res.Passed() {
		c.Log.Warn("static checks reported findings", "exit_code", res.ExitCode)
		return false
	}
	return true
}

func (c *Code) runExec(ctx context.Context) (*command.Result, error) {
	p := c.Cfg.Exec
	timeout, err := p.Duration()
	if err != nil {
		return nil, &pipeline.ConfigurationError{Msg: fmt.Sprintf("exec.timeout: %v", err)}
	}
	c.Log.Info("running", "step", "exec", "command", p.Command)
	res, rerr := command.Run(ctx, c.Cmd, c.Hub.Path(), p.Command, timeout)
	if rerr != nil {
		return nil, &pipeline.ExternalToolError{Tool: p.Command, ExitCode: -1, Detail: rerr.Error()}
	}
	c.Log.LogCommand(p.Command, res.ExitCode, res.Stdout, res.Stderr)
	return res, nil
}
