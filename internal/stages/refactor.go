package stages

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/relaydev/relay/internal/command"
	"github.com/relaydev/relay/internal/config"
	"github.com/relaydev/relay/internal/hub"
	"github.com/relaydev/relay/internal/logging"
	"github.com/relaydev/relay/internal/pipeline"
)

// Refactor runs static checks over the checkpoint and applies the
// configured fix command to offending files. Fixes must keep the test suite
// green: on a regression the files are reverted, and if the suite still
// fails afterwards the run is aborted, because the checkpoint can no longer
// be trusted.
type Refactor struct {
	RC  *pipeline.RunContext
	Cfg *config.Config
	Hub *hub.Hub
	Log *logging.StageLogger
	Cmd command.Runner
}

func (r *Refactor) Name() string { return "refactor" }

// finding lines look like "internal/store/cart.go:41:2: unused variable".
var findingLine = regexp.MustCompile(`(?m)^([^\s:]+\.go):\d+`)

func (r *Refactor) Execute(ctx context.Context) (map[string]any, error) {
	rc := r.RC

	branch := rc.StageBranchName(r.Name())
	if err := r.Hub.CreateStageBranch(branch); err != nil {
		return nil, err
	}
	if err := rc.SetStageBranch(r.Name(), branch); err != nil {
		return nil, err
	}

	data := map[string]any{"fixed_files": []string{}, "reverted": false}

	if r.Cfg.Checks.Command == "" {
		r.Log.Info("no checks configured, skipping")
		return r.finish(data)
	}

	res, err := r.runChecks(ctx)
	if err != nil {
		return nil, err
	}
	data["checks_exit_code"] = res.ExitCode
	if res.Passed() {
		r.Log.Info("checks clean")
		return r.finish(data)
	}

	files := offendingFiles(res.Stdout + "\n" + res.Stderr)
	r.Log.Info("checks found issues", "files", len(files))
	if r.Cfg.Checks.FixCommand == "" || len(files) == 0 {
		return r.finish(data)
	}

	for _, f := range files {
		fixCmd := r.Cfg.Checks.FixCommand + " " + f
		fixRes, err := command.Run(ctx, r.Cmd, r.Hub.Path(), fixCmd, 0)
		if err != nil {
			return nil, &pipeline.ExternalToolError{Tool: r.Cfg.Checks.FixCommand, ExitCode: -1, Detail: err.Error()}
		}
		r.Log.LogCommand(fixCmd, fixRes.ExitCode, fixRes.Stdout, fixRes.Stderr)
	}
	data["fixed_files"] = files

	gate, err := r.runGate(ctx)
	if err != nil {
		return nil, err
	}
	if !gate.Passed() {
		r.Log.Warn("fixes broke the test suite, reverting", "files", len(files))
		if err := r.Hub.Repo().CheckoutPaths(files...); err != nil {
			return nil, err
		}
		data["fixed_files"] = []string{}
		data["reverted"] = true

		gate, err = r.runGate(ctx)
		if err != nil {
			return nil, err
		}
		if !gate.Passed() {
			return nil, &pipeline.IntegrityError{Msg: "test suite still failing after reverting refactor fixes"}
		}
	} else if err := r.Hub.CopyToWorkspace(rc.WorkspacePath, files); err != nil {
		return nil, err
	}

	return r.finish(data)
}

func (r *Refactor) finish(data map[string]any) (map[string]any, error) {
	sha, err := checkpoint(r.Hub, fmt.Sprintf("relay: refactor checkpoint %s", r.RC.ShortID()))
	if err != nil {
		return nil, err
	}
	data["commit"] = sha
	return data, nil
}

func (r *Refactor) runChecks(ctx context.Context) (*command.Result, error) {
	timeout, err := r.Cfg.Checks.Duration()
	if err != nil {
		return nil, &pipeline.ConfigurationError{Msg: fmt.Sprintf("checks.timeout: %v", err)}
	}
	res, rerr := command.Run(ctx, r.Cmd, r.Hub.Path(), r.Cfg.Checks.Command, timeout)
	if rerr != nil {
		return nil, &pipeline.ExternalToolError{Tool: r.Cfg.Checks.Command, ExitCode: -1, Detail: rerr.Error()}
	}
	r.Log.LogCommand(r.Cfg.Checks.Command, res.ExitCode, res.Stdout, res.Stderr)
	return res, nil
}

func (r *Refactor) runGate(ctx context.Context) (*command.Result, error) {
	timeout, err := r.Cfg.Test.Duration()
	if err != nil {
		return nil, &pipeline.ConfigurationError{Msg: fmt.Sprintf("test.timeout: %v", err)}
	}
	res, rerr := command.Run(ctx, r.Cmd, r.Hub.Path(), r.Cfg.Test.Command, timeout)
	if rerr != nil {
		return nil, &pipeline.ExternalToolError{Tool: r.Cfg.Test.Command, ExitCode: -1, Detail: rerr.Error()}
	}
	r.Log.LogCommand(r.Cfg.Test.Command, res.ExitCode, res.Stdout, res.Stderr)
	return res, nil
}

// offendingFiles extracts the unique file paths named in check findings,
// preserving first-seen order.
func offendingFiles(output string) []string {
	seen := map[string]bool{}
	var files []string
	for _, m := range findingLine.FindAllStringSubmatch(output, -1) {
		f := strings.TrimPrefix(m[1], "./")
		if !seen[f] {
			seen[f] = true
			files = append(files, f)
		}
	}
	return files
}
