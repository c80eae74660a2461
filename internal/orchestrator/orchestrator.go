package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/relaydev/relay/internal/command"
	"github.com/relaydev/relay/internal/config"
	"github.com/relaydev/relay/internal/events"
	"github.com/relaydev/relay/internal/git"
	"github.com/relaydev/relay/internal/hub"
	"github.com/relaydev/relay/internal/logging"
	"github.com/relaydev/relay/internal/pipeline"
	"github.com/relaydev/relay/internal/rollback"
	"github.com/relaydev/relay/internal/stage"
	"github.com/relaydev/relay/internal/stages"
)

// Orchestrator drives one pipeline run through the fixed stage chain:
// clone, code, test, refactor, sync, notify, report. The first five are
// required; a failure there triggers rollback and aborts the run. Notify
// and report are best-effort: their failures are recorded and swallowed.
// Report additionally only runs when notify asked for one.
type Orchestrator struct {
	Cfg    *config.Config
	RC     *pipeline.RunContext
	Cache  *pipeline.Store
	Events *events.DB
	Git    git.Runner
	Cmd    command.Runner

	In          io.Reader
	Out         io.Writer
	AutoApprove bool

	// Optional injection points for tests; production leaves them nil and
	// the stages build their own from config.
	Chat     stages.ChatClient
	Planner  stages.Planner
	Provider stages.CandidateProvider

	// NewLogger builds the per-stage logger. Defaults to file+console
	// logging under the workspace.
	NewLogger func(stageName string) (*logging.StageLogger, error)

	hub *hub.Hub
}

// Run executes the pipeline. It returns the error of the failed required
// stage, nil otherwise; rollback has already happened by the time it
// returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if o.In == nil {
		o.In = os.Stdin
	}

	required := []string{"clone", "code", "test", "refactor", "sync"}
	for _, name := range required {
		if err := o.runRequired(ctx, name); err != nil {
			return err
		}
	}

	notifyOut := o.runBestEffort(ctx, "notify")
	if wantReport(notifyOut) {
		o.runBestEffort(ctx, "report")
	} else {
		o.log("report skipped, notify did not request one")
	}

	if err := o.RC.SaveSnapshot(); err != nil {
		o.log(fmt.Sprintf("snapshot not saved: %v", err))
	}
	fmt.Fprintf(o.Out, "pipeline %s finished\n", o.RC.ShortID())
	return nil
}

func (o *Orchestrator) runRequired(ctx context.Context, name string) error {
	log, err := o.logger(name)
	if err != nil {
		return err
	}
	defer log.Close()

	st, err := o.stageFor(name, log)
	if err != nil {
		return err
	}

	deps := stage.Deps{
		RC:     o.RC,
		Cache:  o.Cache,
		Events: o.Events,
		Log:    log,
		OnFailure: func(stageName string, cause error) {
			m := &rollback.Manager{
				Hub:        o.hub,
				RC:         o.RC,
				Events:     o.Events,
				Log:        log,
				BaseBranch: o.Cfg.Git.BaseBranch,
				CleanupHub: o.Cfg.Pipeline.CleanupHubOnFailure,
				Out:        o.Out,
			}
			m.Rollback(stageName, cause)
		},
	}
	_, err = stage.Run(ctx, st, deps)
	return err
}

// runBestEffort executes a stage, keeping its failure output in the cache
// and moving on. The returned output is the stage's record either way.
func (o *Orchestrator) runBestEffort(ctx context.Context, name string) *pipeline.StageOutput {
	log, err := o.logger(name)
	if err != nil {
		o.log(fmt.Sprintf("%s skipped: %v", name, err))
		return nil
	}
	defer log.Close()

	st, err := o.stageFor(name, log)
	if err != nil {
		o.log(fmt.Sprintf("%s skipped: %v", name, err))
		return nil
	}

	out, err := stage.Run(ctx, st, stage.Deps{
		RC:     o.RC,
		Cache:  o.Cache,
		Events: o.Events,
		Log:    log,
	})
	if err != nil {
		o.log(fmt.Sprintf("%s failed (continuing): %v", name, err))
	}
	return out
}

func (o *Orchestrator) stageFor(name string, log *logging.StageLogger) (stage.Stage, error) {
	switch name {
	case "clone":
		return &stages.Clone{
			RC:        o.RC,
			Cfg:       o.Cfg,
			Runner:    o.Git,
			Workspace: git.NewRepo(o.Git, o.RC.WorkspacePath),
			Log:       log,
			AttachHub: func(h *hub.Hub) { o.hub = h },
		}, nil
	case "code":
		return &stages.Code{RC: o.RC, Cfg: o.Cfg, Hub: o.hub, Log: log, Cmd: o.Cmd}, nil
	case "test":
		return &stages.Test{
			RC: o.RC, Cfg: o.Cfg, Hub: o.hub, Log: log, Cmd: o.Cmd,
			Planner: o.Planner, Provider: o.Provider,
		}, nil
	case "refactor":
		return &stages.Refactor{RC: o.RC, Cfg: o.Cfg, Hub: o.hub, Log: log, Cmd: o.Cmd}, nil
	case "sync":
		return &stages.Sync{
			RC: o.RC, Cfg: o.Cfg, Hub: o.hub, Log: log, Events: o.Events, Cache: o.Cache,
			In: o.In, Out: o.Out, AutoApprove: o.AutoApprove,
		}, nil
	case "notify":
		return &stages.Notify{RC: o.RC, Cfg: o.Cfg, Log: log, Client: o.Chat}, nil
	case "report":
		return &stages.Report{RC: o.RC, Cfg: o.Cfg, Log: log, Cache: o.Cache, Events: o.Events}, nil
	}
	return nil, &pipeline.IntegrityError{Msg: fmt.Sprintf("unknown stage %q", name)}
}

func (o *Orchestrator) logger(name string) (*logging.StageLogger, error) {
	if o.NewLogger != nil {
		return o.NewLogger(name)
	}
	return logging.NewStageLogger(o.RC.WorkspacePath, name)
}

func (o *Orchestrator) log(msg string) {
	fmt.Fprintln(o.Out, msg)
}

// wantReport reads notify's verdict from its output.
func wantReport(out *pipeline.StageOutput) bool {
	if out == nil || out.Status != "success" {
		return false
	}
	want, ok := out.Data["create_report"].(bool)
	return ok && want
}
