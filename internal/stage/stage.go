package stage

import (
	"context"
	"time"

	"github.com/relaydev/relay/internal/events"
	"github.com/relaydev/relay/internal/logging"
	"github.com/relaydev/relay/internal/pipeline"
)

// Stage is one step of the pipeline. Execute does the stage's actual work
// and returns the data map persisted in its cached output; everything around
// it (status transitions, timing, persistence, failure handling) is uniform
// and lives in Run.
type Stage interface {
	Name() string
	Execute(ctx context.Context) (map[string]any, error)
}

// Deps carries the shared machinery Run needs around a stage execution.
// OnFailure, when set, is invoked after a failure has been recorded and
// before the error is returned; the orchestrator uses it to trigger
// rollback for required stages.
type Deps struct {
	RC        *pipeline.RunContext
	Cache     *pipeline.Store
	Events    *events.DB
	Log       *logging.StageLogger
	OnFailure func(stageName string, err error)
}

// Run executes a stage inside the uniform envelope: mark it running, time
// the execution, persist a success or failure output, record the audit
// event, and on failure invoke the failure hook before propagating the
// error. The returned output is non-nil in both outcomes, so best-effort
// callers can keep the failure record and move on.
func Run(ctx context.Context, s Stage, deps Deps) (*pipeline.StageOutput, error) {
	name := s.Name()
	rc := deps.RC

	rc.MarkStage(name, pipeline.StatusRunning)
	if deps.Events != nil {
		deps.Events.LogRunEvent(rc.PipelineID, name, "started", "", "")
	}
	if deps.Log != nil {
		deps.Log.Info("stage started")
	}

	started := time.Now().UTC()
	data, err := s.Execute(ctx)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	ended := time.Now().UTC()

	out := &pipeline.StageOutput{
		PipelineID: rc.PipelineID,
		AgentName:  name,
		Status:     "success",
		StartedAt:  started.Format(time.RFC3339),
		EndedAt:    ended.Format(time.RFC3339),
		Data:       data,
	}
	if out.Data == nil {
		out.Data = map[string]any{}
	}
	if branch, ok := rc.StageBranch(name); ok {
		out.AgentBranch = branch
	}

	if err == nil {
		if werr := deps.Cache.Write(out); werr != nil {
			err = werr
		}
	}

	if err != nil {
		out.Status = "failed"
		out.EndedAt = time.Now().UTC().Format(time.RFC3339)
		logPath := ""
		if deps.Log != nil {
			logPath = deps.Log.Path()
		}
		out.Error = &pipeline.ErrorInfo{
			Type:    pipeline.ErrorClass(err),
			Message: err.Error(),
			LogPath: logPath,
		}

		rc.MarkStage(name, pipeline.StatusFailed)
		rc.ErrorLog = err.Error()
		// The failure record matters more than the write error here.
		deps.Cache.Write(out)
		if deps.Events != nil {
			deps.Events.LogRunEvent(rc.PipelineID, name, "failed", out.Error.Type, err.Error())
		}
		if deps.Log != nil {
			deps.Log.Error("stage failed", "error", err, "error_type", out.Error.Type)
		}
		if deps.OnFailure != nil {
			deps.OnFailure(name, err)
		}
		return out, err
	}

	rc.MarkStage(name, pipeline.StatusSuccess)
	if deps.Events != nil {
		deps.Events.LogRunEvent(rc.PipelineID, name, "succeeded", "", "")
	}
	if deps.Log != nil {
		deps.Log.Info("stage finished", "duration", ended.Sub(started).String())
	}
	return out, nil
}
