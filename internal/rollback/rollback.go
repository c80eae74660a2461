package rollback

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/relaydev/relay/internal/events"
	"github.com/relaydev/relay/internal/hub"
	"github.com/relaydev/relay/internal/logging"
	"github.com/relaydev/relay/internal/pipeline"
)

// ErrorRecord is the JSON document written when a run is rolled back. It is
// duplicated into the workspace and hub log trees so the failure survives
// hub destruction.
type ErrorRecord struct {
	PipelineID     string `json:"pipeline_id"`
	FailedStage    string `json:"failed_stage"`
	ErrorType      string `json:"error_type"`
	Message        string `json:"message"`
	LastGoodBranch string `json:"last_good_branch"`
	Timestamp      string `json:"timestamp"`
}

// Manager restores the hub to the last good checkpoint after a required
// stage fails.
type Manager struct {
	Hub        *hub.Hub
	RC         *pipeline.RunContext
	Events     *events.DB
	Log        *logging.StageLogger
	BaseBranch string
	CleanupHub bool
	Out        io.Writer
}

// LastGoodBranch walks the stage order backwards from the failed stage and
// returns the checkpoint branch of the most recent successful stage.
func LastGoodBranch(rc *pipeline.RunContext, failedStage string) (string, bool) {
	idx := len(pipeline.StageOrder)
	for i, s := range pipeline.StageOrder {
		if s == failedStage {
			idx = i
			break
		}
	}
	for i := idx - 1; i >= 0; i-- {
		s := pipeline.StageOrder[i]
		if rc.StageStatus(s) != pipeline.StatusSuccess {
			continue
		}
		if b, ok := rc.StageBranch(s); ok {
			return b, true
		}
	}
	return "", false
}

// Rollback restores the hub after failedStage failed with cause. Steps that
// themselves fail are logged and skipped; rollback always runs to the end
// so the error record and context snapshot are written even when git is in
// a bad state.
func (m *Manager) Rollback(failedStage string, cause error) {
	rc := m.RC

	if m.Events != nil {
		m.Events.LogRunEvent(rc.PipelineID, failedStage, "rolled_back", pipeline.ErrorClass(cause), cause.Error())
	}

	lastGood, found := LastGoodBranch(rc, failedStage)
	target := lastGood
	if !found {
		target = m.BaseBranch
	}

	if m.Hub != nil {
		repo := m.Hub.Repo()
		// A failed stage usually leaves a dirty tree behind, so the
		// checkout is forced, and the tip is hard-reset to the target even
		// if the checkout itself failed.
		if err := repo.CheckoutForce(target); err != nil {
			m.logStep("checkout last good branch", err)
		}
		if err := repo.ResetHard(target); err != nil {
			m.logStep("reset to last good branch", err)
		}

		// Drop the branches of the failed stage and everything after it.
		for _, s := range stagesFrom(failedStage) {
			branch, ok := rc.StageBranch(s)
			if !ok {
				continue
			}
			if err := repo.DeleteBranch(branch); err != nil {
				m.logStep(fmt.Sprintf("delete branch %s", branch), err)
			}
		}
	}

	record := ErrorRecord{
		PipelineID:     rc.PipelineID,
		FailedStage:    failedStage,
		ErrorType:      pipeline.ErrorClass(cause),
		Message:        cause.Error(),
		LastGoodBranch: lastGood,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
	name := "error_" + time.Now().Format("20060102_150405") + ".log"

	wsPath := filepath.Join(rc.WorkspacePath, ".relay", "logs", "errors", name)
	if err := pipeline.WriteJSON(wsPath, record); err != nil {
		m.logStep("write workspace error record", err)
	} else {
		rc.ErrorLog = wsPath
	}
	if m.Hub != nil {
		hubPath := filepath.Join(m.Hub.Path(), ".relay", "logs", "errors", name)
		if err := pipeline.WriteJSON(hubPath, record); err != nil {
			m.logStep("write hub error record", err)
		}
	}

	if err := rc.SaveSnapshot(); err != nil {
		m.logStep("save run context snapshot", err)
	}

	if m.CleanupHub && m.Hub != nil {
		if err := m.Hub.Destroy(); err != nil {
			m.logStep("destroy hub", err)
		}
	}

	m.printSummary(failedStage, cause, target)
}

func (m *Manager) logStep(step string, err error) {
	if m.Log != nil {
		m.Log.Warn("rollback step failed", "step", step, "error", err)
	}
}

func (m *Manager) printSummary(failedStage string, cause error, target string) {
	w := m.Out
	if w == nil {
		w = os.Stderr
	}
	fmt.Fprintf(w, "\npipeline %s failed at stage %s\n", m.RC.ShortID(), failedStage)
	fmt.Fprintf(w, "  error:    %s: %v\n", pipeline.ErrorClass(cause), cause)
	fmt.Fprintf(w, "  restored: %s\n", target)
	if m.RC.ErrorLog != "" {
		fmt.Fprintf(w, "  details:  %s\n", m.RC.ErrorLog)
	}
}

// stagesFrom returns the stage names from the given stage to the end of the
// pipeline. An unknown stage yields the whole order.
func stagesFrom(stage string) []string {
	for i, s := range pipeline.StageOrder {
		if s == stage {
			return pipeline.StageOrder[i:]
		}
	}
	return pipeline.StageOrder
}
