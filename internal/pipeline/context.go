package pipeline

import (
	"fmt"
	"path/filepath"
	"time"
)

// StageStatus is the lifecycle state of a single stage within a run.
type StageStatus string

const (
	StatusPending StageStatus = "pending"
	StatusRunning StageStatus = "running"
	StatusSuccess StageStatus = "success"
	StatusFailed  StageStatus = "failed"
)

// BranchNamespace prefixes every branch relay creates in the hub.
const BranchNamespace = "relay"

// StageOrder is the fixed execution order of the pipeline. The orchestrator
// and the rollback manager both depend on this being the single source of
// truth for sequencing.
var StageOrder = []string{
	"clone",
	"code",
	"test",
	"refactor",
	"sync",
	"notify",
	"report",
}

// BranchStages are the stages that create a checkpoint branch in the hub.
var BranchStages = []string{"clone", "code", "test", "refactor"}

// CommitInfo describes one local commit that the pipeline will carry.
type CommitInfo struct {
	SHA       string `json:"sha"`
	Message   string `json:"message"`
	Author    string `json:"author"`
	Timestamp string `json:"timestamp"`
}

// QueryInfo locates one SQL query discovered in a changed file.
type QueryInfo struct {
	FilePath     string `json:"file_path"`
	FunctionName string `json:"function_name"`
	LineStart    int    `json:"line_start"`
	LineEnd      int    `json:"line_end"`
	Query        string `json:"query"`
}

// RunContext is the shared state for one pipeline execution. It is created
// once by the orchestrator and passed by pointer to every stage. Stages
// mutate it only through the methods below; the maps are private so that
// status monotonicity and branch uniqueness can be enforced in one place.
//
// The orchestrator is single-threaded, so RunContext needs no locking.
type RunContext struct {
	PipelineID    string
	ProjectName   string
	WorkspacePath string
	HubPath       string
	ConfigPath    string

	Remote string
	Branch string // the user's working branch, target of publication

	StartedAt     time.Time
	LatestCommits []CommitInfo

	// Populated by the clone stage: paths of changed files relative to the
	// workspace root.
	ChangedFiles []string

	// Populated by the code stage.
	HasQuery bool
	Queries  []QueryInfo

	CurrentStage string
	ErrorLog     string

	stageBranch map[string]string
	stageStatus map[string]StageStatus
}

// NewRunContext builds a RunContext with empty stage maps.
func NewRunContext(pipelineID, project, workspace, configPath, remote, branch string) *RunContext {
	return &RunContext{
		PipelineID:    pipelineID,
		ProjectName:   project,
		WorkspacePath: workspace,
		ConfigPath:    configPath,
		Remote:        remote,
		Branch:        branch,
		StartedAt:     time.Now(),
		stageBranch:   make(map[string]string),
		stageStatus:   make(map[string]StageStatus),
	}
}

// StageBranchName returns the hub branch name a stage should create:
// relay/<stage>/<pipeline_id>.
func (rc *RunContext) StageBranchName(stage string) string {
	return fmt.Sprintf("%s/%s/%s", BranchNamespace, stage, rc.PipelineID)
}

// SetStageBranch records the branch a stage created. A stage branch may be
// recorded at most once per run.
func (rc *RunContext) SetStageBranch(stage, branch string) error {
	if existing, ok := rc.stageBranch[stage]; ok {
		return &IntegrityError{Msg: fmt.Sprintf("branch for stage %q already recorded as %q", stage, existing)}
	}
	rc.stageBranch[stage] = branch
	return nil
}

// StageBranch returns the branch recorded for a stage, if any.
func (rc *RunContext) StageBranch(stage string) (string, bool) {
	b, ok := rc.stageBranch[stage]
	return b, ok
}

// MarkStage transitions a stage's status. Terminal states (success, failed)
// are sticky: once reached, further transitions are ignored.
func (rc *RunContext) MarkStage(stage string, status StageStatus) {
	cur := rc.stageStatus[stage]
	if cur == StatusSuccess || cur == StatusFailed {
		return
	}
	rc.stageStatus[stage] = status
	if status == StatusRunning {
		rc.CurrentStage = stage
	}
}

// StageStatus returns the recorded status for a stage, defaulting to pending.
func (rc *RunContext) StageStatus(stage string) StageStatus {
	if s, ok := rc.stageStatus[stage]; ok {
		return s
	}
	return StatusPending
}

// SetQueries records the SQL discovery result from the code stage.
func (rc *RunContext) SetQueries(queries []QueryInfo) {
	rc.Queries = queries
	rc.HasQuery = len(queries) > 0
}

// ShortID returns the first UUID segment of the pipeline ID, used in the
// publish branch name.
func (rc *RunContext) ShortID() string {
	for i := 0; i < len(rc.PipelineID); i++ {
		if rc.PipelineID[i] == '-' {
			return rc.PipelineID[:i]
		}
	}
	if rc.PipelineID == "" {
		return "pipeline"
	}
	return rc.PipelineID
}

// snapshot is the serializable form of RunContext written for postmortems.
type snapshot struct {
	PipelineID    string                 `json:"pipeline_id"`
	ProjectName   string                 `json:"project_name"`
	WorkspacePath string                 `json:"workspace_path"`
	HubPath       string                 `json:"hub_path"`
	ConfigPath    string                 `json:"config_path"`
	Remote        string                 `json:"remote"`
	Branch        string                 `json:"branch"`
	StartedAt     string                 `json:"started_at"`
	LatestCommits []CommitInfo           `json:"latest_commits"`
	ChangedFiles  []string               `json:"changed_files"`
	HasQuery      bool                   `json:"has_query"`
	Queries       []QueryInfo            `json:"queries"`
	CurrentStage  string                 `json:"current_stage"`
	ErrorLog      string                 `json:"error_log"`
	StageBranch   map[string]string      `json:"stage_branch"`
	StageStatus   map[string]StageStatus `json:"stage_status"`
}

// LoadSnapshot restores the context saved by a previous run in the given
// workspace.
func LoadSnapshot(workspacePath string) (*RunContext, error) {
	var snap snapshot
	path := filepath.Join(workspacePath, ".relay", "cache", "run_context.json")
	if err := ReadJSON(path, &snap); err != nil {
		return nil, err
	}
	started, _ := time.Parse(time.RFC3339, snap.StartedAt)
	rc := &RunContext{
		PipelineID:    snap.PipelineID,
		ProjectName:   snap.ProjectName,
		WorkspacePath: snap.WorkspacePath,
		HubPath:       snap.HubPath,
		ConfigPath:    snap.ConfigPath,
		Remote:        snap.Remote,
		Branch:        snap.Branch,
		StartedAt:     started,
		LatestCommits: snap.LatestCommits,
		ChangedFiles:  snap.ChangedFiles,
		HasQuery:      snap.HasQuery,
		Queries:       snap.Queries,
		CurrentStage:  snap.CurrentStage,
		ErrorLog:      snap.ErrorLog,
		stageBranch:   snap.StageBranch,
		stageStatus:   snap.StageStatus,
	}
	if rc.stageBranch == nil {
		rc.stageBranch = make(map[string]string)
	}
	if rc.stageStatus == nil {
		rc.stageStatus = make(map[string]StageStatus)
	}
	return rc, nil
}

// SaveSnapshot writes the full context as JSON into the workspace cache so a
// failed run can be inspected after the process exits.
func (rc *RunContext) SaveSnapshot() error {
	snap := snapshot{
		PipelineID:    rc.PipelineID,
		ProjectName:   rc.ProjectName,
		WorkspacePath: rc.WorkspacePath,
		HubPath:       rc.HubPath,
		ConfigPath:    rc.ConfigPath,
		Remote:        rc.Remote,
		Branch:        rc.Branch,
		StartedAt:     rc.StartedAt.Format(time.RFC3339),
		LatestCommits: rc.LatestCommits,
		ChangedFiles:  rc.ChangedFiles,
		HasQuery:      rc.HasQuery,
		Queries:       rc.Queries,
		CurrentStage:  rc.CurrentStage,
		ErrorLog:      rc.ErrorLog,
		StageBranch:   rc.stageBranch,
		StageStatus:   rc.stageStatus,
	}
	path := filepath.Join(rc.WorkspacePath, ".relay", "cache", "run_context.json")
	return WriteJSON(path, snap)
}
