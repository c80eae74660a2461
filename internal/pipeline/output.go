package pipeline

// StageOutput is the persisted record of one stage invocation. The JSON
// field names are a stable external interface read by later stages and by
// reporting tools; they must not change without a cache alias.
type StageOutput struct {
	PipelineID  string         `json:"pipeline_id"`
	AgentName   string         `json:"agent_name"`
	AgentBranch string         `json:"agent_branch,omitempty"`
	Status      string         `json:"status"` // "success" | "failed"
	StartedAt   string         `json:"started_at"`
	EndedAt     string         `json:"ended_at"`
	Error       *ErrorInfo     `json:"error"`
	Data        map[string]any `json:"data"`
}

// ErrorInfo summarizes a stage failure inside its cached output.
type ErrorInfo struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	LogPath string `json:"log_path"`
}
