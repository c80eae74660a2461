package pipeline

import (
	"errors"
	"fmt"
)

// The error taxonomy below determines rollback behavior and the "type" field
// of persisted error records. Required-stage failures of any class are fatal;
// best-effort stages are caught at the orchestrator boundary regardless of
// class.

// ConfigurationError reports a missing or invalid run prerequisite. It is
// raised before any checkpoint state exists, so no rollback is needed.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return "configuration: " + e.Msg }

// ExternalToolError reports a spawned process that failed or timed out.
type ExternalToolError struct {
	Tool     string
	ExitCode int
	TimedOut bool
	Detail   string
}

func (e *ExternalToolError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("%s timed out", e.Tool)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s failed (exit %d): %s", e.Tool, e.ExitCode, e.Detail)
	}
	return fmt.Sprintf("%s failed (exit %d)", e.Tool, e.ExitCode)
}

// VersionControlError reports a failed git operation on the hub or the
// workspace. When it occurs during rollback it is logged but does not block
// the remaining rollback steps.
type VersionControlError struct {
	Op  string
	Err error
}

func (e *VersionControlError) Error() string { return fmt.Sprintf("git %s: %v", e.Op, e.Err) }
func (e *VersionControlError) Unwrap() error { return e.Err }

// IntegrityError reports the hub being in an unexpected state, e.g. a
// missing stage branch or a duplicate branch recording.
type IntegrityError struct {
	Msg string
}

func (e *IntegrityError) Error() string { return "integrity: " + e.Msg }

// ErrorClass maps an error to its taxonomy name for error records and cache
// entries. Wrapped errors are classified by the innermost taxonomy member.
func ErrorClass(err error) string {
	var (
		cfg  *ConfigurationError
		tool *ExternalToolError
		vcs  *VersionControlError
		intg *IntegrityError
	)
	switch {
	case errors.As(err, &cfg):
		return "ConfigurationError"
	case errors.As(err, &tool):
		return "ExternalToolError"
	case errors.As(err, &vcs):
		return "VersionControlError"
	case errors.As(err, &intg):
		return "IntegrityError"
	default:
		return "Error"
	}
}
