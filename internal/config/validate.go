package config

import "fmt"

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	// Required fields
	if cfg.Project.Name == "" {
		errs = append(errs, ValidationError{Field: "project.name", Message: "is required"})
	}
	if cfg.Exec.Command == "" {
		errs = append(errs, ValidationError{Field: "exec.command", Message: "is required"})
	}
	if cfg.Test.Command == "" {
		errs = append(errs, ValidationError{Field: "test.command", Message: "is required"})
	}

	// Timeouts must parse as durations
	for _, tm := range []struct {
		field string
		value string
	}{
		{"exec.timeout", cfg.Exec.Timeout},
		{"test.timeout", cfg.Test.Timeout},
		{"checks.timeout", cfg.Checks.Timeout},
		{"sync.approval_timeout", cfg.Sync.ApprovalTimeout},
	} {
		p := Profile{Timeout: tm.value}
		if tm.value == "0" {
			continue
		}
		if _, err := p.Duration(); err != nil {
			errs = append(errs, ValidationError{
				Field:   tm.field,
				Message: fmt.Sprintf("invalid duration %q", tm.value),
			})
		}
	}

	// The optimizer needs a reachable database definition
	if cfg.Optimizer.Enabled {
		if cfg.Database.Host == "" {
			errs = append(errs, ValidationError{Field: "database.host", Message: "is required when optimizer is enabled"})
		}
		if cfg.Database.Name == "" {
			errs = append(errs, ValidationError{Field: "database.name", Message: "is required when optimizer is enabled"})
		}
		if cfg.Database.User == "" {
			errs = append(errs, ValidationError{Field: "database.user", Message: "is required when optimizer is enabled"})
		}
	}

	// The notify stage needs credentials and a destination
	if cfg.Chat.Enabled {
		if cfg.Chat.Token == "" {
			errs = append(errs, ValidationError{Field: "chat.token", Message: "is required when chat is enabled"})
		}
		if cfg.Chat.Channel == "" {
			errs = append(errs, ValidationError{Field: "chat.channel", Message: "is required when chat is enabled"})
		}
		if cfg.Chat.TimeRangeDays < 0 {
			errs = append(errs, ValidationError{Field: "chat.time_range_days", Message: "must not be negative"})
		}
	}

	return errs
}
