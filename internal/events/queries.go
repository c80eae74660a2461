package events

import (
	"database/sql"
	"fmt"
)

// RunEvent represents a row in the run_events table.
type RunEvent struct {
	ID         int
	PipelineID string
	Stage      string
	Event      string
	ErrorType  string
	Detail     string
	Timestamp  string
}

// PushAttempt represents a row in the push_attempts table.
type PushAttempt struct {
	ID         int
	PipelineID string
	Attempt    int
	Remote     string
	Refspec    string
	Succeeded  bool
	Detail     string
	Timestamp  string
}

// LogRunEvent inserts a stage transition for a pipeline run.
func (d *DB) LogRunEvent(pipelineID, stage, event, errorType, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO run_events (pipeline_id, stage, event, error_type, detail) VALUES (?, ?, ?, ?, ?)`,
		pipelineID, stage, event, nullable(errorType), nullable(detail),
	)
	if err != nil {
		return fmt.Errorf("log run event: %w", err)
	}
	return nil
}

// LogPushAttempt records one publication attempt, successful or not.
func (d *DB) LogPushAttempt(pipelineID string, attempt int, remote, refspec string, succeeded bool, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO push_attempts (pipeline_id, attempt, remote, refspec, succeeded, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		pipelineID, attempt, remote, refspec, succeeded, nullable(detail),
	)
	if err != nil {
		return fmt.Errorf("log push attempt: %w", err)
	}
	return nil
}

// RunEvents returns all events for a pipeline in insertion order.
func (d *DB) RunEvents(pipelineID string) ([]RunEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, pipeline_id, stage, event, error_type, detail, timestamp
		 FROM run_events WHERE pipeline_id = ? ORDER BY id`,
		pipelineID,
	)
	if err != nil {
		return nil, fmt.Errorf("query run events: %w", err)
	}
	defer rows.Close()

	var out []RunEvent
	for rows.Next() {
		var e RunEvent
		var errorType, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.PipelineID, &e.Stage, &e.Event, &errorType, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		e.ErrorType = errorType.String
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// PushAttempts returns all push attempts for a pipeline in attempt order.
func (d *DB) PushAttempts(pipelineID string) ([]PushAttempt, error) {
	rows, err := d.conn.Query(
		`SELECT id, pipeline_id, attempt, remote, refspec, succeeded, detail, timestamp
		 FROM push_attempts WHERE pipeline_id = ? ORDER BY attempt`,
		pipelineID,
	)
	if err != nil {
		return nil, fmt.Errorf("query push attempts: %w", err)
	}
	defer rows.Close()

	var out []PushAttempt
	for rows.Next() {
		var p PushAttempt
		var detail sql.NullString
		if err := rows.Scan(&p.ID, &p.PipelineID, &p.Attempt, &p.Remote, &p.Refspec, &p.Succeeded, &detail, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("scan push attempt: %w", err)
		}
		p.Detail = detail.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// LastRun returns the pipeline ID of the most recently started run, or empty
// when the database has none.
func (d *DB) LastRun() (string, error) {
	row := d.conn.QueryRow(
		`SELECT pipeline_id FROM run_events ORDER BY id DESC LIMIT 1`,
	)
	var id string
	err := row.Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query last run: %w", err)
	}
	return id, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
