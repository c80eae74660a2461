package config

import (
	"strconv"
	"time"
)

// Config is the top-level configuration structure parsed from relay YAML.
type Config struct {
	Project   Project   `yaml:"project"`
	Git       Git       `yaml:"git"`
	Pipeline  Pipeline  `yaml:"pipeline"`
	Exec      Profile   `yaml:"exec"`
	Test      Profile   `yaml:"test"`
	Checks    Checks    `yaml:"checks"`
	Database  Database  `yaml:"database"`
	Optimizer Optimizer `yaml:"optimizer"`
	Sync      Sync      `yaml:"sync"`
	Chat      Chat      `yaml:"chat"`
	Report    Report    `yaml:"report"`
}

// Project identifies the repository being run through the pipeline.
type Project struct {
	Name string `yaml:"name"`
}

// Git names the remote and base branch the pipeline validates against and
// publishes to.
type Git struct {
	Remote     string `yaml:"remote"`
	BaseBranch string `yaml:"base_branch"`
}

// Pipeline holds run-level behavior toggles.
type Pipeline struct {
	CleanupHubOnFailure bool `yaml:"cleanup_hub_on_failure"`
}

// Profile is one external command with a timeout. A timeout of zero means
// no limit.
type Profile struct {
	Command string `yaml:"command"`
	Timeout string `yaml:"timeout"`
}

// Duration parses the profile timeout. An empty timeout yields zero.
func (p Profile) Duration() (time.Duration, error) {
	if p.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(p.Timeout)
}

// Checks configures the static analysis run during the refactor stage.
// FixCommand, when set, is invoked per offending file with the file path
// appended.
type Checks struct {
	Command    string `yaml:"command"`
	FixCommand string `yaml:"fix_command"`
	Timeout    string `yaml:"timeout"`
}

// Duration parses the checks timeout. An empty timeout yields zero.
func (c Checks) Duration() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Timeout)
}

// Database holds the PostgreSQL connection used to benchmark discovered
// queries. Values typically come from ${VAR} references resolved at load
// time.
type Database struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN renders the connection string in keyword form.
func (d Database) DSN() string {
	dsn := "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" user=" + d.User +
		" dbname=" + d.Name
	if d.Password != "" {
		dsn += " password=" + d.Password
	}
	if d.SSLMode != "" {
		dsn += " sslmode=" + d.SSLMode
	}
	return dsn
}

// Optimizer configures query candidate generation. CandidateCommand is an
// external command that receives a query on stdin and prints rewrite
// candidates, one statement per line.
type Optimizer struct {
	Enabled          bool   `yaml:"enabled"`
	CandidateCommand string `yaml:"candidate_command"`
}

// Sync configures the publication stage. ApprovalTimeout bounds how long
// the approval prompt waits; empty or "0" blocks indefinitely.
type Sync struct {
	ApprovalTimeout string `yaml:"approval_timeout"`
}

// Duration parses the approval timeout. An empty timeout yields zero.
func (s Sync) Duration() (time.Duration, error) {
	if s.ApprovalTimeout == "" || s.ApprovalTimeout == "0" {
		return 0, nil
	}
	return time.ParseDuration(s.ApprovalTimeout)
}

// Chat configures the notify stage.
type Chat struct {
	Enabled       bool   `yaml:"enabled"`
	Token         string `yaml:"token"`
	Channel       string `yaml:"channel"`
	TimeRangeDays int    `yaml:"time_range_days"`
	RequireTag    string `yaml:"require_tag"`
	SavePath      string `yaml:"save_path"`
}

// Report configures the report stage output location, relative to the
// workspace when not absolute.
type Report struct {
	OutputDir string `yaml:"output_dir"`
}
