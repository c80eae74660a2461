package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StageLogger writes a stage's log stream to two sinks: a per-stage file
// under <workspace>/.relay/logs/<stage>/ at debug level, and stderr at info
// level. The file path is recorded in error records so a failed run can be
// traced after the fact.
type StageLogger struct {
	*slog.Logger

	file *os.File
	path string
}

// NewStageLogger opens the log file for a stage and returns the fanout
// logger. The caller must Close it.
func NewStageLogger(workspacePath, stage string) (*StageLogger, error) {
	dir := filepath.Join(workspacePath, ".relay", "logs", stage)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	name := time.Now().Format("20060102_150405") + ".log"
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}

	fileHandler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})
	consoleHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(&fanoutHandler{handlers: []slog.Handler{fileHandler, consoleHandler}}).
		With("stage", stage)

	return &StageLogger{Logger: logger, file: f, path: path}, nil
}

// Path returns the log file location.
func (l *StageLogger) Path() string { return l.path }

// LogCommand records an executed command and its output at debug level, so
// the file log holds a full transcript without flooding the console.
func (l *StageLogger) LogCommand(command string, exitCode int, stdout, stderr string) {
	l.Debug("command finished",
		"command", command,
		"exit_code", exitCode,
		"stdout", strings.TrimRight(stdout, "\n"),
		"stderr", strings.TrimRight(stderr, "\n"),
	)
}

// Close flushes and closes the underlying log file.
func (l *StageLogger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Discard returns a logger whose output goes nowhere, for tests.
func Discard() *StageLogger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})
	return &StageLogger{Logger: slog.New(h)}
}

// fanoutHandler duplicates records to every wrapped handler, each applying
// its own level filter.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, hh := range h.handlers {
		if !hh.Enabled(ctx, r.Level) {
			continue
		}
		if err := hh.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}
