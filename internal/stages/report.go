package stages

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/relaydev/relay/internal/config"
	"github.com/relaydev/relay/internal/events"
	"github.com/relaydev/relay/internal/logging"
	"github.com/relaydev/relay/internal/pipeline"
)

// Report renders a markdown summary of the run from the cached stage
// outputs and the audit log. It only runs when notify asked for one.
type Report struct {
	RC     *pipeline.RunContext
	Cfg    *config.Config
	Log    *logging.StageLogger
	Cache  *pipeline.Store
	Events *events.DB
}

func (r *Report) Name() string { return "report" }

func (r *Report) Execute(ctx context.Context) (map[string]any, error) {
	rc := r.RC

	var b strings.Builder
	fmt.Fprintf(&b, "# Relay run %s\n\n", rc.ShortID())
	fmt.Fprintf(&b, "- project: %s\n", rc.ProjectName)
	fmt.Fprintf(&b, "- branch: %s\n", rc.Branch)
	fmt.Fprintf(&b, "- started: %s\n\n", rc.StartedAt.Format(time.RFC3339))

	b.WriteString("## Stages\n\n")
	b.WriteString("| stage | status | started | ended |\n")
	b.WriteString("|-------|--------|---------|-------|\n")
	for _, name := range pipeline.StageOrder {
		out, err := r.Cache.Read(name)
		if err != nil {
			fmt.Fprintf(&b, "| %s | %s | | |\n", name, rc.StageStatus(name))
			continue
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", name, out.Status, out.StartedAt, out.EndedAt)
	}
	b.WriteString("\n")

	r.writeCommits(&b)
	r.writeOptimizations(&b)
	r.writeMatches(&b)
	r.writePushAttempts(&b)

	dir := r.Cfg.Report.OutputDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(rc.WorkspacePath, dir)
	}
	path := filepath.Join(dir, "relay_report_"+time.Now().Format("20060102_150405")+".md")
	if err := pipeline.WriteAtomic(path, []byte(b.String())); err != nil {
		return nil, err
	}
	r.Log.Info("report written", "path", path)

	return map[string]any{"report_path": path}, nil
}

func (r *Report) writeCommits(b *strings.Builder) {
	if len(r.RC.LatestCommits) == 0 {
		return
	}
	b.WriteString("## Commits\n\n")
	for _, c := range r.RC.LatestCommits {
		sha := c.SHA
		if len(sha) > 8 {
			sha = sha[:8]
		}
		fmt.Fprintf(b, "- `%s` %s (%s)\n", sha, c.Message, c.Author)
	}
	b.WriteString("\n")
}

func (r *Report) writeOptimizations(b *strings.Builder) {
	out, err := r.Cache.Read("test")
	if err != nil {
		return
	}
	raw, ok := out.Data["optimized_queries"].([]any)
	if !ok || len(raw) == 0 {
		return
	}
	b.WriteString("## Query optimizations\n\n")
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		fmt.Fprintf(b, "- %v: cost %.1f -> %.1f\n", m["location"], num(m["original_cost"]), num(m["best_cost"]))
		fmt.Fprintf(b, "  - suggested: `%v`\n", m["suggested"])
	}
	b.WriteString("\n")
}

func (r *Report) writeMatches(b *strings.Builder) {
	out, err := r.Cache.Read("notify")
	if err != nil {
		return
	}
	if n := num(out.Data["matched"]); n > 0 {
		fmt.Fprintf(b, "## Chat\n\n%d chat message(s) matched and answered.\n\n", int(n))
	}
}

func (r *Report) writePushAttempts(b *strings.Builder) {
	if r.Events == nil {
		return
	}
	attempts, err := r.Events.PushAttempts(r.RC.PipelineID)
	if err != nil || len(attempts) == 0 {
		return
	}
	b.WriteString("## Publication\n\n")
	for _, a := range attempts {
		status := "failed"
		if a.Succeeded {
			status = "ok"
		}
		fmt.Fprintf(b, "- attempt %d: %s -> %s (%s)\n", a.Attempt, a.Refspec, a.Remote, status)
	}
	b.WriteString("\n")
}

func num(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
