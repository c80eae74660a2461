package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaydev/relay/internal/pipeline"
)

// Planner benchmarks a query against a live database.
type Planner interface {
	Explain(ctx context.Context, sql string) (Plan, error)
	Close()
}

// Plan is the slice of EXPLAIN output the optimizer compares on.
type Plan struct {
	TotalCost     float64 `json:"total_cost"`
	ExecutionTime float64 `json:"execution_time_ms"`
}

// CandidateProvider produces rewrite candidates for a query.
type CandidateProvider interface {
	Candidates(ctx context.Context, q pipeline.QueryInfo) ([]string, error)
}

// Suggestion is one optimizer finding: the original query, the best rewrite
// found, and the measured costs of both.
type Suggestion struct {
	Location     string  `json:"location"`
	Original     string  `json:"original"`
	Suggested    string  `json:"suggested"`
	OriginalCost float64 `json:"original_cost"`
	BestCost     float64 `json:"best_cost"`
	Tables       string  `json:"tables"`
}

// pgxPlanner implements Planner on a pgx connection pool.
type pgxPlanner struct {
	pool *pgxpool.Pool
}

// NewPlanner connects to the benchmark database.
func NewPlanner(ctx context.Context, dsn string) (Planner, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, &pipeline.ConfigurationError{Msg: fmt.Sprintf("connect benchmark database: %v", err)}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &pipeline.ConfigurationError{Msg: fmt.Sprintf("ping benchmark database: %v", err)}
	}
	return &pgxPlanner{pool: pool}, nil
}

func (p *pgxPlanner) Close() { p.pool.Close() }

// Explain runs the query under EXPLAIN ANALYZE inside a rolled-back
// transaction, so write statements never leave a trace.
func (p *pgxPlanner) Explain(ctx context.Context, sql string) (Plan, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("begin explain transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, "EXPLAIN (ANALYZE, COSTS, VERBOSE, BUFFERS, FORMAT JSON) "+sql)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return Plan{}, fmt.Errorf("explain: %w", err)
	}
	return parseExplain(raw)
}

func parseExplain(raw []byte) (Plan, error) {
	var doc []struct {
		Plan struct {
			TotalCost float64 `json:"Total Cost"`
		} `json:"Plan"`
		ExecutionTime float64 `json:"Execution Time"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Plan{}, fmt.Errorf("parse explain output: %w", err)
	}
	if len(doc) == 0 {
		return Plan{}, fmt.Errorf("empty explain output")
	}
	return Plan{TotalCost: doc[0].Plan.TotalCost, ExecutionTime: doc[0].ExecutionTime}, nil
}

// CommandProvider generates candidates by running an external command with
// the query on stdin; each non-empty output line is one candidate.
type CommandProvider struct {
	Command string
	Dir     string
}

func (c *CommandProvider) Candidates(ctx context.Context, q pipeline.QueryInfo) ([]string, error) {
	if c.Command == "" {
		return nil, nil
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", c.Command)
	cmd.Dir = c.Dir
	cmd.Stdin = strings.NewReader(q.Query)
	out, err := cmd.Output()
	if err != nil {
		return nil, &pipeline.ExternalToolError{Tool: "candidate command", ExitCode: exitCode(err), Detail: err.Error()}
	}
	var candidates []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			candidates = append(candidates, line)
		}
	}
	return candidates, nil
}

func exitCode(err error) int {
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}

// BestQuery benchmarks the original query and each candidate, returning a
// suggestion when some candidate beats the original's cost. Candidates that
// fail to plan are skipped.
func BestQuery(ctx context.Context, planner Planner, q pipeline.QueryInfo, candidates []string) (*Suggestion, error) {
	original, err := planner.Explain(ctx, q.Query)
	if err != nil {
		return nil, err
	}

	best := q.Query
	bestCost := original.TotalCost
	for _, cand := range candidates {
		plan, err := planner.Explain(ctx, cand)
		if err != nil {
			continue
		}
		if plan.TotalCost < bestCost {
			best = cand
			bestCost = plan.TotalCost
		}
	}
	if best == q.Query {
		return nil, nil
	}
	return &Suggestion{
		Location:     fmt.Sprintf("%s:%d", q.FilePath, q.LineStart),
		Original:     q.Query,
		Suggested:    best,
		OriginalCost: original.TotalCost,
		BestCost:     bestCost,
		Tables:       strings.Join(ExtractTables(q.Query), ", "),
	}, nil
}

var tableRef = regexp.MustCompile(`(?i)\b(?:from|join|into|update)\s+([a-z_][a-z0-9_.]*)`)

// ExtractTables pulls the table names a query touches, for reporting.
func ExtractTables(sql string) []string {
	seen := map[string]bool{}
	var tables []string
	for _, m := range tableRef.FindAllStringSubmatch(sql, -1) {
		name := strings.ToLower(m[1])
		if !seen[name] {
			seen[name] = true
			tables = append(tables, name)
		}
	}
	return tables
}
