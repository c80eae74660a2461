package stages

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/relaydev/relay/internal/config"
	"github.com/relaydev/relay/internal/events"
	"github.com/relaydev/relay/internal/hub"
	"github.com/relaydev/relay/internal/logging"
	"github.com/relaydev/relay/internal/pipeline"
)

const pushAttempts = 3

// Sync is the publication stage: it presents a summary of what the pipeline
// validated, asks for approval, and on approval pushes the final checkpoint
// to the remote. A rejection is a normal outcome, not a failure; the
// checkpoint branches are kept so the user can inspect them.
type Sync struct {
	RC     *pipeline.RunContext
	Cfg    *config.Config
	Hub    *hub.Hub
	Log    *logging.StageLogger
	Events *events.DB
	Cache  *pipeline.Store

	In          io.Reader
	Out         io.Writer
	AutoApprove bool
}

func (s *Sync) Name() string { return "sync" }

func (s *Sync) Execute(ctx context.Context) (map[string]any, error) {
	rc := s.RC

	refactorBranch, ok := rc.StageBranch("refactor")
	if !ok {
		return nil, &pipeline.IntegrityError{Msg: "no refactor checkpoint to publish"}
	}

	if err := s.printSummary(refactorBranch); err != nil {
		return nil, err
	}

	approved, err := s.approve(ctx)
	if err != nil {
		return nil, err
	}
	if !approved {
		s.Log.Info("publication rejected, keeping checkpoint branches")
		fmt.Fprintln(s.Out, "publication declined; checkpoint branches kept for inspection")
		return map[string]any{
			"user_approved": false,
			"pushed":        false,
		}, nil
	}

	publishBranch := s.publishBranchName()
	repo := s.Hub.Repo()
	if err := repo.Checkout(refactorBranch); err != nil {
		return nil, err
	}
	if err := repo.CreateBranch(publishBranch, ""); err != nil {
		return nil, err
	}
	if err := rc.SetStageBranch(s.Name(), publishBranch); err != nil {
		return nil, err
	}

	if err := s.Hub.CopyToWorkspace(rc.WorkspacePath, rc.ChangedFiles); err != nil {
		return nil, err
	}

	attempts, err := s.push(publishBranch)
	if err != nil {
		return nil, err
	}
	sha, err := repo.HeadSHA()
	if err != nil {
		return nil, err
	}

	deleted, err := s.Hub.CleanupBranches(s.Cfg.Git.BaseBranch)
	if err != nil {
		s.Log.Warn("branch cleanup failed", "error", err)
	} else {
		s.Log.Info("checkpoint branches cleaned up", "count", len(deleted))
	}

	message := ""
	if len(rc.LatestCommits) > 0 {
		message = rc.LatestCommits[0].Message
	}

	fmt.Fprintf(s.Out, "published %s to %s\n", publishBranch, s.Cfg.Git.Remote)
	return map[string]any{
		"user_approved":    true,
		"pushed":           true,
		"commit_sha":       sha,
		"commit_message":   message,
		"remote_branch":    publishBranch,
		"sync_time":        time.Now().Format(time.RFC3339),
		"push_attempts":    attempts,
		"branches_deleted": len(deleted),
	}, nil
}

// publishBranchName is relay/sync/<base>-<YYYYMMDDHHMMSS>-<short-id>.
func (s *Sync) publishBranchName() string {
	base := strings.ReplaceAll(s.Cfg.Git.BaseBranch, "/", "-")
	return fmt.Sprintf("%s/sync/%s-%s-%s",
		pipeline.BranchNamespace, base, time.Now().Format("20060102150405"), s.RC.ShortID())
}

func (s *Sync) printSummary(refactorBranch string) error {
	rc := s.RC
	stat, err := s.Hub.Repo().DiffShortstat(s.Cfg.Git.BaseBranch, refactorBranch)
	if err != nil {
		return err
	}

	fmt.Fprintf(s.Out, "\npipeline %s ready to publish\n", rc.ShortID())
	fmt.Fprintf(s.Out, "  target:  %s/%s\n", s.Cfg.Git.Remote, s.Cfg.Git.BaseBranch)
	fmt.Fprintf(s.Out, "  changes: %d files, +%d -%d\n", stat.FilesChanged, stat.Insertions, stat.Deletions)
	for _, c := range rc.LatestCommits {
		sha := c.SHA
		if len(sha) > 8 {
			sha = sha[:8]
		}
		fmt.Fprintf(s.Out, "  commit:  %s %s\n", sha, c.Message)
	}

	if out, err := s.Cache.Read("test"); err == nil {
		if qs, ok := out.Data["optimized_queries"].([]any); ok && len(qs) > 0 {
			fmt.Fprintf(s.Out, "  queries: %d optimized, see report\n", len(qs))
		}
	}
	return nil
}

// approve waits for a y/n answer on In. AutoApprove short-circuits to yes;
// a configured approval timeout turns silence into a rejection.
func (s *Sync) approve(ctx context.Context) (bool, error) {
	if s.AutoApprove {
		s.Log.Info("auto-approved")
		return true, nil
	}

	timeout, err := s.Cfg.Sync.Duration()
	if err != nil {
		return false, &pipeline.ConfigurationError{Msg: fmt.Sprintf("sync.approval_timeout: %v", err)}
	}

	fmt.Fprint(s.Out, "publish? [y/N] ")

	answers := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(s.In)
		if scanner.Scan() {
			answers <- scanner.Text()
		} else {
			answers <- ""
		}
	}()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case answer := <-answers:
		answer = strings.ToLower(strings.TrimSpace(answer))
		return answer == "y" || answer == "yes", nil
	case <-timer:
		fmt.Fprintln(s.Out, "\nno answer, treating as rejection")
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// push publishes the branch, retrying transient failures. Every attempt is
// recorded in the audit log, successful or not.
func (s *Sync) push(publishBranch string) (int, error) {
	refspec := publishBranch + ":" + publishBranch
	var lastErr error
	for attempt := 1; attempt <= pushAttempts; attempt++ {
		lastErr = s.Hub.Repo().Push(s.Cfg.Git.Remote, refspec)
		detail := ""
		if lastErr != nil {
			detail = lastErr.Error()
		}
		if s.Events != nil {
			s.Events.LogPushAttempt(s.RC.PipelineID, attempt, s.Cfg.Git.Remote, refspec, lastErr == nil, detail)
		}
		if lastErr == nil {
			return attempt, nil
		}
		s.Log.Warn("push failed", "attempt", attempt, "error", lastErr)
	}
	return pushAttempts, lastErr
}
