package stages

import (
	"context"
	"fmt"

	"github.com/relaydev/relay/internal/config"
	"github.com/relaydev/relay/internal/git"
	"github.com/relaydev/relay/internal/hub"
	"github.com/relaydev/relay/internal/logging"
	"github.com/relaydev/relay/internal/pipeline"
)

// Clone prepares the checkpoint hub: clone it if missing, sync it with the
// remote base branch, carry the workspace's changed files over, and record
// the first checkpoint branch.
type Clone struct {
	RC        *pipeline.RunContext
	Cfg       *config.Config
	Runner    git.Runner
	Workspace *git.Repo
	Log       *logging.StageLogger

	// AttachHub hands the prepared hub to the orchestrator, which owns it
	// for the rest of the run.
	AttachHub func(*hub.Hub)
}

func (c *Clone) Name() string { return "clone" }

func (c *Clone) Execute(ctx context.Context) (map[string]any, error) {
	rc := c.RC

	h, err := hub.Prepare(c.Runner, rc.WorkspacePath, rc.ProjectName, c.Cfg.Git.Remote)
	if err != nil {
		return nil, err
	}
	rc.HubPath = h.Path()
	if c.AttachHub != nil {
		c.AttachHub(h)
	}
	c.Log.Info("hub ready", "path", h.Path())

	if err := h.Sync(c.Cfg.Git.Remote, c.Cfg.Git.BaseBranch); err != nil {
		return nil, err
	}

	changed, err := c.changedFiles()
	if err != nil {
		return nil, err
	}
	rc.ChangedFiles = changed
	c.Log.Info("changed files collected", "count", len(changed))

	branch := rc.StageBranchName(c.Name())
	if err := h.CreateStageBranch(branch); err != nil {
		return nil, err
	}
	if err := rc.SetStageBranch(c.Name(), branch); err != nil {
		return nil, err
	}

	if err := h.CopyFromWorkspace(rc.WorkspacePath, changed); err != nil {
		return nil, err
	}
	sha, err := checkpoint(h, fmt.Sprintf("relay: clone checkpoint %s", rc.ShortID()))
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"hub_path":      h.Path(),
		"changed_files": changed,
		"commit":        sha,
	}, nil
}

// changedFiles diffs the workspace HEAD against the remote base branch. When
// the remote ref is unknown locally the latest commit alone is used, so a
// fresh branch with no upstream still works.
func (c *Clone) changedFiles() ([]string, error) {
	base := c.Cfg.Git.Remote + "/" + c.Cfg.Git.BaseBranch
	changed, err := c.Workspace.ChangedFiles(base, "HEAD")
	if err == nil {
		return changed, nil
	}
	c.Log.Warn("base ref unavailable, falling back to HEAD~1", "base", base, "error", err)
	changed, ferr := c.Workspace.ChangedFiles("HEAD~1", "HEAD")
	if ferr != nil {
		return nil, err
	}
	return changed, nil
}

// checkpoint commits the hub's current tree, allowing an empty commit so a
// stage always leaves a checkpoint behind.
func checkpoint(h *hub.Hub, message string) (string, error) {
	repo := h.Repo()
	if err := repo.AddAll(); err != nil {
		return "", err
	}
	staged, err := repo.HasStagedChanges()
	if err != nil {
		return "", err
	}
	return repo.Commit(message, !staged)
}
