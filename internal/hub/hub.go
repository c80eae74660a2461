package hub

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/relaydev/relay/internal/git"
	"github.com/relaydev/relay/internal/pipeline"
)

// Hub is the checkpoint repository: a separate shallow clone of the
// workspace kept next to it, where every stage records its result as a
// branch. Keeping checkpoints out of the workspace means a failed run never
// touches the user's working tree.
type Hub struct {
	repo *git.Repo
	path string
}

// PathFor returns the hub location for a workspace:
// <workspace-parent>/.relay_hub_<project>.
func PathFor(workspacePath, project string) string {
	parent := filepath.Dir(filepath.Clean(workspacePath))
	return filepath.Join(parent, ".relay_hub_"+project)
}

// Prepare opens the hub for a workspace, creating it when it does not exist
// yet. The hub is cloned from the workspace's configured remote, not from
// the workspace itself, so its origin is the repository publication targets.
func Prepare(runner git.Runner, workspacePath, project, remote string) (*Hub, error) {
	path := PathFor(workspacePath, project)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		url, err := git.NewRepo(runner, workspacePath).RemoteURL(remote)
		if err != nil {
			return nil, err
		}
		if err := git.Clone(runner, url, path); err != nil {
			return nil, err
		}
	}
	if !git.IsRepo(runner, path) {
		return nil, &pipeline.IntegrityError{Msg: fmt.Sprintf("hub path %s exists but is not a git repository", path)}
	}
	return &Hub{repo: git.NewRepo(runner, path), path: path}, nil
}

// Open returns a Hub for an existing hub directory.
func Open(runner git.Runner, workspacePath, project string) (*Hub, error) {
	path := PathFor(workspacePath, project)
	if !git.IsRepo(runner, path) {
		return nil, &pipeline.IntegrityError{Msg: fmt.Sprintf("no hub at %s", path)}
	}
	return &Hub{repo: git.NewRepo(runner, path), path: path}, nil
}

// Path returns the hub directory.
func (h *Hub) Path() string { return h.path }

// Repo exposes the underlying repository for branch and commit operations.
func (h *Hub) Repo() *git.Repo { return h.repo }

// Sync brings the hub's base branch in line with the workspace origin:
// fetch then hard reset, retried once on failure.
func (h *Hub) Sync(remote, branch string) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if err = h.repo.Fetch(remote, branch); err != nil {
			continue
		}
		if err = h.repo.ResetHard("FETCH_HEAD"); err != nil {
			continue
		}
		return nil
	}
	return err
}

// CreateStageBranch creates and checks out a stage checkpoint branch at the
// current hub HEAD.
func (h *Hub) CreateStageBranch(name string) error {
	return h.repo.CreateBranch(name, "")
}

// CopyFromWorkspace mirrors the given workspace-relative paths into the hub
// working tree. A path missing from the workspace is removed from the hub,
// so deletions propagate too.
func (h *Hub) CopyFromWorkspace(workspacePath string, paths []string) error {
	for _, rel := range paths {
		src := filepath.Join(workspacePath, rel)
		dst := filepath.Join(h.path, rel)

		info, err := os.Stat(src)
		if os.IsNotExist(err) {
			if err := os.RemoveAll(dst); err != nil {
				return fmt.Errorf("remove %s: %w", dst, err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("stat %s: %w", src, err)
		}
		if info.IsDir() {
			continue
		}
		if err := copyFile(src, dst, info.Mode()); err != nil {
			return err
		}
	}
	return nil
}

// CopyToWorkspace mirrors the given hub-relative paths back into the
// workspace. Used when a stage rewrites files (refactor) and the result
// must land in the user's tree.
func (h *Hub) CopyToWorkspace(workspacePath string, paths []string) error {
	for _, rel := range paths {
		src := filepath.Join(h.path, rel)
		dst := filepath.Join(workspacePath, rel)

		info, err := os.Stat(src)
		if os.IsNotExist(err) {
			if err := os.RemoveAll(dst); err != nil {
				return fmt.Errorf("remove %s: %w", dst, err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("stat %s: %w", src, err)
		}
		if info.IsDir() {
			continue
		}
		if err := copyFile(src, dst, info.Mode()); err != nil {
			return err
		}
	}
	return nil
}

// CleanupBranches deletes every relay-namespaced branch in the hub, after
// parking HEAD on the given branch.
func (h *Hub) CleanupBranches(parkOn string) ([]string, error) {
	if parkOn != "" {
		if err := h.repo.Checkout(parkOn); err != nil {
			return nil, err
		}
	}
	return h.repo.DeleteBranchesWithPrefix(pipeline.BranchNamespace + "/")
}

// Destroy removes the hub directory entirely.
func (h *Hub) Destroy() error {
	if err := os.RemoveAll(h.path); err != nil {
		return fmt.Errorf("remove hub %s: %w", h.path, err)
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", dst, err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
