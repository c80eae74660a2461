package git

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/relaydev/relay/internal/pipeline"
)

// Runner provides git commands. Interface for testing.
type Runner interface {
	Run(dir string, args ...string) (string, error)
}

// ExecGit implements Runner using exec.Command.
type ExecGit struct{}

func (g *ExecGit) Run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Repo wraps git operations on one repository directory. Failures are
// reported as *pipeline.VersionControlError so callers can classify them.
type Repo struct {
	git Runner
	dir string
}

// NewRepo creates a Repo rooted at dir.
func NewRepo(git Runner, dir string) *Repo {
	return &Repo{git: git, dir: dir}
}

// Dir returns the repository root.
func (r *Repo) Dir() string { return r.dir }

func (r *Repo) run(op string, args ...string) (string, error) {
	out, err := r.git.Run(r.dir, args...)
	if err != nil {
		return out, &pipeline.VersionControlError{Op: op, Err: err}
	}
	return out, nil
}

// CurrentBranch returns the checked-out branch name.
func (r *Repo) CurrentBranch() (string, error) {
	return r.run("current-branch", "rev-parse", "--abbrev-ref", "HEAD")
}

// HeadSHA returns the full SHA of HEAD.
func (r *Repo) HeadSHA() (string, error) {
	return r.run("head-sha", "rev-parse", "HEAD")
}

// CreateBranch creates a branch at the given start point and checks it out.
func (r *Repo) CreateBranch(name, startPoint string) error {
	args := []string{"checkout", "-b", name}
	if startPoint != "" {
		args = append(args, startPoint)
	}
	_, err := r.run("create-branch", args...)
	return err
}

// Checkout switches to an existing branch or commit.
func (r *Repo) Checkout(ref string) error {
	_, err := r.run("checkout", "checkout", ref)
	return err
}

// CheckoutForce checks out a ref, discarding local modifications that would
// otherwise block the switch.
func (r *Repo) CheckoutForce(ref string) error {
	_, err := r.run("checkout", "checkout", "--force", ref)
	return err
}

// CheckoutPaths restores the given paths from HEAD, discarding edits.
func (r *Repo) CheckoutPaths(paths ...string) error {
	args := append([]string{"checkout", "--"}, paths...)
	_, err := r.run("checkout-paths", args...)
	return err
}

// DeleteBranch force-deletes a local branch.
func (r *Repo) DeleteBranch(name string) error {
	_, err := r.run("delete-branch", "branch", "-D", name)
	return err
}

// LocalBranches lists local branch names.
func (r *Repo) LocalBranches() ([]string, error) {
	out, err := r.run("list-branches", "for-each-ref", "--format=%(refname:short)", "refs/heads")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// DeleteBranchesWithPrefix deletes every local branch whose name starts with
// prefix, skipping the currently checked-out branch. It returns the names it
// deleted; individual delete failures abort the sweep.
func (r *Repo) DeleteBranchesWithPrefix(prefix string) ([]string, error) {
	branches, err := r.LocalBranches()
	if err != nil {
		return nil, err
	}
	current, err := r.CurrentBranch()
	if err != nil {
		return nil, err
	}

	var deleted []string
	for _, b := range branches {
		if !strings.HasPrefix(b, prefix) || b == current {
			continue
		}
		if err := r.DeleteBranch(b); err != nil {
			return deleted, err
		}
		deleted = append(deleted, b)
	}
	return deleted, nil
}

// AddAll stages every change in the working tree.
func (r *Repo) AddAll() error {
	_, err := r.run("add", "add", "-A")
	return err
}

// Commit records staged changes and returns the new commit SHA. When
// allowEmpty is set an empty tree still produces a commit.
func (r *Repo) Commit(message string, allowEmpty bool) (string, error) {
	args := []string{"commit", "-m", message}
	if allowEmpty {
		args = append(args, "--allow-empty")
	}
	if _, err := r.run("commit", args...); err != nil {
		return "", err
	}
	return r.HeadSHA()
}

// HasStagedChanges reports whether the index differs from HEAD.
func (r *Repo) HasStagedChanges() (bool, error) {
	// diff --cached --quiet exits 1 when there are staged changes.
	_, err := r.git.Run(r.dir, "diff", "--cached", "--quiet")
	if err == nil {
		return false, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return true, nil
	}
	return false, &pipeline.VersionControlError{Op: "diff-cached", Err: err}
}

// Fetch updates a remote ref.
func (r *Repo) Fetch(remote, ref string) error {
	_, err := r.run("fetch", "fetch", remote, ref)
	return err
}

// ResetHard resets the working tree to a ref, discarding local state.
func (r *Repo) ResetHard(ref string) error {
	_, err := r.run("reset", "reset", "--hard", ref)
	return err
}

// Push sends a refspec to a remote.
func (r *Repo) Push(remote, refspec string) error {
	_, err := r.run("push", "push", remote, refspec)
	return err
}

// RemoteURL returns the fetch URL of a remote.
func (r *Repo) RemoteURL(remote string) (string, error) {
	return r.run("remote-url", "remote", "get-url", remote)
}

// ChangedFiles lists paths that differ between two refs.
func (r *Repo) ChangedFiles(from, to string) ([]string, error) {
	out, err := r.run("diff-names", "diff", "--name-only", from, to)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// DiffStat summarizes the changes between two refs.
type DiffStat struct {
	FilesChanged int
	Insertions   int
	Deletions    int
}

// DiffShortstat parses `git diff --shortstat` between two refs.
func (r *Repo) DiffShortstat(from, to string) (DiffStat, error) {
	out, err := r.run("diff-shortstat", "diff", "--shortstat", from, to)
	if err != nil {
		return DiffStat{}, err
	}
	return parseShortstat(out), nil
}

// CommitsBetween returns the commits reachable from `to` but not `from`,
// newest first.
func (r *Repo) CommitsBetween(from, to string) ([]pipeline.CommitInfo, error) {
	rangeSpec := to
	if from != "" {
		rangeSpec = from + ".." + to
	}
	out, err := r.run("log", "log", "--format=%H%x1f%s%x1f%an%x1f%cI", rangeSpec)
	if err != nil {
		return nil, err
	}
	return parseCommitLog(out), nil
}

// LatestCommits returns the most recent n commits on the current branch.
func (r *Repo) LatestCommits(n int) ([]pipeline.CommitInfo, error) {
	out, err := r.run("log", "log", "-n", strconv.Itoa(n), "--format=%H%x1f%s%x1f%an%x1f%cI")
	if err != nil {
		return nil, err
	}
	return parseCommitLog(out), nil
}

// Clone makes a shallow clone of src into dst.
func Clone(git Runner, src, dst string) error {
	_, err := git.Run("", "clone", "--depth", "1", src, dst)
	if err != nil {
		return &pipeline.VersionControlError{Op: "clone", Err: err}
	}
	return nil
}

// IsRepo reports whether dir is inside a git work tree.
func IsRepo(git Runner, dir string) bool {
	out, err := git.Run(dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

func parseCommitLog(out string) []pipeline.CommitInfo {
	if out == "" {
		return nil
	}
	var commits []pipeline.CommitInfo
	for _, line := range strings.Split(out, "\n") {
		parts := strings.Split(line, "\x1f")
		if len(parts) != 4 {
			continue
		}
		commits = append(commits, pipeline.CommitInfo{
			SHA:       parts[0],
			Message:   parts[1],
			Author:    parts[2],
			Timestamp: parts[3],
		})
	}
	return commits
}

func parseShortstat(out string) DiffStat {
	var st DiffStat
	for _, part := range strings.Split(out, ",") {
		part = strings.TrimSpace(part)
		fields := strings.Fields(part)
		if len(fields) < 2 {
			continue
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(fields[1], "file"):
			st.FilesChanged = n
		case strings.HasPrefix(fields[1], "insertion"):
			st.Insertions = n
		case strings.HasPrefix(fields[1], "deletion"):
			st.Deletions = n
		}
	}
	return st
}
