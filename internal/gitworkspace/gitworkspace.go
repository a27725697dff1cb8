// Package gitworkspace implements the Git Workspace component (spec §4.G):
// a single on-disk checkout of the bot's repository, shared across all MR
// actors, with at most one git operation in flight at a time. Rebases and
// cherry-picks run here rather than on the forge so the bot can force-push
// the result back.
package gitworkspace

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// ConflictError reports a git operation that stopped on conflicted files.
// The operation has already been aborted (git rebase --abort) before the
// error is returned, so the workspace is ready for the next command.
type ConflictError struct {
	Op              string
	ConflictedFiles []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: conflicts in %s", e.Op, strings.Join(e.ConflictedFiles, ", "))
}

// Workspace wraps a single git checkout directory. Every exported method
// takes the workspace-wide mutex for its whole duration: two MR actors
// rebasing at once would stomp on each other's working tree.
type Workspace struct {
	Dir    string
	Remote string // remote name, defaults to "origin"

	mu sync.Mutex
}

// New returns a Workspace rooted at dir, an already-cloned checkout of the
// bot's repository.
func New(dir string) *Workspace {
	return &Workspace{Dir: dir, Remote: "origin"}
}

func (w *Workspace) remote() string {
	if w.Remote == "" {
		return "origin"
	}
	return w.Remote
}

func (w *Workspace) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = w.Dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	if err != nil {
		slog.Debug("gitworkspace: command failed", "args", args, "output", out.String(), "error", err)
	}
	return out.String(), err
}

func (w *Workspace) conflictedFiles(ctx context.Context) []string {
	out, err := w.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil
	}
	var files []string
	for _, f := range strings.Split(strings.TrimSpace(out), "\n") {
		if f != "" {
			files = append(files, f)
		}
	}
	return files
}

func isExitCode1(err error) bool {
	exitErr, ok := err.(*exec.ExitError)
	return ok && exitErr.ExitCode() == 1
}

// Fetch updates the workspace's view of the remote.
func (w *Workspace) Fetch(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.run(ctx, "fetch", w.remote())
	return err
}

// checkoutTracking checks out branch and hard-resets it to match the
// remote, discarding any local divergence. Caller must hold w.mu.
func (w *Workspace) checkoutTracking(ctx context.Context, branch string) error {
	if _, err := w.run(ctx, "checkout", branch); err != nil {
		if _, err2 := w.run(ctx, "checkout", "-b", branch, w.remote()+"/"+branch); err2 != nil {
			return fmt.Errorf("checkout %s: %w", branch, err)
		}
	}
	if _, err := w.run(ctx, "reset", "--hard", w.remote()+"/"+branch); err != nil {
		return fmt.Errorf("reset %s to %s/%s: %w", branch, w.remote(), branch, err)
	}
	return nil
}

// RebaseOnto fetches, checks out sourceBranch, rebases it onto the remote
// tip of targetBranch, and force-pushes the result back. On conflict the
// rebase is aborted and a *ConflictError is returned; the MR is left
// unrebased for the next cycle's rule pipeline to surface.
func (w *Workspace) RebaseOnto(ctx context.Context, sourceBranch, targetBranch string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.run(ctx, "fetch", w.remote()); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	if err := w.checkoutTracking(ctx, sourceBranch); err != nil {
		return err
	}

	_, err := w.run(ctx, "rebase", w.remote()+"/"+targetBranch)
	if err != nil {
		if isExitCode1(err) {
			files := w.conflictedFiles(ctx)
			_, _ = w.run(ctx, "rebase", "--abort")
			return &ConflictError{Op: "rebase", ConflictedFiles: files}
		}
		return fmt.Errorf("rebase %s onto %s: %w", sourceBranch, targetBranch, err)
	}

	refspec := fmt.Sprintf("%s:%s", sourceBranch, sourceBranch)
	if _, err := w.run(ctx, "push", "--force", w.remote(), refspec); err != nil {
		return fmt.Errorf("force push %s: %w", sourceBranch, err)
	}
	return nil
}

// CreateBranch deletes any stale local/remote branch named name, then
// creates it fresh off the remote tip of fromBranch.
func (w *Workspace) CreateBranch(ctx context.Context, name, fromBranch string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.run(ctx, "fetch", w.remote()); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	_, _ = w.run(ctx, "branch", "-D", name)

	if _, err := w.run(ctx, "checkout", "-b", name, w.remote()+"/"+fromBranch); err != nil {
		return fmt.Errorf("create branch %s from %s: %w", name, fromBranch, err)
	}
	return nil
}

// CherryPickResult reports how a batch of cherry-picks landed.
type CherryPickResult struct {
	Applied  []string // SHAs that applied cleanly
	Skipped  []string // the SHA that conflicted plus every later, un-attempted SHA
	Conflicts map[string][]string // conflicting SHA -> conflicted file paths (only the one that conflicted)
}

// CherryPickOnto checks out branch (must already exist locally, see
// CreateBranch) and applies shas in order with -x --signoff, matching the
// marker convention "(cherry-picked from commit <sha>)" spec §4.H requires.
// The first commit that conflicts stops the whole batch rather than being
// skipped in place — grounded on project_manager.py's _add_commits_to_branch,
// which returns out of its cherry-pick loop the moment a real conflict is
// raised rather than continuing to the next commit. Every remaining,
// un-attempted sha is recorded as skipped so the branch ends up at exactly
// the pre-conflict head spec §4.H step 4 describes; a later commit never
// lands on a tree silently missing an earlier one's changes.
func (w *Workspace) CherryPickOnto(ctx context.Context, branch string, shas []string) (CherryPickResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.run(ctx, "checkout", branch); err != nil {
		return CherryPickResult{}, fmt.Errorf("checkout %s: %w", branch, err)
	}

	res := CherryPickResult{Conflicts: map[string][]string{}}
	for i, sha := range shas {
		_, err := w.run(ctx, "cherry-pick", "-x", "--signoff", sha)
		if err == nil {
			res.Applied = append(res.Applied, sha)
			continue
		}
		if !isExitCode1(err) {
			return res, fmt.Errorf("cherry-pick %s: %w", sha, err)
		}
		files := w.conflictedFiles(ctx)
		_, _ = w.run(ctx, "cherry-pick", "--abort")
		res.Skipped = append(res.Skipped, shas[i:]...)
		res.Conflicts[sha] = files
		break
	}
	return res, nil
}

// PushNewBranch pushes a freshly created local branch to the remote.
func (w *Workspace) PushNewBranch(ctx context.Context, branch string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.run(ctx, "push", w.remote(), branch)
	return err
}

// HeadSHA returns the current checkout's HEAD commit SHA.
func (w *Workspace) HeadSHA(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out, err := w.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
