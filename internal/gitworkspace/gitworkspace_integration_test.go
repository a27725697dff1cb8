//go:build integration
// +build integration

package gitworkspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T, dir string) {
	for _, args := range [][]string{
		{"init"},
		{"config", "user.name", "Test User"},
		{"config", "user.email", "test@example.com"},
		{"config", "commit.gpgsign", "false"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		require.NoError(t, cmd.Run())
	}
}

func commitFile(t *testing.T, dir, name, content, message string) string {
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	for _, args := range [][]string{{"add", name}, {"commit", "-m", message}} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		require.NoError(t, cmd.Run())
	}
	out, err := exec.Command("git", "-C", dir, "rev-parse", "HEAD").Output()
	require.NoError(t, err)
	return strings.TrimSpace(string(out))
}

func newBareRemoteAndClone(t *testing.T) (remoteDir, cloneDir string) {
	remoteDir = t.TempDir()
	require.NoError(t, exec.Command("git", "init", "--bare", remoteDir).Run())

	seed := t.TempDir()
	initRepo(t, seed)
	commitFile(t, seed, "base.txt", "base\n", "base commit")
	require.NoError(t, exec.Command("git", "-C", seed, "remote", "add", "origin", remoteDir).Run())
	require.NoError(t, exec.Command("git", "-C", seed, "push", "origin", "HEAD:main").Run())
	require.NoError(t, exec.Command("git", "-C", seed, "push", "origin", "HEAD:feature").Run())

	cloneDir = t.TempDir()
	require.NoError(t, exec.Command("git", "clone", remoteDir, cloneDir).Run())
	cmd := exec.Command("git", "-C", cloneDir, "config", "user.email", "test@example.com")
	require.NoError(t, cmd.Run())
	cmd = exec.Command("git", "-C", cloneDir, "config", "user.name", "Test User")
	require.NoError(t, cmd.Run())
	return remoteDir, cloneDir
}

func TestRebaseOnto_Integration(t *testing.T) {
	_, cloneDir := newBareRemoteAndClone(t)
	ws := New(cloneDir)
	ctx := context.Background()

	require.NoError(t, exec.Command("git", "-C", cloneDir, "checkout", "main").Run())
	commitFile(t, cloneDir, "main.txt", "from main\n", "advance main")
	require.NoError(t, exec.Command("git", "-C", cloneDir, "push", "origin", "main").Run())

	require.NoError(t, exec.Command("git", "-C", cloneDir, "checkout", "feature").Run())
	commitFile(t, cloneDir, "feature.txt", "from feature\n", "advance feature")
	require.NoError(t, exec.Command("git", "-C", cloneDir, "push", "origin", "feature").Run())

	require.NoError(t, ws.RebaseOnto(ctx, "feature", "main"))

	out, err := exec.Command("git", "-C", cloneDir, "log", "--oneline", "main..feature").Output()
	require.NoError(t, err)
	require.NotEmpty(t, strings.TrimSpace(string(out)))

	out, err = exec.Command("git", "-C", cloneDir, "merge-base", "--is-ancestor", "main", "feature").CombinedOutput()
	require.NoErrorf(t, err, "feature should now contain main's tip: %s", out)
}

func TestCherryPickOnto_StopsAtConflict_Integration(t *testing.T) {
	_, cloneDir := newBareRemoteAndClone(t)
	ws := New(cloneDir)
	ctx := context.Background()

	require.NoError(t, exec.Command("git", "-C", cloneDir, "checkout", "main").Run())
	okSHA := commitFile(t, cloneDir, "ok.txt", "ok\n", "PROJ-1: clean change")
	require.NoError(t, exec.Command("git", "-C", cloneDir, "push", "origin", "main").Run())

	require.NoError(t, exec.Command("git", "-C", cloneDir, "checkout", "feature").Run())
	commitFile(t, cloneDir, "ok.txt", "conflicting content\n", "feature edits ok.txt too")
	require.NoError(t, exec.Command("git", "-C", cloneDir, "push", "origin", "feature").Run())

	require.NoError(t, ws.CreateBranch(ctx, "followup-feature", "feature"))
	result, err := ws.CherryPickOnto(ctx, "followup-feature", []string{okSHA})
	require.NoError(t, err)
	require.Empty(t, result.Applied)
	require.Equal(t, []string{okSHA}, result.Skipped)
	require.Contains(t, result.Conflicts, okSHA)
}

// TestCherryPickOnto_StopsBatchAtFirstConflict_Integration confirms a commit
// after the conflicting one is never attempted, even though it would apply
// cleanly in isolation: the batch must stop at the pre-conflict head (spec
// §4.H step 4), not silently skip the conflicting commit and keep going onto
// a tree missing its changes.
func TestCherryPickOnto_StopsBatchAtFirstConflict_Integration(t *testing.T) {
	_, cloneDir := newBareRemoteAndClone(t)
	ws := New(cloneDir)
	ctx := context.Background()

	require.NoError(t, exec.Command("git", "-C", cloneDir, "checkout", "main").Run())
	conflictSHA := commitFile(t, cloneDir, "ok.txt", "ok\n", "PROJ-1: conflicting change")
	cleanSHA := commitFile(t, cloneDir, "unrelated.txt", "clean\n", "PROJ-1: unrelated clean change")
	require.NoError(t, exec.Command("git", "-C", cloneDir, "push", "origin", "main").Run())

	require.NoError(t, exec.Command("git", "-C", cloneDir, "checkout", "feature").Run())
	commitFile(t, cloneDir, "ok.txt", "conflicting content\n", "feature edits ok.txt too")
	require.NoError(t, exec.Command("git", "-C", cloneDir, "push", "origin", "feature").Run())

	require.NoError(t, ws.CreateBranch(ctx, "followup-feature-2", "feature"))
	result, err := ws.CherryPickOnto(ctx, "followup-feature-2", []string{conflictSHA, cleanSHA})
	require.NoError(t, err)
	require.Empty(t, result.Applied)
	require.Equal(t, []string{conflictSHA, cleanSHA}, result.Skipped, "the clean commit after the conflict must be skipped too, not attempted")
	require.Contains(t, result.Conflicts, conflictSHA)
	require.NotContains(t, result.Conflicts, cleanSHA, "only the actual conflicting sha gets a conflicts entry")

	require.NoError(t, exec.Command("git", "-C", cloneDir, "checkout", "followup-feature-2").Run())
	_, err = os.Stat(filepath.Join(cloneDir, "unrelated.txt"))
	require.True(t, os.IsNotExist(err), "unrelated.txt must not exist: its commit was never attempted")
}

func TestHeadSHA_Integration(t *testing.T) {
	_, cloneDir := newBareRemoteAndClone(t)
	ws := New(cloneDir)
	ctx := context.Background()

	require.NoError(t, exec.Command("git", "-C", cloneDir, "checkout", "main").Run())
	sha, err := ws.HeadSHA(ctx)
	require.NoError(t, err)
	require.Len(t, sha, 40)
}
