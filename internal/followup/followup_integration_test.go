//go:build integration
// +build integration

package followup

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nx/robocat/internal/forge"
	"github.com/nx/robocat/internal/gitworkspace"
	"github.com/nx/robocat/internal/snapshot"
)

type fakeForge struct {
	createdMRs []struct{ title, body, source, target string; draft bool }
	assignees  map[int][]string
	reactions  map[int][]string
	nextMRID   int
}

func newFakeForge() *fakeForge {
	return &fakeForge{assignees: map[int][]string{}, reactions: map[int][]string{}, nextMRID: 100}
}

func (f *fakeForge) GetMR(context.Context, int) (*forge.MR, error) { return nil, nil }
func (f *fakeForge) ListNotes(context.Context, int) ([]forge.Note, error) { return nil, nil }
func (f *fakeForge) PostNote(context.Context, int, string) error { return nil }
func (f *fakeForge) CreateDiscussion(context.Context, int, string) (forge.Discussion, error) {
	return forge.Discussion{}, nil
}
func (f *fakeForge) ResolveDiscussion(context.Context, int, string) error { return nil }
func (f *fakeForge) ListDiscussions(context.Context, int) ([]forge.Discussion, error) { return nil, nil }
func (f *fakeForge) AddAssignees(_ context.Context, mrID int, logins []string) error {
	f.assignees[mrID] = append(f.assignees[mrID], logins...)
	return nil
}
func (f *fakeForge) TriggerManualJobs(context.Context, int, string) error { return nil }
func (f *fakeForge) BranchHeadSHA(context.Context, string) (string, error) { return "", nil }
func (f *fakeForge) Merge(context.Context, int, string) error { return nil }
func (f *fakeForge) CreateMR(_ context.Context, title, body, source, target string, draft bool) (int, error) {
	f.nextMRID++
	f.createdMRs = append(f.createdMRs, struct{ title, body, source, target string; draft bool }{title, body, source, target, draft})
	return f.nextMRID, nil
}
func (f *fakeForge) ForcePush(context.Context, string, string) error { return nil }
func (f *fakeForge) AddReaction(_ context.Context, mrID int, content string) error {
	f.reactions[mrID] = append(f.reactions[mrID], content)
	return nil
}
func (f *fakeForge) HasReaction(_ context.Context, mrID int, content string) (bool, error) {
	for _, c := range f.reactions[mrID] {
		if c == content {
			return true, nil
		}
	}
	return false, nil
}

var _ forge.Client = (*fakeForge)(nil)

func setupRepo(t *testing.T) (remoteDir, cloneDir string) {
	remoteDir = t.TempDir()
	require.NoError(t, exec.Command("git", "init", "--bare", remoteDir).Run())

	seed := t.TempDir()
	for _, args := range [][]string{
		{"init"}, {"config", "user.name", "Test"}, {"config", "user.email", "t@example.com"},
		{"config", "commit.gpgsign", "false"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = seed
		require.NoError(t, cmd.Run())
	}
	require.NoError(t, os.WriteFile(filepath.Join(seed, "base.txt"), []byte("base\n"), 0644))
	for _, args := range [][]string{{"add", "base.txt"}, {"commit", "-m", "base"}} {
		cmd := exec.Command("git", args...)
		cmd.Dir = seed
		require.NoError(t, cmd.Run())
	}
	require.NoError(t, exec.Command("git", "-C", seed, "remote", "add", "origin", remoteDir).Run())
	require.NoError(t, exec.Command("git", "-C", seed, "push", "origin", "HEAD:main").Run())
	require.NoError(t, exec.Command("git", "-C", seed, "push", "origin", "HEAD:release/5.0").Run())

	cloneDir = t.TempDir()
	require.NoError(t, exec.Command("git", "clone", remoteDir, cloneDir).Run())
	require.NoError(t, exec.Command("git", "-C", cloneDir, "config", "user.email", "t@example.com").Run())
	require.NoError(t, exec.Command("git", "-C", cloneDir, "config", "user.name", "Test").Run())
	return remoteDir, cloneDir
}

func TestGenerate_CreatesFollowUpMR_Integration(t *testing.T) {
	_, cloneDir := setupRepo(t)

	require.NoError(t, exec.Command("git", "-C", cloneDir, "checkout", "main").Run())
	require.NoError(t, os.WriteFile(filepath.Join(cloneDir, "fix.txt"), []byte("fix\n"), 0644))
	require.NoError(t, exec.Command("git", "-C", cloneDir, "add", "fix.txt").Run())
	require.NoError(t, exec.Command("git", "-C", cloneDir, "commit", "-m", "PROJ-1: fix the thing").Run())
	require.NoError(t, exec.Command("git", "-C", cloneDir, "push", "origin", "main").Run())
	out, err := exec.Command("git", "-C", cloneDir, "rev-parse", "HEAD").Output()
	require.NoError(t, err)
	mergeSHA := strings.TrimSpace(string(out))

	ws := gitworkspace.New(cloneDir)
	fake := newFakeForge()
	gen := &Generator{Forge: fake, Git: ws, Identity: "robocat"}

	mr := snapshot.MRSnapshot{
		ID:               1,
		Title:            "PROJ-1: fix the thing",
		SourceBranch:     "fix-branch",
		TargetBranch:     "main",
		Author:           "alice",
		Squash:           true,
		IsMerged:         true,
		MergedAt:         time.Now(),
		MergeCommitSHA:   mergeSHA,
		ReferencedIssues: []string{"PROJ-1"},
	}
	issues := map[string]snapshot.IssueSnapshot{
		"PROJ-1": {
			Key: "PROJ-1", Project: "PROJ", Supported: true,
			FixVersions: []snapshot.FixVersion{{Label: "v5.0", Branch: "release/5.0"}},
		},
	}

	results := gen.Generate(context.Background(), mr, issues, snapshot.FollowUpNormal)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.Equal(t, "release/5.0", results[0].Branch)
	require.Equal(t, "fix-branch-followup-release/5.0", results[0].TopicBranch)

	require.Len(t, fake.createdMRs, 1)
	require.Contains(t, fake.createdMRs[0].body, "cherry-picked from commit "+mergeSHA)
	require.ElementsMatch(t, []string{"robocat", "alice"}, fake.assignees[results[0].MRID])
	require.Equal(t, []string{emojiFollowUpCreated}, fake.reactions[mr.ID])
}
