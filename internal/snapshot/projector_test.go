package snapshot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nx/robocat/internal/forge"
	"github.com/nx/robocat/internal/tracker"
)

type fakeForge struct {
	mr          *forge.MR
	hasReaction bool
}

func (f *fakeForge) GetMR(context.Context, int) (*forge.MR, error) { return f.mr, nil }
func (f *fakeForge) HasReaction(context.Context, int, string) (bool, error) {
	return f.hasReaction, nil
}
func (f *fakeForge) ListNotes(context.Context, int) ([]forge.Note, error) { return nil, nil }
func (f *fakeForge) PostNote(context.Context, int, string) error { return nil }
func (f *fakeForge) CreateDiscussion(context.Context, int, string) (forge.Discussion, error) {
	return forge.Discussion{}, nil
}
func (f *fakeForge) ResolveDiscussion(context.Context, int, string) error { return nil }
func (f *fakeForge) ListDiscussions(context.Context, int) ([]forge.Discussion, error) { return nil, nil }
func (f *fakeForge) AddAssignees(context.Context, int, []string) error { return nil }
func (f *fakeForge) TriggerManualJobs(context.Context, int, string) error { return nil }
func (f *fakeForge) BranchHeadSHA(context.Context, string) (string, error) { return "", nil }
func (f *fakeForge) Merge(context.Context, int, string) error { return nil }
func (f *fakeForge) CreateMR(context.Context, string, string, string, string, bool) (int, error) {
	return 0, nil
}
func (f *fakeForge) ForcePush(context.Context, string, string) error { return nil }
func (f *fakeForge) AddReaction(context.Context, int, string) error { return nil }

type fakeTracker struct {
	issues map[string]*tracker.Issue
	calls  map[string]int
}

func (t *fakeTracker) GetIssue(_ context.Context, key string) (*tracker.Issue, error) {
	if t.calls == nil {
		t.calls = map[string]int{}
	}
	t.calls[key]++
	issue, ok := t.issues[key]
	if !ok {
		return nil, &tracker.NotFoundError{Key: key}
	}
	return issue, nil
}
func (t *fakeTracker) TransitionIssue(context.Context, string, string) error { return nil }
func (t *fakeTracker) TransitionIssueAny(_ context.Context, _ string, toStatuses ...string) (string, error) {
	if len(toStatuses) == 0 {
		return "", nil
	}
	return toStatuses[0], nil
}
func (t *fakeTracker) PostComment(context.Context, string, string) error { return nil }

var _ forge.Client = (*fakeForge)(nil)
var _ tracker.Client = (*fakeTracker)(nil)

func TestProjectExtractsReferencedIssuesOnce(t *testing.T) {
	mr := &forge.MR{
		ID:          1,
		Title:       "PROJ-1: fix the thing",
		Description: "See also PROJ-1 and PROJ-2",
		Commits: []Commit{
			{SHA: "a", Message: "PROJ-1: partial fix"},
			{SHA: "b", Message: "PROJ-1: another partial fix"},
		},
	}
	ft := &fakeTracker{issues: map[string]*tracker.Issue{
		"PROJ-1": {Key: "PROJ-1", Project: "PROJ", Status: "In Review", FixVersions: []string{"v5.0"}},
		"PROJ-2": {Key: "PROJ-2", Project: "PROJ", Status: "Open"},
	}}

	p := &Projector{
		Forge:   &fakeForge{mr: mr},
		Tracker: ft,
		Config: ProjectorConfig{
			SupportedProjects: map[string]bool{"PROJ": true},
			VersionBranches:   map[string]string{"v5.0": "vms_5.0"},
			DefaultSquash:     true,
		},
	}

	snap, issues, err := p.Project(context.Background(), 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"PROJ-1", "PROJ-2"}, snap.ReferencedIssues)
	assert.Equal(t, 1, ft.calls["PROJ-1"], "PROJ-1 appears 4 times in source text but should be fetched once")
	assert.Equal(t, 1, ft.calls["PROJ-2"])

	require.Contains(t, issues, "PROJ-1")
	assert.True(t, issues["PROJ-1"].Supported)
	assert.Equal(t, []FixVersion{{Label: "v5.0", Branch: "vms_5.0"}}, issues["PROJ-1"].FixVersions)
}

func TestProjectMissingIssueIsSkippedNotFatal(t *testing.T) {
	mr := &forge.MR{ID: 1, Title: "GHOST-1: oops"}
	p := &Projector{
		Forge:   &fakeForge{mr: mr},
		Tracker: &fakeTracker{issues: map[string]*tracker.Issue{}},
		Config:  ProjectorConfig{SupportedProjects: map[string]bool{"GHOST": true}},
	}

	snap, issues, err := p.Project(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"GHOST-1"}, snap.ReferencedIssues)
	assert.Empty(t, issues)
}

func TestProjectDetectsFollowUpMarker(t *testing.T) {
	mr := &forge.MR{ID: 2, Title: "x", Description: "(cherry-picked from commit abc123)"}
	p := &Projector{Forge: &fakeForge{mr: mr}, Tracker: &fakeTracker{}}
	snap, _, err := p.Project(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, snap.IsFollowUp)
}

func TestProjectDetectsFollowUpReaction(t *testing.T) {
	mr := &forge.MR{ID: 3, Title: "x", Description: "no marker phrase here"}
	p := &Projector{Forge: &fakeForge{mr: mr, hasReaction: true}, Tracker: &fakeTracker{}}
	snap, _, err := p.Project(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, snap.IsFollowUp)
}

func TestProjectNotFollowUpWithoutEitherSignal(t *testing.T) {
	mr := &forge.MR{ID: 4, Title: "x", Description: "plain description"}
	p := &Projector{Forge: &fakeForge{mr: mr}, Tracker: &fakeTracker{}}
	snap, _, err := p.Project(context.Background(), 4)
	require.NoError(t, err)
	assert.False(t, snap.IsFollowUp)
}
