package rule

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nx/robocat/internal/compliance"
	"github.com/nx/robocat/internal/finding"
	"github.com/nx/robocat/internal/snapshot"
)

func baseContext() Context {
	return Context{
		GoContext: context.Background(),
		MR: snapshot.MRSnapshot{
			ID:           1,
			Title:        "PROJ-1: fix the thing",
			Description:  "",
			Squash:       true,
			ReferencedIssues: []string{"PROJ-1"},
			Commits: []snapshot.Commit{
				{SHA: "abc123", Message: "PROJ-1: fix the thing\n\n"},
			},
			Pipeline: snapshot.Pipeline{Status: snapshot.PipelineSuccess},
		},
		Issues: map[string]snapshot.IssueSnapshot{
			"PROJ-1": {Key: "PROJ-1", Project: "PROJ", Supported: true, Status: "In Review"},
		},
		Config: Config{SupportedProjects: map[string]bool{"PROJ": true}},
	}
}

func TestIssueMentionRule(t *testing.T) {
	r := IssueMentionRule{}

	ctx := baseContext()
	findings := r.Evaluate(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, finding.Pass, findings[0].Severity)

	ctx.MR.ReferencedIssues = nil
	findings = r.Evaluate(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, finding.Block, findings[0].Severity)
}

func TestTitleFormatRule(t *testing.T) {
	r := TitleFormatRule{}
	ctx := baseContext()

	assert.True(t, r.AppliesTo(ctx))
	findings := r.Evaluate(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, finding.Pass, findings[0].Severity)

	ctx.MR.Title = "PROJ-1: (draft) fix the thing"
	findings = r.Evaluate(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, finding.Block, findings[0].Severity)

	ctx.MR.Title = "PROJ-1: fix the thing"
	ctx.MR.Commits[0].Message = "something else entirely"
	findings = r.Evaluate(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, finding.Block, findings[0].Severity)
}

func TestCommitMessageRuleSquashOff(t *testing.T) {
	r := CommitMessageRule{}
	ctx := baseContext()
	ctx.MR.Squash = false
	ctx.MR.Commits = []snapshot.Commit{
		{SHA: "a1", Message: "no issue key here"},
	}

	findings := r.Evaluate(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, finding.Block, findings[0].Severity)

	ctx.MR.Commits = []snapshot.Commit{
		{SHA: "a1", Message: "PROJ-1: did a thing"},
	}
	findings = r.Evaluate(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, finding.Pass, findings[0].Severity)
}

func TestCommitMessageRuleForbiddenTerms(t *testing.T) {
	r := CommitMessageRule{ForbiddenTerms: []string{"proprietary-secret"}}
	ctx := baseContext()
	ctx.MR.Commits[0].Message = "PROJ-1: leaked a PROPRIETARY-SECRET value"

	findings := r.Evaluate(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, finding.Block, findings[0].Severity)
}

func TestFixVersionRule(t *testing.T) {
	r := FixVersionRule{}
	ctx := baseContext()
	ctx.Issues["PROJ-1"] = snapshot.IssueSnapshot{Key: "PROJ-1", Project: "PROJ", Supported: true}

	findings := r.Evaluate(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, finding.Block, findings[0].Severity, "empty fixVersions should block")

	issue := ctx.Issues["PROJ-1"]
	issue.FixVersions = []snapshot.FixVersion{{Label: "v5.0", Branch: "vms_5.0"}}
	ctx.Issues["PROJ-1"] = issue
	findings = r.Evaluate(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, finding.Pass, findings[0].Severity)

	issue.FixVersions = []snapshot.FixVersion{
		{Label: "v5.0", Branch: "vms_5.0"},
		{Label: "v5.0.1", Branch: "vms_5.0"},
	}
	ctx.Issues["PROJ-1"] = issue
	findings = r.Evaluate(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, finding.Block, findings[0].Severity, "contradictory fixVersions should block")
}

func TestApprovalRule(t *testing.T) {
	r := NewApprovalRule()
	ctx := baseContext()
	ctx.MR.ChangedFiles = []snapshot.ChangedFile{{Path: "docs/api.md"}}
	ctx.Config.ApprovalRulesets = map[string]ApprovalRuleset{
		"apidoc": {
			Name:             "apidoc",
			RelevanceChecker: compliance.NewRegistry(nil)["does_file_diff_contain_apidoc_changes"],
			Rules: []ApprovalRule{
				{Patterns: []string{"docs/**"}, Approvers: []string{"apidoc_approver_1", "apidoc_approver_2"}},
			},
		},
	}
	ctx.MR.ChangedFiles[0].Patch = "+some %apidoc change"

	findings := r.Evaluate(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, finding.Block, findings[0].Severity)

	ctx.MR.Approvals = []snapshot.Approval{{Approver: "apidoc_approver_1"}}
	findings = r.Evaluate(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, finding.Pass, findings[0].Severity)
}

// TestApprovalRuleMatchNamePattern confirms the match_name_pattern identity
// checks relevance against each ApprovalRule's own Patterns (not a separate
// ruleset-wide predicate), and that a file matching no rule's pattern at all
// is not in scope — no fallback to the ruleset's full approver list.
func TestApprovalRuleMatchNamePattern(t *testing.T) {
	r := NewApprovalRule()
	ctx := baseContext()
	ctx.Config.ApprovalRulesets = map[string]ApprovalRuleset{
		"code_owner_approval": {
			Name:                 "code_owner_approval",
			RelevanceCheckerName: "match_name_pattern",
			Rules: []ApprovalRule{
				{Patterns: []string{"infra/**"}, Approvers: []string{"infra_owner"}},
			},
		},
	}

	ctx.MR.ChangedFiles = []snapshot.ChangedFile{{Path: "docs/readme.md"}}
	findings := r.Evaluate(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, finding.Pass, findings[0].Severity, "no file matches infra/**, ruleset not in scope")

	ctx.MR.ChangedFiles = []snapshot.ChangedFile{{Path: "infra/terraform/main.tf"}}
	findings = r.Evaluate(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, finding.Block, findings[0].Severity)
	assert.ElementsMatch(t, []string{"infra_owner"}, findings[0].RequiredApprovers)

	ctx.MR.Approvals = []snapshot.Approval{{Approver: "infra_owner"}}
	findings = r.Evaluate(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, finding.Pass, findings[0].Severity)
}

// TestApprovalRuleSkipsOpenSourceRuleset confirms OpenSourceRule, not the
// generic approval rule, owns the "open_source" ruleset's gating.
func TestApprovalRuleSkipsOpenSourceRuleset(t *testing.T) {
	r := NewApprovalRule()
	ctx := baseContext()
	ctx.MR.ChangedFiles = []snapshot.ChangedFile{{Path: "open/server/foo.cpp"}}
	ctx.Config.ApprovalRulesets = map[string]ApprovalRuleset{
		"open_source": {
			Name:             "open_source",
			RelevanceChecker: compliance.NewRegistry([]string{"open"})["is_file_open_sourced"],
			Rules: []ApprovalRule{
				{Patterns: []string{"open/server/**"}, Approvers: []string{"apidoc_approver_1", "apidoc_approver_2"}},
			},
		},
	}

	findings := r.Evaluate(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, finding.Pass, findings[0].Severity)
}

func TestOpenSourceRule(t *testing.T) {
	r := OpenSourceRule{OpenSourceDirs: []string{"open"}}
	ctx := baseContext()
	ctx.FileChecker = &compliance.FakeFileChecker{}
	ctx.Config.ApprovalRulesets = map[string]ApprovalRuleset{
		"open_source": {
			Name:             "open_source",
			RelevanceChecker: compliance.NewRegistry([]string{"open"})["is_file_open_sourced"],
			Rules: []ApprovalRule{
				{Patterns: []string{"open/server/**"}, Approvers: []string{"apidoc_approver_1", "apidoc_approver_2"}},
			},
		},
	}

	ctx.MR.ChangedFiles = nil
	findings := r.Evaluate(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, finding.Pass, findings[0].Severity, "no open-source files touched")

	ctx.MR.ChangedFiles = []snapshot.ChangedFile{{Path: "open/server/foo.cpp"}}
	findings = r.Evaluate(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, finding.Block, findings[0].Severity)
	assert.ElementsMatch(t, []string{"apidoc_approver_1", "apidoc_approver_2"}, findings[0].RequiredApprovers)

	ctx.MR.Approvals = []snapshot.Approval{{Approver: "apidoc_approver_1"}}
	findings = r.Evaluate(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, finding.Pass, findings[0].Severity, "approved open-source MR should pass")
}

func TestMergeReadinessRuleRunsLastViaPipeline(t *testing.T) {
	pipeline := NewPipeline(IssueMentionRule{}, MergeReadinessRule{})
	ctx := baseContext()
	ctx.MR.ReferencedIssues = nil // forces issue-mention to block

	findings := pipeline.Run(ctx)
	require.True(t, HasBlock(findings))

	var readiness finding.Finding
	for _, f := range findings {
		if f.Category == finding.CategoryMergeReadiness {
			readiness = f
		}
	}
	assert.Equal(t, finding.Block, readiness.Severity)
}

func TestExcludedTitlePatternsSkipAppliesTo(t *testing.T) {
	patterns := []string{`^Bump .* dependency$`}
	ctx := baseContext()
	ctx.MR.Title = "Bump foo dependency"

	assert.False(t, IssueMentionRule{ExcludedTitlePatterns: patterns}.AppliesTo(ctx))
	assert.False(t, FixVersionRule{ExcludedTitlePatterns: patterns}.AppliesTo(ctx))
	assert.False(t, CommitMessageRule{ExcludedTitlePatterns: patterns}.AppliesTo(ctx))
	assert.False(t, PipelineStatusRule{ExcludedTitlePatterns: patterns}.AppliesTo(ctx))
	assert.False(t, TitleFormatRule{ExcludedTitlePatterns: patterns}.AppliesTo(ctx))

	ctx.MR.Title = "PROJ-1: fix the thing"
	assert.True(t, IssueMentionRule{ExcludedTitlePatterns: patterns}.AppliesTo(ctx))
	assert.True(t, FixVersionRule{ExcludedTitlePatterns: patterns}.AppliesTo(ctx))
	assert.True(t, CommitMessageRule{ExcludedTitlePatterns: patterns}.AppliesTo(ctx))
	assert.True(t, PipelineStatusRule{ExcludedTitlePatterns: patterns}.AppliesTo(ctx))
	assert.True(t, TitleFormatRule{ExcludedTitlePatterns: patterns}.AppliesTo(ctx))
}

func TestApprovalRuleAppliesToExcludedTitle(t *testing.T) {
	r := NewApprovalRule()
	ctx := baseContext()
	ctx.Config.ExcludedIssueTitlePatterns = []string{`^Bump .* dependency$`}

	ctx.MR.Title = "Bump foo dependency"
	assert.False(t, r.AppliesTo(ctx))

	ctx.MR.Title = "PROJ-1: fix the thing"
	assert.True(t, r.AppliesTo(ctx))
}

// TestMergeReadinessRuleExcludedTitle confirms an excluded title short-circuits
// straight to a Pass finding rather than skipping via AppliesTo — skipping
// would leave plan.mergeReady with no merge-readiness finding at all and fail
// closed, the opposite of what exclusion is for.
func TestMergeReadinessRuleExcludedTitle(t *testing.T) {
	r := MergeReadinessRule{ExcludedTitlePatterns: []string{`^Bump .* dependency$`}}
	ctx := baseContext()
	ctx.MR.Title = "Bump foo dependency"
	ctx.MR.Draft = true // would otherwise block

	assert.True(t, r.AppliesTo(ctx))
	findings := r.Evaluate(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, finding.Pass, findings[0].Severity)
	assert.Equal(t, finding.CategoryMergeReadiness, findings[0].Category)
}

func TestRelatedProjectsRule(t *testing.T) {
	r := RelatedProjectsRule{RelatedProjects: []string{"OTHER"}}
	ctx := baseContext()
	ctx.MR.ReferencedIssues = []string{"PROJ-1", "OTHER-9"}
	ctx.Issues["OTHER-9"] = snapshot.IssueSnapshot{Key: "OTHER-9", Project: "OTHER", Supported: false}

	findings := r.Evaluate(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, finding.Info, findings[0].Severity)
}
