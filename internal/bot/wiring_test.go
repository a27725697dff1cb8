package bot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nx/robocat/internal/config"
	"github.com/nx/robocat/internal/finding"
	"github.com/nx/robocat/internal/rule"
	"github.com/nx/robocat/internal/secrets"
)

func minimalConfig() *config.Config {
	return &config.Config{
		BotHandle: "robocat-bot",
		Jira: config.TrackerConfig{
			URL:            "https://tracker.example.com",
			Login:          "robocat",
			ProjectMapping: map[string]string{"PROJ": "vms"},
		},
		Repo: config.RepoConfig{
			Path: "/srv/repo",
			URL:  "git@forge.example.com:org/repo.git",
			Org:  "org",
			Name: "repo",
		},
		Pipeline: &config.PipelineConfig{AutorunStage: "verify"},
		FollowUpRule: &config.FollowUpRuleConfig{
			ExcludedIssueTitlePatterns: []string{`^Bump .* dependency$`},
		},
		EssentialCheckRule: &config.EssentialRuleConfig{
			ExcludedIssueTitlePatterns: []string{`^Bump .* dependency$`},
		},
		WorkflowCheckRule: &config.WorkflowCheckRuleConfig{
			ExcludedIssueTitlePatterns: []string{`^Bump .* dependency$`},
		},
		CommitMessageCheckRule: &config.CommitMessageRuleConfig{
			ForbiddenTerms:             []string{"proprietary-secret"},
			ExcludedIssueTitlePatterns: []string{`^Bump .* dependency$`},
		},
		JobStatusCheckRule: &config.JobStatusCheckRuleConfig{
			ExcludedIssueTitlePatterns: []string{`^Bump .* dependency$`},
		},
		Parallelism: 2,
	}
}

func writeSecretFiles(t *testing.T) string {
	dir := t.TempDir()
	for name, value := range map[string]string{
		"forge-token":   "forge-token-value\n",
		"tracker-login": "robocat\n",
		"tracker-token": "tracker-token-value\n",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(value), 0600))
	}
	return dir
}

func TestNewWiresEngineFromConfig(t *testing.T) {
	cfg := minimalConfig()
	sec, err := secrets.Load(writeSecretFiles(t))
	require.NoError(t, err)

	e, err := New(context.Background(), cfg, sec, t.TempDir())
	require.NoError(t, err)
	require.NotNil(t, e)

	assert.Equal(t, "robocat-bot", e.Identity.BotHandle)
	assert.NotNil(t, e.Forge)
	assert.NotNil(t, e.Tracker)
	assert.NotNil(t, e.Git)
	assert.NotNil(t, e.Projector)
	assert.NotNil(t, e.Pipeline)
	assert.NotNil(t, e.Executor)
	assert.NotNil(t, e.FollowUp)
	assert.NotNil(t, e.Ingress)
	assert.NotNil(t, e.Registry)

	assert.ElementsMatch(t, []string{"proprietary-secret"}, e.RuleConfig.CommitMessageForbidden)
	assert.ElementsMatch(t, []string{`^Bump .* dependency$`}, e.RuleConfig.ExcludedIssueTitlePatterns)
	assert.ElementsMatch(t, []string{`^Bump .* dependency$`}, e.FollowUp.ExcludedTitlePatterns)
}

func TestNewRejectsUnknownRelevanceChecker(t *testing.T) {
	cfg := minimalConfig()
	cfg.JobStatusCheckRule.OpenSource = &config.ApprovalRuleset{
		RelevanceChecker: "does_not_exist",
		Rules:            []config.ApprovalRule{{Patterns: []string{"**"}, Approvers: []string{"a"}}},
	}
	sec, err := secrets.Load(writeSecretFiles(t))
	require.NoError(t, err)

	_, err = New(context.Background(), cfg, sec, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown relevance_checker")
}

func TestBuildRuleConfigResolvesMatchNamePattern(t *testing.T) {
	cfg := minimalConfig()
	cfg.JobStatusCheckRule.CodeOwnerApproval = &config.ApprovalRuleset{
		RelevanceChecker: "match_name_pattern",
		Rules:            []config.ApprovalRule{{Patterns: []string{"infra/**"}, Approvers: []string{"infra_owner"}}},
	}

	ruleConfig, err := buildRuleConfig(cfg)
	require.NoError(t, err)

	rs := ruleConfig.ApprovalRulesets["code_owner_approval"]
	assert.Equal(t, "match_name_pattern", rs.RelevanceCheckerName)
	assert.Nil(t, rs.RelevanceChecker, "match_name_pattern has no registry-resolved predicate")
}

func TestBuildPipelineRespectsEnabledRules(t *testing.T) {
	cfg := minimalConfig()
	cfg.EnabledRules = []string{"issue-mention"}

	ruleConfig, err := buildRuleConfig(cfg)
	require.NoError(t, err)

	p := buildPipeline(cfg, ruleConfig)
	require.NotNil(t, p)

	// Only issue-mention and the always-on merge-readiness rule run.
	findings := p.Run(rule.Context{GoContext: context.Background()})
	var categories []finding.Category
	for _, f := range findings {
		categories = append(categories, f.Category)
	}
	assert.Equal(t, []finding.Category{finding.CategoryWorkflow, finding.CategoryMergeReadiness}, categories)
}
