package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/nx/robocat/internal/action"
	"github.com/nx/robocat/internal/actor"
	"github.com/nx/robocat/internal/compliance"
	"github.com/nx/robocat/internal/config"
	"github.com/nx/robocat/internal/event"
	"github.com/nx/robocat/internal/followup"
	"github.com/nx/robocat/internal/forge"
	"github.com/nx/robocat/internal/gitworkspace"
	"github.com/nx/robocat/internal/rule"
	"github.com/nx/robocat/internal/secrets"
	"github.com/nx/robocat/internal/snapshot"
	"github.com/nx/robocat/internal/tracker"
)

// eventDedupeTTL bounds how long the Event Ingress remembers a signal's
// idempotence key for duplicate suppression (spec §4.A).
const eventDedupeTTL = 5 * time.Minute

// actorIdleTTL is how long an MR actor with no pending work sits in the
// registry before eviction (spec §4.B).
const actorIdleTTL = 30 * time.Minute

// githubRequestsPerSecond rate-limits outbound forge calls, grounded on the
// teacher's own NewGitHubClient limiter parameter.
const githubRequestsPerSecond = 5.0

// New assembles an Engine from process configuration and mounted secrets,
// wiring every collaborator the nine spec §4 components need. repoDir is an
// already-cloned checkout of cfg.Repo.URL that the process owns exclusively.
func New(ctx context.Context, cfg *config.Config, sec secrets.Bundle, repoDir string) (*Engine, error) {
	autorunStage := ""
	if cfg.Pipeline != nil {
		autorunStage = cfg.Pipeline.AutorunStage
	}
	forgeClient := forge.NewGitHubClient(ctx, sec.ForgeToken, cfg.Repo.Org, cfg.Repo.Name, cfg.BotHandle, autorunStage, githubRequestsPerSecond)
	trackerClient := tracker.NewHTTPClient(
		cfg.Jira.URL, sec.TrackerLogin, sec.TrackerToken,
		time.Duration(cfg.Jira.Timeout)*time.Second, cfg.Jira.Retries,
	)
	workspace := gitworkspace.New(repoDir)

	ruleConfig, err := buildRuleConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build rule config: %w", err)
	}

	e := &Engine{
		Forge:   forgeClient,
		Tracker: trackerClient,
		Git:     workspace,

		Identity: Identity{BotHandle: cfg.BotHandle, Login: cfg.BotHandle},

		Projector: &snapshot.Projector{
			Forge:   forgeClient,
			Tracker: trackerClient,
			Config: snapshot.ProjectorConfig{
				SupportedProjects: cfg.Jira.SupportedProjects(),
				VersionBranches:   cfg.Jira.VersionBranches,
				DefaultSquash:     true,
			},
		},
		Pipeline:   buildPipeline(cfg, ruleConfig),
		RuleConfig: ruleConfig,

		RepoDir:          repoDir,
		FileChecker:      &compliance.FakeFileChecker{},
		SubmoduleChecker: &compliance.FakeSubmoduleChecker{},

		Executor: &action.Executor{
			Forge:    forgeClient,
			Tracker:  trackerClient,
			Git:      workspace,
			Identity: identityString(cfg.BotHandle),
		},
		FollowUp: &followup.Generator{
			Forge:                 forgeClient,
			Git:                   workspace,
			Identity:              cfg.BotHandle,
			ExcludedTitlePatterns: followUpExcludedPatterns(cfg),
		},

		Ingress:  event.NewIngress(eventDedupeTTL),
		Registry: actor.NewRegistry(int64(cfg.Parallelism), actorIdleTTL),
	}
	return e, nil
}

// ruleOrder is the canonical evaluation order (spec §4.D); EnabledRules
// filters this list down rather than reordering it, since MergeReadinessRule
// depends on everything ahead of it having already run.
var ruleOrder = []string{
	"issue-mention",
	"title-format",
	"commit-message",
	"fix-version-sanity",
	"pipeline-status",
	"open-source-compliance",
	"submodule-consistency",
	"related-projects",
	"approval",
	"merge-readiness",
}

func buildPipeline(cfg *config.Config, ruleConfig rule.Config) *rule.Pipeline {
	enabled := make(map[string]bool, len(cfg.EnabledRules))
	for _, name := range cfg.EnabledRules {
		enabled[name] = true
	}
	// An empty EnabledRules list means "run everything" — an unconfigured
	// process should fail closed on missing checks, not fail open.
	runAll := len(cfg.EnabledRules) == 0

	var workflowExcluded []string
	if cfg.WorkflowCheckRule != nil {
		workflowExcluded = cfg.WorkflowCheckRule.ExcludedIssueTitlePatterns
	}
	var essentialExcluded []string
	if cfg.EssentialCheckRule != nil {
		essentialExcluded = cfg.EssentialCheckRule.ExcludedIssueTitlePatterns
	}
	// commit-message has its own config block (commit_message_check_rule) in
	// the original, distinct from the bundled workflow check, so it carries
	// its own exclusion list rather than inheriting workflowExcluded.
	var commitMessageExcluded []string
	if cfg.CommitMessageCheckRule != nil {
		commitMessageExcluded = cfg.CommitMessageCheckRule.ExcludedIssueTitlePatterns
	}

	byName := map[string]rule.Rule{
		"issue-mention":          rule.IssueMentionRule{ExcludedTitlePatterns: workflowExcluded},
		"title-format":           rule.TitleFormatRule{ExcludedTitlePatterns: workflowExcluded},
		"commit-message":         rule.CommitMessageRule{ForbiddenTerms: ruleConfig.CommitMessageForbidden, ExcludedTitlePatterns: commitMessageExcluded},
		"fix-version-sanity":     rule.FixVersionRule{ExcludedTitlePatterns: workflowExcluded},
		"pipeline-status":        rule.PipelineStatusRule{ExcludedTitlePatterns: essentialExcluded},
		"open-source-compliance": rule.OpenSourceRule{OpenSourceDirs: cfg.OpenSourceDirs},
		"submodule-consistency":  rule.SubmoduleRule{},
		"related-projects":       relatedProjectsRule(cfg),
		"approval":               rule.NewApprovalRule(),
		"merge-readiness":        rule.MergeReadinessRule{ExcludedTitlePatterns: essentialExcluded},
	}

	var rules []rule.Rule
	for _, name := range ruleOrder {
		if runAll || enabled[name] || name == "merge-readiness" {
			rules = append(rules, byName[name])
		}
	}
	return rule.NewPipeline(rules...)
}

func followUpExcludedPatterns(cfg *config.Config) []string {
	if cfg.FollowUpRule == nil {
		return nil
	}
	return cfg.FollowUpRule.ExcludedIssueTitlePatterns
}

func relatedProjectsRule(cfg *config.Config) rule.Rule {
	var projects []string
	if cfg.ProcessRelatedMergeRequestsRule != nil {
		for _, r := range cfg.ProcessRelatedMergeRequestsRule.Rules {
			projects = append(projects, r.RelatedProjects...)
		}
	}
	return rule.RelatedProjectsRule{RelatedProjects: projects}
}

// buildRuleConfig translates internal/config.Config's on-disk shape into
// rule.Config, resolving each approval ruleset's named relevance checker
// against compliance.NewRegistry and rejecting unknown checker names at
// startup rather than silently disabling the ruleset.
func buildRuleConfig(cfg *config.Config) (rule.Config, error) {
	registry := compliance.NewRegistry(cfg.OpenSourceDirs)

	approvalRulesets := map[string]rule.ApprovalRuleset{}
	if cfg.JobStatusCheckRule != nil {
		for name, rs := range cfg.JobStatusCheckRule.Rulesets() {
			// match_name_pattern has no registry entry: it matches each
			// ApprovalRule's own Patterns rather than a ruleset-wide
			// predicate (see rule.ApprovalRuleset's doc comment), so it's
			// left unresolved here and handled per-rule in
			// requiredApproversForRuleset instead of looked up below.
			var checker compliance.RelevanceChecker
			if rs.RelevanceChecker != "match_name_pattern" {
				c, ok := registry[rs.RelevanceChecker]
				if !ok {
					return rule.Config{}, fmt.Errorf("approval ruleset %q: unknown relevance_checker %q", name, rs.RelevanceChecker)
				}
				checker = c
			}
			var rules []rule.ApprovalRule
			for _, ar := range rs.Rules {
				rules = append(rules, rule.ApprovalRule{Patterns: ar.Patterns, Approvers: ar.Approvers})
			}
			approvalRulesets[name] = rule.ApprovalRuleset{
				Name:                 name,
				RelevanceCheckerName: rs.RelevanceChecker,
				RelevanceChecker:     checker,
				Rules:                rules,
			}
		}
	}

	var nxSubmoduleDirs []string
	if cfg.NxSubmoduleCheckRule != nil {
		nxSubmoduleDirs = cfg.NxSubmoduleCheckRule.NxSubmoduleDirs
	}

	var commitForbidden []string
	if cfg.CommitMessageCheckRule != nil {
		commitForbidden = cfg.CommitMessageCheckRule.ForbiddenTerms
	}

	var relatedRules []rule.RelatedProjectRule
	if cfg.ProcessRelatedMergeRequestsRule != nil {
		for _, r := range cfg.ProcessRelatedMergeRequestsRule.Rules {
			relatedRules = append(relatedRules, rule.RelatedProjectRule{RelatedProjects: r.RelatedProjects})
		}
	}

	var excluded []string
	if cfg.JobStatusCheckRule != nil {
		excluded = cfg.JobStatusCheckRule.ExcludedIssueTitlePatterns
	}

	return rule.Config{
		SupportedProjects:          cfg.Jira.SupportedProjects(),
		ApprovalRulesets:           approvalRulesets,
		NeedCodeOwnerApproval:      cfg.Repo.NeedCodeOwnerApproval,
		NxSubmoduleDirs:            nxSubmoduleDirs,
		RelatedProjectRules:        relatedRules,
		CommitMessageForbidden:     commitForbidden,
		ExcludedIssueTitlePatterns: excluded,
	}, nil
}
