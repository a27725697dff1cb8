// Package rule implements the ordered battery of checks that consume an MR
// snapshot and emit findings, per spec §4.D. Each rule models the
// dynamic-dispatch capability described in Design Notes §9:
// {applies_to(snapshot) -> bool, evaluate(snapshot) -> []Finding}.
package rule

import (
	"context"

	"github.com/nx/robocat/internal/compliance"
	"github.com/nx/robocat/internal/finding"
	"github.com/nx/robocat/internal/snapshot"
)

// Context bundles the per-cycle, read-only state a rule needs besides the
// MR snapshot itself: referenced issue snapshots (keyed by issue key), the
// subset of process-wide configuration relevant to rules, and handles onto
// the delegated content checkers the open-source/submodule rules invoke.
type Context struct {
	GoContext context.Context
	MR        snapshot.MRSnapshot
	Issues    map[string]snapshot.IssueSnapshot
	Config    Config

	RepoDir          string
	FileChecker      compliance.FileChecker
	SubmoduleChecker compliance.SubmoduleChecker

	// Accumulated holds every finding produced by rules that ran earlier in
	// this pipeline pass. Pipeline.Run populates it before each rule's
	// Evaluate call so MergeReadinessRule (which must run last) can inspect
	// the rest of the cycle's verdicts without the pipeline needing a
	// special case.
	Accumulated []finding.Finding
}

// Config is the slice of process configuration the Rule Pipeline needs.
// internal/bot constructs this from internal/config.Config at startup.
type Config struct {
	SupportedProjects          map[string]bool
	ApprovalRulesets           map[string]ApprovalRuleset
	NeedCodeOwnerApproval      bool
	NxSubmoduleDirs            []string
	RelatedProjectRules        []RelatedProjectRule
	CommitMessageForbidden     []string
	ExcludedIssueTitlePatterns []string
}

// ApprovalRuleset is the rule-pipeline-facing shape of
// internal/config.ApprovalRuleset, carrying a resolved RelevanceChecker
// predicate alongside its string identity. RelevanceCheckerName is kept
// (not just the resolved predicate) because match_name_pattern can't be
// resolved into one fixed predicate at wiring time: per
// approve_rule_helpers.py's match_name_pattern(rule, item), it matches each
// ApprovalRule's own Patterns, not a ruleset-wide pattern list — so
// RelevanceChecker is left nil for that identity and the per-rule match
// happens in requiredApproversForRuleset instead.
type ApprovalRuleset struct {
	Name                 string
	RelevanceCheckerName string
	RelevanceChecker     func(snapshot.ChangedFile) bool
	Rules                []ApprovalRule
}

type ApprovalRule struct {
	Patterns  []string
	Approvers []string
}

// RelatedProjectRule is the rule-pipeline-facing shape of
// internal/config.RelatedMergeRequestRule.
type RelatedProjectRule struct {
	RelatedProjects []string
}

// Rule is the capability every pipeline module implements.
type Rule interface {
	Name() string
	AppliesTo(ctx Context) bool
	Evaluate(ctx Context) []finding.Finding
}

// Pipeline runs an ordered sequence of rules against a cycle's Context.
// Every applicable rule is evaluated; none short-circuits. Ordering matters
// only for MergeReadinessRule, which reads the earlier rules' findings from
// Context.Accumulated.
type Pipeline struct {
	rules []Rule
}

// NewPipeline builds a pipeline from rules in evaluation order.
func NewPipeline(rules ...Rule) *Pipeline {
	return &Pipeline{rules: rules}
}

// Run evaluates every applicable rule and returns the concatenated finding
// list in rule order.
func (p *Pipeline) Run(ctx Context) []finding.Finding {
	var out []finding.Finding
	for _, r := range p.rules {
		ctx.Accumulated = out
		if !r.AppliesTo(ctx) {
			continue
		}
		out = append(out, r.Evaluate(ctx)...)
	}
	return out
}

// HasBlock reports whether any finding in the set has Block severity.
func HasBlock(findings []finding.Finding) bool {
	for _, f := range findings {
		if f.Severity == finding.Block {
			return true
		}
	}
	return false
}
