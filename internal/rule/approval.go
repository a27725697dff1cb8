package rule

import (
	"fmt"

	"github.com/nx/robocat/internal/compliance"
	"github.com/nx/robocat/internal/finding"
	"github.com/nx/robocat/internal/snapshot"
)

// approversForFile resolves the required-approver set for a single file
// against a ruleset by selecting the first matching (patterns, approvers)
// rule, falling back to the ruleset's full approver list (the union of all
// rules) when no pattern matches — grounded on
// approve_rule_helpers.py's _get_keepers_for_files.
func approversForFile(rs ApprovalRuleset, path string) []string {
	for _, ar := range rs.Rules {
		if matchesAny(ar.Patterns, path) {
			return ar.Approvers
		}
	}
	return allApprovers(rs)
}

func allApprovers(rs ApprovalRuleset) []string {
	seen := map[string]bool{}
	var out []string
	for _, ar := range rs.Rules {
		for _, a := range ar.Approvers {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	return out
}

func matchesAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if ok, _ := filepathMatch(p, path); ok {
			return true
		}
	}
	return false
}

// requiredApproversForRuleset returns the union of required approvers
// across every changed file the ruleset's relevance checker considers in
// scope, grounded on get_keepers(for_changed_files=True).
//
// match_name_pattern is special-cased: approve_rule_helpers.py's
// match_name_pattern(rule, item) checks relevance against the *candidate
// rule's own* patterns rather than a ruleset-wide predicate, so relevance
// and approver selection collapse into the same per-rule pattern match —
// with no fallback to the ruleset's full approver list for a file that
// matched no rule's pattern at all (unlike the fallback approversForFile
// applies for the other, globally-relevant checkers).
func requiredApproversForRuleset(rs ApprovalRuleset, files []snapshot.ChangedFile) []string {
	if rs.RelevanceCheckerName == "" && rs.RelevanceChecker == nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, f := range files {
		if f.Deleted {
			continue
		}
		if rs.RelevanceCheckerName == "match_name_pattern" {
			for _, ar := range rs.Rules {
				if !compliance.MatchNamePattern(ar.Patterns)(f) {
					continue
				}
				for _, a := range ar.Approvers {
					if !seen[a] {
						seen[a] = true
						out = append(out, a)
					}
				}
			}
			continue
		}
		if rs.RelevanceChecker == nil || !rs.RelevanceChecker(f) {
			continue
		}
		for _, a := range approversForFile(rs, f.Path) {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	return out
}

// approvalPipelineRule (the pipeline rule module built by NewApprovalRule,
// not to be confused with config.ApprovalRule / rule.ApprovalRule which name
// one (patterns, approvers) entry) checks that every applicable ruleset has >= 1
// approval from its required set, and that the optional code-owner
// requirement is satisfied.
type approvalPipelineRule struct{}

func NewApprovalRule() Rule { return approvalPipelineRule{} }

func (approvalPipelineRule) Name() string { return "approval" }

// AppliesTo skips approval-ruleset gating for MRs whose title matches a
// configured excluded_issue_title_patterns entry — e.g. maintenance MRs
// that are never expected to carry a reviewable Jira issue at all, grounded
// on workflow_check_rule.py's identical title-pattern exclusion.
func (approvalPipelineRule) AppliesTo(ctx Context) bool {
	return !titleMatchesAny(ctx.Config.ExcludedIssueTitlePatterns, ctx.MR.Title)
}

func (approvalPipelineRule) Evaluate(ctx Context) []finding.Finding {
	approvedBy := ctx.MR.ApproverSet()
	// the MR author's own approval never counts, and an author who is
	// themselves a keeper for a ruleset exempts that ruleset's manual
	// check entirely (is_mr_author_keeper in approve_rule_helpers.py).
	var findings []finding.Finding
	satisfied := true

	for name, rs := range ctx.Config.ApprovalRulesets {
		if name == "open_source" {
			// OpenSourceRule already evaluates this ruleset alongside the
			// content-violation check it delegates to FileChecker, so the
			// generic approval gate only covers the rulesets with no
			// dedicated rule (apidoc, code_owner_approval).
			continue
		}
		required := requiredApproversForRuleset(rs, ctx.MR.ChangedFiles)
		if len(required) == 0 {
			continue
		}
		if containsAny(required, ctx.MR.Author) {
			continue // author is a keeper for this ruleset; exempt
		}
		if hasApprovalFrom(approvedBy, required, ctx.MR.Author) {
			continue
		}
		satisfied = false
		findings = append(findings, finding.Finding{
			// Block, not Warn: an unsatisfied approval ruleset must gate
			// merge-readiness (spec §4.D), even though it also surfaces as
			// a discussion like any severity >= warn finding does.
			Severity:          finding.Block,
			Category:          finding.CategoryApproval,
			ObjectID:          "approval:" + name,
			Message:           fmt.Sprintf("ruleset %q requires an approval from %v", name, required),
			RequiredApprovers: required,
		})
	}

	if ctx.Config.NeedCodeOwnerApproval && len(ctx.MR.Approvals) == 0 {
		satisfied = false
		findings = append(findings, finding.Finding{
			Severity: finding.Block,
			Category: finding.CategoryApproval,
			ObjectID: "approval:code-owner",
			Message:  "code-owner approval required",
		})
	}

	if satisfied {
		findings = append(findings, finding.Finding{
			Severity: finding.Pass,
			Category: finding.CategoryApproval,
			ObjectID: "approval",
			Message:  "all applicable approval rulesets satisfied",
		})
	}
	return findings
}

func hasApprovalFrom(approvedBy map[string]bool, required []string, author string) bool {
	for _, a := range required {
		if a == author {
			continue
		}
		if approvedBy[a] {
			return true
		}
	}
	return false
}

func containsAny(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
