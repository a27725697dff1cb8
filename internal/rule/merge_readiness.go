package rule

import (
	"github.com/nx/robocat/internal/finding"
	"github.com/nx/robocat/internal/snapshot"
)

// MergeReadinessRule is the composite rule: pass iff no other block finding
// is present in this cycle, the MR is not draft, and mergeability is not
// conflicts. It must run last in the pipeline so ctx.Accumulated holds
// every other rule's verdict by the time it evaluates.
type MergeReadinessRule struct {
	// ExcludedTitlePatterns exempts MR titles matching one of these regexps
	// from the merge-readiness gate entirely (essential_rule.py's
	// excluded_issue_title_patterns) — matching MRs merge on author/reviewer
	// say-so without the bot holding them for CI/approval.
	ExcludedTitlePatterns []string
}

func (MergeReadinessRule) Name() string { return "merge-readiness" }

func (MergeReadinessRule) AppliesTo(ctx Context) bool { return true }

func (r MergeReadinessRule) Evaluate(ctx Context) []finding.Finding {
	// An excluded title exempts the MR from the gate itself (essential_rule's
	// "filtered_out" outcome counts as mergeable), not just from contributing
	// a block — dropping the finding instead of short-circuiting here would
	// make plan.mergeReady see no merge-readiness verdict at all and fail
	// closed, the opposite of what exclusion is for.
	if titleMatchesAny(r.ExcludedTitlePatterns, ctx.MR.Title) {
		return []finding.Finding{{
			Severity: finding.Pass,
			Category: finding.CategoryMergeReadiness,
			ObjectID: "merge-readiness",
			Message:  "MR title matches an excluded pattern; merge-readiness check skipped",
		}}
	}
	if HasBlock(ctx.Accumulated) {
		return []finding.Finding{{
			Severity: finding.Block,
			Category: finding.CategoryMergeReadiness,
			ObjectID: "merge-readiness",
			Message:  "one or more blocking findings present",
		}}
	}
	if ctx.MR.Draft {
		return []finding.Finding{{
			Severity: finding.Block,
			Category: finding.CategoryMergeReadiness,
			ObjectID: "merge-readiness",
			Message:  "MR is a draft",
		}}
	}
	if ctx.MR.Mergeability == snapshot.MergeableConflicts {
		return []finding.Finding{{
			Severity: finding.Block,
			Category: finding.CategoryMergeReadiness,
			ObjectID: "merge-readiness",
			Message:  "MR has merge conflicts",
		}}
	}

	return []finding.Finding{{
		Severity: finding.Pass,
		Category: finding.CategoryMergeReadiness,
		ObjectID: "merge-readiness",
		Message:  "MR is ready to merge",
	}}
}
