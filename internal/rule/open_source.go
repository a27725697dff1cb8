package rule

import (
	"fmt"

	"github.com/nx/robocat/internal/finding"
)

// OpenSourceRule delegates content checking to the configured FileChecker
// and translates its verdict into findings: one block per violating file;
// if clean and >= 1 open-sourced file is touched with no approval yet from
// the open_source ruleset's approvers, a single block requiring that
// sign-off; otherwise a pass.
type OpenSourceRule struct {
	OpenSourceDirs []string
}

func (OpenSourceRule) Name() string { return "open-source-compliance" }

func (OpenSourceRule) AppliesTo(ctx Context) bool { return ctx.FileChecker != nil }

func (r OpenSourceRule) Evaluate(ctx Context) []finding.Finding {
	var files []string
	for _, f := range ctx.MR.ChangedFiles {
		if !f.Deleted {
			files = append(files, f.Path)
		}
	}

	violations, err := ctx.FileChecker.CheckFiles(ctx.GoContext, ctx.RepoDir, files)
	if err != nil {
		return []finding.Finding{{
			Severity: finding.Warn,
			Category: finding.CategoryOpenSource,
			ObjectID: "open-source-compliance",
			Message:  fmt.Sprintf("temporary failure talking to compliance checker: %v", err),
		}}
	}

	if len(violations) > 0 {
		var findings []finding.Finding
		ruleset := ctx.Config.ApprovalRulesets["open_source"]
		for _, v := range violations {
			findings = append(findings, finding.Finding{
				Severity:          finding.Block,
				Category:          finding.CategoryOpenSource,
				ObjectID:          "open-source-compliance:" + v.File,
				Message:           fmt.Sprintf("%s:%d %s: %s", v.File, v.Line, v.RuleID, v.Message),
				RequiredApprovers: approversForFile(ruleset, v.File),
			})
		}
		return findings
	}

	if r.touchesNewOpenSourceFile(ctx) {
		ruleset := ctx.Config.ApprovalRulesets["open_source"]
		required := allApprovers(ruleset)
		if !hasApprovalFrom(ctx.MR.ApproverSet(), required, ctx.MR.Author) {
			// Block, not Warn: merge-readiness must not pass until an
			// open-source approver signs off, even though this still
			// materializes as an ordinary severity >= warn discussion.
			return []finding.Finding{{
				Severity:          finding.Block,
				Category:          finding.CategoryOpenSource,
				ObjectID:          "open-source-compliance",
				Message:           "MR adds files under an open-sourced directory; requires open-source approver sign-off",
				RequiredApprovers: required,
			}}
		}
	}

	return []finding.Finding{{
		Severity: finding.Pass,
		Category: finding.CategoryOpenSource,
		ObjectID: "open-source-compliance",
		Message:  "no open-source compliance issues",
	}}
}

func (r OpenSourceRule) touchesNewOpenSourceFile(ctx Context) bool {
	checker := ctx.Config.ApprovalRulesets["open_source"].RelevanceChecker
	if checker == nil {
		return false
	}
	for _, f := range ctx.MR.ChangedFiles {
		if f.Deleted {
			continue
		}
		if checker(f) {
			return true
		}
	}
	return false
}
