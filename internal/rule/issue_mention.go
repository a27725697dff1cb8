package rule

import (
	"regexp"

	"github.com/nx/robocat/internal/finding"
)

// IssueKeyPattern matches a tracker issue key of the shape PROJECT-123,
// used both by the projector to extract references and by rules that need
// to re-scan free text (commit messages, titles).
var IssueKeyPattern = regexp.MustCompile(`\b([A-Z][A-Z0-9]+)-(\d+)\b`)

// ExtractIssueKeys returns every issue key mentioned in text, in order of
// first appearance, without duplicates.
func ExtractIssueKeys(text string) []string {
	matches := IssueKeyPattern.FindAllString(text, -1)
	seen := map[string]bool{}
	var out []string
	for _, m := range matches {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// IssueMentionRule requires the MR to reference at least one issue in a
// supported project.
type IssueMentionRule struct {
	// ExcludedTitlePatterns skips this rule for MR titles matching one of
	// these regexps (workflow_check_rule.py's excluded_issue_title_patterns).
	ExcludedTitlePatterns []string
}

func (IssueMentionRule) Name() string { return "issue-mention" }

func (r IssueMentionRule) AppliesTo(ctx Context) bool {
	return !titleMatchesAny(r.ExcludedTitlePatterns, ctx.MR.Title)
}

func (r IssueMentionRule) Evaluate(ctx Context) []finding.Finding {
	for _, key := range ctx.MR.ReferencedIssues {
		if issue, ok := ctx.Issues[key]; ok && issue.Supported {
			return []finding.Finding{{
				Severity: finding.Pass,
				Category: finding.CategoryWorkflow,
				ObjectID: "issue-mention",
				Message:  "MR references a supported-project issue",
			}}
		}
	}
	return []finding.Finding{{
		Severity: finding.Block,
		Category: finding.CategoryWorkflow,
		ObjectID: "issue-mention",
		Message:  "MR does not reference any issue in a supported project",
	}}
}
