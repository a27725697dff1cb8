package rule

import (
	"regexp"
	"strings"

	"github.com/nx/robocat/internal/finding"
)

// titlePattern matches "<ISSUE-KEYS>: <desc>" with no parenthesis
// immediately after the colon, e.g. "PROJ-1, PROJ-2: fix the thing".
var titlePattern = regexp.MustCompile(`^(?:[A-Z][A-Z0-9]+-\d+)(?:\s*,\s*[A-Z][A-Z0-9]+-\d+)*:\s*.+$`)
var titleParenAfterColon = regexp.MustCompile(`^(?:[A-Z][A-Z0-9]+-\d+)(?:\s*,\s*[A-Z][A-Z0-9]+-\d+)*:\s*\(`)

// TitleFormatRule enforces the squash-MR title/description format:
// "<ISSUE-KEYS>: <desc>" with no parenthesis directly after the colon, and
// (when the MR has exactly one commit) that the commit message equals
// title + "\n\n" + description. Only applies when the MR is squash.
type TitleFormatRule struct {
	ExcludedTitlePatterns []string
}

func (TitleFormatRule) Name() string { return "title-format" }

func (r TitleFormatRule) AppliesTo(ctx Context) bool {
	return ctx.MR.Squash && !titleMatchesAny(r.ExcludedTitlePatterns, ctx.MR.Title)
}

func (r TitleFormatRule) Evaluate(ctx Context) []finding.Finding {
	title := ctx.MR.Title

	if titleParenAfterColon.MatchString(title) || !titlePattern.MatchString(title) {
		return []finding.Finding{{
			Severity: finding.Block,
			Category: finding.CategoryWorkflow,
			ObjectID: "title-format",
			Message:  `title must match "<ISSUE-KEYS>: <description>" with no parenthesis directly after the colon`,
		}}
	}

	if len(ctx.MR.Commits) == 1 {
		want := title + "\n\n" + ctx.MR.Description
		got := ctx.MR.Commits[0].Message
		if strings.TrimRight(got, "\n") != strings.TrimRight(want, "\n") {
			return []finding.Finding{{
				Severity: finding.Block,
				Category: finding.CategoryWorkflow,
				ObjectID: "title-format",
				Message:  "commit message must equal title + blank line + description on a single-commit squash MR",
			}}
		}
	}

	return []finding.Finding{{
		Severity: finding.Pass,
		Category: finding.CategoryWorkflow,
		ObjectID: "title-format",
		Message:  "title/description format valid",
	}}
}
