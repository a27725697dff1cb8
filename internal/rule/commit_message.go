package rule

import (
	"fmt"
	"strings"

	"github.com/nx/robocat/internal/finding"
)

// CommitMessageRule covers the squash-off "commit-level issue mention"
// requirement (every commit message mentions >= 1 issue key, and the set of
// issues in title/description is a subset of the set in commit messages)
// plus a licensing/sensitive-word scan grounded on
// rule/helpers/commit_message_checker.py's CommitMessageError.
type CommitMessageRule struct {
	ForbiddenTerms        []string
	ExcludedTitlePatterns []string
}

func (CommitMessageRule) Name() string { return "commit-message" }

func (r CommitMessageRule) AppliesTo(ctx Context) bool {
	return !titleMatchesAny(r.ExcludedTitlePatterns, ctx.MR.Title)
}

func (r CommitMessageRule) Evaluate(ctx Context) []finding.Finding {
	var findings []finding.Finding

	if !ctx.MR.Squash {
		findings = append(findings, r.evaluateCommitLevelMention(ctx)...)
	}

	findings = append(findings, r.evaluateForbiddenTerms(ctx)...)

	if len(findings) == 0 {
		findings = append(findings, finding.Finding{
			Severity: finding.Pass,
			Category: finding.CategoryCommitConvention,
			ObjectID: "commit-message",
			Message:  "commit messages valid",
		})
	}
	return findings
}

func (r CommitMessageRule) evaluateCommitLevelMention(ctx Context) []finding.Finding {
	titleDescIssues := map[string]bool{}
	for _, k := range ExtractIssueKeys(ctx.MR.Title + "\n" + ctx.MR.Description) {
		titleDescIssues[k] = true
	}

	commitIssues := map[string]bool{}
	for _, c := range ctx.MR.Commits {
		keys := ExtractIssueKeys(c.Message)
		if len(keys) == 0 {
			return []finding.Finding{{
				Severity: finding.Block,
				Category: finding.CategoryCommitConvention,
				ObjectID: "commit-message:" + c.SHA,
				Message:  fmt.Sprintf("commit %s does not mention any issue key", shortSHA(c.SHA)),
			}}
		}
		for _, k := range keys {
			commitIssues[k] = true
		}
	}

	for k := range titleDescIssues {
		if !commitIssues[k] {
			return []finding.Finding{{
				Severity: finding.Block,
				Category: finding.CategoryCommitConvention,
				ObjectID: "commit-message",
				Message:  fmt.Sprintf("issue %s is mentioned in title/description but not in any commit message", k),
			}}
		}
	}
	return nil
}

func (r CommitMessageRule) evaluateForbiddenTerms(ctx Context) []finding.Finding {
	var findings []finding.Finding
	for _, c := range ctx.MR.Commits {
		lower := strings.ToLower(c.Message)
		for _, term := range r.ForbiddenTerms {
			if term == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(term)) {
				findings = append(findings, finding.Finding{
					Severity: finding.Block,
					Category: finding.CategoryCommitConvention,
					ObjectID: "commit-message:" + c.SHA,
					Message:  fmt.Sprintf("commit %s message contains forbidden term %q", shortSHA(c.SHA), term),
				})
			}
		}
	}
	return findings
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
