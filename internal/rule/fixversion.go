package rule

import (
	"fmt"

	"github.com/nx/robocat/internal/finding"
)

// FixVersionRule requires every referenced supported-project issue to carry
// a non-empty fixVersions list where every version maps to a known branch,
// and rejects contradictory versions (the same branch named by more than
// one version on the same issue).
type FixVersionRule struct {
	ExcludedTitlePatterns []string
}

func (FixVersionRule) Name() string { return "fix-version-sanity" }

func (r FixVersionRule) AppliesTo(ctx Context) bool {
	return !titleMatchesAny(r.ExcludedTitlePatterns, ctx.MR.Title)
}

func (r FixVersionRule) Evaluate(ctx Context) []finding.Finding {
	var findings []finding.Finding

	for _, key := range ctx.MR.ReferencedIssues {
		issue, ok := ctx.Issues[key]
		if !ok || !issue.Supported {
			continue
		}

		if len(issue.FixVersions) == 0 {
			findings = append(findings, finding.Finding{
				Severity: finding.Block,
				Category: finding.CategoryFixVersion,
				ObjectID: "fix-version:" + key,
				Message:  fmt.Sprintf("issue %s has no fixVersions set", key),
			})
			continue
		}

		branchToVersions := map[string][]string{}
		for _, fv := range issue.FixVersions {
			if fv.Branch == "" {
				findings = append(findings, finding.Finding{
					Severity: finding.Block,
					Category: finding.CategoryFixVersion,
					ObjectID: "fix-version:" + key,
					Message:  fmt.Sprintf("issue %s fixVersion %q does not map to a known branch", key, fv.Label),
				})
				continue
			}
			branchToVersions[fv.Branch] = append(branchToVersions[fv.Branch], fv.Label)
		}

		for branch, versions := range branchToVersions {
			if len(versions) > 1 {
				findings = append(findings, finding.Finding{
					Severity: finding.Block,
					Category: finding.CategoryFixVersion,
					ObjectID: "fix-version:" + key,
					Message:  fmt.Sprintf("issue %s has contradictory fixVersions %v all mapping to branch %s", key, versions, branch),
				})
			}
		}
	}

	if len(findings) == 0 {
		findings = append(findings, finding.Finding{
			Severity: finding.Pass,
			Category: finding.CategoryFixVersion,
			ObjectID: "fix-version-sanity",
			Message:  "fixVersions valid",
		})
	}
	return findings
}
