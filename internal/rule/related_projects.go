package rule

import (
	"fmt"
	"strings"

	"github.com/nx/robocat/internal/finding"
)

// RelatedProjectsRule is the supplemented feature from
// original_source's process_related_projects_issues.py: when an MR
// references issues from non-supported (informational) projects
// configured as "related", post an informational note rather than
// silently ignoring them. Never blocking.
type RelatedProjectsRule struct {
	RelatedProjects []string
}

func (RelatedProjectsRule) Name() string { return "related-projects" }

func (r RelatedProjectsRule) AppliesTo(ctx Context) bool { return len(r.RelatedProjects) > 0 }

func (r RelatedProjectsRule) Evaluate(ctx Context) []finding.Finding {
	related := map[string]bool{}
	for _, p := range r.RelatedProjects {
		related[p] = true
	}

	var mentioned []string
	for _, key := range ctx.MR.ReferencedIssues {
		issue, ok := ctx.Issues[key]
		if !ok || issue.Supported {
			continue
		}
		if related[issue.Project] {
			mentioned = append(mentioned, key)
		}
	}

	if len(mentioned) == 0 {
		return nil
	}
	return []finding.Finding{{
		Severity: finding.Info,
		Category: finding.CategoryRelatedProjects,
		ObjectID: "related-projects",
		Message:  fmt.Sprintf("MR also references related (informational) issues: %s", strings.Join(mentioned, ", ")),
	}}
}
