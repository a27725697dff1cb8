package rule

import (
	"fmt"

	"github.com/nx/robocat/internal/finding"
)

// SubmoduleRule delegates to the configured SubmoduleChecker for each
// configured submodule directory; block on inconsistency, pass info
// otherwise.
type SubmoduleRule struct{}

func (SubmoduleRule) Name() string { return "submodule-consistency" }

func (SubmoduleRule) AppliesTo(ctx Context) bool {
	return ctx.SubmoduleChecker != nil && len(ctx.Config.NxSubmoduleDirs) > 0
}

func (SubmoduleRule) Evaluate(ctx Context) []finding.Finding {
	var findings []finding.Finding
	for _, dir := range ctx.Config.NxSubmoduleDirs {
		result, err := ctx.SubmoduleChecker.CheckSubmodule(ctx.GoContext, ctx.RepoDir, dir)
		if err != nil {
			findings = append(findings, finding.Finding{
				Severity: finding.Warn,
				Category: finding.CategorySubmodule,
				ObjectID: "submodule:" + dir,
				Message:  fmt.Sprintf("temporary failure checking submodule %s: %v", dir, err),
			})
			continue
		}
		if !result.Consistent {
			findings = append(findings, finding.Finding{
				Severity: finding.Block,
				Category: finding.CategorySubmodule,
				ObjectID: "submodule:" + dir,
				Message:  fmt.Sprintf("submodule %s is inconsistent: %s", dir, result.Details),
			})
		}
	}
	if len(findings) == 0 {
		findings = append(findings, finding.Finding{
			Severity: finding.Pass,
			Category: finding.CategorySubmodule,
			ObjectID: "submodule-consistency",
			Message:  "all submodules consistent",
		})
	}
	return findings
}
