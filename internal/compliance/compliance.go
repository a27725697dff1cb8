// Package compliance implements the consumed contracts for the open-source
// content checker and the nested-submodule checker, plus the relevance-
// checker predicate registry approval rulesets key off of. The checkers
// themselves are out of scope (spec Non-goal: "the engine does not perform
// the actual text-level content checks"); only their call contracts and a
// deterministic fake behind them are implemented here, grounded on
// original_source's rule/helpers/open_source_file_checker.py and
// approve_rule_helpers.py relevance-checker split.
package compliance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nx/robocat/internal/snapshot"
)

// Violation is one content-check failure reported against a single file.
type Violation struct {
	File    string
	Line    int // 0 when not line-specific
	RuleID  string
	Message string
}

// FileChecker is the open-source compliance checker contract:
// check_files(repo_dir, file_list) -> list[Violation].
type FileChecker interface {
	CheckFiles(ctx context.Context, repoDir string, files []string) ([]Violation, error)
}

// SubmoduleResult reports whether a submodule directory's recorded commit
// matches what the nested checkout expects.
type SubmoduleResult struct {
	Consistent bool
	Details    string
}

// SubmoduleChecker is the nested-submodule consistency checker contract.
type SubmoduleChecker interface {
	CheckSubmodule(ctx context.Context, repoDir, submoduleDir string) (SubmoduleResult, error)
}

// RelevanceChecker decides whether a changed file is in scope for a given
// approval ruleset. Implementations receive the file path and its unified
// diff patch text (empty string if not a diff-sensitive predicate).
type RelevanceChecker func(file snapshot.ChangedFile) bool

// apidocPattern matches an added line introducing an %apidoc marker, the
// same regex shape does_file_diff_contain_apidoc_changes uses against a
// unified diff.
var apidocPattern = regexp.MustCompile(`(?m)^\+.*%apidoc`)

// Registry is the built-in name -> predicate map approval rulesets key
// their relevance_checker field into. openSourceDirs/patterns come from
// configuration; MatchNamePattern rulesets carry their own patterns
// directly on the rule, so NewRegistry only needs to seed the two
// content-sensing predicates.
func NewRegistry(openSourceDirs []string) map[string]RelevanceChecker {
	return map[string]RelevanceChecker{
		"is_file_open_sourced": func(f snapshot.ChangedFile) bool {
			for _, dir := range openSourceDirs {
				if strings.HasPrefix(f.Path, strings.TrimSuffix(dir, "/")+"/") {
					return true
				}
			}
			return false
		},
		"does_file_diff_contain_apidoc_changes": func(f snapshot.ChangedFile) bool {
			return apidocPattern.MatchString(f.Patch)
		},
	}
}

// MatchNamePattern builds a relevance checker from glob patterns matched
// directly against the file path, the third registry entry
// (match_name_pattern) which — unlike the other two — is parameterized per
// rule rather than global, so it is a constructor rather than a registry
// entry. A pattern ending in "/**" matches every path below that directory,
// at any depth.
func MatchNamePattern(patterns []string) RelevanceChecker {
	return func(f snapshot.ChangedFile) bool {
		for _, p := range patterns {
			if ok, _ := filepath.Match(p, f.Path); ok {
				return true
			}
			if dir, found := strings.CutSuffix(p, "**"); found && strings.HasSuffix(dir, "/") && strings.HasPrefix(f.Path, dir) {
				return true
			}
		}
		return false
	}
}

// FakeFileChecker is a deterministic stand-in for a real text-level
// compliance checker, used by the engine's own tests and usable as the
// default when no external checker is wired. It flags any file containing
// one of a configured list of forbidden terms.
type FakeFileChecker struct {
	ForbiddenTerms []string
}

func (c *FakeFileChecker) CheckFiles(ctx context.Context, repoDir string, files []string) ([]Violation, error) {
	var out []Violation
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(repoDir, f))
		if err != nil {
			continue
		}
		for i, line := range strings.Split(string(data), "\n") {
			for _, term := range c.ForbiddenTerms {
				if term != "" && strings.Contains(line, term) {
					out = append(out, Violation{
						File:    f,
						Line:    i + 1,
						RuleID:  "forbidden-term",
						Message: fmt.Sprintf("contains forbidden term %q", term),
					})
				}
			}
		}
	}
	return out, nil
}

// FakeSubmoduleChecker always reports consistent; a real implementation
// would diff the submodule's recorded gitlink against its own HEAD.
type FakeSubmoduleChecker struct{}

func (c *FakeSubmoduleChecker) CheckSubmodule(ctx context.Context, repoDir, submoduleDir string) (SubmoduleResult, error) {
	return SubmoduleResult{Consistent: true}, nil
}
