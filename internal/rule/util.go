package rule

import (
	"path/filepath"
	"regexp"
)

func filepathMatch(pattern, path string) (bool, error) {
	return filepath.Match(pattern, path)
}

// titleMatchesAny reports whether title matches any of the configured
// excluded_issue_title_patterns regexps, grounded on workflow_check_rule.py's
// re.match usage over the same config key. An invalid pattern never matches
// rather than erroring, since this runs on every cycle and a typo'd regex
// should not crash rule evaluation.
func titleMatchesAny(patterns []string, title string) bool {
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		if re.MatchString(title) {
			return true
		}
	}
	return false
}
