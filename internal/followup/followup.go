// Package followup implements the Follow-up Generator (spec §4.H): once a
// merge request merges, it computes the release branches named by the
// issues it closes and opens one cherry-pick MR per branch.
package followup

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/nx/robocat/internal/forge"
	"github.com/nx/robocat/internal/gitworkspace"
	"github.com/nx/robocat/internal/snapshot"
)

// Emoji content marking a follow-up's outcome on the original MR, grounded
// on the original bot's AwardEmojiManager constants (GitHub reaction
// vocabulary standing in for GitLab award emoji).
const (
	emojiFollowUpCreated = "+1" // arrow_heading_down has no GitHub reaction equivalent; thumbs-up is the closest "done" signal
	emojiFollowUpFailed  = "-1"
)

// Generator creates follow-up MRs from a freshly-merged snapshot.
type Generator struct {
	Forge forge.Client
	Git   *gitworkspace.Workspace
	// Identity is the bot login assigned to every follow-up MR alongside the
	// original MR's author.
	Identity string
	// ExcludedTitlePatterns skips follow-up generation entirely for MRs whose
	// title matches one of these regexps (follow_up_rule.py's
	// excluded_issue_title_patterns check) — maintenance MRs that are never
	// expected to need a cherry-pick.
	ExcludedTitlePatterns []string
}

func titleExcluded(patterns []string, title string) bool {
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

// Result records the outcome of one target branch's follow-up attempt.
type Result struct {
	Branch       string
	TopicBranch  string
	MRID         int
	SkippedSHAs  []string
	Err          error
}

// targetBranches is the union, over referenced issues, of the branches
// their fixVersions name, excluding the branch the MR was just merged into.
func targetBranches(mr snapshot.MRSnapshot, issues map[string]snapshot.IssueSnapshot) []string {
	seen := map[string]bool{mr.TargetBranch: true}
	var out []string
	for _, key := range mr.ReferencedIssues {
		issue, ok := issues[key]
		if !ok {
			continue
		}
		for _, b := range issue.Branches() {
			if seen[b] {
				continue
			}
			seen[b] = true
			out = append(out, b)
		}
	}
	return out
}

// shasToCherryPick returns the squash commit alone when the MR was squashed,
// or every commit's SHA in order otherwise, per spec §4.H step 3.
func shasToCherryPick(mr snapshot.MRSnapshot) []string {
	if mr.Squash {
		if mr.MergeCommitSHA != "" {
			return []string{mr.MergeCommitSHA}
		}
		return nil
	}
	shas := make([]string, len(mr.Commits))
	for i, c := range mr.Commits {
		shas[i] = c.SHA
	}
	return shas
}

// Generate runs the full procedure for every target branch and returns one
// Result per branch. A failure on one branch does not prevent the others
// from being attempted.
func (g *Generator) Generate(ctx context.Context, mr snapshot.MRSnapshot, issues map[string]snapshot.IssueSnapshot, mode snapshot.FollowUpMode) []Result {
	if titleExcluded(g.ExcludedTitlePatterns, mr.Title) {
		slog.Info("followup: skipping, title matched an excluded pattern", "mr", mr.ID, "title", mr.Title)
		return nil
	}

	branches := targetBranches(mr, issues)
	if len(branches) == 0 {
		return nil
	}

	var results []Result
	for _, branch := range branches {
		res := g.generateOne(ctx, mr, branch, mode)
		results = append(results, res)
		if res.Err != nil {
			slog.Warn("followup: failed to create follow-up MR", "mr", mr.ID, "branch", branch, "error", res.Err)
			_ = g.Forge.AddReaction(ctx, mr.ID, emojiFollowUpFailed)
			continue
		}
		_ = g.Forge.AddReaction(ctx, mr.ID, emojiFollowUpCreated)
	}
	return results
}

func (g *Generator) generateOne(ctx context.Context, mr snapshot.MRSnapshot, branch string, mode snapshot.FollowUpMode) Result {
	topic := fmt.Sprintf("%s-followup-%s", mr.SourceBranch, branch)
	res := Result{Branch: branch, TopicBranch: topic}

	if err := g.Git.CreateBranch(ctx, topic, branch); err != nil {
		res.Err = fmt.Errorf("create follow-up branch %s: %w", topic, err)
		return res
	}

	shas := shasToCherryPick(mr)
	pick, err := g.Git.CherryPickOnto(ctx, topic, shas)
	if err != nil {
		res.Err = fmt.Errorf("cherry-pick onto %s: %w", topic, err)
		return res
	}
	res.SkippedSHAs = pick.Skipped

	if err := g.Git.PushNewBranch(ctx, topic); err != nil {
		res.Err = fmt.Errorf("push follow-up branch %s: %w", topic, err)
		return res
	}

	marker := mr.MergeCommitSHA
	if marker == "" && len(shas) > 0 {
		marker = shas[0]
	}
	title := fmt.Sprintf("%s (follow-up to %s)", mr.Title, branch)
	body := fmt.Sprintf("(cherry-picked from commit %s)\n\nFollow-up of #%d onto `%s`.", marker, mr.ID, branch)
	if len(pick.Skipped) > 0 {
		body += fmt.Sprintf("\n\nThe following commits could not be cherry-picked automatically and need manual resolution: %s",
			strings.Join(pick.Skipped, ", "))
	}

	draft := mode == snapshot.FollowUpDraft
	mrID, err := g.Forge.CreateMR(ctx, title, body, topic, branch, draft)
	if err != nil {
		res.Err = fmt.Errorf("create follow-up MR onto %s: %w", branch, err)
		return res
	}
	res.MRID = mrID
	_ = g.Forge.AddReaction(ctx, mrID, forge.FollowUpMarkerReaction)

	assignees := []string{g.Identity, mr.Author}
	if err := g.Forge.AddAssignees(ctx, mrID, assignees); err != nil {
		slog.Warn("followup: failed to set assignees", "mr", mrID, "error", err)
	}

	return res
}
