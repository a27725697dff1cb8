package snapshot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/nx/robocat/internal/forge"
	"github.com/nx/robocat/internal/tracker"
)

// issueKeyPattern recognizes e.g. "PROJ-123" in free text.
var issueKeyPattern = regexp.MustCompile(`\b([A-Z][A-Z0-9]+)-(\d+)\b`)

const (
	followUpMarkerPrefix = "(cherry-picked from commit"
)

// ProjectorConfig carries the slice of engine configuration the Projector
// needs, kept separate from internal/rule's Config so this package doesn't
// depend on internal/rule.
type ProjectorConfig struct {
	SupportedProjects map[string]bool
	// VersionBranches maps a tracker fixVersion label to the branch it
	// releases from.
	VersionBranches map[string]string
	// DefaultSquash is the repo-wide squash policy: GitHub's PR object
	// carries no per-MR "squash" flag the way the GitLab-class forge this
	// engine was designed for does, so the Projector applies one configured
	// policy to every MR rather than reading it per-MR.
	DefaultSquash bool
}

// Projector builds an MRSnapshot and its referenced IssueSnapshots fresh
// from the forge and tracker on every call — snapshots are not cached
// across events, but sub-queries within one call are memoized (spec §4.C),
// since the same issue key can appear in the title, description and every
// commit message.
type Projector struct {
	Forge   forge.Client
	Tracker tracker.Client
	Config  ProjectorConfig
}

// EscalationFinding is returned by Project when the tracker or forge
// rejects a call with a permanent (non-404) error, which spec §4.C requires
// to surface as a block-severity finding rather than abort the cycle.
type EscalationFinding struct {
	Message string
}

func (e *EscalationFinding) Error() string { return e.Message }

// Project builds the MRSnapshot for mrID and the IssueSnapshot for every
// issue it references. A transient transport error is returned wrapped with
// %w (errors.As still finds the TransientError); a permanent 4xx is wrapped
// in *EscalationFinding.
func (p *Projector) Project(ctx context.Context, mrID int) (MRSnapshot, map[string]IssueSnapshot, error) {
	mr, err := p.Forge.GetMR(ctx, mrID)
	if err != nil {
		return MRSnapshot{}, nil, classifyForgeErr(err, "fetch MR")
	}

	snap := fromForgeMR(*mr, p.Config.DefaultSquash)
	snap.ReferencedIssues = extractIssueKeys(snap.Title + "\n" + snap.Description + "\n" + allCommitMessages(snap.Commits))

	hasMarker := strings.Contains(snap.Description, followUpMarkerPrefix)
	hasReaction, err := p.Forge.HasReaction(ctx, mrID, forge.FollowUpMarkerReaction)
	if err != nil {
		return MRSnapshot{}, nil, classifyForgeErr(err, "check follow-up reaction")
	}
	snap.IsFollowUp = hasMarker || hasReaction

	issues, err := p.projectIssues(ctx, snap.ReferencedIssues)
	if err != nil {
		return MRSnapshot{}, nil, err
	}

	return snap, issues, nil
}

// projectIssues fetches each distinct referenced issue once, memoized
// within this call by the issueKeys slice already being deduplicated by
// extractIssueKeys.
func (p *Projector) projectIssues(ctx context.Context, keys []string) (map[string]IssueSnapshot, error) {
	out := make(map[string]IssueSnapshot, len(keys))
	for _, key := range keys {
		if _, ok := out[key]; ok {
			continue
		}
		issue, err := p.Tracker.GetIssue(ctx, key)
		if err != nil {
			var notFound *tracker.NotFoundError
			if isNotFound(err, &notFound) {
				continue
			}
			return nil, classifyTrackerErr(err, fmt.Sprintf("fetch issue %s", key))
		}
		out[key] = p.toIssueSnapshot(*issue)
	}
	return out, nil
}

func (p *Projector) toIssueSnapshot(issue tracker.Issue) IssueSnapshot {
	fixVersions := make([]FixVersion, len(issue.FixVersions))
	for i, label := range issue.FixVersions {
		fixVersions[i] = FixVersion{Label: label, Branch: p.Config.VersionBranches[label]}
	}
	return IssueSnapshot{
		Key:         issue.Key,
		Project:     issue.Project,
		Status:      issue.Status,
		FixVersions: fixVersions,
		Assignee:    issue.Assignee,
		Supported:   p.Config.SupportedProjects[issue.Project],
	}
}

func fromForgeMR(mr forge.MR, defaultSquash bool) MRSnapshot {
	approvals := make([]Approval, len(mr.Approvals))
	for i, a := range mr.Approvals {
		approvals[i] = Approval{Approver: a}
	}
	return MRSnapshot{
		ID:             mr.ID,
		Title:          mr.Title,
		Description:    mr.Description,
		SourceBranch:   mr.SourceBranch,
		TargetBranch:   mr.TargetBranch,
		Author:         mr.Author,
		Squash:         defaultSquash,
		Draft:          mr.Draft,
		Approvals:      approvals,
		Assignees:      mr.Assignees,
		Mergeability:   mr.Mergeable,
		Pipeline:       mr.Pipeline,
		Commits:        mr.Commits,
		ChangedFiles:   mr.ChangedFiles,
		IsMerged:       mr.Merged,
		MergedAt:       mr.MergedAt,
		MergeCommitSHA: mr.MergeSHA,
	}
}

func allCommitMessages(commits []Commit) string {
	var b strings.Builder
	for _, c := range commits {
		b.WriteString(c.Message)
		b.WriteByte('\n')
	}
	return b.String()
}

// extractIssueKeys returns every distinct issue key mentioned in text, in
// first-appearance order.
func extractIssueKeys(text string) []string {
	matches := issueKeyPattern.FindAllString(text, -1)
	seen := make(map[string]bool, len(matches))
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

func isNotFound(err error, target **tracker.NotFoundError) bool {
	return errors.As(err, target)
}

func classifyForgeErr(err error, op string) error {
	var permanent *forge.PermanentError
	if errors.As(err, &permanent) {
		return &EscalationFinding{Message: fmt.Sprintf("%s: %s", op, err.Error())}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func classifyTrackerErr(err error, op string) error {
	var permanent *tracker.PermanentError
	if errors.As(err, &permanent) {
		return &EscalationFinding{Message: fmt.Sprintf("%s: %s", op, err.Error())}
	}
	return fmt.Errorf("%s: %w", op, err)
}
