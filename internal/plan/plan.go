// Package plan implements the Action Planner (spec §4.E): it diffs
// desired-vs-observed state (findings + current MR state) into a minimal
// ordered set of external actions, each carrying an idempotence key.
package plan

import (
	"fmt"

	"github.com/nx/robocat/internal/finding"
	"github.com/nx/robocat/internal/ledger"
	"github.com/nx/robocat/internal/snapshot"
)

// ActionKind discriminates the side effect an Action represents. Order
// here also documents the Executor's fixed execution order (spec §4.F):
// discussions -> assignees -> rebase -> pipeline -> merge -> issue
// transitions -> follow-ups.
type ActionKind int

const (
	ActionCreateDiscussion ActionKind = iota
	ActionResolveDiscussion
	ActionAddAssignees
	ActionRebase
	ActionTriggerPipeline
	ActionMerge
	ActionTransitionIssue
	ActionCommentOnIssue
	ActionCommentOnMR
	ActionGenerateFollowUps
)

// Action is one planned side effect. Key is the idempotence key derived
// from (mr_id, action-kind, content fingerprint); the Executor skips a key
// it has already applied successfully. Discussions are also deduplicated
// against the forge through the Discussion Ledger.
type Action struct {
	Kind ActionKind
	Key  string
	MRID int

	// DiscussionFingerprint / DiscussionBody apply to
	// ActionCreateDiscussion / ActionResolveDiscussion.
	DiscussionFingerprint string
	DiscussionBody        string
	DiscussionID          string // set for ActionResolveDiscussion

	// Assignees applies to ActionAddAssignees.
	Assignees []string

	// IssueKey / ToStatuses / IssueComment apply to issue-directed actions.
	// ToStatuses is tried in order (spec §4.E point 6's "Waiting for QA,
	// fallback Closed" chain) — the Executor/tracker client skips any status
	// the issue's workflow has no transition for rather than failing on it.
	IssueKey     string
	ToStatuses   []string
	IssueComment string

	// MRComment applies to ActionCommentOnMR.
	MRComment string

	// MergeMessage applies to ActionMerge.
	MergeMessage string

	// TriggerCause records why a pipeline trigger was planned, for the
	// actor state's "last pipeline trigger cause" bookkeeping.
	TriggerCause string

	// SourceBranch / TargetBranch apply to ActionRebase.
	SourceBranch string
	TargetBranch string
}

// Plan is the ordered set of actions for one cycle.
type Plan struct {
	MRID    int
	Actions []Action
}

// Input bundles everything the Planner needs besides the rule findings.
type Input struct {
	MR                snapshot.MRSnapshot
	Issues            map[string]snapshot.IssueSnapshot
	Findings          []finding.Finding
	Ledger            *ledger.Ledger
	BotIdentity        string
	RunPipelineCommand bool // explicit run-pipeline command on this cycle
	DiffChangedSinceLastPipeline bool
	ApprovalsSufficient bool
}

// Plan computes the action set for one cycle, per spec §4.E's seven rules.
func Plan(in Input) Plan {
	p := Plan{MRID: in.MR.ID}

	p.Actions = append(p.Actions, planDiscussions(in)...)
	p.Actions = append(p.Actions, planAssignees(in)...)

	triggerPipeline, cause := shouldTriggerPipeline(in)
	if triggerPipeline {
		p.Actions = append(p.Actions, Action{
			Kind:         ActionRebase,
			Key:          fmt.Sprintf("%d:rebase:%s", in.MR.ID, in.MR.TargetBranch),
			SourceBranch: in.MR.SourceBranch,
			TargetBranch: in.MR.TargetBranch,
		})
		p.Actions = append(p.Actions, Action{
			Kind:         ActionTriggerPipeline,
			Key:          fmt.Sprintf("%d:pipeline:%s", in.MR.ID, cause),
			TriggerCause: cause,
		})
	}

	if mergeReady(in.Findings) {
		message := in.MR.Title
		if in.MR.Squash {
			message = in.MR.Title + "\n\n" + in.MR.Description
		}
		p.Actions = append(p.Actions, Action{
			Kind:         ActionMerge,
			Key:          fmt.Sprintf("%d:merge:%s", in.MR.ID, headSHA(in.MR)),
			MergeMessage: message,
		})
	}

	p.Actions = append(p.Actions, planIssueTransitions(in)...)

	if in.MR.IsMerged && !in.MR.IsFollowUp {
		p.Actions = append(p.Actions, Action{
			Kind: ActionGenerateFollowUps,
			Key:  fmt.Sprintf("%d:followups:%s", in.MR.ID, in.MR.MergeCommitSHA),
		})
	}

	for i := range p.Actions {
		p.Actions[i].MRID = in.MR.ID
	}
	return p
}

func headSHA(mr snapshot.MRSnapshot) string {
	if len(mr.Commits) == 0 {
		return ""
	}
	return mr.Commits[len(mr.Commits)-1].SHA
}

// planDiscussions implements rule 1: for each finding with severity >=
// warn, create a discussion if none open with a matching fingerprint;
// resolve bot-owned discussions whose fingerprint disappeared from the
// current finding set, but only when the category is self-healing.
// Compliance findings are never auto-resolved.
func planDiscussions(in Input) []Action {
	var actions []Action
	current := map[string]bool{}

	for _, f := range in.Findings {
		if !f.Severity.AtLeast(finding.Warn) {
			continue
		}
		fp := f.Fingerprint()
		current[fp] = true

		if in.Ledger != nil {
			if entry, ok := in.Ledger.Lookup(fp); ok && !entry.Resolved {
				continue // already open, no-op
			}
		}
		actions = append(actions, Action{
			Kind:                  ActionCreateDiscussion,
			Key:                   fmt.Sprintf("%d:discussion:%s", in.MR.ID, fp),
			DiscussionFingerprint: fp,
			DiscussionBody:        f.Message,
		})
	}

	if in.Ledger != nil {
		for _, fp := range in.Ledger.OpenFingerprints() {
			if current[fp] {
				continue
			}
			category := categoryFromFingerprint(fp)
			if !finding.SelfHealingCategory(category) {
				continue
			}
			entry, _ := in.Ledger.Lookup(fp)
			actions = append(actions, Action{
				Kind:         ActionResolveDiscussion,
				Key:          fmt.Sprintf("%d:resolve:%s", in.MR.ID, fp),
				DiscussionID: entry.DiscussionID,
			})
		}
	}
	return actions
}

func categoryFromFingerprint(fp string) finding.Category {
	for i := 0; i < len(fp); i++ {
		if fp[i] == ':' {
			return finding.Category(fp[:i])
		}
	}
	return finding.Category(fp)
}

// planAssignees implements rule 2: union the required-approver sets from
// compliance findings, plan "add assignee" for any missing. Never removes
// human assignees (Open Question: never-remove is the safe default).
func planAssignees(in Input) []Action {
	existing := map[string]bool{}
	for _, a := range in.MR.Assignees {
		existing[a] = true
	}

	required := map[string]bool{}
	var ordered []string
	for _, f := range in.Findings {
		for _, a := range f.RequiredApprovers {
			if !required[a] {
				required[a] = true
				ordered = append(ordered, a)
			}
		}
	}

	var missing []string
	for _, a := range ordered {
		if !existing[a] {
			missing = append(missing, a)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return []Action{{
		Kind:      ActionAddAssignees,
		Key:       fmt.Sprintf("%d:assignees:%v", in.MR.ID, missing),
		Assignees: missing,
	}}
}

// shouldTriggerPipeline implements rule 3: trigger iff (first run, no
// pipeline exists), (explicit run-pipeline command), or (new
// commits/rebase affect the diff AND not draft AND approvals sufficient
// AND mergeable).
func shouldTriggerPipeline(in Input) (bool, string) {
	if in.MR.Pipeline.Status == snapshot.PipelineNone {
		return true, "first-run"
	}
	if in.RunPipelineCommand {
		return true, "command"
	}
	if in.DiffChangedSinceLastPipeline &&
		!in.MR.Draft &&
		in.ApprovalsSufficient &&
		in.MR.Mergeability == snapshot.MergeableOK {
		return true, "diff-changed"
	}
	return false, ""
}

// mergeReady implements rule 5: merge iff merge-readiness found pass.
func mergeReady(findings []finding.Finding) bool {
	for _, f := range findings {
		if f.Category == finding.CategoryMergeReadiness {
			return f.Severity == finding.Pass
		}
	}
	return false
}

// planIssueTransitions implements rule 6: post-merge issue transitions.
func planIssueTransitions(in Input) []Action {
	if !in.MR.IsMerged {
		return nil
	}
	var actions []Action
	for _, key := range in.MR.ReferencedIssues {
		issue, ok := in.Issues[key]
		if !ok || !issue.Supported {
			continue
		}
		switch issue.Status {
		case "In Review":
			// Waiting for QA is the primary target; Closed is the fallback
			// when the configured tracker workflow has no such status
			// (spec §4.E point 6), mirroring try_finalize()'s no_throw chain.
			actions = append(actions, Action{
				Kind:       ActionTransitionIssue,
				Key:        fmt.Sprintf("%d:transition:%s:waiting-for-qa", in.MR.ID, key),
				IssueKey:   key,
				ToStatuses: []string{"Waiting for QA", "Closed"},
			})
			actions = append(actions, Action{
				Kind:         ActionCommentOnIssue,
				Key:          fmt.Sprintf("%d:comment:%s:merged", in.MR.ID, key),
				IssueKey:     key,
				IssueComment: fmt.Sprintf("merged into %s", in.MR.TargetBranch),
			})
		case "In Progress":
			actions = append(actions, Action{
				Kind:         ActionCommentOnMR,
				Key:          fmt.Sprintf("%d:comment:mr:%s:in-progress", in.MR.ID, key),
				MRComment:    fmt.Sprintf("issue %s is still In Progress", key),
			})
		default:
			actions = append(actions, Action{
				Kind:         ActionCommentOnIssue,
				Key:          fmt.Sprintf("%d:comment:%s:unexpected-status", in.MR.ID, key),
				IssueKey:     key,
				IssueComment: fmt.Sprintf("MR merged but issue is in unexpected status %q", issue.Status),
			})
		}
	}
	return actions
}
