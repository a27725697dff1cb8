// Package snapshot holds the immutable value types the rest of the engine
// reasons about, and the Projector that builds them from the forge and
// tracker. The Projector reads no local git state.
package snapshot

import "time"

// Mergeability mirrors the forge's merge-check verdict for an MR.
type Mergeability string

const (
	MergeableUnknown   Mergeability = "unknown"
	MergeableOK        Mergeability = "mergeable"
	MergeableConflicts Mergeability = "conflicts"
)

// PipelineStatus mirrors the forge's pipeline/CI state for the MR's HEAD.
type PipelineStatus string

const (
	PipelineNone          PipelineStatus = "none"
	PipelineRunning       PipelineStatus = "running"
	PipelineSuccess       PipelineStatus = "success"
	PipelineFailed        PipelineStatus = "failed"
	PipelineCanceled      PipelineStatus = "canceled"
	PipelineManualPending PipelineStatus = "manual-pending"
)

// FollowUpMode records whether a follow-up MR (to be) generated from this MR
// should be opened as a draft.
type FollowUpMode string

const (
	FollowUpNormal FollowUpMode = "normal"
	FollowUpDraft  FollowUpMode = "draft"
)

// Commit is one commit reachable from the MR's HEAD.
type Commit struct {
	SHA         string
	Message     string
	ParentSHAs  []string
}

// Pipeline is the current pipeline/CI run associated with the MR's HEAD.
type Pipeline struct {
	ID     string
	Status PipelineStatus
	// ManualJobs are job names currently waiting for a manual trigger.
	ManualJobs []string
	// AutorunStageJobs are job names that belong to the repo's configured
	// autorun stage and are therefore treated as already running.
	AutorunStageJobs []string
}

// Approval is one recorded approval on the MR.
type Approval struct {
	Approver string
}

// MRSnapshot is the immutable, per-cycle authoritative view of one merge
// request, built by the Projector from forge + tracker + git state.
type MRSnapshot struct {
	ID             int
	Title          string
	Description    string
	SourceBranch   string
	TargetBranch   string
	Author         string
	Squash         bool
	Draft          bool
	Approvals      []Approval
	Assignees      []string
	Mergeability   Mergeability
	Pipeline       Pipeline
	Commits        []Commit
	ChangedFiles   []ChangedFile
	ReferencedIssues []string // issue keys extracted from title/description/commits
	IsFollowUp     bool
	IsMerged       bool
	MergedAt       time.Time
	MergeCommitSHA string
}

// ChangedFile is one file touched by the MR diff.
type ChangedFile struct {
	Path    string
	Deleted bool
	Patch   string // unified diff hunk text, "" if not fetched
}

// ApproverSet returns the set of approvers who have approved this MR.
func (s MRSnapshot) ApproverSet() map[string]bool {
	out := make(map[string]bool, len(s.Approvals))
	for _, a := range s.Approvals {
		out[a.Approver] = true
	}
	return out
}

// IssueSnapshot is the tracker-side state of one referenced issue.
type IssueSnapshot struct {
	Key       string
	Project   string
	Status    string
	// FixVersions maps an ordered version label to the branch it targets.
	// Order is preserved because fixVersion sanity rules must inspect it in
	// declaration order.
	FixVersions []FixVersion
	Assignee    string
	Supported   bool // project is in the configured supported-project set
}

// FixVersion pairs a tracker version label with the branch it maps to in
// configuration. Branch is empty when the label has no configured mapping.
type FixVersion struct {
	Label  string
	Branch string
}

// Branches returns the non-empty target branches named by this issue's
// fixVersions, in declaration order, without duplicates.
func (i IssueSnapshot) Branches() []string {
	seen := make(map[string]bool, len(i.FixVersions))
	out := make([]string, 0, len(i.FixVersions))
	for _, fv := range i.FixVersions {
		if fv.Branch == "" || seen[fv.Branch] {
			continue
		}
		seen[fv.Branch] = true
		out = append(out, fv.Branch)
	}
	return out
}
