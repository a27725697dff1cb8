// Package forge is the consumed contract for the GitLab-class code-forge:
// list/get MR, list commits, list notes, post note, create/resolve
// discussion, list/add assignees, list approvals, get pipeline, trigger
// manual jobs, list target-branch head sha, merge, create MR, force-push.
//
// The forge's native vocabulary in this deployment is GitHub's PR/issue-
// comment/check-run API (the retrieval pack carries no GitLab SDK), so the
// MR/discussion/pipeline vocabulary below is implemented in github_client.go on top
// of google/go-github. Code above this package never imports go-github
// directly.
package forge

import (
	"context"
	"time"

	"github.com/nx/robocat/internal/snapshot"
)

// FollowUpMarkerReaction is the reaction content internal/followup leaves
// on every follow-up MR it creates, and the second signal
// snapshot.Projector checks (alongside the "(cherry-picked from commit"
// marker phrase) when deriving MRSnapshot.IsFollowUp — GitHub's reaction
// vocabulary standing in for the original's
// AwardEmojiManager.FOLLOWUP_MERGE_REQUEST_EMOJI ("fast_forward"), which has
// no GitHub reaction equivalent; "rocket" is the closest "this shipped
// somewhere else first" signal in GitHub's fixed reaction set.
const FollowUpMarkerReaction = "rocket"

// Note is a single comment on an MR, in receipt order.
type Note struct {
	ID        int64
	Author    string
	Body      string
	CreatedAt time.Time
}

// Discussion is a resolvable comment thread. ID is the forge's native
// identifier for the thread-opening comment.
type Discussion struct {
	ID       string
	Body     string
	Resolved bool
}

// MR is the forge-native merge request shape the Projector pulls from.
type MR struct {
	ID           int
	Title        string
	Description  string
	SourceBranch string
	TargetBranch string
	Author       string
	Draft        bool
	Mergeable    snapshot.Mergeability
	Assignees    []string
	Approvals    []string
	Commits      []snapshot.Commit
	ChangedFiles []snapshot.ChangedFile
	Pipeline     snapshot.Pipeline
	Merged       bool
	MergedAt     time.Time
	MergeSHA     string
}

// Client is the forge contract consumed by the rest of the engine. All
// methods accept a context and return a wrapped error on failure; the
// Projector distinguishes transient-transport from permanent-rejection
// errors via errors.As against TransientError / PermanentError below.
type Client interface {
	GetMR(ctx context.Context, id int) (*MR, error)
	ListNotes(ctx context.Context, mrID int) ([]Note, error)
	PostNote(ctx context.Context, mrID int, body string) error

	CreateDiscussion(ctx context.Context, mrID int, body string) (Discussion, error)
	ResolveDiscussion(ctx context.Context, mrID int, discussionID string) error
	ListDiscussions(ctx context.Context, mrID int) ([]Discussion, error)

	AddAssignees(ctx context.Context, mrID int, logins []string) error

	TriggerManualJobs(ctx context.Context, mrID int, excludeSuffix string) error

	BranchHeadSHA(ctx context.Context, branch string) (string, error)

	Merge(ctx context.Context, mrID int, message string) error

	CreateMR(ctx context.Context, title, body, sourceBranch, targetBranch string, draft bool) (int, error)

	ForcePush(ctx context.Context, localRef, remoteBranch string) error

	// AddReaction marks the MR itself with the given emoji content (GitHub's
	// substitute for GitLab's award emoji), idempotently: adding a reaction
	// already present is a no-op on the forge side.
	AddReaction(ctx context.Context, mrID int, content string) error

	// HasReaction reports whether the bot itself has already reacted to the
	// MR with the given content, the read-side counterpart of AddReaction —
	// GitHub's substitute for GitLab's award_emoji.find(name, own=True).
	HasReaction(ctx context.Context, mrID int, content string) (bool, error)
}

// TransientError marks a forge call as retryable (rate limit, 5xx, network).
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a forge call as a non-retryable 4xx rejection (other
// than 404, which callers treat as "not found" rather than an error).
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }
