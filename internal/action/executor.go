// Package action implements the Action Executor (spec §4.F): applies a
// plan.Plan in a fixed order, retries transient forge/tracker errors with
// bounded exponential backoff, and reports non-transient failures to the
// caller as Failure records. internal/bot logs and counts those records; they
// are not turned into findings for the next cycle.
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nx/robocat/internal/forge"
	"github.com/nx/robocat/internal/gitworkspace"
	"github.com/nx/robocat/internal/plan"
	"github.com/nx/robocat/internal/tracker"
)

// backoff mirrors spec §4.F: the first attempt plus up to 3 retries, waiting
// 1s/4s/16s before them (4 attempts in all).
var backoff = []time.Duration{time.Second, 4 * time.Second, 16 * time.Second}

// Executor applies plans against the forge, tracker and git workspace.
type Executor struct {
	Forge   forge.Client
	Tracker tracker.Client
	Git     *gitworkspace.Workspace
	// Identity is the string every bot-created discussion signs itself with
	// — bot handle, version, and revision, so a human reading the thread can
	// tell which deployed revision posted it.
	Identity string
	// applied records idempotence keys the executor has already issued
	// successfully, suppressing re-issue for the Executor's whole lifetime.
	// Nothing ever clears it; it is not a substitute for the Discussion
	// Ledger, which is the authoritative idempotence source across process
	// restarts.
	applied map[string]bool
}

// Result records what happened to one planned action.
type Result struct {
	Action plan.Action
	Err    error
	Failure *Failure
}

// Failure is a non-transient action failure; it is not retried, and is
// returned in the action's Result for the caller to report.
type Failure struct {
	ActionKey string
	Message   string
}

// kindOrder fixes the execution order: discussions -> assignees -> rebase
// -> pipeline -> merge -> issue transitions -> follow-ups.
var kindOrder = map[plan.ActionKind]int{
	plan.ActionCreateDiscussion:  0,
	plan.ActionResolveDiscussion: 0,
	plan.ActionAddAssignees:      1,
	plan.ActionRebase:            2,
	plan.ActionTriggerPipeline:   3,
	plan.ActionMerge:             4,
	plan.ActionTransitionIssue:   5,
	plan.ActionCommentOnIssue:    5,
	plan.ActionCommentOnMR:       5,
	plan.ActionGenerateFollowUps: 6,
}

// Execute applies every action in p, in the fixed order, returning one
// Result per action attempted. A merge rejected by the forge for "not
// mergeable" aborts the remainder of the plan without error, per spec
// §4.F. Merge is attempted at most once per cycle (there can only be one
// ActionMerge per plan by construction).
func (e *Executor) Execute(ctx context.Context, p plan.Plan) []Result {
	if e.applied == nil {
		e.applied = map[string]bool{}
	}

	ordered := make([]plan.Action, len(p.Actions))
	copy(ordered, p.Actions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return kindOrder[ordered[i].Kind] < kindOrder[ordered[j].Kind]
	})

	var results []Result
	for _, a := range ordered {
		if e.applied[a.Key] {
			continue
		}
		err := e.executeWithRetry(ctx, a)
		res := Result{Action: a, Err: err}
		if err != nil {
			var permanent *forge.PermanentError
			var permanentTracker *tracker.PermanentError
			var conflict *gitworkspace.ConflictError
			if errors.As(err, &permanent) || errors.As(err, &permanentTracker) || errors.As(err, &conflict) {
				res.Failure = &Failure{ActionKey: a.Key, Message: err.Error()}
			} else if a.Kind == plan.ActionMerge {
				slog.Info("action: merge rejected, aborting remainder of plan", "mr", p.MRID, "error", err)
				results = append(results, res)
				return results
			}
		} else {
			e.applied[a.Key] = true
		}
		results = append(results, res)
	}
	return results
}

func (e *Executor) executeWithRetry(ctx context.Context, a plan.Action) error {
	var lastErr error
	for attempt := 0; attempt < len(backoff)+1; attempt++ {
		lastErr = e.dispatch(ctx, a)
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt == len(backoff) {
			break
		}
		slog.Warn("action: transient error, retrying", "key", a.Key, "attempt", attempt, "error", lastErr)
		select {
		case <-time.After(backoff[attempt]):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("exhausted retries for %s: %w", a.Key, lastErr)
}

func isTransient(err error) bool {
	var ft *forge.TransientError
	var tt *tracker.TransientError
	return errors.As(err, &ft) || errors.As(err, &tt)
}

func (e *Executor) dispatch(ctx context.Context, a plan.Action) error {
	switch a.Kind {
	case plan.ActionCreateDiscussion:
		_, err := e.Forge.CreateDiscussion(ctx, a.MRID, discussionBody(a, e.Identity))
		return err
	case plan.ActionResolveDiscussion:
		return e.Forge.ResolveDiscussion(ctx, a.MRID, a.DiscussionID)
	case plan.ActionAddAssignees:
		return e.Forge.AddAssignees(ctx, a.MRID, a.Assignees)
	case plan.ActionRebase:
		if e.Git == nil {
			return nil
		}
		return e.Git.RebaseOnto(ctx, a.SourceBranch, a.TargetBranch)
	case plan.ActionTriggerPipeline:
		return e.Forge.TriggerManualJobs(ctx, a.MRID, ":no-bot-start")
	case plan.ActionMerge:
		return e.Forge.Merge(ctx, a.MRID, a.MergeMessage)
	case plan.ActionTransitionIssue:
		if e.Tracker == nil {
			return nil
		}
		_, err := e.Tracker.TransitionIssueAny(ctx, a.IssueKey, a.ToStatuses...)
		return err
	case plan.ActionCommentOnIssue:
		if e.Tracker == nil {
			return nil
		}
		return e.Tracker.PostComment(ctx, a.IssueKey, a.IssueComment)
	case plan.ActionCommentOnMR:
		return e.Forge.PostNote(ctx, a.MRID, a.MRComment)
	case plan.ActionGenerateFollowUps:
		return nil // dispatched separately by internal/bot after merge succeeds
	default:
		return fmt.Errorf("unknown action kind %v", a.Kind)
	}
}

func discussionBody(a plan.Action, identity string) string {
	return forge.DiscussionBody(a.DiscussionFingerprint, a.DiscussionBody, identity)
}
