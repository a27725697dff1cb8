// Package tracker is the consumed contract for the Jira-class issue
// tracker: get issue, transition issue, post comment. No ecosystem Jira
// client appears anywhere in the retrieval pack, so Client is a small
// net/http-based REST client built in the same shape internal/forge and the
// teacher's internal/github client use theirs: one struct, one constructor,
// one method per operation, every error wrapped with %w.
package tracker

import "context"

// Issue is the tracker-native shape the Projector maps into
// snapshot.IssueSnapshot.
type Issue struct {
	Key         string
	Project     string
	Status      string
	FixVersions []string
	Assignee    string
}

// Client is the tracker contract consumed by the rest of the engine.
type Client interface {
	GetIssue(ctx context.Context, key string) (*Issue, error)
	TransitionIssue(ctx context.Context, key, toStatus string) error
	// TransitionIssueAny tries each status in toStatuses in turn, skipping
	// (rather than erroring on) any the tracker's current workflow has no
	// transition for, and returns the first one it successfully transitions
	// to. Grounded on jira.py's try_finalize()/_set_status(..., no_throw=True)
	// fallback chain (Waiting for QA, then Closed, when the former is absent
	// from the configured workflow).
	TransitionIssueAny(ctx context.Context, key string, toStatuses ...string) (string, error)
	PostComment(ctx context.Context, key, body string) error
}

// TransientError marks a tracker call as retryable.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a tracker call as a non-retryable rejection, e.g.
// insufficient permission to transition an issue into the requested status.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// NotFoundError marks a tracker call whose target issue does not exist.
type NotFoundError struct{ Key string }

func (e *NotFoundError) Error() string { return "issue not found: " + e.Key }
