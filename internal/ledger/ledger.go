// Package ledger provides the Discussion Ledger view described in spec §3:
// a mapping fingerprint -> {discussion_id, resolved_flag}, derived fresh
// from forge state each cycle (never persisted independently). The engine
// owns discussions whose fingerprint it minted, never resolves discussions
// it did not create, and treats creating a discussion with an
// already-open fingerprint as a no-op.
package ledger

import (
	"context"
	"strings"

	"github.com/nx/robocat/internal/forge"
)

// Entry is the ledger's view of one bot-owned discussion.
type Entry struct {
	DiscussionID string
	Resolved     bool
}

// Ledger is the per-cycle, read-derived discussion index for one MR.
type Ledger struct {
	byFingerprint map[string]Entry
}

// Build queries the forge for this MR's discussions and indexes the
// bot-owned ones by fingerprint. GitHubClient.ListDiscussions already
// filters to comments carrying the bot's fingerprint marker, so every
// entry here is bot-owned by construction.
func Build(ctx context.Context, client forge.Client, mrID int) (*Ledger, error) {
	discussions, err := client.ListDiscussions(ctx, mrID)
	if err != nil {
		return nil, err
	}
	l := &Ledger{byFingerprint: map[string]Entry{}}
	for _, d := range discussions {
		fp := fingerprintFromBody(d.Body)
		if fp == "" {
			continue
		}
		l.byFingerprint[fp] = Entry{DiscussionID: d.ID, Resolved: d.Resolved}
	}
	return l, nil
}

const markerPrefix = "<!-- robocat:discussion:"

func fingerprintFromBody(body string) string {
	idx := strings.Index(body, markerPrefix)
	if idx < 0 {
		return ""
	}
	rest := body[idx+len(markerPrefix):]
	end := strings.Index(rest, " -->")
	if end < 0 {
		return ""
	}
	return rest[:end]
}

// Lookup returns the entry for fingerprint and whether it exists.
func (l *Ledger) Lookup(fingerprint string) (Entry, bool) {
	e, ok := l.byFingerprint[fingerprint]
	return e, ok
}

// OpenFingerprints returns every fingerprint with an unresolved bot-owned
// discussion.
func (l *Ledger) OpenFingerprints() []string {
	var out []string
	for fp, e := range l.byFingerprint {
		if !e.Resolved {
			out = append(out, fp)
		}
	}
	return out
}
