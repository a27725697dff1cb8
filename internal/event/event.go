// Package event normalizes incoming forge/tracker signals into a uniform
// Event and deduplicates near-duplicate deliveries, per spec §4.A.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// Kind is the normalized event kind the rest of the engine dispatches on.
type Kind string

const (
	KindMRUpdated           Kind = "mr_updated"
	KindMRNoteAdded         Kind = "mr_note_added"
	KindPipelineStateChanged Kind = "pipeline_state_changed"
	KindCommandInvoked      Kind = "command_invoked"
	KindTimerTick           Kind = "timer_tick"
)

// Event is the normalized unit component B dispatches on.
type Event struct {
	MRID       int
	Kind       Kind
	Payload    any
	ReceivedAt int64 // monotonic sequence number, not wall time
}

// payloadHash returns a stable hash of the event's payload for dedup
// keying. Non-deterministic map key order in Payload is tolerated because
// json.Marshal sorts map keys.
func payloadHash(payload any) string {
	b, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// dedupKey identifies a logical event for suppression purposes.
type dedupKey struct {
	mrID    int
	kind    Kind
	payload string
}

// Ingress assigns monotonic sequence numbers and suppresses duplicate
// deliveries of the same (mr_id, kind, payload) within a TTL window.
type Ingress struct {
	mu      sync.Mutex
	seq     int64
	ttl     time.Duration
	seen    map[dedupKey]time.Time
	nowFunc func() time.Time
}

// NewIngress builds an Ingress with the given dedup TTL (spec requires
// T >= 30s).
func NewIngress(ttl time.Duration) *Ingress {
	if ttl < 30*time.Second {
		ttl = 30 * time.Second
	}
	return &Ingress{
		ttl:     ttl,
		seen:    make(map[dedupKey]time.Time),
		nowFunc: time.Now,
	}
}

// Normalize assigns a sequence number and reports whether the event is a
// duplicate that should be dropped. Callers only enqueue the event to the
// actor registry when ok is true.
func (in *Ingress) Normalize(mrID int, kind Kind, payload any) (ev Event, ok bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	now := in.nowFunc()
	in.sweep(now)

	key := dedupKey{mrID: mrID, kind: kind, payload: payloadHash(payload)}
	if firstSeen, dup := in.seen[key]; dup && now.Sub(firstSeen) < in.ttl {
		return Event{}, false
	}
	in.seen[key] = now

	in.seq++
	return Event{
		MRID:       mrID,
		Kind:       kind,
		Payload:    payload,
		ReceivedAt: in.seq,
	}, true
}

// sweep lazily evicts expired dedup entries; called with the lock held.
func (in *Ingress) sweep(now time.Time) {
	for k, t := range in.seen {
		if now.Sub(t) >= in.ttl {
			delete(in.seen, k)
		}
	}
}
