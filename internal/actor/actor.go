// Package actor maintains one logical actor per MR, serializing events for
// that MR while bounding parallelism across MRs, per spec §4.B/§5.
package actor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nx/robocat/internal/snapshot"
)

// OutcomeKind discriminates the explicit CycleOutcome result variant
// (Design Notes §9): no exception-based control flow for "skip this
// cycle".
type OutcomeKind int

const (
	Completed OutcomeKind = iota
	Deferred
	Failed
)

// CycleOutcome is the result of one actor processing pass.
type CycleOutcome struct {
	Kind   OutcomeKind
	Reason string // set when Kind == Deferred
	Err    error  // set when Kind == Failed
}

func CompletedOutcome() CycleOutcome            { return CycleOutcome{Kind: Completed} }
func DeferredOutcome(reason string) CycleOutcome { return CycleOutcome{Kind: Deferred, Reason: reason} }
func FailedOutcome(err error) CycleOutcome       { return CycleOutcome{Kind: Failed, Err: err} }

// State is the in-memory per-MR actor state described in spec §3. It is
// exclusively mutated by the owning actor's run loop.
type State struct {
	MRID              int
	LastSnapshotHash  string
	InFlightActions   map[string]bool
	LastPipelineCause string
	FollowUpMode      snapshot.FollowUpMode
	LastActivity      time.Time
}

// mrActor is the registry's internal bookkeeping for one MR. Only one
// goroutine ever runs a given mrActor's pendingRun at a time; busy plus the
// mutex enforce that.
type mrActor struct {
	mu         sync.Mutex
	busy       bool
	pendingRun func(ctx context.Context) CycleOutcome
	state      *State
}

// Registry maintains the mr_id -> actor mapping and the cross-MR
// parallelism bound.
type Registry struct {
	mu      sync.Mutex
	actors  map[int]*mrActor
	sem     *semaphore.Weighted
	idleTTL time.Duration
}

// NewRegistry builds a Registry that allows at most parallelism MRs to be
// processed concurrently (spec default 2).
func NewRegistry(parallelism int64, idleTTL time.Duration) *Registry {
	if parallelism < 1 {
		parallelism = 2
	}
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	return &Registry{
		actors:  make(map[int]*mrActor),
		sem:     semaphore.NewWeighted(parallelism),
		idleTTL: idleTTL,
	}
}

func (r *Registry) getOrCreate(mrID int) *mrActor {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actors[mrID]
	if !ok {
		a = &mrActor{state: &State{MRID: mrID, InFlightActions: map[string]bool{}, FollowUpMode: snapshot.FollowUpNormal}}
		r.actors[mrID] = a
	}
	return a
}

// Submit dispatches run for mrID. If the actor is idle, run starts
// immediately (subject to the parallelism bound). If the actor is
// currently processing a prior event, run is recorded as the pending
// re-evaluate pass and is coalesced with any other event that arrives
// before the current cycle finishes — only the most recently submitted run
// closure survives, which is correct because each run rebuilds its
// snapshot fresh and therefore subsumes earlier payloads.
func (r *Registry) Submit(ctx context.Context, mrID int, run func(ctx context.Context) CycleOutcome) {
	a := r.getOrCreate(mrID)

	a.mu.Lock()
	if a.busy {
		a.pendingRun = run
		a.mu.Unlock()
		return
	}
	a.busy = true
	a.mu.Unlock()

	go r.runLoop(ctx, mrID, a, run)
}

func (r *Registry) runLoop(ctx context.Context, mrID int, a *mrActor, first func(ctx context.Context) CycleOutcome) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		slog.Error("actor: failed to acquire parallelism slot", "mr", mrID, "error", err)
		a.mu.Lock()
		a.busy = false
		a.mu.Unlock()
		return
	}
	defer r.sem.Release(1)

	current := first
	for {
		outcome := current(ctx)
		a.mu.Lock()
		a.state.LastActivity = time.Now()
		a.mu.Unlock()

		switch outcome.Kind {
		case Failed:
			slog.Error("actor: cycle failed", "mr", mrID, "error", outcome.Err)
		case Deferred:
			slog.Info("actor: cycle deferred", "mr", mrID, "reason", outcome.Reason)
		}

		a.mu.Lock()
		if a.pendingRun != nil {
			current = a.pendingRun
			a.pendingRun = nil
			a.mu.Unlock()
			continue
		}
		a.busy = false
		a.mu.Unlock()
		return
	}
}

// State returns a snapshot of the named actor's bookkeeping state, or nil
// if no actor has been created for that MR yet. Used for /metrics and
// tests; callers must not mutate the returned value.
func (r *Registry) State(mrID int) *State {
	r.mu.Lock()
	a, ok := r.actors[mrID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *a.state
	return &cp
}

// Len reports the number of actors currently tracked (for metrics).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}

// EvictIdle drops actors whose last activity is older than the registry's
// idle TTL. State loss is tolerated by design: a future event or timer
// tick reconstructs everything from forge+tracker+git.
func (r *Registry) EvictIdle(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for id, a := range r.actors {
		a.mu.Lock()
		idle := !a.busy && a.pendingRun == nil && now.Sub(a.state.LastActivity) > r.idleTTL
		a.mu.Unlock()
		if idle {
			delete(r.actors, id)
			evicted++
		}
	}
	return evicted
}

// Forget evicts a single MR's actor immediately (the "forget" signal in
// spec §3's Actor State lifecycle).
func (r *Registry) Forget(mrID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.actors, mrID)
}

// UpdateState lets the engine record post-cycle bookkeeping (last snapshot
// hash, last pipeline trigger cause) without exposing the actor's internal
// locking to callers.
func (r *Registry) UpdateState(mrID int, mutate func(*State)) {
	a := r.getOrCreate(mrID)
	a.mu.Lock()
	mutate(a.state)
	a.mu.Unlock()
}

// SetFollowUpMode records the follow-up mode for an MR's actor, used by the
// command parser's draft-follow-up verb before a merge event occurs.
func (r *Registry) SetFollowUpMode(mrID int, mode snapshot.FollowUpMode) {
	a := r.getOrCreate(mrID)
	a.mu.Lock()
	a.state.FollowUpMode = mode
	a.mu.Unlock()
}

// FollowUpMode returns the recorded follow-up mode for an MR, defaulting to
// normal when no actor state exists yet.
func (r *Registry) FollowUpMode(mrID int) snapshot.FollowUpMode {
	r.mu.Lock()
	a, ok := r.actors[mrID]
	r.mu.Unlock()
	if !ok {
		return snapshot.FollowUpNormal
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.FollowUpMode
}
