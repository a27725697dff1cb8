// Package bot wires the nine components (spec §4.A-I) into the running
// engine: normalize an incoming signal, hand it to the MR's actor, and let
// the actor's run loop project a fresh snapshot, evaluate the rule
// pipeline, plan actions, execute them, and — once a merge lands — generate
// follow-ups.
package bot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/nx/robocat/internal/action"
	"github.com/nx/robocat/internal/actor"
	"github.com/nx/robocat/internal/command"
	"github.com/nx/robocat/internal/compliance"
	"github.com/nx/robocat/internal/event"
	"github.com/nx/robocat/internal/finding"
	"github.com/nx/robocat/internal/followup"
	"github.com/nx/robocat/internal/forge"
	"github.com/nx/robocat/internal/gitworkspace"
	"github.com/nx/robocat/internal/httpapi"
	"github.com/nx/robocat/internal/ledger"
	"github.com/nx/robocat/internal/logging"
	"github.com/nx/robocat/internal/plan"
	"github.com/nx/robocat/internal/rule"
	"github.com/nx/robocat/internal/snapshot"
	"github.com/nx/robocat/internal/tracker"
)

// Identity is the bot's own forge/tracker login, used both to recognize
// commands addressed to it and to assign itself to discussions/follow-ups.
type Identity struct {
	BotHandle string
	Login     string
}

// Engine owns every long-lived collaborator and dispatches events to the
// per-MR actor registry, per spec §4.B/§5.
type Engine struct {
	Forge   forge.Client
	Tracker tracker.Client
	Git     *gitworkspace.Workspace

	Identity Identity

	Projector  *snapshot.Projector
	Pipeline   *rule.Pipeline
	RuleConfig rule.Config

	RepoDir          string
	FileChecker      compliance.FileChecker
	SubmoduleChecker compliance.SubmoduleChecker

	Executor *action.Executor
	FollowUp *followup.Generator

	Ingress  *event.Ingress
	Registry *actor.Registry

	eventsIngested  atomic.Int64
	actionsExecuted atomic.Int64
	actionsFailed   atomic.Int64
}

// NoteEventPayload carries the fields the Event Ingress needs from a
// posted-comment webhook: author login and raw comment body, dispatched
// under event.KindMRNoteAdded / event.KindCommandInvoked.
type NoteEventPayload struct {
	Author string
	Body   string
}

// HandleEvent normalizes an incoming signal and, unless it's a suppressed
// duplicate, submits a run to the MR's actor.
func (e *Engine) HandleEvent(ctx context.Context, mrID int, kind event.Kind, payload any) {
	ev, ok := e.Ingress.Normalize(mrID, kind, payload)
	if !ok {
		slog.Debug("bot: duplicate event suppressed", "mr", mrID, "kind", kind)
		return
	}
	e.eventsIngested.Add(1)

	e.Registry.Submit(ctx, mrID, func(ctx context.Context) actor.CycleOutcome {
		return e.runCycle(ctx, ev)
	})
}

// HandleEventSync normalizes and runs one cycle synchronously, bypassing
// the actor registry's async dispatch. cmd/process uses this for one-shot,
// non-daemon invocations where the caller wants a definite outcome rather
// than a fire-and-forget submission; tests use it for the same reason.
func (e *Engine) HandleEventSync(ctx context.Context, mrID int, kind event.Kind, payload any) actor.CycleOutcome {
	ev, ok := e.Ingress.Normalize(mrID, kind, payload)
	if !ok {
		return actor.DeferredOutcome("duplicate event suppressed")
	}
	e.eventsIngested.Add(1)
	return e.runCycle(ctx, ev)
}

// runCycle is one actor pass: project, evaluate, plan, execute, and — for a
// freshly observed merge or an explicit follow-up command — generate
// follow-ups.
func (e *Engine) runCycle(ctx context.Context, ev event.Event) actor.CycleOutcome {
	ctx, correlationID := logging.WithCorrelationID(ctx)
	log := logging.FromContext(ctx).With("mr", ev.MRID, "event", ev.Kind)
	log.Info("bot: cycle starting", "correlation_id", correlationID)

	cmd, hasCommand := e.commandFromEvent(ev)
	if hasCommand && cmd.Verb == command.VerbDraftFollowUp {
		e.Registry.SetFollowUpMode(ev.MRID, snapshot.FollowUpDraft)
	}

	snap, issues, err := e.Projector.Project(ctx, ev.MRID)
	if err != nil {
		var escalation *snapshot.EscalationFinding
		if !errors.As(err, &escalation) {
			return actor.FailedOutcome(fmt.Errorf("project snapshot: %w", err))
		}
		log.Warn("bot: projector escalation", "error", escalation)
		snap.ID = ev.MRID
	}

	followUpCommand := hasCommand && (cmd.Verb == command.VerbFollowUp || cmd.Verb == command.VerbDraftFollowUp)
	if followUpCommand {
		if !snap.IsMerged {
			_ = e.Forge.PostNote(ctx, ev.MRID, "follow-up commands only apply to merged merge requests")
		} else {
			e.generateFollowUps(ctx, snap, issues)
		}
	}

	l, err := ledger.Build(ctx, e.Forge, ev.MRID)
	if err != nil {
		return actor.FailedOutcome(fmt.Errorf("build ledger: %w", err))
	}

	findings := e.Pipeline.Run(rule.Context{
		GoContext:        ctx,
		MR:               snap,
		Issues:           issues,
		Config:           e.RuleConfig,
		RepoDir:          e.RepoDir,
		FileChecker:      e.FileChecker,
		SubmoduleChecker: e.SubmoduleChecker,
	})

	state := e.Registry.State(ev.MRID)
	hash := snapshotHash(snap)
	diffChanged := state == nil || state.LastSnapshotHash != hash

	in := plan.Input{
		MR:                           snap,
		Issues:                       issues,
		Findings:                     findings,
		Ledger:                       l,
		BotIdentity:                  e.Identity.Login,
		RunPipelineCommand:           hasCommand && cmd.Verb == command.VerbRunPipeline,
		DiffChangedSinceLastPipeline: diffChanged,
		ApprovalsSufficient:          approvalsSufficient(findings),
	}
	p := plan.Plan(in)

	results := e.Executor.Execute(ctx, p)
	e.actionsExecuted.Add(int64(len(results)))
	var followUpsPlanned bool
	for _, r := range results {
		if r.Action.Kind == plan.ActionGenerateFollowUps && r.Err == nil {
			followUpsPlanned = true
		}
		if r.Failure != nil {
			e.actionsFailed.Add(1)
			log.Warn("bot: action failed", "action", r.Action.Kind, "error", r.Failure.Message)
		}
	}

	// A command-driven follow-up run above already covers this cycle; avoid
	// generating the same branch set twice when the plan also detects the
	// merge.
	if followUpsPlanned && !followUpCommand {
		e.generateFollowUps(ctx, snap, issues)
	}

	var pipelineCause string
	for _, a := range p.Actions {
		if a.Kind == plan.ActionTriggerPipeline {
			pipelineCause = a.TriggerCause
		}
	}
	e.Registry.UpdateState(ev.MRID, func(s *actor.State) {
		s.LastSnapshotHash = hash
		if pipelineCause != "" {
			s.LastPipelineCause = pipelineCause
		}
	})

	log.Info("bot: cycle completed", "actions", len(results))
	return actor.CompletedOutcome()
}

// generateFollowUps runs the Follow-up Generator using the MR's recorded
// follow-up mode and clears the actor's follow-up mode back to normal
// afterward so a later, unrelated merge doesn't inherit a stale draft
// request.
func (e *Engine) generateFollowUps(ctx context.Context, snap snapshot.MRSnapshot, issues map[string]snapshot.IssueSnapshot) {
	if e.FollowUp == nil {
		return
	}
	mode := e.Registry.FollowUpMode(snap.ID)
	results := e.FollowUp.Generate(ctx, snap, issues, mode)
	for _, r := range results {
		if r.Err != nil {
			slog.Warn("bot: follow-up generation failed", "mr", snap.ID, "branch", r.Branch, "error", r.Err)
			continue
		}
		slog.Info("bot: follow-up MR created", "mr", snap.ID, "branch", r.Branch, "follow_up_mr", r.MRID)
	}
	e.Registry.SetFollowUpMode(snap.ID, snapshot.FollowUpNormal)
}

// commandFromEvent parses a mr_note_added / command_invoked event's payload
// into a Command, recognizing only comments addressed to this bot.
func (e *Engine) commandFromEvent(ev event.Event) (command.Command, bool) {
	if ev.Kind != event.KindMRNoteAdded && ev.Kind != event.KindCommandInvoked {
		return command.Command{}, false
	}
	note, ok := ev.Payload.(NoteEventPayload)
	if !ok {
		return command.Command{}, false
	}
	return command.Parse(e.Identity.BotHandle, note.Author, note.Body)
}

// approvalsSufficient reports whether every emitted approval finding is
// Pass severity — a Warn/Block approval finding means at least one
// applicable ruleset still needs an approval.
func approvalsSufficient(findings []finding.Finding) bool {
	for _, f := range findings {
		if f.Category == finding.CategoryApproval && f.Severity != finding.Pass {
			return false
		}
	}
	return true
}

// snapshotHash fingerprints the parts of a snapshot that matter for "has
// the diff changed since the last pipeline trigger": commits and
// draft/branch state, not volatile fields like pipeline status itself
// (which would make the hash chase its own tail).
func snapshotHash(snap snapshot.MRSnapshot) string {
	type shape struct {
		Commits      []snapshot.Commit
		TargetBranch string
		SourceBranch string
		Draft        bool
	}
	b, err := json.Marshal(shape{
		Commits:      snap.Commits,
		TargetBranch: snap.TargetBranch,
		SourceBranch: snap.SourceBranch,
		Draft:        snap.Draft,
	})
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Stats reports current engine load for the httpapi /metrics endpoint.
func (e *Engine) Stats() httpapi.Stats {
	return httpapi.Stats{
		ActiveMRActors:  e.Registry.Len(),
		EventsIngested:  e.eventsIngested.Load(),
		ActionsExecuted: e.actionsExecuted.Load(),
		ActionsFailed:   e.actionsFailed.Load(),
	}
}
