// Package orchestrator owns the event registry and the fixed-cadence tick
// loop. Each pass drives, in order: occurrence rollover, pre-start
// reminders, the join window state machine, stage timers, then capture and
// escalation checks — so a stage always exists before its timers run.
package orchestrator

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dragonrift/encounter/internal/capture"
	"github.com/dragonrift/encounter/internal/escalate"
	"github.com/dragonrift/encounter/internal/host"
	"github.com/dragonrift/encounter/internal/influx"
	"github.com/dragonrift/encounter/internal/model"
	"github.com/dragonrift/encounter/internal/stage"
	"github.com/dragonrift/encounter/internal/state"
	"github.com/dragonrift/encounter/internal/tracker"
	"github.com/dragonrift/encounter/pkg/core"
)

// Recorder archives accepted boss kills. Implementations must not block the
// tick loop.
type Recorder interface {
	BossKillRecorded(eventID core.EventID, runID string, boss core.BossID, final bool, at time.Time)
}

// Dependencies holds all dependencies needed by the orchestrator.
type Dependencies struct {
	Collab   host.Collaborators
	Stage    *stage.Engine
	Capture  *capture.Allocator
	Escalate *escalate.Service
	Logger   *slog.Logger
	Metrics  *influx.Manager   // optional
	Registry *tracker.Registry // optional
	Recorder Recorder          // optional
}

// Orchestrator fans each tick out across all configured events.
type Orchestrator struct {
	deps Dependencies

	mu     sync.RWMutex
	events map[core.EventID]*state.Event
}

// New creates an orchestrator with an empty event registry.
func New(deps Dependencies) *Orchestrator {
	return &Orchestrator{
		deps:   deps,
		events: make(map[core.EventID]*state.Event),
	}
}

// SetDefinitions replaces the definition set, preserving live state for
// events whose id survives the reload. Removed events are torn down.
func (o *Orchestrator) SetDefinitions(defs []*model.EventDefinition) {
	o.mu.Lock()
	defer o.mu.Unlock()

	keep := make(map[core.EventID]struct{}, len(defs))
	for _, def := range defs {
		keep[def.ID] = struct{}{}
		if ev, ok := o.events[def.ID]; ok {
			ev.SetDef(def)
			continue
		}
		o.events[def.ID] = state.NewEvent(def)
		o.deps.Logger.Info("event registered", "event", def.ID, "name", def.Name)
	}

	for id, ev := range o.events {
		if _, ok := keep[id]; !ok {
			ev.State().Teardown()
			ev.DiscardRun()
			delete(o.events, id)
			o.deps.Logger.Info("event removed", "event", id)
		}
	}
}

// Event returns the live event for an id, or nil.
func (o *Orchestrator) Event(id core.EventID) *state.Event {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.events[id]
}

// Events returns a snapshot of all live events.
func (o *Orchestrator) Events() []*state.Event {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*state.Event, 0, len(o.events))
	for _, ev := range o.events {
		out = append(out, ev)
	}
	return out
}

// Tick runs one scheduler pass at the given instant.
func (o *Orchestrator) Tick(now time.Time) {
	for _, ev := range o.Events() {
		o.tickEvent(ev, now)
	}
}

func (o *Orchestrator) tickEvent(ev *state.Event, now time.Time) {
	def := ev.Def()

	// A disabled event is reset wholesale; re-enabling starts clean.
	if !def.Enabled {
		if ev.Run() != nil {
			o.reset(ev)
			o.deps.Logger.Info("disabled event reset", "event", def.ID)
		}
		return
	}

	run := ev.Run()
	if run != nil && run.Expired(now) {
		o.reset(ev)
		o.deps.Logger.Info("occurrence expired", "event", def.ID, "run", run.ID)
		run = nil
	}
	if run == nil {
		run = o.rollover(ev, now)
	}

	// 1. Fire the single most recent due pre-start reminder.
	if at, ok := run.DuePreStartReminder(now); ok {
		o.deps.Collab.Notifier.Broadcast(core.MsgPreStartReminder, map[string]string{
			"event": string(def.ID),
			"start": run.StartAt.Format(time.RFC3339),
		})
		o.deps.Logger.Debug("pre-start reminder fired", "event", def.ID, "scheduledAt", at)
	}

	// 2. Open the join window exactly once.
	if run.OpenJoinOnce(now) {
		ev.State().SetFlags(false, true)
		o.deps.Stage.StartStage(ev, def.FirstStage(), now)
		o.deps.Collab.Notifier.Broadcast(core.MsgJoinOpen, map[string]string{
			"event": string(def.ID),
		})
		o.deps.Logger.Info("join window opened", "event", def.ID, "run", run.ID)
	}

	// 3. Remind while joinable, at most once per interval.
	if run.JoinReminderDue(now, def.ReminderInterval) {
		o.deps.Collab.Notifier.Broadcast(core.MsgJoinReminder, map[string]string{
			"event": string(def.ID),
		})
	}

	// 4. Close the join window exactly once and move into combat.
	if run.CloseJoinOnce(now) {
		o.closeJoin(ev, now)
	}

	// 5. Per-stage timers.
	o.deps.Stage.Tick(ev, now)

	// 6. Capture transition, belly timeout.
	o.deps.Capture.Tick(ev, now)
}

// rollover creates a fresh run for the next scheduled occurrence.
func (o *Orchestrator) rollover(ev *state.Event, now time.Time) *state.OccurrenceRun {
	def := ev.Def()
	loc := def.Rule.Location(o.deps.Logger)
	startAt := def.Rule.NextRun(now, loc)
	run := state.NewOccurrenceRun(def, startAt)
	ev.SetRun(run)
	o.deps.Logger.Info("occurrence scheduled",
		"event", def.ID, "run", run.ID, "startAt", startAt)
	return run
}

// reset tears down whatever the current run left behind and discards it.
func (o *Orchestrator) reset(ev *state.Event) {
	ev.State().Teardown()
	ev.DiscardRun()
	if o.deps.Registry != nil {
		o.deps.Registry.Reset(ev.Def().ID)
	}
}

func (o *Orchestrator) closeJoin(ev *state.Event, now time.Time) {
	def := ev.Def()
	ev.State().SetFlags(true, false)

	first := def.FirstStage()
	o.deps.Stage.EndStage(ev, first)

	next, ok := def.StageAfter(first)
	if !ok {
		o.deps.Logger.Warn("no stage after lobby", "event", def.ID)
		return
	}

	dest := def.StageSpawn(next)
	for _, id := range ev.State().Participants.Snapshot() {
		if err := o.deps.Collab.Teleporter.ScheduleTeleport(id, dest, 0); err != nil {
			o.deps.Logger.Error("join close teleport failed", "participant", id, "error", err)
		}
	}

	o.deps.Stage.StartStage(ev, next, now)
	o.deps.Collab.Notifier.Broadcast(core.MsgJoinClosed, map[string]string{
		"event": string(def.ID),
	})
	o.deps.Logger.Info("join window closed",
		"event", def.ID, "participants", ev.State().Participants.Len())
}

// HandleBossHealth routes a threshold signal into the allocator.
func (o *Orchestrator) HandleBossHealth(sig core.BossHealthSignal) error {
	ev := o.Event(sig.EventID)
	if ev == nil {
		return nil
	}
	return o.deps.Capture.OnThresholdCrossed(ev, sig)
}

// HandleBossKill runs belly release first, then the escalation check, so a
// dying belly boss frees its captives before the final phase can begin.
func (o *Orchestrator) HandleBossKill(sig core.BossKillSignal) error {
	ev := o.Event(sig.EventID)
	if ev == nil {
		return nil
	}
	// Retire the boss first so the alive count the escalation check reads
	// already reflects this death. A kill the registry rejects is a stale
	// duplicate or a boss of another event, and goes no further.
	if o.deps.Registry != nil {
		if !o.deps.Registry.Kill(sig.EventID, sig.BossID) {
			o.deps.Logger.Debug("stale boss kill dropped",
				"event", sig.EventID, "boss", sig.BossID)
			return nil
		}
	}
	o.deps.Capture.OnBossKilled(ev, sig)

	final := ev.State().Stage() == core.StageFinal
	if o.deps.Metrics != nil {
		if err := o.deps.Metrics.RecordBossKill(sig.EventID, sig.BossID, final, sig.Time); err != nil {
			o.deps.Logger.Debug("boss kill metric dropped", "error", err)
		}
	}
	if o.deps.Recorder != nil {
		runID := ""
		if run := ev.Run(); run != nil {
			runID = run.ID.String()
		}
		o.deps.Recorder.BossKillRecorded(sig.EventID, runID, sig.BossID, final, sig.Time)
	}
	return o.deps.Escalate.OnBossKilled(ev, sig)
}

// HandleJoin enrolls a participant or spectator while the window is open.
func (o *Orchestrator) HandleJoin(sig core.JoinSignal) error {
	ev := o.Event(sig.EventID)
	if ev == nil {
		return nil
	}
	run := ev.Run()
	if run == nil || !run.JoinOpen() {
		o.deps.Logger.Debug("join rejected, window closed",
			"event", sig.EventID, "participant", sig.ParticipantID)
		return nil
	}
	added := false
	if sig.Spectator {
		added = ev.State().Spectators.Add(sig.ParticipantID)
	} else if ev.State().Participants.Add(sig.ParticipantID) {
		added = true
		o.deps.Logger.Debug("participant joined",
			"event", sig.EventID, "participant", sig.ParticipantID)
	}
	if added && o.deps.Metrics != nil {
		if err := o.deps.Metrics.RecordJoin(sig.EventID, sig.Spectator, sig.Time); err != nil {
			o.deps.Logger.Debug("join metric dropped", "error", err)
		}
	}
	return nil
}

// HandleLeave drops a participant or spectator at any point in the run.
func (o *Orchestrator) HandleLeave(sig core.LeaveSignal) error {
	ev := o.Event(sig.EventID)
	if ev == nil {
		return nil
	}
	ev.State().Participants.Remove(sig.ParticipantID)
	ev.State().Spectators.Remove(sig.ParticipantID)
	return nil
}

// HandleDamage accumulates damage for completion rankings. Damage from
// non-participants is ignored.
func (o *Orchestrator) HandleDamage(sig core.DamageSignal) error {
	ev := o.Event(sig.EventID)
	if ev == nil {
		return nil
	}
	if !ev.State().Participants.Contains(sig.ParticipantID) {
		return nil
	}
	ev.State().Damage.Add(sig.ParticipantID, sig.Amount)
	return nil
}
