// Package stage drives the per-occurrence stage lifecycle: one-shot start
// and end command batches, delayed command batches, repeating in-stage
// messages and the minion spawn cadence. All transitions are idempotent; the
// occurrence run tracks what already fired so a repeated call is a no-op.
package stage

import (
	"log/slog"
	"math/rand"
	"time"

	"github.com/dragonrift/encounter/internal/host"
	"github.com/dragonrift/encounter/internal/state"
	"github.com/dragonrift/encounter/internal/tracker"
	"github.com/dragonrift/encounter/internal/util"
	"github.com/dragonrift/encounter/pkg/core"
)

// Recorder archives stage transitions. Implementations must not block the
// tick loop.
type Recorder interface {
	StageChanged(eventID core.EventID, runID string, key core.StageKey, phase core.StagePhase, participants int)
}

// Dependencies holds all dependencies needed by the stage engine.
type Dependencies struct {
	Collab   host.Collaborators
	Logger   *slog.Logger
	Registry *tracker.Registry // optional
	Recorder Recorder          // optional
}

// Engine starts and ends stages and drives their per-tick timers.
type Engine struct {
	deps Dependencies
	rng  *rand.Rand
}

// NewEngine creates a new stage engine.
func NewEngine(deps Dependencies) *Engine {
	return &Engine{
		deps: deps,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (e *Engine) placeholders(ev *state.Event, key core.StageKey) map[string]string {
	return map[string]string{
		"event": string(ev.Def().ID),
		"stage": key.String(),
	}
}

func (e *Engine) runCommands(commands []string, values map[string]string) {
	if len(commands) == 0 {
		return
	}
	expanded := util.ExpandCommandList(commands, values)
	if err := e.deps.Collab.Runner.RunConsoleCommands(expanded); err != nil {
		e.deps.Logger.Error("console commands failed", "error", err, "count", len(expanded))
	}
}

// StartStage starts the stage for the event's current run at the given
// instant. A second call while already started is a no-op and returns false.
func (e *Engine) StartStage(ev *state.Event, key core.StageKey, at time.Time) bool {
	run := ev.Run()
	if run == nil {
		return false
	}
	def := ev.Def().Stage(key)
	if def == nil {
		e.deps.Logger.Warn("stage not configured", "event", ev.Def().ID, "stage", key.String())
		return false
	}
	if !run.StartStage(def, at) {
		return false
	}

	ev.State().SetStage(key)
	values := e.placeholders(ev, key)
	e.runCommands(def.StartCommands, values)

	participants := ev.State().Participants.Snapshot()
	e.deps.Collab.Notifier.SendStageMessage(key, core.PhaseStart, participants, values)

	// The battle stage releases intermediate bosses one at a time.
	if key == core.StageBattle {
		run.QueueSpawns(key, ev.Def().MinionTemplates, ev.Def().SpawnInterval, at)
	}

	if e.deps.Recorder != nil {
		e.deps.Recorder.StageChanged(ev.Def().ID, run.ID.String(), key, core.PhaseStart, len(participants))
	}
	e.deps.Logger.Info("stage started", "event", ev.Def().ID, "stage", key.String())
	return true
}

// EndStage ends the stage. A no-op if it was never started or already ended.
func (e *Engine) EndStage(ev *state.Event, key core.StageKey) bool {
	run := ev.Run()
	if run == nil {
		return false
	}
	def := ev.Def().Stage(key)
	if def == nil {
		return false
	}
	if !run.EndStage(key) {
		return false
	}

	values := e.placeholders(ev, key)
	e.runCommands(def.EndCommands, values)

	participants := ev.State().Participants.Snapshot()
	e.deps.Collab.Notifier.SendStageMessage(key, core.PhaseEnd, participants, values)

	if e.deps.Recorder != nil {
		e.deps.Recorder.StageChanged(ev.Def().ID, run.ID.String(), key, core.PhaseEnd, len(participants))
	}
	e.deps.Logger.Info("stage ended", "event", ev.Def().ID, "stage", key.String())
	return true
}

// Tick drives every started-and-not-ended stage: due one-shot command
// batches, the repeating in-stage message and the next queued minion spawn.
func (e *Engine) Tick(ev *state.Event, now time.Time) {
	run := ev.Run()
	if run == nil {
		return
	}

	for _, key := range run.ActiveStages() {
		values := e.placeholders(ev, key)

		for _, batch := range run.DueCommandBatches(key, now) {
			e.runCommands(batch, values)
		}

		if run.DueRepeatMessage(key, now) {
			participants := ev.State().Participants.Snapshot()
			e.deps.Collab.Notifier.SendStageMessage(key, core.PhaseStart, participants, values)
		}

		if tpl, ok := run.NextSpawn(key, now); ok {
			e.spawnMinion(ev, key, tpl)
		}
	}
}

func (e *Engine) spawnMinion(ev *state.Event, key core.StageKey, template string) {
	region := ev.Def().StageRegion(key)
	pos := region.RandomWithin(e.rng)
	boss, err := e.deps.Collab.Spawner.Spawn(template, pos)
	if err != nil {
		e.deps.Logger.Error("minion spawn failed",
			"event", ev.Def().ID, "template", template, "error", err)
		return
	}
	if e.deps.Registry != nil {
		e.deps.Registry.Add(ev.Def().ID, boss, false)
	}
	e.deps.Logger.Debug("minion spawned",
		"event", ev.Def().ID, "template", template, "boss", boss)
}
