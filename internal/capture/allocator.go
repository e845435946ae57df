// Package capture implements the belly capture allocator: when a boss's
// health crosses the configured threshold, a fair share of the not-yet
// captured participants is pulled into the belly sub-stage. Multiple bosses
// may trigger sequentially; each allocation re-queries the alive-boss count
// so later batches adjust to deaths in between.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/dragonrift/encounter/internal/host"
	"github.com/dragonrift/encounter/internal/influx"
	"github.com/dragonrift/encounter/internal/stage"
	"github.com/dragonrift/encounter/internal/state"
	"github.com/dragonrift/encounter/pkg/core"
)

var (
	// ErrNoRun means the signal referenced an event with no live occurrence.
	ErrNoRun = errors.New("no live occurrence run")

	// ErrStageGuard means the trigger arrived outside the accepting stages.
	ErrStageGuard = errors.New("trigger outside accepting stage")
)

// Recorder archives accepted allocation batches. Implementations must not
// block the tick loop.
type Recorder interface {
	CaptureRecorded(eventID core.EventID, runID string, boss core.BossID, count, aliveBosses int, at time.Time)
}

// Dependencies holds all dependencies needed by the allocator.
type Dependencies struct {
	Collab   host.Collaborators
	Stage    *stage.Engine
	Logger   *slog.Logger
	Metrics  *influx.Manager // optional
	Recorder Recorder        // optional
}

// Allocator partitions participants across triggering bosses.
type Allocator struct {
	deps Dependencies

	mu  sync.Mutex
	rng *rand.Rand
}

// NewAllocator creates a new belly capture allocator.
func NewAllocator(deps Dependencies) *Allocator {
	return &Allocator{
		deps: deps,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// OnThresholdCrossed handles a boss health signal at or below the belly
// threshold. The first accepted trigger schedules the battle-to-belly stage
// switch; every accepted trigger allocates a batch of participants to the
// triggering boss.
func (a *Allocator) OnThresholdCrossed(ev *state.Event, sig core.BossHealthSignal) error {
	run := ev.Run()
	if run == nil {
		return ErrNoRun
	}
	def := ev.Def()
	if sig.Fraction > def.BellyFraction {
		return fmt.Errorf("fraction %v above threshold %v", sig.Fraction, def.BellyFraction)
	}

	// Before capture begins only the battle stage accepts triggers. Once
	// capture has begun, later bosses keep triggering until the belly stage
	// ends; a pending not-yet-started belly stage still accepts.
	if !run.CaptureStarted() {
		if run.StagePhase(core.StageBattle) != state.StageStarted {
			return ErrStageGuard
		}
	} else if run.StagePhase(core.StageBelly) == state.StageEnded {
		return ErrStageGuard
	}

	if run.BeginCapture(sig.Time.Add(def.BellyTransitionDelay)) {
		a.deps.Logger.Info("belly capture triggered",
			"event", def.ID, "boss", sig.BossID, "fraction", sig.Fraction)
	}

	a.allocate(ev, sig.BossID, sig.Time)
	return nil
}

// allocate takes min(ceil(total/N), |uncaptured|) participants for the boss,
// chosen by unbiased shuffle, and schedules their teleport into the belly
// area.
func (a *Allocator) allocate(ev *state.Event, boss core.BossID, at time.Time) {
	run := ev.Run()
	def := ev.Def()

	alive := a.deps.Collab.Tracker.CountAliveBosses(def.ID)
	if alive < 1 {
		alive = 1
	}

	total := ev.State().Participants.Len()
	pool := run.FilterUncaptured(ev.State().Participants.Snapshot())

	take := ceilDiv(total, alive)
	if take > len(pool) {
		take = len(pool)
	}
	if take == 0 {
		a.deps.Logger.Debug("no participants left to capture", "event", def.ID, "boss", boss)
		return
	}

	a.mu.Lock()
	a.rng.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
	a.mu.Unlock()

	chosen := pool[:take]
	run.Capture(boss, chosen)

	bellySpawn := def.StageSpawn(core.StageBelly)
	for _, id := range chosen {
		if err := a.deps.Collab.Teleporter.ScheduleTeleport(id, bellySpawn, def.CaptureTeleportDelay); err != nil {
			a.deps.Logger.Error("capture teleport failed", "participant", id, "error", err)
		}
	}

	if a.deps.Metrics != nil {
		if err := a.deps.Metrics.RecordCapture(def.ID, boss, take, at); err != nil {
			a.deps.Logger.Debug("capture metric dropped", "error", err)
		}
	}
	if a.deps.Recorder != nil {
		a.deps.Recorder.CaptureRecorded(def.ID, run.ID.String(), boss, take, alive, at)
	}

	a.deps.Logger.Info("participants captured",
		"event", def.ID, "boss", boss, "count", take, "aliveBosses", alive)
}

// OnBossKilled releases the dead boss's captured bucket. While the belly
// stage is still running the released participants are moved out early to
// the post-capture area.
func (a *Allocator) OnBossKilled(ev *state.Event, sig core.BossKillSignal) {
	run := ev.Run()
	if run == nil {
		return
	}
	released := run.ReleaseBoss(sig.BossID)
	if len(released) == 0 {
		return
	}

	def := ev.Def()
	if run.StagePhase(core.StageBelly) == state.StageStarted {
		out := def.StageSpawn(core.StagePostBelly)
		for _, id := range released {
			if err := a.deps.Collab.Teleporter.ScheduleTeleport(id, out, 0); err != nil {
				a.deps.Logger.Error("release teleport failed", "participant", id, "error", err)
			}
		}
	}
	a.deps.Logger.Info("captured participants released",
		"event", def.ID, "boss", sig.BossID, "count", len(released))
}

// Tick drives the delayed battle-to-belly switch and the belly duration
// timeout.
func (a *Allocator) Tick(ev *state.Event, now time.Time) {
	run := ev.Run()
	if run == nil {
		return
	}
	def := ev.Def()

	if run.TransitionDue(now) {
		a.deps.Stage.EndStage(ev, core.StageBattle)
		a.deps.Stage.StartStage(ev, core.StageBelly, now)
	}

	if run.StagePhase(core.StageBelly) == state.StageStarted {
		startedAt, ok := run.StageStartedAt(core.StageBelly)
		if ok && !now.Before(startedAt.Add(def.BellyDuration)) && run.MarkBellyTimedOut() {
			a.timeout(ev, now)
		}
	}
}

// timeout ends the belly stage, moves every still-captured participant to
// the post-capture area, clears capture bookkeeping and starts the
// post-capture stage. Runs exactly once per occurrence.
func (a *Allocator) timeout(ev *state.Event, now time.Time) {
	run := ev.Run()
	def := ev.Def()

	a.deps.Stage.EndStage(ev, core.StageBelly)

	out := def.StageSpawn(core.StagePostBelly)
	for _, id := range run.CapturedSnapshot() {
		if err := a.deps.Collab.Teleporter.ScheduleTeleport(id, out, 0); err != nil {
			a.deps.Logger.Error("timeout teleport failed", "participant", id, "error", err)
		}
	}
	run.ClearCapture()

	a.deps.Stage.StartStage(ev, core.StagePostBelly, now)
	a.deps.Logger.Info("belly stage timed out", "event", def.ID)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
