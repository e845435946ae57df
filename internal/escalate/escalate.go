// Package escalate implements final-boss escalation and completion
// teardown. Once every intermediate boss is dead the encounter switches to
// the final stage and spawns the single final boss; once that boss dies the
// occurrence rewards, archives and tears down.
package escalate

import (
	"errors"
	"log/slog"
	"time"

	"github.com/dragonrift/encounter/internal/host"
	"github.com/dragonrift/encounter/internal/influx"
	"github.com/dragonrift/encounter/internal/model"
	"github.com/dragonrift/encounter/internal/stage"
	"github.com/dragonrift/encounter/internal/state"
	"github.com/dragonrift/encounter/internal/tracker"
	"github.com/dragonrift/encounter/internal/util"
	"github.com/dragonrift/encounter/pkg/core"
)

// ErrNoFinalSpawn means neither a dedicated final spawn nor a final stage
// region is configured.
var ErrNoFinalSpawn = errors.New("no final boss spawn point resolvable")

// Archiver records finished occurrences. Implementations must not block the
// tick loop.
type Archiver interface {
	OccurrenceCompleted(def *model.EventDefinition, runID string, startedAt, endedAt time.Time, participants int, rankings []state.Ranking)
}

// Publisher pushes live lifecycle events to stream subscribers.
type Publisher interface {
	Publish(topic string, payload any)
}

// Dependencies holds all dependencies needed by the escalation service.
type Dependencies struct {
	Collab   host.Collaborators
	Stage    *stage.Engine
	Logger   *slog.Logger
	Archiver Archiver          // optional
	Stream   Publisher         // optional
	Metrics  *influx.Manager   // optional
	Registry *tracker.Registry // optional
}

// Service reacts to boss deaths with escalation and completion.
type Service struct {
	deps Dependencies
}

// NewService creates a new escalation service.
func NewService(deps Dependencies) *Service {
	return &Service{deps: deps}
}

// OnBossKilled runs after belly-release handling for the same signal. It
// spawns the final boss when the last intermediate boss dies, and completes
// the occurrence when the final boss dies.
func (s *Service) OnBossKilled(ev *state.Event, sig core.BossKillSignal) error {
	run := ev.Run()
	if run == nil {
		return nil
	}

	alive := s.deps.Collab.Tracker.CountAliveBosses(ev.Def().ID)
	if alive > 0 {
		return nil
	}

	if !run.BossSpawned() {
		// Minions still queued in the spawn cadence are not alive yet;
		// escalating now would strand them behind an ended battle stage.
		if pending := run.PendingSpawns(core.StageBattle); pending > 0 {
			s.deps.Logger.Debug("escalation deferred, spawns queued",
				"event", ev.Def().ID, "pending", pending)
			return nil
		}
		return s.escalate(ev, sig.Time)
	}
	// Only the final boss's own death completes the occurrence. Stale kill
	// signals for long-dead intermediates land here too once the final boss
	// is up, and must not tear the run down under it.
	if ev.State().Stage() == core.StageFinal &&
		s.deps.Collab.Tracker.IsFinalBoss(ev.Def().ID, sig.BossID) {
		s.complete(ev, sig.Time)
	}
	return nil
}

// escalate closes any still-open pre-final stage, moves everyone to the
// final area and spawns the final boss exactly once.
func (s *Service) escalate(ev *state.Event, now time.Time) error {
	run := ev.Run()
	def := ev.Def()

	spawnPos, err := finalSpawn(def)
	if err != nil {
		s.deps.Logger.Error("final escalation aborted", "event", def.ID, "error", err)
		return err
	}

	if !run.MarkBossSpawned() {
		return nil
	}

	for _, key := range run.ActiveStages() {
		if key != core.StageFinal {
			s.deps.Stage.EndStage(ev, key)
		}
	}

	for _, id := range ev.State().Participants.Snapshot() {
		if err := s.deps.Collab.Teleporter.ScheduleTeleport(id, spawnPos, 0); err != nil {
			s.deps.Logger.Error("final teleport failed", "participant", id, "error", err)
		}
	}

	s.deps.Stage.StartStage(ev, core.StageFinal, now)

	boss, err := s.deps.Collab.Spawner.Spawn(def.BossTemplate, spawnPos)
	if err != nil {
		s.deps.Logger.Error("final boss spawn failed", "event", def.ID, "error", err)
		return err
	}
	if s.deps.Registry != nil {
		s.deps.Registry.Add(def.ID, boss, true)
	}

	s.deps.Logger.Info("final boss spawned", "event", def.ID, "boss", boss)
	s.publish("escalation", map[string]any{"event": def.ID, "boss": boss})
	return nil
}

// complete rewards, archives and tears the occurrence down. The next
// scheduler pass creates a brand-new run.
func (s *Service) complete(ev *state.Event, now time.Time) {
	run := ev.Run()
	def := ev.Def()

	s.deps.Stage.EndStage(ev, core.StageFinal)

	dest := def.Spawn
	if def.CompletionSpawn != nil {
		dest = *def.CompletionSpawn
	}
	everyone := append(ev.State().Participants.Snapshot(), ev.State().Spectators.Snapshot()...)
	for _, id := range everyone {
		if err := s.deps.Collab.Teleporter.ScheduleTeleport(id, dest, 0); err != nil {
			s.deps.Logger.Error("completion teleport failed", "participant", id, "error", err)
		}
	}

	rankings := ev.State().Damage.Top(len(def.Rewards.RankCommands))
	s.reward(ev, rankings)

	s.deps.Collab.Notifier.Broadcast(core.MsgCompletion, map[string]string{
		"event": string(def.ID),
	})

	if s.deps.Archiver != nil {
		s.deps.Archiver.OccurrenceCompleted(def, run.ID.String(), run.StartAt, now,
			ev.State().Participants.Len(), rankings)
	}
	if s.deps.Metrics != nil {
		if err := s.deps.Metrics.RecordOccurrence(def.ID, ev.State().Participants.Len(), now.Sub(run.StartAt), now); err != nil {
			s.deps.Logger.Debug("occurrence metric dropped", "error", err)
		}
	}
	s.publish("completion", map[string]any{"event": def.ID, "run": run.ID.String()})

	run.ClearCapture()
	ev.State().Teardown()
	ev.DiscardRun()
	if s.deps.Registry != nil {
		s.deps.Registry.Reset(def.ID)
	}

	s.deps.Logger.Info("occurrence completed", "event", def.ID, "run", run.ID)
}

// reward runs the completion command batch and one rank command batch per
// placed participant, top damage first.
func (s *Service) reward(ev *state.Event, rankings []state.Ranking) {
	def := ev.Def()
	values := map[string]string{"event": string(def.ID)}

	if len(def.Rewards.Completion) > 0 {
		cmds := util.ExpandCommandList(def.Rewards.Completion, values)
		if err := s.deps.Collab.Runner.RunConsoleCommands(cmds); err != nil {
			s.deps.Logger.Error("completion rewards failed", "event", def.ID, "error", err)
		}
	}

	for rank, r := range rankings {
		if rank >= len(def.Rewards.RankCommands) {
			break
		}
		cmds := util.ExpandCommandList(def.Rewards.RankCommands[rank], map[string]string{
			"event":       string(def.ID),
			"participant": string(r.Participant),
		})
		if err := s.deps.Collab.Runner.RunConsoleCommands(cmds); err != nil {
			s.deps.Logger.Error("rank reward failed",
				"event", def.ID, "rank", rank, "participant", r.Participant, "error", err)
		}
	}
}

func (s *Service) publish(topic string, payload any) {
	if s.deps.Stream != nil {
		s.deps.Stream.Publish(topic, payload)
	}
}

// finalSpawn resolves the final boss spawn point: the final stage's
// dedicated spawn, then the center of its region.
func finalSpawn(def *model.EventDefinition) (core.Position3D, error) {
	fs := def.Stage(core.StageFinal)
	if fs == nil {
		return core.Position3D{}, ErrNoFinalSpawn
	}
	if fs.Spawn != nil {
		return *fs.Spawn, nil
	}
	if fs.Region != nil {
		return fs.Region.Center(), nil
	}
	return core.Position3D{}, ErrNoFinalSpawn
}
