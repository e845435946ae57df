package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/dragonrift/encounter/internal/capture"
	"github.com/dragonrift/encounter/internal/dispatcher"
	"github.com/dragonrift/encounter/internal/escalate"
	"github.com/dragonrift/encounter/internal/geo"
	"github.com/dragonrift/encounter/internal/history"
	"github.com/dragonrift/encounter/internal/host"
	"github.com/dragonrift/encounter/internal/influx"
	"github.com/dragonrift/encounter/internal/logging"
	"github.com/dragonrift/encounter/internal/model"
	"github.com/dragonrift/encounter/internal/orchestrator"
	"github.com/dragonrift/encounter/internal/parser"
	"github.com/dragonrift/encounter/internal/schedule"
	"github.com/dragonrift/encounter/internal/stage"
	"github.com/dragonrift/encounter/internal/state"
	"github.com/dragonrift/encounter/internal/tracker"
	"github.com/dragonrift/encounter/pkg/core"
)

// demoHost is an in-memory stand-in for the game host: spawns hand out
// sequential entity ids, everything else just logs what the host would do.
type demoHost struct {
	logger *slog.Logger

	mu     sync.Mutex
	nextID int
	ids    []core.BossID
}

func (h *demoHost) Spawn(templateID string, pos core.Position3D) (core.BossID, error) {
	h.mu.Lock()
	h.nextID++
	id := core.BossID(fmt.Sprintf("%s_%d", templateID, h.nextID))
	h.ids = append(h.ids, id)
	h.mu.Unlock()
	h.logger.Info("demo spawn", "template", templateID, "id", id, "x", pos.X, "y", pos.Y)
	return id, nil
}

func (h *demoHost) spawned() []core.BossID {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]core.BossID, len(h.ids))
	copy(out, h.ids)
	return out
}

func (h *demoHost) ScheduleTeleport(p core.ParticipantID, pos core.Position3D, delay time.Duration) error {
	h.logger.Info("demo teleport", "participant", p, "x", pos.X, "y", pos.Y, "delay", delay)
	return nil
}

func (h *demoHost) SendStageMessage(stage core.StageKey, phase core.StagePhase, participants []core.ParticipantID, _ map[string]string) {
	h.logger.Info("demo stage message", "stage", stage, "phase", phase, "recipients", len(participants))
}

func (h *demoHost) Broadcast(kind core.MessageKind, _ map[string]string) {
	h.logger.Info("demo broadcast", "kind", kind)
}

func (h *demoHost) RunConsoleCommands(commands []string) error {
	h.logger.Info("demo console", "commands", commands)
	return nil
}

func demoDefinition() *model.EventDefinition {
	return &model.EventDefinition{
		ID:                   "demo_rift",
		Name:                 "Demo Rift",
		Enabled:              true,
		MinionTemplates:      []string{"pit_drake", "pit_drake"},
		BossTemplate:         "elder_wyrm",
		Region:               geo.NewRegion(core.Position3D{}, core.Position3D{X: 1000, Y: 1000, Z: 128}),
		Spawn:                core.Position3D{X: 500, Y: 500, Z: 16},
		BellyFraction:        0.35,
		MaxDuration:          time.Minute,
		JoinWindow:           300 * time.Millisecond,
		ReminderInterval:     time.Minute,
		BellyDuration:        10 * time.Second,
		BellyTransitionDelay: 100 * time.Millisecond,
		SpawnInterval:        50 * time.Millisecond,
		Rule:                 schedule.Rule{Freq: schedule.Daily, Hour: 20, Timezone: "UTC"},
		Stages: []model.StageDefinition{
			{Key: core.StageLobby},
			{Key: core.StageBattle, StartCommands: []string{"music demo_battle"}},
			{Key: core.StageBelly},
			{Key: core.StagePostBelly},
			{Key: core.StageFinal},
		},
		Rewards: model.RewardSpec{
			Completion:   []string{"grant_loot {event}"},
			RankCommands: [][]string{{"crown {participant}"}},
		},
	}
}

// runDemo drives one complete occurrence through the real orchestrator with
// scripted host signals against in-memory collaborators. Metrics and the
// archive recorder are used when available, so a demo run also exercises
// those paths.
func runDemo(logger *slog.Logger, metrics *influx.Manager, recorder *history.Recorder) {
	registry := tracker.NewRegistry()
	sim := &demoHost{logger: logger}
	collab := host.Collaborators{
		Tracker:    registry,
		Spawner:    sim,
		Teleporter: sim,
		Notifier:   sim,
		Runner:     sim,
	}

	stageDeps := stage.Dependencies{Collab: collab, Logger: logger, Registry: registry}
	allocDeps := capture.Dependencies{Collab: collab, Logger: logger, Metrics: metrics}
	escDeps := escalate.Dependencies{
		Collab:   collab,
		Logger:   logger,
		Metrics:  metrics,
		Registry: registry,
	}
	orcDeps := orchestrator.Dependencies{
		Collab:   collab,
		Logger:   logger,
		Metrics:  metrics,
		Registry: registry,
	}
	if recorder != nil {
		stageDeps.Recorder = recorder
		allocDeps.Recorder = recorder
		escDeps.Archiver = recorder
		orcDeps.Recorder = recorder
	}
	eng := stage.NewEngine(stageDeps)
	allocDeps.Stage = eng
	escDeps.Stage = eng
	alloc := capture.NewAllocator(allocDeps)
	esc := escalate.NewService(escDeps)
	orcDeps.Stage = eng
	orcDeps.Capture = alloc
	orcDeps.Escalate = esc
	orc := orchestrator.New(orcDeps)

	disp, err := dispatcher.New(logging.NewDispatcherLogger(logger))
	if err != nil {
		logger.Error("demo dispatcher failed", "error", err)
		return
	}
	defer disp.Close()
	orc.RegisterHandlers(disp, parser.NewParser(logger))

	def := demoDefinition()
	orc.SetDefinitions([]*model.EventDefinition{def})
	if recorder != nil {
		recorder.EventsLoaded([]*model.EventDefinition{def})
	}

	// Plant a run starting immediately instead of waiting for the rule.
	ev := orc.Event(def.ID)
	ev.SetRun(state.NewOccurrenceRun(def, time.Now()))

	signal := func(command string, args ...string) {
		if _, err := disp.Dispatch(dispatcher.Signal{Command: command, Args: args, Timestamp: time.Now()}); err != nil {
			logger.Warn("demo signal rejected", "command", command, "error", err)
		}
	}

	// pump ticks the orchestrator until cond holds or the step times out.
	pump := func(step string, cond func() bool) bool {
		deadline := time.Now().Add(5 * time.Second)
		for {
			orc.Tick(time.Now())
			if cond() {
				return true
			}
			if time.Now().After(deadline) {
				logger.Error("demo step timed out", "step", step)
				return false
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	if !pump("join opens", func() bool { return ev.State().Joinable() }) {
		return
	}

	for i := 1; i <= 4; i++ {
		signal(orchestrator.CmdJoin, string(def.ID), "hero_"+strconv.Itoa(i), "false")
	}
	signal(orchestrator.CmdJoin, string(def.ID), "watcher_1", "true")
	if !pump("joins land", func() bool { return ev.State().Participants.Len() == 4 }) {
		return
	}

	if !pump("battle starts", func() bool { return len(sim.spawned()) >= 1 }) {
		return
	}
	if !pump("minions spawn", func() bool { return len(sim.spawned()) == 2 }) {
		return
	}

	for i, dmg := range []string{"220", "340", "120", "80"} {
		signal(orchestrator.CmdDamage, string(def.ID), "hero_"+strconv.Itoa(i+1), dmg)
	}

	// Damage is handled on a buffered queue; wait for it so the completion
	// rankings see the full tallies.
	if !pump("damage lands", func() bool { return ev.State().Damage.Get("hero_4") > 0 }) {
		return
	}

	minions := sim.spawned()
	signal(orchestrator.CmdBossHealth, string(def.ID), string(minions[0]), "0.30")
	if !pump("belly transition", func() bool { return ev.State().Stage() == core.StageBelly }) {
		return
	}

	signal(orchestrator.CmdBossKilled, string(def.ID), string(minions[0]))
	signal(orchestrator.CmdBossKilled, string(def.ID), string(minions[1]))
	if !pump("final boss spawns", func() bool { return len(sim.spawned()) == 3 }) {
		return
	}

	final := sim.spawned()[2]
	signal(orchestrator.CmdBossKilled, string(def.ID), string(final))
	if !pump("occurrence completes", func() bool { return ev.Run() == nil || ev.Run().StartAt.After(time.Now()) }) {
		return
	}

	logger.Info("demo occurrence complete", "event", def.ID, "bosses", len(sim.spawned()))
}
