package state

import (
	"time"

	"github.com/dragonrift/encounter/internal/model"
	"github.com/dragonrift/encounter/pkg/core"
)

// StagePhase is the lifecycle of a stage runtime. A stage can never be ended
// without having started; the state machine has no fourth state.
type StagePhase int

const (
	StageNotStarted StagePhase = iota
	StageStarted
	StageEnded
)

func (p StagePhase) String() string {
	switch p {
	case StageStarted:
		return "started"
	case StageEnded:
		return "ended"
	}
	return "not_started"
}

type timedBatch struct {
	at       time.Time
	commands []string
	executed bool
}

// StageRuntime is the per-occurrence record of one entered stage. All fields
// are guarded by the owning OccurrenceRun's mutex; callers go through the
// run's methods.
type StageRuntime struct {
	Key       core.StageKey
	Def       *model.StageDefinition
	StartedAt time.Time
	phase     StagePhase

	batches []timedBatch

	// messageAt is the next repeat-message fire instant; zero disables it.
	messageAt time.Time

	// spawnQueue holds minion templates not yet spawned; spawnAt is the
	// earliest instant the next spawn may fire.
	spawnQueue []string
	spawnAt    time.Time
	spawnEvery time.Duration
}

func newStageRuntime(def *model.StageDefinition, at time.Time) *StageRuntime {
	sr := &StageRuntime{
		Key:       def.Key,
		Def:       def,
		StartedAt: at,
		phase:     StageStarted,
	}
	for _, b := range def.Timed {
		sr.batches = append(sr.batches, timedBatch{at: at.Add(b.Delay), commands: b.Commands})
	}
	if def.MessageInterval > 0 {
		sr.messageAt = at.Add(def.MessageInterval)
	}
	return sr
}

// Phase returns the stage's lifecycle phase. Callers outside the run's
// methods must hold the run lock via OccurrenceRun.StagePhase.
func (sr *StageRuntime) active() bool {
	return sr.phase == StageStarted
}
