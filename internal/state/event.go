package state

import (
	"sync"

	"github.com/dragonrift/encounter/internal/model"
	"github.com/dragonrift/encounter/pkg/core"
)

// EventState is the process-lifetime mutable state of one event definition.
// It survives occurrence rollovers; a full teardown clears it.
type EventState struct {
	mu       sync.RWMutex
	stage    core.StageKey
	running  bool
	joinable bool

	Participants *ParticipantSet
	Spectators   *ParticipantSet
	Damage       *DamageTally
}

func NewEventState() *EventState {
	return &EventState{
		Participants: NewParticipantSet(),
		Spectators:   NewParticipantSet(),
		Damage:       NewDamageTally(),
	}
}

func (s *EventState) Stage() core.StageKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stage
}

func (s *EventState) SetStage(k core.StageKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage = k
}

func (s *EventState) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *EventState) Joinable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.joinable
}

func (s *EventState) SetFlags(running, joinable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = running
	s.joinable = joinable
}

// Teardown clears everything the occurrence touched. The next scheduler pass
// starts from a blank slate.
func (s *EventState) Teardown() {
	s.mu.Lock()
	s.running = false
	s.joinable = false
	s.stage = core.StageLobby
	s.mu.Unlock()
	s.Participants.Clear()
	s.Spectators.Clear()
	s.Damage.Clear()
}

// Event pairs a definition with its runtime state and the current occurrence
// run. The run pointer is owned by the orchestrator; collaborator callbacks
// reach it only through the orchestrator's entry points.
type Event struct {
	mu    sync.RWMutex
	def   *model.EventDefinition
	state *EventState
	run   *OccurrenceRun
}

func NewEvent(def *model.EventDefinition) *Event {
	return &Event{def: def, state: NewEventState()}
}

func (e *Event) Def() *model.EventDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.def
}

// SetDef swaps the definition on a config reload. Runtime state is kept; the
// next tick applies the new schedule and flags.
func (e *Event) SetDef(def *model.EventDefinition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.def = def
}

func (e *Event) State() *EventState {
	return e.state
}

// Run returns the current occurrence run, or nil when none is live.
func (e *Event) Run() *OccurrenceRun {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.run
}

func (e *Event) SetRun(run *OccurrenceRun) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.run = run
}

// DiscardRun drops the current run. Stale runs need no cancellation; they
// are simply never looked up again.
func (e *Event) DiscardRun() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.run = nil
}
