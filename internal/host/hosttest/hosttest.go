// Package hosttest provides in-memory fakes for the host collaborator
// interfaces.
package hosttest

import (
	"fmt"
	"sync"
	"time"

	"github.com/dragonrift/encounter/internal/host"
	"github.com/dragonrift/encounter/pkg/core"
)

// Tracker is a fake boss tracker with a settable alive count and final boss
// per event.
type Tracker struct {
	mu     sync.Mutex
	alive  map[core.EventID]int
	finals map[core.EventID]core.BossID
}

func (t *Tracker) SetAlive(id core.EventID, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.alive == nil {
		t.alive = make(map[core.EventID]int)
	}
	t.alive[id] = n
}

// SetFinal marks a boss id as the event's final boss.
func (t *Tracker) SetFinal(id core.EventID, boss core.BossID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finals == nil {
		t.finals = make(map[core.EventID]core.BossID)
	}
	t.finals[id] = boss
}

func (t *Tracker) CountAliveBosses(id core.EventID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.alive[id]
}

func (t *Tracker) IsFinalBoss(id core.EventID, boss core.BossID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finals[id] == boss && boss != ""
}

// SpawnCall records one Spawn invocation.
type SpawnCall struct {
	Template string
	Pos      core.Position3D
}

// Spawner is a fake entity spawner handing out sequential boss ids.
type Spawner struct {
	mu    sync.Mutex
	next  int
	Calls []SpawnCall
	Err   error
}

func (s *Spawner) Spawn(template string, pos core.Position3D) (core.BossID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	s.next++
	s.Calls = append(s.Calls, SpawnCall{Template: template, Pos: pos})
	return core.BossID(fmt.Sprintf("boss_%d", s.next)), nil
}

// TeleportCall records one ScheduleTeleport invocation.
type TeleportCall struct {
	Participant core.ParticipantID
	Pos         core.Position3D
	Delay       time.Duration
}

// Teleporter is a fake teleporter recording every scheduled move.
type Teleporter struct {
	mu    sync.Mutex
	Calls []TeleportCall
	Err   error
}

func (t *Teleporter) ScheduleTeleport(p core.ParticipantID, pos core.Position3D, delay time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return t.Err
	}
	t.Calls = append(t.Calls, TeleportCall{Participant: p, Pos: pos, Delay: delay})
	return nil
}

// Moved returns every participant teleported so far, in call order.
func (t *Teleporter) Moved() []core.ParticipantID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]core.ParticipantID, 0, len(t.Calls))
	for _, c := range t.Calls {
		out = append(out, c.Participant)
	}
	return out
}

// StageMessage records one SendStageMessage invocation.
type StageMessage struct {
	Stage        core.StageKey
	Phase        core.StagePhase
	Participants []core.ParticipantID
}

// Broadcast records one Broadcast invocation.
type Broadcast struct {
	Kind         core.MessageKind
	Placeholders map[string]string
}

// Notifier is a fake notifier recording every message.
type Notifier struct {
	mu            sync.Mutex
	StageMessages []StageMessage
	Broadcasts    []Broadcast
}

func (n *Notifier) SendStageMessage(stage core.StageKey, phase core.StagePhase, participants []core.ParticipantID, _ map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.StageMessages = append(n.StageMessages, StageMessage{
		Stage:        stage,
		Phase:        phase,
		Participants: participants,
	})
}

func (n *Notifier) Broadcast(kind core.MessageKind, placeholders map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Broadcasts = append(n.Broadcasts, Broadcast{Kind: kind, Placeholders: placeholders})
}

// BroadcastCount returns how many broadcasts of a kind were sent.
func (n *Notifier) BroadcastCount(kind core.MessageKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, b := range n.Broadcasts {
		if b.Kind == kind {
			count++
		}
	}
	return count
}

// Runner is a fake console command runner recording every batch.
type Runner struct {
	mu      sync.Mutex
	Batches [][]string
	Err     error
}

func (r *Runner) RunConsoleCommands(commands []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	batch := append([]string(nil), commands...)
	r.Batches = append(r.Batches, batch)
	return nil
}

// Commands returns every command run so far, flattened in order.
func (r *Runner) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, b := range r.Batches {
		out = append(out, b...)
	}
	return out
}

// Fakes bundles all fake collaborators for inspection.
type Fakes struct {
	Tracker    *Tracker
	Spawner    *Spawner
	Teleporter *Teleporter
	Notifier   *Notifier
	Runner     *Runner
}

// New returns a collaborator bundle backed by fresh fakes.
func New() (host.Collaborators, *Fakes) {
	f := &Fakes{
		Tracker:    &Tracker{},
		Spawner:    &Spawner{},
		Teleporter: &Teleporter{},
		Notifier:   &Notifier{},
		Runner:     &Runner{},
	}
	return host.Collaborators{
		Tracker:    f.Tracker,
		Spawner:    f.Spawner,
		Teleporter: f.Teleporter,
		Notifier:   f.Notifier,
		Runner:     f.Runner,
	}, f
}
