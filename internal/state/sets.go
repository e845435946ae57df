package state

import (
	"sort"
	"sync"

	"github.com/dragonrift/encounter/pkg/core"
)

// ParticipantSet is a thread-safe set of participant identifiers. Both the
// tick loop and the signal handlers touch these, so every access locks even
// though the host scheduler is cooperative in practice.
type ParticipantSet struct {
	mu  sync.Mutex
	ids map[core.ParticipantID]struct{}
}

func NewParticipantSet() *ParticipantSet {
	return &ParticipantSet{ids: make(map[core.ParticipantID]struct{})}
}

// Add inserts id and reports whether it was newly added.
func (s *ParticipantSet) Add(id core.ParticipantID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Remove deletes id and reports whether it was present.
func (s *ParticipantSet) Remove(id core.ParticipantID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; !ok {
		return false
	}
	delete(s.ids, id)
	return true
}

func (s *ParticipantSet) Contains(id core.ParticipantID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

func (s *ParticipantSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Snapshot returns the members in deterministic order.
func (s *ParticipantSet) Snapshot() []core.ParticipantID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.ParticipantID, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *ParticipantSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[core.ParticipantID]struct{})
}

// DamageTally accumulates damage per participant for completion rankings.
type DamageTally struct {
	mu     sync.Mutex
	damage map[core.ParticipantID]float64
}

func NewDamageTally() *DamageTally {
	return &DamageTally{damage: make(map[core.ParticipantID]float64)}
}

func (t *DamageTally) Add(id core.ParticipantID, amount float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.damage[id] += amount
}

func (t *DamageTally) Get(id core.ParticipantID) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.damage[id]
}

// Ranking is one row of the damage leaderboard.
type Ranking struct {
	Participant core.ParticipantID
	Damage      float64
}

// Top returns up to n participants ordered by damage descending, ties broken
// by identifier so the result is deterministic.
func (t *DamageTally) Top(n int) []Ranking {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Ranking, 0, len(t.damage))
	for id, dmg := range t.damage {
		out = append(out, Ranking{Participant: id, Damage: dmg})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Damage != out[j].Damage {
			return out[i].Damage > out[j].Damage
		}
		return out[i].Participant < out[j].Participant
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func (t *DamageTally) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.damage = make(map[core.ParticipantID]float64)
}
