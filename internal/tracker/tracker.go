// Package tracker maintains the boss liveness registry. Spawned bosses are
// registered by the services that create them; kill signals retire them.
package tracker

import (
	"sync"

	"github.com/dragonrift/encounter/pkg/core"
)

type bossEntry struct {
	eventID core.EventID
	final   bool
	alive   bool
}

// Registry is a thread-safe boss registry. It implements the orchestrator's
// boss tracker collaborator.
type Registry struct {
	mu     sync.Mutex
	bosses map[core.BossID]*bossEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bosses: make(map[core.BossID]*bossEntry)}
}

// Add registers a freshly spawned boss as alive. Re-registering an id
// overwrites the previous entry.
func (r *Registry) Add(eventID core.EventID, boss core.BossID, final bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bosses[boss] = &bossEntry{eventID: eventID, final: final, alive: true}
}

// Kill marks a boss dead and reports whether it was alive, known and
// registered to the event. Unknown, already-dead and foreign bosses report
// false so stale kill signals can be dropped.
func (r *Registry) Kill(eventID core.EventID, boss core.BossID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.bosses[boss]
	if !ok || !e.alive || e.eventID != eventID {
		return false
	}
	e.alive = false
	return true
}

// IsFinalBoss reports whether the boss is registered as the event's final
// boss. The flag survives the boss's death, so the kill signal that retired
// it can still be attributed.
func (r *Registry) IsFinalBoss(eventID core.EventID, boss core.BossID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.bosses[boss]
	return ok && e.final && e.eventID == eventID
}

// CountAliveBosses returns the number of alive non-final bosses for an
// event.
func (r *Registry) CountAliveBosses(eventID core.EventID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, e := range r.bosses {
		if e.alive && !e.final && e.eventID == eventID {
			count++
		}
	}
	return count
}

// Reset drops every boss registered for an event, dead or alive.
func (r *Registry) Reset(eventID core.EventID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.bosses {
		if e.eventID == eventID {
			delete(r.bosses, id)
		}
	}
}
