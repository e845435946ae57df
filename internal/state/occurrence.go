package state

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dragonrift/encounter/internal/model"
	"github.com/dragonrift/encounter/pkg/core"
)

// OccurrenceRun is the ephemeral record of one scheduled occurrence, from
// join window to teardown. Exactly one live run exists per enabled
// definition; rollover replaces the whole value and never mutates a stale
// run. Signal handlers interleave with the tick loop, so all mutable state
// sits behind one mutex.
type OccurrenceRun struct {
	ID  uuid.UUID
	Def *model.EventDefinition

	StartAt   time.Time
	JoinEndAt time.Time
	ExpireAt  time.Time

	mu sync.Mutex

	reminders []reminder // sorted by fire instant

	joinOpened       bool
	joinClosed       bool
	lastJoinReminder time.Time

	stages map[core.StageKey]*StageRuntime

	captured       map[core.ParticipantID]struct{}
	byBoss         map[core.BossID]map[core.ParticipantID]struct{}
	captureStarted bool
	transitionAt   time.Time // pending battle-to-belly switch; zero = none
	bellyTimedOut  bool

	bossSpawned bool
}

type reminder struct {
	at    time.Time
	fired bool
}

// NewOccurrenceRun builds the run for a start instant, deriving the join
// window bound, the expiry instant and the sorted pre-start reminder list.
func NewOccurrenceRun(def *model.EventDefinition, startAt time.Time) *OccurrenceRun {
	run := &OccurrenceRun{
		ID:        uuid.New(),
		Def:       def,
		StartAt:   startAt,
		JoinEndAt: startAt.Add(def.JoinWindow),
		ExpireAt:  startAt.Add(def.MaxDuration),
		stages:    make(map[core.StageKey]*StageRuntime),
		captured:  make(map[core.ParticipantID]struct{}),
		byBoss:    make(map[core.BossID]map[core.ParticipantID]struct{}),
	}
	for _, offset := range def.PreStartReminders {
		run.reminders = append(run.reminders, reminder{at: startAt.Add(-offset)})
	}
	sort.Slice(run.reminders, func(i, j int) bool {
		return run.reminders[i].at.Before(run.reminders[j].at)
	})
	return run
}

// Expired reports whether the run has passed its expiry instant.
func (r *OccurrenceRun) Expired(now time.Time) bool {
	return !now.Before(r.ExpireAt)
}

// DuePreStartReminder marks every due-but-unfired reminder fired and returns
// the latest one. Only the most recent due reminder produces a broadcast;
// earlier stale ones are swallowed so a restart does not spam players.
func (r *OccurrenceRun) DuePreStartReminder(now time.Time) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest time.Time
	found := false
	for i := range r.reminders {
		if r.reminders[i].fired || r.reminders[i].at.After(now) {
			continue
		}
		r.reminders[i].fired = true
		latest = r.reminders[i].at
		found = true
	}
	return latest, found
}

// OpenJoinOnce reports true exactly once, when now has reached the start
// instant.
func (r *OccurrenceRun) OpenJoinOnce(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.joinOpened || now.Before(r.StartAt) {
		return false
	}
	r.joinOpened = true
	return true
}

// JoinOpen reports whether the join window has opened but not yet closed.
func (r *OccurrenceRun) JoinOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joinOpened && !r.joinClosed
}

// JoinReminderDue fires at most once per interval while the window is open.
func (r *OccurrenceRun) JoinReminderDue(now time.Time, interval time.Duration) bool {
	if interval <= 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.joinOpened || r.joinClosed || !now.Before(r.JoinEndAt) {
		return false
	}
	if r.lastJoinReminder.IsZero() || !now.Before(r.lastJoinReminder.Add(interval)) {
		r.lastJoinReminder = now
		return true
	}
	return false
}

// CloseJoinOnce reports true exactly once, when now has reached the join
// window end.
func (r *OccurrenceRun) CloseJoinOnce(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.joinOpened || r.joinClosed || now.Before(r.JoinEndAt) {
		return false
	}
	r.joinClosed = true
	return true
}

// StartStage creates the stage runtime and reports true exactly once; later
// calls for the same key are no-ops.
func (r *OccurrenceRun) StartStage(def *model.StageDefinition, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stages[def.Key]; ok {
		return false
	}
	r.stages[def.Key] = newStageRuntime(def, at)
	return true
}

// EndStage reports true exactly once for a started stage; unknown or already
// ended stages are no-ops.
func (r *OccurrenceRun) EndStage(key core.StageKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sr, ok := r.stages[key]
	if !ok || sr.phase != StageStarted {
		return false
	}
	sr.phase = StageEnded
	return true
}

// StagePhase returns the lifecycle phase for a stage key.
func (r *OccurrenceRun) StagePhase(key core.StageKey) StagePhase {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sr, ok := r.stages[key]; ok {
		return sr.phase
	}
	return StageNotStarted
}

// StageStartedAt returns when a stage started.
func (r *OccurrenceRun) StageStartedAt(key core.StageKey) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sr, ok := r.stages[key]; ok && sr.phase != StageNotStarted {
		return sr.StartedAt, true
	}
	return time.Time{}, false
}

// ActiveStages returns the keys of started-and-not-ended stages.
func (r *OccurrenceRun) ActiveStages() []core.StageKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []core.StageKey
	for k, sr := range r.stages {
		if sr.active() {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// DueCommandBatches marks and returns every unexecuted timed batch whose
// fire instant has arrived for an active stage.
func (r *OccurrenceRun) DueCommandBatches(key core.StageKey, now time.Time) [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	sr, ok := r.stages[key]
	if !ok || !sr.active() {
		return nil
	}
	var due [][]string
	for i := range sr.batches {
		b := &sr.batches[i]
		if b.executed || b.at.After(now) {
			continue
		}
		b.executed = true
		due = append(due, b.commands)
	}
	return due
}

// DueRepeatMessage reports whether the stage's repeating message should fire
// now and reschedules it one interval later.
func (r *OccurrenceRun) DueRepeatMessage(key core.StageKey, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sr, ok := r.stages[key]
	if !ok || !sr.active() || sr.messageAt.IsZero() || sr.messageAt.After(now) {
		return false
	}
	if sr.Def.MessageInterval <= 0 {
		sr.messageAt = time.Time{}
		return false
	}
	sr.messageAt = sr.messageAt.Add(sr.Def.MessageInterval)
	return true
}

// QueueSpawns arms the one-at-a-time spawn cadence for a stage.
func (r *OccurrenceRun) QueueSpawns(key core.StageKey, templates []string, every time.Duration, now time.Time) {
	if every <= 0 {
		every = time.Second
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sr, ok := r.stages[key]
	if !ok {
		return
	}
	sr.spawnQueue = append([]string(nil), templates...)
	sr.spawnEvery = every
	sr.spawnAt = now
}

// NextSpawn pops the next due template from the spawn queue, if any.
func (r *OccurrenceRun) NextSpawn(key core.StageKey, now time.Time) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sr, ok := r.stages[key]
	if !ok || !sr.active() || len(sr.spawnQueue) == 0 || sr.spawnAt.After(now) {
		return "", false
	}
	tpl := sr.spawnQueue[0]
	sr.spawnQueue = sr.spawnQueue[1:]
	sr.spawnAt = now.Add(sr.spawnEvery)
	return tpl, true
}

// PendingSpawns returns how many minions are still queued for a stage.
func (r *OccurrenceRun) PendingSpawns(key core.StageKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sr, ok := r.stages[key]; ok {
		return len(sr.spawnQueue)
	}
	return 0
}

// BeginCapture records the first accepted belly trigger and the pending
// battle-to-belly transition instant. Reports false once capture has begun.
func (r *OccurrenceRun) BeginCapture(transitionAt time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.captureStarted {
		return false
	}
	r.captureStarted = true
	r.transitionAt = transitionAt
	return true
}

// CaptureStarted reports whether any belly trigger has been accepted.
func (r *OccurrenceRun) CaptureStarted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.captureStarted
}

// TransitionDue reports true exactly once, when the pending belly
// transition instant has arrived.
func (r *OccurrenceRun) TransitionDue(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transitionAt.IsZero() || r.transitionAt.After(now) {
		return false
	}
	r.transitionAt = time.Time{}
	return true
}

// FilterUncaptured returns the subset of ids not yet captured.
func (r *OccurrenceRun) FilterUncaptured(ids []core.ParticipantID) []core.ParticipantID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.ParticipantID
	for _, id := range ids {
		if _, ok := r.captured[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// Capture adds ids to the global captured set and the boss's bucket.
func (r *OccurrenceRun) Capture(boss core.BossID, ids []core.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket := r.byBoss[boss]
	if bucket == nil {
		bucket = make(map[core.ParticipantID]struct{})
		r.byBoss[boss] = bucket
	}
	for _, id := range ids {
		r.captured[id] = struct{}{}
		bucket[id] = struct{}{}
	}
}

// ReleaseBoss removes the boss's bucket and returns its members, removing
// them from the global captured set so the timeout path cannot move them
// twice.
func (r *OccurrenceRun) ReleaseBoss(boss core.BossID) []core.ParticipantID {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.byBoss[boss]
	if !ok {
		return nil
	}
	delete(r.byBoss, boss)
	out := make([]core.ParticipantID, 0, len(bucket))
	for id := range bucket {
		delete(r.captured, id)
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CapturedSnapshot returns the global captured set in deterministic order.
func (r *OccurrenceRun) CapturedSnapshot() []core.ParticipantID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.ParticipantID, 0, len(r.captured))
	for id := range r.captured {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CapturedCount returns the size of the global captured set.
func (r *OccurrenceRun) CapturedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.captured)
}

// BucketSize returns the size of one boss's captured bucket.
func (r *OccurrenceRun) BucketSize(boss core.BossID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byBoss[boss])
}

// BucketUnion returns the union of all per-boss buckets, for invariant
// checks against the global set.
func (r *OccurrenceRun) BucketUnion() []core.ParticipantID {
	r.mu.Lock()
	defer r.mu.Unlock()
	union := make(map[core.ParticipantID]struct{})
	for _, bucket := range r.byBoss {
		for id := range bucket {
			union[id] = struct{}{}
		}
	}
	out := make([]core.ParticipantID, 0, len(union))
	for id := range union {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ClearCapture drops all capture bookkeeping.
func (r *OccurrenceRun) ClearCapture() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captured = make(map[core.ParticipantID]struct{})
	r.byBoss = make(map[core.BossID]map[core.ParticipantID]struct{})
}

// MarkBellyTimedOut reports true exactly once per occurrence.
func (r *OccurrenceRun) MarkBellyTimedOut() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bellyTimedOut {
		return false
	}
	r.bellyTimedOut = true
	return true
}

// MarkBossSpawned reports true exactly once, guarding duplicate final-boss
// spawns.
func (r *OccurrenceRun) MarkBossSpawned() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bossSpawned {
		return false
	}
	r.bossSpawned = true
	return true
}

// BossSpawned reports whether the final boss has been spawned.
func (r *OccurrenceRun) BossSpawned() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bossSpawned
}
