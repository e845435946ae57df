package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dragonrift/encounter/internal/geo"
	"github.com/dragonrift/encounter/internal/model"
	"github.com/dragonrift/encounter/pkg/core"
)

func testDefinition() *model.EventDefinition {
	return &model.EventDefinition{
		ID:                "rift",
		Enabled:           true,
		MinionTemplates:   []string{"drake_a", "drake_b", "drake_c"},
		BossTemplate:      "elder_wyrm",
		Region:            geo.NewRegion(core.Position3D{}, core.Position3D{X: 100, Y: 100, Z: 100}),
		Spawn:             core.Position3D{X: 50, Y: 50, Z: 10},
		BellyFraction:     0.35,
		MaxDuration:       time.Hour,
		JoinWindow:        10 * time.Minute,
		ReminderInterval:  2 * time.Minute,
		PreStartReminders: []time.Duration{30 * time.Minute, 10 * time.Minute, 5 * time.Minute},
		Stages: []model.StageDefinition{
			{Key: core.StageLobby},
			{Key: core.StageBattle, Timed: []model.TimedCommandBatch{
				{Delay: time.Minute, Commands: []string{"cmd one"}},
				{Delay: 5 * time.Minute, Commands: []string{"cmd two"}},
			}, MessageInterval: time.Minute},
			{Key: core.StageBelly},
			{Key: core.StagePostBelly},
			{Key: core.StageFinal},
		},
	}
}

func TestParticipantSet(t *testing.T) {
	s := NewParticipantSet()

	assert.True(t, s.Add("alice"))
	assert.False(t, s.Add("alice"), "second add should report existing")
	assert.True(t, s.Add("bob"))
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Contains("alice"))

	assert.Equal(t, []core.ParticipantID{"alice", "bob"}, s.Snapshot())

	assert.True(t, s.Remove("alice"))
	assert.False(t, s.Remove("alice"))
	s.Clear()
	assert.Equal(t, 0, s.Len())
}

func TestDamageTally_Top(t *testing.T) {
	d := NewDamageTally()
	d.Add("alice", 100)
	d.Add("bob", 300)
	d.Add("alice", 50)
	d.Add("carol", 150)

	top := d.Top(2)
	require.Len(t, top, 2)
	assert.Equal(t, core.ParticipantID("bob"), top[0].Participant)
	assert.Equal(t, core.ParticipantID("alice"), top[1].Participant)
	assert.Equal(t, 150.0, top[1].Damage)

	all := d.Top(-1)
	assert.Len(t, all, 3)
}

func TestOccurrenceRun_ReminderLatestWins(t *testing.T) {
	def := testDefinition()
	start := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)
	run := NewOccurrenceRun(def, start)

	// Nothing due long before the first reminder.
	_, ok := run.DuePreStartReminder(start.Add(-time.Hour))
	assert.False(t, ok)

	// After a gap covering two reminder instants, only the latest fires;
	// the earlier one is swallowed.
	at, ok := run.DuePreStartReminder(start.Add(-7 * time.Minute))
	require.True(t, ok)
	assert.Equal(t, start.Add(-10*time.Minute), at)

	// The remaining reminder still fires at its own instant.
	at, ok = run.DuePreStartReminder(start.Add(-4 * time.Minute))
	require.True(t, ok)
	assert.Equal(t, start.Add(-5*time.Minute), at)

	// Each reminder fires at most once.
	_, ok = run.DuePreStartReminder(start)
	assert.False(t, ok)
}

func TestOccurrenceRun_JoinWindowTransitionsOnce(t *testing.T) {
	def := testDefinition()
	start := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)
	run := NewOccurrenceRun(def, start)

	assert.False(t, run.OpenJoinOnce(start.Add(-time.Second)))
	assert.True(t, run.OpenJoinOnce(start))
	assert.False(t, run.OpenJoinOnce(start.Add(time.Second)), "second open must be a no-op")
	assert.True(t, run.JoinOpen())

	assert.False(t, run.CloseJoinOnce(start.Add(def.JoinWindow-time.Second)))
	assert.True(t, run.CloseJoinOnce(start.Add(def.JoinWindow)))
	assert.False(t, run.CloseJoinOnce(start.Add(def.JoinWindow+time.Second)))
	assert.False(t, run.JoinOpen())
}

func TestOccurrenceRun_JoinReminderInterval(t *testing.T) {
	def := testDefinition()
	start := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)
	run := NewOccurrenceRun(def, start)
	run.OpenJoinOnce(start)

	assert.True(t, run.JoinReminderDue(start, def.ReminderInterval))
	assert.False(t, run.JoinReminderDue(start.Add(time.Minute), def.ReminderInterval))
	assert.True(t, run.JoinReminderDue(start.Add(2*time.Minute), def.ReminderInterval))

	// Not after the window end.
	assert.False(t, run.JoinReminderDue(start.Add(def.JoinWindow), def.ReminderInterval))
}

func TestOccurrenceRun_StageIdempotence(t *testing.T) {
	def := testDefinition()
	start := time.Now()
	run := NewOccurrenceRun(def, start)

	assert.True(t, run.StartStage(def.Stage(core.StageBattle), start))
	assert.False(t, run.StartStage(def.Stage(core.StageBattle), start.Add(time.Second)))
	assert.Equal(t, StageStarted, run.StagePhase(core.StageBattle))

	assert.True(t, run.EndStage(core.StageBattle))
	assert.False(t, run.EndStage(core.StageBattle))
	assert.Equal(t, StageEnded, run.StagePhase(core.StageBattle))

	// Ending a never-started stage is a no-op.
	assert.False(t, run.EndStage(core.StageFinal))
	assert.Equal(t, StageNotStarted, run.StagePhase(core.StageFinal))
}

func TestOccurrenceRun_TimedBatchesFireOnce(t *testing.T) {
	def := testDefinition()
	start := time.Now()
	run := NewOccurrenceRun(def, start)
	run.StartStage(def.Stage(core.StageBattle), start)

	assert.Empty(t, run.DueCommandBatches(core.StageBattle, start.Add(30*time.Second)))

	due := run.DueCommandBatches(core.StageBattle, start.Add(time.Minute))
	require.Len(t, due, 1)
	assert.Equal(t, []string{"cmd one"}, due[0])

	// Both due at +6m, but the first already executed.
	due = run.DueCommandBatches(core.StageBattle, start.Add(6*time.Minute))
	require.Len(t, due, 1)
	assert.Equal(t, []string{"cmd two"}, due[0])

	assert.Empty(t, run.DueCommandBatches(core.StageBattle, start.Add(time.Hour)))
}

func TestOccurrenceRun_TimedBatchesStopWithStage(t *testing.T) {
	def := testDefinition()
	start := time.Now()
	run := NewOccurrenceRun(def, start)
	run.StartStage(def.Stage(core.StageBattle), start)
	run.EndStage(core.StageBattle)

	assert.Empty(t, run.DueCommandBatches(core.StageBattle, start.Add(time.Hour)))
}

func TestOccurrenceRun_RepeatMessageReschedules(t *testing.T) {
	def := testDefinition()
	start := time.Now()
	run := NewOccurrenceRun(def, start)
	run.StartStage(def.Stage(core.StageBattle), start)

	assert.False(t, run.DueRepeatMessage(core.StageBattle, start.Add(30*time.Second)))
	assert.True(t, run.DueRepeatMessage(core.StageBattle, start.Add(time.Minute)))
	assert.False(t, run.DueRepeatMessage(core.StageBattle, start.Add(90*time.Second)))
	assert.True(t, run.DueRepeatMessage(core.StageBattle, start.Add(2*time.Minute)))

	// Stages without a configured interval never fire.
	run.StartStage(def.Stage(core.StageBelly), start)
	assert.False(t, run.DueRepeatMessage(core.StageBelly, start.Add(time.Hour)))
}

func TestOccurrenceRun_SpawnCadence(t *testing.T) {
	def := testDefinition()
	start := time.Now()
	run := NewOccurrenceRun(def, start)
	run.StartStage(def.Stage(core.StageBattle), start)
	run.QueueSpawns(core.StageBattle, def.MinionTemplates, 2*time.Second, start)

	tpl, ok := run.NextSpawn(core.StageBattle, start)
	require.True(t, ok)
	assert.Equal(t, "drake_a", tpl)

	// Next spawn waits for the cadence interval.
	_, ok = run.NextSpawn(core.StageBattle, start.Add(time.Second))
	assert.False(t, ok)

	tpl, ok = run.NextSpawn(core.StageBattle, start.Add(2*time.Second))
	require.True(t, ok)
	assert.Equal(t, "drake_b", tpl)
	assert.Equal(t, 1, run.PendingSpawns(core.StageBattle))

	tpl, ok = run.NextSpawn(core.StageBattle, start.Add(4*time.Second))
	require.True(t, ok)
	assert.Equal(t, "drake_c", tpl)

	_, ok = run.NextSpawn(core.StageBattle, start.Add(time.Hour))
	assert.False(t, ok, "drained queue must not spawn")
}

func TestOccurrenceRun_SpawnCadenceZeroIntervalDefaultsToOneSecond(t *testing.T) {
	def := testDefinition()
	start := time.Now()
	run := NewOccurrenceRun(def, start)
	run.StartStage(def.Stage(core.StageBattle), start)
	run.QueueSpawns(core.StageBattle, def.MinionTemplates, 0, start)

	_, ok := run.NextSpawn(core.StageBattle, start)
	require.True(t, ok)
	_, ok = run.NextSpawn(core.StageBattle, start.Add(500*time.Millisecond))
	assert.False(t, ok)
	_, ok = run.NextSpawn(core.StageBattle, start.Add(time.Second))
	assert.True(t, ok)
}

func TestOccurrenceRun_CaptureBookkeeping(t *testing.T) {
	def := testDefinition()
	run := NewOccurrenceRun(def, time.Now())

	run.Capture("boss1", []core.ParticipantID{"a", "b", "c"})
	run.Capture("boss2", []core.ParticipantID{"d", "e"})

	assert.Equal(t, 5, run.CapturedCount())
	assert.Equal(t, 3, run.BucketSize("boss1"))
	assert.Equal(t, run.CapturedSnapshot(), run.BucketUnion(),
		"global captured set must equal the union of per-boss buckets")

	left := run.FilterUncaptured([]core.ParticipantID{"a", "d", "f", "g"})
	assert.Equal(t, []core.ParticipantID{"f", "g"}, left)

	released := run.ReleaseBoss("boss1")
	assert.Equal(t, []core.ParticipantID{"a", "b", "c"}, released)
	assert.Equal(t, 2, run.CapturedCount())
	assert.Equal(t, run.CapturedSnapshot(), run.BucketUnion())

	// Releasing the same boss twice yields nothing.
	assert.Empty(t, run.ReleaseBoss("boss1"))

	run.ClearCapture()
	assert.Equal(t, 0, run.CapturedCount())
	assert.Empty(t, run.BucketUnion())
}

func TestOccurrenceRun_OnceFlags(t *testing.T) {
	def := testDefinition()
	now := time.Now()
	run := NewOccurrenceRun(def, now)

	assert.True(t, run.BeginCapture(now.Add(3*time.Second)))
	assert.False(t, run.BeginCapture(now.Add(5*time.Second)))
	assert.True(t, run.CaptureStarted())

	assert.False(t, run.TransitionDue(now))
	assert.True(t, run.TransitionDue(now.Add(3*time.Second)))
	assert.False(t, run.TransitionDue(now.Add(time.Hour)), "transition is one-shot")

	assert.True(t, run.MarkBellyTimedOut())
	assert.False(t, run.MarkBellyTimedOut())

	assert.True(t, run.MarkBossSpawned())
	assert.False(t, run.MarkBossSpawned())
	assert.True(t, run.BossSpawned())
}

func TestOccurrenceRun_Expiry(t *testing.T) {
	def := testDefinition()
	start := time.Now()
	run := NewOccurrenceRun(def, start)

	assert.False(t, run.Expired(start.Add(def.MaxDuration-time.Second)))
	assert.True(t, run.Expired(start.Add(def.MaxDuration)))
}

func TestEventState_Teardown(t *testing.T) {
	s := NewEventState()
	s.SetFlags(true, false)
	s.SetStage(core.StageFinal)
	s.Participants.Add("alice")
	s.Spectators.Add("watcher")
	s.Damage.Add("alice", 42)

	s.Teardown()

	assert.False(t, s.Running())
	assert.False(t, s.Joinable())
	assert.Equal(t, core.StageLobby, s.Stage())
	assert.Equal(t, 0, s.Participants.Len())
	assert.Equal(t, 0, s.Spectators.Len())
	assert.Empty(t, s.Damage.Top(-1))
}

func TestEvent_RunLifecycle(t *testing.T) {
	def := testDefinition()
	ev := NewEvent(def)
	require.Nil(t, ev.Run())

	run := NewOccurrenceRun(def, time.Now())
	ev.SetRun(run)
	assert.Same(t, run, ev.Run())

	ev.DiscardRun()
	assert.Nil(t, ev.Run())
}
