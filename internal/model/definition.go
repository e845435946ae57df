// Package model holds the validated, immutable encounter configuration
// model. Raw config is decoded and validated once at load time; nothing in
// this package mutates after validation.
package model

import (
	"time"

	"github.com/dragonrift/encounter/internal/geo"
	"github.com/dragonrift/encounter/internal/schedule"
	"github.com/dragonrift/encounter/pkg/core"
)

// TimedCommandBatch is a one-shot console command batch fired a fixed delay
// after its stage starts.
type TimedCommandBatch struct {
	Delay    time.Duration
	Commands []string
}

// StageDefinition configures one ordered phase of an encounter.
type StageDefinition struct {
	Key           core.StageKey
	StartCommands []string
	EndCommands   []string
	Timed         []TimedCommandBatch

	// MessageInterval drives the repeating in-stage message; <= 0 disables it.
	MessageInterval time.Duration

	// Region and Spawn override the event-level area for this stage.
	Region *geo.Region
	Spawn  *core.Position3D
}

// RewardSpec holds the console commands run at completion. RankCommands is
// indexed by damage rank (0 = top damage); each participant placeholder is
// substituted by the command runner collaborator.
type RewardSpec struct {
	Completion   []string
	RankCommands [][]string
}

// EventDefinition is one configured encounter. Instances are built by the
// config package's validation pass and treated as immutable afterwards.
type EventDefinition struct {
	ID      core.EventID
	Name    string
	Enabled bool

	// MinionTemplates are the intermediate boss entity templates spawned
	// one at a time when the battle stage starts.
	MinionTemplates []string

	// BossTemplate is the singular final boss entity template.
	BossTemplate string

	Region geo.Region
	Spawn  core.Position3D

	// CompletionSpawn is where everyone is moved at teardown; nil falls
	// back to the boss spawn point.
	CompletionSpawn *core.Position3D

	// BellyFraction is the boss health fraction at or below which belly
	// capture triggers. Must be within [0, 1].
	BellyFraction float64

	MaxDuration      time.Duration
	JoinWindow       time.Duration
	ReminderInterval time.Duration

	// BellyDuration bounds the capture stage before the timeout path moves
	// everyone to post-belly.
	BellyDuration time.Duration

	// BellyTransitionDelay is the pause between the first threshold trigger
	// and the battle-to-belly stage switch, syncing with the swallow
	// animation on the host.
	BellyTransitionDelay time.Duration

	// CaptureTeleportDelay is the pause before captured participants are
	// moved into the belly sub-area.
	CaptureTeleportDelay time.Duration

	// SpawnInterval is the delay between successive minion spawns; <= 0
	// defaults to one second.
	SpawnInterval time.Duration

	// PreStartReminders are offsets before the start instant at which a
	// reminder broadcast fires, e.g. [1h, 15m, 5m].
	PreStartReminders []time.Duration

	Rule    schedule.Rule
	Stages  []StageDefinition
	Rewards RewardSpec
}

// Stage returns the definition for a stage key, or nil if the event does not
// configure that stage.
func (d *EventDefinition) Stage(key core.StageKey) *StageDefinition {
	for i := range d.Stages {
		if d.Stages[i].Key == key {
			return &d.Stages[i]
		}
	}
	return nil
}

// StageRegion resolves the effective area for a stage: the stage override
// when set, otherwise the event region.
func (d *EventDefinition) StageRegion(key core.StageKey) geo.Region {
	if s := d.Stage(key); s != nil && s.Region != nil {
		return *s.Region
	}
	return d.Region
}

// StageSpawn resolves the effective spawn point for a stage: the stage
// override when set, otherwise the event default spawn.
func (d *EventDefinition) StageSpawn(key core.StageKey) core.Position3D {
	if s := d.Stage(key); s != nil && s.Spawn != nil {
		return *s.Spawn
	}
	return d.Spawn
}

// FirstStage returns the key of the first configured stage.
func (d *EventDefinition) FirstStage() core.StageKey {
	return d.Stages[0].Key
}

// StageAfter returns the configured stage following key, and false when key
// is the last stage or not configured.
func (d *EventDefinition) StageAfter(key core.StageKey) (core.StageKey, bool) {
	for i := range d.Stages {
		if d.Stages[i].Key == key && i+1 < len(d.Stages) {
			return d.Stages[i+1].Key, true
		}
	}
	return 0, false
}
