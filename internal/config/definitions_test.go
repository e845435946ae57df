package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dragonrift/encounter/internal/model"
	"github.com/dragonrift/encounter/internal/schedule"
	"github.com/dragonrift/encounter/pkg/core"
)

const validEventJSON = `{
	"events": [{
		"id": "dragon_rift",
		"name": "Dragon Rift",
		"minionTemplates": ["drake_a", "drake_b"],
		"bossTemplate": "elder_wyrm",
		"region": { "min": "0,0,0", "max": "1000,1000,200" },
		"spawn": "500,500,20",
		"completionSpawn": "100,100,10",
		"bellyFraction": 0.35,
		"maxDuration": "1h",
		"joinWindow": "10m",
		"reminderInterval": "2m",
		"preStartReminders": ["30m", "10m", "5m"],
		"schedule": {
			"frequency": "weekly",
			"hour": 20,
			"minute": 30,
			"weekdays": ["friday", "saturday"],
			"timezone": "Europe/Berlin"
		},
		"stages": [
			{ "key": "lobby" },
			{
				"key": "battle",
				"startCommands": ["spawn gates"],
				"timed": [{ "delay": "1m", "commands": ["close gates"] }],
				"messageInterval": "1m"
			},
			{ "key": "belly", "region": { "min": "0,0,-100", "max": "100,100,0" }, "spawn": "50,50,-50" },
			{ "key": "post_belly" },
			{ "key": "final" }
		],
		"rewards": {
			"completion": ["grant all token"],
			"rank": [["grant %s crown"], ["grant %s sword"]]
		}
	}]
}`

func loadEvents(t *testing.T, content string) ([]*model.EventDefinition, []Defect) {
	t.Helper()
	t.Cleanup(viper.Reset)
	dir := writeConfig(t, content)
	require.NoError(t, Load(dir))
	defs, defects, err := LoadDefinitions()
	require.NoError(t, err)
	return defs, defects
}

func TestLoadDefinitions_Valid(t *testing.T) {
	defs, defects := loadEvents(t, validEventJSON)
	require.Empty(t, defects)
	require.Len(t, defs, 1)

	def := defs[0]
	assert.Equal(t, core.EventID("dragon_rift"), def.ID)
	assert.True(t, def.Enabled, "enabled defaults to true when omitted")
	assert.Equal(t, []string{"drake_a", "drake_b"}, def.MinionTemplates)
	assert.Equal(t, "elder_wyrm", def.BossTemplate)
	assert.Equal(t, 0.35, def.BellyFraction)
	assert.Equal(t, time.Hour, def.MaxDuration)
	assert.Equal(t, 10*time.Minute, def.JoinWindow)
	assert.Equal(t, []time.Duration{30 * time.Minute, 10 * time.Minute, 5 * time.Minute}, def.PreStartReminders)

	require.NotNil(t, def.CompletionSpawn)
	assert.Equal(t, core.Position3D{X: 100, Y: 100, Z: 10}, *def.CompletionSpawn)

	assert.Equal(t, schedule.Weekly, def.Rule.Freq)
	assert.Equal(t, 20, def.Rule.Hour)
	assert.Equal(t, []time.Weekday{time.Friday, time.Saturday}, def.Rule.Weekdays)
	assert.Equal(t, "Europe/Berlin", def.Rule.Timezone)

	require.Len(t, def.Stages, 5)
	battle := def.Stage(core.StageBattle)
	require.NotNil(t, battle)
	assert.Equal(t, []string{"spawn gates"}, battle.StartCommands)
	require.Len(t, battle.Timed, 1)
	assert.Equal(t, time.Minute, battle.Timed[0].Delay)
	assert.Equal(t, time.Minute, battle.MessageInterval)

	belly := def.Stage(core.StageBelly)
	require.NotNil(t, belly)
	require.NotNil(t, belly.Region)
	require.NotNil(t, belly.Spawn)
	assert.Equal(t, core.Position3D{X: 50, Y: 50, Z: -50}, *belly.Spawn)

	require.Len(t, def.Rewards.RankCommands, 2)
}

func TestLoadDefinitions_DurationDefaults(t *testing.T) {
	defs, defects := loadEvents(t, `{
		"events": [{
			"id": "minimal",
			"bossTemplate": "wyrm",
			"region": { "min": "0,0,0", "max": "10,10,10" },
			"spawn": "5,5,5",
			"bellyFraction": 0.5,
			"maxDuration": "1h",
			"joinWindow": "5m",
			"schedule": { "frequency": "daily", "hour": 12 },
			"stages": [{ "key": "lobby" }, { "key": "battle" }]
		}]
	}`)
	require.Empty(t, defects)
	require.Len(t, defs, 1)

	def := defs[0]
	assert.Equal(t, 2*time.Minute, def.ReminderInterval)
	assert.Equal(t, 10*time.Minute, def.BellyDuration)
	assert.Equal(t, 3*time.Second, def.BellyTransitionDelay)
	assert.Equal(t, 2*time.Second, def.CaptureTeleportDelay)
	assert.Equal(t, time.Second, def.SpawnInterval)
}

func TestLoadDefinitions_DefectiveEntrySkipped(t *testing.T) {
	defs, defects := loadEvents(t, `{
		"events": [
			{
				"id": "broken",
				"bossTemplate": "wyrm",
				"region": { "min": "0,0,0", "max": "10,10,10" },
				"spawn": "5,5,5",
				"bellyFraction": 1.5,
				"maxDuration": "1h",
				"joinWindow": "5m",
				"schedule": { "frequency": "daily" },
				"stages": [{ "key": "lobby" }]
			},
			{
				"id": "fine",
				"bossTemplate": "wyrm",
				"region": { "min": "0,0,0", "max": "10,10,10" },
				"spawn": "5,5,5",
				"bellyFraction": 0.5,
				"maxDuration": "1h",
				"joinWindow": "5m",
				"schedule": { "frequency": "daily" },
				"stages": [{ "key": "lobby" }]
			}
		]
	}`)

	require.Len(t, defs, 1)
	assert.Equal(t, core.EventID("fine"), defs[0].ID)

	require.Len(t, defects, 1)
	assert.Equal(t, core.EventID("broken"), defects[0].EventID)
	assert.ErrorIs(t, defects[0].Err, model.ErrBadBellyFraction)
}

func TestLoadDefinitions_DuplicateID(t *testing.T) {
	defs, defects := loadEvents(t, `{
		"events": [
			{
				"id": "twin",
				"bossTemplate": "wyrm",
				"region": { "min": "0,0,0", "max": "10,10,10" },
				"spawn": "5,5,5",
				"bellyFraction": 0.5,
				"maxDuration": "1h",
				"joinWindow": "5m",
				"schedule": { "frequency": "daily" },
				"stages": [{ "key": "lobby" }]
			},
			{
				"id": "twin",
				"bossTemplate": "wyrm",
				"region": { "min": "0,0,0", "max": "10,10,10" },
				"spawn": "5,5,5",
				"bellyFraction": 0.5,
				"maxDuration": "1h",
				"joinWindow": "5m",
				"schedule": { "frequency": "daily" },
				"stages": [{ "key": "lobby" }]
			}
		]
	}`)

	require.Len(t, defs, 1)
	require.Len(t, defects, 1)
	assert.ErrorIs(t, defects[0].Err, ErrDuplicateEventID)
}

func TestLoadDefinitions_BadStageKey(t *testing.T) {
	defs, defects := loadEvents(t, `{
		"events": [{
			"id": "bad_stage",
			"bossTemplate": "wyrm",
			"region": { "min": "0,0,0", "max": "10,10,10" },
			"spawn": "5,5,5",
			"bellyFraction": 0.5,
			"maxDuration": "1h",
			"joinWindow": "5m",
			"schedule": { "frequency": "daily" },
			"stages": [{ "key": "intermission" }]
		}]
	}`)

	assert.Empty(t, defs)
	require.Len(t, defects, 1)
	assert.Contains(t, defects[0].Err.Error(), "unknown stage key")
}

func TestLoadDefinitions_NoEventsKey(t *testing.T) {
	defs, defects := loadEvents(t, `{}`)
	assert.Empty(t, defs)
	assert.Empty(t, defects)
}
