package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dragonrift/encounter/internal/geo"
	"github.com/dragonrift/encounter/pkg/core"
)

func validDefinition() *EventDefinition {
	return &EventDefinition{
		ID:              "dragon_rift",
		Name:            "Dragon Rift",
		Enabled:         true,
		MinionTemplates: []string{"drake_a", "drake_b"},
		BossTemplate:    "elder_wyrm",
		Region:          geo.NewRegion(core.Position3D{}, core.Position3D{X: 1000, Y: 1000, Z: 256}),
		Spawn:           core.Position3D{X: 500, Y: 500, Z: 64},
		BellyFraction:   0.35,
		MaxDuration:     2 * time.Hour,
		JoinWindow:      10 * time.Minute,
		Stages: []StageDefinition{
			{Key: core.StageLobby},
			{Key: core.StageBattle},
			{Key: core.StageBelly},
			{Key: core.StagePostBelly},
			{Key: core.StageFinal},
		},
	}
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, validDefinition().Validate())
}

func TestValidate_Defects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*EventDefinition)
		want   error
	}{
		{"empty id", func(d *EventDefinition) { d.ID = "" }, ErrEmptyID},
		{"no stages", func(d *EventDefinition) { d.Stages = nil }, ErrNoStages},
		{"fraction below zero", func(d *EventDefinition) { d.BellyFraction = -0.1 }, ErrBadBellyFraction},
		{"fraction above one", func(d *EventDefinition) { d.BellyFraction = 1.5 }, ErrBadBellyFraction},
		{"no boss template", func(d *EventDefinition) { d.BossTemplate = "" }, ErrNoBossTemplate},
		{"empty region", func(d *EventDefinition) { d.Region = geo.Region{} }, ErrEmptyRegion},
		{"spawn outside region", func(d *EventDefinition) { d.Spawn = core.Position3D{X: -10} }, ErrSpawnOutsideEvent},
		{"zero join window", func(d *EventDefinition) { d.JoinWindow = 0 }, ErrNonPositiveWindow},
		{"zero max duration", func(d *EventDefinition) { d.MaxDuration = 0 }, ErrNonPositiveMax},
		{"duplicate stage", func(d *EventDefinition) {
			d.Stages = append(d.Stages, StageDefinition{Key: core.StageBattle})
		}, ErrDuplicateStage},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := validDefinition()
			tc.mutate(d)
			err := d.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v, want %v", err, tc.want)
		})
	}
}

func TestStageResolution(t *testing.T) {
	d := validDefinition()
	bellyRegion := geo.NewRegion(core.Position3D{X: 100, Y: 100}, core.Position3D{X: 200, Y: 200, Z: 50})
	bellySpawn := core.Position3D{X: 150, Y: 150, Z: 10}
	d.Stages[2].Region = &bellyRegion
	d.Stages[2].Spawn = &bellySpawn

	assert.Equal(t, bellyRegion, d.StageRegion(core.StageBelly))
	assert.Equal(t, bellySpawn, d.StageSpawn(core.StageBelly))

	// Stages without overrides resolve to the event area.
	assert.Equal(t, d.Region, d.StageRegion(core.StageBattle))
	assert.Equal(t, d.Spawn, d.StageSpawn(core.StageBattle))
}

func TestStageAfter(t *testing.T) {
	d := validDefinition()

	next, ok := d.StageAfter(core.StageLobby)
	require.True(t, ok)
	assert.Equal(t, core.StageBattle, next)

	_, ok = d.StageAfter(core.StageFinal)
	assert.False(t, ok)
}
