package parser

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dragonrift/encounter/pkg/core"
)

func newTestParser() *Parser {
	return NewParser(slog.Default())
}

func TestParseBossHealth(t *testing.T) {
	p := newTestParser()

	sig, err := p.ParseBossHealth([]string{`"dragon_rift"`, `"boss_1"`, `"0.35"`})
	require.NoError(t, err)
	assert.Equal(t, core.EventID("dragon_rift"), sig.EventID)
	assert.Equal(t, core.BossID("boss_1"), sig.BossID)
	assert.Equal(t, 0.35, sig.Fraction)
	assert.False(t, sig.Time.IsZero())
}

func TestParseBossHealth_Errors(t *testing.T) {
	p := newTestParser()

	tests := []struct {
		name string
		data []string
	}{
		{"too few args", []string{"dragon_rift", "boss_1"}},
		{"non-numeric fraction", []string{"dragon_rift", "boss_1", "abc"}},
		{"fraction above one", []string{"dragon_rift", "boss_1", "35"}},
		{"negative fraction", []string{"dragon_rift", "boss_1", "-0.1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ParseBossHealth(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestParseBossKill(t *testing.T) {
	p := newTestParser()

	sig, err := p.ParseBossKill([]string{"dragon_rift", "boss_2"})
	require.NoError(t, err)
	assert.Equal(t, core.EventID("dragon_rift"), sig.EventID)
	assert.Equal(t, core.BossID("boss_2"), sig.BossID)

	_, err = p.ParseBossKill([]string{"dragon_rift"})
	assert.Error(t, err)
}

func TestParseJoin(t *testing.T) {
	p := newTestParser()

	sig, err := p.ParseJoin([]string{"dragon_rift", "alice", "false"})
	require.NoError(t, err)
	assert.Equal(t, core.ParticipantID("alice"), sig.ParticipantID)
	assert.False(t, sig.Spectator)

	sig, err = p.ParseJoin([]string{"dragon_rift", "bob", "TRUE"})
	require.NoError(t, err)
	assert.True(t, sig.Spectator)

	// Two-arg form from older host builds.
	sig, err = p.ParseJoin([]string{"dragon_rift", "carol"})
	require.NoError(t, err)
	assert.False(t, sig.Spectator)

	_, err = p.ParseJoin([]string{"dragon_rift", "dave", "maybe"})
	assert.Error(t, err)
}

func TestParseLeave(t *testing.T) {
	p := newTestParser()

	sig, err := p.ParseLeave([]string{`"dragon_rift"`, `"alice"`})
	require.NoError(t, err)
	assert.Equal(t, core.EventID("dragon_rift"), sig.EventID)
	assert.Equal(t, core.ParticipantID("alice"), sig.ParticipantID)

	_, err = p.ParseLeave([]string{"dragon_rift"})
	assert.Error(t, err)
}

func TestParseDamage(t *testing.T) {
	p := newTestParser()

	sig, err := p.ParseDamage([]string{"dragon_rift", "alice", "125.50"})
	require.NoError(t, err)
	assert.Equal(t, 125.5, sig.Amount)

	// Heals are clamped to zero, not rejected.
	sig, err = p.ParseDamage([]string{"dragon_rift", "alice", "-40"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, sig.Amount)

	_, err = p.ParseDamage([]string{"dragon_rift", "alice", "abc"})
	assert.Error(t, err)
}
