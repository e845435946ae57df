package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_Lifecycle(t *testing.T) {
	r := NewRegistry()
	assert.Zero(t, r.CountAliveBosses("dragon_rift"))

	r.Add("dragon_rift", "b1", false)
	r.Add("dragon_rift", "b2", false)
	r.Add("frost_maw", "f1", false)
	assert.Equal(t, 2, r.CountAliveBosses("dragon_rift"))
	assert.Equal(t, 1, r.CountAliveBosses("frost_maw"))

	assert.True(t, r.Kill("dragon_rift", "b1"))
	assert.False(t, r.Kill("dragon_rift", "b1"), "double kill")
	assert.False(t, r.Kill("dragon_rift", "unknown"))
	assert.False(t, r.Kill("frost_maw", "b2"), "wrong event")
	assert.Equal(t, 1, r.CountAliveBosses("dragon_rift"))
}

func TestRegistry_FinalExcluded(t *testing.T) {
	r := NewRegistry()
	r.Add("dragon_rift", "b1", false)
	r.Add("dragon_rift", "wyrm", true)
	assert.Equal(t, 1, r.CountAliveBosses("dragon_rift"))

	assert.True(t, r.Kill("dragon_rift", "b1"))
	assert.Zero(t, r.CountAliveBosses("dragon_rift"), "final boss never counts")
}

func TestRegistry_IsFinalBoss(t *testing.T) {
	r := NewRegistry()
	r.Add("dragon_rift", "b1", false)
	r.Add("dragon_rift", "wyrm", true)

	assert.True(t, r.IsFinalBoss("dragon_rift", "wyrm"))
	assert.False(t, r.IsFinalBoss("dragon_rift", "b1"))
	assert.False(t, r.IsFinalBoss("frost_maw", "wyrm"), "wrong event")
	assert.False(t, r.IsFinalBoss("dragon_rift", "unknown"))

	// The flag outlives the boss: the retiring kill signal still needs it.
	assert.True(t, r.Kill("dragon_rift", "wyrm"))
	assert.True(t, r.IsFinalBoss("dragon_rift", "wyrm"))
}

func TestRegistry_Reset(t *testing.T) {
	r := NewRegistry()
	r.Add("dragon_rift", "b1", false)
	r.Add("frost_maw", "f1", false)
	r.Reset("dragon_rift")
	assert.Zero(t, r.CountAliveBosses("dragon_rift"))
	assert.Equal(t, 1, r.CountAliveBosses("frost_maw"))
}
