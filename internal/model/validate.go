package model

import (
	"errors"
	"fmt"
)

// Validation failures are configuration defects: the definition is skipped
// at load time and never reaches the orchestrator.
var (
	ErrNoStages          = errors.New("definition has no stages")
	ErrBadBellyFraction  = errors.New("belly fraction outside [0, 1]")
	ErrNoBossTemplate    = errors.New("definition has no boss template")
	ErrEmptyID           = errors.New("definition has empty id")
	ErrEmptyRegion       = errors.New("definition has empty region")
	ErrSpawnOutsideEvent = errors.New("spawn point outside event region")
	ErrNonPositiveWindow = errors.New("join window must be positive")
	ErrNonPositiveMax    = errors.New("max duration must be positive")
	ErrDuplicateStage    = errors.New("duplicate stage key")
)

// Validate checks the invariants the orchestrator relies on. A non-nil
// return marks the whole definition defective.
func (d *EventDefinition) Validate() error {
	if d.ID == "" {
		return ErrEmptyID
	}
	if len(d.Stages) == 0 {
		return fmt.Errorf("event %s: %w", d.ID, ErrNoStages)
	}
	if d.BellyFraction < 0 || d.BellyFraction > 1 {
		return fmt.Errorf("event %s: %w (got %g)", d.ID, ErrBadBellyFraction, d.BellyFraction)
	}
	if d.BossTemplate == "" {
		return fmt.Errorf("event %s: %w", d.ID, ErrNoBossTemplate)
	}
	if d.Region.IsZero() {
		return fmt.Errorf("event %s: %w", d.ID, ErrEmptyRegion)
	}
	if !d.Region.Contains(d.Spawn) {
		return fmt.Errorf("event %s: %w", d.ID, ErrSpawnOutsideEvent)
	}
	if d.JoinWindow <= 0 {
		return fmt.Errorf("event %s: %w", d.ID, ErrNonPositiveWindow)
	}
	if d.MaxDuration <= 0 {
		return fmt.Errorf("event %s: %w", d.ID, ErrNonPositiveMax)
	}
	seen := map[int]bool{}
	for _, s := range d.Stages {
		if seen[int(s.Key)] {
			return fmt.Errorf("event %s: %w (%s)", d.ID, ErrDuplicateStage, s.Key)
		}
		seen[int(s.Key)] = true
	}
	return nil
}
