// pkg/core/signals.go
package core

import "time"

// BossHealthSignal reports a boss whose health fraction crossed the
// configured belly threshold.
type BossHealthSignal struct {
	EventID  EventID
	BossID   BossID
	Fraction float64
	Time     time.Time
}

// BossKillSignal reports a boss death.
type BossKillSignal struct {
	EventID EventID
	BossID  BossID
	Time    time.Time
}

// JoinSignal reports a player asking to enroll in an occurrence.
type JoinSignal struct {
	EventID       EventID
	ParticipantID ParticipantID
	Spectator     bool
	Time          time.Time
}

// LeaveSignal reports a player leaving an occurrence.
type LeaveSignal struct {
	EventID       EventID
	ParticipantID ParticipantID
	Time          time.Time
}

// DamageSignal reports damage dealt by a participant to a boss,
// accumulated for completion rankings.
type DamageSignal struct {
	EventID       EventID
	ParticipantID ParticipantID
	Amount        float64
	Time          time.Time
}
