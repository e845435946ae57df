// Package history persists the encounter archive: rows go to the database
// through a write-behind queue, and each occurrence is additionally exported
// as a JSON archive file.
package history

import (
	"time"

	"gorm.io/datatypes"
)

// EventRecord is one configured event definition, upserted on every
// definition load. Spawn points are stored as WKB XYZ points so both
// database backends share a format.
type EventRecord struct {
	ID      uint   `gorm:"primarykey"`
	EventID string `gorm:"uniqueIndex;size:64"`
	Name    string
	Enabled bool

	// SpawnWKB is the default spawn point as a WKB XYZ point.
	SpawnWKB []byte

	// Stages holds the ordered stage keys as a JSON array.
	Stages datatypes.JSON

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OccurrenceRecord is one finished occurrence row.
type OccurrenceRecord struct {
	ID        uint   `gorm:"primarykey"`
	RunID     string `gorm:"uniqueIndex;size:36"`
	EventID   string `gorm:"index"`
	EventName string

	StartedAt time.Time
	EndedAt   time.Time

	ParticipantCount int

	// Rankings holds the damage leaderboard as a JSON array, top first.
	Rankings datatypes.JSON

	CreatedAt time.Time
}

// StageTransition is one stage start or end within an occurrence.
type StageTransition struct {
	ID      uint   `gorm:"primarykey"`
	RunID   string `gorm:"index;size:36"`
	EventID string `gorm:"index"`

	Stage string
	Phase string

	Participants int
	At           time.Time

	CreatedAt time.Time
}

// CaptureRecord is one accepted belly allocation batch.
type CaptureRecord struct {
	ID      uint   `gorm:"primarykey"`
	RunID   string `gorm:"index;size:36"`
	EventID string `gorm:"index"`
	BossID  string

	Count       int
	AliveBosses int
	At          time.Time

	CreatedAt time.Time
}

// BossKillRecord is one accepted boss kill signal.
type BossKillRecord struct {
	ID      uint   `gorm:"primarykey"`
	RunID   string `gorm:"index;size:36"`
	EventID string `gorm:"index"`
	BossID  string

	Final bool
	At    time.Time

	CreatedAt time.Time
}

// CompletionRecord marks a successfully completed occurrence with its
// completion teleport destination and the reward batch that ran.
type CompletionRecord struct {
	ID      uint   `gorm:"primarykey"`
	RunID   string `gorm:"uniqueIndex;size:36"`
	EventID string `gorm:"index"`

	CompletedAt time.Time

	// DestinationWKB is the completion teleport point as a WKB XYZ point.
	DestinationWKB []byte

	// RewardCommands holds the completion command templates as a JSON array.
	RewardCommands datatypes.JSON

	CreatedAt time.Time
}

// DamageRanking is one leaderboard placement row, duplicated out of
// OccurrenceRecord.Rankings for per-participant queries.
type DamageRanking struct {
	ID      uint   `gorm:"primarykey"`
	RunID   string `gorm:"index;size:36"`
	EventID string `gorm:"index"`

	Rank        int
	Participant string
	Damage      float64

	CreatedAt time.Time
}

// StatusSnapshot is one periodic monitor snapshot.
type StatusSnapshot struct {
	ID uint `gorm:"primarykey"`

	TakenAt    time.Time
	ActiveRuns int

	// Payload holds the full status document as JSON.
	Payload datatypes.JSON

	CreatedAt time.Time
}

// RankingEntry is one leaderboard row inside OccurrenceRecord.Rankings and
// the export file.
type RankingEntry struct {
	Rank        int     `json:"rank"`
	Participant string  `json:"participant"`
	Damage      float64 `json:"damage"`
}

// Models lists every table the schema migration creates.
var Models = []any{
	&EventRecord{},
	&OccurrenceRecord{},
	&StageTransition{},
	&CaptureRecord{},
	&BossKillRecord{},
	&CompletionRecord{},
	&DamageRanking{},
	&StatusSnapshot{},
}
