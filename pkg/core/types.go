// pkg/core/types.go
package core

// EventID identifies a configured encounter definition.
type EventID string

// BossID is the host entity identifier of a spawned boss.
type BossID string

// ParticipantID is the host identifier of a player enrolled in an occurrence.
type ParticipantID string

// Position3D is a point in the host's world coordinate space.
type Position3D struct {
	X float64 `json:"x"` // easting
	Y float64 `json:"y"` // northing
	Z float64 `json:"z"` // elevation
}

// StageKey is an ordered encounter phase.
type StageKey int

const (
	StageLobby StageKey = iota
	StageBattle
	StageBelly
	StagePostBelly
	StageFinal
)

var stageNames = map[StageKey]string{
	StageLobby:     "lobby",
	StageBattle:    "battle",
	StageBelly:     "belly",
	StagePostBelly: "post_belly",
	StageFinal:     "final",
}

func (k StageKey) String() string {
	if name, ok := stageNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseStageKey maps a config string to a StageKey.
func ParseStageKey(s string) (StageKey, bool) {
	for k, name := range stageNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// StagePhase distinguishes start and end notifications for a stage.
type StagePhase string

const (
	PhaseStart StagePhase = "start"
	PhaseEnd   StagePhase = "end"
)

// MessageKind identifies a broadcast message template.
type MessageKind string

const (
	MsgPreStartReminder MessageKind = "prestart_reminder"
	MsgJoinOpen         MessageKind = "join_open"
	MsgJoinReminder     MessageKind = "join_reminder"
	MsgJoinClosed       MessageKind = "join_closed"
	MsgStageMessage     MessageKind = "stage_message"
	MsgCompletion       MessageKind = "completion"
)
