// internal/host/host.go
package host

import (
	"time"

	"github.com/dragonrift/encounter/pkg/core"
)

// BossTracker is the host's boss health/liveness tracker. The tracker also
// pushes threshold-crossing and death signals into the orchestrator through
// the signal dispatcher; this interface covers the pull side only.
type BossTracker interface {
	// CountAliveBosses returns the number of currently-alive non-final
	// bosses for the event.
	CountAliveBosses(eventID core.EventID) int

	// IsFinalBoss reports whether the boss is the event's final boss,
	// alive or dead.
	IsFinalBoss(eventID core.EventID, boss core.BossID) bool
}

// Spawner creates AI entities in the world.
type Spawner interface {
	Spawn(templateID string, pos core.Position3D) (core.BossID, error)
}

// Teleporter moves participants. Delayed teleports fire no earlier than
// the given delay; a zero delay means as soon as possible.
type Teleporter interface {
	ScheduleTeleport(p core.ParticipantID, pos core.Position3D, delay time.Duration) error
}

// Notifier renders and delivers user-facing messages. Implementations are
// expected to degrade gracefully: a missing template means no message, not
// an error.
type Notifier interface {
	SendStageMessage(stage core.StageKey, phase core.StagePhase, participants []core.ParticipantID, placeholders map[string]string)
	Broadcast(kind core.MessageKind, placeholders map[string]string)
}

// CommandRunner executes console commands on the host server.
type CommandRunner interface {
	RunConsoleCommands(commands []string) error
}

// Collaborators bundles every host-side service the orchestrator consumes.
type Collaborators struct {
	Tracker    BossTracker
	Spawner    Spawner
	Teleporter Teleporter
	Notifier   Notifier
	Runner     CommandRunner
}
