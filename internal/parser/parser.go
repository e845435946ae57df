// Package parser converts raw host callback arguments into typed signals.
// The host serializes every argument as a quoted string; numbers may arrive
// as integers ("20") or floats ("20.00").
package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/dragonrift/encounter/internal/util"
	"github.com/dragonrift/encounter/pkg/core"
)

// Parser provides pure []string -> signal conversion. It has zero external
// dependencies beyond a logger.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a new parser with only a logger dependency.
func NewParser(logger *slog.Logger) *Parser {
	return &Parser{logger: logger}
}

func fixData(data []string) {
	for i, v := range data {
		data[i] = util.FixEscapeQuotes(util.TrimQuotes(v))
	}
}

// ParseBossHealth parses a boss health threshold callback.
// Expected args: [eventId, bossId, healthFraction].
func (p *Parser) ParseBossHealth(data []string) (core.BossHealthSignal, error) {
	var sig core.BossHealthSignal
	fixData(data)
	if len(data) < 3 {
		return sig, fmt.Errorf("boss health: expected 3 args, got %d", len(data))
	}

	fraction, err := strconv.ParseFloat(data[2], 64)
	if err != nil {
		return sig, fmt.Errorf("error converting health fraction to float: %w", err)
	}
	if fraction < 0 || fraction > 1 {
		return sig, fmt.Errorf("health fraction %v outside [0, 1]", fraction)
	}

	sig.EventID = core.EventID(data[0])
	sig.BossID = core.BossID(data[1])
	sig.Fraction = fraction
	sig.Time = time.Now()
	return sig, nil
}

// ParseBossKill parses a boss death callback.
// Expected args: [eventId, bossId].
func (p *Parser) ParseBossKill(data []string) (core.BossKillSignal, error) {
	var sig core.BossKillSignal
	fixData(data)
	if len(data) < 2 {
		return sig, fmt.Errorf("boss kill: expected 2 args, got %d", len(data))
	}
	sig.EventID = core.EventID(data[0])
	sig.BossID = core.BossID(data[1])
	sig.Time = time.Now()
	return sig, nil
}

// ParseJoin parses a join callback.
// Expected args: [eventId, participantId, isSpectator]. The spectator flag is
// optional; older host builds send only two args.
func (p *Parser) ParseJoin(data []string) (core.JoinSignal, error) {
	var sig core.JoinSignal
	fixData(data)
	if len(data) < 2 {
		return sig, fmt.Errorf("join: expected 2 args, got %d", len(data))
	}
	sig.EventID = core.EventID(data[0])
	sig.ParticipantID = core.ParticipantID(data[1])
	if len(data) >= 3 && data[2] != "" {
		spectator, err := strconv.ParseBool(strings.ToLower(data[2]))
		if err != nil {
			return sig, fmt.Errorf("error converting spectator flag to bool: %w", err)
		}
		sig.Spectator = spectator
	}
	sig.Time = time.Now()
	return sig, nil
}

// ParseLeave parses a leave callback.
// Expected args: [eventId, participantId].
func (p *Parser) ParseLeave(data []string) (core.LeaveSignal, error) {
	var sig core.LeaveSignal
	fixData(data)
	if len(data) < 2 {
		return sig, fmt.Errorf("leave: expected 2 args, got %d", len(data))
	}
	sig.EventID = core.EventID(data[0])
	sig.ParticipantID = core.ParticipantID(data[1])
	sig.Time = time.Now()
	return sig, nil
}

// ParseDamage parses a damage-dealt callback.
// Expected args: [eventId, participantId, amount]. Negative amounts (heals)
// are dropped to zero so rankings only count damage dealt.
func (p *Parser) ParseDamage(data []string) (core.DamageSignal, error) {
	var sig core.DamageSignal
	fixData(data)
	if len(data) < 3 {
		return sig, fmt.Errorf("damage: expected 3 args, got %d", len(data))
	}

	amount, err := strconv.ParseFloat(data[2], 64)
	if err != nil {
		return sig, fmt.Errorf("error converting damage amount to float: %w", err)
	}
	if amount < 0 {
		p.logger.Debug("Dropping negative damage amount", "amount", amount)
		amount = 0
	}

	sig.EventID = core.EventID(data[0])
	sig.ParticipantID = core.ParticipantID(data[1])
	sig.Amount = amount
	sig.Time = time.Now()
	return sig, nil
}
