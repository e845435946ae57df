package orchestrator

import (
	"github.com/dragonrift/encounter/internal/dispatcher"
	"github.com/dragonrift/encounter/internal/parser"
)

// Host callback commands.
const (
	CmdBossHealth = ":BOSS:HEALTH:"
	CmdBossKilled = ":BOSS:KILLED:"
	CmdJoin       = ":JOIN:"
	CmdLeave      = ":LEAVE:"
	CmdDamage     = ":DAMAGE:"
)

// RegisterHandlers wires the host callback commands into the orchestrator.
// Boss signals stay synchronous so the stage guards observe a consistent
// ordering; join/leave/damage are buffered since they arrive in bursts.
func (o *Orchestrator) RegisterHandlers(d *dispatcher.Dispatcher, p *parser.Parser) {
	d.Register(CmdBossHealth, func(s dispatcher.Signal) (any, error) {
		sig, err := p.ParseBossHealth(s.Args)
		if err != nil {
			return nil, err
		}
		return nil, o.HandleBossHealth(sig)
	}, dispatcher.Logged())

	d.Register(CmdBossKilled, func(s dispatcher.Signal) (any, error) {
		sig, err := p.ParseBossKill(s.Args)
		if err != nil {
			return nil, err
		}
		return nil, o.HandleBossKill(sig)
	}, dispatcher.Logged())

	d.Register(CmdJoin, func(s dispatcher.Signal) (any, error) {
		sig, err := p.ParseJoin(s.Args)
		if err != nil {
			return nil, err
		}
		return nil, o.HandleJoin(sig)
	}, dispatcher.Buffered(256))

	d.Register(CmdLeave, func(s dispatcher.Signal) (any, error) {
		sig, err := p.ParseLeave(s.Args)
		if err != nil {
			return nil, err
		}
		return nil, o.HandleLeave(sig)
	}, dispatcher.Buffered(256))

	d.Register(CmdDamage, func(s dispatcher.Signal) (any, error) {
		sig, err := p.ParseDamage(s.Args)
		if err != nil {
			return nil, err
		}
		return nil, o.HandleDamage(sig)
	}, dispatcher.Buffered(1024))
}
