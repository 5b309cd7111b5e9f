package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/sweeney/filter-control/internal/config"
	"github.com/sweeney/filter-control/internal/logic"
)

// Command names accepted by Do.
const (
	CmdReset      = "reset"
	CmdClearError = "clear_error"
	CmdConfigure  = "configure"
	CmdSingleshot = "singleshot"
)

func (e *Engine) handle(ctx context.Context, cmd command) error {
	var err error
	switch cmd.name {
	case CmdReset, CmdClearError:
		err = e.restart(ctx, cmd.name == CmdReset)
	case CmdConfigure:
		err = e.configure(ctx, cmd.params)
	case CmdSingleshot:
		err = e.arm()
	default:
		err = fmt.Errorf("unknown command %q", cmd.name)
	}
	if err != nil {
		log.Printf("engine: %s rejected: %v", cmd.name, err)
	}
	e.sync()
	return err
}

// restart clears any latched error and returns to STARTING. A full reset
// also forgets every channel observation and frame counter.
func (e *Engine) restart(ctx context.Context, full bool) error {
	if e.busy {
		return ErrBusy
	}
	if e.errCode != logic.NoError {
		log.Printf("engine: clearing %s", e.errCode)
	}
	e.errCode = logic.NoError
	e.errDetail = ""
	e.emergency = false
	e.minAtt = false
	if full {
		e.manager.Reset()
		e.received = 0
		e.processed = 0
		e.lastMsg = time.Time{}
	}
	e.setState(logic.StateStarting)
	e.probe(ctx)
	return nil
}

// configure merges params into the running configuration. Nothing is
// applied unless every parameter is valid and an attenuation override is
// allowed in the current state.
func (e *Engine) configure(ctx context.Context, params map[string]json.RawMessage) error {
	up, err := config.Merge(e.cfg, params)
	if err != nil {
		return err
	}
	if up.Attenuation != nil {
		if e.busy || e.state == logic.StateError || e.state == logic.StateActive {
			return fmt.Errorf("attenuation override rejected in state %s", e.state)
		}
		if up.Config.Policy.AttenuationMoves && !e.state.Resting() {
			return fmt.Errorf("attenuation move rejected in state %s", e.state)
		}
	}

	e.apply(up.Config)
	log.Printf("engine: configured %v", up.Changed)
	if up.Attenuation != nil {
		e.override(ctx, *up.Attenuation)
	}
	e.save()
	return nil
}

func (e *Engine) apply(cfg *config.Config) {
	wasSingleshot := e.singleshot()
	e.cfg = cfg
	e.set = cfg.FilterSet()
	e.manager.SetThresholds(cfg.Thresholds())
	if !e.busy {
		e.mover.SetShutter(cfg.ShutterTarget())
	}
	if e.state.Resting() && wasSingleshot != e.singleshot() {
		e.setState(e.idle())
	}
}

// arm enables one decision cycle in singleshot mode. Arming an already
// armed shot is a no-op.
func (e *Engine) arm() error {
	if !e.singleshot() {
		return fmt.Errorf("singleshot requires mode %s", logic.ModeSingleshot)
	}
	switch e.state {
	case logic.StateSingleshotWaiting, logic.StateSingleshotComplete:
		e.setState(logic.StateWaiting)
		return nil
	case logic.StateWaiting:
		return nil
	}
	return fmt.Errorf("singleshot rejected in state %s", e.state)
}

// override sets the level directly. With attenuation_moves the filters are
// driven there by a normal move; otherwise the tracked level is rebased.
func (e *Engine) override(ctx context.Context, target int) {
	if target == e.level {
		return
	}
	e.minAtt = false
	if e.cfg.Policy.AttenuationMoves {
		d := logic.Target(e.level, target, e.set.Len(), target-e.level)
		e.start(ctx, job{
			kind:       jobMove,
			from:       e.level,
			to:         d.Level,
			change:     d.Change,
			plan:       d.Plan,
			frame:      e.received,
			cause:      causeOverride,
			after:      e.state,
			singleshot: e.singleshot(),
		})
		return
	}

	j := job{kind: jobMove, from: e.level, to: target, frame: e.received, cause: causeOverride}
	log.Printf("engine: level rebased %d -> %d", e.level, target)
	e.level = target
	e.announce(ctx, j, 0)
}

// ApplyConfig feeds a reloaded configuration file through configure. Only
// runtime parameters that differ from old are applied; the returned
// sections changed too but need a restart.
func ApplyConfig(ctx context.Context, e *Engine, old, next *config.Config) ([]string, error) {
	changed, restart := config.Diff(old, next)
	if len(changed) == 0 {
		return restart, nil
	}
	return restart, e.Do(ctx, CmdConfigure, changed)
}
