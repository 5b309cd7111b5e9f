package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sweeney/filter-control/internal/autosave"
	"github.com/sweeney/filter-control/internal/history"
	"github.com/sweeney/filter-control/internal/logic"
	"github.com/sweeney/filter-control/internal/status"
)

const (
	causeAuto      = "auto"
	causeOverride  = "override"
	causeEmergency = "emergency"
)

// drain ingests every pending event and runs at most one decision cycle.
func (e *Engine) drain(ctx context.Context) {
	events := e.queue.Drain()
	if len(events) == 0 {
		return
	}

	var trigger, rising, falling bool
	var frame int64
	accepted := e.manager.Events()
	for _, ev := range events {
		if ev.FrameSeq > e.received {
			e.received = ev.FrameSeq
		}
		if ev.Received.After(e.lastMsg) {
			e.lastMsg = ev.Received
		}
		if up, ok := e.manager.Ingest(ev); ok {
			trigger = true
			frame = up.FrameSeq
			rising = rising || up.Over
			falling = falling || up.Under
		}
	}

	// An armed singleshot evaluates the current flags on the next accepted
	// event, whether or not it crossed a threshold.
	if e.singleshot() && e.manager.Events() > accepted {
		trigger, rising, falling = true, true, true
		if frame == 0 {
			frame = e.received
		}
	}

	if trigger && e.state == logic.StateWaiting && logic.Mode(e.cfg.Policy.Mode) != logic.ModeManual {
		e.cycle(ctx, frame, rising, falling)
	}
	e.sync()
}

func (e *Engine) cycle(ctx context.Context, frame int64, rising, falling bool) {
	start := e.now()
	d := logic.Decide(logic.Input{
		Level:   e.level,
		Filters: e.set.Len(),
		Sources: e.manager.Sources(start),
		Policy:  e.cfg.DecisionPolicy(),
		Rising:  rising,
		Falling: falling,
	})
	e.counters.Cycles++
	if e.opts.Observer != nil {
		e.opts.Observer.ObserveCycle(e.now().Sub(start))
	}

	after := logic.StateWaiting
	if e.singleshot() {
		after = logic.StateSingleshotComplete
	}

	switch {
	case d.Emergency:
		e.latch(d.Error, fmt.Sprintf("level %d cannot increase beyond %d", e.level, d.Level))
		e.emergencyOnce(ctx, frame, d.Change)
	case d.NoOp():
		e.minAtt = d.MinAttenuation
		e.setState(after)
	default:
		e.minAtt = d.MinAttenuation
		e.start(ctx, job{
			kind:       jobMove,
			from:       e.level,
			to:         d.Level,
			change:     d.Change,
			plan:       d.Plan,
			frame:      frame,
			cause:      causeAuto,
			after:      after,
			singleshot: e.singleshot(),
		})
	}
}

// emergencyOnce issues the emergency action unless it already ran for the
// current latch.
func (e *Engine) emergencyOnce(ctx context.Context, frame int64, change int) {
	if e.emergency {
		return
	}
	e.emergency = true
	e.counters.Emergencies++
	e.start(ctx, job{kind: jobEmergency, from: e.level, to: e.level, change: change, frame: frame, cause: causeEmergency})
}

// probe checks the motion boundary before leaving STARTING.
func (e *Engine) probe(ctx context.Context) {
	axes := append(e.set.Axes(), e.cfg.Shutter.Axis)
	e.start(ctx, job{kind: jobProbe, axes: axes})
}

// start hands j to the worker. Only one job runs at a time.
func (e *Engine) start(ctx context.Context, j job) {
	if e.busy {
		log.Printf("engine: worker busy, dropping job kind=%d", j.kind)
		return
	}
	e.busy = true
	j.set = e.set
	if j.kind == jobMove {
		e.setState(logic.StateActive)
		log.Printf("engine: move %d -> %d in=%v out=%v frame=%d cause=%s",
			j.from, j.to, j.plan.In, j.plan.Out, j.frame, j.cause)
	}

	go func() {
		begin := time.Now()
		var err error
		switch j.kind {
		case jobProbe:
			err = e.mover.Ready(ctx, j.axes)
		case jobMove:
			err = e.mover.Apply(ctx, j.set, j.plan)
		case jobEmergency:
			err = e.mover.Emergency(ctx)
		}
		e.results <- result{job: j, err: err, took: time.Since(begin)}
	}()
}

// finish applies a worker result on the engine goroutine.
func (e *Engine) finish(ctx context.Context, res result) {
	e.busy = false
	// Shutter changes are deferred while the worker may be using it.
	e.mover.SetShutter(e.cfg.ShutterTarget())

	switch res.job.kind {
	case jobProbe:
		if res.err != nil {
			log.Printf("engine: motion not ready: %v", res.err)
			break
		}
		if e.state == logic.StateStarting {
			e.setState(e.idle())
		}
	case jobMove:
		if e.opts.Observer != nil {
			e.opts.Observer.ObserveMove(res.took, res.err)
		}
		if res.err != nil {
			e.counters.MoveFailures++
			e.latch(logic.MoveFailureError, res.err.Error())
			break
		}
		e.commit(ctx, res)
	case jobEmergency:
		if res.err != nil {
			log.Printf("engine: emergency action failed: %v", res.err)
			e.errDetail += "; shutter: " + res.err.Error()
		}
		e.record(ctx, res.job, res.took)
	}

	e.sync()
	if res.job.kind != jobProbe {
		e.publishStatus("UPDATE")
	}
}

// commit makes a confirmed move the current level.
func (e *Engine) commit(ctx context.Context, res result) {
	j := res.job
	now := e.now()
	e.level = j.to
	e.processed = j.frame
	e.duration = res.took
	if !e.lastCommit.IsZero() {
		e.period = now.Sub(e.lastCommit)
	}
	e.lastCommit = now
	e.counters.Moves++
	if j.singleshot != e.singleshot() {
		// The mode changed during the move.
		e.setState(e.idle())
	} else {
		e.setState(j.after)
	}
	log.Printf("engine: level %d committed in %s", e.level, res.took)

	e.announce(ctx, j, res.took)
	e.save()
}

// announce publishes and records a level change.
func (e *Engine) announce(ctx context.Context, j job, took time.Duration) {
	if e.opts.Publisher != nil {
		payload := status.FormatChangeEvent(status.ChangeEvent{
			FrameNumber: j.frame,
			Attenuation: j.to,
			Adjustment:  j.to - j.from,
			Cause:       j.cause,
			Timestamp:   e.now().UTC().Format(time.RFC3339Nano),
		})
		if err := e.opts.Publisher.Publish(e.opts.Topics.Attenuation(), 1, false, payload); err != nil {
			log.Printf("engine: publish change: %v", err)
		}
	}
	e.record(ctx, j, took)
}

func (e *Engine) record(ctx context.Context, j job, took time.Duration) {
	if e.opts.Recorder == nil {
		return
	}
	adj := j.to - j.from
	if j.kind == jobEmergency {
		adj = j.change
	}
	_, err := e.opts.Recorder.Record(ctx, history.Record{
		RunID:       e.runID,
		Time:        e.now(),
		FrameNumber: j.frame,
		From:        j.from,
		To:          j.to,
		Adjustment:  adj,
		Cause:       j.cause,
		Duration:    took,
	})
	if err != nil {
		log.Printf("engine: record change: %v", err)
	}
}

func (e *Engine) save() {
	if e.opts.Saver == nil {
		return
	}
	st, err := autosave.NewState(e.now(), e.level, e.cfg.Params())
	if err == nil {
		err = e.opts.Saver.Save(st)
	}
	if err != nil {
		log.Printf("engine: autosave: %v", err)
	}
}
