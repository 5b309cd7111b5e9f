// Package engine is the supervisory state machine. One goroutine, Run, owns
// the attenuation level and every transition; moves run in a single worker
// goroutine and report back on a channel.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/filter-control/internal/autosave"
	"github.com/sweeney/filter-control/internal/config"
	"github.com/sweeney/filter-control/internal/filter"
	"github.com/sweeney/filter-control/internal/gpio"
	"github.com/sweeney/filter-control/internal/history"
	"github.com/sweeney/filter-control/internal/ingest"
	"github.com/sweeney/filter-control/internal/logic"
	"github.com/sweeney/filter-control/internal/motion"
	"github.com/sweeney/filter-control/internal/mqtt"
	"github.com/sweeney/filter-control/internal/status"
)

var (
	// ErrStopped is returned for commands sent after Run has returned.
	ErrStopped = errors.New("engine stopped")
	// ErrBusy is returned for commands that cannot run during a move.
	ErrBusy = errors.New("move in progress")
)

// Mover executes filter plans and the emergency action.
// *motion.Sequencer implements it.
type Mover interface {
	Apply(ctx context.Context, set filter.Set, plan filter.Plan) error
	Emergency(ctx context.Context) error
	Ready(ctx context.Context, axes []int) error
	SetShutter(sh motion.Shutter)
}

// Recorder persists committed changes. *history.Store implements it.
type Recorder interface {
	Record(ctx context.Context, r history.Record) (int64, error)
}

// Saver persists runtime settings. *autosave.Saver implements it.
type Saver interface {
	Save(st autosave.State) error
}

// Observer receives timing measurements. *metrics.Collector implements it.
type Observer interface {
	ObserveCycle(d time.Duration)
	ObserveMove(d time.Duration, err error)
}

// Feed reports transport-side ingest state. *ingest.Subscriber implements it.
type Feed interface {
	Stats() ingest.DecodeStats
	Connected() map[string]bool
}

// Options wires an Engine. Config, Queue, Mover and Tracker are required.
type Options struct {
	Config  *config.Config
	Queue   *ingest.Queue
	Mover   Mover
	Tracker *status.Tracker

	// Publisher receives status and change events on Topics.
	Publisher mqtt.Client
	Topics    mqtt.Topics

	Recorder  Recorder
	Saver     Saver
	Heartbeat gpio.Output
	Observer  Observer
	Feed      Feed

	// Level is the attenuation level restored at startup.
	Level int
	RunID string
	Now   func() time.Time
	// Tick drives the heartbeat. Defaults to a ticker at the configured
	// heartbeat interval.
	Tick <-chan time.Time
}

type command struct {
	name   string
	params map[string]json.RawMessage
	reply  chan error
}

type jobKind int

const (
	jobProbe jobKind = iota
	jobMove
	jobEmergency
)

type job struct {
	kind   jobKind
	from   int
	to     int
	change int
	plan   filter.Plan
	set    filter.Set
	axes   []int
	frame  int64
	cause  string
	// after is the state a successful move returns to, and singleshot the
	// mode kind it was chosen under.
	after      logic.State
	singleshot bool
}

type result struct {
	job  job
	err  error
	took time.Duration
}

// Engine is the controller state machine.
type Engine struct {
	opts    Options
	queue   *ingest.Queue
	mover   Mover
	tracker *status.Tracker
	now     func() time.Time
	runID   string

	cmds    chan command
	results chan result
	quit    chan struct{}
	done    chan struct{}
	stop    sync.Once

	// Owned by the Run goroutine.
	cfg        *config.Config
	set        filter.Set
	manager    *ingest.Manager
	state      logic.State
	errCode    logic.ErrorCode
	errDetail  string
	level      int
	minAtt     bool
	busy       bool
	emergency  bool
	heartbeat  bool
	received   int64
	processed  int64
	lastMsg    time.Time
	lastCommit time.Time
	duration   time.Duration
	period     time.Duration
	counters   status.Counters
}

// New creates an engine in STARTING.
func New(opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Heartbeat == nil {
		opts.Heartbeat = gpio.Nop{}
	}
	cfg := opts.Config.Clone()
	set := cfg.FilterSet()
	level := opts.Level
	if !set.Contains(level) {
		log.Printf("engine: restored level %d out of range, using 0", level)
		level = 0
	}

	e := &Engine{
		opts:    opts,
		queue:   opts.Queue,
		mover:   opts.Mover,
		tracker: opts.Tracker,
		now:     opts.Now,
		runID:   opts.RunID,
		cmds:    make(chan command),
		results: make(chan result, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		cfg:     cfg,
		set:     set,
		manager: ingest.NewManager(cfg.Detector.Endpoints, cfg.Thresholds()),
		state:   logic.StateStarting,
		errCode: logic.NoError,
		level:   level,
	}
	e.mover.SetShutter(cfg.ShutterTarget())
	e.sync()
	return e
}

// RunID identifies this engine instance in status and history.
func (e *Engine) RunID() string {
	return e.runID
}

// Run serves events, commands and heartbeat ticks until ctx is cancelled or
// Shutdown is called. An in-flight move is waited for before returning.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)

	tick := e.opts.Tick
	if tick == nil {
		t := time.NewTicker(e.cfg.Heartbeat.Interval)
		defer t.Stop()
		tick = t.C
	}

	// Worker jobs outlive ctx so a move is never abandoned mid-wait; the
	// sequencer bounds every wait.
	workCtx := context.WithoutCancel(ctx)

	log.Printf("engine: started run=%s level=%d filters=%d sources=%d",
		e.runID, e.level, e.set.Len(), len(e.cfg.Detector.Endpoints))
	e.probe(workCtx)

	for {
		var ready <-chan struct{}
		if !e.busy {
			ready = e.queue.Ready()
		}

		select {
		case <-ctx.Done():
			e.finishInFlight()
			log.Printf("engine: stopped (%v)", ctx.Err())
			return nil
		case <-e.quit:
			e.finishInFlight()
			log.Printf("engine: shutdown")
			return nil
		case <-ready:
			e.drain(workCtx)
		case cmd := <-e.cmds:
			cmd.reply <- e.handle(workCtx, cmd)
		case res := <-e.results:
			e.finish(workCtx, res)
		case <-tick:
			e.tick(workCtx)
		}
	}
}

// Shutdown asks Run to return. Safe to call more than once.
func (e *Engine) Shutdown() {
	e.stop.Do(func() { close(e.quit) })
}

// Done is closed when Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Do runs a state-changing command on the engine goroutine and returns its
// error. Supported commands are reset, clear_error, configure and singleshot.
func (e *Engine) Do(ctx context.Context, name string, params map[string]json.RawMessage) error {
	cmd := command{name: name, params: params, reply: make(chan error, 1)}
	select {
	case e.cmds <- cmd:
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current status.
func (e *Engine) Snapshot() status.Snapshot {
	return e.tracker.Snapshot()
}

func (e *Engine) finishInFlight() {
	if !e.busy {
		return
	}
	log.Printf("engine: waiting for in-flight move")
	res := <-e.results
	e.finish(context.Background(), res)
}

func (e *Engine) tick(ctx context.Context) {
	e.heartbeat = !e.heartbeat
	if err := e.opts.Heartbeat.Set(e.heartbeat); err != nil {
		log.Printf("engine: heartbeat output: %v", err)
	}
	if e.state == logic.StateStarting && !e.busy {
		e.probe(ctx)
	}
	if e.opts.Publisher != nil {
		e.tracker.SetMQTTConnected(e.opts.Publisher.IsConnected())
	}
	e.sync()
	e.publishStatus("HEARTBEAT")
}

// sync copies engine-owned state into the tracker.
func (e *Engine) sync() {
	now := e.now()
	channels := e.manager.Channels()
	views := e.manager.Sources(now)

	var connected map[string]bool
	counters := e.counters
	counters.Unknown = e.manager.Unknown()
	if e.opts.Feed != nil {
		connected = e.opts.Feed.Connected()
		ds := e.opts.Feed.Stats()
		counters.Malformed = ds.Malformed + ds.Unsupported
	}
	qs := e.queue.Stats()
	counters.Coalesced = qs.Coalesced
	counters.Stale = qs.Stale
	counters.Overflow = qs.Overflow

	sources := make([]status.SourceInfo, len(channels))
	for i, ch := range channels {
		sources[i] = status.SourceInfo{
			Source:      ch.Source,
			Connected:   connected[ch.Source],
			Alive:       views[i].Alive,
			Over:        ch.Over,
			Under:       ch.Under,
			LastFrame:   ch.LastFrame,
			LastCount:   ch.LastCount,
			LastSeen:    ch.LastSeen,
			Events:      ch.Events,
			Regressions: ch.Regressions,
		}
	}

	p := e.cfg.Policy
	settings := status.Settings{
		PixelCountThreshold:         p.PixelCountThreshold,
		DecreasePixelCountThreshold: p.DecreasePixelCountThreshold,
		AllowDecrease:               p.AllowDecrease,
		Mode:                        logic.Mode(p.Mode),
		Trigger:                     logic.Trigger(p.Trigger),
		LivenessTimeout:             p.LivenessTimeout,
		InPositions:                 e.cfg.InPositions(),
		OutPositions:                e.cfg.OutPositions(),
		ShutterClosedPosition:       e.cfg.Shutter.ClosedPosition,
		AttenuationMoves:            p.AttenuationMoves,
	}

	e.tracker.Update(func(s *status.Snapshot) {
		s.RunID = e.runID
		s.State = e.state
		s.Error = e.errCode
		s.ErrorDetail = e.errDetail
		s.Attenuation = e.level
		s.MaxAttenuation = e.set.MaxAttenuation()
		s.MinAttenuation = e.minAtt
		s.LastReceivedFrame = e.received
		s.LastProcessedFrame = e.processed
		s.LastMessage = e.lastMsg
		s.ProcessDuration = e.duration
		s.ProcessPeriod = e.period
		s.Heartbeat = e.heartbeat
		s.Sources = sources
		s.Settings = settings
		s.Counters = counters
	})
}

func (e *Engine) publishStatus(event string) {
	if e.opts.Publisher == nil {
		return
	}
	payload := status.FormatStatusEvent(e.tracker.Snapshot(), event, "")
	if err := e.opts.Publisher.Publish(e.opts.Topics.Status(), 1, true, payload); err != nil {
		log.Printf("engine: publish status: %v", err)
	}
}

func (e *Engine) singleshot() bool {
	return logic.Mode(e.cfg.Policy.Mode) == logic.ModeSingleshot
}

// idle is the rest state for the configured mode.
func (e *Engine) idle() logic.State {
	if e.singleshot() {
		return logic.StateSingleshotWaiting
	}
	return logic.StateWaiting
}

func (e *Engine) setState(s logic.State) {
	if s != e.state {
		log.Printf("engine: state %s -> %s", e.state, s)
		e.state = s
	}
}

func (e *Engine) latch(code logic.ErrorCode, detail string) {
	log.Printf("engine: error latched code=%s detail=%q", code, detail)
	e.setState(logic.StateError)
	e.errCode = code
	e.errDetail = detail
}
