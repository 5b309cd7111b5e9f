// Package status holds the shared, read-mostly view of the controller.
// The engine is the only writer; HTTP handlers, the control server and the
// status publisher read value copies.
package status

import (
	"maps"
	"sync"
	"time"

	"github.com/sweeney/filter-control/internal/logic"
)

// NetworkInfo contains host network state from pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains static daemon configuration for display.
type Config struct {
	Version     string
	Broker      string
	TopicPrefix string
	HTTPAddr    string
	Motion      string
	HeartbeatMs int64
}

// Settings is the runtime-configurable policy, as reported by status.
type Settings struct {
	PixelCountThreshold         int64
	DecreasePixelCountThreshold int64
	AllowDecrease               bool
	Mode                        logic.Mode
	Trigger                     logic.Trigger
	LivenessTimeout             time.Duration
	InPositions                 map[string]float64
	OutPositions                map[string]float64
	ShutterClosedPosition       float64
	AttenuationMoves            bool
}

// SourceInfo is the per-source view of one detector channel.
type SourceInfo struct {
	Source      string
	Connected   bool
	Alive       bool
	Over        bool
	Under       bool
	LastFrame   int64
	LastCount   int64
	LastSeen    time.Time
	Events      uint64
	Regressions uint64
}

// Counters are monotonically increasing totals since start.
type Counters struct {
	Cycles       uint64
	Moves        uint64
	MoveFailures uint64
	Emergencies  uint64
	Unknown      uint64
	Malformed    uint64
	Coalesced    uint64
	// Stale counts events replaced in the queue by a newer frame from the
	// same source before the engine saw them.
	Stale    uint64
	Overflow uint64
}

// Snapshot is a point-in-time view of controller state.
// It is a value type: Tracker hands out deep copies.
type Snapshot struct {
	RunID string

	State          logic.State
	Error          logic.ErrorCode
	ErrorDetail    string
	Attenuation    int
	MaxAttenuation int
	MinAttenuation bool

	LastReceivedFrame  int64
	LastProcessedFrame int64
	LastMessage        time.Time
	ProcessDuration    time.Duration
	ProcessPeriod      time.Duration

	Heartbeat     bool
	Sources       []SourceInfo
	Settings      Settings
	Counters      Counters
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// TimeSinceLastMessage returns how long ago any source last reported, or
// zero if none has.
func (s Snapshot) TimeSinceLastMessage() time.Duration {
	if s.LastMessage.IsZero() {
		return 0
	}
	return s.Now.Sub(s.LastMessage)
}

// Inserted returns, per filter, whether it is in the beam.
func (s Snapshot) Inserted() []bool {
	n := 0
	for m := s.MaxAttenuation; m > 0; m >>= 1 {
		n++
	}
	in := make([]bool, n)
	for i := range in {
		in[i] = s.Attenuation&(1<<i) != 0
	}
	return in
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Sources = append([]SourceInfo(nil), s.Sources...)
	out.Settings.InPositions = maps.Clone(s.Settings.InPositions)
	out.Settings.OutPositions = maps.Clone(s.Settings.OutPositions)
	if s.Network != nil {
		n := *s.Network
		out.Network = &n
	}
	return out
}

// Tracker holds the snapshot behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker in STARTING with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			State:     logic.StateStarting,
			Error:     logic.NoError,
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// SetClock replaces the clock used to stamp Snapshot.Now. For tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// Update applies fn to a copy of the snapshot and commits the result.
// fn must not retain the pointer.
func (t *Tracker) Update(fn func(*Snapshot)) {
	t.mu.Lock()
	next := t.snap.clone()
	fn(&next)
	t.snap = next.clone()
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	if info != nil {
		n := *info
		info = &n
	}
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a deep copy of the current state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap.clone()
	now := t.now
	t.mu.RUnlock()
	s.Now = now()
	return s
}
