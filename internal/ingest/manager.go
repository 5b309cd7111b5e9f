// Package ingest tracks per-source detector events and decides which of them
// should start a decision cycle.
package ingest

import (
	"time"

	"github.com/sweeney/filter-control/internal/logic"
)

// Event is one per-frame pixel count observation from a detector source.
type Event struct {
	Source   string
	FrameSeq int64
	Count    int64
	// Over, when set, is a threshold flag computed by the publisher and
	// takes precedence over comparing Count with the threshold.
	Over     *bool
	Received time.Time
}

// Thresholds configures how observations are classified.
type Thresholds struct {
	// Over is the pixel count above which a source is over threshold.
	Over int64
	// Under is the pixel count below which a source asks for less
	// attenuation. Zero disables decrease classification.
	Under int64
	// Trigger selects edge or level triggering.
	Trigger logic.Trigger
	// LivenessTimeout marks a silent source as not alive. Zero disables it.
	LivenessTimeout time.Duration
}

// ChannelState is the tracked state of one detector source.
type ChannelState struct {
	Source      string
	Seen        bool
	LastFrame   int64
	LastCount   int64
	Over        bool
	Under       bool
	LastSeen    time.Time
	Events      uint64
	Regressions uint64
}

// Alive reports whether the source has reported recently enough.
func (c ChannelState) Alive(now time.Time, timeout time.Duration) bool {
	if !c.Seen {
		return false
	}
	return timeout <= 0 || now.Sub(c.LastSeen) <= timeout
}

// ChannelUpdate describes an observation that should start a decision cycle.
type ChannelUpdate struct {
	Source   string
	FrameSeq int64
	Count    int64
	Over     bool
	Under    bool
}

// Manager holds one ChannelState per configured source.
// Not safe for concurrent use; the engine goroutine owns it.
type Manager struct {
	th       Thresholds
	order    []string
	channels map[string]*ChannelState
	unknown  uint64
}

// NewManager creates channel state for each source.
func NewManager(sources []string, th Thresholds) *Manager {
	m := &Manager{th: th}
	m.Reconfigure(sources)
	return m
}

// Reconfigure replaces the channel set wholesale when the source list
// differs from the current one. An identical list keeps existing state.
func (m *Manager) Reconfigure(sources []string) {
	if equalStrings(sources, m.order) {
		return
	}
	m.order = append([]string(nil), sources...)
	m.channels = make(map[string]*ChannelState, len(sources))
	for _, s := range sources {
		m.channels[s] = &ChannelState{Source: s}
	}
}

// Reset clears every channel's observations, keeping the source list.
func (m *Manager) Reset() {
	for _, s := range m.order {
		m.channels[s] = &ChannelState{Source: s}
	}
	m.unknown = 0
}

// SetThresholds updates classification for subsequent events.
func (m *Manager) SetThresholds(th Thresholds) {
	m.th = th
}

// Thresholds returns the current classification settings.
func (m *Manager) Thresholds() Thresholds {
	return m.th
}

// Ingest records an observation. It returns an update and true when the
// observation should start a decision cycle. Events from unknown sources and
// frame sequence regressions are dropped and counted.
func (m *Manager) Ingest(ev Event) (ChannelUpdate, bool) {
	ch, ok := m.channels[ev.Source]
	if !ok {
		m.unknown++
		return ChannelUpdate{}, false
	}
	if ch.Seen && ev.FrameSeq <= ch.LastFrame {
		ch.Regressions++
		return ChannelUpdate{}, false
	}

	over := ev.Count > m.th.Over
	if ev.Over != nil {
		over = *ev.Over
	}
	under := !over && m.th.Under > 0 && ev.Count < m.th.Under

	wasSeen := ch.Seen
	changed := !wasSeen || over != ch.Over || under != ch.Under

	ch.Seen = true
	ch.LastFrame = ev.FrameSeq
	ch.LastCount = ev.Count
	ch.LastSeen = ev.Received
	ch.Over = over
	ch.Under = under
	ch.Events++

	if !over && !under {
		// Returning to the quiet band never actuates.
		return ChannelUpdate{}, false
	}
	if m.th.Trigger != logic.TriggerLevel && !changed {
		return ChannelUpdate{}, false
	}
	return ChannelUpdate{
		Source:   ev.Source,
		FrameSeq: ev.FrameSeq,
		Count:    ev.Count,
		Over:     over,
		Under:    under,
	}, true
}

// Sources returns the aggregation view of every channel in configured order.
func (m *Manager) Sources(now time.Time) []logic.Source {
	out := make([]logic.Source, 0, len(m.order))
	for _, s := range m.order {
		ch := m.channels[s]
		out = append(out, logic.Source{
			Alive: ch.Alive(now, m.th.LivenessTimeout),
			Over:  ch.Over,
			Under: ch.Under,
		})
	}
	return out
}

// Channels returns copies of every channel state in configured order.
func (m *Manager) Channels() []ChannelState {
	out := make([]ChannelState, 0, len(m.order))
	for _, s := range m.order {
		out = append(out, *m.channels[s])
	}
	return out
}

// Regressions returns the total dropped out-of-order events.
func (m *Manager) Regressions() uint64 {
	var n uint64
	for _, ch := range m.channels {
		n += ch.Regressions
	}
	return n
}

// Events returns the total accepted events across every channel.
func (m *Manager) Events() uint64 {
	var n uint64
	for _, ch := range m.channels {
		n += ch.Events
	}
	return n
}

// Unknown returns the number of events from unconfigured sources.
func (m *Manager) Unknown() uint64 {
	return m.unknown
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
