package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/filter-control/internal/filter"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details. Fields marked omitempty that
// depend on wall-clock time are only filled for live views.
type StatusInner struct {
	Event  string `json:"event,omitempty"`
	Reason string `json:"reason,omitempty"`

	State              string   `json:"state"`
	Error              string   `json:"error"`
	ErrorDetail        string   `json:"error_detail,omitempty"`
	Attenuation        int      `json:"current_attenuation"`
	MaxAttenuation     int      `json:"max_attenuation"`
	Inserted           []string `json:"inserted"`
	MinAttenuation     bool     `json:"min_attenuation"`
	Version            string   `json:"version"`
	RunID              string   `json:"run_id,omitempty"`
	LastReceivedFrame  int64    `json:"last_received_frame"`
	LastProcessedFrame int64    `json:"last_processed_frame"`
	ProcessDurationUs  int64    `json:"process_duration_us"`
	ProcessPeriodUs    int64    `json:"process_period_us"`
	// LastMessageTime is when the newest event was received. Live views
	// also carry time_since_last_message.
	LastMessageTime string `json:"last_message_time,omitempty"`

	TimeSinceLastMessage *float64 `json:"time_since_last_message,omitempty"`
	Heartbeat            *bool    `json:"heartbeat,omitempty"`
	UptimeSeconds        *int64   `json:"uptime_seconds,omitempty"`
	StartTime            string   `json:"start_time,omitempty"`
	Timestamp            string   `json:"timestamp,omitempty"`

	Sources  []SourceJSON `json:"sources"`
	Counters CountersJSON `json:"counters"`
	MQTT     *MQTTStatus  `json:"mqtt,omitempty"`
	Network  *NetworkJSON `json:"network,omitempty"`
	Config   ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// SourceJSON is the JSON representation of one detector source.
type SourceJSON struct {
	Source      string `json:"source"`
	Connected   bool   `json:"connected"`
	Alive       bool   `json:"alive"`
	Over        bool   `json:"over"`
	Under       bool   `json:"under"`
	LastFrame   int64  `json:"last_frame"`
	LastCount   int64  `json:"last_count"`
	LastSeen    string `json:"last_seen,omitempty"`
	Events      uint64 `json:"events"`
	Regressions uint64 `json:"regressions"`
}

// CountersJSON is the JSON representation of Counters.
type CountersJSON struct {
	Cycles       uint64 `json:"cycles"`
	Moves        uint64 `json:"moves"`
	MoveFailures uint64 `json:"move_failures"`
	Emergencies  uint64 `json:"emergencies"`
	Unknown      uint64 `json:"unknown_source_events"`
	Malformed    uint64 `json:"malformed_events"`
	Coalesced    uint64 `json:"coalesced_events"`
	Stale        uint64 `json:"stale_events"`
	Overflow     uint64 `json:"overflow_events"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON reports the runtime configuration, keyed as configure accepts it.
type ConfigJSON struct {
	PixelCountThreshold         int64              `json:"pixel_count_threshold"`
	DecreasePixelCountThreshold int64              `json:"decrease_pixel_count_threshold"`
	AllowDecrease               bool               `json:"allow_decrease"`
	Mode                        string             `json:"mode"`
	Trigger                     string             `json:"trigger"`
	LivenessTimeout             string             `json:"liveness_timeout"`
	InPositions                 map[string]float64 `json:"in_positions"`
	OutPositions                map[string]float64 `json:"out_positions"`
	ShutterClosedPosition       float64            `json:"shutter_closed_position"`
	AttenuationMoves            bool               `json:"attenuation_moves"`
	TopicPrefix                 string             `json:"topic_prefix,omitempty"`
	Motion                      string             `json:"motion,omitempty"`
	HeartbeatMs                 int64              `json:"heartbeat_ms,omitempty"`
	HTTPAddr                    string             `json:"http_addr,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	inserted := []string{}
	for i, in := range snap.Inserted() {
		if in {
			inserted = append(inserted, filter.Key(i))
		}
	}

	sources := make([]SourceJSON, len(snap.Sources))
	for i, s := range snap.Sources {
		sources[i] = SourceJSON{
			Source:      s.Source,
			Connected:   s.Connected,
			Alive:       s.Alive,
			Over:        s.Over,
			Under:       s.Under,
			LastFrame:   s.LastFrame,
			LastCount:   s.LastCount,
			Events:      s.Events,
			Regressions: s.Regressions,
		}
		if !s.LastSeen.IsZero() {
			sources[i].LastSeen = s.LastSeen.UTC().Format(time.RFC3339Nano)
		}
	}

	var lastMsg string
	if !snap.LastMessage.IsZero() {
		lastMsg = snap.LastMessage.UTC().Format(time.RFC3339Nano)
	}

	st := snap.Settings
	c := snap.Counters
	return StatusInner{
		State:              string(snap.State),
		Error:              string(snap.Error),
		ErrorDetail:        snap.ErrorDetail,
		Attenuation:        snap.Attenuation,
		MaxAttenuation:     snap.MaxAttenuation,
		Inserted:           inserted,
		MinAttenuation:     snap.MinAttenuation,
		Version:            snap.Config.Version,
		RunID:              snap.RunID,
		LastReceivedFrame:  snap.LastReceivedFrame,
		LastProcessedFrame: snap.LastProcessedFrame,
		ProcessDurationUs:  snap.ProcessDuration.Microseconds(),
		ProcessPeriodUs:    snap.ProcessPeriod.Microseconds(),
		LastMessageTime:    lastMsg,
		Sources:            sources,
		Counters: CountersJSON{
			Cycles:       c.Cycles,
			Moves:        c.Moves,
			MoveFailures: c.MoveFailures,
			Emergencies:  c.Emergencies,
			Unknown:      c.Unknown,
			Malformed:    c.Malformed,
			Coalesced:    c.Coalesced,
			Stale:        c.Stale,
			Overflow:     c.Overflow,
		},
		Config: ConfigJSON{
			PixelCountThreshold:         st.PixelCountThreshold,
			DecreasePixelCountThreshold: st.DecreasePixelCountThreshold,
			AllowDecrease:               st.AllowDecrease,
			Mode:                        string(st.Mode),
			Trigger:                     string(st.Trigger),
			LivenessTimeout:             st.LivenessTimeout.String(),
			InPositions:                 nonNil(st.InPositions),
			OutPositions:                nonNil(st.OutPositions),
			ShutterClosedPosition:       st.ShutterClosedPosition,
			AttenuationMoves:            st.AttenuationMoves,
		},
	}
}

// addLive fills the fields that depend on wall-clock time and host state.
func addLive(snap Snapshot, inner *StatusInner) {
	since := snap.TimeSinceLastMessage().Seconds()
	uptime := int64(snap.Uptime().Truncate(time.Second).Seconds())
	hb := snap.Heartbeat
	inner.TimeSinceLastMessage = &since
	inner.Heartbeat = &hb
	inner.UptimeSeconds = &uptime
	inner.StartTime = snap.StartTime.UTC().Format(time.RFC3339)
	inner.Timestamp = snap.Now.UTC().Format(time.RFC3339)
	inner.MQTT = &MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker}
	inner.Config.TopicPrefix = snap.Config.TopicPrefix
	inner.Config.Motion = snap.Config.Motion
	inner.Config.HeartbeatMs = snap.Config.HeartbeatMs
	inner.Config.HTTPAddr = snap.Config.HTTPAddr
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

func nonNil(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}

// Reply returns the status carried in a control protocol reply. It holds
// no wall-clock fields, so repeated requests with no intervening events
// produce identical replies.
func Reply(snap Snapshot) StatusInner {
	return buildInner(snap)
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	addLive(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status pushed over MQTT and websocket.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	addLive(snap, &inner)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// ChangeEvent is published for every committed attenuation change.
type ChangeEvent struct {
	FrameNumber int64  `json:"frame_number"`
	Attenuation int    `json:"attenuation"`
	Adjustment  int    `json:"adjustment"`
	Cause       string `json:"cause"`
	Timestamp   string `json:"timestamp"`
}

// FormatChangeEvent returns the JSON for one attenuation change.
func FormatChangeEvent(ev ChangeEvent) []byte {
	data, _ := json.Marshal(ev)
	return data
}
