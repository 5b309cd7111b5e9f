package status

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/filter-control/internal/logic"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func fixedTracker() *Tracker {
	tr := NewTracker(start, Config{Version: "1.2.0", Broker: "tcp://localhost:1883", HTTPAddr: ":8080"})
	tr.SetClock(func() time.Time { return start.Add(90 * time.Second) })
	return tr
}

func TestNewTracker(t *testing.T) {
	snap := fixedTracker().Snapshot()
	if snap.State != logic.StateStarting {
		t.Errorf("State: got %q, want STARTING", snap.State)
	}
	if snap.Error != logic.NoError {
		t.Errorf("Error: got %q, want NO_ERROR", snap.Error)
	}
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Uptime() != 90*time.Second {
		t.Errorf("Uptime: got %v", snap.Uptime())
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestUpdateCommitsChanges(t *testing.T) {
	tr := fixedTracker()
	tr.Update(func(s *Snapshot) {
		s.State = logic.StateWaiting
		s.Attenuation = 5
		s.MaxAttenuation = 15
	})

	snap := tr.Snapshot()
	if snap.State != logic.StateWaiting || snap.Attenuation != 5 {
		t.Errorf("update not committed: %+v", snap)
	}
	in := snap.Inserted()
	want := []bool{true, false, true, false}
	if len(in) != len(want) {
		t.Fatalf("Inserted: got %v, want %v", in, want)
	}
	for i := range want {
		if in[i] != want[i] {
			t.Errorf("Inserted[%d]: got %v, want %v", i, in[i], want[i])
		}
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	tr := fixedTracker()
	tr.Update(func(s *Snapshot) {
		s.Settings.InPositions = map[string]float64{"filter1": 100}
		s.Sources = []SourceInfo{{Source: "a"}}
	})

	snap := tr.Snapshot()
	snap.Settings.InPositions["filter1"] = -1
	snap.Sources[0].Source = "mutated"

	again := tr.Snapshot()
	if again.Settings.InPositions["filter1"] != 100 {
		t.Error("snapshot map aliases tracker state")
	}
	if again.Sources[0].Source != "a" {
		t.Error("snapshot slice aliases tracker state")
	}
}

func TestUpdateDoesNotAliasCallerMaps(t *testing.T) {
	tr := fixedTracker()
	m := map[string]float64{"filter1": 1}
	tr.Update(func(s *Snapshot) { s.Settings.OutPositions = m })
	m["filter1"] = 2

	if got := tr.Snapshot().Settings.OutPositions["filter1"]; got != 1 {
		t.Errorf("tracker kept caller's map: got %v", got)
	}
}

func TestSetNetwork(t *testing.T) {
	tr := fixedTracker()
	if tr.Snapshot().Network != nil {
		t.Error("expected nil Network initially")
	}

	info := &NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"}
	tr.SetNetwork(info)
	info.IP = "changed"

	if got := tr.Snapshot().Network.IP; got != "192.168.1.42" {
		t.Errorf("Network.IP: got %q", got)
	}

	tr.SetNetwork(nil)
	if tr.Snapshot().Network != nil {
		t.Error("expected nil Network after clear")
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Update(func(s *Snapshot) {
					s.Attenuation = n
					s.Settings.InPositions = map[string]float64{"filter1": float64(j)}
				})
				tr.SetMQTTConnected(j%2 == 0)
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s := tr.Snapshot()
				_ = FormatJSON(s)
			}
		}()
	}
	wg.Wait()
}

func sampleSnapshot() Snapshot {
	return Snapshot{
		RunID:              "run-1",
		State:              logic.StateWaiting,
		Error:              logic.NoError,
		Attenuation:        3,
		MaxAttenuation:     15,
		LastReceivedFrame:  120,
		LastProcessedFrame: 118,
		LastMessage:        start.Add(80 * time.Second),
		ProcessDuration:    1500 * time.Microsecond,
		Heartbeat:          true,
		Sources: []SourceInfo{
			{Source: "det-a:1883", Connected: true, Alive: true, Over: true, LastFrame: 120, LastCount: 9000, LastSeen: start.Add(80 * time.Second), Events: 120},
		},
		Settings: Settings{
			PixelCountThreshold: 2,
			Mode:                logic.ModeAny,
			Trigger:             logic.TriggerEdge,
			InPositions:         map[string]float64{"filter1": 100, "filter2": 100},
			OutPositions:        map[string]float64{"filter1": 0, "filter2": 0},
		},
		Counters:      Counters{Cycles: 4, Moves: 3},
		StartTime:     start,
		Now:           start.Add(90 * time.Second),
		MQTTConnected: true,
		Network:       &NetworkInfo{Type: "ethernet", IP: "10.0.0.9", Status: "up"},
		Config:        Config{Version: "1.2.0", Broker: "tcp://localhost:1883", TopicPrefix: "bl/fc", HTTPAddr: ":8080"},
	}
}

func TestFormatJSON(t *testing.T) {
	data := FormatJSON(sampleSnapshot())

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	s := parsed.Status
	if s.State != "WAITING" || s.Error != "NO_ERROR" {
		t.Errorf("state/error: got %s/%s", s.State, s.Error)
	}
	if s.Attenuation != 3 {
		t.Errorf("current_attenuation: got %d", s.Attenuation)
	}
	if strings.Join(s.Inserted, ",") != "filter1,filter2" {
		t.Errorf("inserted: got %v", s.Inserted)
	}
	if s.ProcessDurationUs != 1500 {
		t.Errorf("process_duration_us: got %d", s.ProcessDurationUs)
	}
	if s.TimeSinceLastMessage == nil || *s.TimeSinceLastMessage != 10 {
		t.Errorf("time_since_last_message: got %v", s.TimeSinceLastMessage)
	}
	if s.UptimeSeconds == nil || *s.UptimeSeconds != 90 {
		t.Errorf("uptime_seconds: got %v", s.UptimeSeconds)
	}
	if s.MQTT == nil || !s.MQTT.Connected {
		t.Error("expected mqtt connected")
	}
	if s.Network == nil || s.Network.IP != "10.0.0.9" {
		t.Errorf("network: got %+v", s.Network)
	}
	if len(s.Sources) != 1 || !s.Sources[0].Over || s.Sources[0].LastSeen == "" {
		t.Errorf("sources: got %+v", s.Sources)
	}
	if s.Config.InPositions["filter2"] != 100 || s.Config.Mode != "any" {
		t.Errorf("config: got %+v", s.Config)
	}
	if !bytes.Contains(data, []byte("\n  ")) {
		t.Error("web JSON should be indented")
	}
}

func TestReplyIsStable(t *testing.T) {
	a := sampleSnapshot()
	b := sampleSnapshot()
	b.Now = b.Now.Add(time.Hour)
	b.Heartbeat = !a.Heartbeat
	b.MQTTConnected = false

	ja, _ := json.Marshal(Reply(a))
	jb, _ := json.Marshal(Reply(b))
	if !bytes.Equal(ja, jb) {
		t.Errorf("reply depends on wall clock:\n%s\n%s", ja, jb)
	}
	for _, field := range []string{"timestamp", "uptime_seconds", "heartbeat", "time_since_last_message", "mqtt", "network"} {
		if bytes.Contains(ja, []byte(`"`+field+`"`)) {
			t.Errorf("reply should not carry %s", field)
		}
	}
}

func TestReplyCarriesTiming(t *testing.T) {
	snap := sampleSnapshot()
	snap.ProcessPeriod = 250 * time.Millisecond
	snap.Counters.Stale = 7

	inner := Reply(snap)
	if inner.ProcessDurationUs != 1500 || inner.ProcessPeriodUs != 250000 {
		t.Errorf("process timing: duration=%d period=%d", inner.ProcessDurationUs, inner.ProcessPeriodUs)
	}
	if want := start.Add(80 * time.Second).UTC().Format(time.RFC3339Nano); inner.LastMessageTime != want {
		t.Errorf("last_message_time: got %q, want %q", inner.LastMessageTime, want)
	}
	if inner.Counters.Stale != 7 {
		t.Errorf("stale: got %d, want 7", inner.Counters.Stale)
	}

	data := FormatJSON(snap)
	if !bytes.Contains(data, []byte(`"time_since_last_message": 10`)) {
		t.Errorf("live view should carry time_since_last_message:\n%s", data)
	}

	if Reply(Snapshot{}).LastMessageTime != "" {
		t.Error("no message yet should omit last_message_time")
	}
}

func TestReplyEmptyCollections(t *testing.T) {
	data, _ := json.Marshal(Reply(Snapshot{State: logic.StateStarting, Error: logic.NoError}))
	for _, want := range []string{`"inserted":[]`, `"sources":[]`, `"in_positions":{}`} {
		if !bytes.Contains(data, []byte(want)) {
			t.Errorf("expected %s in %s", want, data)
		}
	}
}

func TestFormatStatusEvent(t *testing.T) {
	data := FormatStatusEvent(sampleSnapshot(), "HEARTBEAT", "")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "HEARTBEAT" {
		t.Errorf("event: got %q", parsed.Status.Event)
	}
	if strings.Contains(string(data), `"reason"`) {
		t.Error("empty reason should be omitted")
	}
	if bytes.Contains(data, []byte("\n")) {
		t.Error("MQTT payload should be compact")
	}
}

func TestFormatChangeEvent(t *testing.T) {
	got := string(FormatChangeEvent(ChangeEvent{
		FrameNumber: 42,
		Attenuation: 1,
		Adjustment:  1,
		Cause:       "auto",
		Timestamp:   "2026-01-01T00:00:00Z",
	}))
	want := `{"frame_number":42,"attenuation":1,"adjustment":1,"cause":"auto","timestamp":"2026-01-01T00:00:00Z"}`
	if got != want {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", got, want)
	}
}
