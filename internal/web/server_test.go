package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/sweeney/filter-control/internal/history"
	"github.com/sweeney/filter-control/internal/logic"
	"github.com/sweeney/filter-control/internal/status"
)

type fakeHistory struct {
	records []history.Record
	err     error
	limit   int
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]history.Record, error) {
	f.limit = limit
	return f.records, f.err
}

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *status.Tracker) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		Version:     "1.2.3",
		Broker:      "tcp://10.0.0.2:1883",
		TopicPrefix: "bl/fc",
		HTTPAddr:    ":8080",
		Motion:      "10.0.0.3:1025",
		HeartbeatMs: 1000,
	}
	tr := status.NewTracker(start, cfg)
	srv := New(":0", tr, opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tr
}

func getJSON(t *testing.T, url string) status.StatusJSON {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return sj
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr := newTestServer(t, Options{})
	tr.Update(func(s *status.Snapshot) {
		s.State = logic.StateWaiting
		s.Attenuation = 5
		s.MaxAttenuation = 15
		s.Settings.Mode = logic.ModeAny
	})
	tr.SetMQTTConnected(true)

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}

	if sj.Status.State != "WAITING" {
		t.Errorf("State: got %q, want WAITING", sj.Status.State)
	}
	if sj.Status.Attenuation != 5 {
		t.Errorf("Attenuation: got %d, want 5", sj.Status.Attenuation)
	}
	if got := strings.Join(sj.Status.Inserted, ","); got != "filter1,filter3" {
		t.Errorf("Inserted: got %q, want filter1,filter3", got)
	}
	if sj.Status.MQTT == nil || !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.Version != "1.2.3" {
		t.Errorf("Version: got %q", sj.Status.Version)
	}
	if sj.Status.Config.Mode != "any" {
		t.Errorf("Config.Mode: got %q, want any", sj.Status.Config.Mode)
	}
	if sj.Status.Config.TopicPrefix != "bl/fc" {
		t.Errorf("Config.TopicPrefix: got %q", sj.Status.Config.TopicPrefix)
	}
}

func TestJSONNetworkInfo(t *testing.T) {
	ts, tr := newTestServer(t, Options{})
	tr.SetNetwork(&status.NetworkInfo{
		Type:   "wifi",
		IP:     "192.168.1.42",
		Status: "connected",
		SSID:   "MyNet",
	})

	sj := getJSON(t, ts.URL+"/index.json")
	if sj.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if sj.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", sj.Status.Network.IP)
	}
}

func TestHTMLEndpointRoot(t *testing.T) {
	ts, tr := newTestServer(t, Options{})
	tr.Update(func(s *status.Snapshot) {
		s.State = logic.StateError
		s.Error = logic.MoveFailureError
		s.ErrorDetail = "move in axes [1]: move timed out"
		s.MaxAttenuation = 3
		s.Attenuation = 2
		s.Sources = []status.SourceInfo{{Source: "det1:1883", Connected: true, Alive: true, LastCount: 42}}
	})

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type: got %q, want text/html", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"MOVE_FAILURE_ERROR", "move timed out", "det1:1883", "filter1", "2 / 3"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestHTMLEndpointIndexHTML(t *testing.T) {
	ts, _ := newTestServer(t, Options{})

	resp, err := http.Get(ts.URL + "/index.html")
	if err != nil {
		t.Fatalf("GET /index.html: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _ := newTestServer(t, Options{})

	for _, path := range []string{"/nonexistent", "/metrics", "/history.json"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != 404 {
			t.Errorf("%s: got %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	ts, tr := newTestServer(t, Options{})

	sj1 := getJSON(t, ts.URL+"/index.json")
	if sj1.Status.State != "STARTING" {
		t.Errorf("initial state: got %q, want STARTING", sj1.Status.State)
	}

	tr.Update(func(s *status.Snapshot) { s.State = logic.StateActive })

	sj2 := getJSON(t, ts.URL+"/index.json")
	if sj2.Status.State != "ACTIVE" {
		t.Errorf("state: got %q, want ACTIVE", sj2.Status.State)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "filter_control_attenuation_level 3\n")
	})
	ts, _ := newTestServer(t, Options{Metrics: metrics})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "filter_control_attenuation_level 3") {
		t.Errorf("metrics body: %q", body)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	h := &fakeHistory{records: []history.Record{
		{ID: 2, RunID: "r", Time: at, FrameNumber: 90, From: 1, To: 2, Adjustment: 1, Cause: "auto", Duration: 1500 * time.Millisecond},
	}}
	ts, _ := newTestServer(t, Options{History: h})

	resp, err := http.Get(ts.URL + "/history.json?limit=5000")
	if err != nil {
		t.Fatalf("GET /history.json: %v", err)
	}
	defer resp.Body.Close()

	var hj HistoryJSON
	if err := json.NewDecoder(resp.Body).Decode(&hj); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.limit != maxHistoryLimit {
		t.Errorf("limit: got %d, want %d", h.limit, maxHistoryLimit)
	}
	if len(hj.Changes) != 1 {
		t.Fatalf("changes: got %d, want 1", len(hj.Changes))
	}
	c := hj.Changes[0]
	if c.To != 2 || c.FrameNumber != 90 || c.DurationMs != 1500 || c.Timestamp != "2026-03-04T05:06:07Z" {
		t.Errorf("change: got %+v", c)
	}
}

func TestHistoryEndpointErrors(t *testing.T) {
	h := &fakeHistory{err: errors.New("disk gone")}
	ts, _ := newTestServer(t, Options{History: h})

	tests := []struct {
		query string
		want  int
	}{
		{"?limit=abc", http.StatusBadRequest},
		{"?limit=0", http.StatusBadRequest},
		{"", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		resp, err := http.Get(ts.URL + "/history.json" + tt.query)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("%q: got %d, want %d", tt.query, resp.StatusCode, tt.want)
		}
	}
}

func TestWebSocketPushesSnapshots(t *testing.T) {
	ts, tr := newTestServer(t, Options{PushInterval: 10 * time.Millisecond})
	tr.Update(func(s *status.Snapshot) { s.Attenuation = 1; s.MaxAttenuation = 15 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	read := func() status.StatusJSON {
		t.Helper()
		typ, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if typ != websocket.MessageText {
			t.Fatalf("message type: got %v", typ)
		}
		var sj status.StatusJSON
		if err := json.Unmarshal(data, &sj); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return sj
	}

	first := read()
	if first.Status.Attenuation != 1 || first.Status.Event != "STATUS" {
		t.Errorf("first push: got attenuation=%d event=%q", first.Status.Attenuation, first.Status.Event)
	}

	tr.Update(func(s *status.Snapshot) { s.Attenuation = 4 })
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if read().Status.Attenuation == 4 {
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
	t.Error("update never pushed")
}
