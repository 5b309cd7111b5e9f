package control

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/filter-control/internal/config"
	"github.com/sweeney/filter-control/internal/engine"
	"github.com/sweeney/filter-control/internal/ingest"
	"github.com/sweeney/filter-control/internal/logic"
	"github.com/sweeney/filter-control/internal/motion"
	"github.com/sweeney/filter-control/internal/mqtt"
	"github.com/sweeney/filter-control/internal/status"
)

type stubEngine struct {
	mu       sync.Mutex
	calls    []string
	err      error
	shutdown bool
	snap     status.Snapshot
	// block, if set, holds every Do until it is closed.
	block chan struct{}
}

func (s *stubEngine) Do(ctx context.Context, name string, _ map[string]json.RawMessage) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name)
	return s.err
}

func (s *stubEngine) Snapshot() status.Snapshot { return s.snap }

func (s *stubEngine) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingObserver) ObserveCommand(command, replyStatus string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[command+"/"+replyStatus]++
}

func stubSnapshot() status.Snapshot {
	return status.Snapshot{State: logic.StateWaiting, Error: logic.NoError, Attenuation: 3, MaxAttenuation: 15}
}

func TestHandleEveryRequestGetsOneReply(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		status  string
		errText string
		id      string
	}{
		{"malformed", `{"command":`, StatusError, "malformed request", ""},
		{"missing command", `{"id":"a1"}`, StatusError, "missing command", "a1"},
		{"unknown", `{"command":"explode","id":"a2"}`, StatusError, `unknown command "explode"`, "a2"},
		{"status", `{"command":"status","id":"a3"}`, StatusOK, "", "a3"},
		{"reset", `{"command":"reset"}`, StatusOK, "", ""},
		{"clear_error", `{"command":"clear_error"}`, StatusOK, "", ""},
		{"configure", `{"command":"configure","params":{"mode":"all"}}`, StatusOK, "", ""},
		{"singleshot", `{"command":"singleshot","id":"a4"}`, StatusOK, "", "a4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(&stubEngine{snap: stubSnapshot()}, nil)
			reply, _ := srv.Handle(context.Background(), []byte(tt.payload))
			assert.Equal(t, tt.status, reply.Status)
			assert.Equal(t, tt.id, reply.ID)
			if tt.errText != "" {
				assert.Contains(t, reply.Error, tt.errText)
			} else {
				assert.Empty(t, reply.Error)
				require.NotNil(t, reply.StatusSnapshot)
				assert.Equal(t, 3, reply.StatusSnapshot.Attenuation)
			}
		})
	}
}

func TestDispatchEngineError(t *testing.T) {
	eng := &stubEngine{snap: stubSnapshot(), err: errors.New("move in progress")}
	obs := &countingObserver{}
	srv := NewServer(eng, obs)

	reply := srv.Dispatch(context.Background(), Request{Command: CmdReset, ID: "r"})
	assert.Equal(t, StatusError, reply.Status)
	assert.Equal(t, "move in progress", reply.Error)
	assert.NotNil(t, reply.StatusSnapshot, "error replies still carry status")
	assert.Equal(t, []string{"reset"}, eng.calls)
	assert.Equal(t, 1, obs.counts["reset/error"])
}

func TestDispatchShutdown(t *testing.T) {
	eng := &stubEngine{snap: stubSnapshot()}
	srv := NewServer(eng, nil)

	reply := srv.Dispatch(context.Background(), Request{Command: CmdShutdown})
	assert.Equal(t, StatusOK, reply.Status)
	assert.True(t, eng.shutdown)
	assert.Empty(t, eng.calls)
}

func TestStatusDoesNotCallEngine(t *testing.T) {
	eng := &stubEngine{snap: stubSnapshot()}
	srv := NewServer(eng, nil)
	srv.Dispatch(context.Background(), Request{Command: CmdStatus})
	assert.Empty(t, eng.calls)
}

func TestHandleReturnsReplyTo(t *testing.T) {
	srv := NewServer(&stubEngine{snap: stubSnapshot()}, nil)
	_, replyTo := srv.Handle(context.Background(), []byte(`{"command":"status","reply_to":"client/7"}`))
	assert.Equal(t, "client/7", replyTo)
}

func TestReplyJSONShape(t *testing.T) {
	srv := NewServer(&stubEngine{snap: stubSnapshot()}, nil)
	reply := srv.Dispatch(context.Background(), Request{Command: CmdStatus, ID: "x"})
	data, err := json.Marshal(reply)
	require.NoError(t, err)

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &m))
	assert.JSONEq(t, `"ok"`, string(m["status"]))
	assert.JSONEq(t, `"x"`, string(m["id"]))
	assert.NotContains(t, m, "error")
	assert.Contains(t, m, "status_snapshot")
}

// runEngine starts a real engine over fake hardware.
func runEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Detector.Endpoints = []string{"det1:1883"}
	cfg.Motion.PollInterval = time.Millisecond
	require.NoError(t, config.Validate(cfg))

	ctl := motion.NewFakeController()
	e := engine.New(engine.Options{
		Config:  cfg,
		Queue:   ingest.NewQueue(4),
		Mover:   motion.NewSequencer(ctl, cfg.Timing(), cfg.ShutterTarget()),
		Tracker: status.NewTracker(time.Now(), status.Config{Version: "test"}),
		Tick:    make(chan time.Time),
	})
	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})
	require.Eventually(t, func() bool { return e.Snapshot().State == logic.StateWaiting },
		2*time.Second, time.Millisecond)
	return e
}

func TestStatusIsIdempotent(t *testing.T) {
	srv := NewServer(runEngine(t), nil)

	first, _ := json.Marshal(srv.Dispatch(context.Background(), Request{Command: CmdStatus, ID: "1"}))
	second, _ := json.Marshal(srv.Dispatch(context.Background(), Request{Command: CmdStatus, ID: "1"}))
	assert.Equal(t, string(first), string(second))
}

func TestConfigureThenStatusRoundTrip(t *testing.T) {
	srv := NewServer(runEngine(t), nil)

	params := map[string]json.RawMessage{
		"pixel_count_threshold": json.RawMessage(`25`),
		"mode":                  json.RawMessage(`"majority"`),
		"out_positions":         json.RawMessage(`{"filter3": -12.5}`),
	}
	reply := srv.Dispatch(context.Background(), Request{Command: CmdConfigure, Params: params})
	require.Equal(t, StatusOK, reply.Status, reply.Error)

	reply = srv.Dispatch(context.Background(), Request{Command: CmdStatus})
	require.NotNil(t, reply.StatusSnapshot)
	cfg := reply.StatusSnapshot.Config
	assert.Equal(t, int64(25), cfg.PixelCountThreshold)
	assert.Equal(t, "majority", cfg.Mode)
	assert.Equal(t, -12.5, cfg.OutPositions["filter3"])
	assert.Equal(t, 0.0, cfg.OutPositions["filter1"])

	reply = srv.Dispatch(context.Background(), Request{Command: CmdConfigure, Params: map[string]json.RawMessage{
		"pixel_count_threshold": json.RawMessage(`30`),
		"nonsense":              json.RawMessage(`1`),
	}})
	assert.Equal(t, StatusError, reply.Status)
	assert.Contains(t, reply.Error, "nonsense")
	assert.Equal(t, int64(25), reply.StatusSnapshot.Config.PixelCountThreshold, "nothing applied")
}

func TestStoppedEngineReplies(t *testing.T) {
	e := runEngine(t)
	e.Shutdown()
	<-e.Done()

	srv := NewServer(e, nil)
	reply := srv.Dispatch(context.Background(), Request{Command: CmdReset})
	assert.Equal(t, StatusError, reply.Status)
	assert.Equal(t, engine.ErrStopped.Error(), reply.Error)
}

func TestMQTTServer(t *testing.T) {
	client := mqtt.NewFakeClient()
	topics := mqtt.Topics{Prefix: "bl"}
	m := NewMQTTServer(NewServer(&stubEngine{snap: stubSnapshot()}, nil), client, topics)
	require.NoError(t, m.Start())
	require.True(t, client.Subscribed("bl/control/request"))

	client.Deliver("bl/control/request", []byte(`{"command":"status","id":"q1"}`))
	m.Wait()
	msg, ok := client.Last("bl/control/reply")
	require.True(t, ok)
	assert.False(t, msg.Retained)
	var reply Reply
	require.NoError(t, json.Unmarshal(msg.Payload, &reply))
	assert.Equal(t, StatusOK, reply.Status)
	assert.Equal(t, "q1", reply.ID)

	client.Deliver("bl/control/request", []byte(`{"command":"status","reply_to":"me/inbox"}`))
	m.Wait()
	_, ok = client.Last("me/inbox")
	assert.True(t, ok)

	client.Deliver("bl/control/request", []byte(`not json`))
	m.Wait()
	assert.Len(t, client.On("bl/control/reply"), 2)
}

func TestMQTTServerDeliveryDoesNotWaitOnEngine(t *testing.T) {
	client := mqtt.NewFakeClient()
	topics := mqtt.Topics{Prefix: "bl"}
	e := &stubEngine{snap: stubSnapshot(), block: make(chan struct{})}
	m := NewMQTTServer(NewServer(e, nil), client, topics)
	require.NoError(t, m.Start())

	delivered := make(chan struct{})
	go func() {
		client.Deliver("bl/control/request", []byte(`{"command":"reset","id":"r1"}`))
		client.Deliver("bl/control/request", []byte(`{"command":"status","id":"s1"}`))
		close(delivered)
	}()
	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("delivery blocked while the engine was busy")
	}

	// status does not go through the engine and is answered meanwhile.
	require.Eventually(t, func() bool {
		msg, ok := client.Last("bl/control/reply")
		return ok && strings.Contains(string(msg.Payload), `"s1"`)
	}, time.Second, time.Millisecond)

	close(e.block)
	m.Wait()
	replies := client.On("bl/control/reply")
	require.Len(t, replies, 2)
	var reply Reply
	require.NoError(t, json.Unmarshal(replies[1].Payload, &reply))
	assert.Equal(t, "r1", reply.ID)
	assert.Equal(t, StatusOK, reply.Status)
}

func TestMQTTServerSubscribeError(t *testing.T) {
	client := mqtt.NewFakeClient()
	client.SubscribeError = errors.New("not authorised")
	m := NewMQTTServer(NewServer(&stubEngine{}, nil), client, mqtt.Topics{})
	assert.Error(t, m.Start())
}
