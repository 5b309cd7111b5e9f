package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/filter-control/internal/mqtt"
)

// DefaultTimeout bounds how long one request may wait on the engine.
const DefaultTimeout = 5 * time.Second

// MQTTServer serves the protocol on the control request topic. Each request
// is answered on its own goroutine so the broker client's delivery goroutine
// never waits on the engine or on a publish acknowledgement.
type MQTTServer struct {
	server  *Server
	client  mqtt.Client
	topics  mqtt.Topics
	timeout time.Duration
	pending sync.WaitGroup
}

// NewMQTTServer creates a transport for server on client.
func NewMQTTServer(server *Server, client mqtt.Client, topics mqtt.Topics) *MQTTServer {
	return &MQTTServer{server: server, client: client, topics: topics, timeout: DefaultTimeout}
}

// Start subscribes to the request topic.
func (m *MQTTServer) Start() error {
	if err := m.client.Subscribe(m.topics.ControlRequest(), 1, m.handle); err != nil {
		return fmt.Errorf("subscribe control: %w", err)
	}
	log.Printf("control: listening on %s", m.topics.ControlRequest())
	return nil
}

// Wait blocks until every request received so far has been answered.
func (m *MQTTServer) Wait() {
	m.pending.Wait()
}

func (m *MQTTServer) handle(_ string, payload []byte) {
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		m.serve(payload)
	}()
}

func (m *MQTTServer) serve(payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	reply, replyTo := m.server.Handle(ctx, payload)
	if replyTo == "" {
		replyTo = m.topics.ControlReply()
	}
	data, err := json.Marshal(reply)
	if err != nil {
		log.Printf("control: encode reply: %v", err)
		return
	}
	if err := m.client.Publish(replyTo, 1, false, data); err != nil {
		log.Printf("control: publish reply: %v", err)
	}
}
