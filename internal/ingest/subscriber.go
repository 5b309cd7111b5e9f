package ingest

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/filter-control/internal/mqtt"
)

// DecodeStats counts payloads the subscriber could not turn into events.
type DecodeStats struct {
	Malformed   uint64
	Unsupported uint64
}

// Subscriber decodes detector telemetry from one broker connection per
// endpoint and pushes it onto the queue. The endpoint string is the
// event's source id.
type Subscriber struct {
	queue *Queue
	topic string
	enc   Encoding
	now   func() time.Time

	malformed   atomic.Uint64
	unsupported atomic.Uint64

	mu      sync.Mutex
	clients map[string]mqtt.Client
}

// NewSubscriber creates a subscriber for topic. now stamps Received.
func NewSubscriber(q *Queue, topic string, enc Encoding, now func() time.Time) *Subscriber {
	if now == nil {
		now = time.Now
	}
	return &Subscriber{
		queue:   q,
		topic:   topic,
		enc:     enc,
		now:     now,
		clients: make(map[string]mqtt.Client),
	}
}

// Attach subscribes on c and attributes its events to source.
func (s *Subscriber) Attach(source string, c mqtt.Client) error {
	err := c.Subscribe(s.topic, 0, func(_ string, payload []byte) {
		s.Handle(source, payload)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s on %s: %w", s.topic, source, err)
	}
	s.mu.Lock()
	s.clients[source] = c
	s.mu.Unlock()
	return nil
}

// Handle decodes one payload from source and queues the event.
func (s *Subscriber) Handle(source string, payload []byte) {
	ev, err := Decode(s.enc, payload)
	if err != nil {
		if errors.Is(err, ErrUnsupportedVersion) {
			s.unsupported.Add(1)
		} else {
			s.malformed.Add(1)
		}
		return
	}
	ev.Source = source
	ev.Received = s.now()
	s.queue.Push(ev)
}

// Stats returns decode failure counters.
func (s *Subscriber) Stats() DecodeStats {
	return DecodeStats{
		Malformed:   s.malformed.Load(),
		Unsupported: s.unsupported.Load(),
	}
}

// Connected reports the connection state of each attached endpoint.
func (s *Subscriber) Connected() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.clients))
	for src, c := range s.clients {
		out[src] = c.IsConnected()
	}
	return out
}

// Close disconnects every attached endpoint.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[string]mqtt.Client)
	s.mu.Unlock()

	var errs []error
	for src, c := range clients {
		if err := c.Close(); err != nil {
			log.Printf("ingest: close %s: %v", src, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
