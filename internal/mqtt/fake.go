package mqtt

import "sync"

// FakeClient records publishes and lets tests deliver inbound messages.
// Safe for concurrent use.
type FakeClient struct {
	mu        sync.Mutex
	published []Message
	subs      map[string]Handler

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// SubscribeError, if set, will be returned by Subscribe.
	SubscribeError error

	connected bool
	closed    bool
}

// NewFakeClient creates a connected FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{subs: make(map[string]Handler), connected: true}
}

// Publish records the message.
func (f *FakeClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	p := append([]byte(nil), payload...)
	f.published = append(f.published, Message{Topic: topic, Payload: p, QoS: qos, Retained: retained})
	return nil
}

// Subscribe records the handler for exact-match delivery.
func (f *FakeClient) Subscribe(topic string, _ byte, h Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubscribeError != nil {
		return f.SubscribeError
	}
	f.subs[topic] = h
	return nil
}

// Deliver hands payload to the handler subscribed on topic, as the broker
// would. It reports whether a handler was found.
func (f *FakeClient) Deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	h := f.subs[topic]
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(topic, payload)
	return true
}

// Subscribed reports whether anything is subscribed on topic.
func (f *FakeClient) Subscribed(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subs[topic]
	return ok
}

// Published returns a copy of every recorded message.
func (f *FakeClient) Published() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.published...)
}

// On returns the messages published on topic, oldest first.
func (f *FakeClient) On(topic string) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Message
	for _, m := range f.published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the most recent message on topic.
func (f *FakeClient) Last(topic string) (Message, bool) {
	msgs := f.On(topic)
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// SetConnected controls the return value of IsConnected.
func (f *FakeClient) SetConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

// IsConnected reports whether the fake client is "connected".
func (f *FakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Close marks the client as closed.
func (f *FakeClient) Close() error {
	f.mu.Lock()
	f.closed = true
	f.connected = false
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (f *FakeClient) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reset clears recorded publishes.
func (f *FakeClient) Reset() {
	f.mu.Lock()
	f.published = nil
	f.PublishError = nil
	f.mu.Unlock()
}
