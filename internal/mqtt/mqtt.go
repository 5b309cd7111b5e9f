// Package mqtt wraps the broker connections used for detector ingress,
// the control protocol and status push, with a fake for tests.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"
)

// Handler receives an inbound message. It runs on the client's delivery
// goroutine and must not block.
type Handler func(topic string, payload []byte)

// Client is a broker connection.
type Client interface {
	// Publish sends payload to topic. While disconnected, the real client
	// buffers the message and replays it after reconnect.
	Publish(topic string, qos byte, retained bool, payload []byte) error

	// Subscribe registers h for topic. Subscriptions survive reconnects.
	Subscribe(topic string, qos byte, h Handler) error

	IsConnected() bool

	// Close disconnects from the broker.
	Close() error
}

// Message is a published message as seen by the buffer and the fake.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// DefaultPrefix is used when no topic prefix is configured.
const DefaultPrefix = "beamline/filter-control"

// Topics derives every topic from a single prefix.
type Topics struct {
	Prefix string
}

func (t Topics) join(suffix string) string {
	p := strings.TrimSuffix(t.Prefix, "/")
	if p == "" {
		p = DefaultPrefix
	}
	return p + "/" + suffix
}

// Events is the detector telemetry topic subscribed on every endpoint.
func (t Topics) Events() string { return t.join("events") }

// Status carries the retained status snapshot.
func (t Topics) Status() string { return t.join("status") }

// Attenuation carries one message per committed attenuation change.
func (t Topics) Attenuation() string { return t.join("attenuation") }

// ControlRequest is where control commands arrive.
func (t Topics) ControlRequest() string { return t.join("control/request") }

// ControlReply is the default reply topic when a request names none.
func (t Topics) ControlReply() string { return t.join("control/reply") }

// System carries lifecycle events and the will message.
func (t Topics) System() string { return t.join("system") }

// BrokerURL turns a host:port endpoint into a paho broker URL. Endpoints
// that already carry a scheme are returned unchanged.
func BrokerURL(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	return "tcp://" + endpoint
}

// SplitEndpoints parses a comma separated endpoint list, dropping blanks.
func SplitEndpoints(list string) []string {
	var out []string
	for _, e := range strings.Split(list, ",") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// SystemEvent is a lifecycle event (STARTUP, SHUTDOWN, RECONNECTED).
type SystemEvent struct {
	Timestamp time.Time
	Event     string
	Reason    string
	RunID     string
}

// SystemPayload is the wire form of a SystemEvent.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
	RunID     string `json:"run_id,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
			RunID:     event.RunID,
		},
	})
}
