package mqtt

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Options configures a RealClient.
type Options struct {
	// Broker is a host:port endpoint or a full broker URL.
	Broker string

	// ClientID defaults to "filter-control-" plus a random suffix, so that
	// several connections from one process never collide on the broker.
	ClientID string

	// Will, if set, is published by the broker when the connection drops.
	Will *Message

	// BufferSize bounds the offline publish buffer. Default 100.
	BufferSize int

	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

type subscription struct {
	qos     byte
	handler Handler
}

// RealClient is a paho connection with offline buffering and
// resubscription on reconnect.
type RealClient struct {
	client         paho.Client
	broker         string
	publishTimeout time.Duration

	mu   sync.Mutex
	subs map[string]subscription
	buf  *ringBuffer
}

// NewClientID returns a broker client id unique to this connection.
func NewClientID() string {
	return "filter-control-" + uuid.NewString()[:8]
}

// Dial connects to the broker described by opts.
func Dial(opts Options) (*RealClient, error) {
	if opts.Broker == "" {
		return nil, errors.New("no broker configured")
	}
	if opts.ClientID == "" {
		opts.ClientID = NewClientID()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 100
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}

	c := &RealClient{
		broker:         BrokerURL(opts.Broker),
		publishTimeout: opts.PublishTimeout,
		subs:           make(map[string]subscription),
		buf:            newRingBuffer(opts.BufferSize),
	}

	po := paho.NewClientOptions().
		AddBroker(c.broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection to %s lost: %v", c.broker, err)
		})
	if opts.Will != nil {
		po.SetWill(opts.Will.Topic, string(opts.Will.Payload), opts.Will.QoS, opts.Will.Retained)
	}

	c.client = paho.NewClient(po)
	token := c.client.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("connect to %s: timeout", c.broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", c.broker, err)
	}
	return c, nil
}

// onConnect restores subscriptions and flushes the offline buffer. paho
// runs it on every successful (re)connect.
func (c *RealClient) onConnect(pc paho.Client) {
	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for t, s := range c.subs {
		subs[t] = s
	}
	pending, dropped := c.buf.drain()
	c.mu.Unlock()

	for topic, s := range subs {
		if err := c.subscribe(pc, topic, s); err != nil {
			log.Printf("mqtt: resubscribe %s: %v", topic, err)
		}
	}
	if dropped > 0 {
		log.Printf("mqtt: %d buffered messages dropped while offline", dropped)
	}
	for _, m := range pending {
		token := pc.Publish(m.Topic, m.QoS, m.Retained, m.Payload)
		if !token.WaitTimeout(c.publishTimeout) || token.Error() != nil {
			log.Printf("mqtt: replay to %s failed", m.Topic)
		}
	}
	if len(pending) > 0 {
		log.Printf("mqtt: replayed %d buffered messages to %s", len(pending), c.broker)
	}
}

func (c *RealClient) subscribe(pc paho.Client, topic string, s subscription) error {
	h := s.handler
	token := pc.Subscribe(topic, s.qos, func(_ paho.Client, m paho.Message) {
		h(m.Topic(), m.Payload())
	})
	if !token.WaitTimeout(c.publishTimeout) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	return token.Error()
}

// Publish sends payload, or buffers it while the connection is down.
func (c *RealClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		c.mu.Lock()
		c.buf.push(Message{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
		c.mu.Unlock()
		return nil
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(c.publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers h and subscribes now if connected; otherwise the
// subscription is made on the next connect.
func (c *RealClient) Subscribe(topic string, qos byte, h Handler) error {
	s := subscription{qos: qos, handler: h}
	c.mu.Lock()
	c.subs[topic] = s
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		return nil
	}
	if err := c.subscribe(c.client, topic, s); err != nil {
		return fmt.Errorf("subscribe on %s: %w", c.broker, err)
	}
	return nil
}

// IsConnected reports whether the connection is currently open.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Buffered returns the number of publishes waiting for a reconnect.
func (c *RealClient) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.len()
}

// Close disconnects from the broker.
func (c *RealClient) Close() error {
	c.client.Disconnect(1000)
	return nil
}
