package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/filter-control/internal/mqtt"
)

func TestSubscriberQueuesDecodedEvents(t *testing.T) {
	q := NewQueue(4)
	topics := mqtt.Topics{Prefix: "bl"}
	s := NewSubscriber(q, topics.Events(), EncodingAuto, func() time.Time { return t0 })

	a, b := mqtt.NewFakeClient(), mqtt.NewFakeClient()
	require.NoError(t, s.Attach("det-a:1883", a))
	require.NoError(t, s.Attach("det-b:1883", b))

	a.Deliver("bl/events", []byte(`{"v":1,"frame_seq":1,"count":10}`))
	b.Deliver("bl/events", []byte(`{"v":1,"frame_seq":4,"count":900}`))
	a.Deliver("bl/events", []byte(`not an event`))
	a.Deliver("bl/events", []byte(`{"v":3,"frame_seq":2,"count":10}`))

	got := q.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, Event{Source: "det-a:1883", FrameSeq: 1, Count: 10, Received: t0}, got[0])
	assert.Equal(t, "det-b:1883", got[1].Source)
	assert.Equal(t, DecodeStats{Malformed: 1, Unsupported: 1}, s.Stats())

	b.SetConnected(false)
	assert.Equal(t, map[string]bool{"det-a:1883": true, "det-b:1883": false}, s.Connected())

	require.NoError(t, s.Close())
	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
	assert.Empty(t, s.Connected())
}

func TestSubscriberAttachError(t *testing.T) {
	s := NewSubscriber(NewQueue(1), "x/events", EncodingJSON, nil)
	c := mqtt.NewFakeClient()
	c.SubscribeError = errors.New("denied")
	assert.Error(t, s.Attach("ep", c))
	assert.Empty(t, s.Connected())
}
