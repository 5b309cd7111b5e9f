package ingest

import (
	"sync"
	"sync/atomic"
)

// PushResult reports what the queue did with an event.
type PushResult int

const (
	// Queued means the event is pending for a source with nothing pending.
	Queued PushResult = iota
	// Coalesced means the event replaced an older pending event of its source.
	Coalesced
	// Stale means a newer event of the same source was already pending.
	Stale
	// Overflow means the queue was full of other sources and the event was dropped.
	Overflow
)

func (r PushResult) String() string {
	switch r {
	case Queued:
		return "queued"
	case Coalesced:
		return "coalesced"
	case Stale:
		return "stale"
	case Overflow:
		return "overflow"
	}
	return "unknown"
}

// QueueStats counts queue outcomes since creation.
type QueueStats struct {
	Queued    uint64
	Coalesced uint64
	Stale     uint64
	Overflow  uint64
}

// Queue hands events from transport goroutines to the engine.
// Only the latest event per source is kept, so a slow consumer sees the
// current picture instead of a backlog. Push never blocks.
type Queue struct {
	mu       sync.Mutex
	capacity int
	pending  map[string]Event
	order    []string
	ready    chan struct{}

	queued    atomic.Uint64
	coalesced atomic.Uint64
	stale     atomic.Uint64
	overflow  atomic.Uint64
}

// NewQueue creates a queue holding at most capacity distinct sources.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		capacity: capacity,
		pending:  make(map[string]Event, capacity),
		ready:    make(chan struct{}, 1),
	}
}

// Push offers an event without blocking.
func (q *Queue) Push(ev Event) PushResult {
	q.mu.Lock()
	result := q.pushLocked(ev)
	q.mu.Unlock()

	switch result {
	case Queued:
		q.queued.Add(1)
	case Coalesced:
		q.coalesced.Add(1)
	case Stale:
		q.stale.Add(1)
		return result
	case Overflow:
		q.overflow.Add(1)
		return result
	}

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return result
}

func (q *Queue) pushLocked(ev Event) PushResult {
	if prev, ok := q.pending[ev.Source]; ok {
		if ev.FrameSeq <= prev.FrameSeq {
			return Stale
		}
		q.pending[ev.Source] = ev
		return Coalesced
	}
	if len(q.order) >= q.capacity {
		return Overflow
	}
	q.pending[ev.Source] = ev
	q.order = append(q.order, ev.Source)
	return Queued
}

// Ready is signalled after a Push that left events pending.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Drain removes and returns pending events in the order their sources
// first became pending.
func (q *Queue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.order) == 0 {
		return nil
	}
	out := make([]Event, 0, len(q.order))
	for _, s := range q.order {
		out = append(out, q.pending[s])
		delete(q.pending, s)
	}
	q.order = q.order[:0]
	return out
}

// Len returns the number of sources with a pending event.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Stats returns outcome counters.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Queued:    q.queued.Load(),
		Coalesced: q.coalesced.Load(),
		Stale:     q.stale.Load(),
		Overflow:  q.overflow.Load(),
	}
}
