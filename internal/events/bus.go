// Package events provides in-process pub-sub distribution of transcription
// lifecycle events to SSE subscribers and other listeners.
package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/longj724/local-ai-transcription/internal/metrics"
)

// Event types published by the pipeline.
const (
	TypeProgress  = "progress"
	TypeCompleted = "completed"
	TypeFailed    = "failed"
	TypeReady     = "ready"
)

// Event is a serialized pipeline event as delivered to subscribers.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Filter selects which events a subscriber receives. Empty means all.
type Filter struct {
	Types []string
}

func (f Filter) matches(e Event) bool {
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == e.Type {
			return true
		}
	}
	return false
}

// ProgressPayload is the data carried by a TypeProgress event. Fraction is
// the engine's completion estimate in [0,1], relayed exactly as reported.
type ProgressPayload struct {
	CallID   string  `json:"call_id"`
	Stage    string  `json:"stage"`
	Fraction float64 `json:"fraction"`
}

// ResultPayload is the data carried by TypeCompleted and TypeFailed events.
type ResultPayload struct {
	CallID string `json:"call_id"`
	Stage  string `json:"stage,omitempty"`
	Error  string `json:"error,omitempty"`
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Bus fans events out to subscribers and keeps a small ring buffer so SSE
// clients can replay missed events on reconnect.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	nextID      uint64
	seq         atomic.Uint64

	ringMu   sync.RWMutex
	ring     []Event
	ringSize int
	ringHead int

	published atomic.Int64
}

// NewBus creates a bus with the given ring buffer size.
func NewBus(ringSize int) *Bus {
	return &Bus{
		subscribers: make(map[uint64]subscriber),
		ring:        make([]Event, ringSize),
		ringSize:    ringSize,
	}
}

// Subscribe registers a listener and returns its channel plus a cancel
// function. Every subscriber must be cancelled to avoid leaking across calls;
// cancel is idempotent.
func (b *Bus) Subscribe(filter Filter) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, 64)
	b.subscribers[id] = subscriber{ch: ch, filter: filter}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish serializes payload and delivers the event to all matching
// subscribers in publish order. Slow subscribers drop events rather than
// blocking the publisher.
func (b *Bus) Publish(eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	seq := b.seq.Add(1)
	event := Event{
		ID:        fmt.Sprintf("%d-%d", time.Now().UnixMilli(), seq),
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}

	b.ringMu.Lock()
	b.ring[b.ringHead] = event
	b.ringHead = (b.ringHead + 1) % b.ringSize
	b.ringMu.Unlock()

	b.published.Add(1)
	metrics.EventsPublishedTotal.Inc()

	b.mu.RLock()
	for _, sub := range b.subscribers {
		if sub.filter.matches(event) {
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
	b.mu.RUnlock()
}

// ReplaySince returns buffered events after the given event ID, oldest first.
// An empty ID returns everything still in the ring.
func (b *Bus) ReplaySince(lastEventID string, filter Filter) []Event {
	b.ringMu.RLock()
	defer b.ringMu.RUnlock()

	var out []Event
	found := lastEventID == ""

	for i := 0; i < b.ringSize; i++ {
		idx := (b.ringHead + i) % b.ringSize
		e := b.ring[idx]
		if e.ID == "" {
			continue
		}
		if !found {
			if e.ID == lastEventID {
				found = true
			}
			continue
		}
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// Published returns the total number of events published since startup.
func (b *Bus) Published() int64 {
	return b.published.Load()
}
