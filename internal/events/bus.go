// Package events fans job lifecycle events out to SSE subscribers and other
// mirrors (MQTT), keeping a ring buffer for Last-Event-ID replay.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snarg/scriptsync/internal/metrics"
)

// Event types.
const (
	JobQueued    = "job_queued"
	JobStarted   = "job_started"
	JobCompleted = "job_completed" // SubType carries the final status
	JobFailed    = "job_failed"
)

// Event is one published job event.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	SubType   string          `json:"sub_type,omitempty"`
	JobID     string          `json:"job_id"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Filter selects events for a subscriber. Empty fields match everything.
// Types accept "type" or "type:subtype".
type Filter struct {
	Types  []string
	JobIDs []string
}

// Bus provides pub-sub event distribution.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	nextID      uint64
	seq         atomic.Uint64

	ring     []Event
	ringSize int
	ringHead int
	ringMu   sync.RWMutex
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// NewBus creates a bus with the given replay ring size.
func NewBus(ringSize int) *Bus {
	if ringSize < 1 {
		ringSize = 1
	}
	return &Bus{
		subscribers: make(map[uint64]subscriber),
		ring:        make([]Event, ringSize),
		ringSize:    ringSize,
	}
}

// Subscribe registers a subscriber and returns its channel and a cancel
// function. Slow subscribers drop events rather than block publishers.
func (b *Bus) Subscribe(filter Filter) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, 64)
	b.subscribers[id] = subscriber{ch: ch, filter: filter}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// ReplaySince returns buffered events published after lastEventID. When the
// id has already rotated out of the ring, every buffered event is returned so
// a reconnecting client never silently misses everything.
func (b *Bus) ReplaySince(lastEventID string, filter Filter) []Event {
	b.ringMu.RLock()
	defer b.ringMu.RUnlock()

	ordered := make([]Event, 0, b.ringSize)
	for i := 0; i < b.ringSize; i++ {
		e := b.ring[(b.ringHead+i)%b.ringSize]
		if e.ID != "" {
			ordered = append(ordered, e)
		}
	}

	start := 0
	if lastEventID != "" {
		for i, e := range ordered {
			if e.ID == lastEventID {
				start = i + 1
				break
			}
		}
	}

	var out []Event
	for _, e := range ordered[start:] {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// Publish sends an event to all matching subscribers and appends it to the
// ring. Payloads that cannot be marshaled are dropped.
func (b *Bus) Publish(eventType, subType, jobID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	now := time.Now()
	e := Event{
		ID:        fmt.Sprintf("%d-%d", now.UnixMilli(), b.seq.Add(1)),
		Type:      eventType,
		SubType:   subType,
		JobID:     jobID,
		Timestamp: now.UTC().Format(time.RFC3339),
		Data:      data,
	}

	b.ringMu.Lock()
	b.ring[b.ringHead] = e
	b.ringHead = (b.ringHead + 1) % b.ringSize
	b.ringMu.Unlock()

	metrics.SSEEventsPublishedTotal.Inc()

	b.mu.RLock()
	for _, sub := range b.subscribers {
		if sub.filter.Matches(e) {
			select {
			case sub.ch <- e:
			default:
			}
		}
	}
	b.mu.RUnlock()
}

// Matches reports whether e passes the filter.
func (f Filter) Matches(e Event) bool {
	if len(f.Types) > 0 {
		match := false
		for _, t := range f.Types {
			t = strings.TrimSpace(t)
			if base, sub, ok := strings.Cut(t, ":"); ok {
				if base == e.Type && sub == e.SubType {
					match = true
					break
				}
			} else if t == e.Type {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if len(f.JobIDs) > 0 {
		match := false
		for _, id := range f.JobIDs {
			if strings.EqualFold(strings.TrimSpace(id), e.JobID) {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}
