// Package events carries log stream and scheduler events to the gateway
// and the scheduler.
package events

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	EventLog             EventType = "log"
	EventTaskState       EventType = "task.state"
	EventTaskSent        EventType = "task.sent"
	EventScheduleTrigger EventType = "schedule.trigger"
)

// EventSource identifies the component that emitted an event.
type EventSource string

const (
	SourceLogs      EventSource = "logs"
	SourceGateway   EventSource = "gateway"
	SourceScheduler EventSource = "scheduler"
)

// Event represents an event in the system.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    EventSource    `json:"source"`
	Payload   map[string]any `json:"payload"`
}

var eventSeq atomic.Uint64

func generateEventID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), eventSeq.Add(1))
}

// Subscriber receives events in publish order on a goroutine owned by its
// subscription.
type Subscriber func(Event)

// subscriberQueue bounds the events waiting for one subscriber.
const subscriberQueue = 64

type subscription struct {
	types []EventType
	queue chan Event
}

func (s *subscription) wants(t EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	for _, want := range s.types {
		if want == t {
			return true
		}
	}
	return false
}

func (s *subscription) run(fn Subscriber) {
	for e := range s.queue {
		deliver(fn, e)
	}
}

func deliver(fn Subscriber, e Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event subscriber panicked", "event", e.Type, "panic", r)
		}
	}()
	fn(e)
}

// Bus fans events out to subscribers and keeps the most recent ones.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]*subscription
	nextID  int
	history []Event
	pos     int
	count   int
	closed  bool
}

// NewBus creates a bus remembering the last historySize events.
func NewBus(historySize int) *Bus {
	if historySize < 1 {
		historySize = 1
	}
	return &Bus{
		subs:    make(map[int]*subscription),
		history: make([]Event, historySize),
	}
}

// Publish records e and queues it for every matching subscriber. A
// subscriber whose queue is full misses the event. Events published after
// Close are dropped.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.history[b.pos] = e
	b.pos = (b.pos + 1) % len(b.history)
	if b.count < len(b.history) {
		b.count++
	}

	for _, sub := range b.subs {
		if !sub.wants(e.Type) {
			continue
		}
		select {
		case sub.queue <- e:
		default:
		}
	}
}

// Subscribe delivers events of the given types to fn, or every event when
// no type is given. The returned function stops delivery; it may be called
// more than once.
func (b *Bus) Subscribe(fn Subscriber, types ...EventType) func() {
	sub := &subscription{types: types, queue: make(chan Event, subscriberQueue)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go sub.run(fn)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.queue)
		}
	}
}

// History returns up to limit recent events, oldest first.
func (b *Bus) History(limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := min(limit, b.count)
	if n <= 0 {
		return nil
	}
	out := make([]Event, n)
	start := b.pos - n + len(b.history)
	for i := range out {
		out[i] = b.history[(start+i)%len(b.history)]
	}
	return out
}

// Close stops every subscription. Queued events are still delivered.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.queue)
	}
}
