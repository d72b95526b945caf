package events

import (
	"sync"
	"time"
)

// EventType names a bus topic.
type EventType string

const (
	// EventModeSwitched is published after an operating mode switch completes.
	EventModeSwitched EventType = "mode_switched"
	// EventModeSwitchPending is published when a deferred switch request is accepted.
	EventModeSwitchPending EventType = "mode_switch_pending"
	// EventModeSwitchFailed is published when a switch request is rejected.
	EventModeSwitchFailed EventType = "mode_switch_failed"
	// EventModeTriggerDetected is published when an escalation trigger fires.
	EventModeTriggerDetected EventType = "mode_trigger_detected"
	// EventPromptChanged is published when a watched prompt file changes on disk.
	EventPromptChanged EventType = "prompt_changed"
	// EventLoopIteration is published at the end of each loop iteration.
	EventLoopIteration EventType = "loop_iteration"
	// EventLoopStopped is published when the loop driver stops.
	EventLoopStopped EventType = "loop_stopped"
)

// Event is what subscribers receive. Data keys are event-specific.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]interface{}
}

// Subscriber receives events on its own goroutine.
type Subscriber func(Event)

// Bus fans events out to per-subscriber buffered channels. Publish never
// blocks: when a subscriber's buffer is full, that subscriber misses the
// event. The loop must not stall because an event sink is slow.
type Bus struct {
	mu         sync.RWMutex
	nextID     int
	subs       map[EventType]map[int]chan Event
	bufferSize int
}

// NewBus creates a bus. bufferSize <= 0 selects the default of 100 buffered
// events per subscriber.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subs:       make(map[EventType]map[int]chan Event),
		bufferSize: bufferSize,
	}
}

// Subscribe registers fn for one event type and returns its unsubscribe
// function. fn runs on a dedicated goroutine; a panic in fn loses that event
// only.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	ch := make(chan Event, b.bufferSize)
	id := b.nextID
	b.nextID++
	if b.subs[eventType] == nil {
		b.subs[eventType] = make(map[int]chan Event)
	}
	b.subs[eventType][id] = ch
	b.mu.Unlock()

	go deliver(ch, fn)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[eventType][id]; ok {
			delete(b.subs[eventType], id)
			close(ch)
		}
	}
}

func deliver(ch <-chan Event, fn Subscriber) {
	for event := range ch {
		safeCall(fn, event)
	}
}

// safeCall shields the delivery goroutine from subscriber panics.
func safeCall(fn Subscriber, event Event) {
	defer func() { _ = recover() }()
	fn(event)
}

// Publish delivers the event to every subscriber of eventType without
// blocking. The timestamp is assigned here, in UTC.
func (b *Bus) Publish(eventType EventType, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[eventType] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes every subscriber channel and empties the registry. Safe to
// call more than once; unsubscribe functions invoked afterwards are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subs, eventType)
	}
}
