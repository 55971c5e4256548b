package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hrygo/contextbudget/plugin/ai/entry"
)

// EventType identifies a session lifecycle event.
type EventType string

const (
	// EventSessionCreated is fired after a session is created.
	EventSessionCreated EventType = "session_created"
	// EventEntryAdded is fired after an entry is appended.
	EventEntryAdded EventType = "entry_added"
	// EventEntryCompressed is fired after an entry is replaced by its compressed form.
	EventEntryCompressed EventType = "entry_compressed"
	// EventSessionRemoved is fired after an explicit RemoveSession.
	EventSessionRemoved EventType = "session_removed"
	// EventSessionExpired is fired for each session removed by a cleanup sweep.
	EventSessionExpired EventType = "session_expired"
)

// Event is delivered to listeners. Session and Entry are snapshots.
type Event struct {
	Type      EventType
	SessionID string
	Session   *Session
	Entry     *entry.Entry
	Timestamp time.Time
}

// Listener processes events. It runs on the bus goroutine.
type Listener func(event Event)

// EventBus delivers events to listeners in publish order.
// Publish never blocks on listeners; a single dispatcher goroutine drains the queue.
type EventBus struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []Event
	listeners map[EventType][]subscription
	all       []subscription
	nextID    int
	closed    bool
	done      chan struct{}
	logger    *slog.Logger
}

type subscription struct {
	id       int
	listener Listener
}

// NewEventBus creates a bus and starts its dispatcher.
func NewEventBus() *EventBus {
	b := &EventBus{
		listeners: make(map[EventType][]subscription),
		done:      make(chan struct{}),
		logger:    slog.Default().With(slog.String("component", "session.events")),
	}
	b.cond = sync.NewCond(&b.mu)
	go b.dispatch()
	return b
}

// Subscribe registers a listener for one event type.
// The returned function removes the listener.
//
// Listeners run on the dispatcher goroutine and must not call Close, Store.Close
// or anything that closes the bus synchronously: Close waits for the dispatcher,
// which is busy running that listener. Hand shutdown off to a new goroutine instead.
func (b *EventBus) Subscribe(eventType EventType, listener Listener) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.listeners[eventType] = append(b.listeners[eventType], subscription{id: id, listener: listener})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.listeners[eventType] = without(b.listeners[eventType], id)
	}
}

// SubscribeAll registers a listener for every event type.
func (b *EventBus) SubscribeAll(listener Listener) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, listener: listener})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = without(b.all, id)
	}
}

// Publish enqueues an event. Events published after Close are dropped.
func (b *EventBus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.queue = append(b.queue, event)
	b.cond.Signal()
}

// Close delivers queued events, then stops the dispatcher. It is idempotent.
// It blocks until delivery finishes, so it must not be called from a listener.
func (b *EventBus) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		b.cond.Broadcast()
	}
	b.mu.Unlock()

	<-b.done
}

func (b *EventBus) dispatch() {
	defer close(b.done)

	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		event := b.queue[0]
		b.queue[0] = Event{}
		b.queue = b.queue[1:]

		targets := make([]subscription, 0, len(b.listeners[event.Type])+len(b.all))
		targets = append(targets, b.listeners[event.Type]...)
		targets = append(targets, b.all...)
		b.mu.Unlock()

		for _, sub := range targets {
			b.deliver(sub, event)
		}
	}
}

func (b *EventBus) deliver(sub subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("event listener panicked",
				slog.String("event_type", string(event.Type)),
				slog.String("session_id", event.SessionID),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	sub.listener(event)
}

func without(subs []subscription, id int) []subscription {
	out := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
