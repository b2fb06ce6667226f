package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// mailboxSize bounds the events waiting for one subscriber.
const mailboxSize = 256

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// Emitter is the publishing side of the bus. Components that only emit
// depend on this rather than on *EventBus.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// EventBus fans lifecycle events out to named subscribers. Each subscriber
// has one mailbox and one goroutine, so it sees events in emit order.
// Emit never blocks: tick loops publish from their hot path, and a
// subscriber that falls behind loses events instead of stalling a tick.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	stopped     bool

	pending sync.WaitGroup
	workers sync.WaitGroup
	dropped atomic.Uint64
	logger  zerolog.Logger
}

type delivery struct {
	ctx   context.Context
	event Event
}

type subscriber struct {
	name     string
	handlers map[EventType]HandlerFunc
	inbox    chan delivery
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string]*subscriber),
		logger:      log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers handler under name for one event type. A name owns
// a single mailbox across every type it subscribes to; subscribing the
// same name and type again replaces the handler.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.stopped {
		return
	}

	sub, ok := eb.subscribers[name]
	if !ok {
		sub = &subscriber{
			name:     name,
			handlers: make(map[EventType]HandlerFunc),
			inbox:    make(chan delivery, mailboxSize),
		}
		eb.subscribers[name] = sub
		eb.workers.Add(1)
		go eb.serve(sub)
	}
	sub.handlers[eventType] = handler

	eb.logger.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// Unsubscribe removes name's handler for one event type. A subscriber
// left with no types is shut down once its mailbox drains.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	sub, ok := eb.subscribers[name]
	if !ok {
		return
	}
	delete(sub.handlers, eventType)
	if len(sub.handlers) == 0 {
		delete(eb.subscribers, name)
		close(sub.inbox)
	}
}

// Emit queues event for every subscriber of its type.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.stopped {
		return
	}

	for _, sub := range eb.subscribers {
		if _, ok := sub.handlers[event.Type]; !ok {
			continue
		}
		eb.pending.Add(1)
		select {
		case sub.inbox <- delivery{ctx: ctx, event: event}:
		default:
			eb.pending.Done()
			eb.dropped.Add(1)
			eb.logger.Warn().
				Str("event", string(event.Type)).
				Str("handler", sub.name).
				Msg("subscriber mailbox full, event dropped")
		}
	}
}

func (eb *EventBus) serve(sub *subscriber) {
	defer eb.workers.Done()
	for d := range sub.inbox {
		eb.deliver(sub, d)
	}
}

func (eb *EventBus) deliver(sub *subscriber, d delivery) {
	defer eb.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error().
				Str("event", string(d.event.Type)).
				Str("handler", sub.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	eb.mu.RLock()
	handler := sub.handlers[d.event.Type]
	eb.mu.RUnlock()
	if handler == nil {
		return
	}

	if err := handler(d.ctx, d.event); err != nil {
		eb.logger.Error().
			Err(err).
			Str("event", string(d.event.Type)).
			Str("handler", sub.name).
			Msg("handler returned error")
	}
}

// Wait blocks until every queued event has been handled.
func (eb *EventBus) Wait() {
	eb.pending.Wait()
}

// Stop rejects further events, lets every mailbox drain and waits for
// the subscriber goroutines to exit.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	for name, sub := range eb.subscribers {
		close(sub.inbox)
		delete(eb.subscribers, name)
	}
	eb.mu.Unlock()

	eb.workers.Wait()
	eb.logger.Info().Uint64("dropped", eb.dropped.Load()).Msg("event bus stopped")
}

// Dropped returns how many deliveries were lost to full mailboxes.
func (eb *EventBus) Dropped() uint64 {
	return eb.dropped.Load()
}

// HandlerCount returns the number of subscribers for an event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	n := 0
	for _, sub := range eb.subscribers {
		if _, ok := sub.handlers[eventType]; ok {
			n++
		}
	}
	return n
}
