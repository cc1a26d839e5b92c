// Package events implements the named publish/subscribe dispatcher shared by
// all components. Dispatch is synchronous and runs on the caller's goroutine;
// handlers for one event run in registration order, and a panicking handler
// never prevents the remaining handlers from running.
package events

import (
	"sync"

	"codeberg.org/mutker/reactorctl/internal/logger"
)

// Handler receives the arguments passed to Publish.
type Handler func(args ...any)

// Subscription identifies a registered handler so it can be removed again.
// Func values are not comparable in Go, so Subscribe hands out a token.
type Subscription struct {
	event string
	id    uint64
}

type registration struct {
	id      uint64
	handler Handler
}

// Bus is a named publish/subscribe dispatcher. One instance is constructed
// explicitly and shared by reference; there is no package-level default.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string][]registration
}

func New() *Bus {
	return &Bus{
		handlers: make(map[string][]registration),
	}
}

// Subscribe registers handler for the named event and returns a token for
// Unsubscribe. Handlers run in registration order.
func (b *Bus) Subscribe(event string, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.handlers[event] = append(b.handlers[event], registration{id: b.nextID, handler: handler})

	return Subscription{event: event, id: b.nextID}
}

// Unsubscribe removes a previously registered handler. Unknown tokens are
// ignored.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.handlers[sub.event]
	for i, reg := range regs {
		if reg.id == sub.id {
			b.handlers[sub.event] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Publish invokes all handlers registered for the named event, synchronously,
// on the caller's goroutine. A handler panic is recovered and logged so that
// subsequent handlers still run.
func (b *Bus) Publish(event string, args ...any) {
	b.mu.RLock()
	regs := make([]registration, len(b.handlers[event]))
	copy(regs, b.handlers[event])
	b.mu.RUnlock()

	for _, reg := range regs {
		invoke(event, reg.handler, args)
	}
}

func invoke(event string, handler Handler, args []any) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("event", event).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()

	handler(args...)
}
