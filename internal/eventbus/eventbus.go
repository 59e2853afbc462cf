// Package eventbus provides a small, thread safe publish/subscribe bus used
// by the runtime to notify modules of lifecycle and domain events.
package eventbus

import (
	"log/slog"
	"sync"
)

// Handler receives the payload published to a topic. A handler that panics
// is recovered and logged; it never prevents delivery to sibling handlers.
type Handler func(payload any)

// Unsubscribe removes a previously registered handler. Calling it more than
// once is a no-op.
type Unsubscribe func()

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a topic-keyed publish/subscribe registry.
type Bus struct {
	mu     sync.Mutex
	subs   map[string][]subscription
	nextID uint64
	log    *slog.Logger
}

// Config configures a Bus.
type Config struct {
	Logger *slog.Logger
}

// New creates an empty Bus.
func New(cfg Config) *Bus {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		subs: make(map[string][]subscription),
		log:  log.With("component", "eventbus"),
	}
}

// Subscribe registers handler for topic and returns a function that removes
// it. The returned function is safe to call concurrently and more than once.
func (b *Bus) Subscribe(topic string, handler Handler) Unsubscribe {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[topic]
			for i, s := range list {
				if s.id == id {
					b.subs[topic] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
		})
	}
}

// Publish delivers payload to every handler currently subscribed to topic.
// Handlers are snapshotted under lock and invoked outside it, so a handler
// that subscribes or unsubscribes during dispatch never deadlocks and never
// observes a partially-updated subscriber list.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.Lock()
	handlers := make([]Handler, len(b.subs[topic]))
	for i, s := range b.subs[topic] {
		handlers[i] = s.handler
	}
	b.mu.Unlock()

	for _, h := range handlers {
		b.dispatch(topic, h, payload)
	}
}

func (b *Bus) dispatch(topic string, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", "topic", topic, "panic", r)
		}
	}()
	h(payload)
}
