package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"codegen-agent/internal/domain"
)

type subscription struct {
	id      uint64
	session string // empty = every session
	handler domain.EventHandler
}

// Bus is an in-process, goroutine-safe event bus.
//
// Handlers run synchronously on the publishing goroutine, so a subscriber
// sees one session's events in publish order (stream deltas before the
// completed message). Handlers must be quick; slow consumers should hand
// events off to their own buffered channel.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]subscription
	allSubs []subscription
	nextID  atomic.Uint64
	logger  *slog.Logger
	closed  atomic.Bool
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		typed:  make(map[domain.EventType][]subscription),
		logger: logger,
	}
}

// Publish delivers an event to matching typed subscribers, then to
// all-event subscribers. Panicking handlers are recovered.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	typed := make([]subscription, len(b.typed[event.Type]))
	copy(typed, b.typed[event.Type])
	allSubs := make([]subscription, len(b.allSubs))
	copy(allSubs, b.allSubs)
	b.mu.RUnlock()

	for _, sub := range typed {
		b.dispatch(ctx, event, sub)
	}
	for _, sub := range allSubs {
		b.dispatch(ctx, event, sub)
	}
}

func (b *Bus) dispatch(ctx context.Context, event domain.Event, sub subscription) {
	if sub.session != "" && sub.session != event.SessionID {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(event.Type),
				"session_id", event.SessionID,
				"panic", r,
			)
		}
	}()
	sub.handler(ctx, event)
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	id := b.nextID.Add(1)
	sub := subscription{id: id, handler: handler}

	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.typed[eventType] = removeSub(b.typed[eventType], id)
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.subscribeAll(subscription{handler: handler})
}

// SubscribeSession registers a handler that receives every event of one
// session. Returns an unsubscribe function.
func (b *Bus) SubscribeSession(sessionID string, handler domain.EventHandler) func() {
	return b.subscribeAll(subscription{session: sessionID, handler: handler})
}

func (b *Bus) subscribeAll(sub subscription) func() {
	id := b.nextID.Add(1)
	sub.id = id

	b.mu.Lock()
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.allSubs = removeSub(b.allSubs, id)
	}
}

func removeSub(subs []subscription, id uint64) []subscription {
	for i, s := range subs {
		if s.id == id {
			out := make([]subscription, 0, len(subs)-1)
			out = append(out, subs[:i]...)
			return append(out, subs[i+1:]...)
		}
	}
	return subs
}

// Close prevents new publishes. Close is idempotent.
func (b *Bus) Close() {
	b.closed.Store(true)
}
