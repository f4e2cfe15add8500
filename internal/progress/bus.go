package progress

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notescan/notescan/internal/storage"
)

// subscriberBuffer is the per-session channel depth. A subscriber that
// stays full is disconnected rather than allowed to back-pressure
// publishers.
const subscriberBuffer = 64

// Subscriber is one live SSE session's view of a tenant's events.
type Subscriber struct {
	ch       chan Event
	tenantID string
}

// Events returns the receive channel. It is closed when the subscriber
// is dropped or unsubscribed.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Bus accepts progress events from any worker, persists the latest
// status per (tenant, process type) synchronously, then fans the event
// out to live subscribers best-effort.
type Bus struct {
	store  storage.Store
	logger *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	subs   map[string]map[*Subscriber]struct{}
	closed bool
}

// NewBus returns a bus writing durable status rows through store.
func NewBus(store storage.Store, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		store:  store,
		logger: logger,
		now:    time.Now,
		subs:   make(map[string]map[*Subscriber]struct{}),
	}
}

// Publish records the event durably (Sink A, synchronous) and then
// broadcasts it to the tenant's subscribers (Sink B, best effort).
// Sink A failure is returned but the live broadcast still happens so
// watching clients are not blinded by a store hiccup.
func (b *Bus) Publish(ctx context.Context, tenantID string, event Event) error {
	var sinkErr error
	if st := event.status(tenantID, b.now().UTC()); st != nil {
		if err := b.store.UpsertProcessStatus(ctx, st); err != nil {
			b.logger.Warn("process status upsert failed",
				zap.String("tenant_id", tenantID),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
			sinkErr = err
		}
	}
	b.broadcast(tenantID, event)
	return sinkErr
}

// Subscribe opens a session for the tenant. The returned cancel func is
// idempotent and must be called when the client disconnects.
func (b *Bus) Subscribe(tenantID string) (*Subscriber, func()) {
	sub := &Subscriber{
		ch:       make(chan Event, subscriberBuffer),
		tenantID: tenantID,
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub, func() {}
	}
	if b.subs[tenantID] == nil {
		b.subs[tenantID] = make(map[*Subscriber]struct{})
	}
	b.subs[tenantID][sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() { b.remove(sub) })
	}
	return sub, cancel
}

// SubscriberCount reports live sessions for a tenant (for tests and
// introspection).
func (b *Bus) SubscriberCount(tenantID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[tenantID])
}

// Close drops every subscriber. Pending buffered events are discarded;
// the durable sink already has the latest state.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sessions := range b.subs {
		for sub := range sessions {
			close(sub.ch)
		}
	}
	b.subs = make(map[string]map[*Subscriber]struct{})
}

// broadcast delivers to every session under the read lock; sessions
// with a full buffer are collected and dropped afterwards under the
// write lock.
func (b *Bus) broadcast(tenantID string, event Event) {
	var slow []*Subscriber
	b.mu.RLock()
	for sub := range b.subs[tenantID] {
		select {
		case sub.ch <- event:
		default:
			slow = append(slow, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range slow {
		b.logger.Warn("dropping slow progress subscriber",
			zap.String("tenant_id", tenantID))
		b.remove(sub)
	}
}

func (b *Bus) remove(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sessions, ok := b.subs[sub.tenantID]
	if !ok {
		return
	}
	if _, live := sessions[sub]; !live {
		return
	}
	delete(sessions, sub)
	if len(sessions) == 0 {
		delete(b.subs, sub.tenantID)
	}
	close(sub.ch)
}
