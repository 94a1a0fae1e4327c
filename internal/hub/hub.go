package hub

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rvlink/rvlink-core/internal/entity"
)

// DefaultQueueSize is the per-subscriber queue capacity used when the
// configuration does not set one.
const DefaultQueueSize = 64

// Logger defines the logging interface used by the Hub.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Snapshotter supplies the full current state for subscribers that
// request an initial snapshot. Implemented by the entity store.
type Snapshotter interface {
	Snapshot() []entity.State
}

// Subscription is one subscriber's handle. Events are consumed from
// Events(); the channel is closed when the subscription ends.
type Subscription struct {
	id      string
	events  chan entity.StateChangeEvent
	dropped atomic.Uint64

	hub       *Hub
	closeOnce sync.Once
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string {
	return s.id
}

// Events returns the subscriber's event stream. The channel is closed
// by Close (or by hub shutdown); consumers should range over it.
func (s *Subscription) Events() <-chan entity.StateChangeEvent {
	return s.events
}

// Dropped returns how many events this subscriber has lost to
// backpressure. The counter never decreases.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes and releases the queue. Safe to call multiple
// times and safe to call while a publisher is active.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Hub distributes state-change events to all active subscribers.
//
// Publish never blocks: delivery is enqueue-or-drop per subscriber.
// All methods are safe for concurrent use.
type Hub struct {
	queueSize int
	snapshots Snapshotter

	mu   sync.RWMutex
	subs map[string]*Subscription

	dropsTotal atomic.Uint64
	published  atomic.Uint64

	logger Logger
}

// New creates a hub. snapshots may be nil if no subscriber will ever
// request an initial snapshot.
func New(queueSize int, snapshots Snapshotter) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		queueSize: queueSize,
		snapshots: snapshots,
		subs:      make(map[string]*Subscription),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the hub.
func (h *Hub) SetLogger(logger Logger) {
	h.logger = logger
}

// Subscribe registers a new subscriber and returns its handle.
//
// When withSnapshot is set, the current state of every observed entity
// is queued ahead of any incremental event, so the subscriber starts
// from a consistent view. The snapshot is taken and queued under the
// hub lock, which excludes concurrent publishes: no event published
// after the snapshot can be missed, and none published before it can
// appear after it.
func (h *Hub) Subscribe(withSnapshot bool) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	capacity := h.queueSize
	var snapshot []entity.State
	if withSnapshot && h.snapshots != nil {
		snapshot = h.snapshots.Snapshot()
		// The snapshot must fit alongside a full queue of live events.
		capacity += len(snapshot)
	}

	sub := &Subscription{
		id:     uuid.New().String(),
		events: make(chan entity.StateChangeEvent, capacity),
		hub:    h,
	}

	for i := range snapshot {
		st := snapshot[i]
		sub.events <- entity.StateChangeEvent{
			EntityID:  st.EntityID,
			Revision:  st.Revision,
			State:     st,
			Cause:     entity.CauseBus,
			Timestamp: st.UpdatedAt,
		}
	}

	h.subs[sub.id] = sub
	h.logger.Debug("subscriber added", "id", sub.id, "snapshot", len(snapshot))
	return sub
}

// unsubscribe removes a subscription and closes its channel.
func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	_, present := h.subs[sub.id]
	delete(h.subs, sub.id)
	h.mu.Unlock()

	sub.closeOnce.Do(func() { close(sub.events) })

	if present {
		h.logger.Debug("subscriber removed", "id", sub.id, "dropped", sub.Dropped())
	}
}

// Publish delivers an event to every subscriber. For a subscriber
// whose queue is full, the oldest queued event is discarded to make
// room; the publisher itself never waits.
func (h *Hub) Publish(event entity.StateChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.published.Add(1)

	for _, sub := range h.subs {
		select {
		case sub.events <- event:
			continue
		default:
		}

		// Queue full: drop the oldest event, then retry once. A racing
		// consumer may have freed space in between, in which case the
		// event fits without dropping anything further.
		select {
		case <-sub.events:
			sub.dropped.Add(1)
			h.dropsTotal.Add(1)
		default:
		}

		select {
		case sub.events <- event:
		default:
			sub.dropped.Add(1)
			h.dropsTotal.Add(1)
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// DropsTotal returns the total events dropped across all subscribers
// since the hub was created.
func (h *Hub) DropsTotal() uint64 {
	return h.dropsTotal.Load()
}

// Published returns the total events published since the hub was
// created.
func (h *Hub) Published() uint64 {
	return h.published.Load()
}

// Shutdown closes every subscription. Used at process shutdown so
// transport relays ranging over their event channels terminate.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.subs = make(map[string]*Subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.closeOnce.Do(func() { close(sub.events) })
	}

	h.logger.Info("hub shut down", "subscribers_closed", len(subs))
}
