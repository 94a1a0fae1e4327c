package entity

import (
	"sync"
	"time"

	"github.com/rvlink/rvlink-core/internal/rvc"
)

// Logger defines the logging interface used by the Store.
// This allows different logging implementations to be used.
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

// slot holds one entity's state behind its own mutex, so mutations to
// unrelated entities never contend.
type slot struct {
	mu    sync.Mutex
	state State
}

// Store owns every EntityState record. All mutation funnels through
// Apply, which serialises per entity; different entities update fully
// in parallel. The store never blocks on downstream delivery: Apply
// returns the event and the caller decides how to publish it.
type Store struct {
	table *Table

	slotsMu sync.RWMutex
	slots   map[string]*slot

	logger Logger
}

// NewStore creates a state store over the given mapping table. Slots
// are created lazily on the first observed message per entity.
func NewStore(table *Table) *Store {
	return &Store{
		table:  table,
		slots:  make(map[string]*slot, table.Len()),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Apply merges decoded signal values into an entity's state.
//
// The merge is an overlay: signals absent from the update keep their
// previous values. Revision and timestamp advance on every call, value
// change or not, so liveness is observable. A StateChangeEvent is
// returned only when at least one signal value or the pending flag
// actually changed; otherwise the return is nil.
//
// Returns ErrEntityNotFound for an entity ID absent from the mapping.
func (s *Store) Apply(entityID string, signals map[string]rvc.Value, raw []byte, ts time.Time, cause Cause) (*StateChangeEvent, error) {
	if _, ok := s.table.Get(entityID); !ok {
		return nil, ErrEntityNotFound
	}

	sl := s.slot(entityID)

	sl.mu.Lock()
	defer sl.mu.Unlock()

	changed := false
	for name, v := range signals {
		if prev, ok := sl.state.Signals[name]; !ok || prev != v {
			changed = true
		}
		sl.state.Signals[name] = v
	}

	// A bus observation confirms any outstanding command; a command
	// apply marks the state optimistic until the bus reports back.
	pending := cause == CauseCommand
	if sl.state.Pending != pending {
		sl.state.Pending = pending
		changed = true
	}
	if sl.state.Stale {
		sl.state.Stale = false
		changed = true
	}

	sl.state.Revision++
	sl.state.UpdatedAt = ts.UTC()
	if raw != nil {
		sl.state.Raw = append(sl.state.Raw[:0], raw...)
	}

	if !changed {
		return nil, nil
	}

	s.logger.Debug("entity state changed",
		"entity_id", entityID, "revision", sl.state.Revision, "cause", cause)

	return &StateChangeEvent{
		EntityID:  entityID,
		Revision:  sl.state.Revision,
		State:     *sl.state.DeepCopy(),
		Cause:     cause,
		Timestamp: sl.state.UpdatedAt,
	}, nil
}

// Get returns a deep copy of an entity's current state. The second
// return is false when the entity exists in the mapping but has not
// yet been observed on the bus.
func (s *Store) Get(entityID string) (*State, bool) {
	s.slotsMu.RLock()
	sl, ok := s.slots[entityID]
	s.slotsMu.RUnlock()
	if !ok {
		return nil, false
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.state.DeepCopy(), true
}

// Snapshot returns deep copies of every observed entity state, in
// mapping-file order. Entities never seen on the bus are omitted.
func (s *Store) Snapshot() []State {
	s.slotsMu.RLock()
	defer s.slotsMu.RUnlock()

	out := make([]State, 0, len(s.slots))
	for _, d := range s.table.All() {
		sl, ok := s.slots[d.EntityID]
		if !ok {
			continue
		}
		sl.mu.Lock()
		out = append(out, *sl.state.DeepCopy())
		sl.mu.Unlock()
	}
	return out
}

// MarkStale flags every entity not updated since the cutoff and
// returns a change event per newly stale entity. Intended to be called
// periodically by the pipeline's staleness sweep.
func (s *Store) MarkStale(cutoff time.Time) []StateChangeEvent {
	s.slotsMu.RLock()
	defer s.slotsMu.RUnlock()

	var events []StateChangeEvent
	for _, d := range s.table.All() {
		sl, ok := s.slots[d.EntityID]
		if !ok {
			continue
		}

		sl.mu.Lock()
		if !sl.state.Stale && sl.state.UpdatedAt.Before(cutoff) {
			sl.state.Stale = true
			sl.state.Revision++
			events = append(events, StateChangeEvent{
				EntityID:  d.EntityID,
				Revision:  sl.state.Revision,
				State:     *sl.state.DeepCopy(),
				Cause:     CauseBus,
				Timestamp: time.Now().UTC(),
			})
		}
		sl.mu.Unlock()
	}

	if len(events) > 0 {
		s.logger.Info("entities marked stale", "count", len(events))
	}
	return events
}

// Count returns the number of entities observed so far.
func (s *Store) Count() int {
	s.slotsMu.RLock()
	defer s.slotsMu.RUnlock()
	return len(s.slots)
}

// slot returns the entity's mutation slot, creating it on first use.
func (s *Store) slot(entityID string) *slot {
	s.slotsMu.RLock()
	sl, ok := s.slots[entityID]
	s.slotsMu.RUnlock()
	if ok {
		return sl
	}

	s.slotsMu.Lock()
	defer s.slotsMu.Unlock()
	if sl, ok = s.slots[entityID]; ok {
		return sl
	}

	sl = &slot{state: State{
		EntityID: entityID,
		Signals:  make(map[string]rvc.Value),
	}}
	s.slots[entityID] = sl
	return sl
}
