package entity

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rvlink/rvlink-core/internal/rvc"
)

func onSignals(level float64) map[string]rvc.Value {
	return map[string]rvc.Value{
		"operating_status": {Raw: uint64(level * 2), Numeric: level},
		"load_status":      {Raw: 1, Numeric: 1, Label: "on"},
	}
}

func offSignals() map[string]rvc.Value {
	return map[string]rvc.Value{
		"operating_status": {Raw: 0, Numeric: 0},
		"load_status":      {Raw: 0, Numeric: 0, Label: "off"},
	}
}

// ─── Apply semantics ───────────────────────────────────────────────

func TestApplyEmitsOnChange(t *testing.T) {
	store := NewStore(testMapping(t))
	now := time.Now()

	ev, err := store.Apply("bedroom_ceiling_light", onSignals(50), []byte{25, 0, 100}, now, CauseBus)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if ev == nil {
		t.Fatal("Apply() event = nil for first update, want event")
	}
	if ev.Revision != 1 {
		t.Errorf("Revision = %d, want 1", ev.Revision)
	}
	if ev.Cause != CauseBus {
		t.Errorf("Cause = %q, want bus", ev.Cause)
	}
	if v := ev.State.Signals["operating_status"]; v.Numeric != 50 {
		t.Errorf("snapshot operating_status = %v, want 50", v.Numeric)
	}
}

func TestApplyIdempotence(t *testing.T) {
	// The same values applied twice advance the revision twice but
	// emit only one event.
	store := NewStore(testMapping(t))
	now := time.Now()

	first, err := store.Apply("bedroom_ceiling_light", onSignals(50), nil, now, CauseBus)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if first == nil {
		t.Fatal("first Apply() event = nil, want event")
	}

	second, err := store.Apply("bedroom_ceiling_light", onSignals(50), nil, now.Add(time.Second), CauseBus)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if second != nil {
		t.Errorf("second Apply() event = %+v, want nil for unchanged values", second)
	}

	state, ok := store.Get("bedroom_ceiling_light")
	if !ok {
		t.Fatal("Get() = false, want true")
	}
	if state.Revision != 2 {
		t.Errorf("Revision = %d, want 2 (advances on no-op repeats)", state.Revision)
	}
}

func TestApplyOrdering(t *testing.T) {
	// on, off, on: the final state is on and exactly three events fire
	// in arrival order.
	store := NewStore(testMapping(t))
	now := time.Now()

	var events []*StateChangeEvent
	for i, sig := range []map[string]rvc.Value{onSignals(50), offSignals(), onSignals(50)} {
		ev, err := store.Apply("bedroom_ceiling_light", sig, nil, now.Add(time.Duration(i)*time.Second), CauseBus)
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if ev != nil {
			events = append(events, ev)
		}
	}

	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Revision <= events[i-1].Revision {
			t.Errorf("event %d revision %d not after %d", i, events[i].Revision, events[i-1].Revision)
		}
	}

	state, _ := store.Get("bedroom_ceiling_light")
	if state.Signals["load_status"].Label != "on" {
		t.Errorf("final load_status = %q, want on", state.Signals["load_status"].Label)
	}
}

func TestApplyOverlayMerge(t *testing.T) {
	// A partial update must not clear signals it does not mention.
	store := NewStore(testMapping(t))
	now := time.Now()

	if _, err := store.Apply("bedroom_ceiling_light", onSignals(50), nil, now, CauseBus); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	partial := map[string]rvc.Value{
		"operating_status": {Raw: 150, Numeric: 75},
	}
	if _, err := store.Apply("bedroom_ceiling_light", partial, nil, now.Add(time.Second), CauseBus); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	state, _ := store.Get("bedroom_ceiling_light")
	if v := state.Signals["operating_status"]; v.Numeric != 75 {
		t.Errorf("operating_status = %v, want 75", v.Numeric)
	}
	if v := state.Signals["load_status"]; v.Label != "on" {
		t.Errorf("load_status = %q, want on (preserved by overlay)", v.Label)
	}
}

func TestApplyUnknownEntity(t *testing.T) {
	store := NewStore(testMapping(t))

	_, err := store.Apply("ghost", onSignals(1), nil, time.Now(), CauseBus)
	if !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("Apply() error = %v, want ErrEntityNotFound", err)
	}
}

func TestApplyPendingFlag(t *testing.T) {
	// A command apply marks the entity pending; the next bus
	// observation clears it, emitting an event even when the values
	// themselves are unchanged.
	store := NewStore(testMapping(t))
	now := time.Now()

	ev, err := store.Apply("bedroom_ceiling_light", onSignals(50), nil, now, CauseCommand)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if ev == nil || !ev.State.Pending {
		t.Fatal("command apply did not mark state pending")
	}

	ev, err = store.Apply("bedroom_ceiling_light", onSignals(50), nil, now.Add(time.Second), CauseBus)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if ev == nil {
		t.Fatal("bus confirmation emitted no event, want pending-clear event")
	}
	if ev.State.Pending {
		t.Error("Pending = true after bus confirmation, want false")
	}
}

// ─── Snapshot isolation ────────────────────────────────────────────

func TestGetReturnsDeepCopy(t *testing.T) {
	store := NewStore(testMapping(t))
	now := time.Now()

	if _, err := store.Apply("bedroom_ceiling_light", onSignals(50), nil, now, CauseBus); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	state, _ := store.Get("bedroom_ceiling_light")
	state.Signals["operating_status"] = rvc.Value{Numeric: 999}

	fresh, _ := store.Get("bedroom_ceiling_light")
	if fresh.Signals["operating_status"].Numeric == 999 {
		t.Error("mutating a returned state leaked into the store")
	}
}

func TestSnapshot(t *testing.T) {
	store := NewStore(testMapping(t))
	now := time.Now()

	if _, err := store.Apply("bedroom_ceiling_light", onSignals(50), nil, now, CauseBus); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if _, err := store.Apply("fresh_water_tank", map[string]rvc.Value{
		"relative_level": {Raw: 60, Numeric: 60},
	}, nil, now, CauseBus); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	snap := store.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() has %d entries, want 2 (unseen entities omitted)", len(snap))
	}
	// Mapping-file order: the light precedes the tank.
	if snap[0].EntityID != "bedroom_ceiling_light" || snap[1].EntityID != "fresh_water_tank" {
		t.Errorf("Snapshot() order = [%s, %s], want mapping order", snap[0].EntityID, snap[1].EntityID)
	}
	if store.Count() != 2 {
		t.Errorf("Count() = %d, want 2", store.Count())
	}
}

// ─── Staleness sweep ───────────────────────────────────────────────

func TestMarkStale(t *testing.T) {
	store := NewStore(testMapping(t))
	old := time.Now().Add(-time.Hour)

	if _, err := store.Apply("bedroom_ceiling_light", onSignals(50), nil, old, CauseBus); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	events := store.MarkStale(time.Now().Add(-time.Minute))
	if len(events) != 1 {
		t.Fatalf("MarkStale() produced %d events, want 1", len(events))
	}
	if !events[0].State.Stale {
		t.Error("event state not marked stale")
	}

	// A second sweep finds nothing new.
	if events := store.MarkStale(time.Now().Add(-time.Minute)); len(events) != 0 {
		t.Errorf("second MarkStale() produced %d events, want 0", len(events))
	}

	// Fresh traffic clears the flag and emits a change.
	ev, err := store.Apply("bedroom_ceiling_light", onSignals(50), nil, time.Now(), CauseBus)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if ev == nil || ev.State.Stale {
		t.Error("bus traffic did not clear the stale flag")
	}
}

// ─── Concurrency ───────────────────────────────────────────────────

func TestApplyConcurrentEntities(t *testing.T) {
	store := NewStore(testMapping(t))

	var wg sync.WaitGroup
	for _, id := range []string{"bedroom_ceiling_light", "galley_light", "fresh_water_tank", "interior_temp"} {
		wg.Add(1)
		go func(entityID string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				level := float64(i % 4 * 25)
				if _, err := store.Apply(entityID, onSignals(level), nil, time.Now(), CauseBus); err != nil {
					t.Errorf("Apply(%s) error = %v", entityID, err)
					return
				}
			}
		}(id)
	}
	wg.Wait()

	for _, id := range []string{"bedroom_ceiling_light", "galley_light", "fresh_water_tank", "interior_temp"} {
		state, ok := store.Get(id)
		if !ok {
			t.Fatalf("Get(%s) = false, want true", id)
		}
		if state.Revision != 100 {
			t.Errorf("%s revision = %d, want 100", id, state.Revision)
		}
	}
}
