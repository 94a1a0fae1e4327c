package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rvlink/rvlink-core/internal/canbus"
	"github.com/rvlink/rvlink-core/internal/entity"
	"github.com/rvlink/rvlink-core/internal/rvc"
)

// testRunner assembles a runner over fake collaborators. The returned
// cleanup stops it.
func testRunner(t *testing.T, ifaces ...canbus.Interface) (*Runner, *entity.Store, *eventCollector, *Diagnostics) {
	t.Helper()

	mapping := testMapping(t)
	store := entity.NewStore(mapping)
	sink := &eventCollector{}
	diag := &Diagnostics{}

	runner := NewRunner(RunnerOptions{
		Spec:        testSpec(t),
		Mapping:     mapping,
		Store:       store,
		Sink:        sink,
		Interfaces:  ifaces,
		Diagnostics: diag,
	})

	if err := runner.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(runner.Stop)

	return runner, store, sink, diag
}

// ─── Frame processing ───────────────────────────────────────────────

func TestRunnerAppliesStatusFrame(t *testing.T) {
	bus := newFakeBus("house")
	_, _, sink, diag := testRunner(t, bus)

	bus.push(statusFrame(25, 50, true))

	waitFor(t, func() bool { return sink.count() == 1 }, "state change event")

	events := sink.all()
	if events[0].EntityID != "bedroom_ceiling_light" {
		t.Errorf("EntityID = %q, want bedroom_ceiling_light", events[0].EntityID)
	}
	if events[0].Cause != entity.CauseBus {
		t.Errorf("Cause = %q, want bus", events[0].Cause)
	}
	if events[0].Revision != 1 {
		t.Errorf("Revision = %d, want 1", events[0].Revision)
	}
	if got := events[0].State.Signals["operating_status"].Numeric; got != 50 {
		t.Errorf("operating_status = %v, want 50", got)
	}
	if got := events[0].State.Signals["load_status"].Label; got != "on" {
		t.Errorf("load_status = %q, want on", got)
	}
	if diag.Snapshot().FramesProcessed != 1 {
		t.Errorf("FramesProcessed = %d, want 1", diag.Snapshot().FramesProcessed)
	}
}

func TestRunnerRepeatAdvancesRevisionWithoutEvent(t *testing.T) {
	bus := newFakeBus("house")
	_, store, sink, diag := testRunner(t, bus)

	bus.push(statusFrame(25, 50, true))
	bus.push(statusFrame(25, 50, true))

	waitFor(t, func() bool { return diag.Snapshot().FramesProcessed == 2 }, "both frames processed")

	if sink.count() != 1 {
		t.Errorf("events = %d, want 1 (value repeat must not publish)", sink.count())
	}

	state, ok := store.Get("bedroom_ceiling_light")
	if !ok {
		t.Fatal("Get() = false, want state present")
	}
	if state.Revision != 2 {
		t.Errorf("Revision = %d, want 2 (repeat still advances)", state.Revision)
	}
}

func TestRunnerPreservesArrivalOrder(t *testing.T) {
	bus := newFakeBus("house")
	_, _, sink, _ := testRunner(t, bus)

	bus.push(statusFrame(25, 100, true))
	bus.push(statusFrame(25, 0, false))
	bus.push(statusFrame(25, 100, true))

	waitFor(t, func() bool { return sink.count() == 3 }, "three events")

	want := []string{"on", "off", "on"}
	for i, event := range sink.all() {
		if got := event.State.Signals["load_status"].Label; got != want[i] {
			t.Errorf("event %d load_status = %q, want %q", i, got, want[i])
		}
		if event.Revision != uint64(i+1) {
			t.Errorf("event %d Revision = %d, want %d", i, event.Revision, i+1)
		}
	}
}

func TestRunnerUnknownDGN(t *testing.T) {
	bus := newFakeBus("house")
	_, store, sink, diag := testRunner(t, bus)

	bus.push(rvc.Frame{
		ID:        rvc.BuildID(6, 0x09999, 0x44),
		Data:      []byte{0x01, 0x02},
		Interface: "house",
	})

	waitFor(t, func() bool { return diag.UnknownDGN() == 1 }, "unknown DGN counter")

	if sink.count() != 0 {
		t.Errorf("events = %d, want 0", sink.count())
	}
	if store.Count() != 0 {
		t.Errorf("store.Count() = %d, want 0 (no state mutated)", store.Count())
	}
}

func TestRunnerUnmappedInstance(t *testing.T) {
	bus := newFakeBus("house")
	_, store, sink, diag := testRunner(t, bus)

	// Known DGN, but no entity claims instance 99 and the dimmer has
	// no default mapping.
	bus.push(statusFrame(99, 50, true))

	waitFor(t, func() bool { return diag.Unmapped() == 1 }, "unmapped counter")

	if sink.count() != 0 {
		t.Errorf("events = %d, want 0", sink.count())
	}
	if store.Count() != 0 {
		t.Errorf("store.Count() = %d, want 0", store.Count())
	}
}

func TestRunnerDefaultInstanceFallback(t *testing.T) {
	bus := newFakeBus("house")
	_, _, sink, _ := testRunner(t, bus)

	// Tank instance 3 has no exact mapping; the default entry catches it.
	bus.push(rvc.Frame{
		ID:        rvc.BuildID(6, 0x1FFB7, 0x60),
		Data:      []byte{0x03, 42, 100},
		Interface: "house",
	})

	waitFor(t, func() bool { return sink.count() == 1 }, "tank event")

	event := sink.all()[0]
	if event.EntityID != "fresh_water_tank" {
		t.Errorf("EntityID = %q, want fresh_water_tank", event.EntityID)
	}
	if got := event.State.Signals["relative_level"].Numeric; got != 42 {
		t.Errorf("relative_level = %v, want 42", got)
	}
}

func TestRunnerCompanionStatusResolution(t *testing.T) {
	bus := newFakeBus("house")
	_, _, sink, _ := testRunner(t, bus)

	// Ambient status arrives on the thermostat's companion DGN.
	bus.push(rvc.Frame{
		ID:        rvc.BuildID(6, 0x1FF9C, 0x60),
		Data:      []byte{0x01, 0x10, 0x25}, // raw 0x2510 = 9488 -> 23.5 degC
		Interface: "house",
	})

	waitFor(t, func() bool { return sink.count() == 1 }, "thermostat event")

	event := sink.all()[0]
	if event.EntityID != "main_thermostat" {
		t.Errorf("EntityID = %q, want main_thermostat", event.EntityID)
	}
	if got := event.State.Signals["ambient_temp"].Numeric; got != 23.5 {
		t.Errorf("ambient_temp = %v, want 23.5", got)
	}
}

// ─── Lifecycle ──────────────────────────────────────────────────────

func TestRunnerDoubleStart(t *testing.T) {
	bus := newFakeBus("house")
	runner, _, _, _ := testRunner(t, bus)

	if err := runner.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestRunnerInterfaceStates(t *testing.T) {
	bus := newFakeBus("house")
	runner, _, _, _ := testRunner(t, bus)

	waitFor(t, func() bool { return runner.InterfaceState("house") == StateListening }, "listening state")

	runner.Stop()

	if got := runner.InterfaceState("house"); got != StateStopped {
		t.Errorf("InterfaceState after Stop = %q, want %q", got, StateStopped)
	}
	if got := runner.InterfaceState("nonexistent"); got != StateStopped {
		t.Errorf("InterfaceState(unknown) = %q, want %q", got, StateStopped)
	}
}

func TestRunnerStopDrainsCleanly(t *testing.T) {
	bus := newFakeBus("house")
	runner, _, sink, _ := testRunner(t, bus)

	bus.push(statusFrame(25, 50, true))
	waitFor(t, func() bool { return sink.count() == 1 }, "event before stop")

	runner.Stop()

	// Frames pushed after Stop are never consumed.
	bus.push(statusFrame(25, 75, true))
	time.Sleep(50 * time.Millisecond)
	if sink.count() != 1 {
		t.Errorf("events after Stop = %d, want 1", sink.count())
	}
}

func TestRunnerInterfaceCloseCountsDisconnect(t *testing.T) {
	bus := newFakeBus("house")
	_, _, _, diag := testRunner(t, bus)

	_ = bus.Close()

	waitFor(t, func() bool { return diag.Snapshot().Disconnects == 1 }, "disconnect counter")
}
