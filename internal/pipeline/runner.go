package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rvlink/rvlink-core/internal/canbus"
	"github.com/rvlink/rvlink-core/internal/entity"
	"github.com/rvlink/rvlink-core/internal/rvc"
)

// Worker states per interface.
const (
	// StateStopped means the worker is not consuming frames.
	StateStopped = "stopped"

	// StateListening means the worker is pulling frames.
	StateListening = "listening"
)

// Runner timing defaults.
const (
	// defaultStaleAfter is how long an entity may go unheard before
	// the staleness sweep flags it.
	defaultStaleAfter = 5 * time.Minute

	// staleCheckInterval is how often the staleness sweep runs.
	staleCheckInterval = 30 * time.Second

	// historyTimeout bounds a single history insert so persistence
	// hiccups cannot stall the frame loop for long.
	historyTimeout = 2 * time.Second
)

// Logger defines the logging interface used by the pipeline.
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

// EventSink receives state-change events; implemented by the hub.
type EventSink interface {
	Publish(event entity.StateChangeEvent)
}

// HistoryRecorder persists state changes; implemented by the SQLite
// history repository. Optional.
type HistoryRecorder interface {
	RecordChange(ctx context.Context, entityID string, values map[string]any, cause string) error
}

// TelemetryWriter forwards numeric state to the time-series store.
// Optional.
type TelemetryWriter interface {
	WriteEntityState(entityID, area string, values map[string]any, ts time.Time)
}

// RunnerOptions holds the collaborators for a Runner.
type RunnerOptions struct {
	// Spec is the loaded protocol specification table.
	Spec *rvc.SpecTable

	// Mapping is the loaded device mapping table.
	Mapping *entity.Table

	// Store is the entity state store.
	Store *entity.Store

	// Sink receives state-change events (the fan-out hub).
	Sink EventSink

	// Interfaces are the bus interfaces to consume, one worker each.
	Interfaces []canbus.Interface

	// Diagnostics receives the per-frame counters. Required.
	Diagnostics *Diagnostics

	// History persists state changes. Optional.
	History HistoryRecorder

	// Telemetry forwards numeric state to the time-series store. Optional.
	Telemetry TelemetryWriter

	// StaleAfter is the silence window before an entity is flagged
	// stale. Zero disables the sweep.
	StaleAfter time.Duration

	// Logger is an optional structured logger.
	Logger Logger
}

// Runner drives the decode, resolve, apply flow: one worker per bus
// interface, frames processed strictly in arrival order within an
// interface, interfaces independent of each other.
type Runner struct {
	spec    *rvc.SpecTable
	mapping *entity.Table
	store   *entity.Store
	sink    EventSink
	ifaces  []canbus.Interface
	diag    *Diagnostics

	history    HistoryRecorder
	telemetry  TelemetryWriter
	staleAfter time.Duration

	statesMu sync.RWMutex
	states   map[string]string // interface name -> worker state

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	runMu   sync.Mutex

	logger Logger
}

// NewRunner creates a runner. Start must be called to begin consuming.
func NewRunner(opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	diag := opts.Diagnostics
	if diag == nil {
		diag = &Diagnostics{}
	}

	states := make(map[string]string, len(opts.Interfaces))
	for _, iface := range opts.Interfaces {
		states[iface.Name()] = StateStopped
	}

	return &Runner{
		spec:       opts.Spec,
		mapping:    opts.Mapping,
		store:      opts.Store,
		sink:       opts.Sink,
		ifaces:     opts.Interfaces,
		diag:       diag,
		history:    opts.History,
		telemetry:  opts.Telemetry,
		staleAfter: opts.StaleAfter,
		states:     states,
		logger:     logger,
	}
}

// Start launches one worker per interface plus the staleness sweep.
// Returns ErrAlreadyRunning if called twice without Stop.
func (r *Runner) Start(ctx context.Context) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.running {
		return ErrAlreadyRunning
	}
	r.running = true

	ctx, r.cancel = context.WithCancel(ctx)

	for _, iface := range r.ifaces {
		r.wg.Add(1)
		go r.worker(ctx, iface)
	}

	if r.staleAfter > 0 {
		r.wg.Add(1)
		go r.staleSweep(ctx)
	}

	r.logger.Info("pipeline started", "interfaces", len(r.ifaces))
	return nil
}

// Stop cancels all workers and waits for them to drain. In-flight
// applies for frames already received complete; no further frames are
// pulled. Safe to call multiple times.
func (r *Runner) Stop() {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return
	}
	r.running = false

	r.cancel()
	r.wg.Wait()
	r.logger.Info("pipeline stopped")
}

// InterfaceState returns a worker's current state.
func (r *Runner) InterfaceState(name string) string {
	r.statesMu.RLock()
	defer r.statesMu.RUnlock()
	if s, ok := r.states[name]; ok {
		return s
	}
	return StateStopped
}

// setState records a worker state transition.
func (r *Runner) setState(name, state string) {
	r.statesMu.Lock()
	r.states[name] = state
	r.statesMu.Unlock()
}

// worker is the per-interface ingestion loop: Stopped -> Listening ->
// Stopped. Receive blocks until a frame arrives or the context is
// cancelled; every received frame is processed before the next pull,
// preserving arrival order.
func (r *Runner) worker(ctx context.Context, iface canbus.Interface) {
	defer r.wg.Done()

	name := iface.Name()
	r.setState(name, StateListening)
	defer r.setState(name, StateStopped)

	r.logger.Info("interface worker listening", "interface", name)

	for {
		frame, err := iface.Receive(ctx)
		if err != nil {
			switch {
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return
			case errors.Is(err, canbus.ErrClosed):
				r.diag.disconnects.Add(1)
				r.logger.Warn("interface closed", "interface", name)
				return
			default:
				r.diag.disconnects.Add(1)
				r.logger.Error("interface receive failed", "interface", name, "error", err)
				return
			}
		}

		r.processFrame(ctx, frame)
	}
}

// processFrame runs one frame through decode, resolve and apply.
// Failures are diagnostics, never fatal to the worker.
func (r *Runner) processFrame(ctx context.Context, frame rvc.Frame) {
	r.diag.framesProcessed.Add(1)

	decoded := rvc.Decode(r.spec, frame)
	if !decoded.Complete {
		r.diag.unknownDGN.Add(1)
		r.logger.Debug("unknown DGN",
			"dgn", decoded.DGN, "source", decoded.Source, "interface", frame.Interface)
		return
	}
	if decoded.Partial {
		r.diag.decodePartial.Add(1)
	}

	desc, ok := r.mapping.Resolve(decoded.DGN, decoded.Instance, decoded.HasInstance)
	if !ok {
		r.diag.unmapped.Add(1)
		r.logger.Debug("unmapped frame",
			"dgn", decoded.DGN, "instance", decoded.Instance, "interface", frame.Interface)
		return
	}

	event, err := r.store.Apply(desc.EntityID, decoded.Signals, frame.Data, frame.Timestamp, entity.CauseBus)
	if err != nil {
		r.diag.applyErrors.Add(1)
		r.logger.Error("state apply failed", "entity_id", desc.EntityID, "error", err)
		return
	}
	if event == nil {
		return // Value repeat: revision advanced, nothing to publish.
	}

	r.publishEvent(ctx, desc, event)
}

// publishEvent fans a change event out to the hub and the optional
// persistence collaborators. Hub delivery is enqueue-or-drop and never
// blocks; history and telemetry are best-effort.
func (r *Runner) publishEvent(ctx context.Context, desc *entity.Descriptor, event *entity.StateChangeEvent) {
	r.sink.Publish(*event)
	r.diag.eventsPublished.Add(1)

	values := event.State.Values()

	if r.history != nil {
		hctx, cancel := context.WithTimeout(ctx, historyTimeout)
		if err := r.history.RecordChange(hctx, event.EntityID, values, string(event.Cause)); err != nil {
			r.logger.Warn("history record failed", "entity_id", event.EntityID, "error", err)
		}
		cancel()
	}

	if r.telemetry != nil {
		r.telemetry.WriteEntityState(event.EntityID, desc.Area, values, event.Timestamp)
	}
}

// staleSweep periodically flags entities that have gone quiet.
func (r *Runner) staleSweep(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(staleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-r.staleAfter)
			for _, event := range r.store.MarkStale(cutoff) {
				r.sink.Publish(event)
				r.diag.eventsPublished.Add(1)
			}
		}
	}
}
