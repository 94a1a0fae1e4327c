package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rvlink/rvlink-core/internal/canbus"
)

// defaultHealthInterval is how often health status is published.
const defaultHealthInterval = 30 * time.Second

// HealthReporter periodically publishes bridge health to the health
// topic. The matching LWT message is registered with the broker at
// connect time, so consumers see "offline" even when the bridge dies
// without saying goodbye.
type HealthReporter struct {
	mqtt     MQTTClient
	runner   *Runner
	diag     *Diagnostics
	ifaces   []canbus.Interface
	entities int
	drops    func() uint64
	version  string
	interval time.Duration

	startTime time.Time
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	logger Logger
}

// HealthOptions configures a HealthReporter.
type HealthOptions struct {
	MQTT        MQTTClient
	Runner      *Runner
	Diagnostics *Diagnostics
	Interfaces  []canbus.Interface

	// EntitiesMapped is the configured entity count, reported as-is.
	EntitiesMapped int

	// SubscriberDrops reports the hub's cumulative drop counter.
	SubscriberDrops func() uint64

	Version string

	// Interval between publishes. Default 30s.
	Interval time.Duration

	Logger Logger
}

// NewHealthReporter creates a health reporter. Start must be called to
// begin publishing.
func NewHealthReporter(opts HealthOptions) *HealthReporter {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	drops := opts.SubscriberDrops
	if drops == nil {
		drops = func() uint64 { return 0 }
	}

	return &HealthReporter{
		mqtt:     opts.MQTT,
		runner:   opts.Runner,
		diag:     opts.Diagnostics,
		ifaces:   opts.Interfaces,
		entities: opts.EntitiesMapped,
		drops:    drops,
		version:  opts.Version,
		interval: interval,
		stopCh:   make(chan struct{}),
		logger:   logger,
	}
}

// Start publishes an immediate "starting" status and begins the
// periodic report loop.
func (h *HealthReporter) Start() {
	h.startTime = time.Now()
	h.publish(HealthStarting, "")

	h.wg.Add(1)
	go h.reportLoop()
}

// Stop publishes a final "stopping" status and ends the report loop.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		h.wg.Wait()
		h.publish(HealthStopping, "shutdown requested")
	})
}

// reportLoop publishes health at the configured interval.
func (h *HealthReporter) reportLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	// First regular report shortly after start, so consumers do not
	// wait a full interval to see the bridge leave "starting".
	first := time.NewTimer(2 * time.Second)
	defer first.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-first.C:
			h.report()
		case <-ticker.C:
			h.report()
		}
	}
}

// report determines the current status and publishes it.
func (h *HealthReporter) report() {
	status, reason := h.determineStatus()
	h.publish(status, reason)
}

// determineStatus derives the health status from the bus interfaces.
// All connected is healthy; anything less is degraded with the dead
// interfaces named. MQTT connectivity is not factored in: if the
// broker is unreachable this publish fails and the LWT speaks instead.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	var down []string
	for _, iface := range h.ifaces {
		if !iface.IsConnected() {
			down = append(down, iface.Name())
		}
	}

	if len(down) == 0 {
		return HealthHealthy, ""
	}
	return HealthDegraded, fmt.Sprintf("bus interfaces down: %s", strings.Join(down, ", "))
}

// publish serialises and sends one health message.
func (h *HealthReporter) publish(status HealthStatus, reason string) {
	msg := HealthMessage{
		Service:         ServiceName,
		Timestamp:       time.Now().UTC(),
		Status:          status,
		Version:         h.version,
		UptimeSeconds:   int64(time.Since(h.startTime).Seconds()),
		Interfaces:      h.interfaceStatuses(),
		EntitiesMapped:  h.entities,
		SubscriberDrops: h.drops(),
		Reason:          reason,
	}
	if h.diag != nil {
		snap := h.diag.Snapshot()
		msg.Diagnostics = &snap
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("health message marshal failed", "error", err)
		return
	}
	if err := h.mqtt.Publish(HealthTopic(), payload, stateQoS, true); err != nil {
		h.logger.Warn("health publish failed", "error", err)
	}
}

// interfaceStatuses collects per-interface connection state and frame
// counters for the health report.
func (h *HealthReporter) interfaceStatuses() []InterfaceStatus {
	out := make([]InterfaceStatus, 0, len(h.ifaces))
	for _, iface := range h.ifaces {
		stats := iface.Stats()

		status := StateStopped
		if h.runner != nil {
			status = h.runner.InterfaceState(iface.Name())
		}
		if stats.Reconnecting {
			status = "reconnecting"
		}

		out = append(out, InterfaceStatus{
			Name:       iface.Name(),
			Status:     status,
			FramesRx:   stats.FramesRx,
			FramesTx:   stats.FramesTx,
			Reconnects: stats.ReconnectsTotal,
		})
	}
	return out
}

// LWTPayload returns the serialised Last Will message registered with
// the broker at connect time.
func LWTPayload() []byte {
	payload, err := json.Marshal(NewLWTMessage())
	if err != nil {
		// Static message; cannot fail.
		return []byte(`{"service":"rvlink","status":"offline"}`)
	}
	return payload
}
