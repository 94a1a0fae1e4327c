package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rvlink/rvlink-core/internal/canbus"
	"github.com/rvlink/rvlink-core/internal/entity"
	"github.com/rvlink/rvlink-core/internal/rvc"
)

// ─── Shared fixtures ────────────────────────────────────────────────

// testSpec builds the protocol table used across the pipeline tests:
// the dimmer status/command pair, a tank status with a sub-byte
// instance, and the thermostat ambient/command pair.
func testSpec(t *testing.T) *rvc.SpecTable {
	t.Helper()

	table, err := rvc.NewSpecTable([]rvc.MessageDefinition{
		{
			DGN:  0x1FEDA,
			Name: "DC_DIMMER_STATUS_3",
			Signals: []rvc.SignalDefinition{
				{Name: "instance", StartBit: 0, BitLength: 8, Kind: rvc.KindUint},
				{Name: "group", StartBit: 8, BitLength: 8, Kind: rvc.KindBit},
				{Name: "operating_status", StartBit: 16, BitLength: 8, Kind: rvc.KindUint, Scale: 0.5, Unit: "%"},
				{Name: "load_status", StartBit: 32, BitLength: 2, Kind: rvc.KindEnum, Values: map[uint64]string{
					0: "off", 1: "on",
				}},
			},
		},
		{
			DGN:  0x1FEDB,
			Name: "DC_DIMMER_COMMAND_2",
			Signals: []rvc.SignalDefinition{
				{Name: "instance", StartBit: 0, BitLength: 8, Kind: rvc.KindUint},
				{Name: "group", StartBit: 8, BitLength: 8, Kind: rvc.KindBit},
				{Name: "desired_level", StartBit: 16, BitLength: 8, Kind: rvc.KindUint, Scale: 0.5, Unit: "%"},
				{Name: "duration", StartBit: 24, BitLength: 8, Kind: rvc.KindUint, Unit: "s"},
				{Name: "command", StartBit: 32, BitLength: 8, Kind: rvc.KindEnum, Values: map[uint64]string{
					0: "set_level", 1: "on_duration", 3: "off", 5: "toggle",
				}},
			},
		},
		{
			DGN:  0x1FFB7,
			Name: "TANK_STATUS",
			Signals: []rvc.SignalDefinition{
				{Name: "instance", StartBit: 0, BitLength: 4, Kind: rvc.KindUint},
				{Name: "fluid_type", StartBit: 4, BitLength: 4, Kind: rvc.KindEnum, Values: map[uint64]string{
					0: "fresh", 1: "black", 2: "grey", 3: "lpg",
				}},
				{Name: "relative_level", StartBit: 8, BitLength: 8, Kind: rvc.KindUint},
				{Name: "resolution", StartBit: 16, BitLength: 8, Kind: rvc.KindUint},
			},
		},
		{
			DGN:  0x1FF9C,
			Name: "THERMOSTAT_AMBIENT_STATUS",
			Signals: []rvc.SignalDefinition{
				{Name: "instance", StartBit: 0, BitLength: 8, Kind: rvc.KindUint},
				{Name: "ambient_temp", StartBit: 8, BitLength: 16, Kind: rvc.KindUint, Scale: 0.03125, Offset: -273, Unit: "degC"},
			},
		},
		{
			DGN:  0x1FEF9,
			Name: "THERMOSTAT_COMMAND_1",
			Signals: []rvc.SignalDefinition{
				{Name: "instance", StartBit: 0, BitLength: 8, Kind: rvc.KindUint},
				{Name: "operating_mode", StartBit: 8, BitLength: 4, Kind: rvc.KindEnum, Values: map[uint64]string{
					0: "off", 1: "cool", 2: "heat", 3: "auto",
				}},
				{Name: "setpoint_heat", StartBit: 16, BitLength: 16, Kind: rvc.KindUint, Scale: 0.03125, Offset: -273, Unit: "degC"},
				{Name: "setpoint_cool", StartBit: 32, BitLength: 16, Kind: rvc.KindUint, Scale: 0.03125, Offset: -273, Unit: "degC"},
			},
		},
	})
	if err != nil {
		t.Fatalf("NewSpecTable() error = %v", err)
	}
	return table
}

// testMapping builds the entity table used across the pipeline tests.
func testMapping(t *testing.T) *entity.Table {
	t.Helper()

	table, err := entity.NewTable([]entity.Descriptor{
		{
			EntityID:     "bedroom_ceiling_light",
			Name:         "Bedroom Ceiling Light",
			Area:         "bedroom",
			Class:        entity.ClassLight,
			Capabilities: []entity.Capability{entity.CapOnOff, entity.CapBrightness},
			DGN:          0x1FEDB,
			Instance:     "25",
			StatusDGN:    0x1FEDA,
			Interface:    "house",
		},
		{
			EntityID:     "fresh_water_tank",
			Name:         "Fresh Water Tank",
			Area:         "utility",
			Class:        entity.ClassTank,
			Capabilities: []entity.Capability{entity.CapLevelRead},
			DGN:          0x1FFB7,
			Instance:     entity.InstanceDefault,
			Interface:    "house",
		},
		{
			EntityID:     "main_thermostat",
			Name:         "Main Thermostat",
			Area:         "living",
			Class:        entity.ClassThermostat,
			Capabilities: []entity.Capability{entity.CapSetpoint, entity.CapModeSelect, entity.CapTemperatureRead},
			DGN:          0x1FEF9,
			Instance:     "1",
			StatusDGN:    0x1FF9C,
			Interface:    "house",
		},
	})
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	return table
}

// ─── Fakes ──────────────────────────────────────────────────────────

// fakeBus is an in-memory canbus.Interface: tests push inbound frames
// and inspect what Send transmitted.
type fakeBus struct {
	name string
	in   chan rvc.Frame

	mu        sync.Mutex
	sent      []rvc.Frame
	sendErr   error
	connected bool

	closed chan struct{}
	once   sync.Once
}

var _ canbus.Interface = (*fakeBus)(nil)

func newFakeBus(name string) *fakeBus {
	return &fakeBus{
		name:      name,
		in:        make(chan rvc.Frame, 64),
		connected: true,
		closed:    make(chan struct{}),
	}
}

func (b *fakeBus) Name() string { return b.name }

func (b *fakeBus) Receive(ctx context.Context) (rvc.Frame, error) {
	select {
	case <-ctx.Done():
		return rvc.Frame{}, ctx.Err()
	case <-b.closed:
		return rvc.Frame{}, canbus.ErrClosed
	case f := <-b.in:
		return f, nil
	}
}

func (b *fakeBus) Send(_ context.Context, f rvc.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, f)
	return nil
}

func (b *fakeBus) push(f rvc.Frame) { b.in <- f }

func (b *fakeBus) sentFrames() []rvc.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]rvc.Frame, len(b.sent))
	copy(out, b.sent)
	return out
}

func (b *fakeBus) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBus) setConnected(v bool) {
	b.mu.Lock()
	b.connected = v
	b.mu.Unlock()
}

func (b *fakeBus) Stats() canbus.Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return canbus.Stats{
		FramesTx:  uint64(len(b.sent)),
		Connected: b.connected,
	}
}

func (b *fakeBus) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

// eventCollector records published events for assertions.
type eventCollector struct {
	mu     sync.Mutex
	events []entity.StateChangeEvent
}

func (c *eventCollector) Publish(event entity.StateChangeEvent) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
}

func (c *eventCollector) all() []entity.StateChangeEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]entity.StateChangeEvent, len(c.events))
	copy(out, c.events)
	return out
}

func (c *eventCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// publishedMsg is one MQTT publish captured by fakeMQTT.
type publishedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// fakeMQTT records publishes and routes delivered messages to the
// registered wildcard handlers.
type fakeMQTT struct {
	mu        sync.Mutex
	published []publishedMsg
	handlers  map[string]func(topic string, payload []byte)
	connected bool
}

var _ MQTTClient = (*fakeMQTT)(nil)

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{
		handlers:  make(map[string]func(string, []byte)),
		connected: true,
	}
}

func (m *fakeMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	m.published = append(m.published, publishedMsg{topic, append([]byte(nil), payload...), qos, retained})
	m.mu.Unlock()
	return nil
}

func (m *fakeMQTT) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	m.handlers[topic] = handler
	m.mu.Unlock()
	return nil
}

func (m *fakeMQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// deliver routes a message to the handler whose subscription pattern
// matches the topic. Only trailing-# wildcards are supported, which is
// all the relay uses.
func (m *fakeMQTT) deliver(topic string, payload []byte) {
	m.mu.Lock()
	var handler func(string, []byte)
	for pattern, h := range m.handlers {
		if pattern == topic || (strings.HasSuffix(pattern, "/#") && strings.HasPrefix(topic, strings.TrimSuffix(pattern, "#"))) {
			handler = h
			break
		}
	}
	m.mu.Unlock()

	if handler != nil {
		handler(topic, payload)
	}
}

// onTopic returns the captured publishes for one topic.
func (m *fakeMQTT) onTopic(topic string) []publishedMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []publishedMsg
	for _, p := range m.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// ─── Helpers ────────────────────────────────────────────────────────

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// statusFrame builds an inbound dimmer status frame.
func statusFrame(instance, level uint8, on bool) rvc.Frame {
	load := byte(0)
	if on {
		load = 1
	}
	return rvc.Frame{
		ID:        rvc.BuildID(6, 0x1FEDA, 0x44),
		Data:      []byte{instance, 0x00, level * 2, 0x00, load},
		Interface: "house",
		Timestamp: time.Now(),
	}
}
