package pipeline

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rvlink/rvlink-core/internal/canbus"
	"github.com/rvlink/rvlink-core/internal/entity"
	"github.com/rvlink/rvlink-core/internal/rvc"
)

// DefaultSourceAddress is stamped on outbound command frames. The
// upper source range is conventionally used by bridge-class nodes.
const DefaultSourceAddress uint8 = 0x80

// directGroup is the group byte that addresses a single instance
// rather than a load group.
const directGroup = 0xFF

// actionCapabilities maps each command action to the capability an
// entity must declare before the action is accepted for it.
var actionCapabilities = map[string]entity.Capability{
	"turn_on":        entity.CapOnOff,
	"turn_off":       entity.CapOnOff,
	"toggle":         entity.CapOnOff,
	"set_brightness": entity.CapBrightness,
	"lock":           entity.CapLockUnlock,
	"unlock":         entity.CapLockUnlock,
	"set_position":   entity.CapPosition,
	"set_speed":      entity.CapSpeed,
	"set_setpoint":   entity.CapSetpoint,
	"set_mode":       entity.CapModeSelect,
}

// frameValues is one outbound frame expressed as signal values, before
// encoding. A strategy may return several for multi-frame commands.
type frameValues struct {
	dgn    uint32
	values map[string]any
}

// strategyFunc translates a validated action into outbound frames for
// one device class. Parameter errors wrap entity.ErrInvalidParameter
// so callers can map them to a stable error code.
type strategyFunc func(desc *entity.Descriptor, instance uint8, params map[string]any) ([]frameValues, error)

// strategyTable indexes strategies by device class then action.
type strategyTable map[entity.DeviceClass]map[string]strategyFunc

// lookup returns the strategy for a class/action pair, or nil.
func (t strategyTable) lookup(class entity.DeviceClass, action string) strategyFunc {
	if actions, ok := t[class]; ok {
		return actions[action]
	}
	return nil
}

// CommanderOptions holds the collaborators for a Commander.
type CommanderOptions struct {
	Spec    *rvc.SpecTable
	Mapping *entity.Table
	Store   *entity.Store
	Sink    EventSink

	// Interfaces indexes the attached bus interfaces by tag.
	Interfaces map[string]canbus.Interface

	Diagnostics *Diagnostics

	// SourceAddress overrides DefaultSourceAddress when non-zero.
	SourceAddress uint8

	Logger Logger
}

// Commander executes entity actions: it validates the action against
// the target's capability set, encodes it into bus frames through the
// class strategy, transmits them, and applies the expected result
// optimistically so clients see immediate feedback while the bus
// confirmation is outstanding.
type Commander struct {
	spec       *rvc.SpecTable
	mapping    *entity.Table
	store      *entity.Store
	sink       EventSink
	ifaces     map[string]canbus.Interface
	diag       *Diagnostics
	strategies strategyTable
	source     uint8
	logger     Logger
}

// NewCommander creates a commander with the default strategy set.
func NewCommander(opts CommanderOptions) *Commander {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	diag := opts.Diagnostics
	if diag == nil {
		diag = &Diagnostics{}
	}
	source := opts.SourceAddress
	if source == 0 {
		source = DefaultSourceAddress
	}

	return &Commander{
		spec:       opts.Spec,
		mapping:    opts.Mapping,
		store:      opts.Store,
		sink:       opts.Sink,
		ifaces:     opts.Interfaces,
		diag:       diag,
		strategies: defaultStrategies(),
		source:     source,
		logger:     logger,
	}
}

// Execute runs one action against one entity. All validation happens
// before any frame is sent: an invalid command never reaches the bus.
//
// Returned errors wrap the sentinel that identifies the failure class:
// entity.ErrEntityNotFound, ErrUnknownAction,
// entity.ErrUnsupportedCapability, entity.ErrInvalidParameter,
// ErrNoInterface, or a transport error from the bus client.
func (c *Commander) Execute(ctx context.Context, entityID, action string, params map[string]any) error {
	desc, ok := c.mapping.Get(entityID)
	if !ok {
		return fmt.Errorf("%w: %q", entity.ErrEntityNotFound, entityID)
	}

	capability, ok := actionCapabilities[action]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if !desc.HasCapability(capability) {
		return fmt.Errorf("%w: %s does not declare %s", entity.ErrUnsupportedCapability, entityID, capability)
	}

	strategy := c.strategies.lookup(desc.Class, action)
	if strategy == nil {
		return fmt.Errorf("%w: class %s has no %s strategy", ErrUnknownAction, desc.Class, action)
	}

	instance, err := commandInstance(desc)
	if err != nil {
		return err
	}

	frames, err := strategy(desc, instance, params)
	if err != nil {
		return err
	}

	iface, ok := c.ifaces[desc.Interface]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoInterface, desc.Interface)
	}

	for _, fv := range frames {
		def, ok := c.spec.Lookup(fv.dgn)
		if !ok {
			return fmt.Errorf("%w: DGN 0x%05X", rvc.ErrUnknownDGN, fv.dgn)
		}

		data, err := rvc.EncodeSignals(def, fv.values)
		if err != nil {
			return err
		}

		frame := rvc.NewCommandFrame(fv.dgn, c.source, data, desc.Interface)
		if err := iface.Send(ctx, frame); err != nil {
			return fmt.Errorf("sending %s: %w", def.Name, err)
		}
		c.diag.framesSent.Add(1)

		c.logger.Debug("command frame sent",
			"entity_id", entityID, "action", action, "dgn", fv.dgn, "interface", desc.Interface)

		c.applyOptimistic(desc, frame, fv.values)
	}

	return nil
}

// applyOptimistic reflects a sent command into the entity state so
// clients see the expected result immediately, flagged Pending until
// bus traffic confirms it. Only the signals the strategy explicitly
// set are applied; zero-filled neighbours in the same frame are not
// treated as state.
func (c *Commander) applyOptimistic(desc *entity.Descriptor, frame rvc.Frame, set map[string]any) {
	decoded := rvc.Decode(c.spec, frame)
	if !decoded.Complete {
		return
	}

	signals := make(map[string]rvc.Value, len(set))
	for name := range set {
		if v, ok := decoded.Signals[name]; ok {
			signals[name] = v
		}
	}

	event, err := c.store.Apply(desc.EntityID, signals, frame.Data, frame.Timestamp, entity.CauseCommand)
	if err != nil {
		c.logger.Warn("optimistic apply failed", "entity_id", desc.EntityID, "error", err)
		return
	}
	if event != nil {
		c.sink.Publish(*event)
		c.diag.eventsPublished.Add(1)
	}
}

// commandInstance extracts the numeric instance a command frame must
// address. Entities mapped with the wildcard instance cannot be
// commanded: the bus needs a concrete target.
func commandInstance(desc *entity.Descriptor) (uint8, error) {
	if desc.Instance == entity.InstanceDefault {
		return 0, fmt.Errorf("%w: %s is mapped without a concrete instance",
			entity.ErrUnsupportedCapability, desc.EntityID)
	}
	n, err := strconv.ParseUint(desc.Instance, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: instance %q", entity.ErrInvalidParameter, desc.Instance)
	}
	return uint8(n), nil
}

// ─── Strategies ─────────────────────────────────────────────────────

// defaultStrategies builds the per-class action registry. Light,
// switch, fan and awning classes all command through the dimmer
// message; locks, thermostats and water pumps use their own DGNs.
func defaultStrategies() strategyTable {
	onOff := map[string]strategyFunc{
		"turn_on":  dimmerCommand("on_duration", 100),
		"turn_off": dimmerCommand("off", 0),
		"toggle":   dimmerCommand("toggle", 0),
	}

	light := map[string]strategyFunc{
		"turn_on":        onOff["turn_on"],
		"turn_off":       onOff["turn_off"],
		"toggle":         onOff["toggle"],
		"set_brightness": dimmerLevel("level"),
	}

	fan := map[string]strategyFunc{
		"turn_on":   onOff["turn_on"],
		"turn_off":  onOff["turn_off"],
		"set_speed": dimmerLevel("speed"),
	}

	awning := map[string]strategyFunc{
		"set_position": dimmerLevel("position"),
	}

	lock := map[string]strategyFunc{
		"lock":   lockCommand("lock"),
		"unlock": lockCommand("unlock"),
	}

	thermostat := map[string]strategyFunc{
		"set_setpoint": thermostatSetpoint,
		"set_mode":     thermostatMode,
	}

	waterPump := map[string]strategyFunc{
		"turn_on":  pumpCommand("on"),
		"turn_off": pumpCommand("off"),
	}

	return strategyTable{
		entity.ClassLight:      light,
		entity.ClassSwitch:     onOff,
		entity.ClassFan:        fan,
		entity.ClassAwning:     awning,
		entity.ClassLock:       lock,
		entity.ClassThermostat: thermostat,
		entity.ClassWaterPump:  waterPump,
	}
}

// dimmerCommand builds a fixed dimmer command (on, off, toggle) at the
// given level.
func dimmerCommand(command string, level float64) strategyFunc {
	return func(desc *entity.Descriptor, instance uint8, _ map[string]any) ([]frameValues, error) {
		return []frameValues{{
			dgn:    desc.DGN,
			values: dimmerValues(desc, instance, level, command),
		}}, nil
	}
}

// dimmerLevel builds a set_level dimmer command from a 0-100 numeric
// parameter.
func dimmerLevel(param string) strategyFunc {
	return func(desc *entity.Descriptor, instance uint8, params map[string]any) ([]frameValues, error) {
		level, err := boundedParam(params, param, 0, 100)
		if err != nil {
			return nil, err
		}
		return []frameValues{{
			dgn:    desc.DGN,
			values: dimmerValues(desc, instance, level, "set_level"),
		}}, nil
	}
}

// dimmerValues assembles the dimmer command signal set.
func dimmerValues(desc *entity.Descriptor, instance uint8, level float64, command string) map[string]any {
	return map[string]any{
		"instance":      float64(instance),
		"group":         groupOf(desc),
		"desired_level": level,
		"command":       command,
	}
}

// lockCommand builds a lock or unlock frame.
func lockCommand(command string) strategyFunc {
	return func(desc *entity.Descriptor, instance uint8, _ map[string]any) ([]frameValues, error) {
		return []frameValues{{
			dgn: desc.DGN,
			values: map[string]any{
				"instance": float64(instance),
				"command":  command,
			},
		}}, nil
	}
}

// thermostatSetpoint sets both the heat and cool setpoints to the
// target temperature in degrees Celsius.
func thermostatSetpoint(desc *entity.Descriptor, instance uint8, params map[string]any) ([]frameValues, error) {
	setpoint, err := numberParam(params, "setpoint")
	if err != nil {
		return nil, err
	}
	return []frameValues{{
		dgn: desc.DGN,
		values: map[string]any{
			"instance":      float64(instance),
			"setpoint_heat": setpoint,
			"setpoint_cool": setpoint,
		},
	}}, nil
}

// thermostatMode sets the operating mode by enum label.
func thermostatMode(desc *entity.Descriptor, instance uint8, params map[string]any) ([]frameValues, error) {
	mode, err := stringParam(params, "mode")
	if err != nil {
		return nil, err
	}
	return []frameValues{{
		dgn: desc.DGN,
		values: map[string]any{
			"instance":       float64(instance),
			"operating_mode": mode,
		},
	}}, nil
}

// pumpCommand builds an instance-less pump on/off frame.
func pumpCommand(command string) strategyFunc {
	return func(desc *entity.Descriptor, _ uint8, _ map[string]any) ([]frameValues, error) {
		return []frameValues{{
			dgn:    desc.DGN,
			values: map[string]any{"command": command},
		}}, nil
	}
}

// groupOf returns the group byte for a descriptor: its configured
// group mask, or direct instance addressing when none is set.
func groupOf(desc *entity.Descriptor) float64 {
	if desc.GroupMask != 0 {
		return float64(desc.GroupMask)
	}
	return float64(directGroup)
}

// ─── Parameter helpers ──────────────────────────────────────────────

// numberParam extracts a required numeric parameter.
func numberParam(params map[string]any, key string) (float64, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", entity.ErrInvalidParameter, key)
	}
	n, ok := asNumber(v)
	if !ok {
		return 0, fmt.Errorf("%w: %q must be a number, got %T", entity.ErrInvalidParameter, key, v)
	}
	return n, nil
}

// boundedParam extracts a required numeric parameter and enforces an
// inclusive range.
func boundedParam(params map[string]any, key string, lo, hi float64) (float64, error) {
	n, err := numberParam(params, key)
	if err != nil {
		return 0, err
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%w: %q %v outside [%v, %v]", entity.ErrInvalidParameter, key, n, lo, hi)
	}
	return n, nil
}

// stringParam extracts a required string parameter.
func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %q", entity.ErrInvalidParameter, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q must be a string, got %T", entity.ErrInvalidParameter, key, v)
	}
	return s, nil
}

// asNumber accepts the numeric types JSON and YAML decoding produce.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
