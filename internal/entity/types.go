package entity

import (
	"time"

	"github.com/rvlink/rvlink-core/internal/rvc"
)

// InstanceDefault is the mapping key that matches any instance of a
// DGN not claimed by an exact entry.
const InstanceDefault = "default"

// DeviceClass classifies what kind of device an entity represents.
// The class selects the command encoding strategy for commandable
// entities.
type DeviceClass string

// Device classes.
const (
	ClassLight      DeviceClass = "light"
	ClassSwitch     DeviceClass = "switch"
	ClassLock       DeviceClass = "lock"
	ClassFan        DeviceClass = "fan"
	ClassAwning     DeviceClass = "awning"
	ClassTank       DeviceClass = "tank"
	ClassBattery    DeviceClass = "battery"
	ClassThermostat DeviceClass = "thermostat"
	ClassSensor     DeviceClass = "sensor"
	ClassGenerator  DeviceClass = "generator"
	ClassWaterPump  DeviceClass = "water_pump"
)

// AllClasses returns all valid device class values.
func AllClasses() []DeviceClass {
	return []DeviceClass{
		ClassLight, ClassSwitch, ClassLock, ClassFan, ClassAwning,
		ClassTank, ClassBattery, ClassThermostat, ClassSensor,
		ClassGenerator, ClassWaterPump,
	}
}

// Capability represents one action or reading an entity supports.
type Capability string

// Control capabilities.
const (
	CapOnOff      Capability = "on_off"
	CapBrightness Capability = "brightness"
	CapLockUnlock Capability = "lock_unlock"
	CapPosition   Capability = "position"
	CapSpeed      Capability = "speed"
	CapSetpoint   Capability = "setpoint"
	CapModeSelect Capability = "mode_select"
)

// Reading capabilities.
const (
	CapLevelRead       Capability = "level_read"
	CapTemperatureRead Capability = "temperature_read"
	CapVoltageRead     Capability = "voltage_read"
	CapCurrentRead     Capability = "current_read"
	CapContactState    Capability = "contact_state"
	CapRuntimeRead     Capability = "runtime_read"
)

// AllCapabilities returns all valid capability values.
func AllCapabilities() []Capability {
	return []Capability{
		CapOnOff, CapBrightness, CapLockUnlock, CapPosition, CapSpeed,
		CapSetpoint, CapModeSelect,
		CapLevelRead, CapTemperatureRead, CapVoltageRead,
		CapCurrentRead, CapContactState, CapRuntimeRead,
	}
}

// Descriptor identifies one physical device on the bus. Descriptors
// are immutable after load and shared freely between goroutines.
type Descriptor struct {
	// EntityID is the stable, human-assigned, globally unique
	// identifier (e.g. "bedroom_ceiling_light").
	EntityID string `json:"entity_id"`

	// Name is the display name shown to clients.
	Name string `json:"name"`

	// Area is the location tag (e.g. "bedroom", "galley").
	Area string `json:"area,omitempty"`

	// Class selects the command encoding strategy.
	Class DeviceClass `json:"class"`

	// Capabilities lists the actions and readings this entity supports.
	Capabilities []Capability `json:"capabilities"`

	// DGN is the primary Data Group Number: the command DGN for
	// commandable devices, the status DGN for read-only ones.
	DGN uint32 `json:"dgn"`

	// Instance is the device instance as a mapping key: a decimal
	// string, or "default" to match any instance of the DGN.
	Instance string `json:"instance"`

	// StatusDGN is the companion status DGN for devices that report
	// state on a different message than the one commanding them.
	// Zero means status arrives on the primary DGN.
	StatusDGN uint32 `json:"status_dgn,omitempty"`

	// GroupMask is the group bitmask sent alongside companion-status
	// commands. 0xFF addresses the instance directly.
	GroupMask uint8 `json:"group_mask,omitempty"`

	// Interface is the tag of the physical bus this device is
	// reachable on.
	Interface string `json:"interface"`
}

// HasCapability reports whether the descriptor's capability set
// includes the given capability.
func (d *Descriptor) HasCapability(c Capability) bool {
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Commandable reports whether the entity supports any control
// capability (as opposed to readings only).
func (d *Descriptor) Commandable() bool {
	for _, c := range d.Capabilities {
		switch c {
		case CapOnOff, CapBrightness, CapLockUnlock, CapPosition, CapSpeed, CapSetpoint, CapModeSelect:
			return true
		}
	}
	return false
}

// Cause tags where a state mutation originated.
type Cause string

// Cause values.
const (
	// CauseBus marks state observed from bus traffic.
	CauseBus Cause = "bus"

	// CauseCommand marks optimistic state applied when a command was
	// issued, before the bus confirms it.
	CauseCommand Cause = "command"
)

// State is the live state of one entity. Values returned by the Store
// are deep copies; callers can safely hold and modify them.
type State struct {
	// EntityID is the owning entity.
	EntityID string `json:"entity_id"`

	// Signals maps signal name to the latest decoded value.
	Signals map[string]rvc.Value `json:"signals"`

	// Revision increases on every applied update, including value
	// repeats, so consumers can detect liveness.
	Revision uint64 `json:"revision"`

	// UpdatedAt is when the last update was applied (UTC).
	UpdatedAt time.Time `json:"updated_at"`

	// Pending is set while a command has been issued but not yet
	// confirmed by bus traffic.
	Pending bool `json:"pending"`

	// Stale is set by the staleness sweep when no bus traffic has
	// been seen for the entity within the configured window.
	Stale bool `json:"stale,omitempty"`

	// Raw holds the payload bytes of the last frame applied, kept for
	// diagnostics.
	Raw []byte `json:"-"`
}

// DeepCopy creates a complete independent copy of the State. The
// signal map and raw bytes are cloned so modifications to the copy do
// not affect the original. This is essential for cache isolation.
func (s *State) DeepCopy() *State {
	if s == nil {
		return nil
	}

	cpy := *s

	if s.Signals != nil {
		cpy.Signals = make(map[string]rvc.Value, len(s.Signals))
		for k, v := range s.Signals {
			cpy.Signals[k] = v
		}
	}
	if s.Raw != nil {
		cpy.Raw = make([]byte, len(s.Raw))
		copy(cpy.Raw, s.Raw)
	}

	return &cpy
}

// Values flattens the signal map into plain JSON-friendly values:
// enum labels and text where present, scaled numerics otherwise.
// Unknown signals are omitted.
func (s *State) Values() map[string]any {
	out := make(map[string]any, len(s.Signals))
	for name, v := range s.Signals {
		if v.Unknown {
			continue
		}
		switch {
		case v.Label != "":
			out[name] = v.Label
		case v.Text != "":
			out[name] = v.Text
		default:
			out[name] = v.Numeric
		}
	}
	return out
}

// StateChangeEvent is published to the fan-out hub when an applied
// update actually changed an entity's state. It carries the full new
// snapshot rather than a diff so consumers never need to merge.
type StateChangeEvent struct {
	// EntityID is the entity whose state changed.
	EntityID string `json:"entity_id"`

	// Revision is the state revision after the change.
	Revision uint64 `json:"revision"`

	// State is a deep-copied snapshot of the entity state.
	State State `json:"state"`

	// Cause tags the mutation origin (bus-observed or command-issued).
	Cause Cause `json:"cause"`

	// Timestamp is when the change was applied (UTC).
	Timestamp time.Time `json:"timestamp"`
}
