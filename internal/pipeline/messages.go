package pipeline

import (
	"fmt"
	"time"
)

// MQTT message types carried between the bridge and consumer
// applications.

// CommandMessage is received on the command topic to execute an
// entity action.
// Topic: rvlink/command/{entity_id}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with
	// acknowledgements. Assigned by the sender; the bridge generates
	// one when absent.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// EntityID is the target entity.
	EntityID string `json:"entity_id"`

	// Action is the action name (e.g. "turn_on", "set_brightness", "lock").
	Action string `json:"action"`

	// Parameters contains action-specific values.
	// Examples:
	//   {"level": 50} for set_brightness
	//   {"setpoint": 21.5} for set_setpoint
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated ("api", "mqtt", "ws").
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgement status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was encoded and sent to the bus.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage is published to acknowledge a command.
// Topic: rvlink/ack/{entity_id}
type AckMessage struct {
	// CommandID is the ID from the original command.
	CommandID string `json:"command_id"`

	// Timestamp is when the acknowledgement was sent (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// EntityID is the target entity.
	EntityID string `json:"entity_id"`

	// Status indicates the acknowledgement status.
	Status AckStatus `json:"status"`

	// Error contains details if status is "failed".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g. "UNSUPPORTED_CAPABILITY").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeUnknownEntity         = "UNKNOWN_ENTITY"
	ErrCodeUnknownAction         = "UNKNOWN_ACTION"
	ErrCodeUnsupportedCapability = "UNSUPPORTED_CAPABILITY"
	ErrCodeInvalidParameters     = "INVALID_PARAMETERS"
	ErrCodeBusUnavailable        = "BUS_UNAVAILABLE"
	ErrCodeBridgeError           = "BRIDGE_ERROR"
)

// StateMessage is published when entity state changes.
// Topic: rvlink/state/{entity_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// EntityID is the entity whose state changed.
	EntityID string `json:"entity_id"`

	// Timestamp is when the state was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Revision is the state revision after the change.
	Revision uint64 `json:"revision"`

	// Values contains the flattened current state.
	// Examples:
	//   Light: {"operating_status": 50, "load_status": "on"}
	//   Tank: {"relative_level": 42, "fluid_type": "fresh"}
	Values map[string]any `json:"values"`

	// Cause tags the mutation origin (bus, command).
	Cause string `json:"cause"`

	// Pending is set while a command awaits bus confirmation.
	Pending bool `json:"pending,omitempty"`

	// Stale is set when the entity has gone quiet on the bus.
	Stale bool `json:"stale,omitempty"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the bridge is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge operational status.
// Topic: rvlink/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	// Service is the reporting service identifier ("rvlink").
	Service string `json:"service"`

	// Timestamp is when the health status was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status indicates the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the bridge software version.
	Version string `json:"version"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Interfaces describes each bus interface's connection state.
	Interfaces []InterfaceStatus `json:"interfaces,omitempty"`

	// Diagnostics contains the pipeline counters.
	Diagnostics *DiagnosticsSnapshot `json:"diagnostics,omitempty"`

	// EntitiesMapped is the number of configured entities.
	EntitiesMapped int `json:"entities_mapped"`

	// SubscriberDrops is the total fan-out events lost to backpressure.
	SubscriberDrops uint64 `json:"subscriber_drops"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// InterfaceStatus describes one bus interface's connection state.
type InterfaceStatus struct {
	// Name is the interface tag.
	Name string `json:"name"`

	// Status is the connection status ("listening", "stopped", "reconnecting").
	Status string `json:"status"`

	// FramesRx is the total frames received on this interface.
	FramesRx uint64 `json:"frames_rx"`

	// FramesTx is the total frames sent on this interface.
	FramesTx uint64 `json:"frames_tx"`

	// Reconnects is the number of successful reconnections.
	Reconnects uint64 `json:"reconnects"`
}

// NewLWTMessage creates the Last Will and Testament message the broker
// publishes if the bridge disconnects unexpectedly.
func NewLWTMessage() HealthMessage {
	return HealthMessage{
		Service:   ServiceName,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

const (
	// TopicPrefix is the base topic for all bridge messages.
	TopicPrefix = "rvlink"

	// ServiceName identifies the bridge in health messages.
	ServiceName = "rvlink"
)

// StateTopic returns the MQTT topic for an entity's state updates.
// Example: rvlink/state/bedroom_ceiling_light
func StateTopic(entityID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, entityID)
}

// CommandTopic returns the MQTT topic for commands to an entity.
// Example: rvlink/command/bedroom_ceiling_light
func CommandTopic(entityID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, entityID)
}

// AckTopic returns the MQTT topic for command acknowledgements.
// Example: rvlink/ack/bedroom_ceiling_light
func AckTopic(entityID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, entityID)
}

// HealthTopic returns the MQTT topic for bridge health status.
// Example: rvlink/health
func HealthTopic() string {
	return TopicPrefix + "/health"
}

// CommandSubscribeTopic returns the subscription pattern for all
// entity commands.
// Example: rvlink/command/#
func CommandSubscribeTopic() string {
	return TopicPrefix + "/command/#"
}
