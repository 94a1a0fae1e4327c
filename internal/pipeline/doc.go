// Package pipeline orchestrates the bridge's frame flow.
//
// Inbound: a Runner owns one worker per physical bus interface. Each
// worker pulls frames in arrival order and pushes them through
// decode, entity resolution and state apply; state changes fan out
// through the hub. Per-frame failures (unknown DGN, unmapped device,
// partial decode) are counted as diagnostics and never stop a worker;
// only cancellation or interface closure does.
//
// Outbound: a Commander validates an action against the target
// entity's capability set, encodes it into one or more bus frames via
// a per-device-class strategy, transmits them, and applies the
// expected result optimistically so clients see immediate feedback
// pending bus confirmation.
//
// The Relay bridges both directions onto MQTT: state changes and
// health out, command messages in.
package pipeline
