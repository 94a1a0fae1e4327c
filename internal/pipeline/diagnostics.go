package pipeline

import "sync/atomic"

// Diagnostics collects the per-frame counters exposed through health
// reports and the metrics endpoint. All counters are atomic; the struct
// is shared by the runner, the commander and the health reporter.
type Diagnostics struct {
	framesProcessed atomic.Uint64
	framesSent      atomic.Uint64
	unknownDGN      atomic.Uint64
	unmapped        atomic.Uint64
	decodePartial   atomic.Uint64
	applyErrors     atomic.Uint64
	eventsPublished atomic.Uint64
	disconnects     atomic.Uint64
}

// DiagnosticsSnapshot is a point-in-time copy of all counters.
type DiagnosticsSnapshot struct {
	FramesProcessed uint64 `json:"frames_processed"`
	FramesSent      uint64 `json:"frames_sent"`
	UnknownDGN      uint64 `json:"unknown_dgn"`
	Unmapped        uint64 `json:"unmapped"`
	DecodePartial   uint64 `json:"decode_partial"`
	ApplyErrors     uint64 `json:"apply_errors"`
	EventsPublished uint64 `json:"events_published"`
	Disconnects     uint64 `json:"disconnects"`
}

// Snapshot returns a consistent-enough copy for reporting. Counters
// are read individually; exact cross-counter consistency is not
// needed for monitoring.
func (d *Diagnostics) Snapshot() DiagnosticsSnapshot {
	return DiagnosticsSnapshot{
		FramesProcessed: d.framesProcessed.Load(),
		FramesSent:      d.framesSent.Load(),
		UnknownDGN:      d.unknownDGN.Load(),
		Unmapped:        d.unmapped.Load(),
		DecodePartial:   d.decodePartial.Load(),
		ApplyErrors:     d.applyErrors.Load(),
		EventsPublished: d.eventsPublished.Load(),
		Disconnects:     d.disconnects.Load(),
	}
}

// UnknownDGN returns the unknown-DGN counter value.
func (d *Diagnostics) UnknownDGN() uint64 { return d.unknownDGN.Load() }

// Unmapped returns the unmapped-frame counter value.
func (d *Diagnostics) Unmapped() uint64 { return d.unmapped.Load() }
