package api

import (
	"net/http"

	"github.com/rvlink/rvlink-core/internal/pipeline"
)

// metricsResponse is the response body for GET /metrics.
type metricsResponse struct {
	Version string `json:"version"`

	// Pipeline holds the frame and command counters. Null when the
	// server was built without diagnostics.
	Pipeline *pipeline.DiagnosticsSnapshot `json:"pipeline,omitempty"`

	// Entities is the configured entity count; EntitiesObserved how
	// many have reported state.
	Entities         int `json:"entities"`
	EntitiesObserved int `json:"entities_observed"`

	// Events covers the internal fan-out hub.
	EventsPublished  uint64 `json:"events_published"`
	SubscriberDrops  uint64 `json:"subscriber_drops"`
	Subscribers      int    `json:"subscribers"`
	WebSocketClients int    `json:"websocket_clients"`
}

// handleMetrics returns bridge counters for monitoring.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	resp := metricsResponse{
		Version:          s.version,
		Entities:         s.mapping.Len(),
		EntitiesObserved: s.store.Count(),
		EventsPublished:  s.events.Published(),
		SubscriberDrops:  s.events.DropsTotal(),
		Subscribers:      s.events.SubscriberCount(),
	}
	if s.diag != nil {
		snap := s.diag.Snapshot()
		resp.Pipeline = &snap
	}
	if s.hub != nil {
		resp.WebSocketClients = s.hub.ClientCount()
	}

	writeJSON(w, http.StatusOK, resp)
}
