package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rvlink/rvlink-core/internal/entity"
	"github.com/rvlink/rvlink-core/internal/pipeline"
)

// commandTimeout bounds one command execution, bus send included.
const commandTimeout = 5 * time.Second

// defaultHistoryLimit applies when the history query omits a limit.
const defaultHistoryLimit = 50

// entityResponse combines an entity's static descriptor with its live
// state. State is null until the first bus frame for the entity.
type entityResponse struct {
	*entity.Descriptor
	State *entityState `json:"state"`
}

// entityState is the live-state portion of an entity response, flattened
// for clients.
type entityState struct {
	Values    map[string]any `json:"values"`
	Revision  uint64         `json:"revision"`
	UpdatedAt time.Time      `json:"updated_at"`
	Pending   bool           `json:"pending"`
	Stale     bool           `json:"stale,omitempty"`
}

// commandRequest is the request body for POST /entities/{id}/command.
type commandRequest struct {
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// commandResponse is the response body for a command submission. It
// mirrors the MQTT acknowledgement shape so clients on either transport
// handle the same structure.
type commandResponse struct {
	CommandID string             `json:"command_id"`
	EntityID  string             `json:"entity_id"`
	Status    pipeline.AckStatus `json:"status"`
	Error     *pipeline.AckError `json:"error,omitempty"`
}

// handleListEntities returns every configured entity with its current state.
func (s *Server) handleListEntities(w http.ResponseWriter, _ *http.Request) {
	descriptors := s.mapping.All()

	out := make([]entityResponse, 0, len(descriptors))
	for _, desc := range descriptors {
		out = append(out, s.entityResponse(desc))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entities": out,
		"count":    len(out),
	})
}

// handleGetEntity returns one entity with its current state.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	desc, ok := s.mapping.Get(id)
	if !ok {
		writeNotFound(w, "entity not found: "+id)
		return
	}

	writeJSON(w, http.StatusOK, s.entityResponse(desc))
}

// handleEntityHistory returns recent state changes for one entity,
// newest first. The optional limit query parameter caps the result.
func (s *Server) handleEntityHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.mapping.Get(id); !ok {
		writeNotFound(w, "entity not found: "+id)
		return
	}
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "state history is not configured")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.history.GetHistory(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("history query failed", "entity_id", id, "error", err)
		writeInternalError(w, "failed to query history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entity_id": id,
		"entries":   entries,
		"count":     len(entries),
	})
}

// handleCommand executes an entity action. The response mirrors the
// MQTT acknowledgement; the status code reflects the failure class.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s.commander == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "command execution is not available")
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Action == "" {
		writeBadRequest(w, "action is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	resp := commandResponse{
		CommandID: uuid.New().String(),
		EntityID:  id,
		Status:    pipeline.AckAccepted,
	}

	if err := s.commander.Execute(ctx, id, req.Action, req.Parameters); err != nil {
		code := pipeline.ErrorCode(err)
		resp.Status = pipeline.AckFailed
		resp.Error = &pipeline.AckError{Code: code, Message: err.Error()}
		s.logger.Warn("command failed",
			"entity_id", id, "action", req.Action, "code", code, "error", err)
		writeJSON(w, commandStatus(code), resp)
		return
	}

	writeJSON(w, http.StatusAccepted, resp)
}

// commandStatus maps a command failure code to its HTTP status.
func commandStatus(code string) int {
	switch code {
	case pipeline.ErrCodeUnknownEntity:
		return http.StatusNotFound
	case pipeline.ErrCodeUnknownAction, pipeline.ErrCodeInvalidParameters:
		return http.StatusBadRequest
	case pipeline.ErrCodeUnsupportedCapability:
		return http.StatusConflict
	case pipeline.ErrCodeBusUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// entityResponse assembles the combined descriptor + state view.
func (s *Server) entityResponse(desc *entity.Descriptor) entityResponse {
	resp := entityResponse{Descriptor: desc}
	if st, ok := s.store.Get(desc.EntityID); ok {
		resp.State = &entityState{
			Values:    st.Values(),
			Revision:  st.Revision,
			UpdatedAt: st.UpdatedAt,
			Pending:   st.Pending,
			Stale:     st.Stale,
		}
	}
	return resp
}
