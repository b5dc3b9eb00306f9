package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/assistdrive-core/internal/sft"
)

// maxEventsLimit mirrors the journal's own cap.
const maxEventsLimit = 500

// systemView is a system's tracer health plus what the vehicle did with it.
type systemView struct {
	sft.SystemHealth
	Suspended   bool     `json:"suspended"`
	SuspendedBy []string `json:"suspended_by,omitempty"`
}

func (s *Server) viewSystems() []systemView {
	var suspended map[string][]string
	if s.vehicle != nil {
		suspended = s.vehicle.Status().Suspended
	}

	snap := s.tracer.Snapshot()
	views := make([]systemView, 0, len(snap.Systems))
	for _, h := range snap.Systems {
		if h.Devices == nil {
			h.Devices = []string{}
		}
		by, down := suspended[h.System]
		views = append(views, systemView{SystemHealth: h, Suspended: down, SuspendedBy: by})
	}
	return views
}

// handleListSystems returns every known system in name order.
func (s *Server) handleListSystems(w http.ResponseWriter, _ *http.Request) {
	views := s.viewSystems()
	writeJSON(w, http.StatusOK, map[string]any{
		"systems": views,
		"count":   len(views),
	})
}

// handleGetSystem returns one system.
func (s *Server) handleGetSystem(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, v := range s.viewSystems() {
		if v.System == name {
			writeJSON(w, http.StatusOK, v)
			return
		}
	}
	writeNotFound(w, "system not found: "+name)
}

// handleListEvents returns journaled suspension events, newest first.
//
// Query parameters:
//   - system: Only events of this system
//   - limit: Maximum events (1-500, journal default when omitted)
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeUnavailable(w, "event journal is not configured")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxEventsLimit {
			writeBadRequest(w, "limit must be an integer between 1 and 500")
			return
		}
		limit = n
	}
	system := r.URL.Query().Get("system")

	events, err := s.journal.Recent(r.Context(), system, limit)
	if err != nil {
		s.logger.Error("failed to read event journal", "error", err)
		writeInternalError(w, "failed to read event journal")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// handleVehicle returns the vehicle context status.
func (s *Server) handleVehicle(w http.ResponseWriter, _ *http.Request) {
	if s.vehicle == nil {
		writeUnavailable(w, "vehicle context is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.vehicle.Status())
}
