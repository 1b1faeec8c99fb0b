package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/peerlink-core/internal/catalog"
	"github.com/nerrad567/peerlink-core/internal/model"
)

// CatalogRequest is the body of PUT /catalog: everything this host offers.
// Models and endpoints missing from the request are retired.
type CatalogRequest struct {
	DeviceName    string             `json:"deviceName"`
	Capabilities  map[string]string  `json:"capabilities,omitempty"`
	Status        model.DeviceStatus `json:"status"`
	ActiveModelID string             `json:"activeModelId,omitempty"`
	Models        []model.Model      `json:"models"`
	Endpoints     []model.Endpoint   `json:"endpoints"`
}

// HostStateRequest is the body of PUT /catalog/state.
type HostStateRequest struct {
	Status          model.DeviceStatus    `json:"status"`
	ActiveModelID   string                `json:"activeModelId,omitempty"`
	TokensPerSecond *float64              `json:"tokensPerSecond,omitempty"`
	Context         *model.ContextMetrics `json:"context,omitempty"`
	ChangedBy       string                `json:"changedBy,omitempty"`
}

// handleUpdateCatalog publishes this host's catalog.
func (s *Server) handleUpdateCatalog(w http.ResponseWriter, r *http.Request) {
	var req CatalogRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	version, err := s.publisher.UpdateCatalog(r.Context(), catalog.CatalogUpdate{
		DeviceName:    req.DeviceName,
		Capabilities:  req.Capabilities,
		Status:        req.Status,
		ActiveModelID: req.ActiveModelID,
		Models:        req.Models,
		Endpoints:     req.Endpoints,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hostId":         s.publisher.HostID(),
		"catalogVersion": version,
	})
}

// handleUpdateHostState publishes this host's live state.
func (s *Server) handleUpdateHostState(w http.ResponseWriter, r *http.Request) {
	var req HostStateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	state, err := s.publisher.UpdateHostState(r.Context(), catalog.HostStateUpdate{
		Status:          req.Status,
		ActiveModelID:   req.ActiveModelID,
		TokensPerSecond: req.TokensPerSecond,
		Context:         req.Context,
		ChangedBy:       req.ChangedBy,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleGetHostCatalog returns a remote host's exposed catalog.
func (s *Server) handleGetHostCatalog(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.catalog.FetchCatalog(r.Context(), chi.URLParam(r, "host"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}
