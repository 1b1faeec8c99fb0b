package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.instrumentMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	if s.metrics != nil {
		r.Method(http.MethodGet, s.metricsPath, s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Conversations relayed to the inference provider
		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetConversation)
			r.Put("/", s.handlePutConversation)
			r.Post("/messages", s.handleAppendMessage)
		})
		r.Post("/relay/poll", s.handleRelayPoll)
		r.Post("/relay/notify", s.handleRelayNotify)

		// This host's catalog
		r.Put("/catalog", s.handleUpdateCatalog)
		r.Put("/catalog/state", s.handleUpdateHostState)

		// Command queue
		r.Route("/commands", func(r chi.Router) {
			r.Get("/queued", s.handleQueuedCommands)
			r.Get("/{id}", s.handleGetCommand)
			r.Post("/{id}/claim", s.handleClaimCommand)
			r.Post("/{id}/complete", s.handleCompleteCommand)
		})

		// Remote hosts
		r.Get("/hosts/{host}/catalog", s.handleGetHostCatalog)
		r.Post("/hosts/{host}/commands", s.handleCreateCommand)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"host":    s.publisher.HostID(),
		"relay":   s.relay != nil,
		"version": s.version,
	})
}
