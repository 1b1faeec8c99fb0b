package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/peerlink-core/internal/model"
	"github.com/nerrad567/peerlink-core/internal/relay"
)

// AppendMessageRequest is the body of POST /conversations/{id}/messages.
type AppendMessageRequest struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// handleGetConversation returns the stored envelope for a conversation.
func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		s.writeDomainError(w, r, relay.ErrNotConfigured)
		return
	}
	id := chi.URLParam(r, "id")

	env, err := s.relay.Fetch(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if env == nil {
		writeNotFound(w, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, env)
}

// handlePutConversation replaces a conversation's envelope.
func (s *Server) handlePutConversation(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		s.writeDomainError(w, r, relay.ErrNotConfigured)
		return
	}
	id := chi.URLParam(r, "id")

	var env model.Envelope
	if err := decodeJSON(r, &env); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if env.ConversationID != "" && env.ConversationID != id {
		writeBadRequest(w, "conversationId does not match path")
		return
	}
	env.ConversationID = id

	stored, err := s.relay.Post(r.Context(), env)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

// handleAppendMessage adds a message and re-arms the conversation.
func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		s.writeDomainError(w, r, relay.ErrNotConfigured)
		return
	}
	id := chi.URLParam(r, "id")

	var req AppendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeBadRequest(w, "text is required")
		return
	}

	env, err := s.relay.AppendMessage(r.Context(), id, req.Role, req.Text)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

// handleRelayPoll runs one relay poll. Processing continues after the
// response is written.
func (s *Server) handleRelayPoll(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		s.writeDomainError(w, r, relay.ErrNotConfigured)
		return
	}
	if err := s.relay.Poll(r.Context()); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "polled"})
}

// handleRelayNotify delivers a push wake-up to the relay.
func (s *Server) handleRelayNotify(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		s.writeDomainError(w, r, relay.ErrNotConfigured)
		return
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "unreadable body")
		return
	}
	if err := s.relay.HandleNotification(r.Context(), payload); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "notified"})
}
