package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/peerlink-core/internal/catalog"
	"github.com/nerrad567/peerlink-core/internal/model"
)

// maxWait caps the wait query parameter on GET /commands/{id}.
const maxWait = 5 * time.Minute

// CreateCommandRequest is the body of POST /hosts/{host}/commands.
type CreateCommandRequest struct {
	Verb           string          `json:"verb"`
	Path           string          `json:"path"`
	Body           json.RawMessage `json:"body,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

// ClaimRequest is the body of POST /commands/{id}/claim. Owner defaults to
// this host and Lease to the worker default.
type ClaimRequest struct {
	Owner string `json:"owner,omitempty"`
	Lease string `json:"lease,omitempty"`
}

// CompleteCommandRequest is the body of POST /commands/{id}/complete.
type CompleteCommandRequest struct {
	Owner        string             `json:"owner,omitempty"`
	State        model.CommandState `json:"state"`
	StatusCode   int                `json:"statusCode"`
	Result       json.RawMessage    `json:"result,omitempty"`
	ErrorMessage string             `json:"errorMessage,omitempty"`
}

// commandList is the response for GET /commands/queued.
type commandList struct {
	Commands []model.Command `json:"commands"`
	Count    int             `json:"count"`
}

// handleCreateCommand queues a command for a remote host.
func (s *Server) handleCreateCommand(w http.ResponseWriter, r *http.Request) {
	var req CreateCommandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	cmd, err := s.catalog.CreateCommand(r.Context(), catalog.CommandRequest{
		HostID:         chi.URLParam(r, "host"),
		Verb:           req.Verb,
		Path:           req.Path,
		Body:           req.Body,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, cmd)
}

// handleGetCommand reads a command. With ?wait=<duration> it blocks until
// the command finishes or the wait elapses.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	wait := r.URL.Query().Get("wait")
	if wait == "" {
		cmd, err := s.catalog.GetCommand(r.Context(), id)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, cmd)
		return
	}

	timeout, err := time.ParseDuration(wait)
	if err != nil || timeout <= 0 {
		writeBadRequest(w, "wait must be a positive duration")
		return
	}
	timeout = min(timeout, maxWait)

	cmd, err := s.catalog.WaitForCommand(r.Context(), id, timeout)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// handleQueuedCommands lists queued commands addressed to this host.
func (s *Server) handleQueuedCommands(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	cmds, err := s.publisher.FetchQueuedCommands(r.Context(), limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if cmds == nil {
		cmds = []model.Command{}
	}
	writeJSON(w, http.StatusOK, commandList{Commands: cmds, Count: len(cmds)})
}

// handleClaimCommand leases a queued command.
func (s *Server) handleClaimCommand(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	owner := req.Owner
	if owner == "" {
		owner = s.publisher.HostID()
	}
	lease := catalog.DefaultLeaseDuration
	if req.Lease != "" {
		d, err := time.ParseDuration(req.Lease)
		if err != nil || d <= 0 {
			writeBadRequest(w, "lease must be a positive duration")
			return
		}
		lease = d
	}

	cmd, err := s.publisher.Claim(r.Context(), chi.URLParam(r, "id"), owner, lease)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if cmd == nil {
		writeError(w, http.StatusConflict, ErrCodeConflict, "command is not queued")
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// handleCompleteCommand records a command's terminal state.
func (s *Server) handleCompleteCommand(w http.ResponseWriter, r *http.Request) {
	var req CompleteCommandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	owner := req.Owner
	if owner == "" {
		owner = s.publisher.HostID()
	}

	cmd, err := s.publisher.Complete(r.Context(), catalog.CompleteRequest{
		CommandID:    chi.URLParam(r, "id"),
		Owner:        owner,
		State:        req.State,
		StatusCode:   req.StatusCode,
		Result:       req.Result,
		ErrorMessage: req.ErrorMessage,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}
