package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/courier/internal/sandbox"
)

// SandboxListResponse is the response for GET /api/v1/sandbox/messages
type SandboxListResponse struct {
	Messages []*sandbox.Message `json:"messages"`
	Total    int                `json:"total"`
}

// handleSandboxList handles GET /api/v1/sandbox/messages
func (s *Server) handleSandboxList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := paging(r)

	filter := sandbox.ListFilter{
		Channel:    q.Get("channel"),
		Mode:       q.Get("mode"),
		CampaignID: q.Get("campaign_id"),
		Limit:      limit,
		Offset:     offset,
	}

	messages, err := s.svc.Sandbox.List(r.Context(), filter)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	if messages == nil {
		messages = []*sandbox.Message{}
	}

	sendJSON(w, http.StatusOK, SandboxListResponse{Messages: messages, Total: len(messages)})
}

// handleSandboxGet handles GET /api/v1/sandbox/messages/{id}
func (s *Server) handleSandboxGet(w http.ResponseWriter, r *http.Request) {
	msg, err := s.svc.Sandbox.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	if msg == nil {
		sendError(w, http.StatusNotFound, "Message not found")
		return
	}

	sendJSON(w, http.StatusOK, msg)
}

// handleSandboxClear handles DELETE /api/v1/sandbox/messages
func (s *Server) handleSandboxClear(w http.ResponseWriter, r *http.Request) {
	var olderThan time.Duration
	if v := r.URL.Query().Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: "older_than must be a duration", Field: "older_than"})
			return
		}
		olderThan = d
	}

	count, err := s.svc.Sandbox.Clear(r.Context(), r.URL.Query().Get("channel"), olderThan)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}

	s.logger.Info("sandbox cleared", "deleted", count, "actor", actorFrom(r.Context()))
	sendJSON(w, http.StatusOK, map[string]int{"deleted": count})
}

// handleSandboxStats handles GET /api/v1/sandbox/stats
func (s *Server) handleSandboxStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Sandbox.Stats(r.Context())
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, stats)
}
