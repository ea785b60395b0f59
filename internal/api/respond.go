package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/foxzi/courier/internal/broadcast"
	"github.com/foxzi/courier/internal/models"
	"github.com/foxzi/courier/internal/offer"
	"github.com/foxzi/courier/internal/reminder"
)

// maxBodyBytes caps JSON request bodies
const maxBodyBytes = 1 << 20

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// ListResponse wraps a page of results
type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, ErrorResponse{Error: message})
}

// sendServiceError maps domain errors to HTTP status codes
func (s *Server) sendServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *models.ValidationError
	var terr *broadcast.InvalidTransitionError

	switch {
	case errors.As(err, &verr):
		sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: verr.Message, Field: verr.Field})
	case errors.As(err, &terr):
		sendError(w, http.StatusConflict, terr.Error())
	case errors.Is(err, broadcast.ErrNotFound), errors.Is(err, offer.ErrNotFound):
		sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, reminder.ErrAlreadyRunning):
		sendError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		sendError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// decodeJSON reads a JSON body into v, rejecting unknown fields
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// paging reads limit and offset query parameters
func paging(r *http.Request) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, 1000)
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	// page is 1-based and takes precedence over offset
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		offset = (v - 1) * limit
	}
	return limit, offset
}
