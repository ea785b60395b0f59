package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/courier/internal/models"
)

func (s *Server) handleListOffers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := paging(r)

	filter := models.OfferListFilter{
		Type:   q.Get("type"),
		Search: q.Get("search"),
		Limit:  limit,
		Offset: offset,
	}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: "active must be a boolean", Field: "active"})
			return
		}
		filter.ActiveOnly = active
	}

	offers, total, err := s.svc.Offers.List(r.Context(), filter)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	if offers == nil {
		offers = []*models.Offer{}
	}

	sendJSON(w, http.StatusOK, ListResponse[*models.Offer]{Items: offers, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) handleCreateOffer(w http.ResponseWriter, r *http.Request) {
	var o models.Offer
	if err := decodeJSON(w, r, &o); err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := s.svc.Offers.Create(r.Context(), &o, actorFrom(r.Context()))
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	o, err := s.svc.Offers.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, o)
}

func (s *Server) handleUpdateOffer(w http.ResponseWriter, r *http.Request) {
	var o models.Offer
	if err := decodeJSON(w, r, &o); err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := s.svc.Offers.Update(r.Context(), chi.URLParam(r, "id"), &o)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteOffer(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Offers.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRedeemOffer counts one use of an offer
func (s *Server) handleRedeemOffer(w http.ResponseWriter, r *http.Request) {
	o, err := s.svc.Offers.Redeem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, o)
}
