package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/foxzi/courier/internal/audience"
	"github.com/foxzi/courier/internal/channel"
	"github.com/foxzi/courier/internal/models"
)

// ApproveRequest is the body of POST /broadcasts/{id}/approve
type ApproveRequest struct {
	Comment string `json:"comment"`
}

// RejectRequest is the body of POST /broadcasts/{id}/reject
type RejectRequest struct {
	Reason string `json:"reason"`
}

// ScheduleRequest is the body of POST /broadcasts/{id}/schedule
type ScheduleRequest struct {
	Immediate bool       `json:"immediate"`
	Schedule  *time.Time `json:"schedule,omitempty"`
}

// RevenueRequest is the body of POST /broadcasts/{id}/revenue
type RevenueRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// EligibleRequest is the body of POST /broadcasts/eligible-clients
type EligibleRequest struct {
	TargetAudience audience.TargetingSpec `json:"targetAudience"`
	Channels       []channel.Channel      `json:"channels"`
	Type           models.CampaignType    `json:"type"`
}

// EligibleResponse summarizes a resolved audience
type EligibleResponse struct {
	Count      int                     `json:"count"`
	Candidates int                     `json:"candidates"`
	Skipped    int                     `json:"skipped"`
	ByChannel  map[channel.Channel]int `json:"byChannel"`
	ClientIDs  []string                `json:"clientIds"`
	Plans      []audience.Plan         `json:"plans"`
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := paging(r)

	filter := models.CampaignListFilter{
		Type:   models.CampaignType(q.Get("type")),
		Status: models.CampaignStatus(q.Get("status")),
		Search: q.Get("search"),
		Limit:  limit,
		Offset: offset,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: "unknown status", Field: "status"})
		return
	}

	campaigns, total, err := s.svc.Campaigns.List(r.Context(), filter)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	if campaigns == nil {
		campaigns = []*models.Campaign{}
	}

	sendJSON(w, http.StatusOK, ListResponse[*models.Campaign]{Items: campaigns, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var c models.Campaign
	if err := decodeJSON(w, r, &c); err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := s.svc.Campaigns.Create(r.Context(), &c, actorFrom(r.Context()))
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}

	sendJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.Campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var c models.Campaign
	if err := decodeJSON(w, r, &c); err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := s.svc.Campaigns.Update(r.Context(), chi.URLParam(r, "id"), &c)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Campaigns.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubmitCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.Campaigns.Submit(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()))
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, c)
}

func (s *Server) handleApproveCampaign(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			sendError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	c, err := s.svc.Campaigns.Approve(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()), req.Comment)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, c)
}

func (s *Server) handleRejectCampaign(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := s.svc.Campaigns.Reject(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()), req.Reason)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, c)
}

func (s *Server) handlePendingCampaigns(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.Campaigns.Pending(r.Context())
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (s *Server) handleScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := s.svc.Campaigns.Schedule(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()), req.Immediate, req.Schedule)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, c)
}

// handleSendCampaign dispatches synchronously and returns the final campaign
func (s *Server) handleSendCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.Campaigns.Send(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()))
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, c)
}

func (s *Server) handleEligibleClients(w http.ResponseWriter, r *http.Request) {
	var req EligibleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.svc.Campaigns.EligibleClients(r.Context(), req.TargetAudience, req.Channels, req.Type)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}

	ids := res.ClientIDs()
	if ids == nil {
		ids = []string{}
	}
	sendJSON(w, http.StatusOK, EligibleResponse{
		Count:      res.Recipients,
		Candidates: res.Candidates,
		Skipped:    res.Skipped,
		ByChannel:  res.CountByChannel(),
		ClientIDs:  ids,
		Plans:      res.Plans,
	})
}

func (s *Server) handleCampaignStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Campaigns.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCampaignDeliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := paging(r)

	filter := models.DeliveryListFilter{
		Status:  models.DeliveryStatus(q.Get("status")),
		Channel: channel.Channel(q.Get("channel")),
		Variant: q.Get("variant"),
		Limit:   limit,
		Offset:  offset,
	}

	deliveries, total, err := s.svc.Campaigns.Deliveries(r.Context(), chi.URLParam(r, "id"), filter)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	if deliveries == nil {
		deliveries = []*models.Delivery{}
	}

	sendJSON(w, http.StatusOK, ListResponse[*models.Delivery]{Items: deliveries, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) handleRecordRevenue(w http.ResponseWriter, r *http.Request) {
	var req RevenueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := s.svc.Campaigns.RecordRevenue(r.Context(), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, c.Stats)
}
