package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/courier/internal/reminder"
)

// ReminderStatusResponse is the response for GET /reminders/status
type ReminderStatusResponse struct {
	Running  bool                 `json:"running"`
	Interval string               `json:"interval"`
	LastTick *reminder.TickResult `json:"lastTick,omitempty"`
}

// LedgerResponse lists the tiers recorded for an invoice
type LedgerResponse struct {
	InvoiceID string            `json:"invoiceId"`
	Entries   []*reminder.Entry `json:"entries"`
}

func (s *Server) handleReminderStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Reminders.Stats(r.Context())
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, ReminderStatusResponse{
		Running:  stats.Running,
		Interval: stats.Interval,
		LastTick: stats.LastTick,
	})
}

func (s *Server) handleReminderStart(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Reminders.Start(); err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.logger.Info("reminder scheduler started", "actor", actorFrom(r.Context()))
	sendJSON(w, http.StatusOK, map[string]bool{"running": true})
}

// handleReminderStop is idempotent
func (s *Server) handleReminderStop(w http.ResponseWriter, r *http.Request) {
	s.svc.Reminders.Stop()
	s.logger.Info("reminder scheduler stopped", "actor", actorFrom(r.Context()))
	sendJSON(w, http.StatusOK, map[string]bool{"running": false})
}

// handleReminderTrigger runs one scan immediately and reports its result
func (s *Server) handleReminderTrigger(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.Reminders.TriggerOnce(r.Context())
	if result == nil {
		if err == nil {
			sendError(w, http.StatusInternalServerError, "reminder scan produced no result")
			return
		}
		s.sendServiceError(w, r, err)
		return
	}
	// a faulted scan still has a result carrying the error message
	sendJSON(w, http.StatusOK, result)
}

func (s *Server) handleReminderStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Reminders.Stats(r.Context())
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, stats)
}

func (s *Server) handleReminderTiers(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]any{"tiers": s.svc.Reminders.Tiers()})
}

func (s *Server) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "invoiceId")

	entries, err := s.svc.Reminders.Ledger().Get(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*reminder.Entry{}
	}
	sendJSON(w, http.StatusOK, LedgerResponse{InvoiceID: id, Entries: entries})
}

func (s *Server) handleClearInvoiceLedger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "invoiceId")

	n, err := s.svc.Reminders.Ledger().Clear(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.logger.Info("reminder ledger cleared", "invoice_id", id, "entries", n, "actor", actorFrom(r.Context()))
	sendJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (s *Server) handleClearLedger(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.Reminders.Ledger().ClearAll(r.Context())
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.logger.Warn("reminder ledger cleared for all invoices", "entries", n, "actor", actorFrom(r.Context()))
	sendJSON(w, http.StatusOK, map[string]int{"cleared": n})
}
