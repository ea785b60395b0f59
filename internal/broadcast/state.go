package broadcast

import (
	"fmt"
	"time"

	"github.com/foxzi/courier/internal/models"
)

// ValidationError reports malformed input rejected before any state change
type ValidationError = models.ValidationError

// InvalidTransitionError is returned for a status change the lifecycle does not allow
type InvalidTransitionError struct {
	From   models.CampaignStatus
	To     models.CampaignStatus
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid transition %s -> %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

var transitions = map[models.CampaignStatus][]models.CampaignStatus{
	models.StatusDraft:           {models.StatusPendingApproval},
	models.StatusPendingApproval: {models.StatusApproved, models.StatusRejected},
	models.StatusRejected:        {models.StatusPendingApproval},
	models.StatusApproved:        {models.StatusScheduled},
	models.StatusScheduled:       {models.StatusSending},
	models.StatusSending:         {models.StatusSent, models.StatusFailed},
}

// CanTransition reports whether from -> to is in the lifecycle table
func CanTransition(from, to models.CampaignStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// applyTransition moves c to status to and appends the change to its history.
// c is left untouched when the move is not allowed.
func applyTransition(c *models.Campaign, to models.CampaignStatus, actor, reason string, now time.Time) error {
	if !CanTransition(c.Status, to) {
		return &InvalidTransitionError{From: c.Status, To: to}
	}

	c.History = append(c.History, models.Transition{
		From:   c.Status,
		To:     to,
		Actor:  actor,
		Reason: reason,
		At:     now,
	})
	c.Status = to
	c.UpdatedAt = now
	return nil
}
