package broadcast

import (
	"context"
	"strings"

	"github.com/foxzi/courier/internal/models"
)

// PendingItem is a campaign awaiting approval with its compliance warnings
type PendingItem struct {
	Campaign *models.Campaign `json:"campaign"`
	Warnings []string         `json:"warnings"`
}

// Approve accepts a pending campaign. Compliance flags never block approval.
func (s *Service) Approve(ctx context.Context, id, approver, comment string) (*models.Campaign, error) {
	if strings.TrimSpace(approver) == "" {
		return nil, &ValidationError{Field: "approvedBy", Message: "approver identity is required"}
	}

	return s.transition(ctx, id, models.StatusApproved, approver, comment, func(c *models.Campaign) error {
		now := s.now()
		c.Approval.Status = models.ApprovalApproved
		c.Approval.ApprovedBy = approver
		c.Approval.ApprovedAt = &now
		c.Approval.Comment = comment
		c.Approval.RejectedBy = ""
		c.Approval.RejectedAt = nil
		c.Approval.RejectionReason = ""

		if w := c.Compliance.Warnings(); len(w) > 0 {
			s.logger.Warn("campaign approved with compliance warnings", "campaign_id", c.ID, "warnings", w)
		}
		return nil
	})
}

// Reject returns a pending campaign to its author with a reason
func (s *Service) Reject(ctx context.Context, id, approver, reason string) (*models.Campaign, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, &ValidationError{Field: "reason", Message: "rejection reason is required"}
	}

	return s.transition(ctx, id, models.StatusRejected, approver, reason, func(c *models.Campaign) error {
		now := s.now()
		c.Approval.Status = models.ApprovalRejected
		c.Approval.RejectedBy = approver
		c.Approval.RejectedAt = &now
		c.Approval.RejectionReason = reason
		return nil
	})
}

// Pending lists campaigns awaiting approval, oldest first
func (s *Service) Pending(ctx context.Context) ([]PendingItem, error) {
	campaigns, _, err := s.store.List(ctx, models.CampaignListFilter{Status: models.StatusPendingApproval})
	if err != nil {
		return nil, err
	}

	items := make([]PendingItem, 0, len(campaigns))
	for i := len(campaigns) - 1; i >= 0; i-- {
		c := campaigns[i]
		warnings := c.Compliance.Warnings()
		if warnings == nil {
			warnings = []string{}
		}
		items = append(items, PendingItem{Campaign: c, Warnings: warnings})
	}
	return items, nil
}
