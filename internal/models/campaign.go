package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/foxzi/courier/internal/audience"
	"github.com/foxzi/courier/internal/channel"
)

// CampaignStatus is a broadcast lifecycle state
type CampaignStatus string

const (
	StatusDraft           CampaignStatus = "draft"
	StatusPendingApproval CampaignStatus = "pending_approval"
	StatusApproved        CampaignStatus = "approved"
	StatusRejected        CampaignStatus = "rejected"
	StatusScheduled       CampaignStatus = "scheduled"
	StatusSending         CampaignStatus = "sending"
	StatusSent            CampaignStatus = "sent"
	StatusFailed          CampaignStatus = "failed"
)

// Statuses lists every campaign status
var Statuses = []CampaignStatus{
	StatusDraft,
	StatusPendingApproval,
	StatusApproved,
	StatusRejected,
	StatusScheduled,
	StatusSending,
	StatusSent,
	StatusFailed,
}

// Valid reports whether s is a known status
func (s CampaignStatus) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Editable reports whether campaign content may change in this status
func (s CampaignStatus) Editable() bool {
	return s == StatusDraft || s == StatusRejected
}

// CampaignType classifies a broadcast
type CampaignType string

const (
	TypeOffer        CampaignType = "offer"
	TypeFestival     CampaignType = "festival"
	TypeAnnouncement CampaignType = "announcement"
	TypePromotion    CampaignType = "promotion"
	TypeNewsletter   CampaignType = "newsletter"
	TypeReminder     CampaignType = "reminder"
	TypeBirthday     CampaignType = "birthday"
	TypeAnniversary  CampaignType = "anniversary"
)

// Valid reports whether t is a known type
func (t CampaignType) Valid() bool {
	switch t {
	case TypeOffer, TypeFestival, TypeAnnouncement, TypePromotion,
		TypeNewsletter, TypeReminder, TypeBirthday, TypeAnniversary:
		return true
	}
	return false
}

// Category maps the campaign type onto the preference category it is checked against
func (t CampaignType) Category() string {
	switch t {
	case TypeOffer, TypePromotion:
		return audience.CategoryOffer
	case TypeReminder:
		return audience.CategoryPaymentDue
	case TypeFestival:
		return audience.CategoryFestival
	case TypeAnnouncement:
		return audience.CategoryAnnouncement
	case TypeNewsletter:
		return audience.CategoryNewsletter
	case TypeBirthday:
		return audience.CategoryBirthday
	case TypeAnniversary:
		return audience.CategoryAnniversary
	}
	return string(t)
}

// ChannelConfig overrides campaign content for one channel
type ChannelConfig struct {
	Subject string `json:"subject,omitempty"`
	Content string `json:"content,omitempty"`
}

// ApprovalStatus is the state of the approval decision
type ApprovalStatus string

const (
	ApprovalNone     ApprovalStatus = ""
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Approval records the approval decision
type Approval struct {
	Status          ApprovalStatus `json:"status,omitempty"`
	SubmittedBy     string         `json:"submittedBy,omitempty"`
	SubmittedAt     *time.Time     `json:"submittedAt,omitempty"`
	ApprovedBy      string         `json:"approvedBy,omitempty"`
	ApprovedAt      *time.Time     `json:"approvedAt,omitempty"`
	RejectedBy      string         `json:"rejectedBy,omitempty"`
	RejectedAt      *time.Time     `json:"rejectedAt,omitempty"`
	RejectionReason string         `json:"rejectionReason,omitempty"`
	Comment         string         `json:"comment,omitempty"`
}

// Compliance flags are advisory
type Compliance struct {
	RegulatoryApproved bool `json:"regulatoryApproved"`
	LegalReviewed      bool `json:"legalReviewed"`
}

// Warnings lists unmet compliance flags
func (c Compliance) Warnings() []string {
	var w []string
	if !c.RegulatoryApproved {
		w = append(w, "regulatory approval not recorded")
	}
	if !c.LegalReviewed {
		w = append(w, "legal review not recorded")
	}
	return w
}

// MaxVariantWeight caps a single variant weight
const MaxVariantWeight = 10000

// Variant is one A/B test arm
type Variant struct {
	Name    string `json:"name"`
	Subject string `json:"subject,omitempty"`
	Content string `json:"content"`
	Weight  int    `json:"weight"`
}

// ABTest configures variant assignment
type ABTest struct {
	Enabled  bool      `json:"enabled"`
	Variants []Variant `json:"variants,omitempty"`
}

// CountStats holds sent/failed counters
type CountStats struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// CampaignStats aggregates dispatch outcomes. Counts are per delivery:
// TotalRecipients is the number of client and channel pairs attempted,
// Recipients the number of distinct clients among them.
type CampaignStats struct {
	Recipients      int                            `json:"recipients"`
	TotalRecipients int                            `json:"totalRecipients"`
	SentCount       int                            `json:"sentCount"`
	DeliveredCount  int                            `json:"deliveredCount"`
	FailedCount     int                            `json:"failedCount"`
	PerChannel      map[channel.Channel]CountStats `json:"perChannel,omitempty"`
	PerVariant      map[string]CountStats          `json:"perVariant,omitempty"`
	Cost            decimal.Decimal                `json:"cost"`
	Revenue         decimal.Decimal                `json:"revenue"`
	ROI             decimal.Decimal                `json:"roi"`
	Note            string                         `json:"note,omitempty"`
}

// RecomputeROI sets ROI to (revenue - cost) / cost, or zero without cost
func (s *CampaignStats) RecomputeROI() {
	if s.Cost.IsZero() {
		s.ROI = decimal.Zero
		return
	}
	s.ROI = s.Revenue.Sub(s.Cost).Div(s.Cost).Round(4)
}

// Transition is one audit history record
type Transition struct {
	From   CampaignStatus `json:"from"`
	To     CampaignStatus `json:"to"`
	Actor  string         `json:"actor,omitempty"`
	Reason string         `json:"reason,omitempty"`
	At     time.Time      `json:"at"`
}

// Campaign is a multi-channel broadcast
type Campaign struct {
	ID             string                            `json:"id"`
	Title          string                            `json:"title"`
	Description    string                            `json:"description,omitempty"`
	Content        string                            `json:"content"`
	Type           CampaignType                      `json:"type"`
	Channels       []channel.Channel                 `json:"channels"`
	ChannelConfigs map[channel.Channel]ChannelConfig `json:"channelConfigs,omitempty"`
	TargetAudience audience.TargetingSpec            `json:"targetAudience"`
	Status         CampaignStatus                    `json:"status"`
	Approval       Approval                          `json:"approval"`
	Compliance     Compliance                        `json:"compliance"`
	ABTest         ABTest                            `json:"abTest"`
	Schedule       *time.Time                        `json:"schedule,omitempty"`
	Stats          CampaignStats                     `json:"stats"`
	History        []Transition                      `json:"history,omitempty"`
	CreatedBy      string                            `json:"createdBy,omitempty"`
	CreatedAt      time.Time                         `json:"createdAt"`
	UpdatedAt      time.Time                         `json:"updatedAt"`
	SentAt         *time.Time                        `json:"sentAt,omitempty"`
}

// Category returns the preference category of the campaign
func (c *Campaign) Category() string {
	return c.Type.Category()
}

// ContentFor returns subject and body templates for ch, applying the
// channel override and then the variant override.
func (c *Campaign) ContentFor(ch channel.Channel, variant *Variant) (subject, content string) {
	subject = c.Title
	content = c.Content

	if cfg, ok := c.ChannelConfigs[ch]; ok {
		if cfg.Subject != "" {
			subject = cfg.Subject
		}
		if cfg.Content != "" {
			content = cfg.Content
		}
	}

	if variant != nil {
		if variant.Subject != "" {
			subject = variant.Subject
		}
		if variant.Content != "" {
			content = variant.Content
		}
	}

	return subject, content
}

// Validate checks the campaign fields that must hold in every status
func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return &ValidationError{Field: "title", Message: "is required"}
	}
	if !c.Type.Valid() {
		return &ValidationError{Field: "type", Message: fmt.Sprintf("unknown type %q", c.Type)}
	}
	if len(c.Channels) == 0 {
		return &ValidationError{Field: "channels", Message: "at least one channel is required"}
	}
	for _, ch := range c.Channels {
		if !ch.Valid() {
			return &ValidationError{Field: "channels", Message: fmt.Sprintf("unknown channel %q", ch)}
		}
	}
	for ch := range c.ChannelConfigs {
		if !ch.Valid() {
			return &ValidationError{Field: "channelConfigs", Message: fmt.Sprintf("unknown channel %q", ch)}
		}
	}
	if c.ABTest.Enabled {
		if len(c.ABTest.Variants) < 2 {
			return &ValidationError{Field: "abTest.variants", Message: "at least two variants are required"}
		}
		names := make(map[string]bool)
		for _, v := range c.ABTest.Variants {
			if strings.TrimSpace(v.Name) == "" {
				return &ValidationError{Field: "abTest.variants", Message: "variant name is required"}
			}
			if names[v.Name] {
				return &ValidationError{Field: "abTest.variants", Message: fmt.Sprintf("duplicate variant %q", v.Name)}
			}
			names[v.Name] = true
			if v.Weight < 0 || v.Weight > MaxVariantWeight {
				return &ValidationError{Field: "abTest.variants", Message: fmt.Sprintf("weight must be between 0 and %d", MaxVariantWeight)}
			}
		}
	}
	return nil
}

// CampaignListFilter for filtering campaigns
type CampaignListFilter struct {
	Type   CampaignType
	Status CampaignStatus
	Search string
	Limit  int
	Offset int
}

// Matches reports whether c passes the filter, ignoring paging
func (f CampaignListFilter) Matches(c *Campaign) bool {
	if f.Type != "" && c.Type != f.Type {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(c.Title), q) &&
			!strings.Contains(strings.ToLower(c.Description), q) {
			return false
		}
	}
	return true
}

// ValidationError reports malformed input rejected before any state change
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}
