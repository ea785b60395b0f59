package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/foxzi/courier/internal/audience"
)

// DiscountType selects how an offer discount is expressed
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountAmount     DiscountType = "amount"
)

// Insurance products an offer can apply to
var Products = []string{"health", "life", "motor", "home", "travel", "commercial"}

// UnlimitedUsage marks an offer with no redemption cap
const UnlimitedUsage = -1

// Offer is a targeted incentive
type Offer struct {
	ID                 string                 `json:"id"`
	Title              string                 `json:"title"`
	Description        string                 `json:"description,omitempty"`
	Type               string                 `json:"type"`
	DiscountType       DiscountType           `json:"discountType"`
	DiscountPercentage *decimal.Decimal       `json:"discountPercentage,omitempty"`
	DiscountAmount     *decimal.Decimal       `json:"discountAmount,omitempty"`
	ApplicableProducts []string               `json:"applicableProducts,omitempty"`
	ValidFrom          time.Time              `json:"validFrom"`
	ValidUntil         time.Time              `json:"validUntil"`
	MaxUsageCount      int                    `json:"maxUsageCount"`
	CurrentUsageCount  int                    `json:"currentUsageCount"`
	TargetAudience     audience.TargetingSpec `json:"targetAudience"`
	IsActive           bool                   `json:"isActive"`
	CreatedBy          string                 `json:"createdBy,omitempty"`
	CreatedAt          time.Time              `json:"createdAt"`
	UpdatedAt          time.Time              `json:"updatedAt"`
}

// Validate checks offer invariants
func (o *Offer) Validate() error {
	if strings.TrimSpace(o.Title) == "" {
		return &ValidationError{Field: "title", Message: "is required"}
	}
	if strings.TrimSpace(o.Type) == "" {
		return &ValidationError{Field: "type", Message: "is required"}
	}

	switch o.DiscountType {
	case DiscountPercentage:
		if o.DiscountPercentage == nil || o.DiscountAmount != nil {
			return &ValidationError{Field: "discountPercentage", Message: "exactly one of discountPercentage or discountAmount must be set"}
		}
		if !o.DiscountPercentage.IsPositive() || o.DiscountPercentage.GreaterThan(decimal.NewFromInt(100)) {
			return &ValidationError{Field: "discountPercentage", Message: "must be in (0, 100]"}
		}
	case DiscountAmount:
		if o.DiscountAmount == nil || o.DiscountPercentage != nil {
			return &ValidationError{Field: "discountAmount", Message: "exactly one of discountPercentage or discountAmount must be set"}
		}
		if !o.DiscountAmount.IsPositive() {
			return &ValidationError{Field: "discountAmount", Message: "must be positive"}
		}
	default:
		return &ValidationError{Field: "discountType", Message: fmt.Sprintf("unknown discount type %q", o.DiscountType)}
	}

	for _, p := range o.ApplicableProducts {
		if !knownProduct(p) {
			return &ValidationError{Field: "applicableProducts", Message: fmt.Sprintf("unknown product %q", p)}
		}
	}

	if o.ValidUntil.IsZero() {
		return &ValidationError{Field: "validUntil", Message: "is required"}
	}
	if !o.ValidUntil.After(o.ValidFrom) {
		return &ValidationError{Field: "validUntil", Message: "must be after validFrom"}
	}

	if o.MaxUsageCount < UnlimitedUsage || o.MaxUsageCount == 0 {
		return &ValidationError{Field: "maxUsageCount", Message: "must be positive or -1 for unlimited"}
	}
	if o.CurrentUsageCount < 0 {
		return &ValidationError{Field: "currentUsageCount", Message: "must not be negative"}
	}

	return nil
}

// IsExpired reports whether the validity window has passed or the usage cap is reached
func (o *Offer) IsExpired(now time.Time) bool {
	if now.After(o.ValidUntil) {
		return true
	}
	return o.MaxUsageCount != UnlimitedUsage && o.CurrentUsageCount >= o.MaxUsageCount
}

// Available reports whether the offer can be redeemed at now
func (o *Offer) Available(now time.Time) bool {
	return o.IsActive && !now.Before(o.ValidFrom) && !o.IsExpired(now)
}

func knownProduct(p string) bool {
	for _, k := range Products {
		if k == p {
			return true
		}
	}
	return false
}

// OfferListFilter for filtering offers
type OfferListFilter struct {
	Type       string
	ActiveOnly bool
	Search     string
	Limit      int
	Offset     int
}
