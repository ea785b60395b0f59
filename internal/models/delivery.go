package models

import (
	"time"

	"github.com/foxzi/courier/internal/channel"
)

// DeliveryStatus is the outcome of one send attempt
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// Delivery is the recorded outcome of sending to one plan
type Delivery struct {
	ID          string          `json:"id"`
	CampaignID  string          `json:"campaignId,omitempty"`
	ClientID    string          `json:"clientId"`
	Channel     channel.Channel `json:"channel"`
	Address     string          `json:"address"`
	Variant     string          `json:"variant,omitempty"`
	Status      DeliveryStatus  `json:"status"`
	Error       string          `json:"error,omitempty"`
	Temporary   bool            `json:"temporary,omitempty"`
	Unavailable bool            `json:"unavailable,omitempty"`
	AttemptedAt time.Time       `json:"attemptedAt"`
}

// DeliveryListFilter for filtering deliveries of a campaign
type DeliveryListFilter struct {
	Status  DeliveryStatus
	Channel channel.Channel
	Variant string
	Limit   int
	Offset  int
}

// Matches reports whether d passes the filter, ignoring paging
func (f DeliveryListFilter) Matches(d *Delivery) bool {
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	if f.Channel != "" && d.Channel != f.Channel {
		return false
	}
	if f.Variant != "" && d.Variant != f.Variant {
		return false
	}
	return true
}
