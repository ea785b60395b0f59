package audience

import (
	"context"
	"errors"
	"strings"

	"github.com/foxzi/courier/internal/channel"
)

// Communication categories clients can opt in or out of
const (
	CategoryOffer        = "offer"
	CategoryPaymentDue   = "payment_due"
	CategoryFestival     = "festival"
	CategoryAnnouncement = "announcement"
	CategoryNewsletter   = "newsletter"
	CategoryBirthday     = "birthday"
	CategoryAnniversary  = "anniversary"
)

// Categories lists every known category
var Categories = []string{
	CategoryOffer,
	CategoryPaymentDue,
	CategoryFestival,
	CategoryAnnouncement,
	CategoryNewsletter,
	CategoryBirthday,
	CategoryAnniversary,
}

// ErrNoEligibleRecipients reports a resolution that produced zero plans
var ErrNoEligibleRecipients = errors.New("zero eligible recipients")

// Location matches clients by city and state. Empty fields match anything.
type Location struct {
	City  string `json:"city,omitempty" yaml:"city,omitempty"`
	State string `json:"state,omitempty" yaml:"state,omitempty"`
}

// Matches compares case-insensitively
func (l Location) Matches(city, state string) bool {
	if l.City == "" && l.State == "" {
		return false
	}
	if l.City != "" && !strings.EqualFold(l.City, city) {
		return false
	}
	if l.State != "" && !strings.EqualFold(l.State, state) {
		return false
	}
	return true
}

// TargetingSpec declares which clients a campaign reaches
type TargetingSpec struct {
	AllClients      bool       `json:"allClients"`
	SpecificClients []string   `json:"specificClients,omitempty"`
	ClientTypes     []string   `json:"clientTypes,omitempty"`
	TierLevels      []string   `json:"tierLevels,omitempty"`
	Locations       []Location `json:"locations,omitempty"`
}

// IsEmpty reports whether the spec can match no client
func (s TargetingSpec) IsEmpty() bool {
	return !s.AllClients &&
		len(s.SpecificClients) == 0 &&
		len(s.ClientTypes) == 0 &&
		len(s.TierLevels) == 0 &&
		len(s.Locations) == 0
}

// ChannelPreference holds the opt-in state of a single channel
type ChannelPreference struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Preferences are the communication preferences recorded on a client
type Preferences struct {
	Channels   map[channel.Channel]ChannelPreference `json:"channels,omitempty" yaml:"channels,omitempty"`
	Categories map[string]bool                       `json:"categories,omitempty" yaml:"categories,omitempty"`
}

// DefaultPreferences apply to clients with no recorded preferences:
// email enabled, sms and whatsapp disabled, every category opted in.
func DefaultPreferences() *Preferences {
	return &Preferences{
		Channels: map[channel.Channel]ChannelPreference{
			channel.Email:    {Enabled: true},
			channel.SMS:      {Enabled: false},
			channel.WhatsApp: {Enabled: false},
		},
	}
}

// Allows reports whether the preferences permit ch for category.
// A channel missing from recorded preferences is disabled; a missing
// category is opted in.
func (p *Preferences) Allows(ch channel.Channel, category string) bool {
	if p == nil {
		p = DefaultPreferences()
	}
	if !p.Channels[ch].Enabled {
		return false
	}
	if category == "" {
		return true
	}
	optIn, ok := p.Categories[category]
	return !ok || optIn
}

// Client is a client record as seen by the engine
type Client struct {
	ID          string       `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	Type        string       `json:"type,omitempty" yaml:"type,omitempty"`
	Tier        string       `json:"tier,omitempty" yaml:"tier,omitempty"`
	City        string       `json:"city,omitempty" yaml:"city,omitempty"`
	State       string       `json:"state,omitempty" yaml:"state,omitempty"`
	Email       string       `json:"email,omitempty" yaml:"email,omitempty"`
	Phone       string       `json:"phone,omitempty" yaml:"phone,omitempty"`
	WhatsApp    string       `json:"whatsapp,omitempty" yaml:"whatsapp,omitempty"`
	Active      bool         `json:"active" yaml:"active"`
	Preferences *Preferences `json:"preferences,omitempty" yaml:"preferences,omitempty"`
}

// Address returns the client's address for ch. WhatsApp falls back to the phone number.
func (c *Client) Address(ch channel.Channel) string {
	switch ch {
	case channel.Email:
		return c.Email
	case channel.SMS:
		return c.Phone
	case channel.WhatsApp:
		if c.WhatsApp != "" {
			return c.WhatsApp
		}
		return c.Phone
	}
	return ""
}

// Filter selects clients from a directory. Populated fields are ORed.
type Filter struct {
	IDs       []string
	Types     []string
	Tiers     []string
	Locations []Location
}

// Directory provides read access to client records
type Directory interface {
	GetClient(ctx context.Context, id string) (*Client, error)
	// ListClients returns active clients matching any populated filter
	// field, or every active client when the filter is empty.
	ListClients(ctx context.Context, filter Filter) ([]*Client, error)
}

// ErrClientNotFound is returned by directories for unknown ids
var ErrClientNotFound = errors.New("client not found")
