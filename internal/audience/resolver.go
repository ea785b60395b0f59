package audience

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/foxzi/courier/internal/channel"
)

// Plan is one (client, channel, address) delivery unit
type Plan struct {
	ClientID string          `json:"clientId"`
	Channel  channel.Channel `json:"channel"`
	Address  string          `json:"address"`
	Name     string          `json:"name,omitempty"`
}

// Resolution is the concrete audience of a targeting spec
type Resolution struct {
	Plans []Plan `json:"plans"`
	// Candidates is the number of distinct clients matched by targeting
	Candidates int `json:"candidates"`
	// Recipients is the number of distinct clients with at least one plan
	Recipients int `json:"recipients"`
	// Skipped counts candidate/channel pairs excluded by preference or missing address
	Skipped int `json:"skipped"`
}

// Empty reports whether no plan was produced
func (r *Resolution) Empty() bool {
	return len(r.Plans) == 0
}

// Err returns ErrNoEligibleRecipients for an empty resolution
func (r *Resolution) Err() error {
	if r.Empty() {
		return ErrNoEligibleRecipients
	}
	return nil
}

// ClientIDs returns distinct client ids in plan order
func (r *Resolution) ClientIDs() []string {
	var ids []string
	seen := make(map[string]bool)
	for _, p := range r.Plans {
		if !seen[p.ClientID] {
			seen[p.ClientID] = true
			ids = append(ids, p.ClientID)
		}
	}
	return ids
}

// CountByChannel returns plan counts per channel
func (r *Resolution) CountByChannel() map[channel.Channel]int {
	counts := make(map[channel.Channel]int)
	for _, p := range r.Plans {
		counts[p.Channel]++
	}
	return counts
}

// Resolver turns targeting specs into delivery plans
type Resolver struct {
	dir    Directory
	logger *slog.Logger
}

// NewResolver creates a resolver over a client directory
func NewResolver(dir Directory, logger *slog.Logger) *Resolver {
	return &Resolver{dir: dir, logger: logger}
}

// Resolve computes the deduplicated, preference-filtered plans for spec.
// Plans are ordered by client id, then channel. A spec matching nobody
// yields an empty Resolution, not an error; directory failures are returned.
func (r *Resolver) Resolve(ctx context.Context, spec TargetingSpec, channels []channel.Channel, category string) (*Resolution, error) {
	res := &Resolution{Plans: []Plan{}}

	if spec.IsEmpty() {
		return res, nil
	}

	var filter Filter
	if !spec.AllClients {
		filter = Filter{
			IDs:       spec.SpecificClients,
			Types:     spec.ClientTypes,
			Tiers:     spec.TierLevels,
			Locations: spec.Locations,
		}
	}

	clients, err := r.dir.ListClients(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}

	candidates := dedupe(clients, spec.AllClients, filter)
	res.Candidates = len(candidates)

	chans := validChannels(channels)
	for _, c := range candidates {
		plans := PlansForClient(c, chans, category)
		res.Skipped += len(chans) - len(plans)
		if len(plans) > 0 {
			res.Recipients++
		}
		res.Plans = append(res.Plans, plans...)
	}

	r.logger.Debug("audience resolved",
		"candidates", res.Candidates,
		"recipients", res.Recipients,
		"plans", len(res.Plans),
		"category", category,
	)

	return res, nil
}

// PlansForClient returns the plans a single client is eligible for
func PlansForClient(c *Client, channels []channel.Channel, category string) []Plan {
	if c == nil || !c.Active {
		return nil
	}

	var plans []Plan
	for _, ch := range channel.Normalize(channels) {
		if !c.Preferences.Allows(ch, category) {
			continue
		}
		addr := strings.TrimSpace(c.Address(ch))
		if addr == "" {
			continue
		}
		plans = append(plans, Plan{
			ClientID: c.ID,
			Channel:  ch,
			Address:  addr,
			Name:     c.Name,
		})
	}
	return plans
}

// dedupe drops inactive, duplicate and non-matching clients and sorts by id
func dedupe(clients []*Client, all bool, filter Filter) []*Client {
	seen := make(map[string]bool, len(clients))
	out := make([]*Client, 0, len(clients))
	for _, c := range clients {
		if c == nil || !c.Active || seen[c.ID] {
			continue
		}
		if !all && !filter.Matches(c) {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func validChannels(channels []channel.Channel) []channel.Channel {
	out := make([]channel.Channel, 0, len(channels))
	for _, ch := range channels {
		if ch.Valid() {
			out = append(out, ch)
		}
	}
	return channel.Normalize(out)
}

// IsEmpty reports whether no criterion is populated
func (f Filter) IsEmpty() bool {
	return len(f.IDs) == 0 && len(f.Types) == 0 && len(f.Tiers) == 0 && len(f.Locations) == 0
}

// Matches reports whether c satisfies any populated criterion.
// An empty filter matches every client.
func (f Filter) Matches(c *Client) bool {
	if f.IsEmpty() {
		return true
	}
	for _, id := range f.IDs {
		if id == c.ID {
			return true
		}
	}
	for _, t := range f.Types {
		if strings.EqualFold(t, c.Type) {
			return true
		}
	}
	for _, t := range f.Tiers {
		if strings.EqualFold(t, c.Tier) {
			return true
		}
	}
	for _, l := range f.Locations {
		if l.Matches(c.City, c.State) {
			return true
		}
	}
	return false
}
