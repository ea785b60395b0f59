package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/foxzi/courier/internal/audience"
	"github.com/foxzi/courier/internal/channel"
	"github.com/foxzi/courier/internal/dispatch"
	"github.com/foxzi/courier/internal/events"
	"github.com/foxzi/courier/internal/models"
)

// Notes recorded on campaign stats
const (
	NoteNoRecipients   = "no eligible recipients"
	NoteAllUnavailable = "all transports unavailable"
)

// Service runs the campaign lifecycle
type Service struct {
	store      *Storage
	dispatcher *dispatch.Dispatcher
	bus        *events.Bus
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a campaign service
func NewService(store *Storage, dispatcher *dispatch.Dispatcher, bus *events.Bus, logger *slog.Logger) *Service {
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		bus:        bus,
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Create stores a new draft campaign
func (s *Service) Create(ctx context.Context, c *models.Campaign, actor string) (*models.Campaign, error) {
	if err := s.validate(c); err != nil {
		return nil, err
	}

	now := s.now()
	c.ID = uuid.New().String()
	c.Channels = channel.Normalize(c.Channels)
	c.Status = models.StatusDraft
	c.Approval = models.Approval{}
	c.Stats = models.CampaignStats{}
	c.History = nil
	c.SentAt = nil
	c.CreatedBy = actor
	c.CreatedAt = now
	c.UpdatedAt = now

	if err := s.store.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	s.logger.Info("campaign created", "campaign_id", c.ID, "type", c.Type, "actor", actor)
	return c, nil
}

// Get returns a campaign
func (s *Service) Get(ctx context.Context, id string) (*models.Campaign, error) {
	return s.store.Get(ctx, id)
}

// List returns campaigns matching the filter and the total match count
func (s *Service) List(ctx context.Context, filter models.CampaignListFilter) ([]*models.Campaign, int, error) {
	return s.store.List(ctx, filter)
}

// Update replaces the editable fields of a draft or rejected campaign
func (s *Service) Update(ctx context.Context, id string, in *models.Campaign) (*models.Campaign, error) {
	return s.store.Modify(ctx, id, func(c *models.Campaign) error {
		if !c.Status.Editable() {
			return &InvalidTransitionError{From: c.Status, To: c.Status, Reason: "campaign can only be edited in draft or rejected status"}
		}

		c.Title = in.Title
		c.Description = in.Description
		c.Content = in.Content
		c.Type = in.Type
		c.Channels = channel.Normalize(in.Channels)
		c.ChannelConfigs = in.ChannelConfigs
		c.TargetAudience = in.TargetAudience
		c.Compliance = in.Compliance
		c.ABTest = in.ABTest
		c.Schedule = in.Schedule
		c.UpdatedAt = s.now()

		return s.validate(c)
	})
}

// validate checks the campaign fields and executes its templates
func (s *Service) validate(c *models.Campaign) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return s.dispatcher.CheckContent(c)
}

// Delete removes a draft or rejected campaign
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id, func(c *models.Campaign) error {
		if !c.Status.Editable() {
			return &InvalidTransitionError{From: c.Status, To: c.Status, Reason: "campaign can only be deleted in draft or rejected status"}
		}
		return nil
	})
}

// Submit sends a draft or rejected campaign for approval
func (s *Service) Submit(ctx context.Context, id, actor string) (*models.Campaign, error) {
	return s.transition(ctx, id, models.StatusPendingApproval, actor, "", func(c *models.Campaign) error {
		if strings.TrimSpace(c.Content) == "" {
			return &ValidationError{Field: "content", Message: "is required before submission"}
		}
		if len(c.Channels) == 0 {
			return &ValidationError{Field: "channels", Message: "at least one channel is required"}
		}
		if err := s.validate(c); err != nil {
			return err
		}
		now := s.now()
		c.Approval = models.Approval{
			Status:      models.ApprovalPending,
			SubmittedBy: actor,
			SubmittedAt: &now,
		}
		return nil
	})
}

// Schedule moves an approved campaign to scheduled. Immediate campaigns are
// due at once; otherwise at must lie in the future.
func (s *Service) Schedule(ctx context.Context, id, actor string, immediate bool, at *time.Time) (*models.Campaign, error) {
	now := s.now()
	if !immediate {
		if at == nil {
			return nil, &ValidationError{Field: "schedule", Message: "schedule or immediate is required"}
		}
		if !at.After(now) {
			return nil, &ValidationError{Field: "schedule", Message: "must be in the future"}
		}
	}

	return s.transition(ctx, id, models.StatusScheduled, actor, "", func(c *models.Campaign) error {
		if immediate {
			c.Schedule = &now
		} else {
			t := at.UTC()
			c.Schedule = &t
		}
		return nil
	})
}

// Send dispatches a campaign now. Approved campaigns are scheduled
// immediately first.
func (s *Service) Send(ctx context.Context, id, actor string) (*models.Campaign, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if c.Status == models.StatusApproved {
		if _, err := s.Schedule(ctx, id, actor, true, nil); err != nil {
			return nil, err
		}
	}

	return s.dispatch(ctx, id, actor)
}

// RunDue dispatches every scheduled campaign whose time has come
func (s *Service) RunDue(ctx context.Context) (int, error) {
	due, err := s.store.DueScheduled(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to list scheduled campaigns: %w", err)
	}

	n := 0
	for _, c := range due {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.dispatch(ctx, c.ID, "scheduler"); err != nil {
			var ite *InvalidTransitionError
			if errors.As(err, &ite) {
				// picked up by a manual send in the meantime
				continue
			}
			s.logger.Error("scheduled dispatch failed", "campaign_id", c.ID, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

func (s *Service) dispatch(ctx context.Context, id, actor string) (*models.Campaign, error) {
	c, err := s.transition(ctx, id, models.StatusSending, actor, "", nil)
	if err != nil {
		return nil, err
	}

	// once sending, the whole audience is attempted even if the caller
	// goes away; a cancelled request must not turn unsent plans into failures
	result, sendErr := s.dispatcher.Send(context.WithoutCancel(ctx), c)

	to := models.StatusSent
	var reason string
	switch {
	case sendErr != nil:
		to = models.StatusFailed
		reason = sendErr.Error()
	case result.AllUnavailable():
		to = models.StatusFailed
		reason = NoteAllUnavailable
	}

	c, err = s.transition(context.WithoutCancel(ctx), id, to, actor, reason, func(c *models.Campaign) error {
		now := s.now()
		c.SentAt = &now
		c.Stats.Note = reason
		if result == nil {
			return nil
		}

		c.Stats.Recipients = result.Recipients
		c.Stats.TotalRecipients = result.Total
		c.Stats.SentCount = result.Sent
		c.Stats.FailedCount = result.Failed
		c.Stats.PerChannel = result.PerChannel
		c.Stats.PerVariant = result.PerVariant
		c.Stats.Cost = result.Cost
		c.Stats.RecomputeROI()
		if result.Empty() {
			c.Stats.Note = NoteNoRecipients
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record dispatch outcome: %w", err)
	}

	if result != nil {
		if err := s.store.SaveDeliveries(context.WithoutCancel(ctx), id, result.Outcomes); err != nil {
			s.logger.Error("failed to save deliveries", "campaign_id", id, "error", err)
		}
		s.bus.Publish(events.CampaignDispatched{
			CampaignID: id,
			Total:      result.Total,
			Sent:       result.Sent,
			Failed:     result.Failed,
			Duration:   result.Duration,
		})
	}

	return c, nil
}

// transition applies a lifecycle change atomically. guard runs after the
// table check and before the change is stored.
func (s *Service) transition(ctx context.Context, id string, to models.CampaignStatus, actor, reason string, guard func(c *models.Campaign) error) (*models.Campaign, error) {
	var from models.CampaignStatus
	now := s.now()

	c, err := s.store.Modify(ctx, id, func(c *models.Campaign) error {
		from = c.Status
		if !CanTransition(c.Status, to) {
			return &InvalidTransitionError{From: c.Status, To: to}
		}
		if guard != nil {
			if err := guard(c); err != nil {
				return err
			}
		}
		return applyTransition(c, to, actor, reason, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("campaign transitioned", "campaign_id", id, "from", from, "to", to, "actor", actor)
	s.bus.Publish(events.CampaignTransitioned{
		CampaignID: id,
		From:       string(from),
		To:         string(to),
		Actor:      actor,
		At:         now,
	})

	return c, nil
}

// EligibleClients resolves an audience without creating a campaign
func (s *Service) EligibleClients(ctx context.Context, spec audience.TargetingSpec, channels []channel.Channel, typ models.CampaignType) (*audience.Resolution, error) {
	if typ != "" && !typ.Valid() {
		return nil, &ValidationError{Field: "type", Message: fmt.Sprintf("unknown type %q", typ)}
	}
	for _, ch := range channels {
		if !ch.Valid() {
			return nil, &ValidationError{Field: "channels", Message: fmt.Sprintf("unknown channel %q", ch)}
		}
	}
	if len(channels) == 0 {
		channels = channel.All
	}

	return s.dispatcher.Preview(ctx, &models.Campaign{
		Type:           typ,
		Channels:       channel.Normalize(channels),
		TargetAudience: spec,
	})
}

// Stats returns the aggregated dispatch stats of a campaign
func (s *Service) Stats(ctx context.Context, id string) (*models.CampaignStats, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &c.Stats, nil
}

// Deliveries lists the per-recipient outcomes of a campaign
func (s *Service) Deliveries(ctx context.Context, id string, filter models.DeliveryListFilter) ([]*models.Delivery, int, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, 0, err
	}
	return s.store.ListDeliveries(ctx, id, filter)
}

// RecordRevenue adds attributed revenue to a campaign and recomputes its ROI
func (s *Service) RecordRevenue(ctx context.Context, id string, amount decimal.Decimal) (*models.Campaign, error) {
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "must be positive"}
	}

	return s.store.Modify(ctx, id, func(c *models.Campaign) error {
		c.Stats.Revenue = c.Stats.Revenue.Add(amount)
		c.Stats.RecomputeROI()
		c.UpdatedAt = s.now()
		return nil
	})
}

// CountByStatus returns the number of campaigns in each status
func (s *Service) CountByStatus(ctx context.Context) (map[models.CampaignStatus]int, error) {
	return s.store.CountByStatus(ctx)
}
