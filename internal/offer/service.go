package offer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/courier/internal/models"
)

// Service manages offers
type Service struct {
	store  *Storage
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates an offer service
func NewService(store *Storage, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Create validates and stores a new offer
func (s *Service) Create(ctx context.Context, o *models.Offer, actor string) (*models.Offer, error) {
	if o.MaxUsageCount == 0 {
		o.MaxUsageCount = models.UnlimitedUsage
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	o.ID = uuid.New().String()
	o.CurrentUsageCount = 0
	o.CreatedBy = actor
	o.CreatedAt = now
	o.UpdatedAt = now

	if err := s.store.Save(ctx, o); err != nil {
		return nil, fmt.Errorf("failed to save offer: %w", err)
	}

	s.logger.Info("offer created", "offer_id", o.ID, "title", o.Title)
	return o, nil
}

// Get returns an offer
func (s *Service) Get(ctx context.Context, id string) (*models.Offer, error) {
	return s.store.Get(ctx, id)
}

// Update replaces the editable fields of an offer. Usage count and audit fields are kept.
func (s *Service) Update(ctx context.Context, id string, in *models.Offer) (*models.Offer, error) {
	return s.store.Modify(ctx, id, func(o *models.Offer) error {
		o.Title = in.Title
		o.Description = in.Description
		o.Type = in.Type
		o.DiscountType = in.DiscountType
		o.DiscountPercentage = in.DiscountPercentage
		o.DiscountAmount = in.DiscountAmount
		o.ApplicableProducts = in.ApplicableProducts
		o.ValidFrom = in.ValidFrom
		o.ValidUntil = in.ValidUntil
		o.MaxUsageCount = in.MaxUsageCount
		if o.MaxUsageCount == 0 {
			o.MaxUsageCount = models.UnlimitedUsage
		}
		o.TargetAudience = in.TargetAudience
		o.IsActive = in.IsActive
		o.UpdatedAt = s.now()
		return o.Validate()
	})
}

// Delete removes an offer
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// List returns offers matching the filter and the total match count
func (s *Service) List(ctx context.Context, filter models.OfferListFilter) ([]*models.Offer, int, error) {
	all, err := s.store.All(ctx)
	if err != nil {
		return nil, 0, err
	}

	now := s.now()
	q := strings.ToLower(filter.Search)
	matched := []*models.Offer{}
	for _, o := range all {
		if filter.Type != "" && o.Type != filter.Type {
			continue
		}
		if filter.ActiveOnly && !o.Available(now) {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(o.Title), q) &&
			!strings.Contains(strings.ToLower(o.Description), q) {
			continue
		}
		matched = append(matched, o)
	}

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*models.Offer{}, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

// Redeem records one use of an available offer
func (s *Service) Redeem(ctx context.Context, id string) (*models.Offer, error) {
	return s.store.Modify(ctx, id, func(o *models.Offer) error {
		if !o.Available(s.now()) {
			return &models.ValidationError{Field: "offer", Message: "offer is not available"}
		}
		o.CurrentUsageCount++
		o.UpdatedAt = s.now()
		return nil
	})
}
