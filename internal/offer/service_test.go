package offer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/courier/internal/models"
)

func newTestService(t *testing.T, now time.Time) *Service {
	t.Helper()

	db, err := bolt.Open(filepath.Join(t.TempDir(), "test.db"), 0600, nil)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStorage(db)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}

	svc := NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.SetClock(func() time.Time { return now })
	return svc
}

func newOffer(title string, from time.Time) *models.Offer {
	pct := decimal.NewFromInt(15)
	return &models.Offer{
		Title:              title,
		Type:               "renewal",
		DiscountType:       models.DiscountPercentage,
		DiscountPercentage: &pct,
		ApplicableProducts: []string{"motor"},
		ValidFrom:          from,
		ValidUntil:         from.AddDate(0, 1, 0),
		IsActive:           true,
	}
}

func TestCreateAndGet(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	svc := newTestService(t, now)
	ctx := context.Background()

	o, err := svc.Create(ctx, newOffer("Motor renewal", now), "agent")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if o.ID == "" || o.MaxUsageCount != models.UnlimitedUsage || o.CreatedBy != "agent" {
		t.Errorf("unexpected offer %+v", o)
	}

	got, err := svc.Get(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Motor renewal" || !got.DiscountPercentage.Equal(decimal.NewFromInt(15)) {
		t.Errorf("stored offer differs: %+v", got)
	}
}

func TestCreateValidation(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	svc := newTestService(t, now)

	o := newOffer("Both discounts", now)
	amt := decimal.NewFromInt(500)
	o.DiscountAmount = &amt

	var ve *models.ValidationError
	if _, err := svc.Create(context.Background(), o, "agent"); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestUpdateKeepsUsage(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	svc := newTestService(t, now)
	ctx := context.Background()

	o, err := svc.Create(ctx, newOffer("Health top-up", now), "agent")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Redeem(ctx, o.ID); err != nil {
		t.Fatal(err)
	}

	in := newOffer("Health top-up plus", now)
	in.CurrentUsageCount = 99
	updated, err := svc.Update(ctx, o.ID, in)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Title != "Health top-up plus" || updated.CurrentUsageCount != 1 {
		t.Errorf("unexpected update %+v", updated)
	}

	bad := newOffer("Broken", now)
	bad.ValidUntil = now.Add(-time.Hour)
	var ve *models.ValidationError
	if _, err := svc.Update(ctx, o.ID, bad); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError, got %v", err)
	}

	if _, err := svc.Update(ctx, "missing", in); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListFilters(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	svc := newTestService(t, now)
	ctx := context.Background()

	if _, err := svc.Create(ctx, newOffer("Motor renewal", now.AddDate(0, 0, -1)), "agent"); err != nil {
		t.Fatal(err)
	}
	future := newOffer("Travel summer", now.AddDate(0, 0, 10))
	future.Type = "seasonal"
	if _, err := svc.Create(ctx, future, "agent"); err != nil {
		t.Fatal(err)
	}
	inactive := newOffer("Old motor deal", now.AddDate(0, 0, -1))
	inactive.IsActive = false
	if _, err := svc.Create(ctx, inactive, "agent"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		filter models.OfferListFilter
		want   int
	}{
		{"all", models.OfferListFilter{}, 3},
		{"active only", models.OfferListFilter{ActiveOnly: true}, 1},
		{"by type", models.OfferListFilter{Type: "seasonal"}, 1},
		{"search", models.OfferListFilter{Search: "MOTOR"}, 2},
		{"paged", models.OfferListFilter{Limit: 2}, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			offers, total, err := svc.List(ctx, tc.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(offers) != tc.want {
				t.Errorf("got %d offers, want %d", len(offers), tc.want)
			}
			if tc.filter.Limit == 0 && total != tc.want {
				t.Errorf("total = %d, want %d", total, tc.want)
			}
		})
	}
}

func TestRedeemRespectsCap(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	svc := newTestService(t, now)
	ctx := context.Background()

	o := newOffer("Limited", now)
	o.MaxUsageCount = 2
	created, err := svc.Create(ctx, o, "agent")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if _, err := svc.Redeem(ctx, created.ID); err != nil {
			t.Fatalf("redeem %d: %v", i, err)
		}
	}

	var ve *models.ValidationError
	if _, err := svc.Redeem(ctx, created.ID); !errors.As(err, &ve) {
		t.Errorf("redeem past cap: %v", err)
	}
}

func TestDelete(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	svc := newTestService(t, now)
	ctx := context.Background()

	o, err := svc.Create(ctx, newOffer("Gone soon", now), "agent")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, o.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, o.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
