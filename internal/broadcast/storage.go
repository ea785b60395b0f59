package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/courier/internal/models"
)

var (
	bucketCampaigns  = []byte("campaigns")
	bucketDeliveries = []byte("deliveries")
)

// ErrNotFound is returned when a campaign does not exist
var ErrNotFound = errors.New("campaign not found")

// Storage persists campaigns and their delivery records in BoltDB
type Storage struct {
	db *bolt.DB
}

// NewStorage creates campaign storage using the provided BoltDB instance
func NewStorage(db *bolt.DB) (*Storage, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketCampaigns, bucketDeliveries} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Storage{db: db}, nil
}

func putCampaign(tx *bolt.Tx, c *models.Campaign) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal campaign: %w", err)
	}
	return tx.Bucket(bucketCampaigns).Put([]byte(c.ID), data)
}

func getCampaign(tx *bolt.Tx, id string) (*models.Campaign, error) {
	data := tx.Bucket(bucketCampaigns).Get([]byte(id))
	if data == nil {
		return nil, ErrNotFound
	}
	var c models.Campaign
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal campaign: %w", err)
	}
	return &c, nil
}

// Create stores a new campaign
func (s *Storage) Create(ctx context.Context, c *models.Campaign) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketCampaigns).Get([]byte(c.ID)) != nil {
			return fmt.Errorf("campaign %s already exists", c.ID)
		}
		return putCampaign(tx, c)
	})
}

// Get retrieves a campaign by ID
func (s *Storage) Get(ctx context.Context, id string) (*models.Campaign, error) {
	var c *models.Campaign
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		c, err = getCampaign(tx, id)
		return err
	})
	return c, err
}

// Modify loads a campaign, applies fn and stores the result in one
// transaction. Nothing is written when fn returns an error.
func (s *Storage) Modify(ctx context.Context, id string, fn func(c *models.Campaign) error) (*models.Campaign, error) {
	var c *models.Campaign
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		c, err = getCampaign(tx, id)
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
		return putCampaign(tx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Delete removes a campaign and its delivery records when allow accepts it
func (s *Storage) Delete(ctx context.Context, id string, allow func(c *models.Campaign) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		c, err := getCampaign(tx, id)
		if err != nil {
			return err
		}
		if allow != nil {
			if err := allow(c); err != nil {
				return err
			}
		}
		if err := tx.Bucket(bucketCampaigns).Delete([]byte(id)); err != nil {
			return err
		}
		deliveries := tx.Bucket(bucketDeliveries)
		if deliveries.Bucket([]byte(id)) != nil {
			return deliveries.DeleteBucket([]byte(id))
		}
		return nil
	})
}

// List returns campaigns matching the filter, newest first, and the total match count
func (s *Storage) List(ctx context.Context, filter models.CampaignListFilter) ([]*models.Campaign, int, error) {
	var all []*models.Campaign

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCampaigns).ForEach(func(k, v []byte) error {
			var c models.Campaign
			if err := json.Unmarshal(v, &c); err != nil {
				return nil
			}
			if filter.Matches(&c) {
				all = append(all, &c)
			}
			return nil
		})
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if filter.Offset > 0 {
		if filter.Offset >= len(all) {
			return []*models.Campaign{}, total, nil
		}
		all = all[filter.Offset:]
	}
	if filter.Limit > 0 && len(all) > filter.Limit {
		all = all[:filter.Limit]
	}

	return all, total, nil
}

// DueScheduled returns scheduled campaigns whose schedule is at or before now
func (s *Storage) DueScheduled(ctx context.Context, now time.Time) ([]*models.Campaign, error) {
	campaigns, _, err := s.List(ctx, models.CampaignListFilter{Status: models.StatusScheduled})
	if err != nil {
		return nil, err
	}

	var due []*models.Campaign
	for _, c := range campaigns {
		if c.Schedule == nil || !c.Schedule.After(now) {
			due = append(due, c)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return scheduleOf(due[i]).Before(scheduleOf(due[j]))
	})
	return due, nil
}

func scheduleOf(c *models.Campaign) time.Time {
	if c.Schedule == nil {
		return time.Time{}
	}
	return *c.Schedule
}

// CountByStatus returns the number of campaigns in each status
func (s *Storage) CountByStatus(ctx context.Context) (map[models.CampaignStatus]int, error) {
	counts := make(map[models.CampaignStatus]int)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCampaigns).ForEach(func(k, v []byte) error {
			var c struct {
				Status models.CampaignStatus `json:"status"`
			}
			if err := json.Unmarshal(v, &c); err != nil {
				return nil
			}
			counts[c.Status]++
			return nil
		})
	})

	return counts, err
}

// SaveDeliveries appends delivery records for a campaign
func (s *Storage) SaveDeliveries(ctx context.Context, campaignID string, deliveries []models.Delivery) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.Bucket(bucketDeliveries).CreateBucketIfNotExists([]byte(campaignID))
		if err != nil {
			return fmt.Errorf("failed to create deliveries bucket: %w", err)
		}

		for i := range deliveries {
			seq, err := bucket.NextSequence()
			if err != nil {
				return err
			}
			data, err := json.Marshal(&deliveries[i])
			if err != nil {
				return fmt.Errorf("failed to marshal delivery: %w", err)
			}
			if err := bucket.Put([]byte(fmt.Sprintf("%012d", seq)), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListDeliveries returns delivery records of a campaign in send order and the total match count
func (s *Storage) ListDeliveries(ctx context.Context, campaignID string, filter models.DeliveryListFilter) ([]*models.Delivery, int, error) {
	deliveries := []*models.Delivery{}
	total := 0

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketDeliveries).Bucket([]byte(campaignID))
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var d models.Delivery
			if err := json.Unmarshal(v, &d); err != nil {
				return nil
			}
			if !filter.Matches(&d) {
				return nil
			}
			total++
			if total <= filter.Offset {
				return nil
			}
			if filter.Limit > 0 && len(deliveries) >= filter.Limit {
				return nil
			}
			deliveries = append(deliveries, &d)
			return nil
		})
	})

	return deliveries, total, err
}
