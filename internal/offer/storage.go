package offer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/courier/internal/models"
)

var bucketOffers = []byte("offers")

// ErrNotFound is returned when an offer does not exist
var ErrNotFound = errors.New("offer not found")

// Storage persists offers in BoltDB
type Storage struct {
	db *bolt.DB
}

// NewStorage creates offer storage using the provided BoltDB instance
func NewStorage(db *bolt.DB) (*Storage, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketOffers)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create offers bucket: %w", err)
	}

	return &Storage{db: db}, nil
}

// Save creates or replaces an offer
func (s *Storage) Save(ctx context.Context, o *models.Offer) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("failed to marshal offer: %w", err)
		}
		return tx.Bucket(bucketOffers).Put([]byte(o.ID), data)
	})
}

// Get retrieves an offer by ID
func (s *Storage) Get(ctx context.Context, id string) (*models.Offer, error) {
	var o *models.Offer

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketOffers).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		o = &models.Offer{}
		return json.Unmarshal(data, o)
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Modify loads an offer, applies fn and stores the result in one transaction
func (s *Storage) Modify(ctx context.Context, id string, fn func(o *models.Offer) error) (*models.Offer, error) {
	var o models.Offer

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketOffers)
		data := bucket.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(data, &o); err != nil {
			return fmt.Errorf("failed to unmarshal offer: %w", err)
		}
		if err := fn(&o); err != nil {
			return err
		}
		data, err := json.Marshal(&o)
		if err != nil {
			return fmt.Errorf("failed to marshal offer: %w", err)
		}
		return bucket.Put([]byte(id), data)
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// Delete removes an offer
func (s *Storage) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketOffers)
		if bucket.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return bucket.Delete([]byte(id))
	})
}

// All returns every stored offer, newest first
func (s *Storage) All(ctx context.Context) ([]*models.Offer, error) {
	var offers []*models.Offer

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOffers).ForEach(func(k, v []byte) error {
			var o models.Offer
			if err := json.Unmarshal(v, &o); err != nil {
				return nil
			}
			offers = append(offers, &o)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(offers, func(i, j int) bool {
		if offers[i].CreatedAt.Equal(offers[j].CreatedAt) {
			return offers[i].ID < offers[j].ID
		}
		return offers[i].CreatedAt.After(offers[j].CreatedAt)
	})
	return offers, nil
}
