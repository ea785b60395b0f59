package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketSandbox = []byte("sandbox")

// Message represents a message captured in sandbox mode
type Message struct {
	ID           string            `json:"id"`
	Channel      string            `json:"channel"`
	To           string            `json:"to"`
	OriginalTo   string            `json:"original_to,omitempty"` // before redirect
	Name         string            `json:"name,omitempty"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body"`
	Tags         map[string]string `json:"tags,omitempty"`
	Mode         string            `json:"mode"` // sandbox, redirect
	CapturedAt   time.Time         `json:"captured_at"`
	SimulatedErr string            `json:"simulated_error,omitempty"`
}

// Storage provides sandbox message storage
type Storage struct {
	db *bolt.DB
}

// NewStorage creates a new sandbox storage using the provided BoltDB instance
func NewStorage(db *bolt.DB) (*Storage, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSandbox)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox bucket: %w", err)
	}

	return &Storage{db: db}, nil
}

// Save stores a message in the sandbox
func (s *Storage) Save(ctx context.Context, msg *Message) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSandbox)

		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		return bucket.Put(makeIndexKey(msg.CapturedAt, msg.ID), data)
	})
}

// Get retrieves a message by ID
func (s *Storage) Get(ctx context.Context, id string) (*Message, error) {
	var msg *Message

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSandbox).Cursor()

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var m Message
			if err := json.Unmarshal(v, &m); err != nil {
				continue
			}
			if m.ID == id {
				msg = &m
				return nil
			}
		}
		return nil
	})

	return msg, err
}

// ListFilter contains filters for listing messages
type ListFilter struct {
	Channel    string
	Mode       string
	CampaignID string
	Limit      int
	Offset     int
}

// List returns messages matching the filter, newest first
func (s *Storage) List(ctx context.Context, filter ListFilter) ([]*Message, error) {
	var messages []*Message

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSandbox).Cursor()

		skipped := 0
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var msg Message
			if err := json.Unmarshal(v, &msg); err != nil {
				continue
			}

			if filter.Channel != "" && msg.Channel != filter.Channel {
				continue
			}
			if filter.Mode != "" && msg.Mode != filter.Mode {
				continue
			}
			if filter.CampaignID != "" && msg.Tags["campaign_id"] != filter.CampaignID {
				continue
			}

			if skipped < filter.Offset {
				skipped++
				continue
			}

			messages = append(messages, &msg)

			if filter.Limit > 0 && len(messages) >= filter.Limit {
				break
			}
		}

		return nil
	})

	return messages, err
}

// Clear removes messages, optionally filtered by channel or age
func (s *Storage) Clear(ctx context.Context, channel string, olderThan time.Duration) (int, error) {
	var count int
	cutoff := time.Now().Add(-olderThan)

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSandbox)
		c := bucket.Cursor()

		var keysToDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var msg Message
			if err := json.Unmarshal(v, &msg); err != nil {
				continue
			}
			if channel != "" && msg.Channel != channel {
				continue
			}
			if olderThan > 0 && msg.CapturedAt.After(cutoff) {
				continue
			}
			keysToDelete = append(keysToDelete, k)
		}

		for _, k := range keysToDelete {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			count++
		}

		return nil
	})

	return count, err
}

// Stats contains sandbox statistics
type Stats struct {
	Total     int64            `json:"total"`
	ByChannel map[string]int64 `json:"by_channel"`
	ByMode    map[string]int64 `json:"by_mode"`
	OldestAt  time.Time        `json:"oldest_at,omitempty"`
	NewestAt  time.Time        `json:"newest_at,omitempty"`
}

// Stats returns sandbox statistics
func (s *Storage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByChannel: make(map[string]int64),
		ByMode:    make(map[string]int64),
	}

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSandbox).ForEach(func(k, v []byte) error {
			var msg Message
			if err := json.Unmarshal(v, &msg); err != nil {
				return nil
			}

			stats.Total++
			stats.ByChannel[msg.Channel]++
			stats.ByMode[msg.Mode]++

			if stats.OldestAt.IsZero() || msg.CapturedAt.Before(stats.OldestAt) {
				stats.OldestAt = msg.CapturedAt
			}
			if msg.CapturedAt.After(stats.NewestAt) {
				stats.NewestAt = msg.CapturedAt
			}
			return nil
		})
	})

	return stats, err
}

func makeIndexKey(t time.Time, id string) []byte {
	return []byte(t.UTC().Format(time.RFC3339Nano) + ":" + id)
}
