package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/courier/internal/keylock"
)

var bucketLedger = []byte("reminder_ledger")

// Outcomes recorded besides per-channel summaries
const (
	OutcomePending    = "pending"
	OutcomeNoChannels = "no_channels"
)

// Entry records that a tier was sent for an invoice
type Entry struct {
	InvoiceID   string     `json:"invoiceId"`
	Tier        string     `json:"tier"`
	Days        int        `json:"days"`
	Outcome     string     `json:"outcome"`
	Sent        int        `json:"sent"`
	Failed      int        `json:"failed"`
	ReservedAt  time.Time  `json:"reservedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Ledger is the append-only record of sent reminder tiers. Each invoice
// has its own nested bucket keyed by tier name.
type Ledger struct {
	db    *bolt.DB
	locks *keylock.Locker
}

// NewLedger creates a ledger using the provided BoltDB instance
func NewLedger(db *bolt.DB) (*Ledger, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLedger)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger bucket: %w", err)
	}

	return &Ledger{db: db, locks: keylock.New()}, nil
}

// Lock serializes work on one invoice's entries
func (l *Ledger) Lock(invoiceID string) func() {
	return l.locks.Lock(invoiceID)
}

// Reserve writes a pending entry for (invoiceID, tier). It reports false
// when an entry already exists.
func (l *Ledger) Reserve(ctx context.Context, invoiceID string, tier Tier, now time.Time) (bool, error) {
	reserved := false

	err := l.db.Update(func(tx *bolt.Tx) error {
		inv, err := tx.Bucket(bucketLedger).CreateBucketIfNotExists([]byte(invoiceID))
		if err != nil {
			return err
		}
		if inv.Get([]byte(tier.Name)) != nil {
			return nil
		}

		data, err := json.Marshal(&Entry{
			InvoiceID:  invoiceID,
			Tier:       tier.Name,
			Days:       tier.Days,
			Outcome:    OutcomePending,
			ReservedAt: now,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		if err := inv.Put([]byte(tier.Name), data); err != nil {
			return err
		}
		reserved = true
		return nil
	})

	return reserved, err
}

// Complete records the outcome of a reserved tier
func (l *Ledger) Complete(ctx context.Context, invoiceID, tier, outcome string, sent, failed int, now time.Time) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		inv, err := tx.Bucket(bucketLedger).CreateBucketIfNotExists([]byte(invoiceID))
		if err != nil {
			return err
		}

		entry := Entry{InvoiceID: invoiceID, Tier: tier, ReservedAt: now}
		if data := inv.Get([]byte(tier)); data != nil {
			if err := json.Unmarshal(data, &entry); err != nil {
				return fmt.Errorf("failed to unmarshal entry: %w", err)
			}
		}
		entry.Outcome = outcome
		entry.Sent = sent
		entry.Failed = failed
		entry.CompletedAt = &now

		data, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		return inv.Put([]byte(tier), data)
	})
}

// Get returns the entries of one invoice ordered by reservation time
func (l *Ledger) Get(ctx context.Context, invoiceID string) ([]*Entry, error) {
	var entries []*Entry

	err := l.db.View(func(tx *bolt.Tx) error {
		inv := tx.Bucket(bucketLedger).Bucket([]byte(invoiceID))
		if inv == nil {
			return nil
		}
		return inv.ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return nil
			}
			entries = append(entries, &e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sortEntries(entries)
	return entries, nil
}

// Has reports whether an entry exists for (invoiceID, tier)
func (l *Ledger) Has(ctx context.Context, invoiceID, tier string) (bool, error) {
	found := false
	err := l.db.View(func(tx *bolt.Tx) error {
		inv := tx.Bucket(bucketLedger).Bucket([]byte(invoiceID))
		found = inv != nil && inv.Get([]byte(tier)) != nil
		return nil
	})
	return found, err
}

// List returns every entry ordered by invoice, then reservation time
func (l *Ledger) List(ctx context.Context) ([]*Entry, error) {
	var entries []*Entry

	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLedger).ForEachBucket(func(k []byte) error {
			var inv []*Entry
			err := tx.Bucket(bucketLedger).Bucket(k).ForEach(func(_, v []byte) error {
				var e Entry
				if err := json.Unmarshal(v, &e); err != nil {
					return nil
				}
				inv = append(inv, &e)
				return nil
			})
			sortEntries(inv)
			entries = append(entries, inv...)
			return err
		})
	})

	return entries, err
}

// Clear removes the entries of one invoice and returns how many were removed
func (l *Ledger) Clear(ctx context.Context, invoiceID string) (int, error) {
	unlock := l.Lock(invoiceID)
	defer unlock()

	count := 0
	err := l.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketLedger)
		inv := root.Bucket([]byte(invoiceID))
		if inv == nil {
			return nil
		}
		count = countKeys(inv)
		return root.DeleteBucket([]byte(invoiceID))
	})

	return count, err
}

// ClearAll removes every entry and returns how many were removed
func (l *Ledger) ClearAll(ctx context.Context) (int, error) {
	count := 0
	err := l.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketLedger)
		var names [][]byte
		err := root.ForEachBucket(func(k []byte) error {
			count += countKeys(root.Bucket(k))
			names = append(names, append([]byte(nil), k...))
			return nil
		})
		if err != nil {
			return err
		}
		for _, name := range names {
			if err := root.DeleteBucket(name); err != nil {
				return err
			}
		}
		return nil
	})

	return count, err
}

// CountByTier returns the number of entries per tier
func (l *Ledger) CountByTier(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)

	err := l.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketLedger)
		return root.ForEachBucket(func(k []byte) error {
			return root.Bucket(k).ForEach(func(tier, _ []byte) error {
				counts[string(tier)]++
				return nil
			})
		})
	})

	return counts, err
}

func countKeys(b *bolt.Bucket) int {
	n := 0
	_ = b.ForEach(func(_, _ []byte) error {
		n++
		return nil
	})
	return n
}

func sortEntries(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].ReservedAt.Equal(entries[j].ReservedAt) {
			return entries[i].Days < entries[j].Days
		}
		return entries[i].ReservedAt.Before(entries[j].ReservedAt)
	})
}
