package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Open opens the BoltDB file at path, creating its directory if needed.
// All stores of one process share the returned handle.
func Open(path string) (*bolt.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return db, nil
}

// Size returns the size of the database file in bytes
func Size(db *bolt.DB) int64 {
	var size int64
	_ = db.View(func(tx *bolt.Tx) error {
		size = tx.Size()
		return nil
	})
	return size
}

// IndexKey builds a key that sorts by time, then id
func IndexKey(t time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d_%s", t.UnixNano(), id))
}
