package state

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var eventsBucket = []byte("events")

type Status string

const (
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// EventRecord is the durable trace of one handled source file. It backs the
// short-window duplicate-notification suppression and survives restarts so
// operators can inspect what happened to a given path.
type EventRecord struct {
	Path      string    `json:"path"`
	Status    Status    `json:"status"`
	Dest      string    `json:"dest,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("state db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir state dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(eventsBucket)
		return e
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func key(path string) []byte {
	h := sha256.Sum256([]byte(path))
	return h[:]
}

// Get returns the record for path, or nil if the path has never been seen.
func (s *Store) Get(path string) (*EventRecord, error) {
	var out *EventRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(eventsBucket).Get(key(path))
		if v == nil {
			return nil
		}
		var rec EventRecord
		if e := json.Unmarshal(v, &rec); e != nil {
			return e
		}
		out = &rec
		return nil
	})
	return out, err
}

// Mark upserts the record for path with the given status.
func (s *Store) Mark(path string, status Status, dest, lastErr string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(eventsBucket)
		k := key(path)
		rec := EventRecord{Path: path}
		if v := bkt.Get(k); v != nil {
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
		}
		now := time.Now()
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.Status = status
		rec.Dest = dest
		rec.LastError = lastErr
		rec.UpdatedAt = now
		b, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		return bkt.Put(k, b)
	})
}
