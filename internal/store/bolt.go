package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/genricoloni/signage/internal/domain"
	bolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned when a key is not present
var ErrNotFound = errors.New("not found")

var (
	bucketSchedules = []byte("schedules")
	bucketMeta      = []byte("meta")
	keyFetchedAt    = []byte("schedules_fetched_at")
)

// BoltStore keeps the last schedule snapshot received from the server
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates the database at path
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketSchedules, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// SaveSchedules replaces the whole snapshot
func (s *BoltStore) SaveSchedules(entries []domain.ScheduleEntry, fetchedAt time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketSchedules) != nil {
			if err := tx.DeleteBucket(bucketSchedules); err != nil {
				return err
			}
		}
		b, err := tx.CreateBucket(bucketSchedules)
		if err != nil {
			return err
		}
		for i, e := range entries {
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			key := string(e.ID)
			if key == "" {
				key = fmt.Sprintf("#%d", i)
			}
			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
		}

		stamp, err := fetchedAt.UTC().MarshalText()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyFetchedAt, stamp)
	})
}

// GetSchedule looks up one entry by id
func (s *BoltStore) GetSchedule(id string) (*domain.ScheduleEntry, error) {
	var entry domain.ScheduleEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchedules)
		if b == nil {
			return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListSchedules returns the snapshot and when it was fetched. An empty store returns ErrNotFound.
func (s *BoltStore) ListSchedules() ([]domain.ScheduleEntry, time.Time, error) {
	var (
		entries   []domain.ScheduleEntry
		fetchedAt time.Time
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		stamp := tx.Bucket(bucketMeta).Get(keyFetchedAt)
		if stamp == nil {
			return fmt.Errorf("schedule snapshot: %w", ErrNotFound)
		}
		if err := fetchedAt.UnmarshalText(stamp); err != nil {
			return err
		}

		b := tx.Bucket(bucketSchedules)
		if b == nil {
			return nil
		}
		entries = make([]domain.ScheduleEntry, 0, b.Stats().KeyN)
		return b.ForEach(func(_, v []byte) error {
			var e domain.ScheduleEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	return entries, fetchedAt, nil
}

// Close releases the database file lock
func (s *BoltStore) Close() error {
	return s.db.Close()
}
