package journey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var journeysBucket = []byte("journeys")

// BoltStore archives journeys in a single bbolt file, for deployments
// without PostgreSQL that still need the archive to survive restarts.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens or creates the archive file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open journey archive %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(journeysBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create journeys bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close releases the archive file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the archive file is still usable.
func (s *BoltStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(journeysBucket) == nil {
			return fmt.Errorf("journeys bucket missing")
		}
		return nil
	})
}

func (s *BoltStore) Save(ctx context.Context, j *Journey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to marshal journey: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(journeysBucket).Put(j.TxID[:], data)
	})
	if err != nil {
		return fmt.Errorf("failed to save journey: %w", err)
	}
	return nil
}

func (s *BoltStore) Get(ctx context.Context, txID uuid.UUID) (*Journey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var j *Journey
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(journeysBucket).Get(txID[:])
		if data == nil {
			return ErrNotFound
		}
		var err error
		j, err = decodeJourney(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (s *BoltStore) List(ctx context.Context, filter ListFilter) ([]*Journey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var all []*Journey
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(journeysBucket).ForEach(func(_, data []byte) error {
			j, err := decodeJourney(data)
			if err != nil {
				return err
			}
			all = append(all, j)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list journeys: %w", err)
	}
	return selectPage(all, filter), nil
}

// Report lets the store act as a journey reporter.
func (s *BoltStore) Report(ctx context.Context, j *Journey) error {
	return s.Save(ctx, j)
}

// decodeJourney copies out of bbolt-owned memory, which is only valid
// inside the transaction.
func decodeJourney(data []byte) (*Journey, error) {
	var j Journey
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("invalid archived journey: %w", err)
	}
	if j.History == nil {
		j.History = []Transition{}
	}
	return &j, nil
}
