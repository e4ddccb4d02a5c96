package receipt

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "receipts"

// BoltRepository implements Repository using BoltDB
type BoltRepository struct {
	db *bbolt.DB
}

// NewBoltRepository opens (or creates) the database at path
func NewBoltRepository(path string) (*BoltRepository, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltRepository{db: db}, nil
}

// Create stores a new receipt; an existing id is an error
func (b *BoltRepository) Create(ctx context.Context, r *Receipt) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket.Get([]byte(r.ID)) != nil {
			return fmt.Errorf("receipt already exists: %s", r.ID)
		}
		return putReceipt(bucket, r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// GetByID retrieves a receipt by ID
func (b *BoltRepository) GetByID(ctx context.Context, id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &receipt)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// List returns all receipts, newest first
func (b *BoltRepository) List(ctx context.Context) ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(k, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			receipts = append(receipts, &receipt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(receipts, func(a, b *Receipt) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return receipts, nil
}

// Update replaces an existing receipt
func (b *BoltRepository) Update(ctx context.Context, r *Receipt) (*Receipt, error) {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket.Get([]byte(r.ID)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, r.ID)
		}
		return putReceipt(bucket, r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Delete removes a receipt from the database
func (b *BoltRepository) Delete(ctx context.Context, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return bucket.Delete([]byte(id))
	})
}

// Close closes the database connection
func (b *BoltRepository) Close() error {
	return b.db.Close()
}

func putReceipt(bucket *bbolt.Bucket, r *Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling receipt: %w", err)
	}
	return bucket.Put([]byte(r.ID), data)
}
