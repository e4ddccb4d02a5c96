package receipt

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a receipt does not exist
var ErrNotFound = errors.New("receipt not found")

// Repository defines the interface for receipt persistence
type Repository interface {
	// Create stores a new receipt with its items
	Create(ctx context.Context, r *Receipt) (*Receipt, error)

	// GetByID retrieves a receipt by ID. Missing receipts return ErrNotFound.
	GetByID(ctx context.Context, id string) (*Receipt, error)

	// List returns all receipts
	List(ctx context.Context) ([]*Receipt, error)

	// Update replaces an existing receipt
	Update(ctx context.Context, r *Receipt) (*Receipt, error)

	// Delete removes a receipt
	Delete(ctx context.Context, id string) error

	// Close releases the underlying store
	Close() error
}
