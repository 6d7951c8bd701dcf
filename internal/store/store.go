package store

import (
	"context"

	"github.com/sells-group/factor-relay/internal/model"
)

// FactorStore persists the per-item multiplier.
type FactorStore interface {
	// GetFactor returns the stored factor or nil when the item has none.
	GetFactor(ctx context.Context, itemID string) (*model.Factor, error)
	// SetFactor creates or overwrites the item's factor and returns the
	// previous value (nil when absent) together with the stored row.
	SetFactor(ctx context.Context, itemID string, value float64) (old *float64, f *model.Factor, err error)
	// ListFactors returns every stored factor ordered by item id.
	ListFactors(ctx context.Context) ([]model.Factor, error)
}

// HistoryStore persists the append-only audit trail.
type HistoryStore interface {
	// AppendHistory inserts the entry. ID and CreatedAt must be set.
	AppendHistory(ctx context.Context, e *model.HistoryEntry) error
	// ListHistory returns up to limit entries for the item, newest first.
	ListHistory(ctx context.Context, itemID string, limit int) ([]model.HistoryEntry, error)
}

// Store defines the persistence interface for factors and their history.
type Store interface {
	FactorStore
	HistoryStore

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
