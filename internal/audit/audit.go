// Package audit records the best-effort history trail for factor changes
// and recalculations. A failed append is logged and never surfaces to the
// operation it describes.
package audit

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/factor-relay/internal/model"
	"github.com/sells-group/factor-relay/internal/store"
)

// Query bounds.
const (
	DefaultLimit = 50
	MinLimit     = 1
	MaxLimit     = 100
)

// ErrInvalidLimit is returned by Query when limit falls outside [MinLimit, MaxLimit].
var ErrInvalidLimit = eris.New("history limit must be between 1 and 100")

// Log appends to and reads from a HistoryStore.
type Log struct {
	store store.HistoryStore
	now   func() time.Time
}

// New creates a Log over the given history store.
func New(hs store.HistoryStore) *Log {
	return &Log{store: hs, now: func() time.Time { return time.Now().UTC() }}
}

// Record assigns an id and timestamp to the entry and appends it. Store
// failures are logged at error level and reported through the returned bool
// only; callers must not treat them as failures of their own operation.
func (l *Log) Record(ctx context.Context, e model.HistoryEntry) (model.HistoryEntry, bool) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now()
	}

	if err := l.store.AppendHistory(ctx, &e); err != nil {
		zap.L().Error("audit: append history failed",
			zap.String("item_id", e.ItemID),
			zap.String("action", string(e.Action)),
			zap.String("triggered_by", string(e.TriggeredBy)),
			zap.Error(err),
		)
		return e, false
	}
	return e, true
}

// Query returns up to limit entries for the item, newest first.
func (l *Log) Query(ctx context.Context, itemID string, limit int) ([]model.HistoryEntry, error) {
	if limit < MinLimit || limit > MaxLimit {
		return nil, eris.Wrapf(ErrInvalidLimit, "got %d", limit)
	}
	entries, err := l.store.ListHistory(ctx, itemID, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "audit: query history for %s", itemID)
	}
	if entries == nil {
		entries = []model.HistoryEntry{}
	}
	return entries, nil
}

// ClampLimit converts a raw query parameter into a valid limit. Empty or
// unparsable input yields DefaultLimit; numbers are clamped to the bounds.
func ClampLimit(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return DefaultLimit
	}
	return clamp(n)
}

func clamp(n int) int {
	switch {
	case n < MinLimit:
		return MinLimit
	case n > MaxLimit:
		return MaxLimit
	default:
		return n
	}
}
