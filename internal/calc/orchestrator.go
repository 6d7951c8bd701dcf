// Package calc keeps the stored factor, the board input, the board result
// and the history trail consistent for one item at a time.
package calc

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/factor-relay/internal/audit"
	"github.com/sells-group/factor-relay/internal/model"
	"github.com/sells-group/factor-relay/internal/store"
	"github.com/sells-group/factor-relay/pkg/board"
)

// Failure kinds reported by CalculateAndUpdateResult and UpdateFactor.
var (
	ErrNoFactorConfigured    = eris.New("no factor configured for item")
	ErrInvalidOrMissingInput = eris.New("input value is missing or not numeric")
	ErrRemoteReadFailed      = eris.New("failed to read from board")
	ErrRemoteWriteFailed     = eris.New("failed to write result to board")
	ErrStore                 = eris.New("factor store failure")
)

// Stage names recorded in failure metadata.
const (
	stageFactor = "load_factor"
	stageRead   = "read_input"
	stageParse  = "parse_input"
	stageWrite  = "write_result"
)

const defaultConcurrency = 4

// Columns identifies the board and the two columns the relay operates on.
type Columns struct {
	BoardID        string
	InputColumnID  string
	ResultColumnID string
}

// BoardSummary reports the outcome of a board-wide recalculation.
type BoardSummary struct {
	Total     int                       `json:"total"`
	Succeeded int                       `json:"succeeded"`
	Failed    int                       `json:"failed"`
	Skipped   int                       `json:"skipped"`
	Results   []model.CalculationResult `json:"results"`
}

// Orchestrator runs recalculations and factor updates. It holds no state of
// its own; two calls for the same item may interleave and the last board
// write wins.
type Orchestrator struct {
	factors     store.FactorStore
	audit       *audit.Log
	board       board.Client
	cols        Columns
	concurrency int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency bounds the number of items RecalculateBoard processes at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// New creates an Orchestrator.
func New(factors store.FactorStore, log *audit.Log, client board.Client, cols Columns, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		factors:     factors,
		audit:       log,
		board:       client,
		cols:        cols,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CalculateAndUpdateResult reads the item's factor and board input, writes
// input * factor to the result column and records exactly one recalculation
// entry. On failure the returned result has Success=false and the error
// wraps one of the package sentinels.
func (o *Orchestrator) CalculateAndUpdateResult(ctx context.Context, itemID string, by model.TriggeredBy) (*model.CalculationResult, error) {
	res := &model.CalculationResult{ItemID: itemID}

	f, err := o.factors.GetFactor(ctx, itemID)
	if err != nil {
		return o.fail(ctx, res, by, stageFactor, withKind(ErrStore, err, "load factor for %s", itemID))
	}
	if f == nil {
		return o.fail(ctx, res, by, stageFactor, eris.Wrapf(ErrNoFactorConfigured, "item %s", itemID))
	}
	res.Factor = f.Value

	text, ok, err := o.board.FetchColumnValue(ctx, itemID, o.cols.InputColumnID)
	if err != nil {
		return o.fail(ctx, res, by, stageRead, withKind(ErrRemoteReadFailed, err, "item %s column %s", itemID, o.cols.InputColumnID))
	}
	if !ok {
		return o.fail(ctx, res, by, stageRead, eris.Wrapf(ErrInvalidOrMissingInput, "item %s column %s is empty", itemID, o.cols.InputColumnID))
	}
	input, err := parseInput(text)
	if err != nil {
		return o.fail(ctx, res, by, stageParse, eris.Wrapf(ErrInvalidOrMissingInput, "item %s: %q", itemID, text))
	}
	res.InputValue = input

	result := input * f.Value
	res.ResultValue = result

	written, err := o.board.WriteColumnValue(ctx, itemID, o.cols.ResultColumnID, formatNumber(result), o.cols.BoardID)
	switch {
	case err != nil:
		return o.fail(ctx, res, by, stageWrite, withKind(ErrRemoteWriteFailed, err, "item %s", itemID))
	case !written:
		return o.fail(ctx, res, by, stageWrite, eris.Wrapf(ErrRemoteWriteFailed, "item %s: write not acknowledged", itemID))
	}

	res.Success = true
	o.audit.Record(ctx, model.HistoryEntry{
		ItemID:      itemID,
		Action:      model.ActionRecalculation,
		NewValue:    result,
		InputValue:  model.Float(input),
		ResultValue: model.Float(result),
		TriggeredBy: by,
		Metadata: model.Metadata{
			"factor":      f.Value,
			"calculation": formatNumber(input) + " * " + formatNumber(f.Value) + " = " + formatNumber(result),
		},
	})

	zap.L().Info("recalculation complete",
		zap.String("item_id", itemID),
		zap.String("triggered_by", string(by)),
		zap.Float64("input", input),
		zap.Float64("factor", f.Value),
		zap.Float64("result", result),
	)
	return res, nil
}

// fail records the failed attempt and returns the result with its error.
func (o *Orchestrator) fail(ctx context.Context, res *model.CalculationResult, by model.TriggeredBy, stage string, err error) (*model.CalculationResult, error) {
	res.Success = false
	res.Error = err.Error()

	meta := model.Metadata{
		"error": res.Error,
		"stage": stage,
	}
	e := model.HistoryEntry{
		ItemID:      res.ItemID,
		Action:      model.ActionRecalculation,
		NewValue:    0,
		TriggeredBy: by,
		Metadata:    meta,
	}
	if stage == stageParse || stage == stageWrite {
		meta["factor"] = res.Factor
	}
	if stage == stageWrite {
		e.InputValue = model.Float(res.InputValue)
	}
	o.audit.Record(ctx, e)

	zap.L().Warn("recalculation failed",
		zap.String("item_id", res.ItemID),
		zap.String("triggered_by", string(by)),
		zap.String("stage", stage),
		zap.Error(err),
	)
	return res, err
}

// UpdateFactor validates and stores a new factor, then appends a
// factor_updated entry. Invalid values are rejected with no write and no
// entry. When the store write fails the entry is still appended, flagged
// persisted=false, and the call returns Success=false with ErrStore.
func (o *Orchestrator) UpdateFactor(ctx context.Context, itemID string, value float64, by model.TriggeredBy) (*model.FactorUpdate, error) {
	if err := model.ValidateFactor(value); err != nil {
		return nil, err
	}

	old, _, storeErr := o.factors.SetFactor(ctx, itemID, value)

	meta := model.Metadata{"persisted": storeErr == nil}
	if storeErr != nil {
		meta["error"] = storeErr.Error()
	}
	o.audit.Record(ctx, model.HistoryEntry{
		ItemID:      itemID,
		Action:      model.ActionFactorUpdated,
		OldValue:    old,
		NewValue:    value,
		TriggeredBy: by,
		Metadata:    meta,
	})

	upd := &model.FactorUpdate{ItemID: itemID, OldFactor: old, NewFactor: value, Success: storeErr == nil}
	if storeErr != nil {
		zap.L().Error("factor update failed",
			zap.String("item_id", itemID),
			zap.Float64("factor", value),
			zap.Error(storeErr),
		)
		return upd, withKind(ErrStore, storeErr, "set factor for %s", itemID)
	}

	zap.L().Info("factor updated",
		zap.String("item_id", itemID),
		zap.Float64("factor", value),
		zap.String("triggered_by", string(by)),
	)
	return upd, nil
}

// GetFactor returns the stored factor. Items without one report
// DefaultFactor and configured=false.
func (o *Orchestrator) GetFactor(ctx context.Context, itemID string) (f *model.Factor, configured bool, err error) {
	f, err = o.factors.GetFactor(ctx, itemID)
	if err != nil {
		return nil, false, withKind(ErrStore, err, "load factor for %s", itemID)
	}
	if f == nil {
		return &model.Factor{ItemID: itemID, Value: model.DefaultFactor}, false, nil
	}
	return f, true, nil
}

// History returns the newest entries for the item.
func (o *Orchestrator) History(ctx context.Context, itemID string, limit int) ([]model.HistoryEntry, error) {
	return o.audit.Query(ctx, itemID, limit)
}

// Item fetches a live snapshot of the item from the configured board.
func (o *Orchestrator) Item(ctx context.Context, itemID string) (*model.RemoteItem, error) {
	it, err := o.board.FetchItem(ctx, itemID, o.cols.BoardID)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch item %s", itemID)
	}
	return it, nil
}

// RecalculateBoard recalculates every board item that has a stored factor.
// Items without a factor are skipped. Per-item failures are counted and
// recorded but never abort the sweep.
func (o *Orchestrator) RecalculateBoard(ctx context.Context, by model.TriggeredBy) (*BoardSummary, error) {
	items, err := o.board.FetchBoardItems(ctx, o.cols.BoardID)
	if err != nil {
		return nil, withKind(ErrRemoteReadFailed, err, "board %s", o.cols.BoardID)
	}
	factors, err := o.factors.ListFactors(ctx)
	if err != nil {
		return nil, withKind(ErrStore, err, "list factors")
	}
	configured := make(map[string]struct{}, len(factors))
	for _, f := range factors {
		configured[f.ItemID] = struct{}{}
	}

	summary := &BoardSummary{Total: len(items)}
	var targets []string
	for _, it := range items {
		if _, ok := configured[it.ID]; !ok {
			summary.Skipped++
			continue
		}
		targets = append(targets, it.ID)
	}

	zap.L().Info("recalculating board",
		zap.String("board_id", o.cols.BoardID),
		zap.Int("items", len(items)),
		zap.Int("configured", len(targets)),
		zap.Int("concurrency", o.concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	var succeeded, failed atomic.Int64
	results := make([]model.CalculationResult, len(targets))

	for i, itemID := range targets {
		g.Go(func() error {
			res, err := o.CalculateAndUpdateResult(gctx, itemID, by)
			results[i] = *res
			if err != nil {
				failed.Add(1)
				return nil // one item never aborts the sweep
			}
			succeeded.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "board recalculation")
	}

	summary.Succeeded = int(succeeded.Load())
	summary.Failed = int(failed.Load())
	summary.Results = results

	zap.L().Info("board recalculation complete",
		zap.String("board_id", o.cols.BoardID),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

// parseInput accepts the board's text rendering of a numeric column.
func parseInput(text string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("not a finite number")
	}
	return v, nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
