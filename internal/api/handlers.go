// Package api exposes the factor, recalculation and history operations
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/factor-relay/internal/audit"
	"github.com/sells-group/factor-relay/internal/calc"
	"github.com/sells-group/factor-relay/internal/model"
	"github.com/sells-group/factor-relay/pkg/board"
)

// Service is the orchestration surface the handlers call.
type Service interface {
	GetFactor(ctx context.Context, itemID string) (*model.Factor, bool, error)
	UpdateFactor(ctx context.Context, itemID string, value float64, by model.TriggeredBy) (*model.FactorUpdate, error)
	CalculateAndUpdateResult(ctx context.Context, itemID string, by model.TriggeredBy) (*model.CalculationResult, error)
	History(ctx context.Context, itemID string, limit int) ([]model.HistoryEntry, error)
	Item(ctx context.Context, itemID string) (*model.RemoteItem, error)
	RecalculateBoard(ctx context.Context, by model.TriggeredBy) (*calc.BoardSummary, error)
}

// Handlers serves the /api routes.
type Handlers struct {
	svc Service
}

// NewHandlers creates Handlers over svc.
func NewHandlers(svc Service) *Handlers {
	return &Handlers{svc: svc}
}

type factorResponse struct {
	ItemID     string     `json:"item_id"`
	Factor     float64    `json:"factor"`
	Configured bool       `json:"configured"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

type updateFactorRequest struct {
	Factor      *float64 `json:"factor"`
	Recalculate bool     `json:"recalculate"`
}

type updateFactorResponse struct {
	Update      *model.FactorUpdate      `json:"update"`
	Calculation *model.CalculationResult `json:"calculation,omitempty"`
}

type historyResponse struct {
	ItemID  string               `json:"item_id"`
	Limit   int                  `json:"limit"`
	Entries []model.HistoryEntry `json:"entries"`
}

// GetFactor handles GET /api/items/{itemID}/factor.
func (h *Handlers) GetFactor(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")

	f, configured, err := h.svc.GetFactor(r.Context(), itemID)
	if err != nil {
		writeErr(w, err)
		return
	}
	resp := factorResponse{ItemID: itemID, Factor: f.Value, Configured: configured}
	if configured {
		resp.CreatedAt = &f.CreatedAt
		resp.UpdatedAt = &f.UpdatedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// PutFactor handles PUT /api/items/{itemID}/factor.
func (h *Handlers) PutFactor(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")

	var req updateFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Factor == nil {
		writeMessage(w, http.StatusBadRequest, "factor is required")
		return
	}

	upd, err := h.svc.UpdateFactor(r.Context(), itemID, *req.Factor, model.TriggeredByAPI)
	if err != nil {
		writeErr(w, err)
		return
	}

	resp := updateFactorResponse{Update: upd}
	if req.Recalculate {
		// The factor change stands on its own; a failed recalculation is
		// reported in the body only.
		res, err := h.svc.CalculateAndUpdateResult(r.Context(), itemID, model.TriggeredByAPI)
		if err != nil {
			zap.L().Warn("api: recalculation after factor update failed",
				zap.String("item_id", itemID), zap.Error(err))
		}
		resp.Calculation = res
	}
	writeJSON(w, http.StatusOK, resp)
}

// Recalculate handles POST /api/items/{itemID}/recalculate.
func (h *Handlers) Recalculate(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")

	res, err := h.svc.CalculateAndUpdateResult(r.Context(), itemID, model.TriggeredByAPI)
	if err != nil && res == nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, statusFor(err), res)
}

// History handles GET /api/items/{itemID}/history.
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")
	limit := audit.ClampLimit(r.URL.Query().Get("limit"))

	entries, err := h.svc.History(r.Context(), itemID, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{ItemID: itemID, Limit: limit, Entries: entries})
}

// Item handles GET /api/items/{itemID}.
func (h *Handlers) Item(w http.ResponseWriter, r *http.Request) {
	it, err := h.svc.Item(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// RecalculateBoard handles POST /api/board/recalculate.
func (h *Handlers) RecalculateBoard(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.RecalculateBoard(r.Context(), model.TriggeredByAPI)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// statusFor maps an operation error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, model.ErrInvalidFactor), errors.Is(err, audit.ErrInvalidLimit):
		return http.StatusBadRequest
	case errors.Is(err, calc.ErrNoFactorConfigured), errors.Is(err, board.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, calc.ErrInvalidOrMissingInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, calc.ErrRemoteReadFailed), errors.Is(err, calc.ErrRemoteWriteFailed),
		errors.Is(err, board.ErrUnreachable), errors.Is(err, board.ErrRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.Int("status", status), zap.Error(err))
	}
	writeMessage(w, status, err.Error())
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
