// Package webhook ingests board change notifications. It answers challenge
// handshakes, filters events down to changes of the configured input column
// and triggers a recalculation for each accepted event.
//
// Senders only ever see a failure status for bodies that are not a JSON
// object or carry no event envelope. Everything else, including ignored
// events and failed recalculations, is acknowledged with 200 so the sender
// does not retry conditions it cannot fix.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/factor-relay/internal/model"
)

// EventColumnValueChanged is the only event type that triggers a recalculation.
const EventColumnValueChanged = "update_column_value"

const maxBodyBytes = 1 << 20

// Recalculator runs one recalculation for an item.
type Recalculator interface {
	CalculateAndUpdateResult(ctx context.Context, itemID string, by model.TriggeredBy) (*model.CalculationResult, error)
}

// Recorder appends a best-effort history entry.
type Recorder interface {
	Record(ctx context.Context, e model.HistoryEntry) (model.HistoryEntry, bool)
}

// Handler serves the webhook endpoints.
type Handler struct {
	calc          Recalculator
	audit         Recorder
	inputColumnID string
}

// NewHandler creates a Handler. rec may be nil, in which case accepted
// events are not recorded as webhook_triggered entries.
func NewHandler(calc Recalculator, rec Recorder, inputColumnID string) *Handler {
	return &Handler{calc: calc, audit: rec, inputColumnID: inputColumnID}
}

type event struct {
	Type          string          `json:"type"`
	ColumnID      string          `json:"columnId"`
	PulseID       json.RawMessage `json:"pulseId"`
	BoardID       json.RawMessage `json:"boardId"`
	Value         json.RawMessage `json:"value"`
	PreviousValue json.RawMessage `json:"previousValue"`
}

// ServeEvent handles event delivery.
func (h *Handler) ServeEvent(w http.ResponseWriter, r *http.Request) {
	envelope, ok := h.decode(w, r)
	if !ok {
		return
	}

	rawEvent, present := envelope["event"]
	if !present || isNull(rawEvent) {
		writeError(w, http.StatusInternalServerError, "missing event")
		return
	}
	var ev event
	if err := json.Unmarshal(rawEvent, &ev); err != nil {
		writeError(w, http.StatusInternalServerError, "malformed event")
		return
	}

	h.handle(context.WithoutCancel(r.Context()), &ev)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ServeVerify handles the verification endpoint. It answers challenges the
// same way ServeEvent does and acknowledges anything else without side
// effects.
func (h *Handler) ServeVerify(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.decode(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// decode reads the body as a JSON object and answers the challenge
// handshake. It reports false when the response has already been written.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (map[string]json.RawMessage, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		zap.L().Warn("webhook: read body failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unreadable body")
		return nil, false
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil || envelope == nil {
		zap.L().Warn("webhook: invalid payload", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "invalid JSON body")
		return nil, false
	}

	if challenge, ok := envelope["challenge"]; ok && !isNull(challenge) {
		zap.L().Info("webhook: challenge received")
		writeJSON(w, http.StatusOK, map[string]json.RawMessage{"challenge": challenge})
		return nil, false
	}
	return envelope, true
}

// handle applies the event filter and runs the recalculation for accepted
// events. Every outcome is logged only.
func (h *Handler) handle(ctx context.Context, ev *event) {
	log := zap.L().With(
		zap.String("event_type", ev.Type),
		zap.String("column_id", ev.ColumnID),
	)

	if ev.Type != EventColumnValueChanged || ev.ColumnID != h.inputColumnID {
		log.Debug("webhook: event ignored")
		return
	}

	itemID, ok := decodeID(ev.PulseID)
	if !ok {
		log.Warn("webhook: event has no usable pulseId, dropped", zap.ByteString("pulse_id", ev.PulseID))
		return
	}
	log = log.With(zap.String("item_id", itemID))

	value, err := parseValue(ev.Value)
	if err != nil {
		log.Warn("webhook: unparsable value, dropped", zap.ByteString("value", ev.Value), zap.Error(err))
		return
	}

	if h.audit != nil {
		meta := model.Metadata{"column_id": ev.ColumnID, "event_type": ev.Type}
		if boardID, ok := decodeID(ev.BoardID); ok {
			meta["board_id"] = boardID
		}
		entry := model.HistoryEntry{
			ItemID:      itemID,
			Action:      model.ActionWebhookTriggered,
			NewValue:    value,
			TriggeredBy: model.TriggeredByWebhook,
			Metadata:    meta,
		}
		if prev, err := parseValue(ev.PreviousValue); err == nil {
			entry.OldValue = model.Float(prev)
		}
		h.audit.Record(ctx, entry)
	}

	res, err := h.calc.CalculateAndUpdateResult(ctx, itemID, model.TriggeredByWebhook)
	if err != nil {
		log.Warn("webhook: recalculation failed", zap.Error(err))
		return
	}
	log.Info("webhook: recalculation complete",
		zap.Float64("input", res.InputValue),
		zap.Float64("result", res.ResultValue),
	)
}

// parseValue extracts value.value from a column value payload. The inner
// value may be a JSON number or a numeric string.
func parseValue(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || isNull(raw) {
		return 0, eris.New("value is missing")
	}
	var wrapper struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return 0, eris.Wrap(err, "value is not an object")
	}
	if len(wrapper.Value) == 0 || isNull(wrapper.Value) {
		return 0, eris.New("value.value is missing")
	}

	var text string
	if wrapper.Value[0] == '"' {
		if err := json.Unmarshal(wrapper.Value, &text); err != nil {
			return 0, eris.Wrap(err, "value.value")
		}
	} else {
		text = string(wrapper.Value)
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, eris.Wrapf(err, "value.value %q", text)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, eris.Errorf("value.value %q is not finite", text)
	}
	return v, nil
}

// decodeID accepts an id sent either as a JSON number or a string.
func decodeID(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || isNull(raw) {
		return "", false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", false
	}
	return n.String(), true
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
