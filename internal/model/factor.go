package model

import (
	"math"
	"time"

	"github.com/rotisserie/eris"
)

// DefaultFactor is the multiplier reported for items that have no stored factor.
const DefaultFactor = 1.0

// ErrInvalidFactor is returned when a factor is negative or not a finite number.
var ErrInvalidFactor = eris.New("factor must be a finite number >= 0")

// Factor is the per-item multiplier applied to the board input value.
type Factor struct {
	ItemID    string    `json:"item_id"`
	Value     float64   `json:"factor"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidateFactor rejects negative, NaN and infinite factors.
func ValidateFactor(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return eris.Wrapf(ErrInvalidFactor, "got %v", v)
	}
	return nil
}

// FactorUpdate describes the outcome of a factor change. OldFactor is nil
// when the item had no stored factor. Callers must check Success before
// trusting the old/new pair.
type FactorUpdate struct {
	ItemID    string   `json:"item_id"`
	OldFactor *float64 `json:"old_factor"`
	NewFactor float64  `json:"new_factor"`
	Success   bool     `json:"success"`
}
