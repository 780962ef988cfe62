// Package unit provides order-unit conversion against a per-item case-size
// snapshot. The snapshot is taken when an operation starts and never re-read
// mid-operation, so later edits to the case-size master data cannot change
// already-recorded history.
package unit

import (
	"fmt"

	"wavepick/internal/core/apperror"
	"wavepick/internal/core/types"
)

// QuantityType is the unit an order line is expressed in.
type QuantityType string

const (
	Piece  QuantityType = "PIECE"
	Case   QuantityType = "CASE"
	Carton QuantityType = "CARTON"
)

// Valid reports whether t is a known quantity type.
func (t QuantityType) Valid() bool {
	switch t {
	case Piece, Case, Carton:
		return true
	}
	return false
}

// CaseSizeSnap is the unit-conversion snapshot for one item: how many pieces
// one case holds at the time the operation started.
type CaseSizeSnap struct {
	CaseSize int64 `db:"case_size_snap" json:"caseSize"`
}

// NewCaseSizeSnap validates and wraps a case size.
func NewCaseSizeSnap(caseSize int64) (CaseSizeSnap, error) {
	if caseSize < 1 {
		return CaseSizeSnap{}, apperror.NewValidation("case size must be at least 1").
			WithDetail("case_size", caseSize)
	}
	return CaseSizeSnap{CaseSize: caseSize}, nil
}

// multiplier returns the piece count of one unit of the given type.
// CARTON currently maps to the CASE multiplier; this mirrors the legacy
// picking-stage behavior and is not a confirmed business rule.
func (s CaseSizeSnap) multiplier(t QuantityType) (int64, error) {
	switch t {
	case Piece:
		return 1, nil
	case Case, Carton:
		return s.CaseSize, nil
	}
	return 0, apperror.NewValidation(fmt.Sprintf("unknown quantity type %q", t))
}

// ToEach converts qty expressed in unit t to the item's smallest unit.
func (s CaseSizeSnap) ToEach(qty types.Quantity, t QuantityType) (types.Quantity, error) {
	m, err := s.multiplier(t)
	if err != nil {
		return 0, err
	}
	return types.Quantity(qty.Int64Scaled() * m), nil
}

// SplitEach is the inverse of ToEach: it decomposes an each quantity into full
// cases plus loose pieces. For items with case size 1 everything lands in Cases.
type SplitEach struct {
	Cases  types.Quantity `json:"cases"`
	Pieces types.Quantity `json:"pieces"`
}

// FromEach reconstructs case/piece counts from a smallest-unit quantity.
// Only whole cases split out; the remainder stays in Pieces.
func (s CaseSizeSnap) FromEach(each types.Quantity) SplitEach {
	scaled := each.Int64Scaled()
	caseScaled := s.CaseSize * types.QuantityScale
	return SplitEach{
		Cases:  types.Quantity((scaled / caseScaled) * types.QuantityScale),
		Pieces: types.Quantity(scaled % caseScaled),
	}
}

// InUnit converts an each quantity back into the given order unit. The each
// amount must be an exact multiple of the unit's piece count.
func (s CaseSizeSnap) InUnit(each types.Quantity, t QuantityType) (types.Quantity, error) {
	m, err := s.multiplier(t)
	if err != nil {
		return 0, err
	}
	scaled := each.Int64Scaled()
	if scaled%m != 0 {
		return 0, apperror.NewValidation("quantity is not a whole number of units").
			WithDetail("each", each.String()).
			WithDetail("unit", string(t))
	}
	return types.Quantity(scaled / m), nil
}
