package unit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wavepick/internal/core/types"
)

func TestNewCaseSizeSnap(t *testing.T) {
	_, err := NewCaseSizeSnap(0)
	require.Error(t, err)

	snap, err := NewCaseSizeSnap(1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.CaseSize)
}

func TestToEach(t *testing.T) {
	snap, err := NewCaseSizeSnap(24)
	require.NoError(t, err)

	tests := []struct {
		name string
		qty  int64
		unit QuantityType
		want int64
	}{
		{"pieces pass through", 50, Piece, 50},
		{"cases multiply", 3, Case, 72},
		{"carton maps to case multiplier", 2, Carton, 48},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := snap.ToEach(types.NewQuantityFromInt(tt.qty), tt.unit)
			require.NoError(t, err)
			assert.Equal(t, types.NewQuantityFromInt(tt.want), got)
		})
	}

	_, err = snap.ToEach(types.NewQuantityFromInt(1), QuantityType("PALLET"))
	require.Error(t, err)
}

func TestRoundTripInOriginalUnit(t *testing.T) {
	for _, caseSize := range []int64{1, 6, 24, 144} {
		snap, err := NewCaseSizeSnap(caseSize)
		require.NoError(t, err)

		for _, u := range []QuantityType{Piece, Case} {
			for _, qty := range []int64{1, 7, 50} {
				q := types.NewQuantityFromInt(qty)
				each, err := snap.ToEach(q, u)
				require.NoError(t, err)
				back, err := snap.InUnit(each, u)
				require.NoError(t, err)
				assert.Equal(t, q, back, "caseSize=%d unit=%s qty=%d", caseSize, u, qty)
			}
		}
	}
}

func TestFromEachSplitsCasesAndPieces(t *testing.T) {
	snap, err := NewCaseSizeSnap(24)
	require.NoError(t, err)

	split := snap.FromEach(types.NewQuantityFromInt(50))
	assert.Equal(t, types.NewQuantityFromInt(2), split.Cases)
	assert.Equal(t, types.NewQuantityFromInt(2), split.Pieces)

	// Case size 1 lands everything in Cases.
	one, err := NewCaseSizeSnap(1)
	require.NoError(t, err)
	split = one.FromEach(types.NewQuantityFromInt(5))
	assert.Equal(t, types.NewQuantityFromInt(5), split.Cases)
	assert.True(t, split.Pieces.IsZero())
}

func TestInUnitRejectsPartialCases(t *testing.T) {
	snap, err := NewCaseSizeSnap(24)
	require.NoError(t, err)

	_, err = snap.InUnit(types.NewQuantityFromInt(25), Case)
	require.Error(t, err)
}
