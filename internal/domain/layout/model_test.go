package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wavepick/internal/core/unit"
)

func TestNewCapabilitySetDefaultsToUnknown(t *testing.T) {
	set, err := NewCapabilitySet()
	require.NoError(t, err)
	assert.False(t, set.IsKnown())
	assert.True(t, set.Has(CapabilityUnknown))
}

func TestNewCapabilitySetRejectsUnknownCombined(t *testing.T) {
	_, err := NewCapabilitySet(CapabilityUnknown, CapabilityPiece)
	assert.Error(t, err)
}

func TestNewCapabilitySetRejectsInvalidValue(t *testing.T) {
	_, err := NewCapabilitySet(Capability("PALLET"))
	assert.Error(t, err)
}

func TestCapabilityFor(t *testing.T) {
	assert.Equal(t, CapabilityPiece, CapabilityFor(unit.Piece))
	assert.Equal(t, CapabilityCase, CapabilityFor(unit.Case))
	assert.Equal(t, CapabilityCarton, CapabilityFor(unit.Carton))
	assert.Equal(t, CapabilityUnknown, CapabilityFor(unit.QuantityType("BUNDLE")))
}

func TestLocationCanPick(t *testing.T) {
	pieceOnly, err := NewCapabilitySet(CapabilityPiece)
	require.NoError(t, err)
	unconfigured, err := NewCapabilitySet()
	require.NoError(t, err)

	loc := Location{Capabilities: pieceOnly}
	assert.True(t, loc.CanPick(unit.Piece))
	assert.False(t, loc.CanPick(unit.Case))

	loc.Capabilities = unconfigured
	assert.True(t, loc.CanPick(unit.Case))

	loc.Capabilities = nil
	assert.True(t, loc.CanPick(unit.Carton))
}
