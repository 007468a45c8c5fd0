package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/picklepot-store/internal/apperr"
)

func TestMerge(t *testing.T) {
	got := Merge([]Line{
		{VariantID: "b", Quantity: 1},
		{VariantID: "a", Quantity: 2},
		{VariantID: "b", Quantity: 3},
	})
	assert.Equal(t, []Line{{VariantID: "a", Quantity: 2}, {VariantID: "b", Quantity: 4}}, got)
}

func TestDeltaConservesUnits(t *testing.T) {
	// Every op except ship and return only moves units between buckets.
	for _, op := range []Op{OpReserve, OpRelease, OpCommit, OpUncommit} {
		d, ok := DeltaFor(op)
		require.True(t, ok, op)
		assert.Zero(t, d.Available+d.Reserved+d.Committed, op)
	}
	_, ok := DeltaFor("teleport")
	assert.False(t, ok)
}

func TestInsufficientStockKind(t *testing.T) {
	err := error(&InsufficientStockError{VariantID: "v1", Op: OpReserve, Requested: 3})
	assert.ErrorIs(t, err, apperr.ErrOutOfStock)
	assert.Equal(t, "insufficient stock to reserve 3 of variant v1", err.Error())

	err = &InsufficientStockError{VariantID: "v1", Op: OpCommit, Requested: 3}
	assert.ErrorIs(t, err, apperr.ErrConcurrencyConflict)
}
