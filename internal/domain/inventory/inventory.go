// Package inventory models stock levels per variant and the movements that
// shift units between the available, reserved and committed buckets.
package inventory

import (
	"context"
	"fmt"
	"sort"

	"github.com/xenking/picklepot-store/internal/apperr"
)

// DefaultLocation is the warehouse every variant is stocked in.
const DefaultLocation = "main_warehouse"

// Op is a ledger operation.
type Op string

// Ledger operations and the bucket moves they perform.
const (
	// OpReserve moves units from available to reserved at checkout.
	OpReserve Op = "reserve"
	// OpRelease moves reserved units back to available when a pending order
	// is cancelled.
	OpRelease Op = "release"
	// OpCommit moves reserved units to committed when an order is confirmed.
	OpCommit Op = "commit"
	// OpUncommit moves committed units back to available when a confirmed
	// order is cancelled before shipping.
	OpUncommit Op = "uncommit"
	// OpShip removes committed units when the order leaves the warehouse.
	OpShip Op = "ship"
	// OpReturn puts shipped units back into available stock.
	OpReturn Op = "return"
)

// Delta is the change an operation applies to each bucket per unit.
type Delta struct {
	Available int
	Reserved  int
	Committed int
}

var deltas = map[Op]Delta{
	OpReserve:  {Available: -1, Reserved: +1},
	OpRelease:  {Available: +1, Reserved: -1},
	OpCommit:   {Reserved: -1, Committed: +1},
	OpUncommit: {Available: +1, Committed: -1},
	OpShip:     {Committed: -1},
	OpReturn:   {Available: +1},
}

// DeltaFor returns the per-unit bucket change for op.
func DeltaFor(op Op) (Delta, bool) {
	d, ok := deltas[op]
	return d, ok
}

// Line is a quantity of a single variant.
type Line struct {
	VariantID string
	Quantity  int
}

// Level is the stock of a variant at a location.
type Level struct {
	VariantID string
	Location  string
	Available int
	Reserved  int
	Committed int
}

// Ledger applies operations to stock levels. All lines of one call succeed
// or none do; implementations must run inside the caller's transaction.
type Ledger interface {
	Apply(ctx context.Context, op Op, orderID string, lines []Line) error
}

// InsufficientStockError indicates a bucket cannot cover an operation.
type InsufficientStockError struct {
	VariantID string
	Op        Op
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock to %s %d of variant %s", e.Op, e.Requested, e.VariantID)
}

// Unwrap classifies a failed reservation as out of stock. Any other op
// failing means the ledger disagrees with the order, which is a conflict.
func (e *InsufficientStockError) Unwrap() error {
	if e.Op == OpReserve {
		return apperr.ErrOutOfStock
	}
	return apperr.ErrConcurrencyConflict
}

// Merge sums quantities per variant and orders lines by variant id, so that
// concurrent callers lock inventory rows in the same order.
func Merge(lines []Line) []Line {
	qty := make(map[string]int, len(lines))
	for _, l := range lines {
		qty[l.VariantID] += l.Quantity
	}
	out := make([]Line, 0, len(qty))
	for id, q := range qty {
		out = append(out, Line{VariantID: id, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out
}
