// Package reservation provides lot-based stock reservation with FEFO/FIFO
// ordering and optimistic concurrency.
package reservation

import (
	"sort"
	"time"

	"wavepick/internal/core/apperror"
	"wavepick/internal/core/id"
	"wavepick/internal/core/types"
)

// LotStatus is the lifecycle of a stock lot.
type LotStatus string

const (
	LotActive   LotStatus = "ACTIVE"
	LotDepleted LotStatus = "DEPLETED"
	LotExpired  LotStatus = "EXPIRED"
)

var lotTransitions = map[LotStatus][]LotStatus{
	LotActive: {LotDepleted, LotExpired},
}

// CanTransitionLot reports whether from -> to is a legal lot status change.
// Depleted and expired lots are terminal; they only leave via archival.
func CanTransitionLot(from, to LotStatus) bool {
	for _, next := range lotTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Lot is a batch of stock for one item at one location, created from a
// purchase receipt or migrated from a legacy stock snapshot.
type Lot struct {
	ID            id.ID          `db:"id" json:"id"`
	StockRecordID id.ID          `db:"stock_record_id" json:"stockRecordId"`
	WarehouseID   id.ID          `db:"warehouse_id" json:"warehouseId"`
	LocationID    id.ID          `db:"location_id" json:"locationId"`
	ItemID        id.ID          `db:"item_id" json:"itemId"`
	InitialQty    types.Quantity `db:"initial_quantity" json:"initialQuantity"`
	CurrentQty    types.Quantity `db:"current_quantity" json:"currentQuantity"`
	ReservedQty   types.Quantity `db:"reserved_quantity" json:"reservedQuantity"`
	ExpirationDate *time.Time    `db:"expiration_date" json:"expirationDate,omitempty"`
	ReceivedAt    time.Time      `db:"received_at" json:"receivedAt"`
	Status        LotStatus      `db:"status" json:"status"`
	Version       int            `db:"version" json:"version"`
}

// Available is the quantity not yet reserved. Never negative while the
// no-over-reservation invariant holds.
func (l *Lot) Available() types.Quantity {
	return l.CurrentQty - l.ReservedQty
}

// IsExpiredAt reports whether the lot's expiration date has passed.
func (l *Lot) IsExpiredAt(today time.Time) bool {
	return l.ExpirationDate != nil && l.ExpirationDate.Before(today)
}

// Reserve adds qty to the reserved counter, guarding the invariant
// reserved <= current.
func (l *Lot) Reserve(qty types.Quantity) error {
	if !qty.IsPositive() {
		return apperror.NewValidation("reserve quantity must be positive").
			WithDetail("lot_id", l.ID)
	}
	if l.ReservedQty+qty > l.CurrentQty {
		return apperror.NewInvariantViolation("reservation exceeds lot quantity").
			WithDetail("lot_id", l.ID).
			WithDetail("current", l.CurrentQty.String()).
			WithDetail("reserved", l.ReservedQty.String()).
			WithDetail("requested", qty.String())
	}
	l.ReservedQty += qty
	return nil
}

// ReleaseReserved removes qty from the reserved counter.
func (l *Lot) ReleaseReserved(qty types.Quantity) error {
	if qty.IsNegative() || qty > l.ReservedQty {
		return apperror.NewInvariantViolation("release exceeds reserved quantity").
			WithDetail("lot_id", l.ID).
			WithDetail("reserved", l.ReservedQty.String()).
			WithDetail("requested", qty.String())
	}
	l.ReservedQty -= qty
	return nil
}

// ConsumePicked burns qty from both current and reserved stock when a pick
// is committed. The lot transitions to DEPLETED when nothing remains.
func (l *Lot) ConsumePicked(qty types.Quantity) error {
	if qty.IsNegative() || qty > l.ReservedQty || qty > l.CurrentQty {
		return apperror.NewInvariantViolation("picked quantity exceeds reservation").
			WithDetail("lot_id", l.ID).
			WithDetail("current", l.CurrentQty.String()).
			WithDetail("reserved", l.ReservedQty.String()).
			WithDetail("picked", qty.String())
	}
	l.CurrentQty -= qty
	l.ReservedQty -= qty
	if l.CurrentQty.IsZero() && CanTransitionLot(l.Status, LotDepleted) {
		l.Status = LotDepleted
	}
	return nil
}

// SortLotsFEFO orders candidate lots for allocation: non-expired before
// expired, ascending expiration date with open-dated lots last, then ascending
// receipt time (FIFO fallback), then id for determinism.
func SortLotsFEFO(lots []Lot, today time.Time) {
	sort.SliceStable(lots, func(i, j int) bool {
		a, b := lots[i], lots[j]

		aExpired, bExpired := a.IsExpiredAt(today), b.IsExpiredAt(today)
		if aExpired != bExpired {
			return !aExpired
		}

		switch {
		case a.ExpirationDate != nil && b.ExpirationDate != nil:
			if !a.ExpirationDate.Equal(*b.ExpirationDate) {
				return a.ExpirationDate.Before(*b.ExpirationDate)
			}
		case a.ExpirationDate != nil:
			return true
		case b.ExpirationDate != nil:
			return false
		}

		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}

// StockRecord is the per (warehouse, location, item) aggregate. ReservedQty
// and PickingQty mirror the sums over the record's active lots and exist for
// fast filtering; the engine keeps them in step.
type StockRecord struct {
	ID          id.ID          `db:"id" json:"id"`
	WarehouseID id.ID          `db:"warehouse_id" json:"warehouseId"`
	LocationID  id.ID          `db:"location_id" json:"locationId"`
	ItemID      id.ID          `db:"item_id" json:"itemId"`
	CurrentQty  types.Quantity `db:"current_quantity" json:"currentQuantity"`
	ReservedQty types.Quantity `db:"reserved_quantity" json:"reservedQuantity"`
	PickingQty  types.Quantity `db:"picking_quantity" json:"pickingQuantity"`
	LockVersion int            `db:"lock_version" json:"lockVersion"`
}

// ApplyReserve adjusts the cached reserved mirror, guarding
// reserved <= current.
func (s *StockRecord) ApplyReserve(delta types.Quantity) error {
	next := s.ReservedQty + delta
	if next.IsNegative() || next > s.CurrentQty {
		return apperror.NewInvariantViolation("stock record reserved mirror out of range").
			WithDetail("stock_record_id", s.ID).
			WithDetail("current", s.CurrentQty.String()).
			WithDetail("reserved", s.ReservedQty.String()).
			WithDetail("delta", delta.String())
	}
	s.ReservedQty = next
	return nil
}

// ApplyPick burns picked stock out of the aggregate counters.
func (s *StockRecord) ApplyPick(qty types.Quantity) error {
	if qty.IsNegative() || qty > s.ReservedQty || qty > s.CurrentQty {
		return apperror.NewInvariantViolation("stock record pick out of range").
			WithDetail("stock_record_id", s.ID).
			WithDetail("picked", qty.String())
	}
	s.CurrentQty -= qty
	s.ReservedQty -= qty
	s.PickingQty += qty
	return nil
}

// DemandSourceType names what a reservation serves.
type DemandSourceType string

const (
	DemandOrderLine       DemandSourceType = "ORDER_LINE"
	DemandProxyAllocation DemandSourceType = "PROXY_ALLOCATION"
)

// Reservation links one lot to one demand source. Reservations are ephemeral:
// deleted on reset or cancel, restoring the lot and stock-record counters.
type Reservation struct {
	ID               id.ID            `db:"id" json:"id"`
	LotID            id.ID            `db:"lot_id" json:"lotId"`
	StockRecordID    id.ID            `db:"stock_record_id" json:"stockRecordId"`
	WarehouseID      id.ID            `db:"warehouse_id" json:"warehouseId"`
	LocationID       id.ID            `db:"location_id" json:"locationId"`
	ItemID           id.ID            `db:"item_id" json:"itemId"`
	DemandSourceID   id.ID            `db:"demand_source_id" json:"demandSourceId"`
	DemandSourceType DemandSourceType `db:"demand_source_type" json:"demandSourceType"`
	QtyEach          types.Quantity   `db:"qty_each" json:"qtyEach"`
	IdempotencyKey   string           `db:"idempotency_key" json:"idempotencyKey"`
	CreatedAt        time.Time        `db:"created_at" json:"createdAt"`
}

// ArchiveReason records why a lot left active service.
type ArchiveReason string

const (
	ArchiveDepleted ArchiveReason = "DEPLETED"
	ArchiveExpired  ArchiveReason = "EXPIRED"
)

// LotArchive is the history row written when a lot is depleted or expired.
// Snapshot carries the full lot state, zstd-compressed by the repository.
type LotArchive struct {
	ID          id.ID         `db:"id" json:"id"`
	LotID       id.ID         `db:"lot_id" json:"lotId"`
	WarehouseID id.ID         `db:"warehouse_id" json:"warehouseId"`
	ItemID      id.ID         `db:"item_id" json:"itemId"`
	Reason      ArchiveReason `db:"reason" json:"reason"`
	Snapshot    []byte        `db:"snapshot" json:"-"`
	ArchivedAt  time.Time     `db:"archived_at" json:"archivedAt"`
}
