package reservation

import (
	"context"
	"time"

	"wavepick/internal/core/id"
)

// Repository defines storage operations for lots, stock records and
// reservations. Mutations use compare-and-swap on the row version: UpdateLotIf
// and UpdateStockRecordIf apply the entity's new state only when the stored
// version still matches the version the entity was read at, and report a
// conflict otherwise. The engine owns the retry loop.
type Repository interface {
	// Lot access

	// ListAllocatableLots returns the active lots with available quantity for
	// the (warehouse, item) pair. Ordering is not guaranteed; the engine sorts
	// FEFO in memory because expiry comparison needs the business date.
	ListAllocatableLots(ctx context.Context, warehouseID, itemID id.ID) ([]Lot, error)

	GetLot(ctx context.Context, lotID id.ID) (Lot, error)

	// UpdateLotIf persists lot state if the stored version equals expectedVersion,
	// incrementing the version. Returns false on version conflict.
	UpdateLotIf(ctx context.Context, lot *Lot, expectedVersion int) (bool, error)

	// Stock record access

	GetStockRecord(ctx context.Context, stockRecordID id.ID) (StockRecord, error)

	// UpdateStockRecordIf is the CAS write for the aggregate mirror row.
	UpdateStockRecordIf(ctx context.Context, rec *StockRecord, expectedVersion int) (bool, error)

	// ListExpiredActiveLots returns active lots whose expiration date passed
	// before the given business date. Used by the expiry sweep.
	ListExpiredActiveLots(ctx context.Context, warehouseID id.ID, today time.Time) ([]Lot, error)

	// LastStockedLocation returns the most recent location this item was ever
	// stocked at in the warehouse, or NotFound. Wave grouping uses it when a
	// line allocated nothing.
	LastStockedLocation(ctx context.Context, warehouseID, itemID id.ID) (id.ID, error)

	// Reservations

	CreateReservations(ctx context.Context, reservations []Reservation) error

	// ListReservationsByKey returns reservations previously created under the
	// idempotency key for the demand source (duplicate-suppression check).
	ListReservationsByKey(ctx context.Context, key string, demandSourceID id.ID) ([]Reservation, error)

	ListReservationsByDemand(ctx context.Context, sourceType DemandSourceType, demandSourceID id.ID) ([]Reservation, error)

	DeleteReservations(ctx context.Context, reservationIDs []id.ID) error

	// Archival

	// ArchiveLot writes the history row for a depleted or expired lot.
	// Implementations compress the snapshot.
	ArchiveLot(ctx context.Context, archive LotArchive) error
}
