package earnings

import (
	"context"
	"time"

	"wavepick/internal/core/id"
)

// Repository defines the narrow contract the core holds on order lines.
type Repository interface {
	// ListEligible returns lines for the (warehouse, course, delivery date)
	// triple that are still in BEFORE_PICKING and not yet delivered.
	ListEligible(ctx context.Context, warehouseID, courseID id.ID, deliveredDate time.Time) ([]OrderLine, error)

	GetLine(ctx context.Context, lineID id.ID) (OrderLine, error)

	// UpdatePickingStatus flips the status of the given lines, guarded by the
	// expected current status so repeated reset calls are no-ops.
	UpdatePickingStatus(ctx context.Context, lineIDs []id.ID, from, to PickingStatus) (int64, error)
}
