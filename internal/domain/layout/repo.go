package layout

import (
	"context"

	"wavepick/internal/core/id"
)

// Repository defines read access to floor geometry.
type Repository interface {
	GetFloor(ctx context.Context, floorID id.ID) (Floor, error)
	GetFloorLayout(ctx context.Context, floorID id.ID) (FloorLayout, error)

	GetLocation(ctx context.Context, locationID id.ID) (Location, error)
	GetLocations(ctx context.Context, locationIDs []id.ID) (map[id.ID]Location, error)

	// ListActivePickingAreas returns a warehouse's active areas ordered by
	// display order then code. The first entry is the wave orchestrator's
	// last-resort grouping fallback.
	ListActivePickingAreas(ctx context.Context, warehouseID id.ID) ([]PickingArea, error)
}
