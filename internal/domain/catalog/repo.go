package catalog

import (
	"context"

	"wavepick/internal/core/id"
)

// Repository defines read access to master data.
type Repository interface {
	GetWarehouse(ctx context.Context, warehouseID id.ID) (Warehouse, error)
	GetDeliveryCourse(ctx context.Context, courseID id.ID) (DeliveryCourse, error)
	GetItem(ctx context.Context, itemID id.ID) (Item, error)

	// GetItems resolves many items in one round-trip (wave generation touches
	// every line of an order batch).
	GetItems(ctx context.Context, itemIDs []id.ID) (map[id.ID]Item, error)

	// ListActiveWarehouses returns all warehouses the expiry sweep covers.
	ListActiveWarehouses(ctx context.Context) ([]Warehouse, error)
}
