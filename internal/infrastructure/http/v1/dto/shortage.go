package dto

import (
	"wavepick/internal/core/types"
)

// CreateProxyShipmentRequest creates a proxy shipment allocation against a
// shortage. Qty is expressed in the original order's unit.
type CreateProxyShipmentRequest struct {
	FromWarehouseID string         `json:"fromWarehouseId" binding:"required"`
	Qty             types.Quantity `json:"qty" binding:"required"`
	Unit            string         `json:"unit" binding:"required"`
}

// UpdateProxyShipmentRequest changes a pending allocation's quantity.
type UpdateProxyShipmentRequest struct {
	Qty types.Quantity `json:"qty" binding:"required"`
}

// CompleteAllocationPickingRequest records the picked quantity for a proxy
// shipment allocation, in eaches.
type CompleteAllocationPickingRequest struct {
	PickedQtyEach types.Quantity `json:"pickedQtyEach"`
}
