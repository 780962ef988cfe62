// Package earnings provides the order-line source the fulfillment core feeds
// on. Upstream sales capture owns these rows; the core reads eligibility and
// flips the picking status.
package earnings

import (
	"time"

	"wavepick/internal/core/apperror"
	"wavepick/internal/core/id"
	"wavepick/internal/core/types"
	"wavepick/internal/core/unit"
)

// PickingStatus is the fulfillment-side lifecycle of an order line.
type PickingStatus string

const (
	StatusBeforePicking PickingStatus = "BEFORE_PICKING"
	StatusPicking       PickingStatus = "PICKING"
	StatusPicked        PickingStatus = "PICKED"
	StatusDelivered     PickingStatus = "DELIVERED"
)

// pickingTransitions is the legal transition table. Wave reset walks the
// PICKING->BEFORE_PICKING edge, which is why it appears here.
var pickingTransitions = map[PickingStatus][]PickingStatus{
	StatusBeforePicking: {StatusPicking},
	StatusPicking:       {StatusPicked, StatusBeforePicking},
	StatusPicked:        {StatusDelivered},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to PickingStatus) bool {
	for _, next := range pickingTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderLine is one sales order line as the core sees it.
type OrderLine struct {
	ID               id.ID             `db:"id" json:"id"`
	TradeID          id.ID             `db:"trade_id" json:"tradeId"`
	ItemID           id.ID             `db:"item_id" json:"itemId"`
	Quantity         types.Quantity    `db:"quantity" json:"quantity"`
	QuantityType     unit.QuantityType `db:"quantity_type" json:"quantityType"`
	DeliveryCourseID id.ID             `db:"delivery_course_id" json:"deliveryCourseId"`
	WarehouseID      id.ID             `db:"warehouse_id" json:"warehouseId"`
	DeliveredDate    time.Time         `db:"delivered_date" json:"deliveredDate"`
	PickingStatus    PickingStatus     `db:"picking_status" json:"pickingStatus"`
}

// Transition validates and applies a picking status change.
func (l *OrderLine) Transition(to PickingStatus) error {
	if !CanTransition(l.PickingStatus, to) {
		return apperror.NewInvariantViolation("illegal order line status transition").
			WithDetail("order_line_id", l.ID).
			WithDetail("from", string(l.PickingStatus)).
			WithDetail("to", string(to))
	}
	l.PickingStatus = to
	return nil
}
