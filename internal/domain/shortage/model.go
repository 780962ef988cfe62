// Package shortage manages unmet demand: detection at the allocation and
// picking stages, horizontal transfer ("proxy shipment") allocations across
// warehouses, and the confirmation/approval workflow that feeds back into
// picking results.
package shortage

import (
	"time"

	"wavepick/internal/core/apperror"
	"wavepick/internal/core/id"
	"wavepick/internal/core/types"
	"wavepick/internal/core/unit"
)

// Status is the reconciled shortage lifecycle. OPEN is the initial state;
// REALLOCATING means a proxy allocation exists but coverage has not been
// re-derived yet; SHORTAGE / PARTIAL_SHORTAGE / FULFILLED are derived from
// the sum of active allocations; CONFIRMED is set by operational
// confirmation.
type Status string

const (
	StatusOpen            Status = "OPEN"
	StatusReallocating    Status = "REALLOCATING"
	StatusShortage        Status = "SHORTAGE"
	StatusPartialShortage Status = "PARTIAL_SHORTAGE"
	StatusFulfilled       Status = "FULFILLED"
	StatusConfirmed       Status = "CONFIRMED"
)

var statusTransitions = map[Status][]Status{
	StatusOpen:            {StatusReallocating},
	StatusReallocating:    {StatusOpen, StatusShortage, StatusPartialShortage, StatusFulfilled, StatusReallocating, StatusConfirmed},
	StatusShortage:        {StatusOpen, StatusReallocating, StatusPartialShortage, StatusFulfilled, StatusConfirmed},
	StatusPartialShortage: {StatusOpen, StatusReallocating, StatusShortage, StatusFulfilled, StatusConfirmed},
	StatusFulfilled:       {StatusOpen, StatusReallocating, StatusShortage, StatusPartialShortage, StatusConfirmed},
	StatusConfirmed:       {StatusShortage, StatusPartialShortage, StatusFulfilled},
}

// CanTransition reports whether from -> to is a legal shortage status change.
func CanTransition(from, to Status) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Reason records which detector created the shortage.
type Reason string

const (
	ReasonNoStock      Reason = "NO_STOCK"
	ReasonPickingShort Reason = "PICKING_SHORT"
)

// Shortage is one unmet-demand record for an item result. The two detector
// stages accumulate onto the same record: AllocationShortageQty from the
// post-reservation deficit, PickingShortageQty from the post-picking deficit,
// ShortageQtyEach their sum.
type Shortage struct {
	ID               id.ID  `db:"id" json:"id"`
	WaveID           id.ID  `db:"wave_id" json:"waveId"`
	TaskID           id.ID  `db:"task_id" json:"taskId"`
	ItemResultID     id.ID  `db:"item_result_id" json:"itemResultId"`
	WarehouseID      id.ID  `db:"warehouse_id" json:"warehouseId"`
	ItemID           id.ID  `db:"item_id" json:"itemId"`
	TradeID          id.ID  `db:"trade_id" json:"tradeId"`
	ParentShortageID *id.ID `db:"parent_shortage_id" json:"parentShortageId,omitempty"`

	OrderQtyEach          types.Quantity `db:"order_qty_each" json:"orderQtyEach"`
	PlannedQtyEach        types.Quantity `db:"planned_qty_each" json:"plannedQtyEach"`
	PickedQtyEach         types.Quantity `db:"picked_qty_each" json:"pickedQtyEach"`
	ShortageQtyEach       types.Quantity `db:"shortage_qty_each" json:"shortageQtyEach"`
	AllocationShortageQty types.Quantity `db:"allocation_shortage_qty" json:"allocationShortageQty"`
	PickingShortageQty    types.Quantity `db:"picking_shortage_qty" json:"pickingShortageQty"`

	// QtyTypeAtOrder and CaseSize snapshot the line's unit conversion at
	// detection time. Proxy allocations must use the same unit.
	QtyTypeAtOrder unit.QuantityType `db:"qty_type_at_order" json:"qtyTypeAtOrder"`
	CaseSize       unit.CaseSizeSnap `db:"case_size_snap" json:"caseSize"`

	Status Status `db:"status" json:"status"`
	Reason Reason `db:"reason" json:"reason"`

	// IsConfirmed is the approval flag, distinct from StatusConfirmed which
	// records operational confirmation.
	IsConfirmed bool   `db:"is_confirmed" json:"isConfirmed"`
	ApprovedBy  string `db:"approved_by" json:"approvedBy,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Transition validates and applies a status change.
func (s *Shortage) Transition(to Status) error {
	if !CanTransition(s.Status, to) {
		return apperror.NewInvariantViolation("illegal shortage status transition").
			WithDetail("shortage_id", s.ID).
			WithDetail("from", string(s.Status)).
			WithDetail("to", string(to))
	}
	s.Status = to
	return nil
}

// DeriveStatus computes the coverage status from the active allocated
// quantity (in eaches). No active allocation reverts to OPEN; zero coverage
// is SHORTAGE; partial coverage PARTIAL_SHORTAGE; full coverage FULFILLED.
func (s *Shortage) DeriveStatus(activeAllocations int, activeAllocatedEach types.Quantity) Status {
	switch {
	case activeAllocations == 0:
		return StatusOpen
	case activeAllocatedEach.IsZero():
		return StatusShortage
	case activeAllocatedEach < s.ShortageQtyEach:
		return StatusPartialShortage
	default:
		return StatusFulfilled
	}
}

// AllocationStatus is the lifecycle of a proxy shipment allocation.
type AllocationStatus string

const (
	AllocationPending   AllocationStatus = "PENDING"
	AllocationReserved  AllocationStatus = "RESERVED"
	AllocationPicking   AllocationStatus = "PICKING"
	AllocationFulfilled AllocationStatus = "FULFILLED"
	AllocationShortage  AllocationStatus = "SHORTAGE"
	AllocationCancelled AllocationStatus = "CANCELLED"
)

var allocationTransitions = map[AllocationStatus][]AllocationStatus{
	AllocationPending:  {AllocationReserved, AllocationCancelled},
	AllocationReserved: {AllocationPicking, AllocationCancelled},
	AllocationPicking:  {AllocationFulfilled, AllocationShortage},
}

// CanTransitionAllocation reports whether from -> to is a legal allocation
// status change. FULFILLED, SHORTAGE and CANCELLED are terminal.
func CanTransitionAllocation(from, to AllocationStatus) bool {
	for _, next := range allocationTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Allocation is one proxy shipment instruction: pull AssignQty (in the
// original order's unit) from FromWarehouseID against one shortage.
type Allocation struct {
	ID              id.ID             `db:"id" json:"id"`
	ShortageID      id.ID             `db:"shortage_id" json:"shortageId"`
	FromWarehouseID id.ID             `db:"from_warehouse_id" json:"fromWarehouseId"`
	AssignQty       types.Quantity    `db:"assign_qty" json:"assignQty"`
	Unit            unit.QuantityType `db:"unit" json:"unit"`
	PickedQtyEach   types.Quantity    `db:"picked_qty_each" json:"pickedQtyEach"`
	Status          AllocationStatus  `db:"status" json:"status"`
	CreatedBy       string            `db:"created_by" json:"createdBy"`
	CreatedAt       time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updatedAt"`
}

// IsActive reports whether the allocation still counts toward coverage.
func (a Allocation) IsActive() bool {
	return a.Status != AllocationCancelled
}

// Transition validates and applies an allocation status change.
func (a *Allocation) Transition(to AllocationStatus) error {
	if !CanTransitionAllocation(a.Status, to) {
		return apperror.NewInvariantViolation("illegal allocation status transition").
			WithDetail("allocation_id", a.ID).
			WithDetail("from", string(a.Status)).
			WithDetail("to", string(to))
	}
	a.Status = to
	return nil
}

// AssignQtyEach converts the assigned quantity to eaches using the
// shortage's unit snapshot.
func (a Allocation) AssignQtyEach(snap unit.CaseSizeSnap) (types.Quantity, error) {
	return snap.ToEach(a.AssignQty, a.Unit)
}
