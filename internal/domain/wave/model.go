// Package wave turns pending order lines into batched picking work: one wave
// per (setting, shipping date), grouped into picking tasks by floor and
// picking area.
package wave

import (
	"fmt"
	"time"

	"wavepick/internal/core/apperror"
	"wavepick/internal/core/id"
	"wavepick/internal/core/types"
	"wavepick/internal/core/unit"
)

// WaveStatus is the lifecycle of a wave.
type WaveStatus string

const (
	WavePending   WaveStatus = "PENDING"
	WavePicking   WaveStatus = "PICKING"
	WaveCompleted WaveStatus = "COMPLETED"
)

var waveTransitions = map[WaveStatus][]WaveStatus{
	WavePending: {WavePicking},
	WavePicking: {WaveCompleted},
}

// CanTransitionWave reports whether from -> to is a legal wave status change.
func CanTransitionWave(from, to WaveStatus) bool {
	for _, next := range waveTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Wave is one batch of picking work for a (setting, shipping date) pair.
// The uniqueness of that pair is checked before creation.
type Wave struct {
	ID               id.ID      `db:"id" json:"id"`
	SettingID        id.ID      `db:"setting_id" json:"settingId"`
	WarehouseID      id.ID      `db:"warehouse_id" json:"warehouseId"`
	DeliveryCourseID id.ID      `db:"delivery_course_id" json:"deliveryCourseId"`
	ShippingDate     time.Time  `db:"shipping_date" json:"shippingDate"`
	Number           string     `db:"number" json:"number"`
	Status           WaveStatus `db:"status" json:"status"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
}

// FormatWaveNumber derives the human-readable wave number:
// <warehouse code>-<course code>-<yyyymmdd>-<sequence>.
func FormatWaveNumber(warehouseCode, courseCode string, shippingDate time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%s-%03d", warehouseCode, courseCode, shippingDate.Format("20060102"), seq)
}

// Setting is the schedule row that drives wave generation for one
// (warehouse, delivery course) pair. Times are local wall-clock "HH:MM".
type Setting struct {
	ID                  id.ID  `db:"id" json:"id"`
	WarehouseID         id.ID  `db:"warehouse_id" json:"warehouseId"`
	DeliveryCourseID    id.ID  `db:"delivery_course_id" json:"deliveryCourseId"`
	PickingStartTime    string `db:"picking_start_time" json:"pickingStartTime"`
	PickingDeadlineTime string `db:"picking_deadline_time" json:"pickingDeadlineTime"`
	Active              bool   `db:"active" json:"active"`
}

// StartElapsed reports whether the setting's picking start time has passed
// at the given instant. Earnings entered up to the cutoff are included in
// the wave; a setting whose start has not elapsed is skipped this tick.
func (s Setting) StartElapsed(now time.Time) (bool, error) {
	start, err := time.Parse("15:04", s.PickingStartTime)
	if err != nil {
		return false, apperror.NewValidation("malformed picking start time").
			WithDetail("setting_id", s.ID).
			WithDetail("picking_start_time", s.PickingStartTime)
	}
	cutoff := time.Date(now.Year(), now.Month(), now.Day(),
		start.Hour(), start.Minute(), 0, 0, now.Location())
	return !now.Before(cutoff), nil
}

// TaskStatus is the lifecycle of a picking task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskPicking   TaskStatus = "PICKING"
	TaskCompleted TaskStatus = "COMPLETED"
)

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending: {TaskPicking, TaskCompleted},
	TaskPicking: {TaskCompleted},
}

// CanTransitionTask reports whether from -> to is a legal task status change.
func CanTransitionTask(from, to TaskStatus) bool {
	for _, next := range taskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PickingTask is one picker's unit of work: the lines of a wave that share a
// floor and picking area for one delivery course.
type PickingTask struct {
	ID               id.ID      `db:"id" json:"id"`
	WaveID           id.ID      `db:"wave_id" json:"waveId"`
	WarehouseID      id.ID      `db:"warehouse_id" json:"warehouseId"`
	FloorID          id.ID      `db:"floor_id" json:"floorId"`
	PickingAreaID    id.ID      `db:"picking_area_id" json:"pickingAreaId"`
	DeliveryCourseID id.ID      `db:"delivery_course_id" json:"deliveryCourseId"`
	Status           TaskStatus `db:"status" json:"status"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
}

// ItemStatus is the lifecycle of a picking item result.
type ItemStatus string

const (
	ItemPending   ItemStatus = "PENDING"
	ItemPicking   ItemStatus = "PICKING"
	ItemCompleted ItemStatus = "COMPLETED"
	ItemShortage  ItemStatus = "SHORTAGE"
)

var itemTransitions = map[ItemStatus][]ItemStatus{
	ItemPending: {ItemPicking, ItemCompleted, ItemShortage},
	ItemPicking: {ItemCompleted, ItemShortage},
}

// CanTransitionItem reports whether from -> to is a legal item status change.
func CanTransitionItem(from, to ItemStatus) bool {
	for _, next := range itemTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsItemTerminal reports whether the status ends the item's picking.
func IsItemTerminal(s ItemStatus) bool {
	return s == ItemCompleted || s == ItemShortage
}

// PickingItemResult is one order line inside a task. Quantities are in the
// item's smallest unit; OrderUnit and CaseSize snapshot the unit conversion
// at wave-generation time.
type PickingItemResult struct {
	ID          id.ID `db:"id" json:"id"`
	TaskID      id.ID `db:"task_id" json:"taskId"`
	WaveID      id.ID `db:"wave_id" json:"waveId"`
	OrderLineID id.ID `db:"order_line_id" json:"orderLineId"`
	TradeID     id.ID `db:"trade_id" json:"tradeId"`
	ItemID      id.ID `db:"item_id" json:"itemId"`
	LocationID  id.ID `db:"location_id" json:"locationId"`

	OrderedQtyEach       types.Quantity `db:"ordered_qty_each" json:"orderedQtyEach"`
	PlannedQtyEach       types.Quantity `db:"planned_qty_each" json:"plannedQtyEach"`
	PickedQtyEach        types.Quantity `db:"picked_qty_each" json:"pickedQtyEach"`
	ShortageQtyEach      types.Quantity `db:"shortage_qty_each" json:"shortageQtyEach"`
	ShortageAllocatedQty types.Quantity `db:"shortage_allocated_qty" json:"shortageAllocatedQty"`

	OrderUnit unit.QuantityType `db:"order_unit" json:"orderUnit"`
	CaseSize  unit.CaseSizeSnap `db:"case_size_snap" json:"caseSize"`

	WalkingOrder      int        `db:"walking_order" json:"walkingOrder"`
	IsReadyToShipment bool       `db:"is_ready_to_shipment" json:"isReadyToShipment"`
	Status            ItemStatus `db:"status" json:"status"`
}

// Complete records the picked quantity and derives shortage and final status.
// Picking more than planned is only legal when a proxy allocation raised the
// plan; the caller passes allowOverpick in that case.
func (p *PickingItemResult) Complete(pickedEach types.Quantity, allowOverpick bool) error {
	if pickedEach.IsNegative() {
		return apperror.NewValidation("picked quantity cannot be negative").
			WithDetail("item_result_id", p.ID)
	}
	if !allowOverpick && pickedEach > p.PlannedQtyEach {
		return apperror.NewInvariantViolation("picked quantity exceeds planned quantity").
			WithDetail("item_result_id", p.ID).
			WithDetail("planned", p.PlannedQtyEach.String()).
			WithDetail("picked", pickedEach.String())
	}

	next := ItemCompleted
	shortage := p.PlannedQtyEach - pickedEach
	if shortage.IsNegative() {
		shortage = 0
	}
	if shortage.IsPositive() {
		next = ItemShortage
	}
	if !CanTransitionItem(p.Status, next) {
		return apperror.NewInvariantViolation("illegal picking item status transition").
			WithDetail("item_result_id", p.ID).
			WithDetail("from", string(p.Status)).
			WithDetail("to", string(next))
	}

	p.PickedQtyEach = pickedEach
	p.ShortageQtyEach = shortage
	p.Status = next
	return nil
}
