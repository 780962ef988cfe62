package wave

import (
	"context"
	"fmt"
	"time"

	"wavepick/internal/core/apperror"
	"wavepick/internal/core/execctx"
	"wavepick/internal/core/id"
	"wavepick/internal/core/tx"
	"wavepick/internal/core/types"
	"wavepick/internal/core/unit"
	"wavepick/internal/domain/catalog"
	"wavepick/internal/domain/earnings"
	"wavepick/internal/domain/layout"
	"wavepick/internal/domain/reservation"
	"wavepick/pkg/logger"
)

// StockAllocator is the slice of the reservation engine the orchestrator
// drives.
type StockAllocator interface {
	Allocate(ctx context.Context, req reservation.AllocateRequest) (reservation.AllocateResult, error)
	Release(ctx context.Context, sourceType reservation.DemandSourceType, demandSourceID id.ID) error
	CommitPick(ctx context.Context, sourceType reservation.DemandSourceType, demandSourceID id.ID, pickedEach types.Quantity) error
	LastStockedLocation(ctx context.Context, warehouseID, itemID id.ID) (id.ID, error)
}

// ShortageGate is how the orchestrator reports unmet demand. The shortage
// lifecycle manager implements it; the indirection keeps the dependency
// pointing one way.
type ShortageGate interface {
	// RecordAllocationShortage registers the post-reservation deficit of an
	// item result whose ordered quantity exceeded what was reserved.
	RecordAllocationShortage(ctx context.Context, item PickingItemResult) error

	// RecordPickingShortage registers the post-picking deficit of a completed
	// item result.
	RecordPickingShortage(ctx context.Context, item PickingItemResult) error

	// AllApproved reports whether every shortage referencing the given item
	// results carries operational approval. Gates task completion.
	AllApproved(ctx context.Context, itemResultIDs []id.ID) (bool, error)

	// DiscardForWave removes shortage records created for a wave's item
	// results. Part of the reset compensating path.
	DiscardForWave(ctx context.Context, waveID id.ID) error
}

// IdempotencyKeys is the key-store slice the reset path uses to drop a wave's
// duplicate-suppression keys.
type IdempotencyKeys interface {
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
}

// Orchestrator generates waves from eligible order lines, completes picking
// items, and resets wave data.
type Orchestrator struct {
	repo      Repository
	earnings  earnings.Repository
	catalog   catalog.Repository
	layout    layout.Repository
	stock     StockAllocator
	shortages ShortageGate
	keys      IdempotencyKeys
	txManager tx.Manager
}

// NewOrchestrator creates a wave orchestrator.
func NewOrchestrator(
	repo Repository,
	earningsRepo earnings.Repository,
	catalogRepo catalog.Repository,
	layoutRepo layout.Repository,
	stock StockAllocator,
	shortages ShortageGate,
	keys IdempotencyKeys,
	txManager tx.Manager,
) *Orchestrator {
	return &Orchestrator{
		repo:      repo,
		earnings:  earningsRepo,
		catalog:   catalogRepo,
		layout:    layoutRepo,
		stock:     stock,
		shortages: shortages,
		keys:      keys,
		txManager: txManager,
	}
}

// GenerateResult reports a generation batch's outcome.
type GenerateResult struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// GenerateWaves materializes waves for every due setting on the shipping
// date. A failed setting is logged and counted; it never aborts the batch.
func (o *Orchestrator) GenerateWaves(ctx context.Context, shippingDate time.Time) (GenerateResult, error) {
	settings, err := o.repo.ListActiveSettings(ctx)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("list wave settings: %w", err)
	}

	exec := execctx.From(ctx)
	now := exec.Timestamp()
	var result GenerateResult

	for _, setting := range settings {
		due, err := setting.StartElapsed(now)
		if err != nil {
			logger.Warn(ctx, "wave setting has malformed start time",
				"setting_id", setting.ID, "error", err)
			result.Failed++
			continue
		}
		if !due {
			result.Skipped++
			continue
		}

		exists, err := o.repo.WaveExists(ctx, setting.ID, shippingDate)
		if err != nil {
			return result, fmt.Errorf("check wave existence: %w", err)
		}
		if exists {
			result.Skipped++
			continue
		}

		lines, err := o.earnings.ListEligible(ctx, setting.WarehouseID, setting.DeliveryCourseID, shippingDate)
		if err != nil {
			return result, fmt.Errorf("list eligible lines: %w", err)
		}
		if len(lines) == 0 {
			result.Skipped++
			continue
		}

		if err := o.generateWave(ctx, setting, shippingDate, lines); err != nil {
			logger.Error(ctx, "wave generation failed",
				"setting_id", setting.ID,
				"shipping_date", shippingDate.Format("2006-01-02"),
				"error", err,
			)
			result.Failed++
			continue
		}
		result.Created++
	}

	logger.Info(ctx, "wave generation finished",
		"shipping_date", shippingDate.Format("2006-01-02"),
		"created", result.Created,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}

// taskGroup keys picking tasks within a wave.
type taskGroup struct {
	floorID       id.ID
	pickingAreaID id.ID
}

// generateWave creates one wave with its tasks and item results in a single
// transaction. Order lines flip to PICKING only after all rows are durable.
func (o *Orchestrator) generateWave(ctx context.Context, setting Setting, shippingDate time.Time, lines []earnings.OrderLine) error {
	exec := execctx.From(ctx)

	return o.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		warehouse, err := o.catalog.GetWarehouse(ctx, setting.WarehouseID)
		if err != nil {
			return fmt.Errorf("get warehouse: %w", err)
		}
		course, err := o.catalog.GetDeliveryCourse(ctx, setting.DeliveryCourseID)
		if err != nil {
			return fmt.Errorf("get delivery course: %w", err)
		}
		seq, err := o.repo.NextWaveSequence(ctx, setting.WarehouseID, shippingDate)
		if err != nil {
			return fmt.Errorf("next wave sequence: %w", err)
		}

		w := Wave{
			ID:               id.New(),
			SettingID:        setting.ID,
			WarehouseID:      setting.WarehouseID,
			DeliveryCourseID: setting.DeliveryCourseID,
			ShippingDate:     shippingDate,
			Number:           FormatWaveNumber(warehouse.Code, course.Code, shippingDate, seq),
			Status:           WavePending,
			CreatedAt:        exec.Timestamp(),
		}
		if err := o.repo.CreateWave(ctx, w); err != nil {
			return fmt.Errorf("create wave: %w", err)
		}

		itemIDs := make([]id.ID, 0, len(lines))
		for _, line := range lines {
			itemIDs = append(itemIDs, line.ItemID)
		}
		items, err := o.catalog.GetItems(ctx, itemIDs)
		if err != nil {
			return fmt.Errorf("get items: %w", err)
		}

		groups := make(map[taskGroup][]PickingItemResult)
		groupOrder := make([]taskGroup, 0)
		includedLines := make([]id.ID, 0, len(lines))

		for _, line := range lines {
			result, group, err := o.allocateLine(ctx, w, line, items)
			if err != nil {
				// Per-line failures are skipped, not fatal to the wave. The
				// line may already hold reservations from an allocation that
				// succeeded before the failure; free them, since the skipped
				// line never reaches a task and reset would not see it.
				if relErr := o.stock.Release(ctx, reservation.DemandOrderLine, line.ID); relErr != nil {
					return fmt.Errorf("release skipped order line %s: %w", line.ID, relErr)
				}
				logger.Warn(ctx, "order line skipped during wave generation",
					"wave_id", w.ID, "order_line_id", line.ID, "error", err)
				continue
			}
			if _, seen := groups[group]; !seen {
				groupOrder = append(groupOrder, group)
			}
			groups[group] = append(groups[group], result)
			includedLines = append(includedLines, line.ID)
		}

		if len(includedLines) == 0 {
			return apperror.NewBusinessRule("WAVE_EMPTY", "no order line could be allocated").
				WithDetail("wave_id", w.ID)
		}

		var shortItems []PickingItemResult
		for _, group := range groupOrder {
			task := PickingTask{
				ID:               id.New(),
				WaveID:           w.ID,
				WarehouseID:      w.WarehouseID,
				FloorID:          group.floorID,
				PickingAreaID:    group.pickingAreaID,
				DeliveryCourseID: w.DeliveryCourseID,
				Status:           TaskPending,
				CreatedAt:        exec.Timestamp(),
			}
			taskItems := groups[group]
			for i := range taskItems {
				taskItems[i].TaskID = task.ID
			}
			if err := o.repo.CreateTask(ctx, task, taskItems); err != nil {
				return fmt.Errorf("create picking task: %w", err)
			}
			for _, item := range taskItems {
				if item.OrderedQtyEach > item.PlannedQtyEach {
					shortItems = append(shortItems, item)
				}
			}
		}

		for _, item := range shortItems {
			if err := o.shortages.RecordAllocationShortage(ctx, item); err != nil {
				return fmt.Errorf("record allocation shortage: %w", err)
			}
		}

		if _, err := o.earnings.UpdatePickingStatus(ctx, includedLines,
			earnings.StatusBeforePicking, earnings.StatusPicking); err != nil {
			return fmt.Errorf("flip order lines to picking: %w", err)
		}

		logger.Info(ctx, "wave created",
			"wave_id", w.ID,
			"wave_number", w.Number,
			"tasks", len(groupOrder),
			"lines", len(includedLines),
		)
		return nil
	})
}

// allocateLine reserves stock for one order line and resolves the task group
// it belongs to.
func (o *Orchestrator) allocateLine(ctx context.Context, w Wave, line earnings.OrderLine, items map[id.ID]catalog.Item) (PickingItemResult, taskGroup, error) {
	item, ok := items[line.ItemID]
	if !ok {
		return PickingItemResult{}, taskGroup{}, apperror.NewNotFound("item", line.ItemID)
	}
	snap, err := item.CaseSizeSnap()
	if err != nil {
		return PickingItemResult{}, taskGroup{}, err
	}
	orderedEach, err := snap.ToEach(line.Quantity, line.QuantityType)
	if err != nil {
		return PickingItemResult{}, taskGroup{}, err
	}

	alloc, err := o.stock.Allocate(ctx, reservation.AllocateRequest{
		WarehouseID:      line.WarehouseID,
		ItemID:           line.ItemID,
		Qty:              line.Quantity,
		Unit:             line.QuantityType,
		CaseSize:         snap,
		DemandSourceID:   line.ID,
		DemandSourceType: reservation.DemandOrderLine,
		IdempotencyKey:   fmt.Sprintf("wave:%s:line:%s", w.ID, line.ID),
	})
	if err != nil {
		return PickingItemResult{}, taskGroup{}, err
	}

	locationID, group, err := o.resolveGroup(ctx, w.WarehouseID, line.ItemID, line.QuantityType, alloc)
	if err != nil {
		return PickingItemResult{}, taskGroup{}, err
	}

	result := PickingItemResult{
		ID:             id.New(),
		WaveID:         w.ID,
		OrderLineID:    line.ID,
		TradeID:        line.TradeID,
		ItemID:         line.ItemID,
		LocationID:     locationID,
		OrderedQtyEach: orderedEach,
		PlannedQtyEach: alloc.AllocatedEach,
		OrderUnit:      line.QuantityType,
		CaseSize:       snap,
		Status:         ItemPending,
	}
	return result, group, nil
}

// resolveGroup determines the (floor, picking area) a line's item result
// belongs to: the primary reservation's location wins; a line with nothing
// reserved falls back to the item's stocking history, then to the warehouse's
// default picking area. A location whose configured capabilities exclude the
// line's order unit cannot host the pick and also falls back.
func (o *Orchestrator) resolveGroup(ctx context.Context, warehouseID, itemID id.ID, orderUnit unit.QuantityType, alloc reservation.AllocateResult) (id.ID, taskGroup, error) {
	locationID := id.Nil()
	if primary, ok := alloc.PrimaryReservation(); ok {
		locationID = primary.LocationID
	} else {
		lastLoc, err := o.stock.LastStockedLocation(ctx, warehouseID, itemID)
		switch {
		case err == nil:
			locationID = lastLoc
		case apperror.IsNotFound(err):
			// No stocking history either; fall through to the default area.
		default:
			return id.Nil(), taskGroup{}, err
		}
	}

	if !id.IsNil(locationID) {
		loc, err := o.layout.GetLocation(ctx, locationID)
		switch {
		case err == nil && loc.CanPick(orderUnit):
			return locationID, taskGroup{floorID: loc.FloorID, pickingAreaID: loc.PickingAreaID}, nil
		case err == nil:
			// Location cannot serve the order unit; group under the fallback
			// area but keep the location on the item result.
		case !apperror.IsNotFound(err):
			return id.Nil(), taskGroup{}, err
		}
	}

	areas, err := o.layout.ListActivePickingAreas(ctx, warehouseID)
	if err != nil {
		return id.Nil(), taskGroup{}, err
	}
	if len(areas) == 0 {
		return id.Nil(), taskGroup{}, apperror.NewNotFound("picking area", warehouseID)
	}
	fallback := areas[0]
	return locationID, taskGroup{floorID: fallback.FloorID, pickingAreaID: fallback.ID}, nil
}

// ResetWaveData undoes a date's waves: releases reservations, discards
// shortages, deletes tasks and item results, drops idempotency keys, and
// rolls order lines back to BEFORE_PICKING. Safe to call repeatedly and on
// partially generated waves.
func (o *Orchestrator) ResetWaveData(ctx context.Context, shippingDate time.Time) error {
	waves, err := o.repo.ListWavesByDate(ctx, shippingDate)
	if err != nil {
		return fmt.Errorf("list waves: %w", err)
	}

	for _, w := range waves {
		if err := o.resetWave(ctx, w); err != nil {
			return fmt.Errorf("reset wave %s: %w", w.Number, err)
		}
	}

	logger.Info(ctx, "wave data reset",
		"shipping_date", shippingDate.Format("2006-01-02"),
		"waves", len(waves),
	)
	return nil
}

func (o *Orchestrator) resetWave(ctx context.Context, w Wave) error {
	return o.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		tasks, err := o.repo.ListTasksByWave(ctx, w.ID)
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}

		var lineIDs []id.ID
		for _, task := range tasks {
			items, err := o.repo.ListItemResultsByTask(ctx, task.ID)
			if err != nil {
				return fmt.Errorf("list item results: %w", err)
			}
			for _, item := range items {
				if err := o.stock.Release(ctx, reservation.DemandOrderLine, item.OrderLineID); err != nil {
					return fmt.Errorf("release line %s: %w", item.OrderLineID, err)
				}
				lineIDs = append(lineIDs, item.OrderLineID)
			}
		}

		if err := o.shortages.DiscardForWave(ctx, w.ID); err != nil {
			return fmt.Errorf("discard shortages: %w", err)
		}
		if err := o.repo.DeleteWaveData(ctx, w.ID); err != nil {
			return fmt.Errorf("delete wave data: %w", err)
		}
		if len(lineIDs) > 0 {
			if _, err := o.earnings.UpdatePickingStatus(ctx, lineIDs,
				earnings.StatusPicking, earnings.StatusBeforePicking); err != nil {
				return fmt.Errorf("roll back order lines: %w", err)
			}
		}
		if _, err := o.keys.DeleteByPrefix(ctx, fmt.Sprintf("wave:%s:", w.ID)); err != nil {
			return fmt.Errorf("delete idempotency keys: %w", err)
		}
		return nil
	})
}

// CompleteItem records a picker's result for one item: commits the picked
// stock, derives shortage, flips the order line, and re-evaluates task
// completion.
func (o *Orchestrator) CompleteItem(ctx context.Context, itemResultID id.ID, pickedEach types.Quantity) (PickingItemResult, error) {
	var completed PickingItemResult

	err := o.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		item, err := o.repo.GetItemResult(ctx, itemResultID)
		if err != nil {
			return err
		}

		// Proxy allocations may raise the plan after the fact; picking above
		// the original plan is legal only then.
		allowOverpick := item.ShortageAllocatedQty.IsPositive()
		if err := item.Complete(pickedEach, allowOverpick); err != nil {
			return err
		}

		if err := o.stock.CommitPick(ctx, reservation.DemandOrderLine, item.OrderLineID, pickedEach); err != nil {
			return err
		}
		if err := o.repo.UpdateItemResult(ctx, item); err != nil {
			return fmt.Errorf("update item result: %w", err)
		}
		if _, err := o.earnings.UpdatePickingStatus(ctx, []id.ID{item.OrderLineID},
			earnings.StatusPicking, earnings.StatusPicked); err != nil {
			return fmt.Errorf("flip order line to picked: %w", err)
		}

		if item.ShortageQtyEach.IsPositive() {
			if err := o.shortages.RecordPickingShortage(ctx, item); err != nil {
				return fmt.Errorf("record picking shortage: %w", err)
			}
		}

		o.markPickingStarted(ctx, item)
		if err := o.ReevaluateTaskCompletion(ctx, item.TaskID); err != nil {
			return err
		}

		completed = item
		return nil
	})
	if err != nil {
		return PickingItemResult{}, err
	}

	logger.Info(ctx, "picking item completed",
		"item_result_id", completed.ID,
		"picked_each", completed.PickedQtyEach,
		"shortage_each", completed.ShortageQtyEach,
		"status", completed.Status,
	)
	return completed, nil
}

// markPickingStarted walks the task and wave to PICKING on the first
// completed item. The guarded updates are no-ops once past PENDING.
func (o *Orchestrator) markPickingStarted(ctx context.Context, item PickingItemResult) {
	if err := o.repo.UpdateTaskStatus(ctx, item.TaskID, TaskPending, TaskPicking); err != nil {
		logger.Warn(ctx, "task status not advanced", "task_id", item.TaskID, "error", err)
	}
	if err := o.repo.UpdateWaveStatus(ctx, item.WaveID, WavePending, WavePicking); err != nil {
		logger.Warn(ctx, "wave status not advanced", "wave_id", item.WaveID, "error", err)
	}
}

// ReevaluateTaskCompletion completes a task when every item result is
// terminal and every shortage referencing them is approved. The shortage
// manager calls it after each approval; CompleteItem calls it after each
// item.
func (o *Orchestrator) ReevaluateTaskCompletion(ctx context.Context, taskID id.ID) error {
	return o.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		task, err := o.repo.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task.Status == TaskCompleted {
			return nil
		}

		items, err := o.repo.ListItemResultsByTask(ctx, taskID)
		if err != nil {
			return fmt.Errorf("list item results: %w", err)
		}
		itemIDs := make([]id.ID, 0, len(items))
		for _, item := range items {
			if !IsItemTerminal(item.Status) {
				return nil
			}
			itemIDs = append(itemIDs, item.ID)
		}

		approved, err := o.shortages.AllApproved(ctx, itemIDs)
		if err != nil {
			return fmt.Errorf("check shortage approval: %w", err)
		}
		if !approved {
			return nil
		}

		if !CanTransitionTask(task.Status, TaskCompleted) {
			return nil
		}
		if err := o.repo.UpdateTaskStatus(ctx, taskID, task.Status, TaskCompleted); err != nil {
			return fmt.Errorf("complete task: %w", err)
		}
		logger.Info(ctx, "picking task completed", "task_id", taskID, "wave_id", task.WaveID)

		return o.maybeCompleteWave(ctx, task.WaveID)
	})
}

func (o *Orchestrator) maybeCompleteWave(ctx context.Context, waveID id.ID) error {
	tasks, err := o.repo.ListTasksByWave(ctx, waveID)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	for _, task := range tasks {
		if task.Status != TaskCompleted {
			return nil
		}
	}
	if err := o.repo.UpdateWaveStatus(ctx, waveID, WavePicking, WaveCompleted); err != nil {
		return fmt.Errorf("complete wave: %w", err)
	}
	logger.Info(ctx, "wave completed", "wave_id", waveID)
	return nil
}

// ListWaves returns the waves generated for a shipping date.
func (o *Orchestrator) ListWaves(ctx context.Context, shippingDate time.Time) ([]Wave, error) {
	return o.repo.ListWavesByDate(ctx, shippingDate)
}

// TaskDetail returns a picking task with its item results in walking order.
func (o *Orchestrator) TaskDetail(ctx context.Context, taskID id.ID) (PickingTask, []PickingItemResult, error) {
	task, err := o.repo.GetTask(ctx, taskID)
	if err != nil {
		return PickingTask{}, nil, err
	}
	items, err := o.repo.ListItemResultsByTask(ctx, taskID)
	if err != nil {
		return PickingTask{}, nil, fmt.Errorf("list item results: %w", err)
	}
	return task, items, nil
}
