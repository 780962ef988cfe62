// Package wave_repo provides the PostgreSQL implementation of wave storage:
// settings, waves, picking tasks and item results.
package wave_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"wavepick/internal/core/apperror"
	"wavepick/internal/core/id"
	"wavepick/internal/core/types"
	"wavepick/internal/core/unit"
	"wavepick/internal/domain/wave"
	"wavepick/internal/infrastructure/storage/postgres"
)

const (
	settingsTable    = "wave_settings"
	wavesTable       = "waves"
	sequencesTable   = "wave_sequences"
	tasksTable       = "picking_tasks"
	itemResultsTable = "picking_item_results"
)

// WaveRepo implements wave.Repository.
type WaveRepo struct {
	builder   squirrel.StatementBuilderType
	txManager *postgres.TxManager
	inserter  *postgres.BatchInserter
	executor  *postgres.BatchExecutor
}

// NewWaveRepo creates a wave repository.
func NewWaveRepo(txManager *postgres.TxManager) *WaveRepo {
	return &WaveRepo{
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		txManager: txManager,
		inserter:  postgres.NewBatchInserter(txManager),
		executor:  postgres.NewBatchExecutor(txManager),
	}
}

func (r *WaveRepo) ListActiveSettings(ctx context.Context) ([]wave.Setting, error) {
	sql, args, err := r.builder.Select(
		"id", "warehouse_id", "delivery_course_id",
		"picking_start_time", "picking_deadline_time", "active",
	).
		From(settingsTable).
		Where(squirrel.Eq{"active": true}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var settings []wave.Setting
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &settings, sql, args...); err != nil {
		return nil, fmt.Errorf("select settings: %w", err)
	}
	return settings, nil
}

func (r *WaveRepo) WaveExists(ctx context.Context, settingID id.ID, shippingDate time.Time) (bool, error) {
	sql, args, err := r.builder.Select("1").
		From(wavesTable).
		Where(squirrel.Eq{"setting_id": settingID, "shipping_date": shippingDate}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}

	var one int
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &one, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("check wave exists: %w", err)
	}
	return true, nil
}

// NextWaveSequence upserts the per (warehouse, shipping date) counter row and
// returns the incremented value. The upsert serializes concurrent generators
// on the counter row.
func (r *WaveRepo) NextWaveSequence(ctx context.Context, warehouseID id.ID, shippingDate time.Time) (int, error) {
	sql, args, err := r.builder.Insert(sequencesTable).
		Columns("warehouse_id", "shipping_date", "value").
		Values(warehouseID, shippingDate, 1).
		Suffix("ON CONFLICT (warehouse_id, shipping_date) DO UPDATE SET value = " +
			sequencesTable + ".value + 1 RETURNING value").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build upsert: %w", err)
	}

	var value int
	querier := r.txManager.GetQuerier(ctx)
	if err := querier.QueryRow(ctx, sql, args...).Scan(&value); err != nil {
		return 0, fmt.Errorf("next wave sequence: %w", err)
	}
	return value, nil
}

func (r *WaveRepo) CreateWave(ctx context.Context, w wave.Wave) error {
	sql, args, err := r.builder.Insert(wavesTable).
		Columns("id", "setting_id", "warehouse_id", "delivery_course_id",
			"shipping_date", "number", "status", "created_at").
		Values(w.ID, w.SettingID, w.WarehouseID, w.DeliveryCourseID,
			w.ShippingDate, w.Number, w.Status, w.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert wave: %w", err)
	}
	return nil
}

func (r *WaveRepo) ListWavesByDate(ctx context.Context, shippingDate time.Time) ([]wave.Wave, error) {
	sql, args, err := r.builder.Select(
		"id", "setting_id", "warehouse_id", "delivery_course_id",
		"shipping_date", "number", "status", "created_at",
	).
		From(wavesTable).
		Where(squirrel.Eq{"shipping_date": shippingDate}).
		OrderBy("number").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var waves []wave.Wave
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &waves, sql, args...); err != nil {
		return nil, fmt.Errorf("select waves: %w", err)
	}
	return waves, nil
}

func (r *WaveRepo) UpdateWaveStatus(ctx context.Context, waveID id.ID, from, to wave.WaveStatus) error {
	sql, args, err := r.builder.Update(wavesTable).
		Set("status", to).
		Where(squirrel.Eq{"id": waveID, "status": from}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	// Zero rows matched means another caller already walked the status.
	querier := r.txManager.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("update wave status: %w", err)
	}
	return nil
}

var itemResultColumns = []string{
	"id", "task_id", "wave_id", "order_line_id", "trade_id", "item_id", "location_id",
	"ordered_qty_each", "planned_qty_each", "picked_qty_each",
	"shortage_qty_each", "shortage_allocated_qty",
	"order_unit", "case_size", "walking_order", "is_ready_to_shipment", "status",
}

// itemResultRow flattens the case size snapshot into a single column.
type itemResultRow struct {
	ID          id.ID `db:"id"`
	TaskID      id.ID `db:"task_id"`
	WaveID      id.ID `db:"wave_id"`
	OrderLineID id.ID `db:"order_line_id"`
	TradeID     id.ID `db:"trade_id"`
	ItemID      id.ID `db:"item_id"`
	LocationID  id.ID `db:"location_id"`

	OrderedQtyEach       types.Quantity `db:"ordered_qty_each"`
	PlannedQtyEach       types.Quantity `db:"planned_qty_each"`
	PickedQtyEach        types.Quantity `db:"picked_qty_each"`
	ShortageQtyEach      types.Quantity `db:"shortage_qty_each"`
	ShortageAllocatedQty types.Quantity `db:"shortage_allocated_qty"`

	OrderUnit         unit.QuantityType `db:"order_unit"`
	CaseSize          int64             `db:"case_size"`
	WalkingOrder      int               `db:"walking_order"`
	IsReadyToShipment bool              `db:"is_ready_to_shipment"`
	Status            wave.ItemStatus   `db:"status"`
}

func (row itemResultRow) toDomain() wave.PickingItemResult {
	return wave.PickingItemResult{
		ID:                   row.ID,
		TaskID:               row.TaskID,
		WaveID:               row.WaveID,
		OrderLineID:          row.OrderLineID,
		TradeID:              row.TradeID,
		ItemID:               row.ItemID,
		LocationID:           row.LocationID,
		OrderedQtyEach:       row.OrderedQtyEach,
		PlannedQtyEach:       row.PlannedQtyEach,
		PickedQtyEach:        row.PickedQtyEach,
		ShortageQtyEach:      row.ShortageQtyEach,
		ShortageAllocatedQty: row.ShortageAllocatedQty,
		OrderUnit:            row.OrderUnit,
		CaseSize:             unit.CaseSizeSnap{CaseSize: row.CaseSize},
		WalkingOrder:         row.WalkingOrder,
		IsReadyToShipment:    row.IsReadyToShipment,
		Status:               row.Status,
	}
}

func itemResultValues(item wave.PickingItemResult) []any {
	return []any{
		item.ID, item.TaskID, item.WaveID, item.OrderLineID, item.TradeID,
		item.ItemID, item.LocationID,
		item.OrderedQtyEach, item.PlannedQtyEach, item.PickedQtyEach,
		item.ShortageQtyEach, item.ShortageAllocatedQty,
		item.OrderUnit, item.CaseSize.CaseSize,
		item.WalkingOrder, item.IsReadyToShipment, item.Status,
	}
}

// CreateTask inserts the task row and its item results. Item results go
// through the COPY protocol when a transaction is active; wave generation
// always runs inside one, so the multi-value fallback only serves tests and
// ad-hoc callers.
func (r *WaveRepo) CreateTask(ctx context.Context, task wave.PickingTask, items []wave.PickingItemResult) error {
	sql, args, err := r.builder.Insert(tasksTable).
		Columns("id", "wave_id", "warehouse_id", "floor_id", "picking_area_id",
			"delivery_course_id", "status", "created_at").
		Values(task.ID, task.WaveID, task.WarehouseID, task.FloorID, task.PickingAreaID,
			task.DeliveryCourseID, task.Status, task.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	if len(items) == 0 {
		return nil
	}

	if r.txManager.GetTx(ctx) != nil {
		rows := make([][]any, 0, len(items))
		for _, item := range items {
			rows = append(rows, itemResultValues(item))
		}
		if _, err := r.inserter.CopyFromSlice(ctx, itemResultsTable, itemResultColumns, rows); err != nil {
			return fmt.Errorf("copy item results: %w", err)
		}
		return nil
	}

	q := r.builder.Insert(itemResultsTable).Columns(itemResultColumns...)
	for _, item := range items {
		q = q.Values(itemResultValues(item)...)
	}
	sql, args, err = q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert item results: %w", err)
	}
	return nil
}

func (r *WaveRepo) GetTask(ctx context.Context, taskID id.ID) (wave.PickingTask, error) {
	sql, args, err := r.builder.Select(
		"id", "wave_id", "warehouse_id", "floor_id", "picking_area_id",
		"delivery_course_id", "status", "created_at",
	).
		From(tasksTable).
		Where(squirrel.Eq{"id": taskID}).
		ToSql()
	if err != nil {
		return wave.PickingTask{}, fmt.Errorf("build query: %w", err)
	}

	var task wave.PickingTask
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &task, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return wave.PickingTask{}, apperror.NewNotFound("picking task", taskID)
		}
		return wave.PickingTask{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (r *WaveRepo) ListTasksByWave(ctx context.Context, waveID id.ID) ([]wave.PickingTask, error) {
	sql, args, err := r.builder.Select(
		"id", "wave_id", "warehouse_id", "floor_id", "picking_area_id",
		"delivery_course_id", "status", "created_at",
	).
		From(tasksTable).
		Where(squirrel.Eq{"wave_id": waveID}).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var tasks []wave.PickingTask
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &tasks, sql, args...); err != nil {
		return nil, fmt.Errorf("select tasks: %w", err)
	}
	return tasks, nil
}

func (r *WaveRepo) UpdateTaskStatus(ctx context.Context, taskID id.ID, from, to wave.TaskStatus) error {
	sql, args, err := r.builder.Update(tasksTable).
		Set("status", to).
		Where(squirrel.Eq{"id": taskID, "status": from}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

func (r *WaveRepo) GetItemResult(ctx context.Context, itemResultID id.ID) (wave.PickingItemResult, error) {
	sql, args, err := r.builder.Select(itemResultColumns...).
		From(itemResultsTable).
		Where(squirrel.Eq{"id": itemResultID}).
		ToSql()
	if err != nil {
		return wave.PickingItemResult{}, fmt.Errorf("build query: %w", err)
	}

	var row itemResultRow
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return wave.PickingItemResult{}, apperror.NewNotFound("picking item result", itemResultID)
		}
		return wave.PickingItemResult{}, fmt.Errorf("get item result: %w", err)
	}
	return row.toDomain(), nil
}

func (r *WaveRepo) ListItemResultsByTask(ctx context.Context, taskID id.ID) ([]wave.PickingItemResult, error) {
	return r.listItemResults(ctx, squirrel.Eq{"task_id": taskID})
}

func (r *WaveRepo) ListItemResultsByIDs(ctx context.Context, itemResultIDs []id.ID) ([]wave.PickingItemResult, error) {
	if len(itemResultIDs) == 0 {
		return nil, nil
	}
	return r.listItemResults(ctx, squirrel.Eq{"id": itemResultIDs})
}

func (r *WaveRepo) listItemResults(ctx context.Context, where squirrel.Eq) ([]wave.PickingItemResult, error) {
	sql, args, err := r.builder.Select(itemResultColumns...).
		From(itemResultsTable).
		Where(where).
		OrderBy("walking_order", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []itemResultRow
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select item results: %w", err)
	}

	items := make([]wave.PickingItemResult, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toDomain())
	}
	return items, nil
}

func (r *WaveRepo) UpdateItemResult(ctx context.Context, item wave.PickingItemResult) error {
	sql, args, err := r.builder.Update(itemResultsTable).
		Set("picked_qty_each", item.PickedQtyEach).
		Set("shortage_qty_each", item.ShortageQtyEach).
		Set("shortage_allocated_qty", item.ShortageAllocatedQty).
		Set("walking_order", item.WalkingOrder).
		Set("is_ready_to_shipment", item.IsReadyToShipment).
		Set("status", item.Status).
		Where(squirrel.Eq{"id": item.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	tag, err := querier.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update item result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("picking item result", item.ID)
	}
	return nil
}

// UpdateWalkingOrders writes the orders in one round-trip when a transaction
// is active, or one statement per item otherwise.
func (r *WaveRepo) UpdateWalkingOrders(ctx context.Context, orders map[id.ID]int) error {
	if len(orders) == 0 {
		return nil
	}

	queries := make([]postgres.BatchQuery, 0, len(orders))
	for itemID, order := range orders {
		sql, args, err := r.builder.Update(itemResultsTable).
			Set("walking_order", order).
			Where(squirrel.Eq{"id": itemID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build update: %w", err)
		}
		queries = append(queries, postgres.BatchQuery{SQL: sql, Args: args})
	}

	if r.txManager.GetTx(ctx) != nil {
		if err := r.executor.ExecuteBatch(ctx, queries); err != nil {
			return fmt.Errorf("update walking orders: %w", err)
		}
		return nil
	}

	querier := r.txManager.GetQuerier(ctx)
	for _, q := range queries {
		if _, err := querier.Exec(ctx, q.SQL, q.Args...); err != nil {
			return fmt.Errorf("update walking orders: %w", err)
		}
	}
	return nil
}

// DeleteWaveData removes the wave with its tasks and item results. Children
// first so the delete works without cascading foreign keys.
func (r *WaveRepo) DeleteWaveData(ctx context.Context, waveID id.ID) error {
	querier := r.txManager.GetQuerier(ctx)
	for _, table := range []string{itemResultsTable, tasksTable} {
		sql, args, err := r.builder.Delete(table).
			Where(squirrel.Eq{"wave_id": waveID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build delete: %w", err)
		}
		if _, err := querier.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}

	sql, args, err := r.builder.Delete(wavesTable).
		Where(squirrel.Eq{"id": waveID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("delete wave: %w", err)
	}
	return nil
}
