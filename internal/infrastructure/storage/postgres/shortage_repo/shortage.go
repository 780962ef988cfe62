// Package shortage_repo provides the PostgreSQL implementation of shortage
// and proxy allocation storage.
package shortage_repo

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
	"wavepick/internal/domain/shortage"
	"wavepick/internal/infrastructure/storage/postgres"
)

const (
	shortagesTable   = "shortages"
	allocationsTable = "shortage_allocations"
)

// ShortageRepo implements shortage.Repository.
type ShortageRepo struct {
	builder   squirrel.StatementBuilderType
	txManager *postgres.TxManager
}

// NewShortageRepo creates a shortage repository.
func NewShortageRepo(txManager *postgres.TxManager) *ShortageRepo {
	return &ShortageRepo{
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		txManager: txManager,
	}
}

var shortageColumns = []string{
	"id", "wave_id", "task_id", "item_result_id", "warehouse_id", "item_id",
	"trade_id", "parent_shortage_id",
	"order_qty_each", "planned_qty_each", "picked_qty_each", "shortage_qty_each",
	"allocation_shortage_qty", "picking_shortage_qty",
	"qty_type_at_order", "case_size", "status", "reason",
	"is_confirmed", "approved_by", "created_at", "updated_at",
}

// shortageRow flattens the case size snapshot into a single column.
type shortageRow struct {
	ID               id.ID  `db:"id"`
	WaveID           id.ID  `db:"wave_id"`
	TaskID           id.ID  `db:"task_id"`
	ItemResultID     id.ID  `db:"item_result_id"`
	WarehouseID      id.ID  `db:"warehouse_id"`
	ItemID           id.ID  `db:"item_id"`
	TradeID          id.ID  `db:"trade_id"`
	ParentShortageID *id.ID `db:"parent_shortage_id"`

	OrderQtyEach          types.Quantity `db:"order_qty_each"`
	PlannedQtyEach        types.Quantity `db:"planned_qty_each"`
	PickedQtyEach         types.Quantity `db:"picked_qty_each"`
	ShortageQtyEach       types.Quantity `db:"shortage_qty_each"`
	AllocationShortageQty types.Quantity `db:"allocation_shortage_qty"`
	PickingShortageQty    types.Quantity `db:"picking_shortage_qty"`

	QtyTypeAtOrder unit.QuantityType `db:"qty_type_at_order"`
	CaseSize       int64             `db:"case_size"`

	Status      shortage.Status `db:"status"`
	Reason      shortage.Reason `db:"reason"`
	IsConfirmed bool            `db:"is_confirmed"`
	ApprovedBy  string          `db:"approved_by"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

func (row shortageRow) toDomain() shortage.Shortage {
	return shortage.Shortage{
		ID:                    row.ID,
		WaveID:                row.WaveID,
		TaskID:                row.TaskID,
		ItemResultID:          row.ItemResultID,
		WarehouseID:           row.WarehouseID,
		ItemID:                row.ItemID,
		TradeID:               row.TradeID,
		ParentShortageID:      row.ParentShortageID,
		OrderQtyEach:          row.OrderQtyEach,
		PlannedQtyEach:        row.PlannedQtyEach,
		PickedQtyEach:         row.PickedQtyEach,
		ShortageQtyEach:       row.ShortageQtyEach,
		AllocationShortageQty: row.AllocationShortageQty,
		PickingShortageQty:    row.PickingShortageQty,
		QtyTypeAtOrder:        row.QtyTypeAtOrder,
		CaseSize:              unit.CaseSizeSnap{CaseSize: row.CaseSize},
		Status:                row.Status,
		Reason:                row.Reason,
		IsConfirmed:           row.IsConfirmed,
		ApprovedBy:            row.ApprovedBy,
		CreatedAt:             row.CreatedAt,
		UpdatedAt:             row.UpdatedAt,
	}
}

func shortageValues(s shortage.Shortage) []any {
	return []any{
		s.ID, s.WaveID, s.TaskID, s.ItemResultID, s.WarehouseID, s.ItemID,
		s.TradeID, s.ParentShortageID,
		s.OrderQtyEach, s.PlannedQtyEach, s.PickedQtyEach, s.ShortageQtyEach,
		s.AllocationShortageQty, s.PickingShortageQty,
		s.QtyTypeAtOrder, s.CaseSize.CaseSize, s.Status, s.Reason,
		s.IsConfirmed, s.ApprovedBy, s.CreatedAt, s.UpdatedAt,
	}
}

func (r *ShortageRepo) CreateShortage(ctx context.Context, s shortage.Shortage) error {
	sql, args, err := r.builder.Insert(shortagesTable).
		Columns(shortageColumns...).
		Values(shortageValues(s)...).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert shortage: %w", err)
	}
	return nil
}

func (r *ShortageRepo) GetShortage(ctx context.Context, shortageID id.ID) (shortage.Shortage, error) {
	return r.getShortage(ctx, squirrel.Eq{"id": shortageID}, shortageID)
}

func (r *ShortageRepo) FindOpenByItemResult(ctx context.Context, itemResultID id.ID) (shortage.Shortage, error) {
	return r.getShortage(ctx, squirrel.Eq{
		"item_result_id": itemResultID,
		"is_confirmed":   false,
	}, itemResultID)
}

func (r *ShortageRepo) getShortage(ctx context.Context, where squirrel.Eq, lookupID id.ID) (shortage.Shortage, error) {
	sql, args, err := r.builder.Select(shortageColumns...).
		From(shortagesTable).
		Where(where).
		OrderBy("created_at", "id").
		Limit(1).
		ToSql()
	if err != nil {
		return shortage.Shortage{}, fmt.Errorf("build query: %w", err)
	}

	var row shortageRow
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return shortage.Shortage{}, apperror.NewNotFound("shortage", lookupID)
		}
		return shortage.Shortage{}, fmt.Errorf("get shortage: %w", err)
	}
	return row.toDomain(), nil
}

func (r *ShortageRepo) UpdateShortage(ctx context.Context, s shortage.Shortage) error {
	sql, args, err := r.builder.Update(shortagesTable).
		Set("picked_qty_each", s.PickedQtyEach).
		Set("shortage_qty_each", s.ShortageQtyEach).
		Set("allocation_shortage_qty", s.AllocationShortageQty).
		Set("picking_shortage_qty", s.PickingShortageQty).
		Set("status", s.Status).
		Set("reason", s.Reason).
		Set("is_confirmed", s.IsConfirmed).
		Set("approved_by", s.ApprovedBy).
		Set("updated_at", s.UpdatedAt).
		Where(squirrel.Eq{"id": s.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	tag, err := querier.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update shortage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("shortage", s.ID)
	}
	return nil
}

func (r *ShortageRepo) ListByItemResults(ctx context.Context, itemResultIDs []id.ID) ([]shortage.Shortage, error) {
	if len(itemResultIDs) == 0 {
		return nil, nil
	}

	sql, args, err := r.builder.Select(shortageColumns...).
		From(shortagesTable).
		Where(squirrel.Eq{"item_result_id": itemResultIDs}).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []shortageRow
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select shortages: %w", err)
	}

	shortages := make([]shortage.Shortage, 0, len(rows))
	for _, row := range rows {
		shortages = append(shortages, row.toDomain())
	}
	return shortages, nil
}

// DeleteByWave removes the wave's shortages and their allocations. Allocations
// first so the delete works without cascading foreign keys.
func (r *ShortageRepo) DeleteByWave(ctx context.Context, waveID id.ID) error {
	querier := r.txManager.GetQuerier(ctx)

	sub := r.builder.Select("id").From(shortagesTable).Where(squirrel.Eq{"wave_id": waveID})
	subSQL, subArgs, err := sub.ToSql()
	if err != nil {
		return fmt.Errorf("build subquery: %w", err)
	}

	delAllocs := fmt.Sprintf("DELETE FROM %s WHERE shortage_id IN (%s)", allocationsTable, subSQL)
	if _, err := querier.Exec(ctx, delAllocs, subArgs...); err != nil {
		return fmt.Errorf("delete allocations: %w", err)
	}

	sql, args, err := r.builder.Delete(shortagesTable).
		Where(squirrel.Eq{"wave_id": waveID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("delete shortages: %w", err)
	}
	return nil
}

var allocationColumns = []string{
	"id", "shortage_id", "from_warehouse_id", "assign_qty", "unit",
	"picked_qty_each", "status", "created_by", "created_at", "updated_at",
}

func (r *ShortageRepo) CreateAllocation(ctx context.Context, a shortage.Allocation) error {
	sql, args, err := r.builder.Insert(allocationsTable).
		Columns(allocationColumns...).
		Values(a.ID, a.ShortageID, a.FromWarehouseID, a.AssignQty, a.Unit,
			a.PickedQtyEach, a.Status, a.CreatedBy, a.CreatedAt, a.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert allocation: %w", err)
	}
	return nil
}

func (r *ShortageRepo) GetAllocation(ctx context.Context, allocationID id.ID) (shortage.Allocation, error) {
	sql, args, err := r.builder.Select(allocationColumns...).
		From(allocationsTable).
		Where(squirrel.Eq{"id": allocationID}).
		ToSql()
	if err != nil {
		return shortage.Allocation{}, fmt.Errorf("build query: %w", err)
	}

	var a shortage.Allocation
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &a, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return shortage.Allocation{}, apperror.NewNotFound("proxy allocation", allocationID)
		}
		return shortage.Allocation{}, fmt.Errorf("get allocation: %w", err)
	}
	return a, nil
}

func (r *ShortageRepo) UpdateAllocation(ctx context.Context, a shortage.Allocation) error {
	sql, args, err := r.builder.Update(allocationsTable).
		Set("from_warehouse_id", a.FromWarehouseID).
		Set("assign_qty", a.AssignQty).
		Set("unit", a.Unit).
		Set("picked_qty_each", a.PickedQtyEach).
		Set("status", a.Status).
		Set("updated_at", a.UpdatedAt).
		Where(squirrel.Eq{"id": a.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	tag, err := querier.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update allocation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("proxy allocation", a.ID)
	}
	return nil
}

func (r *ShortageRepo) ListAllocationsByShortage(ctx context.Context, shortageID id.ID) ([]shortage.Allocation, error) {
	sql, args, err := r.builder.Select(allocationColumns...).
		From(allocationsTable).
		Where(squirrel.Eq{"shortage_id": shortageID}).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var allocations []shortage.Allocation
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &allocations, sql, args...); err != nil {
		return nil, fmt.Errorf("select allocations: %w", err)
	}
	return allocations, nil
}
