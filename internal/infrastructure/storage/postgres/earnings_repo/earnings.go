// Package earnings_repo provides the PostgreSQL implementation of order line
// access for the fulfillment core.
package earnings_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"wavepick/internal/core/apperror"
	"wavepick/internal/core/id"
	"wavepick/internal/domain/earnings"
	"wavepick/internal/infrastructure/storage/postgres"
)

const orderLinesTable = "order_lines"

// EarningsRepo implements earnings.Repository.
type EarningsRepo struct {
	builder   squirrel.StatementBuilderType
	txManager *postgres.TxManager
}

// NewEarningsRepo creates an order line repository.
func NewEarningsRepo(txManager *postgres.TxManager) *EarningsRepo {
	return &EarningsRepo{
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		txManager: txManager,
	}
}

var orderLineColumns = []string{
	"id", "trade_id", "item_id", "quantity", "quantity_type",
	"delivery_course_id", "warehouse_id", "delivered_date", "picking_status",
}

func (r *EarningsRepo) ListEligible(ctx context.Context, warehouseID, courseID id.ID, deliveredDate time.Time) ([]earnings.OrderLine, error) {
	sql, args, err := r.builder.Select(orderLineColumns...).
		From(orderLinesTable).
		Where(squirrel.Eq{
			"warehouse_id":       warehouseID,
			"delivery_course_id": courseID,
			"delivered_date":     deliveredDate,
			"picking_status":     earnings.StatusBeforePicking,
		}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var lines []earnings.OrderLine
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &lines, sql, args...); err != nil {
		return nil, fmt.Errorf("select eligible lines: %w", err)
	}
	return lines, nil
}

func (r *EarningsRepo) GetLine(ctx context.Context, lineID id.ID) (earnings.OrderLine, error) {
	sql, args, err := r.builder.Select(orderLineColumns...).
		From(orderLinesTable).
		Where(squirrel.Eq{"id": lineID}).
		ToSql()
	if err != nil {
		return earnings.OrderLine{}, fmt.Errorf("build query: %w", err)
	}

	var line earnings.OrderLine
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &line, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return earnings.OrderLine{}, apperror.NewNotFound("order line", lineID)
		}
		return earnings.OrderLine{}, fmt.Errorf("get order line: %w", err)
	}
	return line, nil
}

// UpdatePickingStatus flips the lines still in the expected status and reports
// how many actually changed. Lines already past the walk are left alone.
func (r *EarningsRepo) UpdatePickingStatus(ctx context.Context, lineIDs []id.ID, from, to earnings.PickingStatus) (int64, error) {
	if len(lineIDs) == 0 {
		return 0, nil
	}

	sql, args, err := r.builder.Update(orderLinesTable).
		Set("picking_status", to).
		Where(squirrel.Eq{"id": lineIDs, "picking_status": from}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build update: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	tag, err := querier.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("update picking status: %w", err)
	}
	return tag.RowsAffected(), nil
}
