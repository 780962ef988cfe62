// Package catalog_repo provides the PostgreSQL implementation of master-data
// reads: warehouses, delivery courses and trade items.
package catalog_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"wavepick/internal/core/apperror"
	"wavepick/internal/core/id"
	"wavepick/internal/domain/catalog"
	"wavepick/internal/infrastructure/storage/postgres"
)

const (
	warehousesTable = "cat_warehouses"
	coursesTable    = "cat_delivery_courses"
	itemsTable      = "cat_items"
)

// CatalogRepo implements catalog.Repository.
type CatalogRepo struct {
	builder   squirrel.StatementBuilderType
	txManager *postgres.TxManager
}

// NewCatalogRepo creates a catalog repository.
func NewCatalogRepo(txManager *postgres.TxManager) *CatalogRepo {
	return &CatalogRepo{
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		txManager: txManager,
	}
}

func (r *CatalogRepo) GetWarehouse(ctx context.Context, warehouseID id.ID) (catalog.Warehouse, error) {
	var w catalog.Warehouse
	if err := r.getByID(ctx, warehousesTable, []string{"id", "code", "name", "active"},
		warehouseID, "warehouse", &w); err != nil {
		return catalog.Warehouse{}, err
	}
	return w, nil
}

func (r *CatalogRepo) ListActiveWarehouses(ctx context.Context) ([]catalog.Warehouse, error) {
	sql, args, err := r.builder.Select("id", "code", "name", "active").
		From(warehousesTable).
		Where(squirrel.Eq{"active": true}).
		OrderBy("code").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var warehouses []catalog.Warehouse
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &warehouses, sql, args...); err != nil {
		return nil, fmt.Errorf("select warehouses: %w", err)
	}
	return warehouses, nil
}

func (r *CatalogRepo) GetDeliveryCourse(ctx context.Context, courseID id.ID) (catalog.DeliveryCourse, error) {
	var c catalog.DeliveryCourse
	if err := r.getByID(ctx, coursesTable, []string{"id", "code", "name", "active"},
		courseID, "delivery course", &c); err != nil {
		return catalog.DeliveryCourse{}, err
	}
	return c, nil
}

var itemColumns = []string{"id", "code", "name", "case_size", "purchase_price", "active"}

func (r *CatalogRepo) GetItem(ctx context.Context, itemID id.ID) (catalog.Item, error) {
	var item catalog.Item
	if err := r.getByID(ctx, itemsTable, itemColumns, itemID, "item", &item); err != nil {
		return catalog.Item{}, err
	}
	return item, nil
}

func (r *CatalogRepo) GetItems(ctx context.Context, itemIDs []id.ID) (map[id.ID]catalog.Item, error) {
	if len(itemIDs) == 0 {
		return map[id.ID]catalog.Item{}, nil
	}

	sql, args, err := r.builder.Select(itemColumns...).
		From(itemsTable).
		Where(squirrel.Eq{"id": itemIDs}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []catalog.Item
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}

	items := make(map[id.ID]catalog.Item, len(rows))
	for _, item := range rows {
		items[item.ID] = item
	}
	return items, nil
}

func (r *CatalogRepo) getByID(ctx context.Context, table string, columns []string, entityID id.ID, entity string, dst any) error {
	sql, args, err := r.builder.Select(columns...).
		From(table).
		Where(squirrel.Eq{"id": entityID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, dst, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return apperror.NewNotFound(entity, entityID)
		}
		return fmt.Errorf("get %s: %w", entity, err)
	}
	return nil
}
