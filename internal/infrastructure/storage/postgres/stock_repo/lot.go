// Package stock_repo provides the PostgreSQL implementation of the
// reservation storage contract: lots, stock records, reservations and the
// lot archive.
package stock_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/klauspost/compress/zstd"

	"wavepick/internal/core/apperror"
	"wavepick/internal/core/id"
	"wavepick/internal/domain/reservation"
	"wavepick/internal/infrastructure/storage/postgres"
)

const (
	lotsTable         = "stock_lots"
	stockRecordsTable = "stock_records"
	reservationsTable = "stock_reservations"
	lotArchivesTable  = "stock_lot_archives"
)

// Archive snapshots compress well (repetitive JSON keys); level 1 keeps the
// write path cheap.
var archiveEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))

// LotRepo implements reservation.Repository.
type LotRepo struct {
	builder   squirrel.StatementBuilderType
	txManager *postgres.TxManager
}

// NewLotRepo creates a lot repository.
func NewLotRepo(txManager *postgres.TxManager) *LotRepo {
	return &LotRepo{
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		txManager: txManager,
	}
}

var lotColumns = []string{
	"id", "stock_record_id", "warehouse_id", "location_id", "item_id",
	"initial_quantity", "current_quantity", "reserved_quantity",
	"expiration_date", "received_at", "status", "version",
}

func (r *LotRepo) ListAllocatableLots(ctx context.Context, warehouseID, itemID id.ID) ([]reservation.Lot, error) {
	q := r.builder.Select(lotColumns...).
		From(lotsTable).
		Where(squirrel.Eq{
			"warehouse_id": warehouseID,
			"item_id":      itemID,
			"status":       reservation.LotActive,
		}).
		Where("current_quantity > reserved_quantity")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var lots []reservation.Lot
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &lots, sql, args...); err != nil {
		return nil, fmt.Errorf("select lots: %w", err)
	}
	return lots, nil
}

func (r *LotRepo) GetLot(ctx context.Context, lotID id.ID) (reservation.Lot, error) {
	sql, args, err := r.builder.Select(lotColumns...).
		From(lotsTable).
		Where(squirrel.Eq{"id": lotID}).
		ToSql()
	if err != nil {
		return reservation.Lot{}, fmt.Errorf("build query: %w", err)
	}

	var lot reservation.Lot
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &lot, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return reservation.Lot{}, apperror.NewNotFound("lot", lotID)
		}
		return reservation.Lot{}, fmt.Errorf("get lot: %w", err)
	}
	return lot, nil
}

// UpdateLotIf is the CAS write: the row changes only when the stored version
// still matches, and the version increments with it.
func (r *LotRepo) UpdateLotIf(ctx context.Context, lot *reservation.Lot, expectedVersion int) (bool, error) {
	q := r.builder.Update(lotsTable).
		Set("current_quantity", lot.CurrentQty).
		Set("reserved_quantity", lot.ReservedQty).
		Set("status", lot.Status).
		Set("version", expectedVersion+1).
		Where(squirrel.Eq{"id": lot.ID, "version": expectedVersion})

	sql, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build update: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	tag, err := querier.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("update lot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	lot.Version = expectedVersion + 1
	return true, nil
}

var stockRecordColumns = []string{
	"id", "warehouse_id", "location_id", "item_id",
	"current_quantity", "reserved_quantity", "picking_quantity", "lock_version",
}

func (r *LotRepo) GetStockRecord(ctx context.Context, stockRecordID id.ID) (reservation.StockRecord, error) {
	sql, args, err := r.builder.Select(stockRecordColumns...).
		From(stockRecordsTable).
		Where(squirrel.Eq{"id": stockRecordID}).
		ToSql()
	if err != nil {
		return reservation.StockRecord{}, fmt.Errorf("build query: %w", err)
	}

	var rec reservation.StockRecord
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &rec, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return reservation.StockRecord{}, apperror.NewNotFound("stock record", stockRecordID)
		}
		return reservation.StockRecord{}, fmt.Errorf("get stock record: %w", err)
	}
	return rec, nil
}

func (r *LotRepo) UpdateStockRecordIf(ctx context.Context, rec *reservation.StockRecord, expectedVersion int) (bool, error) {
	q := r.builder.Update(stockRecordsTable).
		Set("current_quantity", rec.CurrentQty).
		Set("reserved_quantity", rec.ReservedQty).
		Set("picking_quantity", rec.PickingQty).
		Set("lock_version", expectedVersion+1).
		Where(squirrel.Eq{"id": rec.ID, "lock_version": expectedVersion})

	sql, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build update: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	tag, err := querier.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("update stock record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	rec.LockVersion = expectedVersion + 1
	return true, nil
}

func (r *LotRepo) ListExpiredActiveLots(ctx context.Context, warehouseID id.ID, today time.Time) ([]reservation.Lot, error) {
	q := r.builder.Select(lotColumns...).
		From(lotsTable).
		Where(squirrel.Eq{"warehouse_id": warehouseID, "status": reservation.LotActive}).
		Where(squirrel.Lt{"expiration_date": today})

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var lots []reservation.Lot
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &lots, sql, args...); err != nil {
		return nil, fmt.Errorf("select expired lots: %w", err)
	}
	return lots, nil
}

func (r *LotRepo) LastStockedLocation(ctx context.Context, warehouseID, itemID id.ID) (id.ID, error) {
	sql, args, err := r.builder.Select("location_id").
		From(lotsTable).
		Where(squirrel.Eq{"warehouse_id": warehouseID, "item_id": itemID}).
		OrderBy("received_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return id.Nil(), fmt.Errorf("build query: %w", err)
	}

	var locationID id.ID
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &locationID, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return id.Nil(), apperror.NewNotFound("stocked location", itemID)
		}
		return id.Nil(), fmt.Errorf("get last stocked location: %w", err)
	}
	return locationID, nil
}

var reservationColumns = []string{
	"id", "lot_id", "stock_record_id", "warehouse_id", "location_id", "item_id",
	"demand_source_id", "demand_source_type", "qty_each", "idempotency_key", "created_at",
}

func (r *LotRepo) CreateReservations(ctx context.Context, reservations []reservation.Reservation) error {
	if len(reservations) == 0 {
		return nil
	}

	q := r.builder.Insert(reservationsTable).Columns(reservationColumns...)
	for _, res := range reservations {
		q = q.Values(
			res.ID, res.LotID, res.StockRecordID, res.WarehouseID, res.LocationID, res.ItemID,
			res.DemandSourceID, res.DemandSourceType, res.QtyEach, res.IdempotencyKey, res.CreatedAt,
		)
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert reservations: %w", err)
	}
	return nil
}

func (r *LotRepo) ListReservationsByKey(ctx context.Context, key string, demandSourceID id.ID) ([]reservation.Reservation, error) {
	return r.listReservations(ctx, squirrel.Eq{
		"idempotency_key":  key,
		"demand_source_id": demandSourceID,
	})
}

func (r *LotRepo) ListReservationsByDemand(ctx context.Context, sourceType reservation.DemandSourceType, demandSourceID id.ID) ([]reservation.Reservation, error) {
	return r.listReservations(ctx, squirrel.Eq{
		"demand_source_type": sourceType,
		"demand_source_id":   demandSourceID,
	})
}

func (r *LotRepo) listReservations(ctx context.Context, where squirrel.Eq) ([]reservation.Reservation, error) {
	sql, args, err := r.builder.Select(reservationColumns...).
		From(reservationsTable).
		Where(where).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var reservations []reservation.Reservation
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &reservations, sql, args...); err != nil {
		return nil, fmt.Errorf("select reservations: %w", err)
	}
	return reservations, nil
}

func (r *LotRepo) DeleteReservations(ctx context.Context, reservationIDs []id.ID) error {
	if len(reservationIDs) == 0 {
		return nil
	}

	sql, args, err := r.builder.Delete(reservationsTable).
		Where(squirrel.Eq{"id": reservationIDs}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("delete reservations: %w", err)
	}
	return nil
}

// ArchiveLot writes the history row with a zstd-compressed snapshot.
func (r *LotRepo) ArchiveLot(ctx context.Context, archive reservation.LotArchive) error {
	compressed := archiveEncoder.EncodeAll(archive.Snapshot, nil)

	sql, args, err := r.builder.Insert(lotArchivesTable).
		Columns("id", "lot_id", "warehouse_id", "item_id", "reason", "snapshot", "archived_at").
		Values(archive.ID, archive.LotID, archive.WarehouseID, archive.ItemID,
			archive.Reason, compressed, archive.ArchivedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert lot archive: %w", err)
	}
	return nil
}
