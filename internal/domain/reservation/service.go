package reservation

import (
	"context"
	"encoding/json"
	"fmt"

	"wavepick/internal/core/apperror"
	"wavepick/internal/core/execctx"
	"wavepick/internal/core/id"
	"wavepick/internal/core/tx"
	"wavepick/internal/core/types"
	"wavepick/internal/core/unit"
	"wavepick/pkg/logger"
)

// maxCASRetries bounds the read-decide-write cycle on a version conflict
// before the whole allocation surfaces CONCURRENT_MODIFICATION.
const maxCASRetries = 3

// Engine allocates physical stock to demand sources against lot records.
type Engine struct {
	repo      Repository
	txManager tx.Manager
}

// NewEngine creates a reservation engine.
func NewEngine(repo Repository, txManager tx.Manager) *Engine {
	return &Engine{
		repo:      repo,
		txManager: txManager,
	}
}

// AllocateRequest describes one demand to reserve stock for.
type AllocateRequest struct {
	WarehouseID      id.ID
	ItemID           id.ID
	Qty              types.Quantity
	Unit             unit.QuantityType
	CaseSize         unit.CaseSizeSnap
	DemandSourceID   id.ID
	DemandSourceType DemandSourceType
	IdempotencyKey   string
}

// AllocateResult reports what was actually reserved. AllocatedEach may be
// less than RequestedEach: a deficit is a normal outcome that tells the
// caller to record a shortage, not an error.
type AllocateResult struct {
	RequestedEach types.Quantity
	AllocatedEach types.Quantity
	Reservations  []Reservation
}

// PrimaryReservation returns the reservation with the largest quantity,
// ties broken by lowest id. Wave grouping keys on its location.
func (r AllocateResult) PrimaryReservation() (Reservation, bool) {
	if len(r.Reservations) == 0 {
		return Reservation{}, false
	}
	primary := r.Reservations[0]
	for _, res := range r.Reservations[1:] {
		if res.QtyEach > primary.QtyEach ||
			(res.QtyEach == primary.QtyEach && res.ID.String() < primary.ID.String()) {
			primary = res
		}
	}
	return primary, true
}

// Allocate reserves stock for one demand source, walking candidate lots in
// FEFO/FIFO order. Runs in a single transaction; a version conflict that
// survives the bounded retries rolls the whole allocation back.
func (e *Engine) Allocate(ctx context.Context, req AllocateRequest) (AllocateResult, error) {
	if err := e.validate(req); err != nil {
		return AllocateResult{}, err
	}

	requestedEach, err := req.CaseSize.ToEach(req.Qty, req.Unit)
	if err != nil {
		return AllocateResult{}, err
	}

	result := AllocateResult{RequestedEach: requestedEach}
	exec := execctx.From(ctx)

	err = e.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		// Duplicate suppression: a retried call replays the prior outcome
		// without touching stock.
		if req.IdempotencyKey != "" {
			existing, err := e.repo.ListReservationsByKey(ctx, req.IdempotencyKey, req.DemandSourceID)
			if err != nil {
				return fmt.Errorf("check idempotency key: %w", err)
			}
			if len(existing) > 0 {
				result.Reservations = existing
				for _, res := range existing {
					result.AllocatedEach += res.QtyEach
				}
				logger.Debug(ctx, "allocation replayed from idempotency key",
					"key", req.IdempotencyKey,
					"allocated_each", result.AllocatedEach,
				)
				return nil
			}
		}

		lots, err := e.repo.ListAllocatableLots(ctx, req.WarehouseID, req.ItemID)
		if err != nil {
			return fmt.Errorf("list lots: %w", err)
		}
		SortLotsFEFO(lots, exec.Today)

		remaining := requestedEach
		var reservations []Reservation
		for i := range lots {
			if !remaining.IsPositive() {
				break
			}
			taken, res, err := e.reserveFromLot(ctx, &lots[i], remaining, req, exec)
			if err != nil {
				return err
			}
			if taken.IsZero() {
				continue
			}
			remaining -= taken
			result.AllocatedEach += taken
			reservations = append(reservations, res)
		}

		if len(reservations) > 0 {
			if err := e.repo.CreateReservations(ctx, reservations); err != nil {
				return fmt.Errorf("create reservations: %w", err)
			}
		}
		result.Reservations = reservations
		return nil
	})
	if err != nil {
		return AllocateResult{}, err
	}

	logger.Info(ctx, "stock allocated",
		"item_id", req.ItemID,
		"warehouse_id", req.WarehouseID,
		"requested_each", result.RequestedEach,
		"allocated_each", result.AllocatedEach,
		"lots", len(result.Reservations),
	)
	return result, nil
}

func (e *Engine) validate(req AllocateRequest) error {
	if !req.Qty.IsPositive() {
		return apperror.NewValidation("allocation quantity must be positive").
			WithDetail("quantity", req.Qty.String())
	}
	if !req.Unit.Valid() {
		return apperror.NewValidation("unknown quantity type").
			WithDetail("quantity_type", string(req.Unit))
	}
	if id.IsNil(req.DemandSourceID) {
		return apperror.NewValidation("demand source is required")
	}
	return nil
}

// reserveFromLot takes min(available, remaining) from one lot under the CAS
// retry loop, keeping the stock-record mirror in step.
func (e *Engine) reserveFromLot(ctx context.Context, lot *Lot, remaining types.Quantity, req AllocateRequest, exec execctx.Exec) (types.Quantity, Reservation, error) {
	for attempt := 0; ; attempt++ {
		take := lot.Available().Min(remaining)
		if !take.IsPositive() {
			return 0, Reservation{}, nil
		}

		if err := lot.Reserve(take); err != nil {
			return 0, Reservation{}, err
		}
		ok, err := e.repo.UpdateLotIf(ctx, lot, lot.Version)
		if err != nil {
			return 0, Reservation{}, fmt.Errorf("update lot %s: %w", lot.ID, err)
		}
		if !ok {
			if attempt+1 >= maxCASRetries {
				return 0, Reservation{}, apperror.NewConcurrentModification("lot", lot.ID)
			}
			// Lost the race: re-read inside the same transaction and retry.
			fresh, err := e.repo.GetLot(ctx, lot.ID)
			if err != nil {
				return 0, Reservation{}, fmt.Errorf("reread lot %s: %w", lot.ID, err)
			}
			*lot = fresh
			continue
		}

		if err := e.adjustStockMirror(ctx, lot.StockRecordID, take); err != nil {
			return 0, Reservation{}, err
		}

		res := Reservation{
			ID:               id.New(),
			LotID:            lot.ID,
			StockRecordID:    lot.StockRecordID,
			WarehouseID:      lot.WarehouseID,
			LocationID:       lot.LocationID,
			ItemID:           lot.ItemID,
			DemandSourceID:   req.DemandSourceID,
			DemandSourceType: req.DemandSourceType,
			QtyEach:          take,
			IdempotencyKey:   req.IdempotencyKey,
			CreatedAt:        exec.Timestamp(),
		}
		return take, res, nil
	}
}

// adjustStockMirror applies a reserved-quantity delta to the aggregate row
// under its own CAS retry loop.
func (e *Engine) adjustStockMirror(ctx context.Context, stockRecordID id.ID, delta types.Quantity) error {
	for attempt := 0; ; attempt++ {
		rec, err := e.repo.GetStockRecord(ctx, stockRecordID)
		if err != nil {
			return fmt.Errorf("get stock record %s: %w", stockRecordID, err)
		}
		if err := rec.ApplyReserve(delta); err != nil {
			return err
		}
		ok, err := e.repo.UpdateStockRecordIf(ctx, &rec, rec.LockVersion)
		if err != nil {
			return fmt.Errorf("update stock record %s: %w", stockRecordID, err)
		}
		if ok {
			return nil
		}
		if attempt+1 >= maxCASRetries {
			return apperror.NewConcurrentModification("stock_record", stockRecordID)
		}
	}
}

// Release is the compensating operation: it restores lot and stock-record
// counters from the demand source's reservation rows and deletes them.
// Idempotent: a second call finds no rows and does nothing.
func (e *Engine) Release(ctx context.Context, sourceType DemandSourceType, demandSourceID id.ID) error {
	return e.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		reservations, err := e.repo.ListReservationsByDemand(ctx, sourceType, demandSourceID)
		if err != nil {
			return fmt.Errorf("list reservations: %w", err)
		}
		if len(reservations) == 0 {
			return nil
		}

		for _, res := range reservations {
			if err := e.releaseFromLot(ctx, res.LotID, res.QtyEach); err != nil {
				return err
			}
			if err := e.adjustStockMirror(ctx, res.StockRecordID, res.QtyEach.Neg()); err != nil {
				return err
			}
		}

		ids := make([]id.ID, 0, len(reservations))
		for _, res := range reservations {
			ids = append(ids, res.ID)
		}
		if err := e.repo.DeleteReservations(ctx, ids); err != nil {
			return fmt.Errorf("delete reservations: %w", err)
		}

		logger.Info(ctx, "reservations released",
			"demand_source_id", demandSourceID,
			"demand_source_type", sourceType,
			"count", len(reservations),
		)
		return nil
	})
}

func (e *Engine) releaseFromLot(ctx context.Context, lotID id.ID, qty types.Quantity) error {
	for attempt := 0; ; attempt++ {
		lot, err := e.repo.GetLot(ctx, lotID)
		if err != nil {
			return fmt.Errorf("get lot %s: %w", lotID, err)
		}
		if err := lot.ReleaseReserved(qty); err != nil {
			return err
		}
		ok, err := e.repo.UpdateLotIf(ctx, &lot, lot.Version)
		if err != nil {
			return fmt.Errorf("update lot %s: %w", lotID, err)
		}
		if ok {
			return nil
		}
		if attempt+1 >= maxCASRetries {
			return apperror.NewConcurrentModification("lot", lotID)
		}
	}
}

// CommitPick burns pickedEach out of the demand source's reservations in
// reservation order, releases whatever was reserved but not picked, archives
// lots that deplete, and deletes the reservation rows. Called when a picking
// item result completes.
func (e *Engine) CommitPick(ctx context.Context, sourceType DemandSourceType, demandSourceID id.ID, pickedEach types.Quantity) error {
	if pickedEach.IsNegative() {
		return apperror.NewValidation("picked quantity cannot be negative")
	}

	exec := execctx.From(ctx)
	return e.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		reservations, err := e.repo.ListReservationsByDemand(ctx, sourceType, demandSourceID)
		if err != nil {
			return fmt.Errorf("list reservations: %w", err)
		}
		if len(reservations) == 0 {
			return nil
		}

		remaining := pickedEach
		for _, res := range reservations {
			picked := res.QtyEach.Min(remaining)
			remaining -= picked
			leftover := res.QtyEach - picked

			if err := e.commitPickOnLot(ctx, res.LotID, picked, leftover, exec); err != nil {
				return err
			}
			if picked.IsPositive() {
				if err := e.applyPickMirror(ctx, res.StockRecordID, picked); err != nil {
					return err
				}
			}
			if leftover.IsPositive() {
				if err := e.adjustStockMirror(ctx, res.StockRecordID, leftover.Neg()); err != nil {
					return err
				}
			}
		}

		ids := make([]id.ID, 0, len(reservations))
		for _, res := range reservations {
			ids = append(ids, res.ID)
		}
		if err := e.repo.DeleteReservations(ctx, ids); err != nil {
			return fmt.Errorf("delete reservations: %w", err)
		}
		return nil
	})
}

func (e *Engine) commitPickOnLot(ctx context.Context, lotID id.ID, picked, leftover types.Quantity, exec execctx.Exec) error {
	for attempt := 0; ; attempt++ {
		lot, err := e.repo.GetLot(ctx, lotID)
		if err != nil {
			return fmt.Errorf("get lot %s: %w", lotID, err)
		}
		if picked.IsPositive() {
			if err := lot.ConsumePicked(picked); err != nil {
				return err
			}
		}
		if leftover.IsPositive() {
			if err := lot.ReleaseReserved(leftover); err != nil {
				return err
			}
		}
		ok, err := e.repo.UpdateLotIf(ctx, &lot, lot.Version)
		if err != nil {
			return fmt.Errorf("update lot %s: %w", lotID, err)
		}
		if ok {
			if lot.Status == LotDepleted {
				return e.archiveLot(ctx, lot, ArchiveDepleted, exec)
			}
			return nil
		}
		if attempt+1 >= maxCASRetries {
			return apperror.NewConcurrentModification("lot", lotID)
		}
	}
}

func (e *Engine) applyPickMirror(ctx context.Context, stockRecordID id.ID, picked types.Quantity) error {
	for attempt := 0; ; attempt++ {
		rec, err := e.repo.GetStockRecord(ctx, stockRecordID)
		if err != nil {
			return fmt.Errorf("get stock record %s: %w", stockRecordID, err)
		}
		if err := rec.ApplyPick(picked); err != nil {
			return err
		}
		ok, err := e.repo.UpdateStockRecordIf(ctx, &rec, rec.LockVersion)
		if err != nil {
			return fmt.Errorf("update stock record %s: %w", stockRecordID, err)
		}
		if ok {
			return nil
		}
		if attempt+1 >= maxCASRetries {
			return apperror.NewConcurrentModification("stock_record", stockRecordID)
		}
	}
}

// ExpireLots sweeps a warehouse for active lots past their expiration date
// with no outstanding reservation, flips them to EXPIRED and archives them.
// Returns the number of lots expired.
func (e *Engine) ExpireLots(ctx context.Context, warehouseID id.ID) (int, error) {
	exec := execctx.From(ctx)
	expired := 0

	err := e.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		lots, err := e.repo.ListExpiredActiveLots(ctx, warehouseID, exec.Today)
		if err != nil {
			return fmt.Errorf("list expired lots: %w", err)
		}

		for i := range lots {
			lot := lots[i]
			if lot.ReservedQty.IsPositive() {
				// Still serving a pick; the sweep catches it next time.
				continue
			}
			if !CanTransitionLot(lot.Status, LotExpired) {
				continue
			}
			lot.Status = LotExpired
			ok, err := e.repo.UpdateLotIf(ctx, &lot, lot.Version)
			if err != nil {
				return fmt.Errorf("update lot %s: %w", lot.ID, err)
			}
			if !ok {
				continue
			}
			if err := e.archiveLot(ctx, lot, ArchiveExpired, exec); err != nil {
				return err
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if expired > 0 {
		logger.Info(ctx, "lots expired", "warehouse_id", warehouseID, "count", expired)
	}
	return expired, nil
}

func (e *Engine) archiveLot(ctx context.Context, lot Lot, reason ArchiveReason, exec execctx.Exec) error {
	snapshot, err := json.Marshal(lot)
	if err != nil {
		return fmt.Errorf("marshal lot snapshot: %w", err)
	}
	archive := LotArchive{
		ID:          id.New(),
		LotID:       lot.ID,
		WarehouseID: lot.WarehouseID,
		ItemID:      lot.ItemID,
		Reason:      reason,
		Snapshot:    snapshot,
		ArchivedAt:  exec.Timestamp(),
	}
	if err := e.repo.ArchiveLot(ctx, archive); err != nil {
		return fmt.Errorf("archive lot %s: %w", lot.ID, err)
	}
	return nil
}

// LastStockedLocation exposes the stocking-history fallback used by wave
// grouping when a line allocated nothing.
func (e *Engine) LastStockedLocation(ctx context.Context, warehouseID, itemID id.ID) (id.ID, error) {
	return e.repo.LastStockedLocation(ctx, warehouseID, itemID)
}
