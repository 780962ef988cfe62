package shortage

import (
	"context"
	"fmt"

	"wavepick/internal/core/apperror"
	"wavepick/internal/core/execctx"
	"wavepick/internal/core/id"
	"wavepick/internal/core/tx"
	"wavepick/internal/core/types"
	"wavepick/internal/core/unit"
	"wavepick/internal/domain/catalog"
	"wavepick/internal/domain/reservation"
	"wavepick/internal/domain/wave"
	"wavepick/pkg/logger"
)

// TaskCompleter re-evaluates a picking task's completion after an approval
// lands. The wave orchestrator implements it; the interface breaks the
// construction cycle between the two services.
type TaskCompleter interface {
	ReevaluateTaskCompletion(ctx context.Context, taskID id.ID) error
}

// TransferItem is one line of an inter-warehouse transfer instruction.
type TransferItem struct {
	ItemCode      string            `json:"item_code"`
	Quantity      types.Quantity    `json:"quantity"`
	QuantityType  unit.QuantityType `json:"quantity_type"`
	PurchasePrice types.Money       `json:"purchase_price"`
}

// TransferInstruction is the side-channel message emitted when a fulfilled
// proxy shipment must move stock between warehouses. RequestID is the
// originating allocation id and doubles as the consumer's idempotency key.
type TransferInstruction struct {
	SlipNumber        string         `json:"slip_number"`
	Items             []TransferItem `json:"items"`
	FromWarehouseCode string         `json:"from_warehouse_code"`
	ToWarehouseCode   string         `json:"to_warehouse_code"`
	RequestID         string         `json:"request_id"`
}

// TransferEmitter hands a transfer instruction to the delivery channel. The
// outbox implementation enqueues it inside the calling transaction; nothing
// blocks on the broker.
type TransferEmitter interface {
	EmitTransfer(ctx context.Context, instruction TransferInstruction) error
}

// SlipNumerator issues transfer slip numbers.
type SlipNumerator interface {
	NextSlipNumber(ctx context.Context) (string, error)
}

// Manager drives the shortage lifecycle.
type Manager struct {
	repo      Repository
	waves     wave.Repository
	catalog   catalog.Repository
	stock     wave.StockAllocator
	emitter   TransferEmitter
	slips     SlipNumerator
	txManager tx.Manager
	completer TaskCompleter
}

// NewManager creates a shortage lifecycle manager. The task completer is
// wired afterwards via SetTaskCompleter because the orchestrator is built
// on top of the manager.
func NewManager(
	repo Repository,
	waveRepo wave.Repository,
	catalogRepo catalog.Repository,
	stock wave.StockAllocator,
	emitter TransferEmitter,
	slips SlipNumerator,
	txManager tx.Manager,
) *Manager {
	return &Manager{
		repo:      repo,
		waves:     waveRepo,
		catalog:   catalogRepo,
		stock:     stock,
		emitter:   emitter,
		slips:     slips,
		txManager: txManager,
	}
}

// SetTaskCompleter wires the approval feedback path.
func (m *Manager) SetTaskCompleter(completer TaskCompleter) {
	m.completer = completer
}

// --- detectors (wave.ShortageGate) ---

// RecordAllocationShortage registers the post-reservation deficit of an item
// result.
func (m *Manager) RecordAllocationShortage(ctx context.Context, item wave.PickingItemResult) error {
	deficit := item.OrderedQtyEach - item.PlannedQtyEach
	if !deficit.IsPositive() {
		return nil
	}

	task, err := m.waves.GetTask(ctx, item.TaskID)
	if err != nil {
		return fmt.Errorf("get picking task: %w", err)
	}

	exec := execctx.From(ctx)
	s := Shortage{
		ID:                    id.New(),
		WaveID:                item.WaveID,
		TaskID:                item.TaskID,
		ItemResultID:          item.ID,
		WarehouseID:           task.WarehouseID,
		ItemID:                item.ItemID,
		TradeID:               item.TradeID,
		OrderQtyEach:          item.OrderedQtyEach,
		PlannedQtyEach:        item.PlannedQtyEach,
		ShortageQtyEach:       deficit,
		AllocationShortageQty: deficit,
		QtyTypeAtOrder:        item.OrderUnit,
		CaseSize:              item.CaseSize,
		Status:                StatusOpen,
		Reason:                ReasonNoStock,
		CreatedAt:             exec.Timestamp(),
		UpdatedAt:             exec.Timestamp(),
	}
	if err := m.repo.CreateShortage(ctx, s); err != nil {
		return fmt.Errorf("create shortage: %w", err)
	}

	logger.Info(ctx, "allocation shortage recorded",
		"shortage_id", s.ID,
		"item_result_id", item.ID,
		"shortage_each", deficit,
	)
	return nil
}

// RecordPickingShortage registers the post-picking deficit of a completed
// item result, accumulating onto an existing open shortage when the
// allocation stage already created one.
func (m *Manager) RecordPickingShortage(ctx context.Context, item wave.PickingItemResult) error {
	// A line without a declared unit cannot convert proxy quantities later;
	// that is a configuration error, not something to default silently.
	if !item.OrderUnit.Valid() {
		return apperror.NewValidation("order line has no declared quantity unit").
			WithDetail("item_result_id", item.ID)
	}

	deficit := item.PlannedQtyEach - item.PickedQtyEach
	if !deficit.IsPositive() {
		return nil
	}

	exec := execctx.From(ctx)
	existing, err := m.repo.FindOpenByItemResult(ctx, item.ID)
	switch {
	case err == nil:
		existing.PickedQtyEach = item.PickedQtyEach
		existing.PickingShortageQty = deficit
		existing.ShortageQtyEach = existing.AllocationShortageQty + deficit
		existing.UpdatedAt = exec.Timestamp()
		if err := m.repo.UpdateShortage(ctx, existing); err != nil {
			return fmt.Errorf("accumulate shortage: %w", err)
		}
		logger.Info(ctx, "picking shortage accumulated",
			"shortage_id", existing.ID, "shortage_each", existing.ShortageQtyEach)
		return nil

	case apperror.IsNotFound(err):
		task, err := m.waves.GetTask(ctx, item.TaskID)
		if err != nil {
			return fmt.Errorf("get picking task: %w", err)
		}
		s := Shortage{
			ID:                 id.New(),
			WaveID:             item.WaveID,
			TaskID:             item.TaskID,
			ItemResultID:       item.ID,
			WarehouseID:        task.WarehouseID,
			ItemID:             item.ItemID,
			TradeID:            item.TradeID,
			OrderQtyEach:       item.OrderedQtyEach,
			PlannedQtyEach:     item.PlannedQtyEach,
			PickedQtyEach:      item.PickedQtyEach,
			ShortageQtyEach:    deficit,
			PickingShortageQty: deficit,
			QtyTypeAtOrder:     item.OrderUnit,
			CaseSize:           item.CaseSize,
			Status:             StatusOpen,
			Reason:             ReasonPickingShort,
			CreatedAt:          exec.Timestamp(),
			UpdatedAt:          exec.Timestamp(),
		}
		if err := m.repo.CreateShortage(ctx, s); err != nil {
			return fmt.Errorf("create shortage: %w", err)
		}
		logger.Info(ctx, "picking shortage recorded",
			"shortage_id", s.ID, "shortage_each", deficit)
		return nil

	default:
		return fmt.Errorf("find open shortage: %w", err)
	}
}

// AllApproved reports whether every shortage referencing the item results
// carries approval.
func (m *Manager) AllApproved(ctx context.Context, itemResultIDs []id.ID) (bool, error) {
	shortages, err := m.repo.ListByItemResults(ctx, itemResultIDs)
	if err != nil {
		return false, fmt.Errorf("list shortages: %w", err)
	}
	for _, s := range shortages {
		if !s.IsConfirmed {
			return false, nil
		}
	}
	return true, nil
}

// DiscardForWave drops a wave's shortage records during reset.
func (m *Manager) DiscardForWave(ctx context.Context, waveID id.ID) error {
	return m.repo.DeleteByWave(ctx, waveID)
}

// --- proxy shipment allocations ---

// CreateProxyRequest describes a new proxy shipment allocation.
type CreateProxyRequest struct {
	ShortageID      id.ID
	FromWarehouseID id.ID
	Qty             types.Quantity
	Unit            unit.QuantityType
}

// CreateProxyShipment creates a PENDING allocation against a shortage and
// flips the shortage to REALLOCATING.
func (m *Manager) CreateProxyShipment(ctx context.Context, req CreateProxyRequest) (Allocation, error) {
	if !req.Qty.IsPositive() {
		return Allocation{}, apperror.NewValidation("allocation quantity must be positive")
	}

	exec := execctx.From(ctx)
	var created Allocation

	err := m.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		s, err := m.repo.GetShortage(ctx, req.ShortageID)
		if err != nil {
			return err
		}
		// The allocation must be expressed in the original order's unit.
		// Accepting another unit here would silently drift quantities.
		if req.Unit != s.QtyTypeAtOrder {
			return apperror.NewValidation("allocation unit does not match the original order").
				WithDetail("shortage_id", s.ID).
				WithDetail("order_unit", string(s.QtyTypeAtOrder)).
				WithDetail("allocation_unit", string(req.Unit))
		}

		requestedEach, err := s.CaseSize.ToEach(req.Qty, req.Unit)
		if err != nil {
			return err
		}
		_, activeEach, err := m.activeCoverage(ctx, s)
		if err != nil {
			return err
		}
		if activeEach+requestedEach > s.ShortageQtyEach {
			logger.Warn(ctx, "proxy allocation exceeds remaining shortage",
				"shortage_id", s.ID,
				"remaining_each", s.ShortageQtyEach-activeEach,
				"requested_each", requestedEach,
			)
		}

		created = Allocation{
			ID:              id.New(),
			ShortageID:      s.ID,
			FromWarehouseID: req.FromWarehouseID,
			AssignQty:       req.Qty,
			Unit:            req.Unit,
			Status:          AllocationPending,
			CreatedBy:       exec.ActorID,
			CreatedAt:       exec.Timestamp(),
			UpdatedAt:       exec.Timestamp(),
		}
		if err := m.repo.CreateAllocation(ctx, created); err != nil {
			return fmt.Errorf("create allocation: %w", err)
		}

		if s.Status != StatusReallocating {
			if err := s.Transition(StatusReallocating); err != nil {
				return err
			}
		}
		s.UpdatedAt = exec.Timestamp()
		return m.repo.UpdateShortage(ctx, s)
	})
	if err != nil {
		return Allocation{}, err
	}

	logger.Info(ctx, "proxy shipment created",
		"allocation_id", created.ID,
		"shortage_id", created.ShortageID,
		"from_warehouse_id", created.FromWarehouseID,
		"assign_qty", created.AssignQty,
	)
	return created, nil
}

// UpdateProxyShipment changes a pending allocation's quantity and re-derives
// the shortage status.
func (m *Manager) UpdateProxyShipment(ctx context.Context, allocationID id.ID, qty types.Quantity) (Allocation, error) {
	if !qty.IsPositive() {
		return Allocation{}, apperror.NewValidation("allocation quantity must be positive")
	}

	exec := execctx.From(ctx)
	var updated Allocation

	err := m.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		a, err := m.repo.GetAllocation(ctx, allocationID)
		if err != nil {
			return err
		}
		if a.Status != AllocationPending {
			return apperror.NewInvariantViolation("only pending allocations can be edited").
				WithDetail("allocation_id", a.ID).
				WithDetail("status", string(a.Status))
		}
		a.AssignQty = qty
		a.UpdatedAt = exec.Timestamp()
		if err := m.repo.UpdateAllocation(ctx, a); err != nil {
			return fmt.Errorf("update allocation: %w", err)
		}
		updated = a
		return m.rederiveStatus(ctx, a.ShortageID)
	})
	if err != nil {
		return Allocation{}, err
	}
	return updated, nil
}

// CancelProxyShipment cancels an allocation, releasing any proxy reservation
// it holds, and re-derives the shortage status. Cancelling the last active
// allocation reverts the shortage to OPEN.
func (m *Manager) CancelProxyShipment(ctx context.Context, allocationID id.ID) error {
	exec := execctx.From(ctx)

	return m.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		a, err := m.repo.GetAllocation(ctx, allocationID)
		if err != nil {
			return err
		}
		wasReserved := a.Status == AllocationReserved
		if err := a.Transition(AllocationCancelled); err != nil {
			return err
		}
		if wasReserved {
			if err := m.stock.Release(ctx, reservation.DemandProxyAllocation, a.ID); err != nil {
				return fmt.Errorf("release proxy reservation: %w", err)
			}
		}
		a.UpdatedAt = exec.Timestamp()
		if err := m.repo.UpdateAllocation(ctx, a); err != nil {
			return fmt.Errorf("update allocation: %w", err)
		}

		logger.Info(ctx, "proxy shipment cancelled", "allocation_id", a.ID)
		return m.rederiveStatus(ctx, a.ShortageID)
	})
}

// ReserveAllocation reserves stock for the allocation in the source
// warehouse and advances it to RESERVED. A remote deficit is logged; the
// picking stage will surface it as a child shortage.
func (m *Manager) ReserveAllocation(ctx context.Context, allocationID id.ID) error {
	return m.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		a, err := m.repo.GetAllocation(ctx, allocationID)
		if err != nil {
			return err
		}
		s, err := m.repo.GetShortage(ctx, a.ShortageID)
		if err != nil {
			return err
		}

		result, err := m.stock.Allocate(ctx, reservation.AllocateRequest{
			WarehouseID:      a.FromWarehouseID,
			ItemID:           s.ItemID,
			Qty:              a.AssignQty,
			Unit:             a.Unit,
			CaseSize:         s.CaseSize,
			DemandSourceID:   a.ID,
			DemandSourceType: reservation.DemandProxyAllocation,
			IdempotencyKey:   fmt.Sprintf("proxy:%s", a.ID),
		})
		if err != nil {
			return fmt.Errorf("reserve proxy stock: %w", err)
		}
		if result.AllocatedEach < result.RequestedEach {
			logger.Warn(ctx, "proxy reservation under-allocated",
				"allocation_id", a.ID,
				"requested_each", result.RequestedEach,
				"allocated_each", result.AllocatedEach,
			)
		}

		if err := a.Transition(AllocationReserved); err != nil {
			return err
		}
		a.UpdatedAt = execctx.From(ctx).Timestamp()
		return m.repo.UpdateAllocation(ctx, a)
	})
}

// StartAllocationPicking advances a reserved allocation to PICKING.
func (m *Manager) StartAllocationPicking(ctx context.Context, allocationID id.ID) error {
	return m.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		a, err := m.repo.GetAllocation(ctx, allocationID)
		if err != nil {
			return err
		}
		if err := a.Transition(AllocationPicking); err != nil {
			return err
		}
		a.UpdatedAt = execctx.From(ctx).Timestamp()
		return m.repo.UpdateAllocation(ctx, a)
	})
}

// CompleteAllocationPicking records the source warehouse's pick for an
// allocation: commits the proxy reservation, emits the transfer instruction
// when anything was picked, and opens a child shortage when the remote pick
// fell short.
func (m *Manager) CompleteAllocationPicking(ctx context.Context, allocationID id.ID, pickedEach types.Quantity) error {
	if pickedEach.IsNegative() {
		return apperror.NewValidation("picked quantity cannot be negative")
	}

	exec := execctx.From(ctx)
	return m.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		a, err := m.repo.GetAllocation(ctx, allocationID)
		if err != nil {
			return err
		}
		s, err := m.repo.GetShortage(ctx, a.ShortageID)
		if err != nil {
			return err
		}
		assignEach, err := a.AssignQtyEach(s.CaseSize)
		if err != nil {
			return err
		}

		if err := m.stock.CommitPick(ctx, reservation.DemandProxyAllocation, a.ID, pickedEach); err != nil {
			return fmt.Errorf("commit proxy pick: %w", err)
		}

		next := AllocationFulfilled
		if pickedEach < assignEach {
			next = AllocationShortage
		}
		if err := a.Transition(next); err != nil {
			return err
		}
		a.PickedQtyEach = pickedEach
		a.UpdatedAt = exec.Timestamp()
		if err := m.repo.UpdateAllocation(ctx, a); err != nil {
			return fmt.Errorf("update allocation: %w", err)
		}

		if next == AllocationShortage {
			if err := m.createChildShortage(ctx, s, a, assignEach, pickedEach); err != nil {
				return err
			}
		}
		if pickedEach.IsPositive() {
			if err := m.emitTransfer(ctx, s, a, pickedEach); err != nil {
				return err
			}
		}
		return nil
	})
}

// createChildShortage records a deficit detected during the proxy shipment's
// own picking, linked to the originating shortage.
func (m *Manager) createChildShortage(ctx context.Context, parent Shortage, a Allocation, assignEach, pickedEach types.Quantity) error {
	exec := execctx.From(ctx)
	deficit := assignEach - pickedEach

	child := Shortage{
		ID:                 id.New(),
		WaveID:             parent.WaveID,
		TaskID:             parent.TaskID,
		ItemResultID:       parent.ItemResultID,
		WarehouseID:        a.FromWarehouseID,
		ItemID:             parent.ItemID,
		TradeID:            parent.TradeID,
		ParentShortageID:   &parent.ID,
		OrderQtyEach:       assignEach,
		PlannedQtyEach:     assignEach,
		PickedQtyEach:      pickedEach,
		ShortageQtyEach:    deficit,
		PickingShortageQty: deficit,
		QtyTypeAtOrder:     parent.QtyTypeAtOrder,
		CaseSize:           parent.CaseSize,
		Status:             StatusOpen,
		Reason:             ReasonPickingShort,
		CreatedAt:          exec.Timestamp(),
		UpdatedAt:          exec.Timestamp(),
	}
	if err := m.repo.CreateShortage(ctx, child); err != nil {
		return fmt.Errorf("create child shortage: %w", err)
	}
	logger.Info(ctx, "child shortage recorded for proxy pick",
		"shortage_id", child.ID,
		"parent_shortage_id", parent.ID,
		"shortage_each", deficit,
	)
	return nil
}

// emitTransfer enqueues the inter-warehouse transfer instruction for a
// picked allocation.
func (m *Manager) emitTransfer(ctx context.Context, s Shortage, a Allocation, pickedEach types.Quantity) error {
	slip, err := m.slips.NextSlipNumber(ctx)
	if err != nil {
		return fmt.Errorf("next slip number: %w", err)
	}
	item, err := m.catalog.GetItem(ctx, s.ItemID)
	if err != nil {
		return fmt.Errorf("get item: %w", err)
	}
	from, err := m.catalog.GetWarehouse(ctx, a.FromWarehouseID)
	if err != nil {
		return fmt.Errorf("get source warehouse: %w", err)
	}
	to, err := m.catalog.GetWarehouse(ctx, s.WarehouseID)
	if err != nil {
		return fmt.Errorf("get target warehouse: %w", err)
	}

	// Report in the order unit when the picked amount divides evenly;
	// otherwise fall back to pieces.
	qty, qtyType := pickedEach, unit.Piece
	if inUnit, err := s.CaseSize.InUnit(pickedEach, a.Unit); err == nil {
		qty, qtyType = inUnit, a.Unit
	}

	instruction := TransferInstruction{
		SlipNumber: slip,
		Items: []TransferItem{{
			ItemCode:      item.Code,
			Quantity:      qty,
			QuantityType:  qtyType,
			PurchasePrice: item.PurchasePrice,
		}},
		FromWarehouseCode: from.Code,
		ToWarehouseCode:   to.Code,
		RequestID:         a.ID.String(),
	}
	if err := m.emitter.EmitTransfer(ctx, instruction); err != nil {
		return fmt.Errorf("emit transfer: %w", err)
	}

	logger.Info(ctx, "transfer instruction emitted",
		"slip_number", slip,
		"request_id", instruction.RequestID,
		"from", from.Code,
		"to", to.Code,
	)
	return nil
}

// --- confirmation and approval ---

// ConfirmShortage sums the active allocations onto the originating item
// result, marks it ready to ship, and sets the shortage CONFIRMED.
func (m *Manager) ConfirmShortage(ctx context.Context, shortageID id.ID) error {
	exec := execctx.From(ctx)

	return m.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		s, err := m.repo.GetShortage(ctx, shortageID)
		if err != nil {
			return err
		}

		activeCount, activeEach, err := m.activeCoverage(ctx, s)
		if err != nil {
			return err
		}
		if activeCount == 0 {
			return apperror.NewInvariantViolation("shortage has no active allocation to confirm").
				WithDetail("shortage_id", s.ID)
		}

		item, err := m.waves.GetItemResult(ctx, s.ItemResultID)
		if err != nil {
			return err
		}
		item.ShortageAllocatedQty = activeEach
		item.IsReadyToShipment = true
		if err := m.waves.UpdateItemResult(ctx, item); err != nil {
			return fmt.Errorf("update item result: %w", err)
		}

		if err := s.Transition(StatusConfirmed); err != nil {
			return err
		}
		s.UpdatedAt = exec.Timestamp()
		if err := m.repo.UpdateShortage(ctx, s); err != nil {
			return fmt.Errorf("update shortage: %w", err)
		}

		logger.Info(ctx, "shortage confirmed",
			"shortage_id", s.ID, "allocated_each", activeEach)
		return nil
	})
}

// CancelShortageConfirmation is the exact inverse of ConfirmShortage.
// Rejected once the shortage carries approval or when it was never
// confirmed.
func (m *Manager) CancelShortageConfirmation(ctx context.Context, shortageID id.ID) error {
	exec := execctx.From(ctx)

	return m.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		s, err := m.repo.GetShortage(ctx, shortageID)
		if err != nil {
			return err
		}
		if s.IsConfirmed {
			return apperror.NewInvariantViolation("cannot cancel confirmation of an approved shortage").
				WithDetail("shortage_id", s.ID)
		}
		if s.Status == StatusOpen {
			return apperror.NewInvariantViolation("shortage was never confirmed").
				WithDetail("shortage_id", s.ID)
		}

		item, err := m.waves.GetItemResult(ctx, s.ItemResultID)
		if err != nil {
			return err
		}
		item.ShortageAllocatedQty = 0
		item.IsReadyToShipment = false
		if err := m.waves.UpdateItemResult(ctx, item); err != nil {
			return fmt.Errorf("update item result: %w", err)
		}

		activeCount, activeEach, err := m.activeCoverage(ctx, s)
		if err != nil {
			return err
		}
		derived := s.DeriveStatus(activeCount, activeEach)
		if derived != s.Status {
			if err := s.Transition(derived); err != nil {
				return err
			}
		}
		s.UpdatedAt = exec.Timestamp()
		if err := m.repo.UpdateShortage(ctx, s); err != nil {
			return fmt.Errorf("update shortage: %w", err)
		}

		logger.Info(ctx, "shortage confirmation cancelled", "shortage_id", s.ID)
		return nil
	})
}

// ApproveShortage sets the approval flag and re-evaluates the owning task's
// completion within the same operation.
func (m *Manager) ApproveShortage(ctx context.Context, shortageID id.ID) error {
	exec := execctx.From(ctx)

	return m.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		s, err := m.repo.GetShortage(ctx, shortageID)
		if err != nil {
			return err
		}
		if s.IsConfirmed {
			return apperror.NewInvariantViolation("shortage is already approved").
				WithDetail("shortage_id", s.ID)
		}

		s.IsConfirmed = true
		s.ApprovedBy = exec.ActorID
		s.UpdatedAt = exec.Timestamp()
		if err := m.repo.UpdateShortage(ctx, s); err != nil {
			return fmt.Errorf("update shortage: %w", err)
		}

		logger.Info(ctx, "shortage approved",
			"shortage_id", s.ID, "approved_by", exec.ActorID)

		if m.completer == nil {
			return nil
		}
		return m.completer.ReevaluateTaskCompletion(ctx, s.TaskID)
	})
}

// activeCoverage sums the non-cancelled allocations of a shortage in eaches.
func (m *Manager) activeCoverage(ctx context.Context, s Shortage) (int, types.Quantity, error) {
	allocations, err := m.repo.ListAllocationsByShortage(ctx, s.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("list allocations: %w", err)
	}
	var count int
	var sum types.Quantity
	for _, a := range allocations {
		if !a.IsActive() {
			continue
		}
		each, err := a.AssignQtyEach(s.CaseSize)
		if err != nil {
			return 0, 0, err
		}
		count++
		sum += each
	}
	return count, sum, nil
}

// rederiveStatus recomputes a shortage's coverage status from its active
// allocations.
func (m *Manager) rederiveStatus(ctx context.Context, shortageID id.ID) error {
	s, err := m.repo.GetShortage(ctx, shortageID)
	if err != nil {
		return err
	}
	activeCount, activeEach, err := m.activeCoverage(ctx, s)
	if err != nil {
		return err
	}
	derived := s.DeriveStatus(activeCount, activeEach)
	if derived == s.Status {
		return nil
	}
	if err := s.Transition(derived); err != nil {
		return err
	}
	s.UpdatedAt = execctx.From(ctx).Timestamp()
	return m.repo.UpdateShortage(ctx, s)
}

// GetShortage returns one shortage by id.
func (m *Manager) GetShortage(ctx context.Context, shortageID id.ID) (Shortage, error) {
	return m.repo.GetShortage(ctx, shortageID)
}

// ListAllocations returns a shortage's proxy shipment allocations.
func (m *Manager) ListAllocations(ctx context.Context, shortageID id.ID) ([]Allocation, error) {
	return m.repo.ListAllocationsByShortage(ctx, shortageID)
}
