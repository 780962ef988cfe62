package reservation

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wavepick/internal/core/apperror"
	"wavepick/internal/core/execctx"
	"wavepick/internal/core/id"
	"wavepick/internal/core/types"
	"wavepick/internal/core/unit"
)

// fakeTxManager runs the callback directly; the in-memory repo has no
// transactional semantics to exercise.
type fakeTxManager struct{}

func (fakeTxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// memRepo is an in-memory Repository for engine tests.
type memRepo struct {
	lots         map[id.ID]Lot
	stockRecords map[id.ID]StockRecord
	reservations map[id.ID]Reservation
	archives     []LotArchive

	// lotConflicts injects n CAS failures per lot id before writes succeed.
	lotConflicts map[id.ID]int
}

func newMemRepo() *memRepo {
	return &memRepo{
		lots:         make(map[id.ID]Lot),
		stockRecords: make(map[id.ID]StockRecord),
		reservations: make(map[id.ID]Reservation),
		lotConflicts: make(map[id.ID]int),
	}
}

func (r *memRepo) ListAllocatableLots(_ context.Context, warehouseID, itemID id.ID) ([]Lot, error) {
	var out []Lot
	for _, lot := range r.lots {
		if lot.WarehouseID == warehouseID && lot.ItemID == itemID &&
			lot.Status == LotActive && lot.Available().IsPositive() {
			out = append(out, lot)
		}
	}
	return out, nil
}

func (r *memRepo) GetLot(_ context.Context, lotID id.ID) (Lot, error) {
	lot, ok := r.lots[lotID]
	if !ok {
		return Lot{}, apperror.NewNotFound("lot", lotID)
	}
	return lot, nil
}

func (r *memRepo) UpdateLotIf(_ context.Context, lot *Lot, expectedVersion int) (bool, error) {
	stored, ok := r.lots[lot.ID]
	if !ok {
		return false, apperror.NewNotFound("lot", lot.ID)
	}
	if r.lotConflicts[lot.ID] > 0 {
		r.lotConflicts[lot.ID]--
		return false, nil
	}
	if stored.Version != expectedVersion {
		return false, nil
	}
	next := *lot
	next.Version = expectedVersion + 1
	r.lots[lot.ID] = next
	lot.Version = next.Version
	return true, nil
}

func (r *memRepo) GetStockRecord(_ context.Context, stockRecordID id.ID) (StockRecord, error) {
	rec, ok := r.stockRecords[stockRecordID]
	if !ok {
		return StockRecord{}, apperror.NewNotFound("stock_record", stockRecordID)
	}
	return rec, nil
}

func (r *memRepo) UpdateStockRecordIf(_ context.Context, rec *StockRecord, expectedVersion int) (bool, error) {
	stored, ok := r.stockRecords[rec.ID]
	if !ok {
		return false, apperror.NewNotFound("stock_record", rec.ID)
	}
	if stored.LockVersion != expectedVersion {
		return false, nil
	}
	next := *rec
	next.LockVersion = expectedVersion + 1
	r.stockRecords[rec.ID] = next
	rec.LockVersion = next.LockVersion
	return true, nil
}

func (r *memRepo) ListExpiredActiveLots(_ context.Context, warehouseID id.ID, today time.Time) ([]Lot, error) {
	var out []Lot
	for _, lot := range r.lots {
		if lot.WarehouseID == warehouseID && lot.Status == LotActive && lot.IsExpiredAt(today) {
			out = append(out, lot)
		}
	}
	return out, nil
}

func (r *memRepo) LastStockedLocation(_ context.Context, warehouseID, itemID id.ID) (id.ID, error) {
	var best *Lot
	for _, lot := range r.lots {
		lot := lot
		if lot.WarehouseID != warehouseID || lot.ItemID != itemID {
			continue
		}
		if best == nil || lot.ReceivedAt.After(best.ReceivedAt) {
			best = &lot
		}
	}
	if best == nil {
		return id.Nil(), apperror.NewNotFound("stocked location", itemID)
	}
	return best.LocationID, nil
}

func (r *memRepo) CreateReservations(_ context.Context, reservations []Reservation) error {
	for _, res := range reservations {
		r.reservations[res.ID] = res
	}
	return nil
}

func (r *memRepo) ListReservationsByKey(_ context.Context, key string, demandSourceID id.ID) ([]Reservation, error) {
	var out []Reservation
	for _, res := range r.reservations {
		if res.IdempotencyKey == key && res.DemandSourceID == demandSourceID {
			out = append(out, res)
		}
	}
	sortReservations(out)
	return out, nil
}

func (r *memRepo) ListReservationsByDemand(_ context.Context, sourceType DemandSourceType, demandSourceID id.ID) ([]Reservation, error) {
	var out []Reservation
	for _, res := range r.reservations {
		if res.DemandSourceType == sourceType && res.DemandSourceID == demandSourceID {
			out = append(out, res)
		}
	}
	sortReservations(out)
	return out, nil
}

func sortReservations(rs []Reservation) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].ID.String() < rs[j].ID.String()
	})
}

func (r *memRepo) DeleteReservations(_ context.Context, reservationIDs []id.ID) error {
	for _, rid := range reservationIDs {
		delete(r.reservations, rid)
	}
	return nil
}

func (r *memRepo) ArchiveLot(_ context.Context, archive LotArchive) error {
	r.archives = append(r.archives, archive)
	return nil
}

// --- fixtures ---

var (
	testToday = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
)

func testCtx() context.Context {
	return execctx.With(context.Background(), execctx.New(testToday, "tester"))
}

type lotFixture struct {
	qty        int64
	reserved   int64
	expiration *time.Time
	receivedAt time.Time
}

func (r *memRepo) addLot(warehouseID, itemID, locationID id.ID, f lotFixture) Lot {
	recID := id.New()
	rec := StockRecord{
		ID:          recID,
		WarehouseID: warehouseID,
		LocationID:  locationID,
		ItemID:      itemID,
		CurrentQty:  types.NewQuantityFromInt(f.qty),
		ReservedQty: types.NewQuantityFromInt(f.reserved),
	}
	r.stockRecords[recID] = rec

	lot := Lot{
		ID:             id.New(),
		StockRecordID:  recID,
		WarehouseID:    warehouseID,
		LocationID:     locationID,
		ItemID:         itemID,
		InitialQty:     types.NewQuantityFromInt(f.qty),
		CurrentQty:     types.NewQuantityFromInt(f.qty),
		ReservedQty:    types.NewQuantityFromInt(f.reserved),
		ExpirationDate: f.expiration,
		ReceivedAt:     f.receivedAt,
		Status:         LotActive,
	}
	r.lots[lot.ID] = lot
	return lot
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func totalStock(r *memRepo) types.Quantity {
	var sum types.Quantity
	for _, lot := range r.lots {
		sum += lot.CurrentQty
	}
	return sum
}

// --- FEFO ordering ---

func TestSortLotsFEFO(t *testing.T) {
	recv := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	expired := Lot{ID: id.New(), ExpirationDate: datePtr(2025, 6, 1), ReceivedAt: recv}
	soon := Lot{ID: id.New(), ExpirationDate: datePtr(2025, 6, 10), ReceivedAt: recv.Add(48 * time.Hour)}
	later := Lot{ID: id.New(), ExpirationDate: datePtr(2025, 7, 1), ReceivedAt: recv}
	openOld := Lot{ID: id.New(), ReceivedAt: recv}
	openNew := Lot{ID: id.New(), ReceivedAt: recv.Add(24 * time.Hour)}

	lots := []Lot{openNew, expired, later, openOld, soon}
	SortLotsFEFO(lots, testToday)

	got := make([]id.ID, len(lots))
	for i, l := range lots {
		got[i] = l.ID
	}
	// Non-expired dated lots first (ascending expiry), then open-dated lots
	// FIFO, expired lots last.
	assert.Equal(t, []id.ID{soon.ID, later.ID, openOld.ID, openNew.ID, expired.ID}, got)
}

func TestSortLotsFEFOTieBreakByReceipt(t *testing.T) {
	exp := datePtr(2025, 6, 20)
	older := Lot{ID: id.New(), ExpirationDate: exp, ReceivedAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)}
	newer := Lot{ID: id.New(), ExpirationDate: exp, ReceivedAt: time.Date(2025, 5, 9, 0, 0, 0, 0, time.UTC)}

	lots := []Lot{newer, older}
	SortLotsFEFO(lots, testToday)
	assert.Equal(t, older.ID, lots[0].ID)
}

// --- allocation ---

func TestAllocatePartialAcrossLots(t *testing.T) {
	repo := newMemRepo()
	engine := NewEngine(repo, fakeTxManager{})
	warehouseID, itemID, locID := id.New(), id.New(), id.New()

	// 40 pieces on shelf against a demand of 50 eaches.
	repo.addLot(warehouseID, itemID, locID, lotFixture{qty: 10, expiration: datePtr(2025, 6, 10), receivedAt: testToday.AddDate(0, 0, -30)})
	repo.addLot(warehouseID, itemID, locID, lotFixture{qty: 30, expiration: datePtr(2025, 7, 1), receivedAt: testToday.AddDate(0, 0, -10)})

	caseSize, err := unit.NewCaseSizeSnap(24)
	require.NoError(t, err)

	res, err := engine.Allocate(testCtx(), AllocateRequest{
		WarehouseID:      warehouseID,
		ItemID:           itemID,
		Qty:              types.NewQuantityFromInt(50),
		Unit:             unit.Piece,
		CaseSize:         caseSize,
		DemandSourceID:   id.New(),
		DemandSourceType: DemandOrderLine,
		IdempotencyKey:   "line:alloc-partial",
	})
	require.NoError(t, err)

	assert.Equal(t, types.NewQuantityFromInt(50), res.RequestedEach)
	assert.Equal(t, types.NewQuantityFromInt(40), res.AllocatedEach)
	require.Len(t, res.Reservations, 2)

	// FEFO: the earlier-expiring lot is fully taken first.
	assert.Equal(t, types.NewQuantityFromInt(10), res.Reservations[0].QtyEach)
	assert.Equal(t, types.NewQuantityFromInt(30), res.Reservations[1].QtyEach)

	// Fully reserved, nothing consumed.
	for _, lot := range repo.lots {
		assert.Equal(t, lot.CurrentQty, lot.ReservedQty)
	}
	for _, rec := range repo.stockRecords {
		assert.Equal(t, rec.CurrentQty, rec.ReservedQty)
	}
}

func TestAllocateConvertsCases(t *testing.T) {
	repo := newMemRepo()
	engine := NewEngine(repo, fakeTxManager{})
	warehouseID, itemID, locID := id.New(), id.New(), id.New()
	repo.addLot(warehouseID, itemID, locID, lotFixture{qty: 100, receivedAt: testToday.AddDate(0, 0, -5)})

	caseSize, err := unit.NewCaseSizeSnap(12)
	require.NoError(t, err)

	res, err := engine.Allocate(testCtx(), AllocateRequest{
		WarehouseID:      warehouseID,
		ItemID:           itemID,
		Qty:              types.NewQuantityFromInt(3),
		Unit:             unit.Case,
		CaseSize:         caseSize,
		DemandSourceID:   id.New(),
		DemandSourceType: DemandOrderLine,
	})
	require.NoError(t, err)
	assert.Equal(t, types.NewQuantityFromInt(36), res.RequestedEach)
	assert.Equal(t, types.NewQuantityFromInt(36), res.AllocatedEach)
}

func TestAllocateSkipsExpiredLots(t *testing.T) {
	repo := newMemRepo()
	engine := NewEngine(repo, fakeTxManager{})
	warehouseID, itemID, locID := id.New(), id.New(), id.New()

	repo.addLot(warehouseID, itemID, locID, lotFixture{qty: 20, expiration: datePtr(2025, 5, 1), receivedAt: testToday.AddDate(0, 0, -60)})
	fresh := repo.addLot(warehouseID, itemID, locID, lotFixture{qty: 5, expiration: datePtr(2025, 8, 1), receivedAt: testToday.AddDate(0, 0, -3)})

	caseSize, _ := unit.NewCaseSizeSnap(1)
	res, err := engine.Allocate(testCtx(), AllocateRequest{
		WarehouseID:      warehouseID,
		ItemID:           itemID,
		Qty:              types.NewQuantityFromInt(5),
		Unit:             unit.Piece,
		CaseSize:         caseSize,
		DemandSourceID:   id.New(),
		DemandSourceType: DemandOrderLine,
	})
	require.NoError(t, err)
	assert.Equal(t, types.NewQuantityFromInt(5), res.AllocatedEach)
	require.Len(t, res.Reservations, 1)
	assert.Equal(t, fresh.ID, res.Reservations[0].LotID)
}

func TestAllocateIdempotentReplay(t *testing.T) {
	repo := newMemRepo()
	engine := NewEngine(repo, fakeTxManager{})
	warehouseID, itemID, locID := id.New(), id.New(), id.New()
	repo.addLot(warehouseID, itemID, locID, lotFixture{qty: 30, receivedAt: testToday.AddDate(0, 0, -1)})

	caseSize, _ := unit.NewCaseSizeSnap(1)
	req := AllocateRequest{
		WarehouseID:      warehouseID,
		ItemID:           itemID,
		Qty:              types.NewQuantityFromInt(10),
		Unit:             unit.Piece,
		CaseSize:         caseSize,
		DemandSourceID:   id.New(),
		DemandSourceType: DemandOrderLine,
		IdempotencyKey:   "line:replay",
	}

	first, err := engine.Allocate(testCtx(), req)
	require.NoError(t, err)
	second, err := engine.Allocate(testCtx(), req)
	require.NoError(t, err)

	assert.Equal(t, first.AllocatedEach, second.AllocatedEach)
	assert.Len(t, repo.reservations, 1)

	// No double reservation on the lot.
	for _, lot := range repo.lots {
		assert.Equal(t, types.NewQuantityFromInt(10), lot.ReservedQty)
	}
}

func TestAllocateRetriesOnVersionConflict(t *testing.T) {
	repo := newMemRepo()
	engine := NewEngine(repo, fakeTxManager{})
	warehouseID, itemID, locID := id.New(), id.New(), id.New()
	lot := repo.addLot(warehouseID, itemID, locID, lotFixture{qty: 8, receivedAt: testToday})
	repo.lotConflicts[lot.ID] = 2

	caseSize, _ := unit.NewCaseSizeSnap(1)
	res, err := engine.Allocate(testCtx(), AllocateRequest{
		WarehouseID:      warehouseID,
		ItemID:           itemID,
		Qty:              types.NewQuantityFromInt(8),
		Unit:             unit.Piece,
		CaseSize:         caseSize,
		DemandSourceID:   id.New(),
		DemandSourceType: DemandOrderLine,
	})
	require.NoError(t, err)
	assert.Equal(t, types.NewQuantityFromInt(8), res.AllocatedEach)
}

func TestAllocateGivesUpAfterRetries(t *testing.T) {
	repo := newMemRepo()
	engine := NewEngine(repo, fakeTxManager{})
	warehouseID, itemID, locID := id.New(), id.New(), id.New()
	lot := repo.addLot(warehouseID, itemID, locID, lotFixture{qty: 8, receivedAt: testToday})
	repo.lotConflicts[lot.ID] = maxCASRetries

	caseSize, _ := unit.NewCaseSizeSnap(1)
	_, err := engine.Allocate(testCtx(), AllocateRequest{
		WarehouseID:      warehouseID,
		ItemID:           itemID,
		Qty:              types.NewQuantityFromInt(8),
		Unit:             unit.Piece,
		CaseSize:         caseSize,
		DemandSourceID:   id.New(),
		DemandSourceType: DemandOrderLine,
	})
	require.Error(t, err)
	assert.True(t, apperror.IsConcurrentModification(err))
}

func TestAllocateValidation(t *testing.T) {
	engine := NewEngine(newMemRepo(), fakeTxManager{})
	caseSize, _ := unit.NewCaseSizeSnap(1)

	_, err := engine.Allocate(testCtx(), AllocateRequest{
		Qty:            types.NewQuantityFromInt(0),
		Unit:           unit.Piece,
		CaseSize:       caseSize,
		DemandSourceID: id.New(),
	})
	require.Error(t, err)

	_, err = engine.Allocate(testCtx(), AllocateRequest{
		Qty:            types.NewQuantityFromInt(1),
		Unit:           unit.QuantityType("PALLET"),
		CaseSize:       caseSize,
		DemandSourceID: id.New(),
	})
	require.Error(t, err)
}

// --- release ---

func TestReleaseRestoresCounters(t *testing.T) {
	repo := newMemRepo()
	engine := NewEngine(repo, fakeTxManager{})
	warehouseID, itemID, locID := id.New(), id.New(), id.New()
	repo.addLot(warehouseID, itemID, locID, lotFixture{qty: 25, receivedAt: testToday})

	caseSize, _ := unit.NewCaseSizeSnap(1)
	demandID := id.New()
	_, err := engine.Allocate(testCtx(), AllocateRequest{
		WarehouseID:      warehouseID,
		ItemID:           itemID,
		Qty:              types.NewQuantityFromInt(25),
		Unit:             unit.Piece,
		CaseSize:         caseSize,
		DemandSourceID:   demandID,
		DemandSourceType: DemandOrderLine,
	})
	require.NoError(t, err)

	require.NoError(t, engine.Release(testCtx(), DemandOrderLine, demandID))

	assert.Empty(t, repo.reservations)
	for _, lot := range repo.lots {
		assert.True(t, lot.ReservedQty.IsZero())
		assert.Equal(t, types.NewQuantityFromInt(25), lot.CurrentQty)
	}
	for _, rec := range repo.stockRecords {
		assert.True(t, rec.ReservedQty.IsZero())
	}

	// Second release is a no-op.
	require.NoError(t, engine.Release(testCtx(), DemandOrderLine, demandID))
}

// --- commit pick ---

func TestCommitPickConsumesAndReleasesRemainder(t *testing.T) {
	repo := newMemRepo()
	engine := NewEngine(repo, fakeTxManager{})
	warehouseID, itemID, locID := id.New(), id.New(), id.New()
	repo.addLot(warehouseID, itemID, locID, lotFixture{qty: 20, receivedAt: testToday})

	caseSize, _ := unit.NewCaseSizeSnap(1)
	demandID := id.New()
	_, err := engine.Allocate(testCtx(), AllocateRequest{
		WarehouseID:      warehouseID,
		ItemID:           itemID,
		Qty:              types.NewQuantityFromInt(15),
		Unit:             unit.Piece,
		CaseSize:         caseSize,
		DemandSourceID:   demandID,
		DemandSourceType: DemandOrderLine,
	})
	require.NoError(t, err)

	// Picker found only 12 of the reserved 15.
	require.NoError(t, engine.CommitPick(testCtx(), DemandOrderLine, demandID, types.NewQuantityFromInt(12)))

	assert.Empty(t, repo.reservations)
	for _, lot := range repo.lots {
		assert.Equal(t, types.NewQuantityFromInt(8), lot.CurrentQty)
		assert.True(t, lot.ReservedQty.IsZero())
		assert.Equal(t, LotActive, lot.Status)
	}
	for _, rec := range repo.stockRecords {
		assert.Equal(t, types.NewQuantityFromInt(8), rec.CurrentQty)
		assert.True(t, rec.ReservedQty.IsZero())
		assert.Equal(t, types.NewQuantityFromInt(12), rec.PickingQty)
	}
}

func TestCommitPickDepletesAndArchivesLot(t *testing.T) {
	repo := newMemRepo()
	engine := NewEngine(repo, fakeTxManager{})
	warehouseID, itemID, locID := id.New(), id.New(), id.New()
	lot := repo.addLot(warehouseID, itemID, locID, lotFixture{qty: 6, receivedAt: testToday})

	caseSize, _ := unit.NewCaseSizeSnap(1)
	demandID := id.New()
	_, err := engine.Allocate(testCtx(), AllocateRequest{
		WarehouseID:      warehouseID,
		ItemID:           itemID,
		Qty:              types.NewQuantityFromInt(6),
		Unit:             unit.Piece,
		CaseSize:         caseSize,
		DemandSourceID:   demandID,
		DemandSourceType: DemandOrderLine,
	})
	require.NoError(t, err)

	require.NoError(t, engine.CommitPick(testCtx(), DemandOrderLine, demandID, types.NewQuantityFromInt(6)))

	stored := repo.lots[lot.ID]
	assert.Equal(t, LotDepleted, stored.Status)
	require.Len(t, repo.archives, 1)
	assert.Equal(t, ArchiveDepleted, repo.archives[0].Reason)
	assert.Equal(t, lot.ID, repo.archives[0].LotID)
	assert.NotEmpty(t, repo.archives[0].Snapshot)
}

// --- conservation across the full cycle ---

func TestStockConservation(t *testing.T) {
	repo := newMemRepo()
	engine := NewEngine(repo, fakeTxManager{})
	warehouseID, itemID, locID := id.New(), id.New(), id.New()
	repo.addLot(warehouseID, itemID, locID, lotFixture{qty: 40, expiration: datePtr(2025, 7, 1), receivedAt: testToday.AddDate(0, 0, -2)})
	repo.addLot(warehouseID, itemID, locID, lotFixture{qty: 60, receivedAt: testToday.AddDate(0, 0, -1)})

	initial := totalStock(repo)

	caseSize, _ := unit.NewCaseSizeSnap(1)
	demandA, demandB := id.New(), id.New()

	_, err := engine.Allocate(testCtx(), AllocateRequest{
		WarehouseID: warehouseID, ItemID: itemID,
		Qty: types.NewQuantityFromInt(55), Unit: unit.Piece, CaseSize: caseSize,
		DemandSourceID: demandA, DemandSourceType: DemandOrderLine,
	})
	require.NoError(t, err)
	_, err = engine.Allocate(testCtx(), AllocateRequest{
		WarehouseID: warehouseID, ItemID: itemID,
		Qty: types.NewQuantityFromInt(30), Unit: unit.Piece, CaseSize: caseSize,
		DemandSourceID: demandB, DemandSourceType: DemandProxyAllocation,
	})
	require.NoError(t, err)

	// Reserve/release round trips never change physical stock.
	require.NoError(t, engine.Release(testCtx(), DemandProxyAllocation, demandB))
	assert.Equal(t, initial, totalStock(repo))

	// A committed pick moves stock out; the books stay balanced.
	require.NoError(t, engine.CommitPick(testCtx(), DemandOrderLine, demandA, types.NewQuantityFromInt(55)))
	assert.Equal(t, initial-types.NewQuantityFromInt(55), totalStock(repo))

	for _, lot := range repo.lots {
		assert.False(t, lot.ReservedQty.IsNegative())
		assert.False(t, lot.CurrentQty.IsNegative())
		assert.True(t, lot.ReservedQty <= lot.CurrentQty)
	}
}

// --- expiry sweep ---

func TestExpireLots(t *testing.T) {
	repo := newMemRepo()
	engine := NewEngine(repo, fakeTxManager{})
	warehouseID, itemID, locID := id.New(), id.New(), id.New()

	expired := repo.addLot(warehouseID, itemID, locID, lotFixture{qty: 10, expiration: datePtr(2025, 5, 20), receivedAt: testToday.AddDate(0, 0, -40)})
	reserved := repo.addLot(warehouseID, itemID, locID, lotFixture{qty: 10, reserved: 4, expiration: datePtr(2025, 5, 25), receivedAt: testToday.AddDate(0, 0, -35)})
	fresh := repo.addLot(warehouseID, itemID, locID, lotFixture{qty: 10, expiration: datePtr(2025, 9, 1), receivedAt: testToday})

	count, err := engine.ExpireLots(testCtx(), warehouseID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Equal(t, LotExpired, repo.lots[expired.ID].Status)
	// A lot with live reservations is left for the next sweep.
	assert.Equal(t, LotActive, repo.lots[reserved.ID].Status)
	assert.Equal(t, LotActive, repo.lots[fresh.ID].Status)

	require.Len(t, repo.archives, 1)
	assert.Equal(t, ArchiveExpired, repo.archives[0].Reason)
}
