package wave

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wavepick/internal/core/apperror"
	"wavepick/internal/core/execctx"
	"wavepick/internal/core/id"
	"wavepick/internal/core/types"
	"wavepick/internal/core/unit"
	"wavepick/internal/domain/catalog"
	"wavepick/internal/domain/earnings"
	"wavepick/internal/domain/layout"
	"wavepick/internal/domain/reservation"
)

type fakeTxManager struct{}

func (fakeTxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// --- wave repository fake ---

type memWaveRepo struct {
	settings []Setting
	waves    map[id.ID]Wave
	tasks    map[id.ID]PickingTask
	items    map[id.ID]PickingItemResult
	seq      int
}

func newMemWaveRepo() *memWaveRepo {
	return &memWaveRepo{
		waves: make(map[id.ID]Wave),
		tasks: make(map[id.ID]PickingTask),
		items: make(map[id.ID]PickingItemResult),
	}
}

func (r *memWaveRepo) ListActiveSettings(_ context.Context) ([]Setting, error) {
	var out []Setting
	for _, s := range r.settings {
		if s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memWaveRepo) WaveExists(_ context.Context, settingID id.ID, shippingDate time.Time) (bool, error) {
	for _, w := range r.waves {
		if w.SettingID == settingID && w.ShippingDate.Equal(shippingDate) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memWaveRepo) NextWaveSequence(_ context.Context, _ id.ID, _ time.Time) (int, error) {
	r.seq++
	return r.seq, nil
}

func (r *memWaveRepo) CreateWave(_ context.Context, w Wave) error {
	r.waves[w.ID] = w
	return nil
}

func (r *memWaveRepo) ListWavesByDate(_ context.Context, shippingDate time.Time) ([]Wave, error) {
	var out []Wave
	for _, w := range r.waves {
		if w.ShippingDate.Equal(shippingDate) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r *memWaveRepo) UpdateWaveStatus(_ context.Context, waveID id.ID, from, to WaveStatus) error {
	w, ok := r.waves[waveID]
	if ok && w.Status == from {
		w.Status = to
		r.waves[waveID] = w
	}
	return nil
}

func (r *memWaveRepo) CreateTask(_ context.Context, task PickingTask, items []PickingItemResult) error {
	r.tasks[task.ID] = task
	for _, item := range items {
		r.items[item.ID] = item
	}
	return nil
}

func (r *memWaveRepo) GetTask(_ context.Context, taskID id.ID) (PickingTask, error) {
	t, ok := r.tasks[taskID]
	if !ok {
		return PickingTask{}, apperror.NewNotFound("picking task", taskID)
	}
	return t, nil
}

func (r *memWaveRepo) ListTasksByWave(_ context.Context, waveID id.ID) ([]PickingTask, error) {
	var out []PickingTask
	for _, t := range r.tasks {
		if t.WaveID == waveID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memWaveRepo) UpdateTaskStatus(_ context.Context, taskID id.ID, from, to TaskStatus) error {
	t, ok := r.tasks[taskID]
	if ok && t.Status == from {
		t.Status = to
		r.tasks[taskID] = t
	}
	return nil
}

func (r *memWaveRepo) GetItemResult(_ context.Context, itemResultID id.ID) (PickingItemResult, error) {
	item, ok := r.items[itemResultID]
	if !ok {
		return PickingItemResult{}, apperror.NewNotFound("picking item result", itemResultID)
	}
	return item, nil
}

func (r *memWaveRepo) ListItemResultsByTask(_ context.Context, taskID id.ID) ([]PickingItemResult, error) {
	var out []PickingItemResult
	for _, item := range r.items {
		if item.TaskID == taskID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *memWaveRepo) ListItemResultsByIDs(_ context.Context, ids []id.ID) ([]PickingItemResult, error) {
	var out []PickingItemResult
	for _, itemID := range ids {
		if item, ok := r.items[itemID]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *memWaveRepo) UpdateItemResult(_ context.Context, item PickingItemResult) error {
	if _, ok := r.items[item.ID]; !ok {
		return apperror.NewNotFound("picking item result", item.ID)
	}
	r.items[item.ID] = item
	return nil
}

func (r *memWaveRepo) UpdateWalkingOrders(_ context.Context, orders map[id.ID]int) error {
	for itemID, order := range orders {
		item, ok := r.items[itemID]
		if !ok {
			return apperror.NewNotFound("picking item result", itemID)
		}
		item.WalkingOrder = order
		r.items[itemID] = item
	}
	return nil
}

func (r *memWaveRepo) DeleteWaveData(_ context.Context, waveID id.ID) error {
	for itemID, item := range r.items {
		if item.WaveID == waveID {
			delete(r.items, itemID)
		}
	}
	for taskID, task := range r.tasks {
		if task.WaveID == waveID {
			delete(r.tasks, taskID)
		}
	}
	delete(r.waves, waveID)
	return nil
}

// --- earnings fake ---

type memEarnings struct {
	lines map[id.ID]earnings.OrderLine
}

func (r *memEarnings) ListEligible(_ context.Context, warehouseID, courseID id.ID, deliveredDate time.Time) ([]earnings.OrderLine, error) {
	var out []earnings.OrderLine
	for _, l := range r.lines {
		if l.WarehouseID == warehouseID && l.DeliveryCourseID == courseID &&
			l.DeliveredDate.Equal(deliveredDate) && l.PickingStatus == earnings.StatusBeforePicking {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *memEarnings) GetLine(_ context.Context, lineID id.ID) (earnings.OrderLine, error) {
	l, ok := r.lines[lineID]
	if !ok {
		return earnings.OrderLine{}, apperror.NewNotFound("order line", lineID)
	}
	return l, nil
}

func (r *memEarnings) UpdatePickingStatus(_ context.Context, lineIDs []id.ID, from, to earnings.PickingStatus) (int64, error) {
	var n int64
	for _, lineID := range lineIDs {
		l, ok := r.lines[lineID]
		if ok && l.PickingStatus == from {
			l.PickingStatus = to
			r.lines[lineID] = l
			n++
		}
	}
	return n, nil
}

// --- catalog fake ---

type memCatalog struct {
	warehouses map[id.ID]catalog.Warehouse
	courses    map[id.ID]catalog.DeliveryCourse
	items      map[id.ID]catalog.Item
}

func (r *memCatalog) GetWarehouse(_ context.Context, warehouseID id.ID) (catalog.Warehouse, error) {
	w, ok := r.warehouses[warehouseID]
	if !ok {
		return catalog.Warehouse{}, apperror.NewNotFound("warehouse", warehouseID)
	}
	return w, nil
}

func (r *memCatalog) GetDeliveryCourse(_ context.Context, courseID id.ID) (catalog.DeliveryCourse, error) {
	c, ok := r.courses[courseID]
	if !ok {
		return catalog.DeliveryCourse{}, apperror.NewNotFound("delivery course", courseID)
	}
	return c, nil
}

func (r *memCatalog) GetItem(_ context.Context, itemID id.ID) (catalog.Item, error) {
	i, ok := r.items[itemID]
	if !ok {
		return catalog.Item{}, apperror.NewNotFound("item", itemID)
	}
	return i, nil
}

func (r *memCatalog) GetItems(_ context.Context, itemIDs []id.ID) (map[id.ID]catalog.Item, error) {
	out := make(map[id.ID]catalog.Item)
	for _, itemID := range itemIDs {
		if i, ok := r.items[itemID]; ok {
			out[itemID] = i
		}
	}
	return out, nil
}

func (r *memCatalog) ListActiveWarehouses(_ context.Context) ([]catalog.Warehouse, error) {
	out := make([]catalog.Warehouse, 0, len(r.warehouses))
	for _, w := range r.warehouses {
		out = append(out, w)
	}
	return out, nil
}

// --- layout fake ---

type memLayout struct {
	locations map[id.ID]layout.Location
	areas     []layout.PickingArea
}

func (r *memLayout) GetFloor(_ context.Context, floorID id.ID) (layout.Floor, error) {
	return layout.Floor{}, apperror.NewNotFound("floor", floorID)
}

func (r *memLayout) GetFloorLayout(_ context.Context, floorID id.ID) (layout.FloorLayout, error) {
	return layout.FloorLayout{}, apperror.NewNotFound("floor", floorID)
}

func (r *memLayout) GetLocation(_ context.Context, locationID id.ID) (layout.Location, error) {
	l, ok := r.locations[locationID]
	if !ok {
		return layout.Location{}, apperror.NewNotFound("location", locationID)
	}
	return l, nil
}

func (r *memLayout) GetLocations(_ context.Context, locationIDs []id.ID) (map[id.ID]layout.Location, error) {
	out := make(map[id.ID]layout.Location)
	for _, locationID := range locationIDs {
		if l, ok := r.locations[locationID]; ok {
			out[locationID] = l
		}
	}
	return out, nil
}

func (r *memLayout) ListActivePickingAreas(_ context.Context, warehouseID id.ID) ([]layout.PickingArea, error) {
	var out []layout.PickingArea
	for _, a := range r.areas {
		if a.WarehouseID == warehouseID && a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

// --- stock allocator fake ---

// fakeStock hands out stock from a per-item pool at a fixed location.
type fakeStock struct {
	available map[id.ID]types.Quantity // item id -> available each
	location  map[id.ID]id.ID         // item id -> location
	history   map[id.ID]id.ID         // item id -> last stocked location
	released  []id.ID
	committed map[id.ID]types.Quantity
}

func newFakeStock() *fakeStock {
	return &fakeStock{
		available: make(map[id.ID]types.Quantity),
		location:  make(map[id.ID]id.ID),
		history:   make(map[id.ID]id.ID),
		committed: make(map[id.ID]types.Quantity),
	}
}

func (s *fakeStock) Allocate(_ context.Context, req reservation.AllocateRequest) (reservation.AllocateResult, error) {
	requested, err := req.CaseSize.ToEach(req.Qty, req.Unit)
	if err != nil {
		return reservation.AllocateResult{}, err
	}
	take := s.available[req.ItemID].Min(requested)
	s.available[req.ItemID] -= take

	result := reservation.AllocateResult{RequestedEach: requested, AllocatedEach: take}
	if take.IsPositive() {
		result.Reservations = []reservation.Reservation{{
			ID:         id.New(),
			LocationID: s.location[req.ItemID],
			ItemID:     req.ItemID,
			QtyEach:    take,
		}}
	}
	return result, nil
}

func (s *fakeStock) Release(_ context.Context, _ reservation.DemandSourceType, demandSourceID id.ID) error {
	s.released = append(s.released, demandSourceID)
	return nil
}

func (s *fakeStock) CommitPick(_ context.Context, _ reservation.DemandSourceType, demandSourceID id.ID, pickedEach types.Quantity) error {
	s.committed[demandSourceID] = pickedEach
	return nil
}

func (s *fakeStock) LastStockedLocation(_ context.Context, _ id.ID, itemID id.ID) (id.ID, error) {
	loc, ok := s.history[itemID]
	if !ok {
		return id.Nil(), apperror.NewNotFound("stocked location", itemID)
	}
	return loc, nil
}

// --- shortage gate fake ---

type fakeGate struct {
	allocationShortages []PickingItemResult
	pickingShortages    []PickingItemResult
	approved            bool
	discardedWaves      []id.ID
}

func (g *fakeGate) RecordAllocationShortage(_ context.Context, item PickingItemResult) error {
	g.allocationShortages = append(g.allocationShortages, item)
	return nil
}

func (g *fakeGate) RecordPickingShortage(_ context.Context, item PickingItemResult) error {
	g.pickingShortages = append(g.pickingShortages, item)
	return nil
}

func (g *fakeGate) AllApproved(_ context.Context, _ []id.ID) (bool, error) {
	return g.approved, nil
}

func (g *fakeGate) DiscardForWave(_ context.Context, waveID id.ID) error {
	g.discardedWaves = append(g.discardedWaves, waveID)
	return nil
}

type fakeKeys struct {
	deletedPrefixes []string
}

func (k *fakeKeys) DeleteByPrefix(_ context.Context, prefix string) (int64, error) {
	k.deletedPrefixes = append(k.deletedPrefixes, prefix)
	return 1, nil
}

// --- fixture assembly ---

type fixture struct {
	orch     *Orchestrator
	repo     *memWaveRepo
	earnings *memEarnings
	catalog  *memCatalog
	layout   *memLayout
	stock    *fakeStock
	gate     *fakeGate
	keys     *fakeKeys

	warehouseID id.ID
	courseID    id.ID
	floorID     id.ID
	areaID      id.ID
	locationID  id.ID
	settingID   id.ID
}

var shipDate = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

func newFixture() *fixture {
	f := &fixture{
		repo:     newMemWaveRepo(),
		earnings: &memEarnings{lines: make(map[id.ID]earnings.OrderLine)},
		catalog: &memCatalog{
			warehouses: make(map[id.ID]catalog.Warehouse),
			courses:    make(map[id.ID]catalog.DeliveryCourse),
			items:      make(map[id.ID]catalog.Item),
		},
		layout:      &memLayout{locations: make(map[id.ID]layout.Location)},
		stock:       newFakeStock(),
		gate:        &fakeGate{},
		keys:        &fakeKeys{},
		warehouseID: id.New(),
		courseID:    id.New(),
		floorID:     id.New(),
		areaID:      id.New(),
		locationID:  id.New(),
		settingID:   id.New(),
	}

	f.catalog.warehouses[f.warehouseID] = catalog.Warehouse{ID: f.warehouseID, Code: "WH1", Active: true}
	f.catalog.courses[f.courseID] = catalog.DeliveryCourse{ID: f.courseID, Code: "C01", Active: true}
	f.layout.locations[f.locationID] = layout.Location{
		ID: f.locationID, WarehouseID: f.warehouseID, FloorID: f.floorID, PickingAreaID: f.areaID, Active: true,
	}
	f.layout.areas = []layout.PickingArea{{
		ID: f.areaID, WarehouseID: f.warehouseID, FloorID: f.floorID, DisplayOrder: 1, Active: true,
	}}
	f.repo.settings = []Setting{{
		ID:               f.settingID,
		WarehouseID:      f.warehouseID,
		DeliveryCourseID: f.courseID,
		PickingStartTime: "00:00",
		Active:           true,
	}}

	f.orch = NewOrchestrator(f.repo, f.earnings, f.catalog, f.layout,
		f.stock, f.gate, f.keys, fakeTxManager{})
	return f
}

func (f *fixture) addLine(qty int64, qtyType unit.QuantityType, caseSize, availableEach int64) id.ID {
	itemID := id.New()
	f.catalog.items[itemID] = catalog.Item{ID: itemID, Code: "ITM", CaseSize: caseSize, Active: true}
	f.stock.available[itemID] = types.NewQuantityFromInt(availableEach)
	f.stock.location[itemID] = f.locationID

	line := earnings.OrderLine{
		ID:               id.New(),
		TradeID:          id.New(),
		ItemID:           itemID,
		Quantity:         types.NewQuantityFromInt(qty),
		QuantityType:     qtyType,
		DeliveryCourseID: f.courseID,
		WarehouseID:      f.warehouseID,
		DeliveredDate:    shipDate,
		PickingStatus:    earnings.StatusBeforePicking,
	}
	f.earnings.lines[line.ID] = line
	return line.ID
}

func waveCtx() context.Context {
	return execctx.With(context.Background(), execctx.New(shipDate, "tester"))
}

// --- generation ---

func TestGenerateWavesCreatesTasksAndFlipsLines(t *testing.T) {
	f := newFixture()
	lineA := f.addLine(10, unit.Piece, 1, 100)
	lineB := f.addLine(2, unit.Case, 12, 100)

	result, err := f.orch.GenerateWaves(waveCtx(), shipDate)
	require.NoError(t, err)
	assert.Equal(t, GenerateResult{Created: 1}, result)

	require.Len(t, f.repo.waves, 1)
	var w Wave
	for _, v := range f.repo.waves {
		w = v
	}
	assert.Equal(t, WavePending, w.Status)
	assert.True(t, strings.HasPrefix(w.Number, "WH1-C01-20250602-"), w.Number)

	// Same location on both lines: one task.
	require.Len(t, f.repo.tasks, 1)
	require.Len(t, f.repo.items, 2)
	for _, item := range f.repo.items {
		assert.Equal(t, ItemPending, item.Status)
		assert.Equal(t, f.locationID, item.LocationID)
		assert.Equal(t, item.OrderedQtyEach, item.PlannedQtyEach)
		assert.True(t, item.PickedQtyEach.IsZero())
	}

	for _, lineID := range []id.ID{lineA, lineB} {
		assert.Equal(t, earnings.StatusPicking, f.earnings.lines[lineID].PickingStatus)
	}
	assert.Empty(t, f.gate.allocationShortages)
}

func TestGenerateWavesSkipsMaterializedSetting(t *testing.T) {
	f := newFixture()
	f.addLine(5, unit.Piece, 1, 100)

	first, err := f.orch.GenerateWaves(waveCtx(), shipDate)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Created)

	second, err := f.orch.GenerateWaves(waveCtx(), shipDate)
	require.NoError(t, err)
	assert.Equal(t, GenerateResult{Skipped: 1}, second)
	assert.Len(t, f.repo.waves, 1)
}

func TestGenerateWavesSkipsSettingNotDue(t *testing.T) {
	f := newFixture()
	f.repo.settings[0].PickingStartTime = "23:59"
	f.addLine(5, unit.Piece, 1, 100)

	ctx := execctx.With(context.Background(),
		execctx.New(shipDate, "tester"))
	// Exec.Now defaults near the real clock; force a morning instant.
	e := execctx.From(ctx)
	e.Now = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	ctx = execctx.With(ctx, e)

	result, err := f.orch.GenerateWaves(ctx, shipDate)
	require.NoError(t, err)
	assert.Equal(t, GenerateResult{Skipped: 1}, result)
	assert.Empty(t, f.repo.waves)
}

func TestGenerateWavesSkipsSettingWithoutLines(t *testing.T) {
	f := newFixture()

	result, err := f.orch.GenerateWaves(waveCtx(), shipDate)
	require.NoError(t, err)
	assert.Equal(t, GenerateResult{Skipped: 1}, result)
}

func TestGenerateWavesRecordsAllocationShortage(t *testing.T) {
	f := newFixture()
	// 50 pieces ordered, only 40 on shelf.
	f.addLine(50, unit.Piece, 24, 40)

	result, err := f.orch.GenerateWaves(waveCtx(), shipDate)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)

	require.Len(t, f.gate.allocationShortages, 1)
	short := f.gate.allocationShortages[0]
	assert.Equal(t, types.NewQuantityFromInt(50), short.OrderedQtyEach)
	assert.Equal(t, types.NewQuantityFromInt(40), short.PlannedQtyEach)
}

func TestGenerateWavesFallsBackToStockingHistory(t *testing.T) {
	f := newFixture()
	lineID := f.addLine(5, unit.Piece, 1, 0) // nothing on shelf
	line := f.earnings.lines[lineID]
	f.stock.history[line.ItemID] = f.locationID

	result, err := f.orch.GenerateWaves(waveCtx(), shipDate)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)

	require.Len(t, f.repo.items, 1)
	for _, item := range f.repo.items {
		assert.Equal(t, f.locationID, item.LocationID)
		assert.True(t, item.PlannedQtyEach.IsZero())
	}
	require.Len(t, f.repo.tasks, 1)
	for _, task := range f.repo.tasks {
		assert.Equal(t, f.areaID, task.PickingAreaID)
	}
}

func TestGenerateWavesFallsBackToDefaultArea(t *testing.T) {
	f := newFixture()
	f.addLine(5, unit.Piece, 1, 0) // no stock, no history

	result, err := f.orch.GenerateWaves(waveCtx(), shipDate)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)

	require.Len(t, f.repo.items, 1)
	for _, item := range f.repo.items {
		assert.True(t, id.IsNil(item.LocationID))
	}
	for _, task := range f.repo.tasks {
		assert.Equal(t, f.areaID, task.PickingAreaID)
		assert.Equal(t, f.floorID, task.FloorID)
	}
}

func TestGenerateWavesGroupsUnderFallbackWhenLocationCannotServeUnit(t *testing.T) {
	f := newFixture()

	// The stocked location only takes piece picks; the warehouse falls back
	// to a separate default area for everything else.
	loc := f.layout.locations[f.locationID]
	caps, err := layout.NewCapabilitySet(layout.CapabilityPiece)
	require.NoError(t, err)
	loc.Capabilities = caps
	f.layout.locations[f.locationID] = loc

	fallbackFloor := id.New()
	fallbackArea := layout.PickingArea{
		ID: id.New(), WarehouseID: f.warehouseID, FloorID: fallbackFloor, DisplayOrder: 1, Active: true,
	}
	f.layout.areas = []layout.PickingArea{fallbackArea}

	f.addLine(2, unit.Case, 6, 100)

	result, err := f.orch.GenerateWaves(waveCtx(), shipDate)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)

	require.Len(t, f.repo.items, 1)
	for _, item := range f.repo.items {
		assert.Equal(t, f.locationID, item.LocationID)
	}
	require.Len(t, f.repo.tasks, 1)
	for _, task := range f.repo.tasks {
		assert.Equal(t, fallbackArea.ID, task.PickingAreaID)
		assert.Equal(t, fallbackFloor, task.FloorID)
	}
}

// --- reset ---

func TestResetWaveDataIsCompensatingAndIdempotent(t *testing.T) {
	f := newFixture()
	lineID := f.addLine(10, unit.Piece, 1, 100)

	_, err := f.orch.GenerateWaves(waveCtx(), shipDate)
	require.NoError(t, err)

	require.NoError(t, f.orch.ResetWaveData(waveCtx(), shipDate))

	assert.Empty(t, f.repo.waves)
	assert.Empty(t, f.repo.tasks)
	assert.Empty(t, f.repo.items)
	assert.Equal(t, []id.ID{lineID}, f.stock.released)
	assert.Equal(t, earnings.StatusBeforePicking, f.earnings.lines[lineID].PickingStatus)
	assert.Len(t, f.gate.discardedWaves, 1)
	require.Len(t, f.keys.deletedPrefixes, 1)
	assert.True(t, strings.HasPrefix(f.keys.deletedPrefixes[0], "wave:"))

	// Second reset finds nothing to undo.
	require.NoError(t, f.orch.ResetWaveData(waveCtx(), shipDate))
	assert.Len(t, f.stock.released, 1)
}

// --- item completion ---

func (f *fixture) generateAndGetSingleItem(t *testing.T) PickingItemResult {
	t.Helper()
	_, err := f.orch.GenerateWaves(waveCtx(), shipDate)
	require.NoError(t, err)
	require.Len(t, f.repo.items, 1)
	for _, item := range f.repo.items {
		return item
	}
	panic("unreachable")
}

func TestCompleteItemFullPick(t *testing.T) {
	f := newFixture()
	f.gate.approved = true
	f.addLine(10, unit.Piece, 1, 100)
	item := f.generateAndGetSingleItem(t)

	completed, err := f.orch.CompleteItem(waveCtx(), item.ID, types.NewQuantityFromInt(10))
	require.NoError(t, err)

	assert.Equal(t, ItemCompleted, completed.Status)
	assert.True(t, completed.ShortageQtyEach.IsZero())
	assert.Equal(t, types.NewQuantityFromInt(10), f.stock.committed[item.OrderLineID])
	assert.Equal(t, earnings.StatusPicked, f.earnings.lines[item.OrderLineID].PickingStatus)
	assert.Empty(t, f.gate.pickingShortages)

	// Last item of the only task: task and wave complete.
	assert.Equal(t, TaskCompleted, f.repo.tasks[item.TaskID].Status)
	assert.Equal(t, WaveCompleted, f.repo.waves[item.WaveID].Status)
}

func TestCompleteItemShortPickRecordsShortage(t *testing.T) {
	f := newFixture()
	f.gate.approved = true
	f.addLine(10, unit.Piece, 1, 100)
	item := f.generateAndGetSingleItem(t)

	completed, err := f.orch.CompleteItem(waveCtx(), item.ID, types.NewQuantityFromInt(7))
	require.NoError(t, err)

	assert.Equal(t, ItemShortage, completed.Status)
	assert.Equal(t, types.NewQuantityFromInt(3), completed.ShortageQtyEach)
	require.Len(t, f.gate.pickingShortages, 1)
}

func TestCompleteItemRejectsOverpick(t *testing.T) {
	f := newFixture()
	f.addLine(10, unit.Piece, 1, 100)
	item := f.generateAndGetSingleItem(t)

	_, err := f.orch.CompleteItem(waveCtx(), item.ID, types.NewQuantityFromInt(11))
	require.Error(t, err)
	assert.True(t, apperror.IsInvariantViolation(err))
}

func TestTaskCompletionGatedOnShortageApproval(t *testing.T) {
	f := newFixture()
	f.gate.approved = false
	f.addLine(10, unit.Piece, 1, 100)
	item := f.generateAndGetSingleItem(t)

	_, err := f.orch.CompleteItem(waveCtx(), item.ID, types.NewQuantityFromInt(8))
	require.NoError(t, err)

	// Terminal item but unapproved shortage: task stays open.
	assert.NotEqual(t, TaskCompleted, f.repo.tasks[item.TaskID].Status)

	// Approval lands; re-evaluation completes the task in the same call.
	f.gate.approved = true
	require.NoError(t, f.orch.ReevaluateTaskCompletion(waveCtx(), item.TaskID))
	assert.Equal(t, TaskCompleted, f.repo.tasks[item.TaskID].Status)
	assert.Equal(t, WaveCompleted, f.repo.waves[item.WaveID].Status)
}

// --- model-level checks ---

func TestFormatWaveNumber(t *testing.T) {
	n := FormatWaveNumber("WH1", "C01", shipDate, 7)
	assert.Equal(t, "WH1-C01-20250602-007", n)
}

func TestSettingStartElapsed(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)

	due, err := Setting{PickingStartTime: "09:00"}.StartElapsed(now)
	require.NoError(t, err)
	assert.True(t, due)

	due, err = Setting{PickingStartTime: "10:00"}.StartElapsed(now)
	require.NoError(t, err)
	assert.False(t, due)

	_, err = Setting{PickingStartTime: "25:99"}.StartElapsed(now)
	require.Error(t, err)
}

// --- generation against the real reservation engine ---

// memStockRepo is an in-memory reservation.Repository so generation can run
// with the real engine behind the orchestrator instead of fakeStock.
type memStockRepo struct {
	lots         map[id.ID]reservation.Lot
	stockRecords map[id.ID]reservation.StockRecord
	reservations map[id.ID]reservation.Reservation
}

func newMemStockRepo() *memStockRepo {
	return &memStockRepo{
		lots:         make(map[id.ID]reservation.Lot),
		stockRecords: make(map[id.ID]reservation.StockRecord),
		reservations: make(map[id.ID]reservation.Reservation),
	}
}

func (r *memStockRepo) ListAllocatableLots(_ context.Context, warehouseID, itemID id.ID) ([]reservation.Lot, error) {
	var out []reservation.Lot
	for _, lot := range r.lots {
		if lot.WarehouseID == warehouseID && lot.ItemID == itemID &&
			lot.Status == reservation.LotActive && lot.Available().IsPositive() {
			out = append(out, lot)
		}
	}
	return out, nil
}

func (r *memStockRepo) GetLot(_ context.Context, lotID id.ID) (reservation.Lot, error) {
	lot, ok := r.lots[lotID]
	if !ok {
		return reservation.Lot{}, apperror.NewNotFound("lot", lotID)
	}
	return lot, nil
}

func (r *memStockRepo) UpdateLotIf(_ context.Context, lot *reservation.Lot, expectedVersion int) (bool, error) {
	stored, ok := r.lots[lot.ID]
	if !ok {
		return false, apperror.NewNotFound("lot", lot.ID)
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

func (r *memStockRepo) GetStockRecord(_ context.Context, stockRecordID id.ID) (reservation.StockRecord, error) {
	rec, ok := r.stockRecords[stockRecordID]
	if !ok {
		return reservation.StockRecord{}, apperror.NewNotFound("stock_record", stockRecordID)
	}
	return rec, nil
}

func (r *memStockRepo) UpdateStockRecordIf(_ context.Context, rec *reservation.StockRecord, expectedVersion int) (bool, error) {
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

func (r *memStockRepo) ListExpiredActiveLots(_ context.Context, warehouseID id.ID, today time.Time) ([]reservation.Lot, error) {
	var out []reservation.Lot
	for _, lot := range r.lots {
		if lot.WarehouseID == warehouseID && lot.Status == reservation.LotActive && lot.IsExpiredAt(today) {
			out = append(out, lot)
		}
	}
	return out, nil
}

func (r *memStockRepo) LastStockedLocation(_ context.Context, warehouseID, itemID id.ID) (id.ID, error) {
	var best *reservation.Lot
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

func (r *memStockRepo) CreateReservations(_ context.Context, reservations []reservation.Reservation) error {
	for _, res := range reservations {
		r.reservations[res.ID] = res
	}
	return nil
}

func (r *memStockRepo) ListReservationsByKey(_ context.Context, key string, demandSourceID id.ID) ([]reservation.Reservation, error) {
	var out []reservation.Reservation
	for _, res := range r.reservations {
		if res.IdempotencyKey == key && res.DemandSourceID == demandSourceID {
			out = append(out, res)
		}
	}
	return out, nil
}

func (r *memStockRepo) ListReservationsByDemand(_ context.Context, sourceType reservation.DemandSourceType, demandSourceID id.ID) ([]reservation.Reservation, error) {
	var out []reservation.Reservation
	for _, res := range r.reservations {
		if res.DemandSourceType == sourceType && res.DemandSourceID == demandSourceID {
			out = append(out, res)
		}
	}
	return out, nil
}

func (r *memStockRepo) DeleteReservations(_ context.Context, reservationIDs []id.ID) error {
	for _, rid := range reservationIDs {
		delete(r.reservations, rid)
	}
	return nil
}

func (r *memStockRepo) ArchiveLot(_ context.Context, _ reservation.LotArchive) error {
	return nil
}

func (r *memStockRepo) addLot(warehouseID, itemID, locationID id.ID, qty int64) reservation.Lot {
	rec := reservation.StockRecord{
		ID:          id.New(),
		WarehouseID: warehouseID,
		LocationID:  locationID,
		ItemID:      itemID,
		CurrentQty:  types.NewQuantityFromInt(qty),
	}
	r.stockRecords[rec.ID] = rec

	lot := reservation.Lot{
		ID:            id.New(),
		StockRecordID: rec.ID,
		WarehouseID:   warehouseID,
		LocationID:    locationID,
		ItemID:        itemID,
		InitialQty:    types.NewQuantityFromInt(qty),
		CurrentQty:    types.NewQuantityFromInt(qty),
		ReceivedAt:    shipDate.AddDate(0, 0, -1),
		Status:        reservation.LotActive,
	}
	r.lots[lot.ID] = lot
	return lot
}

// A line that allocates stock but then fails to resolve a task group must
// hand its reservations back before being skipped. Nothing references the
// skipped line afterwards, so a later reset cannot free them.
func TestGenerateWavesReleasesStockForSkippedLines(t *testing.T) {
	f := newFixture()
	stockRepo := newMemStockRepo()
	engine := reservation.NewEngine(stockRepo, fakeTxManager{})
	f.orch = NewOrchestrator(f.repo, f.earnings, f.catalog, f.layout,
		engine, f.gate, f.keys, fakeTxManager{})

	// No fallback areas: a lot at a location the layout does not know has
	// nowhere to group.
	f.layout.areas = nil

	goodLine := f.addLine(5, unit.Piece, 1, 0)
	stockRepo.addLot(f.warehouseID, f.earnings.lines[goodLine].ItemID, f.locationID, 20)

	badLine := f.addLine(10, unit.Piece, 1, 0)
	badLot := stockRepo.addLot(f.warehouseID, f.earnings.lines[badLine].ItemID, id.New(), 30)

	_, err := f.orch.GenerateWaves(waveCtx(), shipDate)
	require.NoError(t, err)

	require.Len(t, f.repo.items, 1)
	for _, item := range f.repo.items {
		assert.Equal(t, goodLine, item.OrderLineID)
	}

	// The skipped line holds nothing.
	assert.True(t, stockRepo.lots[badLot.ID].ReservedQty.IsZero())
	assert.Equal(t, types.NewQuantityFromInt(30), stockRepo.lots[badLot.ID].CurrentQty)
	orphans, err := stockRepo.ListReservationsByDemand(context.Background(), reservation.DemandOrderLine, badLine)
	require.NoError(t, err)
	assert.Empty(t, orphans)

	// Reset returns the surviving line's stock too; nothing stays reserved.
	require.NoError(t, f.orch.ResetWaveData(waveCtx(), shipDate))
	assert.Empty(t, stockRepo.reservations)
	for _, lot := range stockRepo.lots {
		assert.True(t, lot.ReservedQty.IsZero())
	}
}
