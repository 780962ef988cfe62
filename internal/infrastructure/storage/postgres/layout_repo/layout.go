// Package layout_repo provides the PostgreSQL implementation of floor
// geometry reads.
package layout_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"wavepick/internal/core/apperror"
	"wavepick/internal/core/id"
	"wavepick/internal/domain/layout"
	"wavepick/internal/infrastructure/storage/postgres"
)

const (
	floorsTable       = "layout_floors"
	pickingAreasTable = "layout_picking_areas"
	locationsTable    = "layout_locations"
	obstaclesTable    = "layout_obstacles"
)

// LayoutRepo implements layout.Repository.
type LayoutRepo struct {
	builder   squirrel.StatementBuilderType
	txManager *postgres.TxManager
}

// NewLayoutRepo creates a layout repository.
func NewLayoutRepo(txManager *postgres.TxManager) *LayoutRepo {
	return &LayoutRepo{
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		txManager: txManager,
	}
}

func (r *LayoutRepo) GetFloor(ctx context.Context, floorID id.ID) (layout.Floor, error) {
	sql, args, err := r.builder.Select(
		"id", "warehouse_id", "code", "width", "height", "entry_x", "entry_y",
	).
		From(floorsTable).
		Where(squirrel.Eq{"id": floorID}).
		ToSql()
	if err != nil {
		return layout.Floor{}, fmt.Errorf("build query: %w", err)
	}

	var floor layout.Floor
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &floor, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return layout.Floor{}, apperror.NewNotFound("floor", floorID)
		}
		return layout.Floor{}, fmt.Errorf("get floor: %w", err)
	}
	return floor, nil
}

// locationRow flattens bounds and capabilities for scanning.
type locationRow struct {
	ID            id.ID    `db:"id"`
	WarehouseID   id.ID    `db:"warehouse_id"`
	FloorID       id.ID    `db:"floor_id"`
	PickingAreaID id.ID    `db:"picking_area_id"`
	Code          string   `db:"code"`
	MinX          float64  `db:"min_x"`
	MinY          float64  `db:"min_y"`
	MaxX          float64  `db:"max_x"`
	MaxY          float64  `db:"max_y"`
	Capabilities  []string `db:"capabilities"`
	Active        bool     `db:"active"`
}

var locationColumns = []string{
	"id", "warehouse_id", "floor_id", "picking_area_id", "code",
	"min_x", "min_y", "max_x", "max_y", "capabilities", "active",
}

func (row locationRow) toDomain() (layout.Location, error) {
	caps := make([]layout.Capability, 0, len(row.Capabilities))
	for _, c := range row.Capabilities {
		caps = append(caps, layout.Capability(c))
	}
	set, err := layout.NewCapabilitySet(caps...)
	if err != nil {
		return layout.Location{}, err
	}
	return layout.Location{
		ID:            row.ID,
		WarehouseID:   row.WarehouseID,
		FloorID:       row.FloorID,
		PickingAreaID: row.PickingAreaID,
		Code:          row.Code,
		Bounds:        layout.Rect{MinX: row.MinX, MinY: row.MinY, MaxX: row.MaxX, MaxY: row.MaxY},
		Capabilities:  set,
		Active:        row.Active,
	}, nil
}

func (r *LayoutRepo) GetLocation(ctx context.Context, locationID id.ID) (layout.Location, error) {
	sql, args, err := r.builder.Select(locationColumns...).
		From(locationsTable).
		Where(squirrel.Eq{"id": locationID}).
		ToSql()
	if err != nil {
		return layout.Location{}, fmt.Errorf("build query: %w", err)
	}

	var row locationRow
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return layout.Location{}, apperror.NewNotFound("location", locationID)
		}
		return layout.Location{}, fmt.Errorf("get location: %w", err)
	}
	return row.toDomain()
}

func (r *LayoutRepo) GetLocations(ctx context.Context, locationIDs []id.ID) (map[id.ID]layout.Location, error) {
	if len(locationIDs) == 0 {
		return map[id.ID]layout.Location{}, nil
	}

	rows, err := r.listLocations(ctx, squirrel.Eq{"id": locationIDs})
	if err != nil {
		return nil, err
	}

	locations := make(map[id.ID]layout.Location, len(rows))
	for _, loc := range rows {
		locations[loc.ID] = loc
	}
	return locations, nil
}

func (r *LayoutRepo) listLocations(ctx context.Context, where squirrel.Eq) ([]layout.Location, error) {
	sql, args, err := r.builder.Select(locationColumns...).
		From(locationsTable).
		Where(where).
		OrderBy("code").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []locationRow
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select locations: %w", err)
	}

	locations := make([]layout.Location, 0, len(rows))
	for _, row := range rows {
		loc, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}
	return locations, nil
}

func (r *LayoutRepo) GetFloorLayout(ctx context.Context, floorID id.ID) (layout.FloorLayout, error) {
	floor, err := r.GetFloor(ctx, floorID)
	if err != nil {
		return layout.FloorLayout{}, err
	}

	locations, err := r.listLocations(ctx, squirrel.Eq{"floor_id": floorID, "active": true})
	if err != nil {
		return layout.FloorLayout{}, err
	}

	sql, args, err := r.builder.Select("id", "floor_id", "min_x", "min_y", "max_x", "max_y").
		From(obstaclesTable).
		Where(squirrel.Eq{"floor_id": floorID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return layout.FloorLayout{}, fmt.Errorf("build query: %w", err)
	}

	type obstacleRow struct {
		ID      id.ID   `db:"id"`
		FloorID id.ID   `db:"floor_id"`
		MinX    float64 `db:"min_x"`
		MinY    float64 `db:"min_y"`
		MaxX    float64 `db:"max_x"`
		MaxY    float64 `db:"max_y"`
	}
	var obstacleRows []obstacleRow
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &obstacleRows, sql, args...); err != nil {
		return layout.FloorLayout{}, fmt.Errorf("select obstacles: %w", err)
	}

	obstacles := make([]layout.Obstacle, 0, len(obstacleRows))
	for _, row := range obstacleRows {
		obstacles = append(obstacles, layout.Obstacle{
			ID:      row.ID,
			FloorID: row.FloorID,
			Bounds:  layout.Rect{MinX: row.MinX, MinY: row.MinY, MaxX: row.MaxX, MaxY: row.MaxY},
		})
	}

	return layout.FloorLayout{Floor: floor, Locations: locations, Obstacles: obstacles}, nil
}

func (r *LayoutRepo) ListActivePickingAreas(ctx context.Context, warehouseID id.ID) ([]layout.PickingArea, error) {
	sql, args, err := r.builder.Select(
		"id", "warehouse_id", "floor_id", "code", "display_order", "active",
	).
		From(pickingAreasTable).
		Where(squirrel.Eq{"warehouse_id": warehouseID, "active": true}).
		OrderBy("display_order", "code").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var areas []layout.PickingArea
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &areas, sql, args...); err != nil {
		return nil, fmt.Errorf("select picking areas: %w", err)
	}
	return areas, nil
}
