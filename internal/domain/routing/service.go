package routing

import (
	"context"
	"fmt"
	"sort"

	"wavepick/internal/core/id"
	"wavepick/internal/core/tx"
	"wavepick/internal/domain/layout"
	"wavepick/internal/domain/wave"
	"wavepick/pkg/logger"
)

// LayoutSource resolves floor layouts. Satisfied by the layout repository
// and by the read-through cache in front of it.
type LayoutSource interface {
	GetFloorLayout(ctx context.Context, floorID id.ID) (layout.FloorLayout, error)
}

// Optimizer assigns walking orders to a task's picking items. It only reads
// item and layout records; the single write is the walking-order update at
// the end.
type Optimizer struct {
	waves     wave.Repository
	layouts   LayoutSource
	txManager tx.Manager
}

// NewOptimizer creates a route optimizer.
func NewOptimizer(waveRepo wave.Repository, layouts LayoutSource, txManager tx.Manager) *Optimizer {
	return &Optimizer{
		waves:     waveRepo,
		layouts:   layouts,
		txManager: txManager,
	}
}

// OptimizeRequest names the items to order and the floor they sit on.
type OptimizeRequest struct {
	ItemResultIDs []id.ID
	FloorID       id.ID
}

// OptimizeResult reports an optimization outcome. Success false means no
// item had a resolvable location and nothing was written.
type OptimizeResult struct {
	Success       bool    `json:"success"`
	Message       string  `json:"message,omitempty"`
	Updated       int     `json:"updated"`
	TotalDistance float64 `json:"totalDistance"`
	LocationCount int     `json:"locationCount"`
}

// UpdateWalkingOrder computes the picking walk for the given items and
// writes each item's walking order. The graph search runs outside any
// transaction; only the final order update takes a short write transaction.
func (o *Optimizer) UpdateWalkingOrder(ctx context.Context, req OptimizeRequest) (OptimizeResult, error) {
	items, err := o.waves.ListItemResultsByIDs(ctx, req.ItemResultIDs)
	if err != nil {
		return OptimizeResult{}, fmt.Errorf("list item results: %w", err)
	}
	fl, err := o.layouts.GetFloorLayout(ctx, req.FloorID)
	if err != nil {
		return OptimizeResult{}, fmt.Errorf("get floor layout: %w", err)
	}

	// Only items whose location exists on this floor take part; complete
	// shortages have no location at all.
	routable := make([]wave.PickingItemResult, 0, len(items))
	seen := make(map[id.ID]struct{})
	locations := make([]id.ID, 0, len(items))
	for _, item := range items {
		if id.IsNil(item.LocationID) {
			continue
		}
		if _, ok := fl.LocationByID(item.LocationID); !ok {
			continue
		}
		routable = append(routable, item)
		if _, dup := seen[item.LocationID]; !dup {
			seen[item.LocationID] = struct{}{}
			locations = append(locations, item.LocationID)
		}
	}
	if len(routable) == 0 {
		return OptimizeResult{
			Success: false,
			Message: "no item has a resolvable location",
		}, nil
	}

	g := newGrid(fl)
	dist := newDistanceFunc(g, fl)
	entry := point{x: fl.Floor.EntryX, y: fl.Floor.EntryY}

	seed := nearestNeighborTour(entry, locations, dist)
	tour := twoOpt(entry, seed, dist)
	total := tourLength(entry, tour, dist)

	position := make(map[id.ID]int, len(tour))
	for i, locID := range tour {
		position[locID] = i
	}
	// Items sharing a location sort together; ascending item id breaks the
	// tie deterministically.
	sort.Slice(routable, func(i, j int) bool {
		pi, pj := position[routable[i].LocationID], position[routable[j].LocationID]
		if pi != pj {
			return pi < pj
		}
		return routable[i].ID.String() < routable[j].ID.String()
	})
	orders := make(map[id.ID]int, len(routable))
	for i, item := range routable {
		orders[item.ID] = i + 1
	}

	err = o.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		return o.waves.UpdateWalkingOrders(ctx, orders)
	})
	if err != nil {
		return OptimizeResult{}, fmt.Errorf("write walking orders: %w", err)
	}

	result := OptimizeResult{
		Success:       true,
		Updated:       len(orders),
		TotalDistance: total,
		LocationCount: len(tour),
	}
	logger.Info(ctx, "walking order updated",
		"floor_id", req.FloorID,
		"items", result.Updated,
		"locations", result.LocationCount,
		"total_distance", result.TotalDistance,
	)
	return result, nil
}

// OptimizeTask optimizes the walking order of a whole picking task on the
// task's floor.
func (o *Optimizer) OptimizeTask(ctx context.Context, taskID id.ID) (OptimizeResult, error) {
	task, err := o.waves.GetTask(ctx, taskID)
	if err != nil {
		return OptimizeResult{}, err
	}
	items, err := o.waves.ListItemResultsByTask(ctx, taskID)
	if err != nil {
		return OptimizeResult{}, fmt.Errorf("list item results: %w", err)
	}
	ids := make([]id.ID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return o.UpdateWalkingOrder(ctx, OptimizeRequest{
		ItemResultIDs: ids,
		FloorID:       task.FloorID,
	})
}
