package shortage

import (
	"context"

	"wavepick/internal/core/id"
)

// Repository defines storage for shortages and proxy shipment allocations.
type Repository interface {
	// Shortages

	CreateShortage(ctx context.Context, s Shortage) error
	GetShortage(ctx context.Context, shortageID id.ID) (Shortage, error)
	UpdateShortage(ctx context.Context, s Shortage) error

	// FindOpenByItemResult returns the unconfirmed shortage for an item
	// result, or NotFound. The picking-stage detector accumulates onto it.
	FindOpenByItemResult(ctx context.Context, itemResultID id.ID) (Shortage, error)

	// ListByItemResults returns all shortages referencing the given item
	// results. Task completion checks approval across them.
	ListByItemResults(ctx context.Context, itemResultIDs []id.ID) ([]Shortage, error)

	// DeleteByWave removes a wave's shortages and their allocations. Part of
	// the wave reset compensating path.
	DeleteByWave(ctx context.Context, waveID id.ID) error

	// Allocations

	CreateAllocation(ctx context.Context, a Allocation) error
	GetAllocation(ctx context.Context, allocationID id.ID) (Allocation, error)
	UpdateAllocation(ctx context.Context, a Allocation) error
	ListAllocationsByShortage(ctx context.Context, shortageID id.ID) ([]Allocation, error)
}
