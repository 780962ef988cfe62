package wave

import (
	"context"
	"time"

	"wavepick/internal/core/id"
)

// Repository defines storage for waves, picking tasks and item results.
type Repository interface {
	// Settings

	ListActiveSettings(ctx context.Context) ([]Setting, error)

	// Waves

	// WaveExists reports whether a wave was already materialized for the
	// (setting, shipping date) pair.
	WaveExists(ctx context.Context, settingID id.ID, shippingDate time.Time) (bool, error)

	// NextWaveSequence returns the next per (warehouse, shipping date)
	// sequence number, starting at 1. Feeds the wave number.
	NextWaveSequence(ctx context.Context, warehouseID id.ID, shippingDate time.Time) (int, error)

	CreateWave(ctx context.Context, w Wave) error
	ListWavesByDate(ctx context.Context, shippingDate time.Time) ([]Wave, error)

	// UpdateWaveStatus flips a wave's status guarded by the expected current
	// status. Zero rows matched is a no-op, not an error, so status walks are
	// idempotent.
	UpdateWaveStatus(ctx context.Context, waveID id.ID, from, to WaveStatus) error

	// Tasks and item results

	CreateTask(ctx context.Context, task PickingTask, items []PickingItemResult) error

	GetTask(ctx context.Context, taskID id.ID) (PickingTask, error)
	ListTasksByWave(ctx context.Context, waveID id.ID) ([]PickingTask, error)

	// UpdateTaskStatus has the same guarded no-op semantics as
	// UpdateWaveStatus.
	UpdateTaskStatus(ctx context.Context, taskID id.ID, from, to TaskStatus) error

	GetItemResult(ctx context.Context, itemResultID id.ID) (PickingItemResult, error)
	ListItemResultsByTask(ctx context.Context, taskID id.ID) ([]PickingItemResult, error)
	ListItemResultsByIDs(ctx context.Context, itemResultIDs []id.ID) ([]PickingItemResult, error)
	UpdateItemResult(ctx context.Context, item PickingItemResult) error

	// UpdateWalkingOrders writes walking orders for many items at once. The
	// route optimizer is the only caller; it writes all of a task's items or
	// none.
	UpdateWalkingOrders(ctx context.Context, orders map[id.ID]int) error

	// DeleteWaveData removes a wave with its tasks and item results. Part of
	// the reset compensating path.
	DeleteWaveData(ctx context.Context, waveID id.ID) error
}
