package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// BatchInserter bulk-inserts rows over the COPY protocol. Wave generation
// uses it to write a task's picking item results in one shot instead of a
// round-trip per line.
type BatchInserter struct {
	txManager *TxManager
}

// NewBatchInserter creates a batch inserter bound to the transaction manager.
func NewBatchInserter(txManager *TxManager) *BatchInserter {
	return &BatchInserter{txManager: txManager}
}

// CopyFromSlice copies rows into table. Each row is a []any aligned with
// columns, e.g. picking_item_results (id, task_id, order_line_id, ...).
// COPY cannot run outside a transaction; callers always hold one.
func (b *BatchInserter) CopyFromSlice(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	tx := b.txManager.GetTx(ctx)
	if tx == nil {
		return 0, fmt.Errorf("CopyFromSlice requires transaction context")
	}

	return tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
}

// BatchExecutor pipelines many small statements in one round-trip. The route
// optimizer persists walking orders with it, one UPDATE per item result.
type BatchExecutor struct {
	txManager *TxManager
}

// NewBatchExecutor creates a batch executor bound to the transaction manager.
func NewBatchExecutor(txManager *TxManager) *BatchExecutor {
	return &BatchExecutor{txManager: txManager}
}

// BatchQuery is one statement in a batch.
type BatchQuery struct {
	SQL  string
	Args []any
}

// ExecuteBatch queues the statements and sends them as a single pgx batch.
// The first failing statement aborts the rest.
func (e *BatchExecutor) ExecuteBatch(ctx context.Context, queries []BatchQuery) error {
	tx := e.txManager.GetTx(ctx)
	if tx == nil {
		return fmt.Errorf("ExecuteBatch requires transaction context")
	}

	batch := &pgx.Batch{}
	for _, q := range queries {
		batch.Queue(q.SQL, q.Args...)
	}

	results := tx.SendBatch(ctx, batch)
	defer results.Close()

	for range queries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch query failed: %w", err)
		}
	}

	return nil
}
