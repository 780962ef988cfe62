// Package numerator adapts the generic numbering service to the slip numbers
// transfer instructions carry.
package numerator

import (
	"context"

	"github.com/jackc/pgx/v5"

	"wavepick/internal/core/execctx"
	"wavepick/internal/infrastructure/storage/postgres"
	"wavepick/pkg/numerator"
)

// TxQuerier routes numbering queries through the ambient transaction so a
// rolled-back pick does not consume a slip number.
type TxQuerier struct {
	txManager *postgres.TxManager
}

// NewTxQuerier creates a transaction-aware querier for the numbering service.
func NewTxQuerier(txManager *postgres.TxManager) TxQuerier {
	return TxQuerier{txManager: txManager}
}

func (q TxQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return q.txManager.GetQuerier(ctx).QueryRow(ctx, sql, args...)
}

// SlipNumerator issues transfer slip numbers (TRF-YYYY-XXXXX). Slips leave
// the system on the wire, so numbering is strict: sequential, no gaps.
type SlipNumerator struct {
	svc *numerator.Service
	cfg numerator.Config
}

// NewSlipNumerator creates a slip numerator on top of the numbering service.
func NewSlipNumerator(svc *numerator.Service) *SlipNumerator {
	return &SlipNumerator{
		svc: svc,
		cfg: numerator.DefaultConfig("TRF"),
	}
}

// NextSlipNumber returns the next transfer slip number for the current
// business date.
func (n *SlipNumerator) NextSlipNumber(ctx context.Context) (string, error) {
	exec := execctx.From(ctx)
	return n.svc.GetNextNumber(ctx, n.cfg, numerator.DefaultOptions(), exec.Today)
}
