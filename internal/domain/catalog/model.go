// Package catalog provides the master-data records the fulfillment core reads:
// warehouses, delivery courses and trade items. The admin UI owns their CRUD;
// the core only looks them up.
package catalog

import (
	"wavepick/internal/core/id"
	"wavepick/internal/core/types"
	"wavepick/internal/core/unit"
)

// Warehouse is a physical warehouse.
type Warehouse struct {
	ID     id.ID  `db:"id" json:"id"`
	Code   string `db:"code" json:"code"`
	Name   string `db:"name" json:"name"`
	Active bool   `db:"active" json:"active"`
}

// DeliveryCourse is a delivery route orders are grouped under.
type DeliveryCourse struct {
	ID     id.ID  `db:"id" json:"id"`
	Code   string `db:"code" json:"code"`
	Name   string `db:"name" json:"name"`
	Active bool   `db:"active" json:"active"`
}

// Item is a trade item. CaseSize is the live master value; operations that
// must not drift with master edits take a unit.CaseSizeSnap from it once and
// carry the snapshot.
type Item struct {
	ID            id.ID       `db:"id" json:"id"`
	Code          string      `db:"code" json:"code"`
	Name          string      `db:"name" json:"name"`
	CaseSize      int64       `db:"case_size" json:"caseSize"`
	PurchasePrice types.Money `db:"purchase_price" json:"purchasePrice"`
	Active        bool        `db:"active" json:"active"`
}

// CaseSizeSnap snapshots the item's current case size for one operation.
func (i Item) CaseSizeSnap() (unit.CaseSizeSnap, error) {
	return unit.NewCaseSizeSnap(i.CaseSize)
}
