package models

import "time"

type StockTransactionType string

const (
	StockIn         StockTransactionType = "stock_in"
	StockOut        StockTransactionType = "stock_out"
	StockAdjustment StockTransactionType = "adjustment"
	StockSale       StockTransactionType = "sale"
	StockSaleReturn StockTransactionType = "sale_return"
)

func (t StockTransactionType) Valid() bool {
	switch t {
	case StockIn, StockOut, StockAdjustment, StockSale, StockSaleReturn:
		return true
	}
	return false
}

// CurrentStock is the materialised balance of one product at one branch.
// Quantity always equals CurrentStock of the newest StockLedger row of the pair.
type CurrentStock struct {
	ID           uint `gorm:"primaryKey"`
	TenantID     uint `gorm:"index;not null"`
	BranchID     uint `gorm:"not null;uniqueIndex:idx_current_stock_branch_product,priority:1"`
	Branch       Branch
	ProductID    uint `gorm:"not null;uniqueIndex:idx_current_stock_branch_product,priority:2"`
	Product      Product
	Quantity     int64 `gorm:"not null"`
	IsActive     bool  `gorm:"not null"` // false once the balance hits zero (auto-deactivation)
	LastLedgerID *uint
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StockLedger is append-only. Quantity is the signed change.
type StockLedger struct {
	ID            uint `gorm:"primaryKey"`
	TenantID      uint `gorm:"index;not null"`
	BranchID      uint `gorm:"not null;index:idx_ledger_branch_product,priority:1"`
	ProductID     uint `gorm:"not null;index:idx_ledger_branch_product,priority:2"`
	Product       Product
	Type          StockTransactionType `gorm:"size:20;not null;index"`
	Quantity      int64                `gorm:"not null"`
	PreviousStock int64                `gorm:"not null"`
	CurrentStock  int64                `gorm:"not null"`
	Reason        string               `gorm:"size:255"`
	ReferenceType string               `gorm:"size:30"`
	ReferenceID   *uint                `gorm:"index"`
	CorrelationID string               `gorm:"size:36;index"`
	CreatedBy     uint
	CreatedAt     time.Time `gorm:"index"`
}
