package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ExpenseCategory struct {
	ID        uint   `gorm:"primaryKey"`
	TenantID  uint   `gorm:"not null;uniqueIndex:idx_expense_category_tenant_name,priority:1"`
	Name      string `gorm:"size:100;not null;uniqueIndex:idx_expense_category_tenant_name,priority:2"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Expense struct {
	ID          uint `gorm:"primaryKey"`
	TenantID    uint `gorm:"index;not null"`
	BranchID    uint `gorm:"index;not null"`
	Branch      Branch
	CategoryID  uint `gorm:"index;not null"`
	Category    ExpenseCategory
	Date        time.Time       `gorm:"index;not null"`
	Amount      decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	PaymentMode PaymentMode     `gorm:"size:20;not null"`
	Description string          `gorm:"size:255"`
	CreatedBy   uint
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
