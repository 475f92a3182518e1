package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BillStatus string

const (
	BillCompleted BillStatus = "completed"
	BillCancelled BillStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "paid"
	PaymentPartial PaymentStatus = "partial"
	PaymentUnpaid  PaymentStatus = "unpaid"
)

type PaymentMode string

const (
	PaymentCash         PaymentMode = "cash"
	PaymentCard         PaymentMode = "card"
	PaymentUPI          PaymentMode = "upi"
	PaymentBankTransfer PaymentMode = "bank_transfer"
	PaymentCheque       PaymentMode = "cheque"
)

func (m PaymentMode) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentUPI, PaymentBankTransfer, PaymentCheque:
		return true
	}
	return false
}

// Bill totals are always recomputed from Items; never edit them directly.
type Bill struct {
	ID            uint `gorm:"primaryKey"`
	TenantID      uint `gorm:"not null;uniqueIndex:idx_bill_tenant_invoice,priority:1"`
	BranchID      uint `gorm:"index;not null"`
	Branch        Branch
	CustomerID    *uint `gorm:"index"`
	Customer      *Customer
	InvoiceNumber string    `gorm:"size:40;not null;uniqueIndex:idx_bill_tenant_invoice,priority:2"`
	BillDate      time.Time `gorm:"index;not null"`

	GSTEnabled bool    `gorm:"not null"`
	GSTType    GSTType `gorm:"size:10;not null"`

	Subtotal       decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	DiscountAmount decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	GSTAmount      decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	TotalAmount    decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	PaidAmount     decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	DueAmount      decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	ProfitAmount   decimal.Decimal `gorm:"type:numeric(14,2);not null"`

	Status        BillStatus    `gorm:"size:20;not null;index"`
	PaymentStatus PaymentStatus `gorm:"size:20;not null;index"`
	Notes         string        `gorm:"size:500"`
	CreatedBy     uint
	CancelledAt   *time.Time
	CancelReason  string `gorm:"size:255"`
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Items    []BillItem `gorm:"foreignKey:BillID;constraint:OnDelete:CASCADE"`
	Payments []Payment  `gorm:"foreignKey:BillID"`
}

type BillItem struct {
	ID            uint `gorm:"primaryKey"`
	BillID        uint `gorm:"index;not null"`
	ProductID     uint `gorm:"index;not null"`
	Product       Product
	ProductName   string          `gorm:"size:150;not null"`
	SKU           string          `gorm:"size:50"`
	Quantity      int64           `gorm:"not null"`
	UnitPrice     decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	PurchasePrice decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Discount      decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	GSTRate       decimal.Decimal `gorm:"type:numeric(5,2);not null"`
	TaxableAmount decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	GSTAmount     decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	TotalAmount   decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Profit        decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Payment struct {
	ID         uint            `gorm:"primaryKey"`
	TenantID   uint            `gorm:"index;not null"`
	BranchID   uint            `gorm:"index;not null"`
	BillID     uint            `gorm:"index;not null"`
	CustomerID *uint           `gorm:"index"`
	Amount     decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Mode       PaymentMode     `gorm:"size:20;not null"`
	Reference  string          `gorm:"size:100"`
	PaidAt     time.Time       `gorm:"index;not null"`
	CreatedBy  uint
	CreatedAt  time.Time
}

// InvoiceSequence hands out invoice numbers per tenant and year.
type InvoiceSequence struct {
	ID         uint  `gorm:"primaryKey"`
	TenantID   uint  `gorm:"not null;uniqueIndex:idx_invoice_seq_tenant_year,priority:1"`
	Year       int   `gorm:"not null;uniqueIndex:idx_invoice_seq_tenant_year,priority:2"`
	LastNumber int64 `gorm:"not null"`
}
