package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type GSTType string

const (
	GSTInclusive GSTType = "inclusive" // unit price already contains GST
	GSTExclusive GSTType = "exclusive" // GST is added on top of the unit price
)

func (t GSTType) Valid() bool {
	return t == GSTInclusive || t == GSTExclusive
}

// Tenant is a shop account. Its billing settings are kept on the same row.
type Tenant struct {
	ID      uint   `gorm:"primaryKey"`
	Name    string `gorm:"size:150;not null"`
	Code    string `gorm:"size:30;not null;uniqueIndex"`
	Email   string `gorm:"size:100"`
	Phone   string `gorm:"size:30"`
	Address string `gorm:"size:255"`

	GSTNumber      string          `gorm:"size:20"`
	GSTEnabled     bool            `gorm:"not null"`
	GSTType        GSTType         `gorm:"size:10;not null"`
	DefaultGSTRate decimal.Decimal `gorm:"type:numeric(5,2);not null"`
	InvoicePrefix  string          `gorm:"size:10;not null"`
	InvoiceFooter  string          `gorm:"size:255"`

	AutoDeactivateOnZeroStock bool `gorm:"not null"`
	IsActive                  bool `gorm:"not null;index"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Branches []Branch
}
