package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Category struct {
	ID          uint   `gorm:"primaryKey"`
	TenantID    uint   `gorm:"not null;uniqueIndex:idx_category_tenant_name,priority:1"`
	Name        string `gorm:"size:100;not null;uniqueIndex:idx_category_tenant_name,priority:2"`
	Description string `gorm:"size:255"`
	IsActive    bool   `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Brand struct {
	ID          uint   `gorm:"primaryKey"`
	TenantID    uint   `gorm:"not null;uniqueIndex:idx_brand_tenant_name,priority:1"`
	Name        string `gorm:"size:100;not null;uniqueIndex:idx_brand_tenant_name,priority:2"`
	Description string `gorm:"size:255"`
	IsActive    bool   `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Product struct {
	ID            uint  `gorm:"primaryKey"`
	TenantID      uint  `gorm:"not null;uniqueIndex:idx_product_tenant_sku,priority:1"`
	CategoryID    *uint `gorm:"index"`
	Category      *Category
	BrandID       *uint `gorm:"index"`
	Brand         *Brand
	Name          string          `gorm:"size:150;not null;index"`
	SKU           string          `gorm:"size:50;not null;uniqueIndex:idx_product_tenant_sku,priority:2"`
	Unit          string          `gorm:"size:20;not null"` // pcs, kg, box ...
	Description   string          `gorm:"size:500"`
	SellingPrice  decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	PurchasePrice decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	GSTRate       decimal.Decimal `gorm:"type:numeric(5,2);not null"` // percent
	MinStock      int64           `gorm:"not null"`                   // low stock threshold
	IsActive      bool            `gorm:"not null;index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
