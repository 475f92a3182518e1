package models

import "time"

type Branch struct {
	ID        uint   `gorm:"primaryKey"`
	TenantID  uint   `gorm:"not null;uniqueIndex:idx_branch_tenant_name,priority:1"`
	Tenant    Tenant `json:"-"`
	Name      string `gorm:"size:100;not null;uniqueIndex:idx_branch_tenant_name,priority:2"`
	Code      string `gorm:"size:20"`
	Address   string `gorm:"size:255"`
	Phone     string `gorm:"size:50"`
	IsActive  bool   `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Users []User
}
