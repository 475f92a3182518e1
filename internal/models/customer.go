package models

import "time"

type Customer struct {
	ID        uint   `gorm:"primaryKey"`
	TenantID  uint   `gorm:"index;not null"`
	Name      string `gorm:"size:150;not null"`
	Phone     string `gorm:"size:30;index"`
	Email     string `gorm:"size:100"`
	Address   string `gorm:"size:255"`
	GSTNumber string `gorm:"size:20"`
	Notes     string `gorm:"size:500"`
	IsActive  bool   `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
