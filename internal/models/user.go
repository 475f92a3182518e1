package models

import "time"

type UserRole string

const (
	RoleSuperAdmin  UserRole = "superadmin"
	RoleTenantOwner UserRole = "tenant_owner"
	RoleBranchAdmin UserRole = "branch_admin"
	RoleBranchStaff UserRole = "branch_staff"
)

// Level ranks the role in the hierarchy; unknown roles rank 0.
func (r UserRole) Level() int {
	switch r {
	case RoleSuperAdmin:
		return 4
	case RoleTenantOwner:
		return 3
	case RoleBranchAdmin:
		return 2
	case RoleBranchStaff:
		return 1
	}
	return 0
}

func (r UserRole) Valid() bool { return r.Level() > 0 }

func (r UserRole) Outranks(other UserRole) bool { return r.Level() > other.Level() }

// AtLeast reports whether r is the given role or above it.
func (r UserRole) AtLeast(min UserRole) bool { return r.Valid() && r.Level() >= min.Level() }

// BranchBound roles only ever see their own branch.
func (r UserRole) BranchBound() bool {
	return r == RoleBranchAdmin || r == RoleBranchStaff
}

type User struct {
	ID           uint  `gorm:"primaryKey"`
	TenantID     *uint `gorm:"index"`
	Tenant       *Tenant
	BranchID     *uint `gorm:"index"`
	Branch       *Branch
	Name         string   `gorm:"size:100;not null"`
	Email        string   `gorm:"size:100;uniqueIndex;not null"`
	Phone        string   `gorm:"size:30"`
	PasswordHash string   `gorm:"size:255;not null"`
	Role         UserRole `gorm:"size:20;not null"`
	IsActive     bool     `gorm:"not null"`
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
