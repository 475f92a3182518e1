package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleHierarchy(t *testing.T) {
	assert.True(t, RoleSuperAdmin.Outranks(RoleTenantOwner))
	assert.True(t, RoleTenantOwner.Outranks(RoleBranchAdmin))
	assert.True(t, RoleBranchAdmin.Outranks(RoleBranchStaff))
	assert.False(t, RoleBranchStaff.Outranks(RoleBranchStaff))
	assert.False(t, RoleBranchAdmin.Outranks(RoleTenantOwner))

	assert.True(t, RoleTenantOwner.AtLeast(RoleBranchAdmin))
	assert.True(t, RoleBranchAdmin.AtLeast(RoleBranchAdmin))
	assert.False(t, RoleBranchStaff.AtLeast(RoleBranchAdmin))
	assert.False(t, UserRole("guest").AtLeast(RoleBranchStaff))
}

func TestRoleBranchBound(t *testing.T) {
	assert.True(t, RoleBranchAdmin.BranchBound())
	assert.True(t, RoleBranchStaff.BranchBound())
	assert.False(t, RoleTenantOwner.BranchBound())
	assert.False(t, RoleSuperAdmin.BranchBound())
}
