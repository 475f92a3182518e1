package auth

import (
	"strconv"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/database"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"

	"github.com/gofiber/fiber/v2"
)

// Identity is the caller as described by the verified token.
type Identity struct {
	UserID   uint
	Role     models.UserRole
	TenantID *uint
	BranchID *uint
}

func CurrentIdentity(c *fiber.Ctx) (Identity, error) {
	userID, ok := c.Locals(CtxUserIDKey).(uint)
	if !ok {
		return Identity{}, fiber.NewError(fiber.StatusForbidden, "User information missing")
	}
	role, ok := c.Locals(CtxUserRoleKey).(models.UserRole)
	if !ok {
		return Identity{}, fiber.NewError(fiber.StatusForbidden, "Role information missing")
	}
	tenantID, _ := c.Locals(CtxTenantIDKey).(*uint)
	branchID, _ := c.Locals(CtxBranchIDKey).(*uint)

	return Identity{UserID: userID, Role: role, TenantID: tenantID, BranchID: branchID}, nil
}

// ResolveTenantID returns the tenant a request acts on. Superadmins must name
// it (explicit value or ?tenant_id); everybody else is bound to their own.
func ResolveTenantID(c *fiber.Ctx, explicit *uint) (uint, error) {
	id, err := CurrentIdentity(c)
	if err != nil {
		return 0, err
	}

	if id.Role == models.RoleSuperAdmin {
		if explicit == nil {
			if explicit, err = QueryUint(c, "tenant_id"); err != nil {
				return 0, err
			}
		}
		if explicit == nil {
			return 0, fiber.NewError(fiber.StatusBadRequest, "tenant_id is required")
		}
		return *explicit, nil
	}

	if id.TenantID == nil {
		return 0, fiber.NewError(fiber.StatusForbidden, "Tenant information missing")
	}
	if explicit != nil && *explicit != *id.TenantID {
		return 0, fiber.NewError(fiber.StatusForbidden, "You can only access your own shop")
	}
	return *id.TenantID, nil
}

// ResolveBranchID returns the branch a write acts on. Branch admins and staff
// are pinned to their branch; owners and superadmins must name one of the
// tenant's branches.
func ResolveBranchID(c *fiber.Ctx, tenantID uint, explicit *uint) (uint, error) {
	id, err := CurrentIdentity(c)
	if err != nil {
		return 0, err
	}

	if id.Role.BranchBound() {
		if id.BranchID == nil {
			return 0, fiber.NewError(fiber.StatusForbidden, "Branch information missing")
		}
		if explicit != nil && *explicit != *id.BranchID {
			return 0, fiber.NewError(fiber.StatusForbidden, "You can only access your own branch")
		}
		return *id.BranchID, nil
	}

	if explicit == nil {
		if explicit, err = QueryUint(c, "branch_id"); err != nil {
			return 0, err
		}
	}
	if explicit == nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, "branch_id is required")
	}
	if err := ensureBranch(tenantID, *explicit); err != nil {
		return 0, err
	}
	return *explicit, nil
}

// BranchFilter is the read-side variant: branch-bound roles get their branch,
// the others get ?branch_id when given and nil (all branches) otherwise.
func BranchFilter(c *fiber.Ctx, tenantID uint) (*uint, error) {
	id, err := CurrentIdentity(c)
	if err != nil {
		return nil, err
	}
	if id.Role.BranchBound() {
		if id.BranchID == nil {
			return nil, fiber.NewError(fiber.StatusForbidden, "Branch information missing")
		}
		return id.BranchID, nil
	}

	bid, err := QueryUint(c, "branch_id")
	if err != nil || bid == nil {
		return nil, err
	}
	if err := ensureBranch(tenantID, *bid); err != nil {
		return nil, err
	}
	return bid, nil
}

func ensureBranch(tenantID, branchID uint) error {
	var count int64
	if err := database.DB.Model(&models.Branch{}).
		Where("id = ? AND tenant_id = ?", branchID, tenantID).
		Count(&count).Error; err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Branch could not be checked")
	}
	if count == 0 {
		return fiber.NewError(fiber.StatusNotFound, "Branch not found")
	}
	return nil
}

// CurrentUserName loads the caller's display name for audit entries.
func CurrentUserName(c *fiber.Ctx) string {
	userID, ok := c.Locals(CtxUserIDKey).(uint)
	if !ok {
		return ""
	}
	var user models.User
	if err := database.DB.Select("id", "name").First(&user, userID).Error; err != nil {
		return ""
	}
	return user.Name
}

func QueryUint(c *fiber.Ctx, key string) (*uint, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || v == 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, key+" is invalid")
	}
	u := uint(v)
	return &u, nil
}

func ParamUint(c *fiber.Ctx, key string) (uint, error) {
	v, err := strconv.ParseUint(c.Params(key), 10, 64)
	if err != nil || v == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Invalid "+key)
	}
	return uint(v), nil
}

// Actor is the caller as recorded in audit entries.
type Actor struct {
	UserID uint
	Name   string
}

// CurrentActor must be resolved before opening a transaction: it reads
// through database.DB.
func CurrentActor(c *fiber.Ctx) Actor {
	userID, _ := c.Locals(CtxUserIDKey).(uint)
	return Actor{UserID: userID, Name: CurrentUserName(c)}
}
