package auth

import (
	"strings"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/config"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/database"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"

	"github.com/gofiber/fiber/v2"
)

const (
	CtxUserIDKey   = "user_id"
	CtxUserRoleKey = "user_role"
	CtxTenantIDKey = "tenant_id"
	CtxBranchIDKey = "branch_id"
)

func JWTMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "Authorization header missing")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return fiber.NewError(fiber.StatusUnauthorized, "Authorization must be 'Bearer <token>'")
		}

		claims, err := ParseToken(cfg.JWTSecret, parts[1])
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid or expired token")
		}

		user, err := activeUser(claims.UserID)
		if err != nil {
			return err
		}

		// role and placement come from the row so changes apply to issued tokens
		c.Locals(CtxUserIDKey, user.ID)
		c.Locals(CtxUserRoleKey, user.Role)
		c.Locals(CtxTenantIDKey, user.TenantID)
		c.Locals(CtxBranchIDKey, user.BranchID)

		return c.Next()
	}
}

// activeUser loads the token's user and refuses deactivated users and users
// of deactivated tenants.
func activeUser(id uint) (*models.User, error) {
	var user models.User
	if err := database.DB.Preload("Tenant").First(&user, id).Error; err != nil {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid or expired token")
	}
	if !user.IsActive {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "This account is deactivated")
	}
	if user.Role != models.RoleSuperAdmin && (user.Tenant == nil || !user.Tenant.IsActive) {
		return nil, fiber.NewError(fiber.StatusForbidden, "This shop is deactivated")
	}
	return &user, nil
}

func RequireRole(allowedRoles ...models.UserRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, ok := c.Locals(CtxUserRoleKey).(models.UserRole)
		if !ok {
			return fiber.NewError(fiber.StatusForbidden, "Role information missing")
		}

		for _, r := range allowedRoles {
			if r == role {
				return c.Next()
			}
		}
		return fiber.NewError(fiber.StatusForbidden, "You are not allowed to perform this action")
	}
}

// RequireMinRole lets through the given role and everything above it.
func RequireMinRole(min models.UserRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, ok := c.Locals(CtxUserRoleKey).(models.UserRole)
		if !ok {
			return fiber.NewError(fiber.StatusForbidden, "Role information missing")
		}
		if !role.AtLeast(min) {
			return fiber.NewError(fiber.StatusForbidden, "You are not allowed to perform this action")
		}
		return c.Next()
	}
}
