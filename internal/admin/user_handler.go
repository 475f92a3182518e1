package admin

import (
	"fmt"
	"strings"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/auth"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/database"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/logger"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/query"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type UserResponse struct {
	ID          uint            `json:"id"`
	Name        string          `json:"name"`
	Email       string          `json:"email"`
	Phone       string          `json:"phone"`
	Role        models.UserRole `json:"role"`
	TenantID    *uint           `json:"tenant_id"`
	BranchID    *uint           `json:"branch_id"`
	IsActive    bool            `json:"is_active"`
	LastLoginAt *string         `json:"last_login_at"`
	CreatedAt   string          `json:"created_at"`
}

type CreateUserRequest struct {
	TenantID *uint           `json:"tenant_id"` // superadmins
	BranchID *uint           `json:"branch_id"`
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Phone    string          `json:"phone"`
	Password string          `json:"password"`
	Role     models.UserRole `json:"role"`
}

type UpdateUserRequest struct {
	Name     *string          `json:"name"`
	Phone    *string          `json:"phone"`
	Role     *models.UserRole `json:"role"`
	BranchID *uint            `json:"branch_id"`
	IsActive *bool            `json:"is_active"`
}

type ResetPasswordRequest struct {
	NewPassword string `json:"new_password"`
}

// placeUser checks that actor may hand out role, and returns the branch the
// user belongs to. Branch-bound roles need a branch of the tenant; the others
// carry none. Branch admins can only place staff in their own branch.
func placeUser(actor auth.Identity, tenantID uint, role models.UserRole, branchID *uint) (*uint, error) {
	if !role.Valid() || role == models.RoleSuperAdmin {
		return nil, fiber.NewError(fiber.StatusBadRequest, "role is invalid")
	}
	if !actor.Role.Outranks(role) {
		return nil, fiber.NewError(fiber.StatusForbidden, "You can only manage roles below your own")
	}
	if !role.BranchBound() {
		return nil, nil
	}

	if actor.Role.BranchBound() {
		if actor.BranchID == nil {
			return nil, fiber.NewError(fiber.StatusForbidden, "Branch information missing")
		}
		if branchID != nil && *branchID != *actor.BranchID {
			return nil, fiber.NewError(fiber.StatusForbidden, "You can only add users to your own branch")
		}
		return actor.BranchID, nil
	}

	if branchID == nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "branch_id is required for this role")
	}
	var count int64
	err := database.DB.Model(&models.Branch{}).Where("id = ? AND tenant_id = ?", *branchID, tenantID).Count(&count).Error
	if err != nil {
		logger.Log.WithError(err).WithField("branch_id", *branchID).Error("branch lookup failed")
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Branch could not be checked")
	}
	if count == 0 {
		return nil, fiber.NewError(fiber.StatusNotFound, "Branch not found")
	}
	return branchID, nil
}

// loadUser resolves :id among the users the caller may manage.
func loadUser(c *fiber.Ctx) (*models.User, auth.Identity, error) {
	ident, err := auth.CurrentIdentity(c)
	if err != nil {
		return nil, ident, err
	}
	id, err := auth.ParamUint(c, "id")
	if err != nil {
		return nil, ident, err
	}

	dbq := database.DB
	if ident.Role != models.RoleSuperAdmin {
		if ident.TenantID == nil {
			return nil, ident, fiber.NewError(fiber.StatusForbidden, "Tenant information missing")
		}
		dbq = dbq.Where("tenant_id = ?", *ident.TenantID)
		if ident.Role.BranchBound() {
			if ident.BranchID == nil {
				return nil, ident, fiber.NewError(fiber.StatusForbidden, "Branch information missing")
			}
			dbq = dbq.Where("branch_id = ?", *ident.BranchID)
		}
	}

	var user models.User
	if err := dbq.First(&user, id).Error; err != nil {
		return nil, ident, fiber.NewError(fiber.StatusNotFound, "User not found")
	}
	return &user, ident, nil
}

// POST /api/users
func CreateUserHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateUserRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		ident, err := auth.CurrentIdentity(c)
		if err != nil {
			return err
		}
		tenantID, err := auth.ResolveTenantID(c, body.TenantID)
		if err != nil {
			return err
		}

		body.Name = strings.TrimSpace(body.Name)
		body.Email = auth.NormalizeEmail(body.Email)
		if body.Name == "" || body.Email == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Name and email are required")
		}
		branchID, err := placeUser(ident, tenantID, body.Role, body.BranchID)
		if err != nil {
			return err
		}
		if emailTaken(body.Email, 0) {
			return fiber.NewError(fiber.StatusConflict, "This email is already registered")
		}
		hash, err := auth.HashPassword(body.Password)
		if err != nil {
			return err
		}
		actor := auth.CurrentActor(c)

		user := models.User{
			TenantID:     &tenantID,
			BranchID:     branchID,
			Name:         body.Name,
			Email:        body.Email,
			Phone:        strings.TrimSpace(body.Phone),
			PasswordHash: hash,
			Role:         body.Role,
			IsActive:     true,
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Omit("Tenant", "Branch").Create(&user).Error; err != nil {
				return err
			}
			return writeAdminLog(tx, actor, &tenantID, branchID, "user", user.ID, models.AuditActionCreate,
				fmt.Sprintf("User %s created as %s", user.Email, user.Role), nil, toUserResponse(user))
		})
		if err != nil {
			logger.Log.WithError(err).WithField("tenant_id", tenantID).Error("user create failed")
			return fiber.NewError(fiber.StatusInternalServerError, "User could not be created")
		}

		return c.Status(fiber.StatusCreated).JSON(toUserResponse(user))
	}
}

// GET /api/users?role=branch_staff&branch_id=1&active_only=true
func ListUsersHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID, err := auth.ResolveTenantID(c, nil)
		if err != nil {
			return err
		}
		branchID, err := auth.BranchFilter(c, tenantID)
		if err != nil {
			return err
		}
		page := query.Paging(c)

		dbq := database.DB.Model(&models.User{}).Where("tenant_id = ?", tenantID)
		if branchID != nil {
			dbq = dbq.Where("branch_id = ?", *branchID)
		}
		if role := models.UserRole(c.Query("role")); role != "" {
			if !role.Valid() {
				return fiber.NewError(fiber.StatusBadRequest, "role is invalid")
			}
			dbq = dbq.Where("role = ?", role)
		}
		if c.QueryBool("active_only") {
			dbq = dbq.Where("is_active = ?", true)
		}
		if s := strings.TrimSpace(c.Query("search")); s != "" {
			like := "%" + strings.ToLower(s) + "%"
			dbq = dbq.Where("LOWER(name) LIKE ? OR LOWER(email) LIKE ?", like, like)
		}

		var total int64
		if err := dbq.Count(&total).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Users could not be counted")
		}
		var users []models.User
		if err := page.Apply(dbq.Order("created_at DESC, id DESC")).Find(&users).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Users could not be listed")
		}

		items := make([]UserResponse, 0, len(users))
		for _, u := range users {
			items = append(items, toUserResponse(u))
		}
		return c.JSON(fiber.Map{
			"items": items,
			"total": total,
			"page":  page.Page,
			"limit": page.Limit,
		})
	}
}

// GET /api/users/:id
func GetUserHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, _, err := loadUser(c)
		if err != nil {
			return err
		}
		return c.JSON(toUserResponse(*user))
	}
}

// PUT /api/users/:id
func UpdateUserHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, ident, err := loadUser(c)
		if err != nil {
			return err
		}
		if !ident.Role.Outranks(user.Role) {
			return fiber.NewError(fiber.StatusForbidden, "You can only manage roles below your own")
		}
		var body UpdateUserRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		before := toUserResponse(*user)
		if body.Name != nil {
			name := strings.TrimSpace(*body.Name)
			if name == "" {
				return fiber.NewError(fiber.StatusBadRequest, "Name cannot be empty")
			}
			user.Name = name
		}
		if body.Phone != nil {
			user.Phone = strings.TrimSpace(*body.Phone)
		}
		if body.Role != nil || body.BranchID != nil {
			role := user.Role
			if body.Role != nil {
				role = *body.Role
			}
			requested := body.BranchID
			if requested == nil {
				requested = user.BranchID
			}
			if user.TenantID == nil {
				return fiber.NewError(fiber.StatusBadRequest, "This user has no shop")
			}
			branchID, err := placeUser(ident, *user.TenantID, role, requested)
			if err != nil {
				return err
			}
			user.Role = role
			user.BranchID = branchID
		}
		if body.IsActive != nil {
			user.IsActive = *body.IsActive
		}
		actor := auth.CurrentActor(c)

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(user).Select("name", "phone", "role", "branch_id", "is_active").Updates(user).Error; err != nil {
				return err
			}
			return writeAdminLog(tx, actor, user.TenantID, user.BranchID, "user", user.ID, models.AuditActionUpdate,
				fmt.Sprintf("User %s updated", user.Email), before, toUserResponse(*user))
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "User could not be updated")
		}
		return c.JSON(toUserResponse(*user))
	}
}

// POST /api/users/:id/reset-password
func ResetPasswordHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, ident, err := loadUser(c)
		if err != nil {
			return err
		}
		if !ident.Role.Outranks(user.Role) {
			return fiber.NewError(fiber.StatusForbidden, "You can only manage roles below your own")
		}
		var body ResetPasswordRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		hash, err := auth.HashPassword(body.NewPassword)
		if err != nil {
			return err
		}
		actor := auth.CurrentActor(c)

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(user).Update("password_hash", hash).Error; err != nil {
				return err
			}
			return writeAdminLog(tx, actor, user.TenantID, user.BranchID, "user", user.ID, models.AuditActionUpdate,
				fmt.Sprintf("Password reset for %s", user.Email), nil, nil)
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Password could not be reset")
		}

		logger.Log.WithField("user_id", user.ID).Info("password reset")
		return c.JSON(fiber.Map{"message": "Password updated"})
	}
}

func toUserResponse(u models.User) UserResponse {
	res := UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Phone:     u.Phone,
		Role:      u.Role,
		TenantID:  u.TenantID,
		BranchID:  u.BranchID,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt.Format("2006-01-02 15:04:05"),
	}
	if u.LastLoginAt != nil {
		s := u.LastLoginAt.Format("2006-01-02 15:04:05")
		res.LastLoginAt = &s
	}
	return res
}
