package admin

import (
	"errors"
	"fmt"
	"strings"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/audit"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/auth"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/cache"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/database"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/logger"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/query"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const defaultInvoicePrefix = "INV"

var defaultGSTRate = decimal.NewFromInt(18)

type TenantResponse struct {
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	Code        string `json:"code"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
	GSTNumber   string `json:"gst_number"`
	IsActive    bool   `json:"is_active"`
	BranchCount int64  `json:"branch_count"`
	UserCount   int64  `json:"user_count"`
	CreatedAt   string `json:"created_at"`
}

type OwnerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
}

type CreateTenantRequest struct {
	Name       string       `json:"name"`
	Code       string       `json:"code"`
	Email      string       `json:"email"`
	Phone      string       `json:"phone"`
	Address    string       `json:"address"`
	GSTNumber  string       `json:"gst_number"`
	BranchName string       `json:"branch_name"` // optional first branch
	Owner      OwnerRequest `json:"owner"`
}

type UpdateTenantRequest struct {
	Name      *string `json:"name"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	Address   *string `json:"address"`
	GSTNumber *string `json:"gst_number"`
}

type SetActiveRequest struct {
	IsActive bool `json:"is_active"`
}

var errCodeTaken = errors.New("tenant code taken")

func loadTenant(c *fiber.Ctx) (*models.Tenant, error) {
	id, err := auth.ParamUint(c, "id")
	if err != nil {
		return nil, err
	}
	var tenant models.Tenant
	if err := database.DB.First(&tenant, id).Error; err != nil {
		return nil, fiber.NewError(fiber.StatusNotFound, "Shop not found")
	}
	return &tenant, nil
}

func emailTaken(email string, exceptID uint) bool {
	var count int64
	database.DB.Model(&models.User{}).Where("email = ? AND id <> ?", email, exceptID).Count(&count)
	return count > 0
}

func writeAdminLog(tx *gorm.DB, actor auth.Actor, tenantID, branchID *uint, entity string, id uint, action models.AuditAction, desc string, before, after any) error {
	return audit.WriteLog(tx, audit.LogOptions{
		TenantID:    tenantID,
		BranchID:    branchID,
		UserID:      actor.UserID,
		UserName:    actor.Name,
		EntityType:  entity,
		EntityID:    id,
		Action:      action,
		Description: desc,
		Before:      before,
		After:       after,
	})
}

// POST /api/admin/tenants (superadmin)
// Creates the shop together with its owner account and, optionally, its first branch.
func CreateTenantHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateTenantRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		body.Name = strings.TrimSpace(body.Name)
		body.Code = strings.ToUpper(strings.TrimSpace(body.Code))
		body.Owner.Name = strings.TrimSpace(body.Owner.Name)
		body.Owner.Email = auth.NormalizeEmail(body.Owner.Email)
		if body.Name == "" || body.Code == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Shop name and code are required")
		}
		if body.Owner.Name == "" || body.Owner.Email == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Owner name and email are required")
		}
		if emailTaken(body.Owner.Email, 0) {
			return fiber.NewError(fiber.StatusConflict, "This email is already registered")
		}
		hash, err := auth.HashPassword(body.Owner.Password)
		if err != nil {
			return err
		}
		actor := auth.CurrentActor(c)

		tenant := models.Tenant{
			Name:                      body.Name,
			Code:                      body.Code,
			Email:                     strings.TrimSpace(body.Email),
			Phone:                     strings.TrimSpace(body.Phone),
			Address:                   strings.TrimSpace(body.Address),
			GSTNumber:                 strings.ToUpper(strings.TrimSpace(body.GSTNumber)),
			GSTEnabled:                true,
			GSTType:                   models.GSTExclusive,
			DefaultGSTRate:            defaultGSTRate,
			InvoicePrefix:             defaultInvoicePrefix,
			AutoDeactivateOnZeroStock: true,
			IsActive:                  true,
		}
		var owner models.User
		var branchCount int64

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			var count int64
			if err := tx.Model(&models.Tenant{}).Where("code = ?", tenant.Code).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return errCodeTaken
			}
			if err := tx.Omit("Branches").Create(&tenant).Error; err != nil {
				return err
			}

			owner = models.User{
				TenantID:     &tenant.ID,
				Name:         body.Owner.Name,
				Email:        body.Owner.Email,
				Phone:        strings.TrimSpace(body.Owner.Phone),
				PasswordHash: hash,
				Role:         models.RoleTenantOwner,
				IsActive:     true,
			}
			if err := tx.Omit("Tenant", "Branch").Create(&owner).Error; err != nil {
				return err
			}

			if name := strings.TrimSpace(body.BranchName); name != "" {
				branch := models.Branch{TenantID: tenant.ID, Name: name, IsActive: true}
				if err := tx.Omit("Tenant", "Users").Create(&branch).Error; err != nil {
					return err
				}
				branchCount = 1
			}

			return writeAdminLog(tx, actor, &tenant.ID, nil, "tenant", tenant.ID, models.AuditActionCreate,
				fmt.Sprintf("Shop %s created with owner %s", tenant.Name, owner.Email), nil, toTenantResponse(tenant, 0, 0))
		})
		if errors.Is(err, errCodeTaken) {
			return fiber.NewError(fiber.StatusConflict, "A shop with this code already exists")
		}
		if err != nil {
			logger.Log.WithError(err).WithField("code", tenant.Code).Error("tenant create failed")
			return fiber.NewError(fiber.StatusInternalServerError, "Shop could not be created")
		}

		logger.Log.WithFields(map[string]interface{}{
			"tenant_id": tenant.ID,
			"owner_id":  owner.ID,
		}).Info("tenant created")

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"tenant": toTenantResponse(tenant, branchCount, 1),
			"owner":  toUserResponse(owner),
		})
	}
}

// GET /api/admin/tenants?search=&active_only=true (superadmin)
func ListTenantsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		page := query.Paging(c)

		dbq := database.DB.Model(&models.Tenant{})
		if s := strings.TrimSpace(c.Query("search")); s != "" {
			like := "%" + strings.ToLower(s) + "%"
			dbq = dbq.Where("LOWER(name) LIKE ? OR LOWER(code) LIKE ?", like, like)
		}
		if c.QueryBool("active_only") {
			dbq = dbq.Where("is_active = ?", true)
		}

		var total int64
		if err := dbq.Count(&total).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Shops could not be counted")
		}
		var tenants []models.Tenant
		if err := page.Apply(dbq.Order("name ASC")).Find(&tenants).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Shops could not be listed")
		}

		items := make([]TenantResponse, 0, len(tenants))
		for _, t := range tenants {
			branches, users := tenantCounts(t.ID)
			items = append(items, toTenantResponse(t, branches, users))
		}
		return c.JSON(fiber.Map{
			"items": items,
			"total": total,
			"page":  page.Page,
			"limit": page.Limit,
		})
	}
}

// GET /api/admin/tenants/:id
func GetTenantHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenant, err := loadTenant(c)
		if err != nil {
			return err
		}
		branches, users := tenantCounts(tenant.ID)
		return c.JSON(toTenantResponse(*tenant, branches, users))
	}
}

// PUT /api/admin/tenants/:id
// Billing settings are changed through /api/settings.
func UpdateTenantHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenant, err := loadTenant(c)
		if err != nil {
			return err
		}
		var body UpdateTenantRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		before := toTenantResponse(*tenant, 0, 0)
		if body.Name != nil {
			name := strings.TrimSpace(*body.Name)
			if name == "" {
				return fiber.NewError(fiber.StatusBadRequest, "Shop name cannot be empty")
			}
			tenant.Name = name
		}
		if body.Email != nil {
			tenant.Email = strings.TrimSpace(*body.Email)
		}
		if body.Phone != nil {
			tenant.Phone = strings.TrimSpace(*body.Phone)
		}
		if body.Address != nil {
			tenant.Address = strings.TrimSpace(*body.Address)
		}
		if body.GSTNumber != nil {
			tenant.GSTNumber = strings.ToUpper(strings.TrimSpace(*body.GSTNumber))
		}
		actor := auth.CurrentActor(c)

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(tenant).Select("name", "email", "phone", "address", "gst_number").Updates(tenant).Error; err != nil {
				return err
			}
			return writeAdminLog(tx, actor, &tenant.ID, nil, "tenant", tenant.ID, models.AuditActionUpdate,
				fmt.Sprintf("Shop %s updated", tenant.Name), before, toTenantResponse(*tenant, 0, 0))
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Shop could not be updated")
		}

		cache.InvalidateTenant(c.UserContext(), tenant.ID)
		branches, users := tenantCounts(tenant.ID)
		return c.JSON(toTenantResponse(*tenant, branches, users))
	}
}

// PUT /api/admin/tenants/:id/status
// Users of an inactive shop can no longer log in.
func SetTenantActiveHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenant, err := loadTenant(c)
		if err != nil {
			return err
		}
		var body SetActiveRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		actor := auth.CurrentActor(c)

		before := tenant.IsActive
		tenant.IsActive = body.IsActive
		state := "deactivated"
		if body.IsActive {
			state = "activated"
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(tenant).Update("is_active", body.IsActive).Error; err != nil {
				return err
			}
			return writeAdminLog(tx, actor, &tenant.ID, nil, "tenant", tenant.ID, models.AuditActionUpdate,
				fmt.Sprintf("Shop %s %s", tenant.Name, state),
				fiber.Map{"is_active": before}, fiber.Map{"is_active": body.IsActive})
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Shop status could not be changed")
		}

		logger.Log.WithField("tenant_id", tenant.ID).Info("tenant " + state)
		return c.JSON(toTenantResponse(*tenant, 0, 0))
	}
}

func tenantCounts(tenantID uint) (branches, users int64) {
	database.DB.Model(&models.Branch{}).Where("tenant_id = ?", tenantID).Count(&branches)
	database.DB.Model(&models.User{}).Where("tenant_id = ?", tenantID).Count(&users)
	return branches, users
}

func toTenantResponse(t models.Tenant, branches, users int64) TenantResponse {
	return TenantResponse{
		ID:          t.ID,
		Name:        t.Name,
		Code:        t.Code,
		Email:       t.Email,
		Phone:       t.Phone,
		Address:     t.Address,
		GSTNumber:   t.GSTNumber,
		IsActive:    t.IsActive,
		BranchCount: branches,
		UserCount:   users,
		CreatedAt:   t.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}
