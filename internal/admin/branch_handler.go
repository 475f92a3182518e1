package admin

import (
	"fmt"
	"strings"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/auth"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/cache"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/database"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/logger"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type BranchResponse struct {
	ID        uint   `json:"id"`
	TenantID  uint   `json:"tenant_id"`
	Name      string `json:"name"`
	Code      string `json:"code"`
	Address   string `json:"address"`
	Phone     string `json:"phone"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
}

type CreateBranchRequest struct {
	TenantID *uint   `json:"tenant_id"` // superadmins
	Name     string  `json:"name"`
	Code     string  `json:"code"`
	Address  string  `json:"address"`
	Phone    *string `json:"phone"` // optional
}

type UpdateBranchRequest struct {
	Name     *string `json:"name"`
	Code     *string `json:"code"`
	Address  *string `json:"address"`
	Phone    *string `json:"phone"`
	IsActive *bool   `json:"is_active"`
}

func branchNameTaken(tenantID uint, name string, exceptID uint) bool {
	var count int64
	database.DB.Model(&models.Branch{}).
		Where("tenant_id = ? AND LOWER(name) = ? AND id <> ?", tenantID, strings.ToLower(name), exceptID).
		Count(&count)
	return count > 0
}

// loadBranch resolves :id inside the caller's tenant; branch-bound roles only
// reach their own branch.
func loadBranch(c *fiber.Ctx) (*models.Branch, error) {
	id, err := auth.ParamUint(c, "id")
	if err != nil {
		return nil, err
	}
	tenantID, err := auth.ResolveTenantID(c, nil)
	if err != nil {
		return nil, err
	}
	ident, err := auth.CurrentIdentity(c)
	if err != nil {
		return nil, err
	}
	if ident.Role.BranchBound() && (ident.BranchID == nil || *ident.BranchID != id) {
		return nil, fiber.NewError(fiber.StatusNotFound, "Branch not found")
	}

	var branch models.Branch
	if err := database.DB.Where("tenant_id = ?", tenantID).First(&branch, id).Error; err != nil {
		return nil, fiber.NewError(fiber.StatusNotFound, "Branch not found")
	}
	return &branch, nil
}

// ----------------------------------------
// Branch CRUD
// ----------------------------------------

// POST /api/branches (tenant_owner, superadmin)
func CreateBranchHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateBranchRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		tenantID, err := auth.ResolveTenantID(c, body.TenantID)
		if err != nil {
			return err
		}

		body.Name = strings.TrimSpace(body.Name)
		if body.Name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Branch name cannot be empty")
		}
		if branchNameTaken(tenantID, body.Name, 0) {
			return fiber.NewError(fiber.StatusConflict, "A branch with this name already exists")
		}
		actor := auth.CurrentActor(c)

		branch := models.Branch{
			TenantID: tenantID,
			Name:     body.Name,
			Code:     strings.ToUpper(strings.TrimSpace(body.Code)),
			Address:  strings.TrimSpace(body.Address),
			IsActive: true,
		}
		if body.Phone != nil {
			branch.Phone = strings.TrimSpace(*body.Phone)
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Omit("Tenant", "Users").Create(&branch).Error; err != nil {
				return err
			}
			return writeAdminLog(tx, actor, &tenantID, &branch.ID, "branch", branch.ID, models.AuditActionCreate,
				fmt.Sprintf("Branch %s created", branch.Name), nil, toBranchResponse(branch))
		})
		if err != nil {
			logger.Log.WithError(err).WithField("tenant_id", tenantID).Error("branch create failed")
			return fiber.NewError(fiber.StatusInternalServerError, "Branch could not be created")
		}

		return c.Status(fiber.StatusCreated).JSON(toBranchResponse(branch))
	}
}

// GET /api/branches
func ListBranchesHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID, err := auth.ResolveTenantID(c, nil)
		if err != nil {
			return err
		}
		branchID, err := auth.BranchFilter(c, tenantID)
		if err != nil {
			return err
		}

		dbq := database.DB.Where("tenant_id = ?", tenantID)
		if branchID != nil {
			dbq = dbq.Where("id = ?", *branchID)
		}
		if c.QueryBool("active_only") {
			dbq = dbq.Where("is_active = ?", true)
		}

		var branches []models.Branch
		if err := dbq.Order("name ASC").Find(&branches).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Branches could not be listed")
		}

		res := make([]BranchResponse, 0, len(branches))
		for _, b := range branches {
			res = append(res, toBranchResponse(b))
		}
		return c.JSON(res)
	}
}

// GET /api/branches/:id
func GetBranchHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		branch, err := loadBranch(c)
		if err != nil {
			return err
		}
		return c.JSON(toBranchResponse(*branch))
	}
}

// PUT /api/branches/:id
func UpdateBranchHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		branch, err := loadBranch(c)
		if err != nil {
			return err
		}

		var body UpdateBranchRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		before := toBranchResponse(*branch)
		if body.Name != nil {
			name := strings.TrimSpace(*body.Name)
			if name == "" {
				return fiber.NewError(fiber.StatusBadRequest, "Branch name cannot be empty")
			}
			if branchNameTaken(branch.TenantID, name, branch.ID) {
				return fiber.NewError(fiber.StatusConflict, "A branch with this name already exists")
			}
			branch.Name = name
		}
		if body.Code != nil {
			branch.Code = strings.ToUpper(strings.TrimSpace(*body.Code))
		}
		if body.Address != nil {
			branch.Address = strings.TrimSpace(*body.Address)
		}
		if body.Phone != nil {
			branch.Phone = strings.TrimSpace(*body.Phone)
		}
		if body.IsActive != nil {
			branch.IsActive = *body.IsActive
		}
		actor := auth.CurrentActor(c)

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(branch).Select("name", "code", "address", "phone", "is_active").Updates(branch).Error; err != nil {
				return err
			}
			return writeAdminLog(tx, actor, &branch.TenantID, &branch.ID, "branch", branch.ID, models.AuditActionUpdate,
				fmt.Sprintf("Branch %s updated", branch.Name), before, toBranchResponse(*branch))
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Branch could not be updated")
		}

		cache.InvalidateTenant(c.UserContext(), branch.TenantID)
		return c.JSON(toBranchResponse(*branch))
	}
}

// DELETE /api/branches/:id
// Branches with bills or stock history are kept; deactivate them instead.
func DeleteBranchHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		branch, err := loadBranch(c)
		if err != nil {
			return err
		}

		for _, dep := range []struct {
			model any
			what  string
		}{
			{&models.Bill{}, "bills"},
			{&models.StockLedger{}, "stock movements"},
			{&models.Expense{}, "expenses"},
			{&models.User{}, "users"},
		} {
			var count int64
			database.DB.Model(dep.model).Where("branch_id = ?", branch.ID).Count(&count)
			if count > 0 {
				return fiber.NewError(fiber.StatusConflict, "Branch has "+dep.what+", deactivate instead")
			}
		}
		actor := auth.CurrentActor(c)

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("branch_id = ?", branch.ID).Delete(&models.CurrentStock{}).Error; err != nil {
				return err
			}
			if err := tx.Delete(&models.Branch{}, branch.ID).Error; err != nil {
				return err
			}
			return writeAdminLog(tx, actor, &branch.TenantID, nil, "branch", branch.ID, models.AuditActionDelete,
				fmt.Sprintf("Branch %s deleted", branch.Name), toBranchResponse(*branch), nil)
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Branch could not be deleted")
		}

		return c.SendStatus(fiber.StatusNoContent)
	}
}

func toBranchResponse(b models.Branch) BranchResponse {
	return BranchResponse{
		ID:        b.ID,
		TenantID:  b.TenantID,
		Name:      b.Name,
		Code:      b.Code,
		Address:   b.Address,
		Phone:     b.Phone,
		IsActive:  b.IsActive,
		CreatedAt: b.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}
