package catalog

import (
	"fmt"
	"strings"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/audit"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/auth"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/database"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/logger"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Categories and brands share one shape: a tenant-unique name, a description
// and an active flag.

type LabelResponse struct {
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsActive    bool   `json:"is_active"`
	CreatedAt   string `json:"created_at"`
}

type CreateLabelRequest struct {
	TenantID    *uint  `json:"tenant_id"` // superadmins
	Name        string `json:"name"`
	Description string `json:"description"`
}

type UpdateLabelRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

// labelKind adapts Category and Brand to the shared handlers.
type labelKind[M any] struct {
	entity  string // audit entity type
	column  string // products.<column> referencing it
	title   string
	fields  func(*M) (id, tenantID *uint, name, desc *string, active *bool)
	created func(*M) string
}

var categoryKind = labelKind[models.Category]{
	entity: "category",
	column: "category_id",
	title:  "Category",
	fields: func(m *models.Category) (*uint, *uint, *string, *string, *bool) {
		return &m.ID, &m.TenantID, &m.Name, &m.Description, &m.IsActive
	},
	created: func(m *models.Category) string { return m.CreatedAt.Format("2006-01-02 15:04:05") },
}

var brandKind = labelKind[models.Brand]{
	entity: "brand",
	column: "brand_id",
	title:  "Brand",
	fields: func(m *models.Brand) (*uint, *uint, *string, *string, *bool) {
		return &m.ID, &m.TenantID, &m.Name, &m.Description, &m.IsActive
	},
	created: func(m *models.Brand) string { return m.CreatedAt.Format("2006-01-02 15:04:05") },
}

func (k labelKind[M]) response(m *M) LabelResponse {
	id, _, name, desc, active := k.fields(m)
	return LabelResponse{ID: *id, Name: *name, Description: *desc, IsActive: *active, CreatedAt: k.created(m)}
}

func (k labelKind[M]) nameTaken(tenantID uint, name string, exceptID uint) (bool, error) {
	var count int64
	err := database.DB.Model(new(M)).
		Where("tenant_id = ? AND LOWER(name) = ? AND id <> ?", tenantID, strings.ToLower(name), exceptID).
		Count(&count).Error
	return count > 0, err
}

func (k labelKind[M]) load(c *fiber.Ctx) (*M, uint, error) {
	tenantID, err := auth.ResolveTenantID(c, nil)
	if err != nil {
		return nil, 0, err
	}
	id, err := auth.ParamUint(c, "id")
	if err != nil {
		return nil, 0, err
	}
	m := new(M)
	if err := database.DB.Where("tenant_id = ?", tenantID).First(m, id).Error; err != nil {
		return nil, 0, fiber.NewError(fiber.StatusNotFound, k.title+" not found")
	}
	return m, tenantID, nil
}

func (k labelKind[M]) list() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID, err := auth.ResolveTenantID(c, nil)
		if err != nil {
			return err
		}
		dbq := database.DB.Model(new(M)).Where("tenant_id = ?", tenantID)
		if s := strings.TrimSpace(c.Query("search")); s != "" {
			dbq = dbq.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(s)+"%")
		}
		if c.QueryBool("active_only") {
			dbq = dbq.Where("is_active = ?", true)
		}

		var rows []M
		if err := dbq.Order("name ASC").Find(&rows).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, k.title+" list failed")
		}
		res := make([]LabelResponse, 0, len(rows))
		for _, r := range rows {
			res = append(res, k.response(&r))
		}
		return c.JSON(res)
	}
}

func (k labelKind[M]) create() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateLabelRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		body.Name = strings.TrimSpace(body.Name)
		if body.Name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Name is required")
		}
		tenantID, err := auth.ResolveTenantID(c, body.TenantID)
		if err != nil {
			return err
		}
		if taken, err := k.nameTaken(tenantID, body.Name, 0); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, k.title+" could not be checked")
		} else if taken {
			return fiber.NewError(fiber.StatusConflict, k.title+" name already exists")
		}

		actor := auth.CurrentActor(c)
		m := new(M)
		_, tid, name, desc, active := k.fields(m)
		*tid, *name, *desc, *active = tenantID, body.Name, strings.TrimSpace(body.Description), true

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(m).Error; err != nil {
				return err
			}
			return k.audit(tx, actor, tenantID, m, models.AuditActionCreate, nil, m)
		})
		if err != nil {
			logger.Log.WithError(err).WithField("tenant_id", tenantID).Errorf("%s create failed", k.entity)
			return fiber.NewError(fiber.StatusInternalServerError, k.title+" could not be created")
		}
		return c.Status(fiber.StatusCreated).JSON(k.response(m))
	}
}

func (k labelKind[M]) update() fiber.Handler {
	return func(c *fiber.Ctx) error {
		m, tenantID, err := k.load(c)
		if err != nil {
			return err
		}
		var body UpdateLabelRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		actor := auth.CurrentActor(c)
		before := *m
		id, _, name, desc, active := k.fields(m)
		if body.Name != nil {
			n := strings.TrimSpace(*body.Name)
			if n == "" {
				return fiber.NewError(fiber.StatusBadRequest, "Name cannot be empty")
			}
			if taken, err := k.nameTaken(tenantID, n, *id); err != nil {
				return fiber.NewError(fiber.StatusInternalServerError, k.title+" could not be checked")
			} else if taken {
				return fiber.NewError(fiber.StatusConflict, k.title+" name already exists")
			}
			*name = n
		}
		if body.Description != nil {
			*desc = strings.TrimSpace(*body.Description)
		}
		if body.IsActive != nil {
			*active = *body.IsActive
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Save(m).Error; err != nil {
				return err
			}
			return k.audit(tx, actor, tenantID, m, models.AuditActionUpdate, before, m)
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, k.title+" could not be updated")
		}
		return c.JSON(k.response(m))
	}
}

func (k labelKind[M]) delete() fiber.Handler {
	return func(c *fiber.Ctx) error {
		m, tenantID, err := k.load(c)
		if err != nil {
			return err
		}
		id, _, _, _, _ := k.fields(m)
		actor := auth.CurrentActor(c)

		var count int64
		database.DB.Model(&models.Product{}).Where(k.column+" = ?", *id).Count(&count)
		if count > 0 {
			return fiber.NewError(fiber.StatusConflict, fmt.Sprintf("%s is used by %d products, deactivate it instead", k.title, count))
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Delete(new(M), *id).Error; err != nil {
				return err
			}
			return k.audit(tx, actor, tenantID, m, models.AuditActionDelete, m, nil)
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, k.title+" could not be deleted")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func (k labelKind[M]) audit(tx *gorm.DB, actor auth.Actor, tenantID uint, m *M, action models.AuditAction, before, after any) error {
	id, _, name, _, _ := k.fields(m)
	return audit.WriteLog(tx, audit.LogOptions{
		TenantID:    &tenantID,
		UserID:      actor.UserID,
		UserName:    actor.Name,
		EntityType:  k.entity,
		EntityID:    *id,
		Action:      action,
		Description: fmt.Sprintf("%s %q %sd", k.title, *name, action),
		Before:      before,
		After:       after,
	})
}

// GET /api/categories?search=&active_only=true
func ListCategoriesHandler() fiber.Handler { return categoryKind.list() }

// POST /api/categories
func CreateCategoryHandler() fiber.Handler { return categoryKind.create() }

// PUT /api/categories/:id
func UpdateCategoryHandler() fiber.Handler { return categoryKind.update() }

// DELETE /api/categories/:id
func DeleteCategoryHandler() fiber.Handler { return categoryKind.delete() }

// GET /api/brands
func ListBrandsHandler() fiber.Handler { return brandKind.list() }

// POST /api/brands
func CreateBrandHandler() fiber.Handler { return brandKind.create() }

// PUT /api/brands/:id
func UpdateBrandHandler() fiber.Handler { return brandKind.update() }

// DELETE /api/brands/:id
func DeleteBrandHandler() fiber.Handler { return brandKind.delete() }
