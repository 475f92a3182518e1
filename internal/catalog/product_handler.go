package catalog

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
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrNameRequired  = errors.New("name is required")
	ErrNegativePrice = errors.New("prices must not be negative")
	ErrGSTRate       = errors.New("GST rate must be between 0 and 100")
	ErrNegativeMin   = errors.New("min stock must not be negative")
	ErrSKUTaken      = errors.New("SKU already exists")
	ErrUnknownLabel  = errors.New("category or brand not found")
	ErrProductInUse  = errors.New("product has stock history, deactivate it instead")
)

const defaultUnit = "pcs"

var hundred = decimal.NewFromInt(100)

type ProductResponse struct {
	ID            uint            `json:"id"`
	Name          string          `json:"name"`
	SKU           string          `json:"sku"`
	Unit          string          `json:"unit"`
	Description   string          `json:"description"`
	CategoryID    *uint           `json:"category_id"`
	CategoryName  string          `json:"category_name,omitempty"`
	BrandID       *uint           `json:"brand_id"`
	BrandName     string          `json:"brand_name,omitempty"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	GSTRate       decimal.Decimal `json:"gst_rate"`
	MinStock      int64           `json:"min_stock"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     string          `json:"created_at"`
}

type CreateProductRequest struct {
	TenantID      *uint            `json:"tenant_id"` // superadmins
	Name          string           `json:"name"`
	SKU           string           `json:"sku"` // generated when empty
	Unit          string           `json:"unit"`
	Description   string           `json:"description"`
	CategoryID    *uint            `json:"category_id"`
	BrandID       *uint            `json:"brand_id"`
	SellingPrice  decimal.Decimal  `json:"selling_price"`
	PurchasePrice decimal.Decimal  `json:"purchase_price"`
	GSTRate       *decimal.Decimal `json:"gst_rate"` // tenant default when omitted
	MinStock      int64            `json:"min_stock"`
}

type UpdateProductRequest struct {
	Name          *string          `json:"name"`
	SKU           *string          `json:"sku"`
	Unit          *string          `json:"unit"`
	Description   *string          `json:"description"`
	CategoryID    *uint            `json:"category_id"`
	BrandID       *uint            `json:"brand_id"`
	SellingPrice  *decimal.Decimal `json:"selling_price"`
	PurchasePrice *decimal.Decimal `json:"purchase_price"`
	GSTRate       *decimal.Decimal `json:"gst_rate"`
	MinStock      *int64           `json:"min_stock"`
	IsActive      *bool            `json:"is_active"`
}

// GenerateSKU returns a short random SKU.
func GenerateSKU() string {
	return "SKU-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// ValidateProduct checks the invariants every stored product satisfies.
func ValidateProduct(p *models.Product) error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return ErrNameRequired
	case p.SellingPrice.IsNegative(), p.PurchasePrice.IsNegative():
		return ErrNegativePrice
	case p.GSTRate.IsNegative(), p.GSTRate.GreaterThan(hundred):
		return ErrGSTRate
	case p.MinStock < 0:
		return ErrNegativeMin
	}
	return nil
}

func skuTaken(db *gorm.DB, tenantID uint, sku string, exceptID uint) (bool, error) {
	var count int64
	err := db.Model(&models.Product{}).
		Where("tenant_id = ? AND LOWER(sku) = ? AND id <> ?", tenantID, strings.ToLower(sku), exceptID).
		Count(&count).Error
	return count > 0, err
}

// checkLabels makes sure the referenced category and brand belong to the tenant.
func checkLabels(db *gorm.DB, tenantID uint, categoryID, brandID *uint) error {
	if categoryID != nil {
		var n int64
		db.Model(&models.Category{}).Where("id = ? AND tenant_id = ?", *categoryID, tenantID).Count(&n)
		if n == 0 {
			return ErrUnknownLabel
		}
	}
	if brandID != nil {
		var n int64
		db.Model(&models.Brand{}).Where("id = ? AND tenant_id = ?", *brandID, tenantID).Count(&n)
		if n == 0 {
			return ErrUnknownLabel
		}
	}
	return nil
}

func productError(err error) error {
	switch {
	case errors.Is(err, ErrSKUTaken):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, ErrUnknownLabel):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrNameRequired), errors.Is(err, ErrNegativePrice),
		errors.Is(err, ErrGSTRate), errors.Is(err, ErrNegativeMin):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	logger.Log.WithError(err).Error("product write failed")
	return fiber.NewError(fiber.StatusInternalServerError, "Product could not be saved")
}

// GET /api/products?search=soap&category_id=1&brand_id=2&active=true&page=1&limit=50
func ListProductsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID, err := auth.ResolveTenantID(c, nil)
		if err != nil {
			return err
		}
		page := query.Paging(c)

		dbq := database.DB.Model(&models.Product{}).Where("tenant_id = ?", tenantID)
		if s := strings.TrimSpace(c.Query("search")); s != "" {
			like := "%" + strings.ToLower(s) + "%"
			dbq = dbq.Where("LOWER(name) LIKE ? OR LOWER(sku) LIKE ?", like, like)
		}
		for _, key := range []string{"category_id", "brand_id"} {
			v, err := auth.QueryUint(c, key)
			if err != nil {
				return err
			}
			if v != nil {
				dbq = dbq.Where(key+" = ?", *v)
			}
		}
		if a := c.Query("active"); a != "" {
			dbq = dbq.Where("is_active = ?", c.QueryBool("active"))
		}

		var total int64
		if err := dbq.Count(&total).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Products could not be counted")
		}
		var products []models.Product
		if err := page.Apply(dbq.Preload("Category").Preload("Brand").Order("name ASC")).Find(&products).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Products could not be listed")
		}

		items := make([]ProductResponse, 0, len(products))
		for _, p := range products {
			items = append(items, toProductResponse(p))
		}
		return c.JSON(fiber.Map{
			"items": items,
			"total": total,
			"page":  page.Page,
			"limit": page.Limit,
		})
	}
}

// GET /api/products/:id
func GetProductHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, _, err := loadProduct(c)
		if err != nil {
			return err
		}
		return c.JSON(toProductResponse(*p))
	}
}

// POST /api/products
func CreateProductHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateProductRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		tenantID, err := auth.ResolveTenantID(c, body.TenantID)
		if err != nil {
			return err
		}
		var tenant models.Tenant
		if err := database.DB.First(&tenant, tenantID).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Shop not found")
		}
		actor := auth.CurrentActor(c)

		p := models.Product{
			TenantID:      tenantID,
			CategoryID:    body.CategoryID,
			BrandID:       body.BrandID,
			Name:          strings.TrimSpace(body.Name),
			SKU:           strings.TrimSpace(body.SKU),
			Unit:          strings.TrimSpace(body.Unit),
			Description:   strings.TrimSpace(body.Description),
			SellingPrice:  body.SellingPrice.Round(2),
			PurchasePrice: body.PurchasePrice.Round(2),
			GSTRate:       tenant.DefaultGSTRate,
			MinStock:      body.MinStock,
			IsActive:      true,
		}
		if body.GSTRate != nil {
			p.GSTRate = *body.GSTRate
		}
		if p.Unit == "" {
			p.Unit = defaultUnit
		}
		if p.SKU == "" {
			p.SKU = GenerateSKU()
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := saveProduct(tx, &p); err != nil {
				return err
			}
			return writeProductLog(tx, actor, &p, models.AuditActionCreate, nil, &p)
		})
		if err != nil {
			return productError(err)
		}
		cache.InvalidateTenant(c.UserContext(), p.TenantID)

		database.DB.Preload("Category").Preload("Brand").First(&p, p.ID)
		return c.Status(fiber.StatusCreated).JSON(toProductResponse(p))
	}
}

// PUT /api/products/:id
func UpdateProductHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, _, err := loadProduct(c)
		if err != nil {
			return err
		}
		var body UpdateProductRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		actor := auth.CurrentActor(c)

		before := *p
		p.Category, p.Brand = nil, nil
		if body.Name != nil {
			p.Name = strings.TrimSpace(*body.Name)
		}
		if body.SKU != nil {
			sku := strings.TrimSpace(*body.SKU)
			if sku == "" {
				return fiber.NewError(fiber.StatusBadRequest, "SKU cannot be empty")
			}
			p.SKU = sku
		}
		if body.Unit != nil && strings.TrimSpace(*body.Unit) != "" {
			p.Unit = strings.TrimSpace(*body.Unit)
		}
		if body.Description != nil {
			p.Description = strings.TrimSpace(*body.Description)
		}
		if body.CategoryID != nil {
			p.CategoryID = body.CategoryID
		}
		if body.BrandID != nil {
			p.BrandID = body.BrandID
		}
		if body.SellingPrice != nil {
			p.SellingPrice = body.SellingPrice.Round(2)
		}
		if body.PurchasePrice != nil {
			p.PurchasePrice = body.PurchasePrice.Round(2)
		}
		if body.GSTRate != nil {
			p.GSTRate = *body.GSTRate
		}
		if body.MinStock != nil {
			p.MinStock = *body.MinStock
		}
		if body.IsActive != nil {
			p.IsActive = *body.IsActive
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := saveProduct(tx, p); err != nil {
				return err
			}
			before.Category, before.Brand = nil, nil
			return writeProductLog(tx, actor, p, models.AuditActionUpdate, &before, p)
		})
		if err != nil {
			return productError(err)
		}
		cache.InvalidateTenant(c.UserContext(), p.TenantID)

		database.DB.Preload("Category").Preload("Brand").First(p, p.ID)
		return c.JSON(toProductResponse(*p))
	}
}

// DELETE /api/products/:id
// Products with stock history or sales are kept for the ledger; deactivate them.
func DeleteProductHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, _, err := loadProduct(c)
		if err != nil {
			return err
		}
		actor := auth.CurrentActor(c)

		var used int64
		database.DB.Model(&models.StockLedger{}).Where("product_id = ?", p.ID).Count(&used)
		if used == 0 {
			database.DB.Model(&models.BillItem{}).Where("product_id = ?", p.ID).Count(&used)
		}
		if used > 0 {
			return fiber.NewError(fiber.StatusConflict, ErrProductInUse.Error())
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("product_id = ?", p.ID).Delete(&models.CurrentStock{}).Error; err != nil {
				return err
			}
			if err := tx.Delete(&models.Product{}, p.ID).Error; err != nil {
				return err
			}
			p.Category, p.Brand = nil, nil
			return writeProductLog(tx, actor, p, models.AuditActionDelete, p, nil)
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Product could not be deleted")
		}
		cache.InvalidateTenant(c.UserContext(), p.TenantID)
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// saveProduct validates p and creates or updates it.
func saveProduct(tx *gorm.DB, p *models.Product) error {
	if err := ValidateProduct(p); err != nil {
		return err
	}
	if err := checkLabels(tx, p.TenantID, p.CategoryID, p.BrandID); err != nil {
		return err
	}
	taken, err := skuTaken(tx, p.TenantID, p.SKU, p.ID)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%w: %s", ErrSKUTaken, p.SKU)
	}
	if p.ID == 0 {
		return tx.Omit("Category", "Brand").Create(p).Error
	}
	return tx.Omit("Category", "Brand").Save(p).Error
}

func writeProductLog(tx *gorm.DB, actor auth.Actor, p *models.Product, action models.AuditAction, before, after any) error {
	return audit.WriteLog(tx, audit.LogOptions{
		TenantID:    &p.TenantID,
		UserID:      actor.UserID,
		UserName:    actor.Name,
		EntityType:  "product",
		EntityID:    p.ID,
		Action:      action,
		Description: fmt.Sprintf("Product %s (%s) %sd", p.Name, p.SKU, action),
		Before:      before,
		After:       after,
	})
}

func loadProduct(c *fiber.Ctx) (*models.Product, uint, error) {
	tenantID, err := auth.ResolveTenantID(c, nil)
	if err != nil {
		return nil, 0, err
	}
	id, err := auth.ParamUint(c, "id")
	if err != nil {
		return nil, 0, err
	}
	var p models.Product
	if err := database.DB.Preload("Category").Preload("Brand").
		Where("tenant_id = ?", tenantID).First(&p, id).Error; err != nil {
		return nil, 0, fiber.NewError(fiber.StatusNotFound, "Product not found")
	}
	return &p, tenantID, nil
}

func toProductResponse(p models.Product) ProductResponse {
	resp := ProductResponse{
		ID:            p.ID,
		Name:          p.Name,
		SKU:           p.SKU,
		Unit:          p.Unit,
		Description:   p.Description,
		CategoryID:    p.CategoryID,
		BrandID:       p.BrandID,
		SellingPrice:  p.SellingPrice,
		PurchasePrice: p.PurchasePrice,
		GSTRate:       p.GSTRate,
		MinStock:      p.MinStock,
		IsActive:      p.IsActive,
		CreatedAt:     p.CreatedAt.Format("2006-01-02 15:04:05"),
	}
	if p.Category != nil {
		resp.CategoryName = p.Category.Name
	}
	if p.Brand != nil {
		resp.BrandName = p.Brand.Name
	}
	return resp
}
