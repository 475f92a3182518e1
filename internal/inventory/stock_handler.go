package inventory

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
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type StockMovementRequest struct {
	ProductID uint   `json:"product_id"`
	Quantity  int64  `json:"quantity"` // amount moved; the counted balance for adjustments
	Reason    string `json:"reason"`
	BranchID  *uint  `json:"branch_id"` // owners and superadmins
	TenantID  *uint  `json:"tenant_id"` // superadmins
}

type LedgerEntryResponse struct {
	ID            uint                        `json:"id"`
	BranchID      uint                        `json:"branch_id"`
	ProductID     uint                        `json:"product_id"`
	ProductName   string                      `json:"product_name"`
	SKU           string                      `json:"sku"`
	Type          models.StockTransactionType `json:"type"`
	Quantity      int64                       `json:"quantity"`
	PreviousStock int64                       `json:"previous_stock"`
	CurrentStock  int64                       `json:"current_stock"`
	Reason        string                      `json:"reason"`
	ReferenceType string                      `json:"reference_type,omitempty"`
	ReferenceID   *uint                       `json:"reference_id,omitempty"`
	CorrelationID string                      `json:"correlation_id"`
	CreatedBy     uint                        `json:"created_by"`
	CreatedAt     string                      `json:"created_at"`
}

type CurrentStockResponse struct {
	ProductID   uint   `json:"product_id"`
	ProductName string `json:"product_name"`
	SKU         string `json:"sku"`
	Unit        string `json:"unit"`
	BranchID    uint   `json:"branch_id"`
	Quantity    int64  `json:"quantity"`
	MinStock    int64  `json:"min_stock"`
	IsLow       bool   `json:"is_low"`
	IsActive    bool   `json:"is_active"`
	LastUpdate  string `json:"last_update"`
}

// stockError maps ledger errors onto HTTP errors.
func stockError(err error, fields logrus.Fields) error {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrReasonRequired),
		errors.Is(err, ErrNoChange), errors.Is(err, ErrUnknownType):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrBranchNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	logger.Log.WithFields(fields).WithError(err).Error("stock movement failed")
	return fiber.NewError(fiber.StatusInternalServerError, "Stock could not be updated")
}

// POST /api/stock/in, /api/stock/out, /api/stock/adjust
func StockMovementHandler(kind models.StockTransactionType) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body StockMovementRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if body.ProductID == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "product_id is required")
		}
		body.Reason = strings.TrimSpace(body.Reason)

		tenantID, err := auth.ResolveTenantID(c, body.TenantID)
		if err != nil {
			return err
		}
		branchID, err := auth.ResolveBranchID(c, tenantID, body.BranchID)
		if err != nil {
			return err
		}
		id, err := auth.CurrentIdentity(c)
		if err != nil {
			return err
		}
		userName := auth.CurrentUserName(c)

		var entry *models.StockLedger
		err = database.DB.Transaction(func(tx *gorm.DB) error {
			var txErr error
			entry, txErr = Apply(tx, Movement{
				TenantID:      tenantID,
				BranchID:      branchID,
				ProductID:     body.ProductID,
				Type:          kind,
				Quantity:      body.Quantity,
				Reason:        body.Reason,
				ReferenceType: "manual",
				UserID:        id.UserID,
			})
			if txErr != nil {
				return txErr
			}
			return audit.WriteLog(tx, audit.LogOptions{
				TenantID:    &tenantID,
				BranchID:    &branchID,
				UserID:      id.UserID,
				UserName:    userName,
				EntityType:  "stock_ledger",
				EntityID:    entry.ID,
				Action:      models.AuditActionCreate,
				Description: fmt.Sprintf("%s product #%d: %+d (now %d)", kind, entry.ProductID, entry.Quantity, entry.CurrentStock),
				After:       entry,
			})
		})
		if err != nil {
			return stockError(err, logrus.Fields{"tenant_id": tenantID, "branch_id": branchID, "product_id": body.ProductID})
		}

		cache.InvalidateTenant(c.UserContext(), tenantID)

		var product models.Product
		database.DB.Select("id", "name", "sku").First(&product, entry.ProductID)
		entry.Product = product

		return c.Status(fiber.StatusCreated).JSON(toLedgerResponse(*entry))
	}
}

// GET /api/stock/current?branch_id=1&search=soap&low_only=true
func ListCurrentStockHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID, err := auth.ResolveTenantID(c, nil)
		if err != nil {
			return err
		}
		branchID, err := auth.BranchFilter(c, tenantID)
		if err != nil {
			return err
		}

		dbq := database.DB.Model(&models.CurrentStock{}).
			Joins("Product").
			Where("current_stocks.tenant_id = ?", tenantID)
		if branchID != nil {
			dbq = dbq.Where("current_stocks.branch_id = ?", *branchID)
		}
		if search := strings.TrimSpace(c.Query("search")); search != "" {
			like := "%" + strings.ToLower(search) + "%"
			dbq = dbq.Where(`LOWER("Product"."name") LIKE ? OR LOWER("Product"."sku") LIKE ?`, like, like)
		}
		if c.QueryBool("low_only") {
			dbq = dbq.Where(`current_stocks.quantity <= "Product"."min_stock"`)
		}

		var stocks []models.CurrentStock
		if err := dbq.Order(`"Product"."name" ASC`).Find(&stocks).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Stock could not be listed")
		}

		resp := make([]CurrentStockResponse, 0, len(stocks))
		for _, s := range stocks {
			resp = append(resp, toCurrentStockResponse(s))
		}
		return c.JSON(resp)
	}
}

// GET /api/stock/low
func ListLowStockHandler() fiber.Handler {
	list := ListCurrentStockHandler()
	return func(c *fiber.Ctx) error {
		c.Request().URI().QueryArgs().Set("low_only", "true")
		return list(c)
	}
}

// GET /api/stock/ledger?branch_id=1&product_id=2&type=sale&from=2026-01-01&to=2026-01-31
func ListLedgerHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID, err := auth.ResolveTenantID(c, nil)
		if err != nil {
			return err
		}
		branchID, err := auth.BranchFilter(c, tenantID)
		if err != nil {
			return err
		}
		rng, err := query.DateRange(c)
		if err != nil {
			return err
		}
		page := query.Paging(c)

		dbq := database.DB.Model(&models.StockLedger{}).Where("tenant_id = ?", tenantID)
		if branchID != nil {
			dbq = dbq.Where("branch_id = ?", *branchID)
		}
		if pid, err := auth.QueryUint(c, "product_id"); err != nil {
			return err
		} else if pid != nil {
			dbq = dbq.Where("product_id = ?", *pid)
		}
		if t := models.StockTransactionType(c.Query("type")); t != "" {
			if !t.Valid() {
				return fiber.NewError(fiber.StatusBadRequest, "Unknown stock transaction type")
			}
			dbq = dbq.Where("type = ?", t)
		}
		dbq = rng.Where(dbq, "created_at")

		var total int64
		if err := dbq.Count(&total).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Ledger could not be counted")
		}

		var entries []models.StockLedger
		if err := page.Apply(dbq.Preload("Product").Order("id DESC")).Find(&entries).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Ledger could not be listed")
		}

		items := make([]LedgerEntryResponse, 0, len(entries))
		for _, e := range entries {
			items = append(items, toLedgerResponse(e))
		}
		return c.JSON(fiber.Map{
			"items": items,
			"total": total,
			"page":  page.Page,
			"limit": page.Limit,
		})
	}
}

// GET /api/stock/verify?branch_id=1
// Lists every pair whose current stock differs from its newest ledger entry.
func VerifyStockHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID, err := auth.ResolveTenantID(c, nil)
		if err != nil {
			return err
		}
		branchID, err := auth.BranchFilter(c, tenantID)
		if err != nil {
			return err
		}

		mismatches, err := Verify(database.DB, tenantID, branchID)
		if err != nil {
			logger.Log.WithError(err).WithField("tenant_id", tenantID).Error("stock verification failed")
			return fiber.NewError(fiber.StatusInternalServerError, "Stock could not be verified")
		}
		if len(mismatches) > 0 {
			logger.Log.WithFields(logrus.Fields{"tenant_id": tenantID, "mismatches": len(mismatches)}).
				Warn("current stock disagrees with ledger")
		}

		return c.JSON(fiber.Map{
			"consistent": len(mismatches) == 0,
			"mismatches": mismatches,
		})
	}
}

func toLedgerResponse(e models.StockLedger) LedgerEntryResponse {
	return LedgerEntryResponse{
		ID:            e.ID,
		BranchID:      e.BranchID,
		ProductID:     e.ProductID,
		ProductName:   e.Product.Name,
		SKU:           e.Product.SKU,
		Type:          e.Type,
		Quantity:      e.Quantity,
		PreviousStock: e.PreviousStock,
		CurrentStock:  e.CurrentStock,
		Reason:        e.Reason,
		ReferenceType: e.ReferenceType,
		ReferenceID:   e.ReferenceID,
		CorrelationID: e.CorrelationID,
		CreatedBy:     e.CreatedBy,
		CreatedAt:     e.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

func toCurrentStockResponse(s models.CurrentStock) CurrentStockResponse {
	return CurrentStockResponse{
		ProductID:   s.ProductID,
		ProductName: s.Product.Name,
		SKU:         s.Product.SKU,
		Unit:        s.Product.Unit,
		BranchID:    s.BranchID,
		Quantity:    s.Quantity,
		MinStock:    s.Product.MinStock,
		IsLow:       s.Quantity <= s.Product.MinStock,
		IsActive:    s.IsActive,
		LastUpdate:  s.UpdatedAt.Format("2006-01-02 15:04:05"),
	}
}
