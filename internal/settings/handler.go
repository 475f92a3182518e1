// Package settings exposes the per-shop GST and invoice configuration.
package settings

import (
	"strings"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/audit"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/auth"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/cache"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/database"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const maxPrefixLength = 10

type SettingsResponse struct {
	TenantID                  uint            `json:"tenant_id"`
	ShopName                  string          `json:"shop_name"`
	GSTNumber                 string          `json:"gst_number"`
	GSTEnabled                bool            `json:"gst_enabled"`
	GSTType                   models.GSTType  `json:"gst_type"`
	DefaultGSTRate            decimal.Decimal `json:"default_gst_rate"`
	InvoicePrefix             string          `json:"invoice_prefix"`
	InvoiceFooter             string          `json:"invoice_footer"`
	AutoDeactivateOnZeroStock bool            `json:"auto_deactivate_on_zero_stock"`
}

type UpdateSettingsRequest struct {
	TenantID                  *uint            `json:"tenant_id"` // superadmins
	GSTNumber                 *string          `json:"gst_number"`
	GSTEnabled                *bool            `json:"gst_enabled"`
	GSTType                   *models.GSTType  `json:"gst_type"`
	DefaultGSTRate            *decimal.Decimal `json:"default_gst_rate"`
	InvoicePrefix             *string          `json:"invoice_prefix"`
	InvoiceFooter             *string          `json:"invoice_footer"`
	AutoDeactivateOnZeroStock *bool            `json:"auto_deactivate_on_zero_stock"`
}

// Apply validates the request and copies it onto t.
func (r UpdateSettingsRequest) Apply(t *models.Tenant) error {
	if r.GSTNumber != nil {
		t.GSTNumber = strings.ToUpper(strings.TrimSpace(*r.GSTNumber))
	}
	if r.GSTEnabled != nil {
		t.GSTEnabled = *r.GSTEnabled
	}
	if r.GSTType != nil {
		if !r.GSTType.Valid() {
			return fiber.NewError(fiber.StatusBadRequest, "gst_type must be inclusive or exclusive")
		}
		t.GSTType = *r.GSTType
	}
	if r.DefaultGSTRate != nil {
		rate := *r.DefaultGSTRate
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
			return fiber.NewError(fiber.StatusBadRequest, "default_gst_rate must be between 0 and 100")
		}
		t.DefaultGSTRate = rate
	}
	if r.InvoicePrefix != nil {
		prefix := strings.ToUpper(strings.TrimSpace(*r.InvoicePrefix))
		if prefix == "" || len(prefix) > maxPrefixLength {
			return fiber.NewError(fiber.StatusBadRequest, "invoice_prefix must be 1 to 10 characters")
		}
		t.InvoicePrefix = prefix
	}
	if r.InvoiceFooter != nil {
		t.InvoiceFooter = strings.TrimSpace(*r.InvoiceFooter)
	}
	if r.AutoDeactivateOnZeroStock != nil {
		t.AutoDeactivateOnZeroStock = *r.AutoDeactivateOnZeroStock
	}
	return nil
}

// GET /api/settings
func GetSettingsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID, err := auth.ResolveTenantID(c, nil)
		if err != nil {
			return err
		}
		var tenant models.Tenant
		if err := database.DB.First(&tenant, tenantID).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Shop not found")
		}
		return c.JSON(toResponse(tenant))
	}
}

// PUT /api/settings
// Existing bills keep the GST mode they were issued with.
func UpdateSettingsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body UpdateSettingsRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		tenantID, err := auth.ResolveTenantID(c, body.TenantID)
		if err != nil {
			return err
		}
		actor := auth.CurrentActor(c)

		var tenant models.Tenant
		if err := database.DB.First(&tenant, tenantID).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Shop not found")
		}
		before := toResponse(tenant)
		if err := body.Apply(&tenant); err != nil {
			return err
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&tenant).Select(
				"gst_number", "gst_enabled", "gst_type", "default_gst_rate",
				"invoice_prefix", "invoice_footer", "auto_deactivate_on_zero_stock",
			).Updates(&tenant).Error; err != nil {
				return err
			}
			return audit.WriteLog(tx, audit.LogOptions{
				TenantID:    &tenant.ID,
				UserID:      actor.UserID,
				UserName:    actor.Name,
				EntityType:  "settings",
				EntityID:    tenant.ID,
				Action:      models.AuditActionUpdate,
				Description: "Shop settings updated",
				Before:      before,
				After:       toResponse(tenant),
			})
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Settings could not be saved")
		}

		cache.InvalidateTenant(c.UserContext(), tenant.ID)
		return c.JSON(toResponse(tenant))
	}
}

func toResponse(t models.Tenant) SettingsResponse {
	return SettingsResponse{
		TenantID:                  t.ID,
		ShopName:                  t.Name,
		GSTNumber:                 t.GSTNumber,
		GSTEnabled:                t.GSTEnabled,
		GSTType:                   t.GSTType,
		DefaultGSTRate:            t.DefaultGSTRate,
		InvoicePrefix:             t.InvoicePrefix,
		InvoiceFooter:             t.InvoiceFooter,
		AutoDeactivateOnZeroStock: t.AutoDeactivateOnZeroStock,
	}
}
