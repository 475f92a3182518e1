package inventory

import (
	"bytes"
	"fmt"
	"time"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/auth"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/database"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/logger"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/xuri/excelize/v2"
)

const stockSheet = "Stock"

var stockHeaders = []string{"Branch", "SKU", "Product", "Unit", "Quantity", "Min stock", "Low", "Active"}

// BuildStockWorkbook renders the given stock rows as an xlsx workbook.
func BuildStockWorkbook(stocks []models.CurrentStock) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", stockSheet); err != nil {
		return nil, err
	}

	for i, h := range stockHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(stockSheet, cell, h); err != nil {
			return nil, err
		}
	}

	for i, s := range stocks {
		row := []interface{}{
			s.Branch.Name,
			s.Product.SKU,
			s.Product.Name,
			s.Product.Unit,
			s.Quantity,
			s.Product.MinStock,
			yesNo(s.Quantity <= s.Product.MinStock),
			yesNo(s.IsActive),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(stockSheet, cell, &row); err != nil {
			return nil, err
		}
	}

	if err := f.SetColWidth(stockSheet, "A", "C", 24); err != nil {
		return nil, err
	}

	return f.WriteToBuffer()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// GET /api/stock/export?branch_id=1
func ExportStockHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID, err := auth.ResolveTenantID(c, nil)
		if err != nil {
			return err
		}
		branchID, err := auth.BranchFilter(c, tenantID)
		if err != nil {
			return err
		}

		dbq := database.DB.Preload("Product").Preload("Branch").Where("tenant_id = ?", tenantID)
		if branchID != nil {
			dbq = dbq.Where("branch_id = ?", *branchID)
		}

		var stocks []models.CurrentStock
		if err := dbq.Order("branch_id, product_id").Find(&stocks).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Stock could not be listed")
		}

		buf, err := BuildStockWorkbook(stocks)
		if err != nil {
			logger.Log.WithError(err).Error("stock workbook could not be built")
			return fiber.NewError(fiber.StatusInternalServerError, "Export failed")
		}

		c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="stock-%s.xlsx"`, time.Now().Format("20060102")))
		return c.Send(buf.Bytes())
	}
}
