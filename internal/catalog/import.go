package catalog

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/auth"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/cache"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/database"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/logger"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// maxImportRows bounds one upload.
const maxImportRows = 5000

var headerAliases = map[string]string{
	"name":           "name",
	"product":        "name",
	"product name":   "name",
	"product_name":   "name",
	"sku":            "sku",
	"code":           "sku",
	"item code":      "sku",
	"unit":           "unit",
	"uom":            "unit",
	"selling_price":  "selling_price",
	"selling price":  "selling_price",
	"price":          "selling_price",
	"mrp":            "selling_price",
	"purchase_price": "purchase_price",
	"purchase price": "purchase_price",
	"cost":           "purchase_price",
	"gst_rate":       "gst_rate",
	"gst rate":       "gst_rate",
	"gst":            "gst_rate",
	"gst %":          "gst_rate",
	"min_stock":      "min_stock",
	"min stock":      "min_stock",
	"reorder level":  "min_stock",
}

// ImportRow is one parsed spreadsheet line. Optional numeric columns are nil
// when the cell is empty.
type ImportRow struct {
	Line          int
	Name          string
	SKU           string
	Unit          string
	SellingPrice  *decimal.Decimal
	PurchasePrice *decimal.Decimal
	GSTRate       *decimal.Decimal
	MinStock      *int64
}

type RowError struct {
	Line  int    `json:"line"`
	SKU   string `json:"sku,omitempty"`
	Error string `json:"error"`
}

type ImportResult struct {
	Created int        `json:"created"`
	Updated int        `json:"updated"`
	Skipped int        `json:"skipped"`
	Errors  []RowError `json:"errors"`
}

// ParseProductSheet reads the first sheet of an xlsx workbook. The header row
// is the first row carrying a "name" column; rows above it are ignored.
func ParseProductSheet(r io.Reader) ([]ImportRow, []RowError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read rows: %w", err)
	}

	headerAt := -1
	var cols map[string]int
	for i, row := range rows {
		m := mapColumns(row)
		if _, ok := m["name"]; ok {
			headerAt, cols = i, m
			break
		}
	}
	if headerAt < 0 {
		return nil, nil, errors.New("no header row with a name column found")
	}
	if len(rows)-headerAt-1 > maxImportRows {
		return nil, nil, fmt.Errorf("at most %d rows can be imported at once", maxImportRows)
	}

	var out []ImportRow
	var rowErrs []RowError
	for i := headerAt + 1; i < len(rows); i++ {
		cells := rows[i]
		line := i + 1
		name := cell(cells, cols, "name")
		if name == "" {
			continue
		}
		row := ImportRow{
			Line: line,
			Name: name,
			SKU:  cell(cells, cols, "sku"),
			Unit: cell(cells, cols, "unit"),
		}

		var perr error
		if row.SellingPrice, perr = decimalCell(cells, cols, "selling_price"); perr == nil {
			if row.PurchasePrice, perr = decimalCell(cells, cols, "purchase_price"); perr == nil {
				if row.GSTRate, perr = decimalCell(cells, cols, "gst_rate"); perr == nil {
					row.MinStock, perr = intCell(cells, cols, "min_stock")
				}
			}
		}
		if perr != nil {
			rowErrs = append(rowErrs, RowError{Line: line, SKU: row.SKU, Error: perr.Error()})
			continue
		}
		out = append(out, row)
	}
	return out, rowErrs, nil
}

func mapColumns(header []string) map[string]int {
	m := make(map[string]int)
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if canonical, ok := headerAliases[key]; ok {
			if _, dup := m[canonical]; !dup {
				m[canonical] = i
			}
		}
	}
	return m
}

func cell(cells []string, cols map[string]int, key string) string {
	idx, ok := cols[key]
	if !ok || idx >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[idx])
}

func decimalCell(cells []string, cols map[string]int, key string) (*decimal.Decimal, error) {
	raw := strings.ReplaceAll(cell(cells, cols, key), ",", "")
	raw = strings.TrimSuffix(raw, "%")
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", key, raw)
	}
	return &d, nil
}

func intCell(cells []string, cols map[string]int, key string) (*int64, error) {
	raw := cell(cells, cols, key)
	if raw == "" {
		return nil, nil
	}
	// spreadsheets often store whole numbers as "5.0"
	if d, err := decimal.NewFromString(raw); err == nil && d.Equal(d.Truncate(0)) {
		v := d.IntPart()
		return &v, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", key, raw)
	}
	return &v, nil
}

// ImportProducts upserts rows by SKU. Each row is saved and audited in its own
// transaction so one bad line does not reject the whole file.
func ImportProducts(db *gorm.DB, tenant *models.Tenant, actor auth.Actor, rows []ImportRow) ImportResult {
	res := ImportResult{Errors: []RowError{}}
	for _, row := range rows {
		var p models.Product
		var before *models.Product
		isNew := true
		if row.SKU != "" {
			err := db.Where("tenant_id = ? AND LOWER(sku) = ?", tenant.ID, strings.ToLower(row.SKU)).First(&p).Error
			if err == nil {
				isNew = false
				prev := p
				before = &prev
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				res.Errors = append(res.Errors, RowError{Line: row.Line, SKU: row.SKU, Error: "lookup failed"})
				continue
			}
		}
		if isNew {
			p = models.Product{
				TenantID: tenant.ID,
				SKU:      row.SKU,
				Unit:     defaultUnit,
				GSTRate:  tenant.DefaultGSTRate,
				IsActive: true,
			}
			if p.SKU == "" {
				p.SKU = GenerateSKU()
			}
		}

		p.Name = row.Name
		if row.Unit != "" {
			p.Unit = row.Unit
		}
		if row.SellingPrice != nil {
			p.SellingPrice = row.SellingPrice.Round(2)
		}
		if row.PurchasePrice != nil {
			p.PurchasePrice = row.PurchasePrice.Round(2)
		}
		if row.GSTRate != nil {
			p.GSTRate = *row.GSTRate
		}
		if row.MinStock != nil {
			p.MinStock = *row.MinStock
		}

		err := db.Transaction(func(tx *gorm.DB) error {
			if err := saveProduct(tx, &p); err != nil {
				return err
			}
			if isNew {
				return writeProductLog(tx, actor, &p, models.AuditActionCreate, nil, &p)
			}
			return writeProductLog(tx, actor, &p, models.AuditActionUpdate, before, &p)
		})
		if err != nil {
			res.Errors = append(res.Errors, RowError{Line: row.Line, SKU: p.SKU, Error: err.Error()})
			continue
		}
		if isNew {
			res.Created++
		} else {
			res.Updated++
		}
	}
	res.Skipped = len(res.Errors)
	return res
}

// POST /api/products/import (multipart, field "file")
func ImportProductsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID, err := auth.ResolveTenantID(c, nil)
		if err != nil {
			return err
		}
		var tenant models.Tenant
		if err := database.DB.First(&tenant, tenantID).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Shop not found")
		}

		fh, err := c.FormFile("file")
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "file is required")
		}
		if !strings.HasSuffix(strings.ToLower(fh.Filename), ".xlsx") {
			return fiber.NewError(fiber.StatusBadRequest, "Only .xlsx files are supported")
		}
		src, err := fh.Open()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "file could not be read")
		}
		defer src.Close()

		rows, rowErrs, err := ParseProductSheet(src)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		res := ImportProducts(database.DB, &tenant, auth.CurrentActor(c), rows)
		res.Errors = append(rowErrs, res.Errors...)
		res.Skipped = len(res.Errors)
		if res.Created+res.Updated > 0 {
			cache.InvalidateTenant(c.UserContext(), tenantID)
		}

		logger.Log.WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"created":   res.Created,
			"updated":   res.Updated,
			"skipped":   res.Skipped,
		}).Info("product import finished")

		return c.JSON(res)
	}
}
