package dashboard

import (
	"github.com/supportta-projects/supporttabillbook-sub001/internal/database"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type TopProduct struct {
	ProductID   uint            `json:"product_id"`
	ProductName string          `json:"product_name"`
	SKU         string          `json:"sku"`
	Quantity    int64           `json:"quantity"`
	Sales       decimal.Decimal `json:"sales"`
	Profit      decimal.Decimal `json:"profit"`
}

// TopProducts ranks products by quantity sold on completed bills.
func TopProducts(db *gorm.DB, f Filter, limit int) ([]TopProduct, error) {
	dbq := f.scope(db.Table("bill_items").Joins("JOIN bills ON bills.id = bill_items.bill_id"), "bills").
		Select(`bill_items.product_id AS product_id, MAX(bill_items.product_name) AS product_name,
			MAX(bill_items.sku) AS sku, SUM(bill_items.quantity) AS quantity,
			SUM(bill_items.total_amount) AS sales, SUM(bill_items.profit) AS profit`).
		Where("bills.status = ?", models.BillCompleted).
		Group("bill_items.product_id").
		Order("quantity DESC, product_id ASC").
		Limit(limit)
	dbq = f.Range.Where(dbq, "bills.bill_date")

	var rows []TopProduct
	if err := dbq.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// GET /api/dashboard/top-products?from=2026-03-01&to=2026-03-31&limit=10
func TopProductsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		f, err := filterFrom(c)
		if err != nil {
			return err
		}
		limit := c.QueryInt("limit", 10)
		if limit < 1 || limit > 100 {
			limit = 10
		}

		rows, err := TopProducts(database.DB, f, limit)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Top products could not be listed")
		}
		return c.JSON(rows)
	}
}
