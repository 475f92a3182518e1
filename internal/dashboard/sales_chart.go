package dashboard

import (
	"time"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/database"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/query"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Period string

const (
	Daily   Period = "daily"
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
)

// defaultCount is the number of buckets shown when ?count is missing.
func (p Period) defaultCount() int {
	switch p {
	case Weekly:
		return 8
	case Monthly:
		return 12
	}
	return 7
}

// start truncates t to the first instant of its bucket. Weeks start on Monday.
func (p Period) start(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	switch p {
	case Weekly:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case Monthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	}
	return day
}

func (p Period) next(t time.Time) time.Time {
	switch p {
	case Weekly:
		return t.AddDate(0, 0, 7)
	case Monthly:
		return t.AddDate(0, 1, 0)
	}
	return t.AddDate(0, 0, 1)
}

type SalesChartPoint struct {
	Label     string          `json:"label"` // first day of the bucket
	BillCount int             `json:"bill_count"`
	Sales     decimal.Decimal `json:"sales"`
	GST       decimal.Decimal `json:"gst"`
	Profit    decimal.Decimal `json:"profit"`
}

type SalesChartGrandTotals struct {
	BillCount int             `json:"bill_count"`
	Sales     decimal.Decimal `json:"sales"`
	GST       decimal.Decimal `json:"gst"`
	Profit    decimal.Decimal `json:"profit"`
}

type SalesChartResponse struct {
	BranchID    *uint                 `json:"branch_id"`
	Period      Period                `json:"period"`
	From        string                `json:"from"`
	To          string                `json:"to"`
	Points      []SalesChartPoint     `json:"points"`
	GrandTotals SalesChartGrandTotals `json:"grand_totals"`
}

// BuildSalesChart buckets the completed bills of the last count periods up to
// and including now. Empty buckets are kept so the chart has no gaps.
func BuildSalesChart(db *gorm.DB, tenantID uint, branchID *uint, period Period, count int, now time.Time) (SalesChartResponse, error) {
	end := period.next(period.start(now))
	start := period.start(now)
	for i := 1; i < count; i++ {
		start = period.start(start.AddDate(0, 0, -1))
	}

	dbq := db.Model(&models.Bill{}).
		Select("bill_date", "total_amount", "gst_amount", "profit_amount").
		Where("tenant_id = ? AND status = ? AND bill_date >= ? AND bill_date < ?", tenantID, models.BillCompleted, start, end)
	if branchID != nil {
		dbq = dbq.Where("branch_id = ?", *branchID)
	}
	var bills []models.Bill
	if err := dbq.Find(&bills).Error; err != nil {
		return SalesChartResponse{}, err
	}

	points := make([]SalesChartPoint, 0, count)
	index := make(map[string]int, count)
	for b := start; b.Before(end); b = period.next(b) {
		index[b.Format(query.DateLayout)] = len(points)
		points = append(points, SalesChartPoint{
			Label:  b.Format(query.DateLayout),
			Sales:  decimal.Zero,
			GST:    decimal.Zero,
			Profit: decimal.Zero,
		})
	}

	grand := SalesChartGrandTotals{Sales: decimal.Zero, GST: decimal.Zero, Profit: decimal.Zero}
	for _, b := range bills {
		i, ok := index[period.start(b.BillDate.In(now.Location())).Format(query.DateLayout)]
		if !ok {
			continue
		}
		p := &points[i]
		p.BillCount++
		p.Sales = p.Sales.Add(b.TotalAmount)
		p.GST = p.GST.Add(b.GSTAmount)
		p.Profit = p.Profit.Add(b.ProfitAmount)

		grand.BillCount++
		grand.Sales = grand.Sales.Add(b.TotalAmount)
		grand.GST = grand.GST.Add(b.GSTAmount)
		grand.Profit = grand.Profit.Add(b.ProfitAmount)
	}

	return SalesChartResponse{
		BranchID:    branchID,
		Period:      period,
		From:        start.Format(query.DateLayout),
		To:          end.AddDate(0, 0, -1).Format(query.DateLayout),
		Points:      points,
		GrandTotals: grand,
	}, nil
}

// GET /api/dashboard/sales-chart?period=daily&count=7&branch_id=1
func SalesChartHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		f, err := filterFrom(c)
		if err != nil {
			return err
		}

		period := Period(c.Query("period", string(Daily)))
		switch period {
		case Daily, Weekly, Monthly:
		default:
			return fiber.NewError(fiber.StatusBadRequest, "period must be daily, weekly or monthly")
		}
		count := c.QueryInt("count", period.defaultCount())
		if count <= 0 || count > 366 {
			return fiber.NewError(fiber.StatusBadRequest, "count must be between 1 and 366")
		}

		resp, err := BuildSalesChart(database.DB, f.TenantID, f.BranchID, period, count, time.Now())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Sales chart could not be built")
		}
		return c.JSON(resp)
	}
}
