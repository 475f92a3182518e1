// Package dashboard serves the aggregated sales, expense and stock figures.
package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/auth"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/cache"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/config"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/database"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/logger"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/query"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Filter selects the tenant, optionally one branch, and a date range.
type Filter struct {
	TenantID uint
	BranchID *uint
	Range    query.Range
}

func (f Filter) scope(db *gorm.DB, table string) *gorm.DB {
	db = db.Where(table+".tenant_id = ?", f.TenantID)
	if f.BranchID != nil {
		db = db.Where(table+".branch_id = ?", *f.BranchID)
	}
	return db
}

// cacheKey is unique per tenant, branch and range.
func (f Filter) cacheKey(parts ...string) string {
	branch := "all"
	if f.BranchID != nil {
		branch = fmt.Sprint(*f.BranchID)
	}
	from, to := "-", "-"
	if f.Range.From != nil {
		from = f.Range.From.Format(query.DateLayout)
	}
	if f.Range.To != nil {
		to = f.Range.To.Format(query.DateLayout)
	}
	return cache.TenantKey(f.TenantID, append(parts, branch, from, to)...)
}

type Summary struct {
	SalesTotal       decimal.Decimal `json:"sales_total"`
	BillCount        int64           `json:"bill_count"`
	CancelledCount   int64           `json:"cancelled_count"`
	GSTCollected     decimal.Decimal `json:"gst_collected"`
	Profit           decimal.Decimal `json:"profit"`
	PaymentsReceived decimal.Decimal `json:"payments_received"`
	OutstandingDues  decimal.Decimal `json:"outstanding_dues"`
	Expenses         decimal.Decimal `json:"expenses"`
	Net              decimal.Decimal `json:"net"` // profit - expenses
	LowStockCount    int64           `json:"low_stock_count"`
	Cached           bool            `json:"cached"`
}

// BuildSummary runs the independent aggregates concurrently.
func BuildSummary(ctx context.Context, db *gorm.DB, f Filter) (Summary, error) {
	var s Summary
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var row struct {
			Total  decimal.Decimal
			Count  int64
			GST    decimal.Decimal
			Profit decimal.Decimal
			Due    decimal.Decimal
		}
		dbq := f.scope(db.WithContext(ctx).Model(&models.Bill{}), "bills").
			Select(`COALESCE(SUM(total_amount), 0) AS total, COUNT(*) AS count,
				COALESCE(SUM(gst_amount), 0) AS gst, COALESCE(SUM(profit_amount), 0) AS profit,
				COALESCE(SUM(due_amount), 0) AS due`).
			Where("status = ?", models.BillCompleted)
		if err := f.Range.Where(dbq, "bill_date").Scan(&row).Error; err != nil {
			return fmt.Errorf("sales totals: %w", err)
		}
		s.SalesTotal, s.BillCount, s.GSTCollected, s.Profit, s.OutstandingDues =
			row.Total, row.Count, row.GST, row.Profit, row.Due
		return nil
	})

	g.Go(func() error {
		dbq := f.scope(db.WithContext(ctx).Model(&models.Bill{}), "bills").
			Where("status = ?", models.BillCancelled)
		if err := f.Range.Where(dbq, "bill_date").Count(&s.CancelledCount).Error; err != nil {
			return fmt.Errorf("cancelled bills: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		var row struct{ Total decimal.Decimal }
		dbq := f.scope(db.WithContext(ctx).Model(&models.Payment{}), "payments").
			Select("COALESCE(SUM(amount), 0) AS total").
			Where("bill_id NOT IN (?)", db.Model(&models.Bill{}).Select("id").Where("status = ?", models.BillCancelled))
		if err := f.Range.Where(dbq, "paid_at").Scan(&row).Error; err != nil {
			return fmt.Errorf("payments: %w", err)
		}
		s.PaymentsReceived = row.Total
		return nil
	})

	g.Go(func() error {
		var row struct{ Total decimal.Decimal }
		dbq := f.scope(db.WithContext(ctx).Model(&models.Expense{}), "expenses").
			Select("COALESCE(SUM(amount), 0) AS total")
		if err := f.Range.Where(dbq, "date").Scan(&row).Error; err != nil {
			return fmt.Errorf("expenses: %w", err)
		}
		s.Expenses = row.Total
		return nil
	})

	g.Go(func() error {
		dbq := f.scope(db.WithContext(ctx).Model(&models.CurrentStock{}), "current_stocks").
			Joins("JOIN products ON products.id = current_stocks.product_id").
			Where("current_stocks.quantity <= products.min_stock")
		if err := dbq.Count(&s.LowStockCount).Error; err != nil {
			return fmt.Errorf("low stock: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	s.Net = s.Profit.Sub(s.Expenses)
	return s, nil
}

func filterFrom(c *fiber.Ctx) (Filter, error) {
	tenantID, err := auth.ResolveTenantID(c, nil)
	if err != nil {
		return Filter{}, err
	}
	branchID, err := auth.BranchFilter(c, tenantID)
	if err != nil {
		return Filter{}, err
	}
	rng, err := query.DateRange(c)
	if err != nil {
		return Filter{}, err
	}
	return Filter{TenantID: tenantID, BranchID: branchID, Range: rng}, nil
}

// GET /api/dashboard/summary?branch_id=1&from=2026-03-01&to=2026-03-31
func SummaryHandler(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		f, err := filterFrom(c)
		if err != nil {
			return err
		}
		ctx := c.UserContext()
		key := f.cacheKey("dashboard", "summary")

		var cached Summary
		if ok, err := cache.GetJSON(ctx, key, &cached); err != nil {
			logger.Log.WithError(err).WithField("key", key).Warn("dashboard cache read failed")
		} else if ok {
			cached.Cached = true
			return c.JSON(cached)
		}

		s, err := BuildSummary(ctx, database.DB, f)
		if err != nil {
			logger.Log.WithError(err).WithField("tenant_id", f.TenantID).Error("dashboard summary failed")
			return fiber.NewError(fiber.StatusInternalServerError, "Dashboard could not be calculated")
		}

		if err := cache.SetJSON(ctx, key, s, ttl(cfg)); err != nil {
			logger.Log.WithError(err).WithField("key", key).Warn("dashboard cache write failed")
		}
		return c.JSON(s)
	}
}

func ttl(cfg *config.Config) time.Duration {
	if cfg == nil || cfg.DashboardCacheTTL <= 0 {
		return 30 * time.Second
	}
	return cfg.DashboardCacheTTL
}
