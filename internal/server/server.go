// Package server builds the fiber application and registers every route.
package server

import (
	"github.com/supportta-projects/supporttabillbook-sub001/internal/admin"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/audit"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/auth"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/billing"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/catalog"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/config"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/customer"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/dashboard"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/expense"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/inventory"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/logger"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/settings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// ErrorHandler renders every error as {"error": message}. Errors that are
// not *fiber.Error are logged and hidden behind a generic 500.
func ErrorHandler(c *fiber.Ctx, err error) error {
	if e, ok := err.(*fiber.Error); ok {
		return c.Status(e.Code).JSON(fiber.Map{
			"error": e.Message,
		})
	}
	logger.Log.WithError(err).WithField("path", c.Path()).Error("unexpected error")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Unexpected server error",
	})
}

func New(cfg *config.Config) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "billbook",
		ErrorHandler: ErrorHandler,
		BodyLimit:    10 * 1024 * 1024, // product sheets
	})

	app.Use(recover.New())
	app.Use(logger.RequestLogger())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins(),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	// Public auth
	api.Post("/auth/register-superadmin", auth.RegisterSuperAdminHandler())
	api.Post("/auth/login", auth.LoginHandler(cfg))

	protected := api.Group("", auth.JWTMiddleware(cfg))
	Register(protected, cfg)

	return app
}

// Register mounts the authenticated routes on r. The caller installs the
// identity (JWTMiddleware in production).
func Register(r fiber.Router, cfg *config.Config) {
	managers := auth.RequireMinRole(models.RoleBranchAdmin)
	owners := auth.RequireMinRole(models.RoleTenantOwner)

	r.Get("/auth/me", auth.MeHandler())
	r.Post("/auth/change-password", auth.ChangePasswordHandler())

	// Tenants
	tenants := r.Group("/tenants", auth.RequireRole(models.RoleSuperAdmin))
	tenants.Post("/", admin.CreateTenantHandler())
	tenants.Get("/", admin.ListTenantsHandler())
	tenants.Get("/:id", admin.GetTenantHandler())
	tenants.Put("/:id", admin.UpdateTenantHandler())
	tenants.Put("/:id/status", admin.SetTenantActiveHandler())

	// Branches
	r.Get("/branches", admin.ListBranchesHandler())
	r.Get("/branches/:id", admin.GetBranchHandler())
	r.Post("/branches", owners, admin.CreateBranchHandler())
	r.Put("/branches/:id", owners, admin.UpdateBranchHandler())
	r.Delete("/branches/:id", owners, admin.DeleteBranchHandler())

	// Users
	users := r.Group("/users", managers)
	users.Post("/", admin.CreateUserHandler())
	users.Get("/", admin.ListUsersHandler())
	users.Get("/:id", admin.GetUserHandler())
	users.Put("/:id", admin.UpdateUserHandler())
	users.Post("/:id/reset-password", admin.ResetPasswordHandler())

	// Settings
	r.Get("/settings", settings.GetSettingsHandler())
	r.Put("/settings", owners, settings.UpdateSettingsHandler())

	// Catalog
	r.Get("/categories", catalog.ListCategoriesHandler())
	r.Post("/categories", managers, catalog.CreateCategoryHandler())
	r.Put("/categories/:id", managers, catalog.UpdateCategoryHandler())
	r.Delete("/categories/:id", managers, catalog.DeleteCategoryHandler())
	r.Get("/brands", catalog.ListBrandsHandler())
	r.Post("/brands", managers, catalog.CreateBrandHandler())
	r.Put("/brands/:id", managers, catalog.UpdateBrandHandler())
	r.Delete("/brands/:id", managers, catalog.DeleteBrandHandler())
	r.Get("/products", catalog.ListProductsHandler())
	r.Post("/products/import", managers, catalog.ImportProductsHandler())
	r.Get("/products/:id", catalog.GetProductHandler())
	r.Post("/products", managers, catalog.CreateProductHandler())
	r.Put("/products/:id", managers, catalog.UpdateProductHandler())
	r.Delete("/products/:id", managers, catalog.DeleteProductHandler())

	// Stock
	r.Post("/stock/in", inventory.StockMovementHandler(models.StockIn))
	r.Post("/stock/out", inventory.StockMovementHandler(models.StockOut))
	r.Post("/stock/adjust", managers, inventory.StockMovementHandler(models.StockAdjustment))
	r.Get("/stock", inventory.ListCurrentStockHandler())
	r.Get("/stock/low", inventory.ListLowStockHandler())
	r.Get("/stock/ledger", inventory.ListLedgerHandler())
	r.Get("/stock/verify", managers, inventory.VerifyStockHandler())
	r.Get("/stock/export", managers, inventory.ExportStockHandler())

	// Bills
	r.Post("/bills", billing.CreateBillHandler())
	r.Get("/bills", billing.ListBillsHandler())
	r.Get("/bills/:id", billing.GetBillHandler())
	r.Get("/bills/:id/pdf", billing.BillPDFHandler())
	r.Post("/bills/:id/items", billing.AddItemHandler())
	r.Put("/bills/:id/items/:itemId", billing.UpdateItemHandler())
	r.Delete("/bills/:id/items/:itemId", billing.RemoveItemHandler())
	r.Post("/bills/:id/cancel", managers, billing.CancelBillHandler())
	r.Post("/bills/:id/payments", billing.AddPaymentHandler())
	r.Get("/payments", billing.ListPaymentsHandler())

	// Customers
	r.Get("/customers", customer.ListCustomersHandler())
	r.Post("/customers", customer.CreateCustomerHandler())
	r.Get("/customers/:id", customer.GetCustomerHandler())
	r.Get("/customers/:id/statement", customer.StatementHandler())
	r.Put("/customers/:id", customer.UpdateCustomerHandler())
	r.Delete("/customers/:id", managers, customer.DeleteCustomerHandler())

	// Expenses
	r.Get("/expense-categories", expense.ListExpenseCategoriesHandler())
	r.Post("/expense-categories", managers, expense.CreateExpenseCategoryHandler())
	r.Put("/expense-categories/:id", managers, expense.UpdateExpenseCategoryHandler())
	r.Delete("/expense-categories/:id", managers, expense.DeleteExpenseCategoryHandler())
	r.Get("/expenses/summary", expense.ExpenseSummaryHandler())
	r.Post("/expenses", expense.CreateExpenseHandler())
	r.Get("/expenses", expense.ListExpensesHandler())
	r.Get("/expenses/:id", expense.GetExpenseHandler())
	r.Put("/expenses/:id", expense.UpdateExpenseHandler())
	r.Delete("/expenses/:id", managers, expense.DeleteExpenseHandler())

	// Dashboard
	dash := r.Group("/dashboard", managers)
	dash.Get("/summary", dashboard.SummaryHandler(cfg))
	dash.Get("/sales-chart", dashboard.SalesChartHandler())
	dash.Get("/top-products", dashboard.TopProductsHandler())

	// Audit logs
	r.Get("/audit-logs", managers, audit.ListAuditLogsHandler())
	r.Post("/audit-logs/:id/undo", owners, audit.UndoAuditLogHandler())
}
