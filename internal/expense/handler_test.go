package expense

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/audit"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/auth/authtest"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/testutil"
)

type fixture struct {
	db     *gorm.DB
	tenant *models.Tenant
	main   *models.Branch
	second *models.Branch
	owner  *fiber.App
	staff  *fiber.App
}

func routes(app *fiber.App) *fiber.App {
	app.Get("/expense-categories", ListExpenseCategoriesHandler())
	app.Post("/expense-categories", CreateExpenseCategoryHandler())
	app.Put("/expense-categories/:id", UpdateExpenseCategoryHandler())
	app.Delete("/expense-categories/:id", DeleteExpenseCategoryHandler())
	app.Get("/expenses", ListExpensesHandler())
	app.Get("/expenses/summary", ExpenseSummaryHandler())
	app.Post("/expenses", CreateExpenseHandler())
	app.Get("/expenses/:id", GetExpenseHandler())
	app.Put("/expenses/:id", UpdateExpenseHandler())
	app.Delete("/expenses/:id", DeleteExpenseHandler())
	return app
}

func setup(t *testing.T) fixture {
	db := testutil.NewDB(t)
	tenant := testutil.Tenant(t, db, "T1", models.GSTExclusive)
	main := testutil.Branch(t, db, tenant.ID, "Main")
	second := testutil.Branch(t, db, tenant.ID, "Second")
	owner := testutil.User(t, db, "owner@shop.test", models.RoleTenantOwner, &tenant.ID, nil)
	staff := testutil.User(t, db, "staff@shop.test", models.RoleBranchStaff, &tenant.ID, &second.ID)

	return fixture{
		db:     db,
		tenant: tenant,
		main:   main,
		second: second,
		owner:  routes(authtest.App(owner)),
		staff:  routes(authtest.App(staff)),
	}
}

func (f fixture) category(t *testing.T, name string) ExpenseCategoryResponse {
	t.Helper()
	status, body := authtest.Do(t, f.owner, http.MethodPost, "/expense-categories", map[string]any{"name": name})
	require.Equal(t, fiber.StatusCreated, status, string(body))
	return authtest.Decode[ExpenseCategoryResponse](t, body)
}

func TestExpenseCategoryCRUD(t *testing.T) {
	f := setup(t)
	rent := f.category(t, "Rent")

	status, _ := authtest.Do(t, f.owner, http.MethodPost, "/expense-categories", map[string]any{"name": "rent"})
	assert.Equal(t, fiber.StatusConflict, status)
	status, _ = authtest.Do(t, f.owner, http.MethodPost, "/expense-categories", map[string]any{"name": "  "})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body := authtest.Do(t, f.owner, http.MethodPut, fmt.Sprintf("/expense-categories/%d", rent.ID), map[string]any{"name": "Shop rent"})
	require.Equal(t, fiber.StatusOK, status, string(body))
	assert.Equal(t, "Shop rent", authtest.Decode[ExpenseCategoryResponse](t, body).Name)

	status, body = authtest.Do(t, f.owner, http.MethodPost, "/expenses", map[string]any{
		"branch_id": f.main.ID, "category_id": rent.ID, "amount": "15000", "date": "2026-03-01",
	})
	require.Equal(t, fiber.StatusCreated, status, string(body))
	exp := authtest.Decode[ExpenseResponse](t, body)

	status, _ = authtest.Do(t, f.owner, http.MethodDelete, fmt.Sprintf("/expense-categories/%d", rent.ID), nil)
	assert.Equal(t, fiber.StatusConflict, status, "category in use")

	status, _ = authtest.Do(t, f.owner, http.MethodDelete, fmt.Sprintf("/expenses/%d", exp.ID), nil)
	require.Equal(t, fiber.StatusNoContent, status)
	status, _ = authtest.Do(t, f.owner, http.MethodDelete, fmt.Sprintf("/expense-categories/%d", rent.ID), nil)
	require.Equal(t, fiber.StatusNoContent, status)

	status, body = authtest.Do(t, f.owner, http.MethodGet, "/expense-categories", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, authtest.Decode[[]ExpenseCategoryResponse](t, body))
}

func TestCreateExpenseValidation(t *testing.T) {
	f := setup(t)
	cat := f.category(t, "Tea")

	cases := []map[string]any{
		{"branch_id": f.main.ID, "category_id": cat.ID, "amount": "0"},
		{"branch_id": f.main.ID, "category_id": cat.ID, "amount": "-5"},
		{"branch_id": f.main.ID, "category_id": cat.ID, "amount": "5", "payment_mode": "barter"},
		{"branch_id": f.main.ID, "category_id": cat.ID, "amount": "5", "date": "01/03/2026"},
		{"branch_id": f.main.ID, "amount": "5"},
		{"category_id": cat.ID, "amount": "5"},
	}
	for _, c := range cases {
		status, _ := authtest.Do(t, f.owner, http.MethodPost, "/expenses", c)
		assert.Equal(t, fiber.StatusBadRequest, status, c)
	}

	status, _ := authtest.Do(t, f.owner, http.MethodPost, "/expenses", map[string]any{
		"branch_id": f.main.ID, "category_id": 999, "amount": "5",
	})
	assert.Equal(t, fiber.StatusNotFound, status)

	status, body := authtest.Do(t, f.owner, http.MethodPost, "/expenses", map[string]any{
		"branch_id": f.main.ID, "category_id": cat.ID, "amount": "12.5",
	})
	require.Equal(t, fiber.StatusCreated, status, string(body))
	exp := authtest.Decode[ExpenseResponse](t, body)
	assert.Equal(t, models.PaymentCash, exp.PaymentMode)
	assert.Equal(t, "Tea", exp.Category)
}

func TestStaffArePinnedToTheirBranch(t *testing.T) {
	f := setup(t)
	cat := f.category(t, "Cleaning")

	status, _ := authtest.Do(t, f.staff, http.MethodPost, "/expenses", map[string]any{
		"branch_id": f.main.ID, "category_id": cat.ID, "amount": "40",
	})
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body := authtest.Do(t, f.staff, http.MethodPost, "/expenses", map[string]any{
		"category_id": cat.ID, "amount": "40", "payment_mode": "upi",
	})
	require.Equal(t, fiber.StatusCreated, status, string(body))
	assert.Equal(t, f.second.ID, authtest.Decode[ExpenseResponse](t, body).BranchID)

	status, body = authtest.Do(t, f.owner, http.MethodPost, "/expenses", map[string]any{
		"branch_id": f.main.ID, "category_id": cat.ID, "amount": "60",
	})
	require.Equal(t, fiber.StatusCreated, status)
	mainExp := authtest.Decode[ExpenseResponse](t, body)

	status, body = authtest.Do(t, f.staff, http.MethodGet, "/expenses", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, string(body), `"total":1`)

	status, _ = authtest.Do(t, f.staff, http.MethodGet, fmt.Sprintf("/expenses/%d", mainExp.ID), nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, body = authtest.Do(t, f.owner, http.MethodGet, "/expenses", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, string(body), `"total":2`)
}

func TestUpdateExpenseCanBeUndone(t *testing.T) {
	f := setup(t)
	fuel := f.category(t, "Fuel")
	travel := f.category(t, "Travel")

	_, body := authtest.Do(t, f.owner, http.MethodPost, "/expenses", map[string]any{
		"branch_id": f.main.ID, "category_id": fuel.ID, "amount": "500", "date": "2026-03-02",
	})
	exp := authtest.Decode[ExpenseResponse](t, body)

	status, body := authtest.Do(t, f.owner, http.MethodPut, fmt.Sprintf("/expenses/%d", exp.ID), map[string]any{
		"amount": "650.456", "category_id": travel.ID, "description": "taxi",
	})
	require.Equal(t, fiber.StatusOK, status, string(body))
	updated := authtest.Decode[ExpenseResponse](t, body)
	assert.Equal(t, "650.46", updated.Amount.StringFixed(2))
	assert.Equal(t, "Travel", updated.Category)

	status, _ = authtest.Do(t, f.owner, http.MethodPut, fmt.Sprintf("/expenses/%d", exp.ID), map[string]any{"amount": "0"})
	assert.Equal(t, fiber.StatusBadRequest, status)

	var entry models.AuditLog
	require.NoError(t, f.db.Where("entity_type = ? AND action = ?", "expense", models.AuditActionUpdate).First(&entry).Error)
	require.NoError(t, audit.UndoLog(f.db, entry.ID, 1, "owner"))

	var reverted models.Expense
	require.NoError(t, f.db.First(&reverted, exp.ID).Error)
	assert.Equal(t, fuel.ID, reverted.CategoryID)
	assert.True(t, reverted.Amount.Equal(decimal.NewFromInt(500)))
	assert.Empty(t, reverted.Description)
}

func TestExpenseSummary(t *testing.T) {
	f := setup(t)
	rent := f.category(t, "Rent")
	tea := f.category(t, "Tea")

	for _, e := range []struct {
		branch uint
		cat    uint
		amount string
		date   string
	}{
		{f.main.ID, rent.ID, "10000", "2026-03-01"},
		{f.main.ID, tea.ID, "20", "2026-03-02"},
		{f.main.ID, tea.ID, "35.50", "2026-03-03"},
		{f.second.ID, tea.ID, "15", "2026-03-03"},
		{f.main.ID, tea.ID, "99", "2026-04-01"},
	} {
		status, body := authtest.Do(t, f.owner, http.MethodPost, "/expenses", map[string]any{
			"branch_id": e.branch, "category_id": e.cat, "amount": e.amount, "date": e.date,
		})
		require.Equal(t, fiber.StatusCreated, status, string(body))
	}

	status, body := authtest.Do(t, f.owner, http.MethodGet, "/expenses/summary?from=2026-03-01&to=2026-03-31", nil)
	require.Equal(t, fiber.StatusOK, status, string(body))
	all := authtest.Decode[SummaryResponse](t, body)
	require.Len(t, all.Items, 2)
	assert.Equal(t, "Rent", all.Items[0].CategoryName)
	assert.Equal(t, 3, all.Items[1].Count)
	assert.Equal(t, "70.50", all.Items[1].Total.StringFixed(2))
	assert.Equal(t, "10070.50", all.GrandTotal.StringFixed(2))

	status, body = authtest.Do(t, f.owner, http.MethodGet, fmt.Sprintf("/expenses/summary?from=2026-03-01&to=2026-03-31&branch_id=%d", f.second.ID), nil)
	require.Equal(t, fiber.StatusOK, status)
	second := authtest.Decode[SummaryResponse](t, body)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "15.00", second.GrandTotal.StringFixed(2))

	status, body = authtest.Do(t, f.owner, http.MethodGet, fmt.Sprintf("/expenses?category_id=%d&from=2026-03-01&to=2026-03-31", tea.ID), nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, string(body), `"total":3`)
}
