package customer

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/audit"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/auth/authtest"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/billing"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/inventory"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/testutil"
)

func setup(t *testing.T) (*fiber.App, *gorm.DB, *models.Tenant) {
	db := testutil.NewDB(t)
	tenant := testutil.Tenant(t, db, "T1", models.GSTExclusive)
	owner := testutil.User(t, db, "owner@shop.test", models.RoleTenantOwner, &tenant.ID, nil)

	app := authtest.App(owner)
	app.Get("/customers", ListCustomersHandler())
	app.Post("/customers", CreateCustomerHandler())
	app.Get("/customers/:id", GetCustomerHandler())
	app.Put("/customers/:id", UpdateCustomerHandler())
	app.Delete("/customers/:id", DeleteCustomerHandler())
	app.Get("/customers/:id/statement", StatementHandler())
	return app, db, tenant
}

func TestCustomerCRUD(t *testing.T) {
	app, db, _ := setup(t)

	status, body := authtest.Do(t, app, http.MethodPost, "/customers", map[string]any{"name": "Ravi", "phone": "9000000001"})
	require.Equal(t, fiber.StatusCreated, status, string(body))
	ravi := authtest.Decode[CustomerResponse](t, body)

	status, _ = authtest.Do(t, app, http.MethodPost, "/customers", map[string]any{"name": "Other", "phone": "9000000001"})
	assert.Equal(t, fiber.StatusConflict, status)

	status, _ = authtest.Do(t, app, http.MethodPost, "/customers", map[string]any{"name": " "})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = authtest.Do(t, app, http.MethodPut, fmt.Sprintf("/customers/%d", ravi.ID), map[string]any{"gst_number": "29abcde1234f1z5"})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "29ABCDE1234F1Z5", authtest.Decode[CustomerResponse](t, body).GSTNumber)

	status, body = authtest.Do(t, app, http.MethodGet, "/customers?search=rav", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, string(body), `"total":1`)

	// the update can be reverted from the audit log
	var entry models.AuditLog
	require.NoError(t, db.Where("entity_type = ? AND action = ?", "customer", models.AuditActionUpdate).First(&entry).Error)
	require.NoError(t, audit.UndoLog(db, entry.ID, 1, "owner"))
	var reverted models.Customer
	require.NoError(t, db.First(&reverted, ravi.ID).Error)
	assert.Empty(t, reverted.GSTNumber)

	status, _ = authtest.Do(t, app, http.MethodDelete, fmt.Sprintf("/customers/%d", ravi.ID), nil)
	assert.Equal(t, fiber.StatusNoContent, status)
}

func TestStatement(t *testing.T) {
	app, db, tenant := setup(t)
	branch := testutil.Branch(t, db, tenant.ID, "Main")
	product := testutil.Product(t, db, tenant.ID, "P1", "100", "50", "0")
	cu := models.Customer{TenantID: tenant.ID, Name: "Asha", IsActive: true}
	require.NoError(t, db.Create(&cu).Error)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		_, err := inventory.Apply(tx, inventory.Movement{
			TenantID: tenant.ID, BranchID: branch.ID, ProductID: product.ID,
			Type: models.StockIn, Quantity: 10,
		})
		return err
	}))

	day := time.Date(2026, 2, 1, 0, 0, 0, 0, time.Local)
	for i, paid := range []string{"100", "30", "0"} {
		in := billing.CreateBillInput{
			TenantID:   tenant.ID,
			BranchID:   branch.ID,
			CustomerID: &cu.ID,
			BillDate:   day.AddDate(0, 0, i),
			Items:      []billing.ItemRequest{{ProductID: product.ID, Quantity: 1}},
		}
		if amt := decimal.RequireFromString(paid); amt.IsPositive() {
			in.Payment = &billing.PaymentRequest{Amount: amt, Mode: models.PaymentCash}
		}
		bill, err := billing.CreateBill(db, in)
		require.NoError(t, err)
		if i == 2 {
			_, err = billing.CancelBill(db, billing.Scope{TenantID: tenant.ID}, bill.ID, "mistake")
			require.NoError(t, err)
		}
	}

	status, body := authtest.Do(t, app, http.MethodGet, fmt.Sprintf("/customers/%d/statement", cu.ID), nil)
	require.Equal(t, fiber.StatusOK, status, string(body))
	st := authtest.Decode[StatementResponse](t, body)
	assert.Equal(t, 3, st.BillCount)
	assert.Equal(t, "200", st.TotalBilled.String())
	assert.Equal(t, "130", st.TotalPaid.String())
	assert.Equal(t, "70", st.Outstanding.String())

	status, body = authtest.Do(t, app, http.MethodGet, fmt.Sprintf("/customers/%d/statement?from=2026-02-02&to=2026-02-02", cu.ID), nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, 1, authtest.Decode[StatementResponse](t, body).BillCount)

	status, _ = authtest.Do(t, app, http.MethodDelete, fmt.Sprintf("/customers/%d", cu.ID), nil)
	assert.Equal(t, fiber.StatusConflict, status)
}
