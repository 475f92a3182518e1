package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/config"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/testutil"
)

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:      "test",
		JWTSecret:   "0123456789abcdef0123456789abcdef",
		JWTTTL:      time.Hour,
		CORSOrigins: "http://localhost:3000",
		LogLevel:    "error",
	}
}

func call(t *testing.T, app *fiber.App, method, path, token string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func login(t *testing.T, app *fiber.App, email string) string {
	t.Helper()
	status, raw := call(t, app, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": email, "password": testutil.Password,
	})
	require.Equal(t, fiber.StatusOK, status, string(raw))

	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func TestSaleThroughTheAPI(t *testing.T) {
	db := testutil.NewDB(t)
	tenant := testutil.Tenant(t, db, "T1", models.GSTExclusive)
	branch := testutil.Branch(t, db, tenant.ID, "Main")
	product := testutil.Product(t, db, tenant.ID, "SOAP", "100", "60", "18")
	testutil.User(t, db, "owner@shop.test", models.RoleTenantOwner, &tenant.ID, nil)
	testutil.User(t, db, "cashier@shop.test", models.RoleBranchStaff, &tenant.ID, &branch.ID)

	app := New(testConfig())
	cashier := login(t, app, "cashier@shop.test")
	owner := login(t, app, "owner@shop.test")

	status, raw := call(t, app, http.MethodPost, "/api/stock/in", cashier, map[string]any{
		"product_id": product.ID, "quantity": 5, "reason": "delivery",
	})
	require.Equal(t, fiber.StatusCreated, status, string(raw))

	status, raw = call(t, app, http.MethodPost, "/api/bills", cashier, map[string]any{
		"items":   []map[string]any{{"product_id": product.ID, "quantity": 2}},
		"payment": map[string]any{"amount": "100", "mode": "cash"},
	})
	require.Equal(t, fiber.StatusCreated, status, string(raw))
	var bill struct {
		ID            uint            `json:"id"`
		InvoiceNumber string          `json:"invoice_number"`
		TotalAmount   decimal.Decimal `json:"total_amount"`
		DueAmount     decimal.Decimal `json:"due_amount"`
		PaymentStatus string          `json:"payment_status"`
	}
	require.NoError(t, json.Unmarshal(raw, &bill))
	assert.Equal(t, "236.00", bill.TotalAmount.StringFixed(2))
	assert.Equal(t, "136.00", bill.DueAmount.StringFixed(2))
	assert.Equal(t, string(models.PaymentPartial), bill.PaymentStatus)
	assert.Regexp(t, `^INV-\d{4}-000001$`, bill.InvoiceNumber)

	var stock models.CurrentStock
	require.NoError(t, db.Where("branch_id = ? AND product_id = ?", branch.ID, product.ID).First(&stock).Error)
	assert.EqualValues(t, 3, stock.Quantity)

	status, _ = call(t, app, http.MethodPost, fmt.Sprintf("/api/bills/%d/cancel", bill.ID), cashier, map[string]any{"reason": "x"})
	assert.Equal(t, fiber.StatusForbidden, status, "staff cannot cancel")

	status, raw = call(t, app, http.MethodPost, fmt.Sprintf("/api/bills/%d/cancel", bill.ID), owner, map[string]any{"reason": "customer left"})
	require.Equal(t, fiber.StatusOK, status, string(raw))
	require.NoError(t, db.First(&stock, stock.ID).Error)
	assert.EqualValues(t, 5, stock.Quantity)

	status, raw = call(t, app, http.MethodGet, "/api/stock/verify", owner, nil)
	require.Equal(t, fiber.StatusOK, status, string(raw))
	assert.Contains(t, string(raw), `"consistent":true`)
}

func TestAccessControl(t *testing.T) {
	db := testutil.NewDB(t)
	tenant := testutil.Tenant(t, db, "T1", models.GSTExclusive)
	branch := testutil.Branch(t, db, tenant.ID, "Main")
	testutil.User(t, db, "cashier@shop.test", models.RoleBranchStaff, &tenant.ID, &branch.ID)

	app := New(testConfig())

	status, raw := call(t, app, http.MethodGet, "/api/products", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Contains(t, string(raw), `"error"`)

	status, _ = call(t, app, http.MethodGet, "/api/products", "not-a-token", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = call(t, app, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "cashier@shop.test", "password": "wrong-password",
	})
	assert.Equal(t, fiber.StatusUnauthorized, status)

	cashier := login(t, app, "Cashier@Shop.test")

	status, _ = call(t, app, http.MethodGet, "/api/products", cashier, nil)
	assert.Equal(t, fiber.StatusOK, status)

	for _, path := range []string{"/api/tenants", "/api/users", "/api/dashboard/summary", "/api/audit-logs"} {
		status, _ = call(t, app, http.MethodGet, path, cashier, nil)
		assert.Equal(t, fiber.StatusForbidden, status, path)
	}
	status, _ = call(t, app, http.MethodPut, "/api/settings", cashier, map[string]any{"gst_enabled": false})
	assert.Equal(t, fiber.StatusForbidden, status)

	require.NoError(t, db.Model(&models.Tenant{}).Where("id = ?", tenant.ID).Update("is_active", false).Error)
	status, _ = call(t, app, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "cashier@shop.test", "password": testutil.Password,
	})
	assert.Equal(t, fiber.StatusForbidden, status, "tenant deactivated")
}

func TestHealthz(t *testing.T) {
	app := New(testConfig())
	status, raw := call(t, app, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))
}

func TestDeactivationRevokesIssuedTokens(t *testing.T) {
	db := testutil.NewDB(t)
	tenant := testutil.Tenant(t, db, "T1", models.GSTExclusive)
	branch := testutil.Branch(t, db, tenant.ID, "Main")
	product := testutil.Product(t, db, tenant.ID, "SOAP", "100", "60", "18")
	cashierUser := testutil.User(t, db, "cashier@shop.test", models.RoleBranchStaff, &tenant.ID, &branch.ID)
	testutil.User(t, db, "second@shop.test", models.RoleBranchStaff, &tenant.ID, &branch.ID)

	app := New(testConfig())
	cashier := login(t, app, "cashier@shop.test")
	second := login(t, app, "second@shop.test")

	stockIn := map[string]any{"product_id": product.ID, "quantity": 5, "reason": "delivery"}
	status, raw := call(t, app, http.MethodPost, "/api/stock/in", cashier, stockIn)
	require.Equal(t, fiber.StatusCreated, status, string(raw))

	require.NoError(t, db.Model(&models.User{}).Where("id = ?", cashierUser.ID).Update("is_active", false).Error)
	status, _ = call(t, app, http.MethodPost, "/api/stock/in", cashier, stockIn)
	assert.Equal(t, fiber.StatusUnauthorized, status, "user deactivated")

	status, _ = call(t, app, http.MethodPost, "/api/stock/in", second, stockIn)
	require.Equal(t, fiber.StatusCreated, status)

	require.NoError(t, db.Model(&models.Tenant{}).Where("id = ?", tenant.ID).Update("is_active", false).Error)
	status, _ = call(t, app, http.MethodPost, "/api/stock/in", second, stockIn)
	assert.Equal(t, fiber.StatusForbidden, status, "tenant deactivated")
	status, _ = call(t, app, http.MethodPost, "/api/bills", second, map[string]any{
		"items": []map[string]any{{"product_id": product.ID, "quantity": 1}},
	})
	assert.Equal(t, fiber.StatusForbidden, status)
	status, _ = call(t, app, http.MethodGet, "/api/products", second, nil)
	assert.Equal(t, fiber.StatusForbidden, status)

	var stock models.CurrentStock
	require.NoError(t, db.Where("branch_id = ? AND product_id = ?", branch.ID, product.ID).First(&stock).Error)
	assert.EqualValues(t, 10, stock.Quantity)
}

func TestRoleChangeAppliesToIssuedTokens(t *testing.T) {
	db := testutil.NewDB(t)
	tenant := testutil.Tenant(t, db, "T1", models.GSTExclusive)
	branch := testutil.Branch(t, db, tenant.ID, "Main")
	manager := testutil.User(t, db, "manager@shop.test", models.RoleBranchAdmin, &tenant.ID, &branch.ID)

	app := New(testConfig())
	token := login(t, app, "manager@shop.test")

	status, _ := call(t, app, http.MethodGet, "/api/users", token, nil)
	require.Equal(t, fiber.StatusOK, status)

	require.NoError(t, db.Model(&models.User{}).Where("id = ?", manager.ID).Update("role", models.RoleBranchStaff).Error)
	status, _ = call(t, app, http.MethodGet, "/api/users", token, nil)
	assert.Equal(t, fiber.StatusForbidden, status)
}
