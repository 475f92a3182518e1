package admin

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/auth"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/auth/authtest"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/testutil"
)

func adminRoutes(app *fiber.App) *fiber.App {
	app.Post("/tenants", CreateTenantHandler())
	app.Get("/tenants", ListTenantsHandler())
	app.Get("/tenants/:id", GetTenantHandler())
	app.Put("/tenants/:id", UpdateTenantHandler())
	app.Put("/tenants/:id/status", SetTenantActiveHandler())
	app.Post("/branches", CreateBranchHandler())
	app.Get("/branches", ListBranchesHandler())
	app.Get("/branches/:id", GetBranchHandler())
	app.Put("/branches/:id", UpdateBranchHandler())
	app.Delete("/branches/:id", DeleteBranchHandler())
	app.Post("/users", CreateUserHandler())
	app.Get("/users", ListUsersHandler())
	app.Get("/users/:id", GetUserHandler())
	app.Put("/users/:id", UpdateUserHandler())
	app.Post("/users/:id/reset-password", ResetPasswordHandler())
	return app
}

func TestCreateTenantWithOwner(t *testing.T) {
	db := testutil.NewDB(t)
	root := testutil.User(t, db, "root@billbook.test", models.RoleSuperAdmin, nil, nil)
	app := adminRoutes(authtest.App(root))

	body := map[string]any{
		"name": "Green Mart", "code": "gm", "branch_name": "Main",
		"owner": map[string]any{"name": "Anil", "email": "Anil@GreenMart.test", "password": "long-enough"},
	}
	status, raw := authtest.Do(t, app, http.MethodPost, "/tenants", body)
	require.Equal(t, fiber.StatusCreated, status, string(raw))
	created := authtest.Decode[struct {
		Tenant TenantResponse `json:"tenant"`
		Owner  UserResponse   `json:"owner"`
	}](t, raw)
	assert.Equal(t, "GM", created.Tenant.Code)
	assert.EqualValues(t, 1, created.Tenant.BranchCount)
	assert.Equal(t, models.RoleTenantOwner, created.Owner.Role)
	assert.Equal(t, "anil@greenmart.test", created.Owner.Email)

	var tenant models.Tenant
	require.NoError(t, db.First(&tenant, created.Tenant.ID).Error)
	assert.True(t, tenant.GSTEnabled)
	assert.Equal(t, "INV", tenant.InvoicePrefix)
	assert.True(t, tenant.AutoDeactivateOnZeroStock)

	var owner models.User
	require.NoError(t, db.First(&owner, created.Owner.ID).Error)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(owner.PasswordHash), []byte("long-enough")))

	status, _ = authtest.Do(t, app, http.MethodPost, "/tenants", body)
	assert.Equal(t, fiber.StatusConflict, status, "email taken")

	body["owner"] = map[string]any{"name": "B", "email": "b@gm.test", "password": "long-enough"}
	status, _ = authtest.Do(t, app, http.MethodPost, "/tenants", body)
	assert.Equal(t, fiber.StatusConflict, status, "code taken")

	body["code"] = "GM2"
	body["owner"] = map[string]any{"name": "B", "email": "b@gm.test", "password": "short"}
	status, _ = authtest.Do(t, app, http.MethodPost, "/tenants", body)
	assert.Equal(t, fiber.StatusBadRequest, status, "short password")

	status, raw = authtest.Do(t, app, http.MethodPut, fmt.Sprintf("/tenants/%d/status", tenant.ID), map[string]any{"is_active": false})
	require.Equal(t, fiber.StatusOK, status, string(raw))
	assert.False(t, authtest.Decode[TenantResponse](t, raw).IsActive)

	status, raw = authtest.Do(t, app, http.MethodGet, "/tenants?active_only=true", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, string(raw), `"total":0`)
}

func TestBranchLifecycle(t *testing.T) {
	db := testutil.NewDB(t)
	tenant := testutil.Tenant(t, db, "T1", models.GSTExclusive)
	other := testutil.Tenant(t, db, "T2", models.GSTExclusive)
	foreign := testutil.Branch(t, db, other.ID, "Elsewhere")
	owner := testutil.User(t, db, "owner@shop.test", models.RoleTenantOwner, &tenant.ID, nil)
	app := adminRoutes(authtest.App(owner))

	status, raw := authtest.Do(t, app, http.MethodPost, "/branches", map[string]any{"name": "Market Road", "code": "mr"})
	require.Equal(t, fiber.StatusCreated, status, string(raw))
	branch := authtest.Decode[BranchResponse](t, raw)
	assert.Equal(t, "MR", branch.Code)
	assert.Equal(t, tenant.ID, branch.TenantID)

	status, _ = authtest.Do(t, app, http.MethodPost, "/branches", map[string]any{"name": "market road"})
	assert.Equal(t, fiber.StatusConflict, status)

	status, _ = authtest.Do(t, app, http.MethodGet, fmt.Sprintf("/branches/%d", foreign.ID), nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	testutil.User(t, db, "staff@shop.test", models.RoleBranchStaff, &tenant.ID, &branch.ID)
	status, _ = authtest.Do(t, app, http.MethodDelete, fmt.Sprintf("/branches/%d", branch.ID), nil)
	assert.Equal(t, fiber.StatusConflict, status, "branch has users")

	status, raw = authtest.Do(t, app, http.MethodPut, fmt.Sprintf("/branches/%d", branch.ID), map[string]any{"is_active": false})
	require.Equal(t, fiber.StatusOK, status, string(raw))
	assert.False(t, authtest.Decode[BranchResponse](t, raw).IsActive)

	status, raw = authtest.Do(t, app, http.MethodGet, "/branches?active_only=true", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, authtest.Decode[[]BranchResponse](t, raw))

	empty := testutil.Branch(t, db, tenant.ID, "Pop-up")
	status, _ = authtest.Do(t, app, http.MethodDelete, fmt.Sprintf("/branches/%d", empty.ID), nil)
	assert.Equal(t, fiber.StatusNoContent, status)
}

func TestRoleHierarchyOnUserCreation(t *testing.T) {
	db := testutil.NewDB(t)
	tenant := testutil.Tenant(t, db, "T1", models.GSTExclusive)
	main := testutil.Branch(t, db, tenant.ID, "Main")
	second := testutil.Branch(t, db, tenant.ID, "Second")
	owner := testutil.User(t, db, "owner@shop.test", models.RoleTenantOwner, &tenant.ID, nil)
	manager := testutil.User(t, db, "manager@shop.test", models.RoleBranchAdmin, &tenant.ID, &main.ID)

	ownerApp := adminRoutes(authtest.App(owner))
	managerApp := adminRoutes(authtest.App(manager))

	newUser := func(email string, role models.UserRole, branch *uint) map[string]any {
		b := map[string]any{"name": "N", "email": email, "password": "long-enough", "role": role}
		if branch != nil {
			b["branch_id"] = *branch
		}
		return b
	}

	status, _ := authtest.Do(t, ownerApp, http.MethodPost, "/users", newUser("o2@shop.test", models.RoleTenantOwner, nil))
	assert.Equal(t, fiber.StatusForbidden, status, "owner cannot create an owner")

	status, _ = authtest.Do(t, ownerApp, http.MethodPost, "/users", newUser("a@shop.test", models.RoleBranchAdmin, nil))
	assert.Equal(t, fiber.StatusBadRequest, status, "branch required")

	status, raw := authtest.Do(t, ownerApp, http.MethodPost, "/users", newUser("a@shop.test", models.RoleBranchAdmin, &second.ID))
	require.Equal(t, fiber.StatusCreated, status, string(raw))
	secondAdmin := authtest.Decode[UserResponse](t, raw)
	assert.Equal(t, second.ID, *secondAdmin.BranchID)

	status, _ = authtest.Do(t, managerApp, http.MethodPost, "/users", newUser("x@shop.test", models.RoleBranchAdmin, &main.ID))
	assert.Equal(t, fiber.StatusForbidden, status, "branch admin cannot create a peer")

	status, _ = authtest.Do(t, managerApp, http.MethodPost, "/users", newUser("x@shop.test", models.RoleBranchStaff, &second.ID))
	assert.Equal(t, fiber.StatusForbidden, status, "other branch")

	status, raw = authtest.Do(t, managerApp, http.MethodPost, "/users", newUser("cashier@shop.test", models.RoleBranchStaff, nil))
	require.Equal(t, fiber.StatusCreated, status, string(raw))
	cashier := authtest.Decode[UserResponse](t, raw)
	assert.Equal(t, main.ID, *cashier.BranchID)

	status, _ = authtest.Do(t, managerApp, http.MethodGet, fmt.Sprintf("/users/%d", secondAdmin.ID), nil)
	assert.Equal(t, fiber.StatusNotFound, status, "users of other branches are invisible")

	status, raw = authtest.Do(t, managerApp, http.MethodGet, "/users", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, string(raw), `"total":2`)

	status, _ = authtest.Do(t, managerApp, http.MethodPut, fmt.Sprintf("/users/%d", cashier.ID), map[string]any{"role": models.RoleBranchAdmin})
	assert.Equal(t, fiber.StatusForbidden, status, "no promotion to own rank")

	status, raw = authtest.Do(t, ownerApp, http.MethodPut, fmt.Sprintf("/users/%d", cashier.ID), map[string]any{"branch_id": second.ID, "is_active": false})
	require.Equal(t, fiber.StatusOK, status, string(raw))
	moved := authtest.Decode[UserResponse](t, raw)
	assert.Equal(t, second.ID, *moved.BranchID)
	assert.False(t, moved.IsActive)

	status, _ = authtest.Do(t, ownerApp, http.MethodPost, fmt.Sprintf("/users/%d/reset-password", owner.ID), map[string]any{"new_password": "another-one"})
	assert.Equal(t, fiber.StatusForbidden, status, "cannot reset own rank")

	status, _ = authtest.Do(t, ownerApp, http.MethodPost, fmt.Sprintf("/users/%d/reset-password", cashier.ID), map[string]any{"new_password": "another-one"})
	require.Equal(t, fiber.StatusOK, status)
	var stored models.User
	require.NoError(t, db.First(&stored, cashier.ID).Error)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("another-one")))
}

func TestPlaceUserReportsLookupFailure(t *testing.T) {
	db := testutil.NewDB(t)
	tenant := testutil.Tenant(t, db, "T1", models.GSTExclusive)
	branch := testutil.Branch(t, db, tenant.ID, "Main")
	owner := auth.Identity{UserID: 1, Role: models.RoleTenantOwner, TenantID: &tenant.ID}

	placed, err := placeUser(owner, tenant.ID, models.RoleBranchStaff, &branch.ID)
	require.NoError(t, err)
	assert.Equal(t, branch.ID, *placed)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = placeUser(owner, tenant.ID, models.RoleBranchStaff, &branch.ID)
	var fe *fiber.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fiber.StatusInternalServerError, fe.Code)
}
