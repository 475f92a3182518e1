package auth_test

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/auth"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/auth/authtest"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/testutil"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestTokenRoundTrip(t *testing.T) {
	tenantID, branchID := uint(3), uint(9)
	user := &models.User{ID: 42, Email: "a@b.test", Role: models.RoleBranchStaff, TenantID: &tenantID, BranchID: &branchID}

	token, err := auth.GenerateToken(secret, time.Hour, user)
	require.NoError(t, err)

	claims, err := auth.ParseToken(secret, token)
	require.NoError(t, err)
	assert.EqualValues(t, 42, claims.UserID)
	assert.Equal(t, models.RoleBranchStaff, claims.Role)
	require.NotNil(t, claims.TenantID)
	assert.EqualValues(t, 3, *claims.TenantID)
	require.NotNil(t, claims.BranchID)
	assert.EqualValues(t, 9, *claims.BranchID)

	_, err = auth.ParseToken("another-secret-another-secret-xx", token)
	assert.Error(t, err)

	expired, err := auth.GenerateToken(secret, -time.Minute, user)
	require.NoError(t, err)
	_, err = auth.ParseToken(secret, expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestResolveScope(t *testing.T) {
	db := testutil.NewDB(t)
	tenant := testutil.Tenant(t, db, "T1", models.GSTExclusive)
	other := testutil.Tenant(t, db, "T2", models.GSTExclusive)
	main := testutil.Branch(t, db, tenant.ID, "Main")
	foreign := testutil.Branch(t, db, other.ID, "Elsewhere")

	owner := testutil.User(t, db, "owner@shop.test", models.RoleTenantOwner, &tenant.ID, nil)
	staff := testutil.User(t, db, "staff@shop.test", models.RoleBranchStaff, &tenant.ID, &main.ID)
	root := testutil.User(t, db, "root@billbook.test", models.RoleSuperAdmin, nil, nil)

	route := func(u *models.User) *fiber.App {
		app := authtest.App(u)
		app.Get("/scope", func(c *fiber.Ctx) error {
			tenantID, err := auth.ResolveTenantID(c, nil)
			if err != nil {
				return err
			}
			branchID, err := auth.ResolveBranchID(c, tenantID, nil)
			if err != nil {
				return err
			}
			return c.JSON(fiber.Map{"tenant_id": tenantID, "branch_id": branchID})
		})
		return app
	}

	status, raw := authtest.Do(t, route(staff), http.MethodGet, "/scope", nil)
	require.Equal(t, fiber.StatusOK, status, string(raw))
	scope := authtest.Decode[map[string]uint](t, raw)
	assert.Equal(t, main.ID, scope["branch_id"], "staff are pinned to their branch")

	status, _ = authtest.Do(t, route(owner), http.MethodGet, "/scope", nil)
	assert.Equal(t, fiber.StatusBadRequest, status, "owners must name a branch")

	status, _ = authtest.Do(t, route(owner), http.MethodGet, "/scope?branch_id="+itoa(foreign.ID), nil)
	assert.Equal(t, fiber.StatusNotFound, status, "branch of another tenant")

	status, raw = authtest.Do(t, route(owner), http.MethodGet, "/scope?branch_id="+itoa(main.ID), nil)
	require.Equal(t, fiber.StatusOK, status, string(raw))
	assert.Equal(t, tenant.ID, authtest.Decode[map[string]uint](t, raw)["tenant_id"])

	status, _ = authtest.Do(t, route(owner), http.MethodGet, "/scope?tenant_id="+itoa(other.ID)+"&branch_id="+itoa(foreign.ID), nil)
	assert.Equal(t, fiber.StatusNotFound, status, "?tenant_id is ignored for owners")

	status, _ = authtest.Do(t, route(root), http.MethodGet, "/scope?branch_id="+itoa(main.ID), nil)
	assert.Equal(t, fiber.StatusBadRequest, status, "superadmins must name a tenant")

	status, raw = authtest.Do(t, route(root), http.MethodGet, "/scope?tenant_id="+itoa(other.ID)+"&branch_id="+itoa(foreign.ID), nil)
	require.Equal(t, fiber.StatusOK, status, string(raw))
	assert.Equal(t, foreign.ID, authtest.Decode[map[string]uint](t, raw)["branch_id"])
}

func TestRegisterSuperAdminOnlyOnce(t *testing.T) {
	testutil.NewDB(t)
	app := fiber.New()
	app.Post("/register", auth.RegisterSuperAdminHandler())

	body := map[string]string{"name": "Root", "email": "Root@BillBook.test", "password": "long-enough"}
	status, raw := authtest.Do(t, app, http.MethodPost, "/register", body)
	require.Equal(t, fiber.StatusCreated, status, string(raw))
	assert.Equal(t, "root@billbook.test", authtest.Decode[auth.UserResponse](t, raw).Email)

	body["email"] = "second@billbook.test"
	status, _ = authtest.Do(t, app, http.MethodPost, "/register", body)
	assert.Equal(t, fiber.StatusForbidden, status)
}

func TestChangePassword(t *testing.T) {
	db := testutil.NewDB(t)
	tenant := testutil.Tenant(t, db, "T1", models.GSTExclusive)
	owner := testutil.User(t, db, "owner@shop.test", models.RoleTenantOwner, &tenant.ID, nil)

	app := authtest.App(owner)
	app.Post("/change-password", auth.ChangePasswordHandler())

	status, _ := authtest.Do(t, app, http.MethodPost, "/change-password", map[string]string{
		"current_password": "wrong", "new_password": "brand-new-password",
	})
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = authtest.Do(t, app, http.MethodPost, "/change-password", map[string]string{
		"current_password": testutil.Password, "new_password": "short",
	})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = authtest.Do(t, app, http.MethodPost, "/change-password", map[string]string{
		"current_password": testutil.Password, "new_password": "brand-new-password",
	})
	require.Equal(t, fiber.StatusNoContent, status)

	var stored models.User
	require.NoError(t, db.First(&stored, owner.ID).Error)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("brand-new-password")))
}

func itoa(v uint) string { return fmt.Sprint(v) }
