// Package authtest runs handlers as a given user without issuing tokens.
package authtest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/auth"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"
)

// As installs the identity of u the way JWTMiddleware would.
func As(u *models.User) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(auth.CtxUserIDKey, u.ID)
		c.Locals(auth.CtxUserRoleKey, u.Role)
		c.Locals(auth.CtxTenantIDKey, u.TenantID)
		c.Locals(auth.CtxBranchIDKey, u.BranchID)
		return c.Next()
	}
}

// App returns a fiber app whose requests run as u.
func App(u *models.User) *fiber.App {
	app := fiber.New()
	app.Use(As(u))
	return app
}

// Do sends a JSON request (body may be nil) and returns the status and body.
func Do(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

// Decode unmarshals a response body into T.
func Decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}
