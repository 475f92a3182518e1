// Package testutil provides an in-memory database and seed helpers for tests.
package testutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/database"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"
)

const Password = "secret-password"

// NewDB opens a private in-memory SQLite database, migrates it and installs
// it as database.DB for the duration of the test.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))

	prev := database.DB
	database.DB = db
	t.Cleanup(func() {
		database.DB = prev
		_ = sqlDB.Close()
	})
	return db
}

func Tenant(t *testing.T, db *gorm.DB, code string, gstType models.GSTType) *models.Tenant {
	t.Helper()
	tenant := &models.Tenant{
		Name:                      "Shop " + code,
		Code:                      code,
		GSTEnabled:                true,
		GSTType:                   gstType,
		DefaultGSTRate:            decimal.NewFromInt(18),
		InvoicePrefix:             "INV",
		AutoDeactivateOnZeroStock: true,
		IsActive:                  true,
	}
	require.NoError(t, db.Create(tenant).Error)
	return tenant
}

func Branch(t *testing.T, db *gorm.DB, tenantID uint, name string) *models.Branch {
	t.Helper()
	branch := &models.Branch{TenantID: tenantID, Name: name, IsActive: true}
	require.NoError(t, db.Create(branch).Error)
	return branch
}

func User(t *testing.T, db *gorm.DB, email string, role models.UserRole, tenantID, branchID *uint) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(Password), bcrypt.MinCost)
	require.NoError(t, err)
	user := &models.User{
		TenantID:     tenantID,
		BranchID:     branchID,
		Name:         strings.Split(email, "@")[0],
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		IsActive:     true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// Product creates an active product; prices are given as strings, e.g. "100.00".
func Product(t *testing.T, db *gorm.DB, tenantID uint, sku, selling, purchase, gstRate string) *models.Product {
	t.Helper()
	product := &models.Product{
		TenantID:      tenantID,
		Name:          "Product " + sku,
		SKU:           sku,
		Unit:          "pcs",
		SellingPrice:  decimal.RequireFromString(selling),
		PurchasePrice: decimal.RequireFromString(purchase),
		GSTRate:       decimal.RequireFromString(gstRate),
		MinStock:      2,
		IsActive:      true,
	}
	require.NoError(t, db.Create(product).Error)
	return product
}

func Ptr[T any](v T) *T { return &v }
