package customer

import (
	"fmt"
	"strings"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/audit"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/auth"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/database"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/logger"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/query"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CustomerResponse struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	Address   string `json:"address"`
	GSTNumber string `json:"gst_number"`
	Notes     string `json:"notes"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
}

type CreateCustomerRequest struct {
	TenantID  *uint  `json:"tenant_id"` // superadmins
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	Address   string `json:"address"`
	GSTNumber string `json:"gst_number"`
	Notes     string `json:"notes"`
}

type UpdateCustomerRequest struct {
	Name      *string `json:"name"`
	Phone     *string `json:"phone"`
	Email     *string `json:"email"`
	Address   *string `json:"address"`
	GSTNumber *string `json:"gst_number"`
	Notes     *string `json:"notes"`
	IsActive  *bool   `json:"is_active"`
}

type StatementBill struct {
	BillID        uint                 `json:"bill_id"`
	InvoiceNumber string               `json:"invoice_number"`
	BillDate      string               `json:"bill_date"`
	BranchID      uint                 `json:"branch_id"`
	Status        models.BillStatus    `json:"status"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	Total         decimal.Decimal      `json:"total"`
	Paid          decimal.Decimal      `json:"paid"`
	Due           decimal.Decimal      `json:"due"`
}

type StatementResponse struct {
	Customer    CustomerResponse `json:"customer"`
	Bills       []StatementBill  `json:"bills"`
	BillCount   int              `json:"bill_count"`
	TotalBilled decimal.Decimal  `json:"total_billed"`
	TotalPaid   decimal.Decimal  `json:"total_paid"`
	Outstanding decimal.Decimal  `json:"outstanding"`
}

func phoneTaken(tenantID uint, phone string, exceptID uint) bool {
	if phone == "" {
		return false
	}
	var count int64
	database.DB.Model(&models.Customer{}).
		Where("tenant_id = ? AND phone = ? AND id <> ?", tenantID, phone, exceptID).
		Count(&count)
	return count > 0
}

func writeLog(tx *gorm.DB, actor auth.Actor, cu *models.Customer, action models.AuditAction, before, after any) error {
	return audit.WriteLog(tx, audit.LogOptions{
		TenantID:    &cu.TenantID,
		UserID:      actor.UserID,
		UserName:    actor.Name,
		EntityType:  "customer",
		EntityID:    cu.ID,
		Action:      action,
		Description: fmt.Sprintf("Customer %s %sd", cu.Name, action),
		Before:      before,
		After:       after,
	})
}

// GET /api/customers?search=ravi&active_only=true&page=1&limit=50
func ListCustomersHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID, err := auth.ResolveTenantID(c, nil)
		if err != nil {
			return err
		}
		page := query.Paging(c)

		dbq := database.DB.Model(&models.Customer{}).Where("tenant_id = ?", tenantID)
		if s := strings.TrimSpace(c.Query("search")); s != "" {
			like := "%" + strings.ToLower(s) + "%"
			dbq = dbq.Where("LOWER(name) LIKE ? OR phone LIKE ? OR LOWER(email) LIKE ?", like, like, like)
		}
		if c.QueryBool("active_only") {
			dbq = dbq.Where("is_active = ?", true)
		}

		var total int64
		if err := dbq.Count(&total).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Customers could not be counted")
		}
		var customers []models.Customer
		if err := page.Apply(dbq.Order("name ASC")).Find(&customers).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Customers could not be listed")
		}

		items := make([]CustomerResponse, 0, len(customers))
		for _, cu := range customers {
			items = append(items, toResponse(cu))
		}
		return c.JSON(fiber.Map{
			"items": items,
			"total": total,
			"page":  page.Page,
			"limit": page.Limit,
		})
	}
}

// GET /api/customers/:id
func GetCustomerHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		cu, err := load(c)
		if err != nil {
			return err
		}
		return c.JSON(toResponse(*cu))
	}
}

// POST /api/customers
func CreateCustomerHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateCustomerRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		tenantID, err := auth.ResolveTenantID(c, body.TenantID)
		if err != nil {
			return err
		}

		cu := models.Customer{
			TenantID:  tenantID,
			Name:      strings.TrimSpace(body.Name),
			Phone:     strings.TrimSpace(body.Phone),
			Email:     strings.ToLower(strings.TrimSpace(body.Email)),
			Address:   strings.TrimSpace(body.Address),
			GSTNumber: strings.ToUpper(strings.TrimSpace(body.GSTNumber)),
			Notes:     strings.TrimSpace(body.Notes),
			IsActive:  true,
		}
		if cu.Name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Name is required")
		}
		if phoneTaken(tenantID, cu.Phone, 0) {
			return fiber.NewError(fiber.StatusConflict, "A customer with this phone already exists")
		}
		actor := auth.CurrentActor(c)

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&cu).Error; err != nil {
				return err
			}
			return writeLog(tx, actor, &cu, models.AuditActionCreate, nil, &cu)
		})
		if err != nil {
			logger.Log.WithError(err).WithField("tenant_id", tenantID).Error("customer create failed")
			return fiber.NewError(fiber.StatusInternalServerError, "Customer could not be created")
		}
		return c.Status(fiber.StatusCreated).JSON(toResponse(cu))
	}
}

// PUT /api/customers/:id
func UpdateCustomerHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		cu, err := load(c)
		if err != nil {
			return err
		}
		var body UpdateCustomerRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		before := *cu
		if body.Name != nil {
			name := strings.TrimSpace(*body.Name)
			if name == "" {
				return fiber.NewError(fiber.StatusBadRequest, "Name cannot be empty")
			}
			cu.Name = name
		}
		if body.Phone != nil {
			phone := strings.TrimSpace(*body.Phone)
			if phoneTaken(cu.TenantID, phone, cu.ID) {
				return fiber.NewError(fiber.StatusConflict, "A customer with this phone already exists")
			}
			cu.Phone = phone
		}
		if body.Email != nil {
			cu.Email = strings.ToLower(strings.TrimSpace(*body.Email))
		}
		if body.Address != nil {
			cu.Address = strings.TrimSpace(*body.Address)
		}
		if body.GSTNumber != nil {
			cu.GSTNumber = strings.ToUpper(strings.TrimSpace(*body.GSTNumber))
		}
		if body.Notes != nil {
			cu.Notes = strings.TrimSpace(*body.Notes)
		}
		if body.IsActive != nil {
			cu.IsActive = *body.IsActive
		}
		actor := auth.CurrentActor(c)

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Save(cu).Error; err != nil {
				return err
			}
			return writeLog(tx, actor, cu, models.AuditActionUpdate, &before, cu)
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Customer could not be updated")
		}
		return c.JSON(toResponse(*cu))
	}
}

// DELETE /api/customers/:id
// Customers with bills are kept for the statements; deactivate them instead.
func DeleteCustomerHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		cu, err := load(c)
		if err != nil {
			return err
		}
		var bills int64
		database.DB.Model(&models.Bill{}).Where("customer_id = ?", cu.ID).Count(&bills)
		if bills > 0 {
			return fiber.NewError(fiber.StatusConflict, "Customer has bills, deactivate instead")
		}
		actor := auth.CurrentActor(c)

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Delete(&models.Customer{}, cu.ID).Error; err != nil {
				return err
			}
			return writeLog(tx, actor, cu, models.AuditActionDelete, cu, nil)
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Customer could not be deleted")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// GET /api/customers/:id/statement?from=2026-01-01&to=2026-03-31
// Cancelled bills are listed but do not count towards the totals.
func StatementHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		cu, err := load(c)
		if err != nil {
			return err
		}
		branchID, err := auth.BranchFilter(c, cu.TenantID)
		if err != nil {
			return err
		}
		rng, err := query.DateRange(c)
		if err != nil {
			return err
		}

		dbq := database.DB.Where("tenant_id = ? AND customer_id = ?", cu.TenantID, cu.ID)
		if branchID != nil {
			dbq = dbq.Where("branch_id = ?", *branchID)
		}
		dbq = rng.Where(dbq, "bill_date")

		var bills []models.Bill
		if err := dbq.Order("bill_date ASC, id ASC").Find(&bills).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Statement could not be built")
		}

		return c.JSON(BuildStatement(*cu, bills))
	}
}

// BuildStatement totals a customer's bills.
func BuildStatement(cu models.Customer, bills []models.Bill) StatementResponse {
	resp := StatementResponse{
		Customer:    toResponse(cu),
		Bills:       make([]StatementBill, 0, len(bills)),
		BillCount:   len(bills),
		TotalBilled: decimal.Zero,
		TotalPaid:   decimal.Zero,
		Outstanding: decimal.Zero,
	}
	for _, b := range bills {
		resp.Bills = append(resp.Bills, StatementBill{
			BillID:        b.ID,
			InvoiceNumber: b.InvoiceNumber,
			BillDate:      b.BillDate.Format(query.DateLayout),
			BranchID:      b.BranchID,
			Status:        b.Status,
			PaymentStatus: b.PaymentStatus,
			Total:         b.TotalAmount,
			Paid:          b.PaidAmount,
			Due:           b.DueAmount,
		})
		if b.Status == models.BillCancelled {
			continue
		}
		resp.TotalBilled = resp.TotalBilled.Add(b.TotalAmount)
		resp.TotalPaid = resp.TotalPaid.Add(b.PaidAmount)
		resp.Outstanding = resp.Outstanding.Add(b.DueAmount)
	}
	return resp
}

func load(c *fiber.Ctx) (*models.Customer, error) {
	tenantID, err := auth.ResolveTenantID(c, nil)
	if err != nil {
		return nil, err
	}
	id, err := auth.ParamUint(c, "id")
	if err != nil {
		return nil, err
	}
	var cu models.Customer
	if err := database.DB.Where("tenant_id = ?", tenantID).First(&cu, id).Error; err != nil {
		return nil, fiber.NewError(fiber.StatusNotFound, "Customer not found")
	}
	return &cu, nil
}

func toResponse(cu models.Customer) CustomerResponse {
	return CustomerResponse{
		ID:        cu.ID,
		Name:      cu.Name,
		Phone:     cu.Phone,
		Email:     cu.Email,
		Address:   cu.Address,
		GSTNumber: cu.GSTNumber,
		Notes:     cu.Notes,
		IsActive:  cu.IsActive,
		CreatedAt: cu.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}
