package billing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/audit"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/auth"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/cache"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/database"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/inventory"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/logger"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/query"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type CreateBillRequest struct {
	TenantID   *uint           `json:"tenant_id"` // superadmins
	BranchID   *uint           `json:"branch_id"` // owners and superadmins
	CustomerID *uint           `json:"customer_id"`
	BillDate   string          `json:"bill_date"` // YYYY-MM-DD, defaults to today
	Items      []ItemRequest   `json:"items"`
	Payment    *PaymentRequest `json:"payment"`
	Notes      string          `json:"notes"`
}

type CancelBillRequest struct {
	Reason string `json:"reason"`
}

type AddPaymentRequest struct {
	PaymentRequest
	PaidAt string `json:"paid_at"`
}

type BillItemResponse struct {
	ID            uint            `json:"id"`
	ProductID     uint            `json:"product_id"`
	ProductName   string          `json:"product_name"`
	SKU           string          `json:"sku"`
	Quantity      int64           `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Discount      decimal.Decimal `json:"discount"`
	GSTRate       decimal.Decimal `json:"gst_rate"`
	TaxableAmount decimal.Decimal `json:"taxable_amount"`
	GSTAmount     decimal.Decimal `json:"gst_amount"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Profit        decimal.Decimal `json:"profit"`
}

type PaymentResponse struct {
	ID         uint               `json:"id"`
	BillID     uint               `json:"bill_id"`
	BranchID   uint               `json:"branch_id"`
	CustomerID *uint              `json:"customer_id"`
	Amount     decimal.Decimal    `json:"amount"`
	Mode       models.PaymentMode `json:"mode"`
	Reference  string             `json:"reference"`
	PaidAt     string             `json:"paid_at"`
	CreatedBy  uint               `json:"created_by"`
}

type BillResponse struct {
	ID             uint                 `json:"id"`
	TenantID       uint                 `json:"tenant_id"`
	BranchID       uint                 `json:"branch_id"`
	BranchName     string               `json:"branch_name,omitempty"`
	CustomerID     *uint                `json:"customer_id"`
	CustomerName   string               `json:"customer_name,omitempty"`
	InvoiceNumber  string               `json:"invoice_number"`
	BillDate       string               `json:"bill_date"`
	GSTEnabled     bool                 `json:"gst_enabled"`
	GSTType        models.GSTType       `json:"gst_type"`
	Subtotal       decimal.Decimal      `json:"subtotal"`
	DiscountAmount decimal.Decimal      `json:"discount_amount"`
	GSTAmount      decimal.Decimal      `json:"gst_amount"`
	TotalAmount    decimal.Decimal      `json:"total_amount"`
	PaidAmount     decimal.Decimal      `json:"paid_amount"`
	DueAmount      decimal.Decimal      `json:"due_amount"`
	ProfitAmount   decimal.Decimal      `json:"profit_amount"`
	Status         models.BillStatus    `json:"status"`
	PaymentStatus  models.PaymentStatus `json:"payment_status"`
	Notes          string               `json:"notes"`
	CancelReason   string               `json:"cancel_reason,omitempty"`
	CreatedBy      uint                 `json:"created_by"`
	Items          []BillItemResponse   `json:"items,omitempty"`
	Payments       []PaymentResponse    `json:"payments,omitempty"`
}

// billError maps billing and ledger errors onto HTTP errors.
func billError(err error, fields logrus.Fields) error {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe
	case errors.Is(err, ErrBillNotFound), errors.Is(err, ErrItemNotFound),
		errors.Is(err, ErrCustomerNotFound), errors.Is(err, inventory.ErrProductNotFound),
		errors.Is(err, inventory.ErrBranchNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrBillCancelled), errors.Is(err, ErrLastItem),
		errors.Is(err, ErrTotalBelowPaid), errors.Is(err, ErrOverpayment),
		errors.Is(err, ErrProductUnavailable), errors.Is(err, inventory.ErrInsufficientStock):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, ErrNoItems), errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidPrice), errors.Is(err, ErrInvalidDiscount),
		errors.Is(err, ErrInvalidGSTRate), errors.Is(err, ErrInvalidPayment),
		errors.Is(err, ErrInvalidPaymentMode), errors.Is(err, inventory.ErrInvalidQuantity):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	logger.Log.WithFields(fields).WithError(err).Error("billing operation failed")
	return fiber.NewError(fiber.StatusInternalServerError, "Bill could not be updated")
}

// scopeFor resolves the tenant of the caller and, for branch-bound roles,
// their branch.
func scopeFor(c *fiber.Ctx) (Scope, error) {
	tenantID, err := auth.ResolveTenantID(c, nil)
	if err != nil {
		return Scope{}, err
	}
	id, err := auth.CurrentIdentity(c)
	if err != nil {
		return Scope{}, err
	}
	s := Scope{TenantID: tenantID, UserID: id.UserID}
	if id.Role.BranchBound() {
		if id.BranchID == nil {
			return Scope{}, fiber.NewError(fiber.StatusForbidden, "Branch information missing")
		}
		s.BranchID = id.BranchID
	}
	return s, nil
}

func logBill(c *fiber.Ctx, bill *models.Bill, action models.AuditAction, description string) {
	userID, _ := c.Locals(auth.CtxUserIDKey).(uint)
	err := audit.WriteLog(database.DB, audit.LogOptions{
		TenantID:    &bill.TenantID,
		BranchID:    &bill.BranchID,
		UserID:      userID,
		UserName:    auth.CurrentUserName(c),
		EntityType:  "bill",
		EntityID:    bill.ID,
		Action:      action,
		Description: description,
		After:       toBillResponse(*bill),
	})
	if err != nil {
		logger.Log.WithError(err).WithField("bill_id", bill.ID).Warn("audit log write failed")
	}
	cache.InvalidateTenant(c.UserContext(), bill.TenantID)
}

// POST /api/bills
func CreateBillHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateBillRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if len(body.Items) == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "At least one item is required")
		}

		tenantID, err := auth.ResolveTenantID(c, body.TenantID)
		if err != nil {
			return err
		}
		branchID, err := auth.ResolveBranchID(c, tenantID, body.BranchID)
		if err != nil {
			return err
		}
		id, err := auth.CurrentIdentity(c)
		if err != nil {
			return err
		}
		billDate, err := query.ParseDate(body.BillDate)
		if err != nil {
			return err
		}

		bill, err := CreateBill(database.DB, CreateBillInput{
			TenantID:   tenantID,
			BranchID:   branchID,
			UserID:     id.UserID,
			CustomerID: body.CustomerID,
			BillDate:   billDate,
			Items:      body.Items,
			Payment:    body.Payment,
			Notes:      strings.TrimSpace(body.Notes),
		})
		if err != nil {
			return billError(err, logrus.Fields{"tenant_id": tenantID, "branch_id": branchID})
		}

		logBill(c, bill, models.AuditActionCreate, fmt.Sprintf("Bill %s created: %s", bill.InvoiceNumber, bill.TotalAmount.StringFixed(2)))
		return c.Status(fiber.StatusCreated).JSON(toBillResponse(*bill))
	}
}

// GET /api/bills?branch_id=1&customer_id=2&status=completed&payment_status=partial&from=&to=&search=INV
func ListBillsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID, err := auth.ResolveTenantID(c, nil)
		if err != nil {
			return err
		}
		branchID, err := auth.BranchFilter(c, tenantID)
		if err != nil {
			return err
		}
		rng, err := query.DateRange(c)
		if err != nil {
			return err
		}
		page := query.Paging(c)

		dbq := database.DB.Model(&models.Bill{}).Where("bills.tenant_id = ?", tenantID)
		if branchID != nil {
			dbq = dbq.Where("bills.branch_id = ?", *branchID)
		}
		if cid, err := auth.QueryUint(c, "customer_id"); err != nil {
			return err
		} else if cid != nil {
			dbq = dbq.Where("bills.customer_id = ?", *cid)
		}
		if s := c.Query("status"); s != "" {
			dbq = dbq.Where("bills.status = ?", s)
		}
		if s := c.Query("payment_status"); s != "" {
			dbq = dbq.Where("bills.payment_status = ?", s)
		}
		if s := strings.TrimSpace(c.Query("search")); s != "" {
			dbq = dbq.Where("LOWER(bills.invoice_number) LIKE ?", "%"+strings.ToLower(s)+"%")
		}
		dbq = rng.Where(dbq, "bills.bill_date")

		var total int64
		if err := dbq.Count(&total).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Bills could not be counted")
		}

		var bills []models.Bill
		if err := page.Apply(dbq.Preload("Customer").Preload("Branch").Order("bills.bill_date DESC, bills.id DESC")).Find(&bills).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Bills could not be listed")
		}

		items := make([]BillResponse, 0, len(bills))
		for _, b := range bills {
			items = append(items, toBillResponse(b))
		}
		return c.JSON(fiber.Map{
			"items": items,
			"total": total,
			"page":  page.Page,
			"limit": page.Limit,
		})
	}
}

// GET /api/bills/:id
func GetBillHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		scope, err := scopeFor(c)
		if err != nil {
			return err
		}
		billID, err := auth.ParamUint(c, "id")
		if err != nil {
			return err
		}
		bill, err := GetBill(database.DB, scope, billID)
		if err != nil {
			return billError(err, logrus.Fields{"bill_id": billID})
		}
		return c.JSON(toBillResponse(*bill))
	}
}

// POST /api/bills/:id/items
func AddItemHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		scope, err := scopeFor(c)
		if err != nil {
			return err
		}
		billID, err := auth.ParamUint(c, "id")
		if err != nil {
			return err
		}
		var body ItemRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if body.ProductID == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "product_id is required")
		}

		bill, err := AddItem(database.DB, scope, billID, body)
		if err != nil {
			return billError(err, logrus.Fields{"bill_id": billID, "product_id": body.ProductID})
		}
		logBill(c, bill, models.AuditActionUpdate, fmt.Sprintf("Item added to bill %s", bill.InvoiceNumber))
		return c.JSON(toBillResponse(*bill))
	}
}

// PUT /api/bills/:id/items/:itemId
func UpdateItemHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		scope, err := scopeFor(c)
		if err != nil {
			return err
		}
		billID, err := auth.ParamUint(c, "id")
		if err != nil {
			return err
		}
		itemID, err := auth.ParamUint(c, "itemId")
		if err != nil {
			return err
		}
		var body ItemUpdate
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		bill, err := UpdateItem(database.DB, scope, billID, itemID, body)
		if err != nil {
			return billError(err, logrus.Fields{"bill_id": billID, "item_id": itemID})
		}
		logBill(c, bill, models.AuditActionUpdate, fmt.Sprintf("Item #%d of bill %s updated", itemID, bill.InvoiceNumber))
		return c.JSON(toBillResponse(*bill))
	}
}

// DELETE /api/bills/:id/items/:itemId
func RemoveItemHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		scope, err := scopeFor(c)
		if err != nil {
			return err
		}
		billID, err := auth.ParamUint(c, "id")
		if err != nil {
			return err
		}
		itemID, err := auth.ParamUint(c, "itemId")
		if err != nil {
			return err
		}

		bill, err := RemoveItem(database.DB, scope, billID, itemID)
		if err != nil {
			return billError(err, logrus.Fields{"bill_id": billID, "item_id": itemID})
		}
		logBill(c, bill, models.AuditActionUpdate, fmt.Sprintf("Item #%d removed from bill %s", itemID, bill.InvoiceNumber))
		return c.JSON(toBillResponse(*bill))
	}
}

// POST /api/bills/:id/cancel
func CancelBillHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		scope, err := scopeFor(c)
		if err != nil {
			return err
		}
		billID, err := auth.ParamUint(c, "id")
		if err != nil {
			return err
		}
		var body CancelBillRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&body); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
			}
		}

		bill, err := CancelBill(database.DB, scope, billID, strings.TrimSpace(body.Reason))
		if err != nil {
			return billError(err, logrus.Fields{"bill_id": billID})
		}
		logBill(c, bill, models.AuditActionUpdate, fmt.Sprintf("Bill %s cancelled", bill.InvoiceNumber))
		return c.JSON(toBillResponse(*bill))
	}
}

// POST /api/bills/:id/payments
func AddPaymentHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		scope, err := scopeFor(c)
		if err != nil {
			return err
		}
		billID, err := auth.ParamUint(c, "id")
		if err != nil {
			return err
		}
		var body AddPaymentRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		paidAt := time.Now()
		if body.PaidAt != "" {
			if paidAt, err = query.ParseDate(body.PaidAt); err != nil {
				return err
			}
		}

		payment, err := AddPayment(database.DB, scope, billID, body.PaymentRequest, paidAt)
		if err != nil {
			return billError(err, logrus.Fields{"bill_id": billID})
		}

		bill, err := GetBill(database.DB, scope, billID)
		if err != nil {
			return billError(err, logrus.Fields{"bill_id": billID})
		}
		logBill(c, bill, models.AuditActionUpdate, fmt.Sprintf("Payment of %s on bill %s", payment.Amount.StringFixed(2), bill.InvoiceNumber))

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"payment": toPaymentResponse(*payment),
			"bill":    toBillResponse(*bill),
		})
	}
}

// GET /api/payments?branch_id=1&bill_id=2&customer_id=3&mode=cash&from=&to=
func ListPaymentsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID, err := auth.ResolveTenantID(c, nil)
		if err != nil {
			return err
		}
		branchID, err := auth.BranchFilter(c, tenantID)
		if err != nil {
			return err
		}
		rng, err := query.DateRange(c)
		if err != nil {
			return err
		}
		page := query.Paging(c)

		dbq := database.DB.Model(&models.Payment{}).Where("tenant_id = ?", tenantID)
		if branchID != nil {
			dbq = dbq.Where("branch_id = ?", *branchID)
		}
		for _, key := range []string{"bill_id", "customer_id"} {
			v, err := auth.QueryUint(c, key)
			if err != nil {
				return err
			}
			if v != nil {
				dbq = dbq.Where(key+" = ?", *v)
			}
		}
		if m := models.PaymentMode(c.Query("mode")); m != "" {
			if !m.Valid() {
				return fiber.NewError(fiber.StatusBadRequest, "Unknown payment mode")
			}
			dbq = dbq.Where("mode = ?", m)
		}
		dbq = rng.Where(dbq, "paid_at")

		var total int64
		if err := dbq.Count(&total).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Payments could not be counted")
		}
		var payments []models.Payment
		if err := page.Apply(dbq.Order("paid_at DESC, id DESC")).Find(&payments).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Payments could not be listed")
		}

		items := make([]PaymentResponse, 0, len(payments))
		for _, p := range payments {
			items = append(items, toPaymentResponse(p))
		}
		return c.JSON(fiber.Map{
			"items": items,
			"total": total,
			"page":  page.Page,
			"limit": page.Limit,
		})
	}
}

func toBillResponse(b models.Bill) BillResponse {
	resp := BillResponse{
		ID:             b.ID,
		TenantID:       b.TenantID,
		BranchID:       b.BranchID,
		BranchName:     b.Branch.Name,
		CustomerID:     b.CustomerID,
		InvoiceNumber:  b.InvoiceNumber,
		BillDate:       b.BillDate.Format(query.DateLayout),
		GSTEnabled:     b.GSTEnabled,
		GSTType:        b.GSTType,
		Subtotal:       b.Subtotal,
		DiscountAmount: b.DiscountAmount,
		GSTAmount:      b.GSTAmount,
		TotalAmount:    b.TotalAmount,
		PaidAmount:     b.PaidAmount,
		DueAmount:      b.DueAmount,
		ProfitAmount:   b.ProfitAmount,
		Status:         b.Status,
		PaymentStatus:  b.PaymentStatus,
		Notes:          b.Notes,
		CancelReason:   b.CancelReason,
		CreatedBy:      b.CreatedBy,
	}
	if b.Customer != nil {
		resp.CustomerName = b.Customer.Name
	}
	for _, it := range b.Items {
		resp.Items = append(resp.Items, BillItemResponse{
			ID:            it.ID,
			ProductID:     it.ProductID,
			ProductName:   it.ProductName,
			SKU:           it.SKU,
			Quantity:      it.Quantity,
			UnitPrice:     it.UnitPrice,
			Discount:      it.Discount,
			GSTRate:       it.GSTRate,
			TaxableAmount: it.TaxableAmount,
			GSTAmount:     it.GSTAmount,
			TotalAmount:   it.TotalAmount,
			Profit:        it.Profit,
		})
	}
	for _, p := range b.Payments {
		resp.Payments = append(resp.Payments, toPaymentResponse(p))
	}
	return resp
}

func toPaymentResponse(p models.Payment) PaymentResponse {
	return PaymentResponse{
		ID:         p.ID,
		BillID:     p.BillID,
		BranchID:   p.BranchID,
		CustomerID: p.CustomerID,
		Amount:     p.Amount,
		Mode:       p.Mode,
		Reference:  p.Reference,
		PaidAt:     p.PaidAt.Format("2006-01-02 15:04:05"),
		CreatedBy:  p.CreatedBy,
	}
}
