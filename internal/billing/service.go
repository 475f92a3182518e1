package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/inventory"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"
)

var (
	ErrNoItems            = errors.New("a bill needs at least one item")
	ErrBillNotFound       = errors.New("bill not found")
	ErrItemNotFound       = errors.New("bill item not found")
	ErrBillCancelled      = errors.New("bill is cancelled")
	ErrProductUnavailable = errors.New("product is not available for sale")
	ErrCustomerNotFound   = errors.New("customer not found")
	ErrInvalidPayment     = errors.New("payment amount must be positive")
	ErrInvalidPaymentMode = errors.New("unknown payment mode")
	ErrOverpayment        = errors.New("payment exceeds the amount due")
	ErrTotalBelowPaid     = errors.New("bill total cannot drop below the amount already paid")
	ErrLastItem           = errors.New("the last item cannot be removed, cancel the bill instead")
)

const referenceBill = "bill"

// Scope identifies who acts on a bill. A non-nil BranchID confines the
// caller to that branch.
type Scope struct {
	TenantID uint
	BranchID *uint
	UserID   uint
}

type ItemRequest struct {
	ProductID uint             `json:"product_id"`
	Quantity  int64            `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price"` // defaults to the product's selling price
	Discount  decimal.Decimal  `json:"discount"`
}

// ItemUpdate changes an existing line; nil fields keep their value.
type ItemUpdate struct {
	Quantity  *int64           `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
	Discount  *decimal.Decimal `json:"discount"`
}

type PaymentRequest struct {
	Amount    decimal.Decimal    `json:"amount"`
	Mode      models.PaymentMode `json:"mode"`
	Reference string             `json:"reference"`
}

type CreateBillInput struct {
	TenantID   uint
	BranchID   uint
	UserID     uint
	CustomerID *uint
	BillDate   time.Time
	Items      []ItemRequest
	Payment    *PaymentRequest
	Notes      string
}

// CreateBill issues an invoice: every line is sold out of the branch stock
// through the ledger and the optional initial payment is recorded.
func CreateBill(db *gorm.DB, in CreateBillInput) (*models.Bill, error) {
	if len(in.Items) == 0 {
		return nil, ErrNoItems
	}
	// a zero initial payment means nothing was collected
	if in.Payment != nil && in.Payment.Amount.IsNegative() {
		return nil, ErrInvalidPayment
	}
	if in.BillDate.IsZero() {
		in.BillDate = time.Now()
	}

	var billID uint
	err := db.Transaction(func(tx *gorm.DB) error {
		var tenant models.Tenant
		if err := tx.First(&tenant, in.TenantID).Error; err != nil {
			return fmt.Errorf("load tenant: %w", err)
		}

		if in.CustomerID != nil {
			if err := ensureCustomer(tx, in.TenantID, *in.CustomerID); err != nil {
				return err
			}
		}

		number, err := nextInvoiceNumber(tx, &tenant, in.BillDate)
		if err != nil {
			return err
		}

		bill := models.Bill{
			TenantID:      in.TenantID,
			BranchID:      in.BranchID,
			CustomerID:    in.CustomerID,
			InvoiceNumber: number,
			BillDate:      in.BillDate,
			GSTEnabled:    tenant.GSTEnabled,
			GSTType:       tenant.GSTType,
			Status:        models.BillCompleted,
			PaymentStatus: models.PaymentUnpaid,
			Notes:         in.Notes,
			CreatedBy:     in.UserID,
		}
		ApplyTotals(&bill, Summarize(nil, decimal.Zero))
		if err := tx.Omit(clause.Associations).Create(&bill).Error; err != nil {
			return fmt.Errorf("create bill: %w", err)
		}
		billID = bill.ID

		correlation := uuid.NewString()
		for _, req := range in.Items {
			if err := addLine(tx, &bill, req, in.UserID, correlation); err != nil {
				return err
			}
		}

		if in.Payment != nil && in.Payment.Amount.IsPositive() {
			if err := recalculate(tx, &bill); err != nil {
				return err
			}
			if _, err := insertPayment(tx, &bill, *in.Payment, in.BillDate, in.UserID); err != nil {
				return err
			}
		}

		return recalculate(tx, &bill)
	})
	if err != nil {
		return nil, err
	}

	return GetBill(db, Scope{TenantID: in.TenantID}, billID)
}

// GetBill loads a bill with its lines and payments.
func GetBill(db *gorm.DB, scope Scope, id uint) (*models.Bill, error) {
	var bill models.Bill
	err := scoped(db, scope).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Payments", func(db *gorm.DB) *gorm.DB { return db.Order("paid_at ASC, id ASC") }).
		Preload("Customer").
		Preload("Branch").
		First(&bill, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBillNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load bill: %w", err)
	}
	return &bill, nil
}

// AddItem appends a line to an existing bill.
func AddItem(db *gorm.DB, scope Scope, billID uint, req ItemRequest) (*models.Bill, error) {
	err := db.Transaction(func(tx *gorm.DB) error {
		bill, err := lockOpenBill(tx, scope, billID)
		if err != nil {
			return err
		}
		if err := addLine(tx, bill, req, scope.UserID, uuid.NewString()); err != nil {
			return err
		}
		return recalculate(tx, bill)
	})
	if err != nil {
		return nil, err
	}
	return GetBill(db, scope, billID)
}

// UpdateItem reprices a line. A quantity change moves the difference through
// the ledger: more sold stock for an increase, a sale return for a decrease.
func UpdateItem(db *gorm.DB, scope Scope, billID, itemID uint, upd ItemUpdate) (*models.Bill, error) {
	if upd.Quantity == nil && upd.UnitPrice == nil && upd.Discount == nil {
		return GetBill(db, scope, billID)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		bill, err := lockOpenBill(tx, scope, billID)
		if err != nil {
			return err
		}
		item, err := findItem(tx, billID, itemID)
		if err != nil {
			return err
		}

		in := ItemInput{
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			PurchasePrice: item.PurchasePrice,
			Discount:      item.Discount,
			GSTRate:       item.GSTRate,
		}
		if upd.Quantity != nil {
			in.Quantity = *upd.Quantity
		}
		if upd.UnitPrice != nil {
			in.UnitPrice = *upd.UnitPrice
		}
		if upd.Discount != nil {
			in.Discount = *upd.Discount
		}

		// the stored rate is already zero when the bill was issued without GST
		out, err := CalculateItem(in, TaxMode{Enabled: true, Type: bill.GSTType})
		if err != nil {
			return err
		}

		correlation := uuid.NewString()
		if diff := in.Quantity - item.Quantity; diff > 0 {
			if err := ensureSellable(tx, bill.TenantID, item.ProductID); err != nil {
				return err
			}
			err = moveStock(tx, bill, item.ProductID, models.StockSale, diff, scope.UserID, correlation)
		} else if diff < 0 {
			err = moveStock(tx, bill, item.ProductID, models.StockSaleReturn, -diff, scope.UserID, correlation)
		}
		if err != nil {
			return err
		}

		ApplyItem(item, in, out)
		if err := tx.Omit(clause.Associations).Save(item).Error; err != nil {
			return fmt.Errorf("save bill item: %w", err)
		}
		return recalculate(tx, bill)
	})
	if err != nil {
		return nil, err
	}
	return GetBill(db, scope, billID)
}

// RemoveItem deletes a line and returns its stock.
func RemoveItem(db *gorm.DB, scope Scope, billID, itemID uint) (*models.Bill, error) {
	err := db.Transaction(func(tx *gorm.DB) error {
		bill, err := lockOpenBill(tx, scope, billID)
		if err != nil {
			return err
		}
		item, err := findItem(tx, billID, itemID)
		if err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&models.BillItem{}).Where("bill_id = ?", billID).Count(&count).Error; err != nil {
			return err
		}
		if count <= 1 {
			return ErrLastItem
		}

		if err := moveStock(tx, bill, item.ProductID, models.StockSaleReturn, item.Quantity, scope.UserID, uuid.NewString()); err != nil {
			return err
		}
		if err := tx.Delete(&models.BillItem{}, item.ID).Error; err != nil {
			return fmt.Errorf("delete bill item: %w", err)
		}
		return recalculate(tx, bill)
	})
	if err != nil {
		return nil, err
	}
	return GetBill(db, scope, billID)
}

// CancelBill returns every line's stock and closes the bill. Recorded
// payments stay on the bill for refund bookkeeping; nothing is due anymore.
func CancelBill(db *gorm.DB, scope Scope, billID uint, reason string) (*models.Bill, error) {
	err := db.Transaction(func(tx *gorm.DB) error {
		bill, err := lockOpenBill(tx, scope, billID)
		if err != nil {
			return err
		}

		var items []models.BillItem
		if err := tx.Where("bill_id = ?", billID).Order("id ASC").Find(&items).Error; err != nil {
			return err
		}
		correlation := uuid.NewString()
		for _, it := range items {
			if err := moveStock(tx, bill, it.ProductID, models.StockSaleReturn, it.Quantity, scope.UserID, correlation); err != nil {
				return err
			}
		}

		now := time.Now()
		return tx.Model(&models.Bill{}).Where("id = ?", bill.ID).Updates(map[string]interface{}{
			"status":        models.BillCancelled,
			"due_amount":    decimal.Zero,
			"cancelled_at":  now,
			"cancel_reason": reason,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return GetBill(db, scope, billID)
}

// AddPayment records a payment against the amount due.
func AddPayment(db *gorm.DB, scope Scope, billID uint, req PaymentRequest, paidAt time.Time) (*models.Payment, error) {
	var payment *models.Payment
	err := db.Transaction(func(tx *gorm.DB) error {
		bill, err := lockOpenBill(tx, scope, billID)
		if err != nil {
			return err
		}
		if payment, err = insertPayment(tx, bill, req, paidAt, scope.UserID); err != nil {
			return err
		}
		return recalculate(tx, bill)
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

func insertPayment(tx *gorm.DB, bill *models.Bill, req PaymentRequest, paidAt time.Time, userID uint) (*models.Payment, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidPayment
	}
	if !req.Mode.Valid() {
		return nil, ErrInvalidPaymentMode
	}
	amount := req.Amount.Round(2)
	if amount.GreaterThan(bill.DueAmount) {
		return nil, fmt.Errorf("%w: due %s", ErrOverpayment, bill.DueAmount.StringFixed(2))
	}

	payment := models.Payment{
		TenantID:   bill.TenantID,
		BranchID:   bill.BranchID,
		BillID:     bill.ID,
		CustomerID: bill.CustomerID,
		Amount:     amount,
		Mode:       req.Mode,
		Reference:  req.Reference,
		PaidAt:     paidAt,
		CreatedBy:  userID,
	}
	if err := tx.Create(&payment).Error; err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	return &payment, nil
}

func addLine(tx *gorm.DB, bill *models.Bill, req ItemRequest, userID uint, correlation string) error {
	var product models.Product
	err := tx.Where("id = ? AND tenant_id = ?", req.ProductID, bill.TenantID).First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return inventory.ErrProductNotFound
	}
	if err != nil {
		return fmt.Errorf("load product: %w", err)
	}
	if !product.IsActive {
		return fmt.Errorf("%w: %s", ErrProductUnavailable, product.Name)
	}

	in := ItemInput{
		Quantity:      req.Quantity,
		UnitPrice:     product.SellingPrice,
		PurchasePrice: product.PurchasePrice,
		Discount:      req.Discount,
		GSTRate:       product.GSTRate,
	}
	if req.UnitPrice != nil {
		in.UnitPrice = *req.UnitPrice
	}

	out, err := CalculateItem(in, TaxMode{Enabled: bill.GSTEnabled, Type: bill.GSTType})
	if err != nil {
		return err
	}

	item := models.BillItem{
		BillID:      bill.ID,
		ProductID:   product.ID,
		ProductName: product.Name,
		SKU:         product.SKU,
	}
	ApplyItem(&item, in, out)
	if err := tx.Omit(clause.Associations).Create(&item).Error; err != nil {
		return fmt.Errorf("create bill item: %w", err)
	}

	return moveStock(tx, bill, product.ID, models.StockSale, req.Quantity, userID, correlation)
}

// ensureSellable refuses further sales of a deactivated product.
func ensureSellable(tx *gorm.DB, tenantID, productID uint) error {
	var product models.Product
	err := tx.Select("id", "name", "is_active").
		Where("id = ? AND tenant_id = ?", productID, tenantID).First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return inventory.ErrProductNotFound
	}
	if err != nil {
		return fmt.Errorf("load product: %w", err)
	}
	if !product.IsActive {
		return fmt.Errorf("%w: %s", ErrProductUnavailable, product.Name)
	}
	return nil
}

func moveStock(tx *gorm.DB, bill *models.Bill, productID uint, kind models.StockTransactionType, qty int64, userID uint, correlation string) error {
	billID := bill.ID
	_, err := inventory.Apply(tx, inventory.Movement{
		TenantID:      bill.TenantID,
		BranchID:      bill.BranchID,
		ProductID:     productID,
		Type:          kind,
		Quantity:      qty,
		Reason:        "Invoice " + bill.InvoiceNumber,
		ReferenceType: referenceBill,
		ReferenceID:   &billID,
		CorrelationID: correlation,
		UserID:        userID,
	})
	return err
}

// recalculate derives the bill figures from its persisted lines and payments.
func recalculate(tx *gorm.DB, bill *models.Bill) error {
	var items []models.BillItem
	if err := tx.Where("bill_id = ?", bill.ID).Find(&items).Error; err != nil {
		return fmt.Errorf("load bill items: %w", err)
	}
	var payments []models.Payment
	if err := tx.Where("bill_id = ?", bill.ID).Find(&payments).Error; err != nil {
		return fmt.Errorf("load payments: %w", err)
	}
	paid := decimal.Zero
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}

	totals := Summarize(items, paid)
	if paid.GreaterThan(totals.Total) {
		return fmt.Errorf("%w: paid %s, new total %s", ErrTotalBelowPaid, paid.StringFixed(2), totals.Total.StringFixed(2))
	}
	ApplyTotals(bill, totals)

	return tx.Model(&models.Bill{}).Where("id = ?", bill.ID).Updates(map[string]interface{}{
		"subtotal":        bill.Subtotal,
		"discount_amount": bill.DiscountAmount,
		"gst_amount":      bill.GSTAmount,
		"total_amount":    bill.TotalAmount,
		"paid_amount":     bill.PaidAmount,
		"due_amount":      bill.DueAmount,
		"profit_amount":   bill.ProfitAmount,
		"payment_status":  bill.PaymentStatus,
	}).Error
}

func scoped(db *gorm.DB, scope Scope) *gorm.DB {
	q := db.Where("bills.tenant_id = ?", scope.TenantID)
	if scope.BranchID != nil {
		q = q.Where("bills.branch_id = ?", *scope.BranchID)
	}
	return q
}

func lockOpenBill(tx *gorm.DB, scope Scope, id uint) (*models.Bill, error) {
	var bill models.Bill
	err := scoped(tx, scope).Clauses(clause.Locking{Strength: "UPDATE"}).First(&bill, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBillNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock bill: %w", err)
	}
	if bill.Status == models.BillCancelled {
		return nil, ErrBillCancelled
	}
	return &bill, nil
}

func findItem(tx *gorm.DB, billID, itemID uint) (*models.BillItem, error) {
	var item models.BillItem
	err := tx.Where("id = ? AND bill_id = ?", itemID, billID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load bill item: %w", err)
	}
	return &item, nil
}

func ensureCustomer(tx *gorm.DB, tenantID, customerID uint) error {
	var count int64
	if err := tx.Model(&models.Customer{}).Where("id = ? AND tenant_id = ?", customerID, tenantID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

// nextInvoiceNumber hands out <prefix>-<year>-<6 digit sequence> numbers
// from a per-tenant, per-year counter row locked for the transaction.
func nextInvoiceNumber(tx *gorm.DB, tenant *models.Tenant, date time.Time) (string, error) {
	year := date.Year()
	var seq models.InvoiceSequence
	lock := func() error {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("tenant_id = ? AND year = ?", tenant.ID, year).
			First(&seq).Error
	}

	err := lock()
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.InvoiceSequence{TenantID: tenant.ID, Year: year}).Error; err != nil {
			return "", fmt.Errorf("create invoice sequence: %w", err)
		}
		err = lock()
	}
	if err != nil {
		return "", fmt.Errorf("lock invoice sequence: %w", err)
	}

	seq.LastNumber++
	if err := tx.Model(&seq).Update("last_number", seq.LastNumber).Error; err != nil {
		return "", fmt.Errorf("advance invoice sequence: %w", err)
	}

	prefix := tenant.InvoicePrefix
	if prefix == "" {
		prefix = "INV"
	}
	return fmt.Sprintf("%s-%d-%06d", prefix, year, seq.LastNumber), nil
}
