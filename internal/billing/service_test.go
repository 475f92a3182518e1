package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/inventory"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/testutil"
)

type fixture struct {
	db      *gorm.DB
	tenant  *models.Tenant
	branch  *models.Branch
	soap    *models.Product
	rice    *models.Product
	scope   Scope
	billDay time.Time
}

func setup(t *testing.T, gstType models.GSTType) fixture {
	db := testutil.NewDB(t)
	tenant := testutil.Tenant(t, db, "T1", gstType)
	branch := testutil.Branch(t, db, tenant.ID, "Main")
	f := fixture{
		db:      db,
		tenant:  tenant,
		branch:  branch,
		soap:    testutil.Product(t, db, tenant.ID, "SOAP", "100", "60", "18"),
		rice:    testutil.Product(t, db, tenant.ID, "RICE", "50", "30", "5"),
		scope:   Scope{TenantID: tenant.ID, UserID: 1},
		billDay: time.Date(2026, 3, 14, 0, 0, 0, 0, time.Local),
	}
	f.stockIn(t, f.soap, 10)
	f.stockIn(t, f.rice, 10)
	return f
}

func (f fixture) stockIn(t *testing.T, p *models.Product, qty int64) {
	t.Helper()
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		_, err := inventory.Apply(tx, inventory.Movement{
			TenantID:  f.tenant.ID,
			BranchID:  f.branch.ID,
			ProductID: p.ID,
			Type:      models.StockIn,
			Quantity:  qty,
			UserID:    1,
		})
		return err
	}))
}

func (f fixture) stock(t *testing.T, p *models.Product) int64 {
	t.Helper()
	var cs models.CurrentStock
	require.NoError(t, f.db.Where("branch_id = ? AND product_id = ?", f.branch.ID, p.ID).First(&cs).Error)
	return cs.Quantity
}

func (f fixture) create(t *testing.T, items ...ItemRequest) *models.Bill {
	t.Helper()
	bill, err := CreateBill(f.db, CreateBillInput{
		TenantID: f.tenant.ID,
		BranchID: f.branch.ID,
		UserID:   1,
		BillDate: f.billDay,
		Items:    items,
	})
	require.NoError(t, err)
	return bill
}

// assertConsistent checks that the bill equals the sum of its items and the
// stock agrees with the ledger.
func (f fixture) assertConsistent(t *testing.T, bill *models.Bill) {
	t.Helper()
	var items []models.BillItem
	require.NoError(t, f.db.Where("bill_id = ?", bill.ID).Find(&items).Error)
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.TotalAmount)
	}
	assert.True(t, sum.Equal(bill.TotalAmount), "items %s, bill %s", sum, bill.TotalAmount)

	mismatches, err := inventory.Verify(f.db, f.tenant.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestCreateBillExclusive(t *testing.T) {
	f := setup(t, models.GSTExclusive)

	bill := f.create(t,
		ItemRequest{ProductID: f.soap.ID, Quantity: 2},
		ItemRequest{ProductID: f.rice.ID, Quantity: 3, Discount: d("15")},
	)

	assert.Equal(t, "INV-2026-000001", bill.InvoiceNumber)
	require.Len(t, bill.Items, 2)
	assertDec(t, "335", bill.Subtotal)
	assertDec(t, "15", bill.DiscountAmount)
	assertDec(t, "42.75", bill.GSTAmount)
	assertDec(t, "377.75", bill.TotalAmount)
	assertDec(t, "125", bill.ProfitAmount)
	assertDec(t, "377.75", bill.DueAmount)
	assert.Equal(t, models.PaymentUnpaid, bill.PaymentStatus)
	assert.Equal(t, models.BillCompleted, bill.Status)

	assert.EqualValues(t, 8, f.stock(t, f.soap))
	assert.EqualValues(t, 7, f.stock(t, f.rice))

	var sales []models.StockLedger
	require.NoError(t, f.db.Where("type = ?", models.StockSale).Find(&sales).Error)
	require.Len(t, sales, 2)
	assert.Equal(t, sales[0].CorrelationID, sales[1].CorrelationID)
	assert.Equal(t, "bill", sales[0].ReferenceType)
	require.NotNil(t, sales[0].ReferenceID)
	assert.Equal(t, bill.ID, *sales[0].ReferenceID)

	f.assertConsistent(t, bill)
}

func TestCreateBillInclusiveWithPayment(t *testing.T) {
	f := setup(t, models.GSTInclusive)

	bill, err := CreateBill(f.db, CreateBillInput{
		TenantID: f.tenant.ID,
		BranchID: f.branch.ID,
		UserID:   1,
		BillDate: f.billDay,
		Items:    []ItemRequest{{ProductID: f.soap.ID, Quantity: 1, UnitPrice: testutil.Ptr(d("118"))}},
		Payment:  &PaymentRequest{Amount: d("18"), Mode: models.PaymentCash},
	})
	require.NoError(t, err)

	assertDec(t, "100", bill.Subtotal)
	assertDec(t, "18", bill.GSTAmount)
	assertDec(t, "118", bill.TotalAmount)
	assertDec(t, "18", bill.PaidAmount)
	assertDec(t, "100", bill.DueAmount)
	assert.Equal(t, models.PaymentPartial, bill.PaymentStatus)
	require.Len(t, bill.Payments, 1)
}

func TestCreateBillRejectsOverdrawAndLeavesNoTrace(t *testing.T) {
	f := setup(t, models.GSTExclusive)

	_, err := CreateBill(f.db, CreateBillInput{
		TenantID: f.tenant.ID,
		BranchID: f.branch.ID,
		Items: []ItemRequest{
			{ProductID: f.soap.ID, Quantity: 2},
			{ProductID: f.rice.ID, Quantity: 11},
		},
	})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	var bills int64
	f.db.Model(&models.Bill{}).Count(&bills)
	assert.Zero(t, bills)
	assert.EqualValues(t, 10, f.stock(t, f.soap))

	// the failed attempt does not burn an invoice number
	bill := f.create(t, ItemRequest{ProductID: f.soap.ID, Quantity: 1})
	assert.Equal(t, "INV-2026-000001", bill.InvoiceNumber)
}

func TestCreateBillValidation(t *testing.T) {
	f := setup(t, models.GSTExclusive)

	_, err := CreateBill(f.db, CreateBillInput{TenantID: f.tenant.ID, BranchID: f.branch.ID})
	assert.ErrorIs(t, err, ErrNoItems)

	_, err = CreateBill(f.db, CreateBillInput{
		TenantID:   f.tenant.ID,
		BranchID:   f.branch.ID,
		CustomerID: testutil.Ptr(uint(999)),
		Items:      []ItemRequest{{ProductID: f.soap.ID, Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrCustomerNotFound)

	require.NoError(t, f.db.Model(f.rice).Update("is_active", false).Error)
	_, err = CreateBill(f.db, CreateBillInput{
		TenantID: f.tenant.ID,
		BranchID: f.branch.ID,
		Items:    []ItemRequest{{ProductID: f.rice.ID, Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrProductUnavailable)

	_, err = CreateBill(f.db, CreateBillInput{
		TenantID: f.tenant.ID,
		BranchID: f.branch.ID,
		Items:    []ItemRequest{{ProductID: f.soap.ID, Quantity: 1}},
		Payment:  &PaymentRequest{Amount: d("500"), Mode: models.PaymentCash},
	})
	assert.ErrorIs(t, err, ErrOverpayment)

	_, err = CreateBill(f.db, CreateBillInput{
		TenantID: f.tenant.ID,
		BranchID: f.branch.ID,
		Items:    []ItemRequest{{ProductID: f.soap.ID, Quantity: 1}},
		Payment:  &PaymentRequest{Amount: d("-5"), Mode: models.PaymentCash},
	})
	assert.ErrorIs(t, err, ErrInvalidPayment)
	assert.EqualValues(t, 10, f.stock(t, f.soap))

	bill, err := CreateBill(f.db, CreateBillInput{
		TenantID: f.tenant.ID,
		BranchID: f.branch.ID,
		Items:    []ItemRequest{{ProductID: f.soap.ID, Quantity: 1}},
		Payment:  &PaymentRequest{Amount: d("0"), Mode: models.PaymentCash},
	})
	require.NoError(t, err)
	assert.Empty(t, bill.Payments)
	assertDec(t, "0", bill.PaidAmount)
}

func TestInvoiceNumbersIncrement(t *testing.T) {
	f := setup(t, models.GSTExclusive)

	first := f.create(t, ItemRequest{ProductID: f.soap.ID, Quantity: 1})
	second := f.create(t, ItemRequest{ProductID: f.soap.ID, Quantity: 1})
	assert.Equal(t, "INV-2026-000001", first.InvoiceNumber)
	assert.Equal(t, "INV-2026-000002", second.InvoiceNumber)
}

func TestAddUpdateRemoveItem(t *testing.T) {
	f := setup(t, models.GSTExclusive)
	bill := f.create(t, ItemRequest{ProductID: f.soap.ID, Quantity: 2})

	bill, err := AddItem(f.db, f.scope, bill.ID, ItemRequest{ProductID: f.rice.ID, Quantity: 2})
	require.NoError(t, err)
	require.Len(t, bill.Items, 2)
	assertDec(t, "341", bill.TotalAmount) // 236 + 105
	assert.EqualValues(t, 8, f.stock(t, f.rice))
	f.assertConsistent(t, bill)

	riceLine := bill.Items[1]
	bill, err = UpdateItem(f.db, f.scope, bill.ID, riceLine.ID, ItemUpdate{Quantity: testutil.Ptr(int64(5))})
	require.NoError(t, err)
	assert.EqualValues(t, 5, f.stock(t, f.rice))
	assertDec(t, "498.5", bill.TotalAmount) // 236 + 262.5
	f.assertConsistent(t, bill)

	bill, err = UpdateItem(f.db, f.scope, bill.ID, riceLine.ID, ItemUpdate{Quantity: testutil.Ptr(int64(1)), Discount: testutil.Ptr(d("10"))})
	require.NoError(t, err)
	assert.EqualValues(t, 9, f.stock(t, f.rice))
	assertDec(t, "278", bill.TotalAmount) // 236 + 42
	f.assertConsistent(t, bill)

	var returns int64
	f.db.Model(&models.StockLedger{}).Where("type = ?", models.StockSaleReturn).Count(&returns)
	assert.EqualValues(t, 1, returns)

	bill, err = RemoveItem(f.db, f.scope, bill.ID, riceLine.ID)
	require.NoError(t, err)
	require.Len(t, bill.Items, 1)
	assertDec(t, "236", bill.TotalAmount)
	assert.EqualValues(t, 10, f.stock(t, f.rice))
	f.assertConsistent(t, bill)

	_, err = RemoveItem(f.db, f.scope, bill.ID, bill.Items[0].ID)
	assert.ErrorIs(t, err, ErrLastItem)
}

func TestUpdateItemRefusesDeactivatedProduct(t *testing.T) {
	f := setup(t, models.GSTExclusive)
	bill := f.create(t, ItemRequest{ProductID: f.soap.ID, Quantity: 1}, ItemRequest{ProductID: f.rice.ID, Quantity: 3})
	riceLine := bill.Items[1]

	require.NoError(t, f.db.Model(f.rice).Update("is_active", false).Error)
	_, err := UpdateItem(f.db, f.scope, bill.ID, riceLine.ID, ItemUpdate{Quantity: testutil.Ptr(int64(5))})
	require.ErrorIs(t, err, ErrProductUnavailable)
	assert.EqualValues(t, 7, f.stock(t, f.rice))

	// lowering the quantity returns stock and stays allowed
	bill, err = UpdateItem(f.db, f.scope, bill.ID, riceLine.ID, ItemUpdate{Quantity: testutil.Ptr(int64(2))})
	require.NoError(t, err)
	assert.EqualValues(t, 8, f.stock(t, f.rice))
	f.assertConsistent(t, bill)
}

func TestUpdateItemCannotUndercutPayments(t *testing.T) {
	f := setup(t, models.GSTExclusive)
	bill := f.create(t, ItemRequest{ProductID: f.soap.ID, Quantity: 2})

	_, err := AddPayment(f.db, f.scope, bill.ID, PaymentRequest{Amount: d("200"), Mode: models.PaymentUPI}, f.billDay)
	require.NoError(t, err)

	_, err = UpdateItem(f.db, f.scope, bill.ID, bill.Items[0].ID, ItemUpdate{Quantity: testutil.Ptr(int64(1))})
	require.ErrorIs(t, err, ErrTotalBelowPaid)

	// rolled back, stock untouched
	assert.EqualValues(t, 8, f.stock(t, f.soap))
}

func TestPayments(t *testing.T) {
	f := setup(t, models.GSTExclusive)
	bill := f.create(t, ItemRequest{ProductID: f.soap.ID, Quantity: 1}) // 118

	_, err := AddPayment(f.db, f.scope, bill.ID, PaymentRequest{Amount: d("0"), Mode: models.PaymentCash}, f.billDay)
	assert.ErrorIs(t, err, ErrInvalidPayment)

	_, err = AddPayment(f.db, f.scope, bill.ID, PaymentRequest{Amount: d("10"), Mode: "barter"}, f.billDay)
	assert.ErrorIs(t, err, ErrInvalidPaymentMode)

	_, err = AddPayment(f.db, f.scope, bill.ID, PaymentRequest{Amount: d("118.01"), Mode: models.PaymentCash}, f.billDay)
	assert.ErrorIs(t, err, ErrOverpayment)

	_, err = AddPayment(f.db, f.scope, bill.ID, PaymentRequest{Amount: d("18"), Mode: models.PaymentCash}, f.billDay)
	require.NoError(t, err)
	_, err = AddPayment(f.db, f.scope, bill.ID, PaymentRequest{Amount: d("100"), Mode: models.PaymentCard}, f.billDay)
	require.NoError(t, err)

	bill, err = GetBill(f.db, f.scope, bill.ID)
	require.NoError(t, err)
	assertDec(t, "118", bill.PaidAmount)
	assertDec(t, "0", bill.DueAmount)
	assert.Equal(t, models.PaymentPaid, bill.PaymentStatus)
	assert.Len(t, bill.Payments, 2)
}

func TestCancelBill(t *testing.T) {
	f := setup(t, models.GSTExclusive)
	bill := f.create(t,
		ItemRequest{ProductID: f.soap.ID, Quantity: 10},
		ItemRequest{ProductID: f.rice.ID, Quantity: 4},
	)
	assert.EqualValues(t, 0, f.stock(t, f.soap))

	bill, err := CancelBill(f.db, f.scope, bill.ID, "customer left")
	require.NoError(t, err)
	assert.Equal(t, models.BillCancelled, bill.Status)
	assertDec(t, "0", bill.DueAmount)
	assert.Equal(t, "customer left", bill.CancelReason)
	require.NotNil(t, bill.CancelledAt)

	assert.EqualValues(t, 10, f.stock(t, f.soap))
	assert.EqualValues(t, 10, f.stock(t, f.rice))

	var cs models.CurrentStock
	require.NoError(t, f.db.Where("product_id = ?", f.soap.ID).First(&cs).Error)
	assert.True(t, cs.IsActive, "returned stock reactivates the product at the branch")

	_, err = CancelBill(f.db, f.scope, bill.ID, "")
	assert.ErrorIs(t, err, ErrBillCancelled)
	_, err = AddItem(f.db, f.scope, bill.ID, ItemRequest{ProductID: f.soap.ID, Quantity: 1})
	assert.ErrorIs(t, err, ErrBillCancelled)
	_, err = AddPayment(f.db, f.scope, bill.ID, PaymentRequest{Amount: d("1"), Mode: models.PaymentCash}, f.billDay)
	assert.ErrorIs(t, err, ErrBillCancelled)

	mismatches, err := inventory.Verify(f.db, f.tenant.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestScopeIsolation(t *testing.T) {
	f := setup(t, models.GSTExclusive)
	bill := f.create(t, ItemRequest{ProductID: f.soap.ID, Quantity: 1})

	other := testutil.Tenant(t, f.db, "T2", models.GSTExclusive)
	_, err := GetBill(f.db, Scope{TenantID: other.ID}, bill.ID)
	assert.ErrorIs(t, err, ErrBillNotFound)

	second := testutil.Branch(t, f.db, f.tenant.ID, "Second")
	_, err = AddItem(f.db, Scope{TenantID: f.tenant.ID, BranchID: &second.ID}, bill.ID, ItemRequest{ProductID: f.soap.ID, Quantity: 1})
	assert.ErrorIs(t, err, ErrBillNotFound)
}

func TestRenderInvoice(t *testing.T) {
	f := setup(t, models.GSTExclusive)
	bill := f.create(t, ItemRequest{ProductID: f.soap.ID, Quantity: 2})

	out, err := RenderInvoice(f.tenant, bill)
	require.NoError(t, err)
	assert.True(t, len(out) > 4 && string(out[:4]) == "%PDF")
}
