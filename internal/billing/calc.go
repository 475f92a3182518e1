package billing

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidPrice    = errors.New("prices must not be negative")
	ErrInvalidDiscount = errors.New("discount must be between zero and the line amount")
	ErrInvalidGSTRate  = errors.New("GST rate must be between 0 and 100")
)

var hundred = decimal.NewFromInt(100)

// TaxMode is the tenant's GST configuration at billing time.
type TaxMode struct {
	Enabled bool
	Type    models.GSTType
}

type ItemInput struct {
	Quantity      int64
	UnitPrice     decimal.Decimal
	PurchasePrice decimal.Decimal
	Discount      decimal.Decimal
	GSTRate       decimal.Decimal
}

type ItemAmounts struct {
	GSTRate decimal.Decimal // effective rate; zero when GST is disabled
	Gross   decimal.Decimal // unit price * quantity
	Taxable decimal.Decimal
	GST     decimal.Decimal
	Total   decimal.Decimal
	Profit  decimal.Decimal
}

func ValidGSTRate(rate decimal.Decimal) bool {
	return !rate.IsNegative() && rate.LessThanOrEqual(hundred)
}

// CalculateItem prices one bill line. Exclusive GST is added on top of the
// discounted amount; inclusive GST is carved out of it. Profit is measured on
// the taxable amount against the purchase cost. Results are rounded to paise.
func CalculateItem(in ItemInput, mode TaxMode) (ItemAmounts, error) {
	if in.Quantity <= 0 {
		return ItemAmounts{}, ErrInvalidQuantity
	}
	if in.UnitPrice.IsNegative() || in.PurchasePrice.IsNegative() {
		return ItemAmounts{}, ErrInvalidPrice
	}
	if !ValidGSTRate(in.GSTRate) {
		return ItemAmounts{}, ErrInvalidGSTRate
	}

	qty := decimal.NewFromInt(in.Quantity)
	gross := in.UnitPrice.Mul(qty).Round(2)
	discount := in.Discount.Round(2)
	if discount.IsNegative() || discount.GreaterThan(gross) {
		return ItemAmounts{}, ErrInvalidDiscount
	}

	rate := in.GSTRate
	if !mode.Enabled {
		rate = decimal.Zero
	}

	out := ItemAmounts{GSTRate: rate, Gross: gross}
	net := gross.Sub(discount)

	if mode.Type == models.GSTInclusive {
		out.Total = net
		out.Taxable = net.Mul(hundred).Div(hundred.Add(rate)).Round(2)
		out.GST = out.Total.Sub(out.Taxable)
	} else {
		out.Taxable = net
		out.GST = net.Mul(rate).Div(hundred).Round(2)
		out.Total = out.Taxable.Add(out.GST)
	}

	cost := in.PurchasePrice.Mul(qty).Round(2)
	out.Profit = out.Taxable.Sub(cost)
	return out, nil
}

// Totals are the bill-level figures derived from its lines and payments.
type Totals struct {
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	GST           decimal.Decimal
	Total         decimal.Decimal
	Profit        decimal.Decimal
	Paid          decimal.Decimal
	Due           decimal.Decimal
	PaymentStatus models.PaymentStatus
}

// Summarize sums the stored line amounts, so the bill total is always the
// sum of its item totals.
func Summarize(items []models.BillItem, paid decimal.Decimal) Totals {
	t := Totals{
		Subtotal: decimal.Zero,
		Discount: decimal.Zero,
		GST:      decimal.Zero,
		Total:    decimal.Zero,
		Profit:   decimal.Zero,
		Paid:     paid,
	}
	for _, it := range items {
		t.Subtotal = t.Subtotal.Add(it.TaxableAmount)
		t.Discount = t.Discount.Add(it.Discount)
		t.GST = t.GST.Add(it.GSTAmount)
		t.Total = t.Total.Add(it.TotalAmount)
		t.Profit = t.Profit.Add(it.Profit)
	}

	t.Due = t.Total.Sub(paid)
	if t.Due.IsNegative() {
		t.Due = decimal.Zero
	}
	t.PaymentStatus = PaymentStatusFor(t.Total, paid)
	return t
}

func PaymentStatusFor(total, paid decimal.Decimal) models.PaymentStatus {
	switch {
	case paid.GreaterThanOrEqual(total):
		return models.PaymentPaid
	case paid.IsPositive():
		return models.PaymentPartial
	default:
		return models.PaymentUnpaid
	}
}

// ApplyItem copies computed amounts onto a stored line.
func ApplyItem(item *models.BillItem, in ItemInput, out ItemAmounts) {
	item.Quantity = in.Quantity
	item.UnitPrice = in.UnitPrice
	item.PurchasePrice = in.PurchasePrice
	item.Discount = in.Discount.Round(2)
	item.GSTRate = out.GSTRate
	item.TaxableAmount = out.Taxable
	item.GSTAmount = out.GST
	item.TotalAmount = out.Total
	item.Profit = out.Profit
}

// ApplyTotals copies bill-level figures onto the bill.
func ApplyTotals(bill *models.Bill, t Totals) {
	bill.Subtotal = t.Subtotal
	bill.DiscountAmount = t.Discount
	bill.GSTAmount = t.GST
	bill.TotalAmount = t.Total
	bill.PaidAmount = t.Paid
	bill.DueAmount = t.Due
	bill.ProfitAmount = t.Profit
	bill.PaymentStatus = t.PaymentStatus
}
