package billing

import (
	"bytes"
	"fmt"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/auth"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/database"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/logger"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/query"

	"github.com/gofiber/fiber/v2"
	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// RenderInvoice draws an A4 invoice for a bill loaded with items and payments.
func RenderInvoice(tenant *models.Tenant, bill *models.Bill) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(bill.InvoiceNumber, false)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 9, tr(tenant.Name), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	if tenant.Address != "" {
		pdf.CellFormat(0, 5, tr(tenant.Address), "", 1, "C", false, 0, "")
	}
	if tenant.Phone != "" {
		pdf.CellFormat(0, 5, "Phone: "+tenant.Phone, "", 1, "C", false, 0, "")
	}
	if bill.GSTEnabled && tenant.GSTNumber != "" {
		pdf.CellFormat(0, 5, "GSTIN: "+tenant.GSTNumber, "", 1, "C", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 12)
	title := "INVOICE"
	if bill.GSTEnabled {
		title = "TAX INVOICE"
	}
	if bill.Status == models.BillCancelled {
		title += " (CANCELLED)"
	}
	pdf.CellFormat(0, 8, title, "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(95, 6, "Invoice: "+bill.InvoiceNumber, "", 0, "L", false, 0, "")
	pdf.CellFormat(95, 6, "Date: "+bill.BillDate.Format("02 Jan 2006"), "", 1, "R", false, 0, "")
	if bill.Branch.Name != "" {
		pdf.CellFormat(95, 6, tr("Branch: "+bill.Branch.Name), "", 1, "L", false, 0, "")
	}
	if bill.Customer != nil {
		pdf.CellFormat(95, 6, tr("Customer: "+bill.Customer.Name), "", 1, "L", false, 0, "")
		if bill.Customer.GSTNumber != "" {
			pdf.CellFormat(95, 6, "Customer GSTIN: "+bill.Customer.GSTNumber, "", 1, "L", false, 0, "")
		}
	}
	pdf.Ln(3)

	widths := []float64{8, 62, 14, 22, 18, 16, 22, 28}
	headers := []string{"#", "Item", "Qty", "Rate", "Disc.", "GST %", "GST", "Amount"}
	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(235, 235, 235)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for i, it := range bill.Items {
		cells := []string{
			fmt.Sprint(i + 1),
			tr(it.ProductName),
			fmt.Sprint(it.Quantity),
			money(it.UnitPrice),
			money(it.Discount),
			it.GSTRate.StringFixed(2),
			money(it.GSTAmount),
			money(it.TotalAmount),
		}
		for j, v := range cells {
			align := "R"
			if j == 1 {
				align = "L"
			}
			pdf.CellFormat(widths[j], 6, v, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}
	pdf.Ln(3)

	totals := []struct {
		label string
		value decimal.Decimal
	}{
		{"Taxable amount", bill.Subtotal},
		{"Discount", bill.DiscountAmount},
		{"GST", bill.GSTAmount},
		{"Total", bill.TotalAmount},
		{"Paid", bill.PaidAmount},
		{"Due", bill.DueAmount},
	}
	for _, t := range totals {
		if t.label == "Total" {
			pdf.SetFont("Arial", "B", 10)
		} else {
			pdf.SetFont("Arial", "", 10)
		}
		pdf.CellFormat(150, 6, t.label, "", 0, "R", false, 0, "")
		pdf.CellFormat(40, 6, money(t.value), "", 1, "R", false, 0, "")
	}

	if bill.GSTEnabled && bill.GSTType == models.GSTInclusive {
		pdf.SetFont("Arial", "I", 8)
		pdf.CellFormat(0, 5, "Prices are inclusive of GST", "", 1, "L", false, 0, "")
	}
	if tenant.InvoiceFooter != "" {
		pdf.Ln(6)
		pdf.SetFont("Arial", "", 9)
		pdf.MultiCell(0, 5, tr(tenant.InvoiceFooter), "", "C", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// GET /api/bills/:id/pdf
func BillPDFHandler() fiber.Handler {
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

		var tenant models.Tenant
		if err := database.DB.First(&tenant, bill.TenantID).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Shop could not be loaded")
		}

		out, err := RenderInvoice(&tenant, bill)
		if err != nil {
			logger.Log.WithError(err).WithField("bill_id", bill.ID).Error("invoice pdf failed")
			return fiber.NewError(fiber.StatusInternalServerError, "Invoice could not be generated")
		}

		c.Set(fiber.HeaderContentType, "application/pdf")
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s_%s.pdf"`, bill.InvoiceNumber, bill.BillDate.Format(query.DateLayout)))
		return c.Send(out)
	}
}
