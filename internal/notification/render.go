package notification

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/clinicbilling/internal/invoice/domain"
	"github.com/smallbiznis/clinicbilling/internal/providers/pdf"
)

//go:embed templates/*.html
var templateFS embed.FS

type renderer struct {
	tpl *template.Template
}

func newRenderer() *renderer {
	funcs := template.FuncMap{
		"money": formatMoney,
		"date":  formatDate,
	}
	return &renderer{
		tpl: template.Must(template.New("notification").Funcs(funcs).ParseFS(templateFS, "templates/*.html")),
	}
}

func (r *renderer) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.tpl.ExecuteTemplate(&buf, name+".html", data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

type invoiceView struct {
	ClinicName  string
	Period      string
	Reference   string
	Description string
	Amount      decimal.Decimal
	BasePrice   decimal.Decimal
	SeatTotal   decimal.Decimal
	ExtraSeats  int
	Currency    string
	ExpiresTo   time.Time
}

func newInvoiceView(clinic string, inv invoicedomain.Invoice) invoiceView {
	base := inv.Amount
	if raw, ok := inv.Metadata["base_price"].(string); ok {
		if parsed, err := decimal.NewFromString(raw); err == nil {
			base = parsed
		}
	}
	return invoiceView{
		ClinicName:  clinic,
		Period:      inv.Period,
		Reference:   inv.ExternalReference,
		Description: inv.Description,
		Amount:      inv.Amount,
		BasePrice:   base,
		SeatTotal:   inv.Amount.Sub(base),
		ExtraSeats:  max(inv.Seats-1, 0),
		Currency:    inv.Currency,
		ExpiresTo:   inv.ExpiresTo,
	}
}

type riskView struct {
	invoiceView
	UnpaidCount int
	GraceDays   int
}

type suspensionView struct {
	ClinicName  string
	Invoices    []invoicedomain.Invoice
	TotalDue    decimal.Decimal
	Currency    string
	DaysOverdue int
	SuspendedAt time.Time
}

func newSuspensionView(notice SuspensionNotice) suspensionView {
	total := lo.Reduce(notice.Invoices, func(acc decimal.Decimal, inv invoicedomain.Invoice, _ int) decimal.Decimal {
		return acc.Add(inv.Amount)
	}, decimal.Zero)
	currency := ""
	if len(notice.Invoices) > 0 {
		currency = notice.Invoices[0].Currency
	}
	return suspensionView{
		ClinicName:  notice.Tenant.Name,
		Invoices:    notice.Invoices,
		TotalDue:    total,
		Currency:    currency,
		DaysOverdue: notice.DaysOverdue,
		SuspendedAt: notice.SuspendedAt,
	}
}

func formatMoney(amount decimal.Decimal, currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}
	return currency + " " + amount.StringFixed(2)
}

func formatDate(value time.Time) string {
	if value.IsZero() {
		return "-"
	}
	return value.UTC().Format("2006-01-02")
}

func newInvoiceDocument(issuer string, notice InvoiceNotice, view invoiceView) pdf.InvoiceDocument {
	lines := []pdf.Line{{
		Description: "Base plan (1 seat)",
		Qty:         1,
		UnitPrice:   formatMoney(view.BasePrice, view.Currency),
		Amount:      formatMoney(view.BasePrice, view.Currency),
	}}
	if view.ExtraSeats > 0 {
		unit := view.SeatTotal.Div(decimal.NewFromInt(int64(view.ExtraSeats)))
		lines = append(lines, pdf.Line{
			Description: "Additional seats",
			Qty:         view.ExtraSeats,
			UnitPrice:   formatMoney(unit, view.Currency),
			Amount:      formatMoney(view.SeatTotal, view.Currency),
		})
	}
	return pdf.InvoiceDocument{
		IssuerName:    issuer,
		Reference:     view.Reference,
		IssueDate:     formatDate(notice.Invoice.CreatedAt),
		DueDate:       formatDate(view.ExpiresTo),
		ServicePeriod: view.Period,
		BillToName:    view.ClinicName,
		BillToEmail:   notice.Tenant.Email,
		Lines:         lines,
		Total:         formatMoney(view.Amount, view.Currency),
	}
}

// invoiceFilename turns period "03/26" into "invoice-03-26.pdf".
func invoiceFilename(inv invoicedomain.Invoice) string {
	return "invoice-" + strings.ReplaceAll(inv.Period, "/", "-") + ".pdf"
}
