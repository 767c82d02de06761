package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clinicbilling/internal/config"
	invoicedomain "github.com/smallbiznis/clinicbilling/internal/invoice/domain"
	"github.com/smallbiznis/clinicbilling/internal/providers/email"
	"github.com/smallbiznis/clinicbilling/internal/providers/pdf"
	tenantdomain "github.com/smallbiznis/clinicbilling/internal/tenant/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/datatypes"
)

type recordingProvider struct {
	mu   sync.Mutex
	sent []email.Message
	err  error
	wait bool
}

func (p *recordingProvider) Name() string { return "recording" }

func (p *recordingProvider) Send(ctx context.Context, msg email.Message) error {
	if p.wait {
		<-ctx.Done()
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, msg)
	return nil
}

func newTestDispatcher(t *testing.T, provider email.Provider) *EmailDispatcher {
	t.Helper()
	cfg := config.Config{
		Email: config.EmailConfig{
			BillingFrom:      "Billing <billing@cb.test>",
			NotificationFrom: "Alerts <alerts@cb.test>",
		},
		Scheduler: config.SchedulerConfig{NotificationTimeout: 20 * time.Millisecond},
	}
	return NewEmailDispatcher(Params{Config: cfg, Log: zaptest.NewLogger(t), Provider: provider})
}

func sampleTenant() tenantdomain.Tenant {
	return tenantdomain.Tenant{
		ID:    1001,
		Name:  "Clinica Norte",
		Email: "contact@norte.test",
		Seats: 4,
		Admins: []tenantdomain.Admin{
			{Name: "Ana", Email: "ana@norte.test"},
			{Name: "Luis", Email: "luis@norte.test"},
			{Name: "Ana (dup)", Email: "ana@norte.test"},
		},
	}
}

func sampleInvoice() invoicedomain.Invoice {
	return invoicedomain.Invoice{
		ID:                2002,
		TenantID:          1001,
		Period:            "03/26",
		Amount:            decimal.NewFromInt(1400),
		Currency:          "USD",
		Seats:             4,
		Description:       "Monthly invoice - Clinica Norte (03/26)",
		ExternalReference: "CB-1001-202603-001",
		ExpiresTo:         time.Date(2026, time.April, 15, 0, 0, 0, 0, time.UTC),
		Metadata:          datatypes.JSONMap{"base_price": "800.00"},
	}
}

func TestSendInvoiceNotice(t *testing.T) {
	provider := &recordingProvider{}
	d := newTestDispatcher(t, provider)

	require.NoError(t, d.SendInvoiceNotice(context.Background(), InvoiceNotice{Tenant: sampleTenant(), Invoice: sampleInvoice()}))
	require.Len(t, provider.sent, 1)

	msg := provider.sent[0]
	assert.Equal(t, "Billing <billing@cb.test>", msg.From)
	assert.Equal(t, []string{"ana@norte.test"}, msg.To)
	assert.Equal(t, []string{"contact@norte.test"}, msg.Cc)
	assert.Equal(t, "Invoice for period 03/26", msg.Subject)
	assert.Contains(t, msg.HTML, "USD 1400.00")
	assert.Contains(t, msg.HTML, "USD 600.00")
	assert.Contains(t, msg.HTML, "CB-1001-202603-001")
	assert.Contains(t, msg.HTML, "2026-04-15")
}

func TestSendInvoiceNoticeWithoutAdmins(t *testing.T) {
	provider := &recordingProvider{}
	d := newTestDispatcher(t, provider)

	tenant := sampleTenant()
	tenant.Admins = nil
	require.NoError(t, d.SendInvoiceNotice(context.Background(), InvoiceNotice{Tenant: tenant, Invoice: sampleInvoice()}))
	assert.Equal(t, []string{"contact@norte.test"}, provider.sent[0].To)
}

func TestSendRiskNotice(t *testing.T) {
	provider := &recordingProvider{}
	d := newTestDispatcher(t, provider)

	err := d.SendRiskNotice(context.Background(), RiskNotice{
		Tenant:      sampleTenant(),
		Invoice:     sampleInvoice(),
		UnpaidCount: 2,
		GraceDays:   5,
	})
	require.NoError(t, err)
	msg := provider.sent[0]
	assert.Equal(t, []string{"ana@norte.test", "luis@norte.test"}, msg.To)
	assert.Contains(t, msg.HTML, "more than 5 days")
	assert.Contains(t, msg.HTML, "2 unpaid invoices")
}

func TestSendSuspensionNoticeDeduplicatesAdmins(t *testing.T) {
	provider := &recordingProvider{}
	d := newTestDispatcher(t, provider)

	first := sampleInvoice()
	first.Period = "02/26"
	first.Amount = decimal.NewFromInt(800)
	second := sampleInvoice()

	err := d.SendSuspensionNotice(context.Background(), SuspensionNotice{
		Tenant:      sampleTenant(),
		Invoices:    []invoicedomain.Invoice{first, second},
		DaysOverdue: 10,
		SuspendedAt: time.Date(2026, time.March, 20, 6, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	msg := provider.sent[0]
	assert.Equal(t, "Alerts <alerts@cb.test>", msg.From)
	assert.Equal(t, []string{"ana@norte.test", "luis@norte.test"}, msg.To)
	assert.Equal(t, "Temporary service suspension", msg.Subject)
	assert.Contains(t, msg.HTML, "USD 2200.00")
	assert.Contains(t, msg.HTML, "overdue by 10 days")
	assert.Contains(t, msg.HTML, "2026-03-20")
}

func TestSendSuspensionNoticeFallsBackToTenantEmail(t *testing.T) {
	provider := &recordingProvider{}
	d := newTestDispatcher(t, provider)

	tenant := sampleTenant()
	tenant.Admins = []tenantdomain.Admin{{Name: "No mail", Email: " "}}
	require.NoError(t, d.SendSuspensionNotice(context.Background(), SuspensionNotice{Tenant: tenant}))
	assert.Equal(t, []string{"contact@norte.test"}, provider.sent[0].To)
}

func TestSendWrapsProviderErrors(t *testing.T) {
	providerErr := errors.New("smtp: 550 mailbox unavailable")
	d := newTestDispatcher(t, &recordingProvider{err: providerErr})

	err := d.SendInvoiceNotice(context.Background(), InvoiceNotice{Tenant: sampleTenant(), Invoice: sampleInvoice()})
	require.ErrorIs(t, err, ErrNotificationFailed)
	require.ErrorIs(t, err, providerErr)
}

func TestSendTimesOut(t *testing.T) {
	d := newTestDispatcher(t, &recordingProvider{wait: true})

	err := d.SendInvoiceNotice(context.Background(), InvoiceNotice{Tenant: sampleTenant(), Invoice: sampleInvoice()})
	require.ErrorIs(t, err, ErrNotificationFailed)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type stubRenderer struct {
	got pdf.InvoiceDocument
	err error
}

func (r *stubRenderer) RenderInvoice(_ context.Context, doc pdf.InvoiceDocument) ([]byte, error) {
	r.got = doc
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF-1.4"), nil
}

func newPDFDispatcher(t *testing.T, provider email.Provider, renderer pdf.Renderer, attach bool) *EmailDispatcher {
	t.Helper()
	cfg := config.Config{
		Email: config.EmailConfig{
			BillingFrom:      "Billing <billing@cb.test>",
			AttachInvoicePDF: attach,
		},
	}
	return NewEmailDispatcher(Params{Config: cfg, Log: zaptest.NewLogger(t), Provider: provider, PDF: renderer})
}

func TestSendInvoiceNoticeAttachesPDF(t *testing.T) {
	provider := &recordingProvider{}
	renderer := &stubRenderer{}
	d := newPDFDispatcher(t, provider, renderer, true)

	require.NoError(t, d.SendInvoiceNotice(context.Background(), InvoiceNotice{Tenant: sampleTenant(), Invoice: sampleInvoice()}))

	require.Len(t, provider.sent, 1)
	require.Len(t, provider.sent[0].Attachments, 1)
	att := provider.sent[0].Attachments[0]
	assert.Equal(t, "invoice-03-26.pdf", att.Filename)
	assert.Equal(t, pdf.ContentType, att.ContentType)
	assert.Equal(t, []byte("%PDF-1.4"), att.Content)

	assert.Equal(t, "CB-1001-202603-001", renderer.got.Reference)
	assert.Equal(t, "USD 1400.00", renderer.got.Total)
	require.Len(t, renderer.got.Lines, 2)
	assert.Equal(t, 3, renderer.got.Lines[1].Qty)
	assert.Equal(t, "USD 200.00", renderer.got.Lines[1].UnitPrice)
}

func TestSendInvoiceNoticeWithoutPDFWhenRenderFails(t *testing.T) {
	provider := &recordingProvider{}
	d := newPDFDispatcher(t, provider, &stubRenderer{err: errors.New("font missing")}, true)

	require.NoError(t, d.SendInvoiceNotice(context.Background(), InvoiceNotice{Tenant: sampleTenant(), Invoice: sampleInvoice()}))
	require.Len(t, provider.sent, 1)
	assert.Empty(t, provider.sent[0].Attachments)
}

func TestSendInvoiceNoticeSkipsPDFWhenDisabled(t *testing.T) {
	provider := &recordingProvider{}
	renderer := &stubRenderer{}
	d := newPDFDispatcher(t, provider, renderer, false)

	require.NoError(t, d.SendInvoiceNotice(context.Background(), InvoiceNotice{Tenant: sampleTenant(), Invoice: sampleInvoice()}))
	require.Len(t, provider.sent, 1)
	assert.Empty(t, provider.sent[0].Attachments)
	assert.Empty(t, renderer.got.Reference)
}
