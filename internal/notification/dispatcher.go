package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/clinicbilling/internal/config"
	"github.com/smallbiznis/clinicbilling/internal/lock"
	"github.com/smallbiznis/clinicbilling/internal/observability/metrics"
	"github.com/smallbiznis/clinicbilling/internal/providers/email"
	"github.com/smallbiznis/clinicbilling/internal/providers/pdf"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultSendTimeout = 15 * time.Second

type Params struct {
	fx.In

	Config   config.Config
	Log      *zap.Logger
	Provider email.Provider
	Metrics  *metrics.Metrics `optional:"true"`
	Guard    *lock.Guard      `optional:"true"`
	PDF      pdf.Renderer     `optional:"true"`
}

// EmailDispatcher renders notices with embedded templates and hands them to
// the configured email provider.
type EmailDispatcher struct {
	log      *zap.Logger
	provider email.Provider
	renderer *renderer
	metrics  *metrics.Metrics
	jobs     *metrics.JobMetrics
	guard    *lock.Guard
	pdf      pdf.Renderer

	billingFrom      string
	notificationFrom string
	timeout          time.Duration
}

func New(p Params) Dispatcher {
	return NewEmailDispatcher(p)
}

func NewEmailDispatcher(p Params) *EmailDispatcher {
	timeout := p.Config.Scheduler.NotificationTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	renderer := p.PDF
	if !p.Config.Email.AttachInvoicePDF {
		renderer = nil
	}
	return &EmailDispatcher{
		log:              p.Log.Named("notification"),
		provider:         p.Provider,
		renderer:         newRenderer(),
		metrics:          p.Metrics,
		jobs:             metrics.Jobs(),
		guard:            p.Guard,
		pdf:              renderer,
		billingFrom:      p.Config.Email.BillingFrom,
		notificationFrom: p.Config.Email.NotificationFrom,
		timeout:          timeout,
	}
}

// SendInvoiceNotice mails the invoice to the primary contact with the
// clinic billing email in copy. A PDF copy is attached when rendering succeeds.
func (d *EmailDispatcher) SendInvoiceNotice(ctx context.Context, notice InvoiceNotice) error {
	view := newInvoiceView(notice.Tenant.Name, notice.Invoice)
	html, err := d.renderer.render(KindInvoice, view)
	if err != nil {
		return d.fail(KindInvoice, err)
	}
	fields := []zap.Field{
		zap.String("tenant_id", notice.Tenant.ID.String()),
		zap.String("invoice_id", notice.Invoice.ID.String()),
	}
	return d.send(ctx, KindInvoice, email.Message{
		From:        d.billingFrom,
		To:          []string{notice.Tenant.PrimaryContact()},
		Cc:          []string{notice.Tenant.Email},
		Subject:     fmt.Sprintf("Invoice for period %s", notice.Invoice.Period),
		HTML:        html,
		Attachments: d.invoiceAttachments(ctx, notice, view, fields),
	}, fields...)
}

func (d *EmailDispatcher) invoiceAttachments(ctx context.Context, notice InvoiceNotice, view invoiceView, fields []zap.Field) []email.Attachment {
	if d.pdf == nil {
		return nil
	}
	content, err := d.pdf.RenderInvoice(ctx, newInvoiceDocument(d.billingFrom, notice, view))
	if err != nil {
		d.log.Warn("notification.pdf_failed", append(fields, zap.Error(err))...)
		return nil
	}
	return []email.Attachment{{
		Filename:    invoiceFilename(notice.Invoice),
		ContentType: pdf.ContentType,
		Content:     content,
	}}
}

func (d *EmailDispatcher) SendRiskNotice(ctx context.Context, notice RiskNotice) error {
	html, err := d.renderer.render(KindRisk, riskView{
		invoiceView: newInvoiceView(notice.Tenant.Name, notice.Invoice),
		UnpaidCount: notice.UnpaidCount,
		GraceDays:   notice.GraceDays,
	})
	if err != nil {
		return d.fail(KindRisk, err)
	}
	return d.send(ctx, KindRisk, email.Message{
		From:    d.notificationFrom,
		To:      recipients(notice.Tenant.AdminEmails(), notice.Tenant.Email),
		Subject: "Action required: unpaid invoices",
		HTML:    html,
	}, zap.String("tenant_id", notice.Tenant.ID.String()), zap.Int("unpaid_count", notice.UnpaidCount))
}

// SendSuspensionNotice mails every distinct admin, or the clinic email when
// the tenant has no admins.
func (d *EmailDispatcher) SendSuspensionNotice(ctx context.Context, notice SuspensionNotice) error {
	html, err := d.renderer.render(KindSuspension, newSuspensionView(notice))
	if err != nil {
		return d.fail(KindSuspension, err)
	}
	return d.send(ctx, KindSuspension, email.Message{
		From:    d.notificationFrom,
		To:      recipients(notice.Tenant.AdminEmails(), notice.Tenant.Email),
		Subject: "Temporary service suspension",
		HTML:    html,
	}, zap.String("tenant_id", notice.Tenant.ID.String()), zap.Int("days_overdue", notice.DaysOverdue))
}

func (d *EmailDispatcher) send(ctx context.Context, kind string, msg email.Message, fields ...zap.Field) error {
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	fields = append(fields, zap.String("kind", kind), zap.String("provider", d.provider.Name()))
	err := d.guard.WaitEmail(sendCtx, d.provider.Name())
	if err != nil && sendCtx.Err() == nil {
		d.log.Warn("notification.throttle_unavailable", append(fields, zap.Error(err))...)
		err = nil
	}
	if err == nil {
		err = d.provider.Send(sendCtx, msg)
	}
	d.jobs.IncNotification(kind, err)
	if err != nil {
		d.log.Warn("notification.failed", append(fields, zap.Error(err))...)
		return fmt.Errorf("%w: %s: %w", ErrNotificationFailed, kind, err)
	}
	d.metrics.RecordNotification(ctx, kind, d.provider.Name())
	d.log.Info("notification.sent", append(fields, zap.Int("recipients", len(msg.To)+len(msg.Cc)))...)
	return nil
}

func (d *EmailDispatcher) fail(kind string, err error) error {
	d.jobs.IncNotification(kind, err)
	d.log.Error("notification.render_failed", zap.String("kind", kind), zap.Error(err))
	return fmt.Errorf("%w: %s: %w", ErrNotificationFailed, kind, err)
}

func recipients(admins []string, fallback string) []string {
	if len(admins) > 0 {
		return admins
	}
	return []string{fallback}
}
