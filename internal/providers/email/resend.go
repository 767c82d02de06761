package email

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const defaultResendBaseURL = "https://api.resend.com"

type ResendConfig struct {
	APIKey   string
	BaseURL  string
	From     string
	RetryMax int
}

// ResendProvider sends mail through the Resend HTTP API.
type ResendProvider struct {
	cfg    ResendConfig
	client *retryablehttp.Client
}

func NewResend(cfg ResendConfig, log *zap.Logger) *ResendProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultResendBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if log == nil {
		log = zap.NewNop()
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = leveledLogger{log: log.Named("email.resend").Sugar()}
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &ResendProvider{cfg: cfg, client: client}
}

func (p *ResendProvider) Name() string { return "resend" }

type resendRequest struct {
	From        string             `json:"from"`
	To          []string           `json:"to"`
	Cc          []string           `json:"cc,omitempty"`
	Subject     string             `json:"subject"`
	HTML        string             `json:"html"`
	Attachments []resendAttachment `json:"attachments,omitempty"`
}

type resendAttachment struct {
	Filename    string `json:"filename"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
}

func (p *ResendProvider) Send(ctx context.Context, msg Message) error {
	msg, err := normalize(msg)
	if err != nil {
		return err
	}
	if msg.From == "" {
		msg.From = p.cfg.From
	}

	attachments := lo.Map(msg.Attachments, func(att Attachment, _ int) resendAttachment {
		return resendAttachment{
			Filename:    att.Filename,
			Content:     base64.StdEncoding.EncodeToString(att.Content),
			ContentType: att.ContentType,
		}
	})
	body, err := json.Marshal(resendRequest{
		From:        msg.From,
		To:          msg.To,
		Cc:          msg.Cc,
		Subject:     msg.Subject,
		HTML:        msg.HTML,
		Attachments: attachments,
	})
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/emails", body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("resend: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type leveledLogger struct {
	log *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Infow(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warnw(msg, keysAndValues...)
}
