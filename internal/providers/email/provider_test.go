package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"net/smtp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNormalizeDropsBlankAndDuplicateRecipients(t *testing.T) {
	msg, err := normalize(Message{
		To: []string{" admin@clinic.test ", "", "admin@clinic.test", "owner@clinic.test"},
		Cc: []string{"owner@clinic.test", "billing@clinic.test", " "},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"admin@clinic.test", "owner@clinic.test"}, msg.To)
	assert.Equal(t, []string{"billing@clinic.test"}, msg.Cc)

	_, err = normalize(Message{To: []string{" "}})
	require.ErrorIs(t, err, ErrNoRecipients)
}

func TestResendSendsJSONPayload(t *testing.T) {
	var got resendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer re_test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"email_1"}`))
	}))
	defer server.Close()

	provider := NewResend(ResendConfig{APIKey: "re_test", BaseURL: server.URL + "/", From: "Billing <billing@cb.test>"}, zaptest.NewLogger(t))
	err := provider.Send(context.Background(), Message{
		To:      []string{"admin@clinic.test"},
		Cc:      []string{"clinic@clinic.test"},
		Subject: "Invoice",
		HTML:    "<p>hi</p>",
	})
	require.NoError(t, err)
	assert.Equal(t, "Billing <billing@cb.test>", got.From)
	assert.Equal(t, []string{"admin@clinic.test"}, got.To)
	assert.Equal(t, []string{"clinic@clinic.test"}, got.Cc)
	assert.Equal(t, "<p>hi</p>", got.HTML)
}

func TestResendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	provider := NewResend(ResendConfig{APIKey: "k", BaseURL: server.URL, RetryMax: 2}, zaptest.NewLogger(t))
	provider.client.RetryWaitMin = time.Millisecond
	provider.client.RetryWaitMax = time.Millisecond

	require.NoError(t, provider.Send(context.Background(), Message{To: []string{"a@b.test"}, Subject: "s", HTML: "h"}))
	assert.EqualValues(t, 2, calls.Load())
}

func TestResendReportsClientErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"invalid from"}`))
	}))
	defer server.Close()

	provider := NewResend(ResendConfig{APIKey: "k", BaseURL: server.URL}, zaptest.NewLogger(t))
	err := provider.Send(context.Background(), Message{To: []string{"a@b.test"}, Subject: "s", HTML: "h"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 422")
}

func TestSMTPBuildsCcHeaders(t *testing.T) {
	provider := NewSMTP(SMTPConfig{Host: "mail.test", Port: 2525, From: "Billing <billing@cb.test>"})

	var (
		gotAddr string
		gotFrom string
		gotTo   []string
		gotMsg  string
	)
	provider.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
		return nil
	}

	err := provider.Send(context.Background(), Message{
		To:      []string{"admin@clinic.test"},
		Cc:      []string{"clinic@clinic.test"},
		Subject: "Service suspended",
		HTML:    "<p>body</p>",
	})
	require.NoError(t, err)
	assert.Equal(t, "mail.test:2525", gotAddr)
	assert.Equal(t, "billing@cb.test", gotFrom)
	assert.Equal(t, []string{"admin@clinic.test", "clinic@clinic.test"}, gotTo)
	assert.True(t, strings.Contains(gotMsg, "Cc: clinic@clinic.test\r\n"))
	assert.True(t, strings.HasSuffix(gotMsg, "<p>body</p>"))
}

func TestSMTPHonorsContext(t *testing.T) {
	provider := NewSMTP(SMTPConfig{Host: "mail.test", Port: 25})
	release := make(chan struct{})
	defer close(release)
	provider.send = func(string, smtp.Auth, string, []string, []byte) error {
		<-release
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := provider.Send(ctx, Message{To: []string{"a@b.test"}})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSMTPEncodesAttachments(t *testing.T) {
	pdf := []byte(strings.Repeat("%PDF-1.4 invoice ", 20))
	raw := buildMIME(Message{
		From:    "billing@cb.test",
		To:      []string{"admin@clinic.test"},
		Subject: "Invoice",
		HTML:    "<p>see attached</p>",
		Attachments: []Attachment{
			{Filename: "invoice-03-26.pdf", ContentType: "application/pdf", Content: pdf},
		},
	})

	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)
	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/mixed", mediaType)

	reader := multipart.NewReader(parsed.Body, params["boundary"])
	body, err := reader.NextPart()
	require.NoError(t, err)
	html, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "<p>see attached</p>", string(html))

	att, err := reader.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "invoice-03-26.pdf", att.FileName())
	assert.Equal(t, "application/pdf", att.Header.Get("Content-Type"))
	encoded, err := io.ReadAll(att)
	require.NoError(t, err)
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(string(encoded), "\r\n", ""))
	require.NoError(t, err)
	assert.Equal(t, pdf, decoded)

	_, err = reader.NextPart()
	assert.ErrorIs(t, err, io.EOF)
}

func TestResendEncodesAttachments(t *testing.T) {
	var got resendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	provider := NewResend(ResendConfig{APIKey: "re_test", BaseURL: server.URL}, zaptest.NewLogger(t))
	err := provider.Send(context.Background(), Message{
		From:    "billing@cb.test",
		To:      []string{"admin@clinic.test"},
		Subject: "Invoice",
		HTML:    "<p>hi</p>",
		Attachments: []Attachment{
			{Filename: "invoice.pdf", ContentType: "application/pdf", Content: []byte("%PDF")},
		},
	})
	require.NoError(t, err)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "invoice.pdf", got.Attachments[0].Filename)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("%PDF")), got.Attachments[0].Content)
}
