// Package email delivers transactional HTML email through a configured provider.
package email

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/lo"
)

// Message is one outbound email.
type Message struct {
	From        string
	To          []string
	Cc          []string
	Subject     string
	HTML        string
	Attachments []Attachment
}

type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

var ErrNoRecipients = errors.New("no_recipients")

// normalize trims addresses, drops blanks and removes cc entries already in To.
func normalize(msg Message) (Message, error) {
	clean := func(list []string) []string {
		out := lo.FilterMap(list, func(addr string, _ int) (string, bool) {
			addr = strings.TrimSpace(addr)
			return addr, addr != ""
		})
		return lo.Uniq(out)
	}
	msg.To = clean(msg.To)
	if len(msg.To) == 0 {
		return msg, ErrNoRecipients
	}
	msg.Cc = lo.Without(clean(msg.Cc), msg.To...)
	return msg, nil
}

type NoOpProvider struct{}

func (p *NoOpProvider) Name() string { return "noop" }

func (p *NoOpProvider) Send(ctx context.Context, msg Message) error {
	_, err := normalize(msg)
	return err
}
