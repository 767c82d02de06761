// Package correlation tags one job run, and every log line, span and email
// it produces, with a shared id.
package correlation

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

type ctxKey struct{}

// FromContext returns the correlation id, or "" when none is set.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func WithID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// Ensure keeps an inherited id or mints "<job>-<ulid>".
func Ensure(ctx context.Context, job string) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := ulid.Make().String()
	if job = strings.ToLower(strings.TrimSpace(job)); job != "" {
		id = job + "-" + id
	}
	return WithID(ctx, id), id
}
