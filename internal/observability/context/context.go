package context

import (
	stdcontext "context"
	"strings"
)

type tenantIDKey struct{}
type actorKey struct{}
type runIDKey struct{}

type actor struct {
	typ string
	id  string
}

func WithTenantID(ctx stdcontext.Context, tenantID string) stdcontext.Context {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return ctx
	}
	return stdcontext.WithValue(ctx, tenantIDKey{}, tenantID)
}

func TenantIDFromContext(ctx stdcontext.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(tenantIDKey{}).(string); ok {
		return v
	}
	return ""
}

func WithActor(ctx stdcontext.Context, actorType, actorID string) stdcontext.Context {
	return stdcontext.WithValue(ctx, actorKey{}, actor{
		typ: strings.TrimSpace(actorType),
		id:  strings.TrimSpace(actorID),
	})
}

func ActorFromContext(ctx stdcontext.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	if v, ok := ctx.Value(actorKey{}).(actor); ok {
		return v.typ, v.id
	}
	return "", ""
}

func WithRunID(ctx stdcontext.Context, runID string) stdcontext.Context {
	if runID == "" {
		return ctx
	}
	return stdcontext.WithValue(ctx, runIDKey{}, runID)
}

func RunIDFromContext(ctx stdcontext.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(runIDKey{}).(string); ok {
		return v
	}
	return ""
}
