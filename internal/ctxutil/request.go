// Package ctxutil carries request-scoped values through context.Context.
// It has no internal dependencies so any package can import it.
package ctxutil

import (
	"context"

	"go.uber.org/zap"
)

type requestKey struct{}

// Request describes the inbound webhook call currently being handled.
type Request struct {
	ID       string
	Provider string
	ClientIP string
}

func WithRequest(ctx context.Context, r Request) context.Context {
	return context.WithValue(ctx, requestKey{}, r)
}

// RequestFrom returns the request info, or the zero value outside a webhook call.
func RequestFrom(ctx context.Context) Request {
	if v, ok := ctx.Value(requestKey{}).(Request); ok {
		return v
	}
	return Request{}
}

// RequestID returns nil outside a webhook call so it can be stored as a nullable column.
func RequestID(ctx context.Context) *string {
	r := RequestFrom(ctx)
	if r.ID == "" {
		return nil
	}
	return &r.ID
}

// Fields returns the zap fields describing the request in ctx.
func Fields(ctx context.Context) []zap.Field {
	r := RequestFrom(ctx)
	if r.ID == "" {
		return nil
	}
	return []zap.Field{
		zap.String("request_id", r.ID),
		zap.String("provider", r.Provider),
		zap.String("client_ip", r.ClientIP),
	}
}

// Logger returns log annotated with the request fields in ctx.
func Logger(ctx context.Context, log *zap.Logger) *zap.Logger {
	if f := Fields(ctx); len(f) > 0 {
		return log.With(f...)
	}
	return log
}
