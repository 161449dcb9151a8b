package goMPin

import "context"

type correlationIDContextKey struct{}

// WithCorrelationID attaches an application identifier to ctx. Audit events
// emitted while serving the call carry it, so they can be joined with the
// application's own logs.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDContextKey{}, id)
}

func correlationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationIDContextKey{}).(string)
	return id
}
