package api

import "context"

// callerContextKey is the context key for the calling platform user.
type callerContextKey struct{}

// WithCallerID returns a new context carrying the caller's user ID.
func WithCallerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callerContextKey{}, id)
}

// CallerIDFromContext returns the caller's user ID, or "" when absent.
func CallerIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(callerContextKey{}).(string)
	return id
}
