package auth

import (
	"context"
)

type contextKey string

const callerKey contextKey = "caller"

// Caller identifies the principal submitting a mutation. Admin callers may
// touch protected fields; everyone else has them silently reverted.
type Caller struct {
	Name  string
	Admin bool
}

// ContextWithCaller returns a new context that carries the authenticated caller.
func ContextWithCaller(ctx context.Context, caller Caller) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFromContext retrieves the authenticated caller from the context, if any.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	if ctx == nil {
		return Caller{}, false
	}
	value := ctx.Value(callerKey)
	if value == nil {
		return Caller{}, false
	}
	caller, ok := value.(Caller)
	if !ok || caller.Name == "" {
		return Caller{}, false
	}
	return caller, true
}
