package testutil

import (
	"context"
	"time"

	"warden/pkg/requestcontext"
)

// ContextAt returns a background context with the request clock pinned to t.
// Expiry tests use this to step time forward without sleeping.
func ContextAt(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

// ContextWithRequest returns a context carrying the standard request metadata
// a fully middleware-wrapped request would have.
func ContextWithRequest(requestID, clientIP string, now time.Time) context.Context {
	ctx := requestcontext.WithRequestID(context.Background(), requestID)
	ctx = requestcontext.WithClientIP(ctx, clientIP)
	return requestcontext.WithTime(ctx, now)
}
