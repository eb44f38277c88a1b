package grpcx

import (
	"context"

	"github.com/google/uuid"
)

// RequestIDMetadataKey carries the request id over gRPC metadata. It is
// the metadata twin of the X-Request-Id header on the HTTP edge;
// metadata keys are lowercased on the wire.
const RequestIDMetadataKey = "x-request-id"

type ctxKey int

const ctxKeyRequestID ctxKey = iota

func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID).(string)
	return v
}

func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func NewRequestID() string {
	return uuid.NewString()
}
