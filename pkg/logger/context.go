package logger

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

func NewContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// With stores a logger in ctx that adds fields to whatever ctx already logs with.
func With(ctx context.Context, fields ...any) context.Context {
	return NewContext(ctx, From(ctx).With(fields...))
}

// WithPayment tags the request logger with the payment being worked on. Empty
// values are left out.
func WithPayment(ctx context.Context, paymentID, gateway string) context.Context {
	fields := make([]any, 0, 4)
	if paymentID != "" {
		fields = append(fields, "payment_id", paymentID)
	}
	if gateway != "" {
		fields = append(fields, "gateway", gateway)
	}
	if len(fields) == 0 {
		return ctx
	}
	return With(ctx, fields...)
}

// From returns the request logger, or the process logger outside a request.
func From(ctx context.Context) *slog.Logger {
	return FromOr(ctx, nil)
}

// FromOr returns the request logger, falling back to fallback and then to the
// process logger.
func FromOr(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return LoggerWrapper()
}
