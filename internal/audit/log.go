// Package audit emits structured records for money-moving and identity
// actions. Records go through the shared logger with type=audit so they can
// be filtered out of the regular request noise downstream.
package audit

import (
	"context"
	"log/slog"
	"strings"

	"modmarket.org/internal/auth"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Log writes an audit record enriched with request and principal context.
// A blank event name is dropped silently; audit must never fail a request.
func Log(ctx context.Context, log *slog.Logger, event string, fields map[string]any) {
	event = strings.TrimSpace(event)
	if event == "" || log == nil {
		return
	}
	attrs := []any{
		slog.String("type", "audit"),
		slog.String("event", event),
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if principal, ok := auth.PrincipalFromContext(ctx); ok {
		attrs = append(attrs,
			slog.String("actor", principal.Login),
			slog.Int64("actor_id", principal.UserID),
		)
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	log.Info(event, attrs...)
}
