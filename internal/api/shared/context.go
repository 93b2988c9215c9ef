package shared

import (
	"context"

	"github.com/go-chi/chi/v5/middleware"
)

// contextKey is a private type for context keys defined in this package.
type contextKey string

// SubjectContextKey carries the authenticated caller's subject (operator or
// service identity) through the request context.
const SubjectContextKey contextKey = "auth_subject"

// GetTraceID returns the chi request ID for log correlation, or "" if absent.
func GetTraceID(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}

// Subject returns the authenticated subject from the context, or "".
func Subject(ctx context.Context) string {
	subject, _ := ctx.Value(SubjectContextKey).(string)
	return subject
}

// WithSubject returns a context carrying the authenticated subject.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, SubjectContextKey, subject)
}
