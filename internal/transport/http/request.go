package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "licensesrv/internal/errors"
	"licensesrv/internal/middleware"
)

// decodeJSON reads the request body into v. An empty body leaves v
// untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperrors.InvalidRequestWithError(err)
	}
	return nil
}

// actor names the admin for audit logs and events.
func actor(r *http.Request) string {
	if admin, ok := middleware.AdminFromContext(r.Context()); ok {
		return admin.Username
	}
	return ""
}

var tracer = otel.Tracer("license-http")

// startSpan opens the handler span with the attributes every handler sets.
func startSpan(r *http.Request, operation string) (context.Context, trace.Span) {
	return tracer.Start(r.Context(), "http."+operation,
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("request_id", middleware.GetRequestID(r.Context())),
			attribute.String("operation", operation),
		),
	)
}

// endSpan records err on span before ending it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
