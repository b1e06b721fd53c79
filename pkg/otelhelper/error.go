package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks span as failed.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("error_occurred", trace.WithAttributes(attrs...))
}

// SetSkipped records a soft rejection. The span status stays unset because a skip is not a failure.
func SetSkipped(span trace.Span, code, reason string) {
	span.SetAttributes(attribute.String(SkipCodeKey, code))
	span.AddEvent("skipped", trace.WithAttributes(attribute.String("reason", reason)))
}
