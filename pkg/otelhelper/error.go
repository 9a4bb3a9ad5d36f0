package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError records err on the span and marks it failed.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("error_occurred", trace.WithAttributes(
		attrs...,
	))
}

// SetFailure marks the span failed with a message when there is no error value, as
// with a step that exhausted its retries.
func SetFailure(span trace.Span, message string) {
	span.SetStatus(codes.Error, message)
	span.AddEvent("failure", trace.WithAttributes(attribute.String("message", message)))
}
