// Package tracing exposes named OpenTelemetry tracers. Without an SDK
// installed by the host process the returned tracers are no-ops.
package tracing

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
