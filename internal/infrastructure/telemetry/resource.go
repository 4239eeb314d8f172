// Package telemetry wires OpenTelemetry traces, metrics and logs, Pyroscope
// profiling and GORM instrumentation for the sync service.
package telemetry

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// shutdownTimeout bounds flushing a provider on exit
const shutdownTimeout = 10 * time.Second

// Resource identifies this process in every exported signal
type Resource struct {
	ServiceName    string
	ServiceVersion string
}

func (r Resource) build() (*resource.Resource, error) {
	version := r.ServiceVersion
	if version == "" {
		version = "dev"
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(r.ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}
