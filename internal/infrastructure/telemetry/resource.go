// Package telemetry wires OpenTelemetry traces, metrics and logs, database
// instrumentation and Pyroscope profiling for the ingestion services.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.uber.org/zap"
)

const (
	defaultServiceVersion = "dev"
	shutdownTimeout       = 10 * time.Second
)

// newServiceResource describes the running service to every exporter
func newServiceResource(serviceName, serviceVersion string) (*resource.Resource, error) {
	if serviceVersion == "" {
		serviceVersion = defaultServiceVersion
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// shutdownWithTimeout flushes and stops a provider, bounded by shutdownTimeout
func shutdownWithTimeout(ctx context.Context, logger *zap.Logger, signal string, shutdown func(context.Context) error) error {
	logger.Info("Shutting down OpenTelemetry provider", zap.String("signal", signal))

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down provider", zap.String("signal", signal), zap.Error(err))
		return fmt.Errorf("failed to shutdown %s provider: %w", signal, err)
	}
	return nil
}
