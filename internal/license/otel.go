package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	apperrors "licensesrv/internal/errors"
)

const (
	TracerName = "license-store"
	MeterName  = "license-store"
)

// Metrics holds the store's OpenTelemetry instruments.
type Metrics struct {
	Operations        metric.Int64Counter
	OperationDuration metric.Float64Histogram
	Validations       metric.Int64Counter
	BackendSwaps      metric.Int64Counter
}

// InitializeMetrics creates the store instruments on meter. A nil meter
// uses the global provider.
func InitializeMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(MeterName)
	}
	m := &Metrics{}

	var err error
	m.Operations, err = meter.Int64Counter(
		"license_store_operations_total",
		metric.WithDescription("License store operations by operation, backend and result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operations counter: %w", err)
	}

	m.OperationDuration, err = meter.Float64Histogram(
		"license_store_operation_duration_seconds",
		metric.WithDescription("License store operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation duration histogram: %w", err)
	}

	m.Validations, err = meter.Int64Counter(
		"license_validations_total",
		metric.WithDescription("License validation outcomes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validations counter: %w", err)
	}

	m.BackendSwaps, err = meter.Int64Counter(
		"license_backend_swaps_total",
		metric.WithDescription("Number of storage backend reconfigurations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend swaps counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) recordOperation(ctx context.Context, op, backend string, err error, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("backend", backend),
		attribute.String("result", resultLabel(err)),
	)
	m.Operations.Add(ctx, 1, attrs)
	m.OperationDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) recordValidation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.Validations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) recordSwap(ctx context.Context, backend string) {
	if m == nil {
		return
	}
	m.BackendSwaps.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperrors.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperrors.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, apperrors.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, apperrors.ErrBackendUnavailable):
		return "backend_unavailable"
	default:
		return "error"
	}
}
