package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/restaurant-ordering/api/internal/platform/auth"
)

const metricNamespace = "github.com/restaurant-ordering/api/internal/platform/observability"

// NewVerificationMetrics returns an auth.MetricsRecorder that counts token verifications and records
// their latency. A nil meter uses the global provider.
func NewVerificationMetrics(meter metric.Meter, logger *zap.Logger) auth.MetricsRecorder {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	count, err := meter.Int64Counter(
		"auth.verifications",
		metric.WithDescription("Token verifications by kind and outcome"),
	)
	if err != nil {
		logger.Warn("observability: unable to register verification counter", zap.Error(err))
	}
	latency, err := meter.Float64Histogram(
		"auth.verification.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Token verification latency in milliseconds"),
	)
	if err != nil {
		logger.Warn("observability: unable to register verification latency", zap.Error(err))
	}

	return auth.MetricsRecorderFunc(func(ctx context.Context, kind string, success bool, reason string, d time.Duration) {
		attrs := metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.Bool("success", success),
			attribute.String("reason", reason),
		)
		if count != nil {
			count.Add(ctx, 1, attrs)
		}
		if latency != nil {
			latency.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
		}
	})
}
