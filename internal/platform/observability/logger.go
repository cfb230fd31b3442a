package observability

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/restaurant-ordering/api/internal/platform/requestctx"
)

const defaultLogLevel = zapcore.InfoLevel

// NewLogger constructs a zap logger emitting Cloud Logging compatible JSON. An empty or unknown level
// falls back to info.
func NewLogger(level string) (*zap.Logger, error) {
	atomic := zap.NewAtomicLevelAt(defaultLogLevel)
	if level = strings.ToLower(strings.TrimSpace(level)); level != "" {
		if parsed, err := zapcore.ParseLevel(level); err == nil {
			atomic.SetLevel(parsed)
		}
	}

	cfg := zap.Config{
		Level:    atomic,
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:    "message",
			TimeKey:       "timestamp",
			LevelKey:      "severity",
			CallerKey:     "caller",
			StacktraceKey: "stacktrace",
			EncodeTime:    zapcore.RFC3339NanoTimeEncoder,
			EncodeLevel:   zapcore.CapitalLevelEncoder,
			EncodeCaller:  zapcore.ShortCallerEncoder,
		},
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	return cfg.Build()
}

// FromContext retrieves the request logger, falling back to base when none was installed.
func FromContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if requestctx.HasLogger(ctx) {
		return requestctx.Logger(ctx)
	}
	if base == nil {
		return zap.NewNop()
	}
	return base
}

// ServiceLogger adapts zap to the event-style logger func accepted by the service layer. Events ending
// in ".failed" or ".error" are logged at warn level; field keys are emitted in sorted order.
func ServiceLogger(base *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := FromContext(ctx, base)

		zfields := make([]zap.Field, 0, len(fields)+1)
		zfields = append(zfields, zap.String("event", event))
		keys := make([]string, 0, len(fields))
		for key := range fields {
			keys = append(keys, key)
		}
		slices.Sort(keys)
		for _, key := range keys {
			zfields = append(zfields, zap.Any(key, fields[key]))
		}

		if strings.HasSuffix(event, ".failed") || strings.HasSuffix(event, ".error") {
			logger.Warn(event, zfields...)
			return
		}
		logger.Info(event, zfields...)
	}
}
