package requestctx

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"
)

type contextKey int

const (
	loggerKey contextKey = iota
	traceKey
	callerKey
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// Caller is a mutable slot installed at the edge of the chain. Authentication middleware fills it in
// so outer middleware can report who made the request after the handler returns.
type Caller struct {
	mu    sync.Mutex
	id    string
	roles []string
}

// Set records the authenticated caller.
func (c *Caller) Set(id string, roles []string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
	c.roles = slices.Clone(roles)
}

// Get returns the recorded caller id and roles.
func (c *Caller) Get() (string, []string) {
	if c == nil {
		return "", nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id, slices.Clone(c.roles)
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// HasLogger reports whether a request logger was installed.
func HasLogger(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	logger, ok := ctx.Value(loggerKey).(*zap.Logger)
	return ok && logger != nil && logger != noopLogger
}

// WithTrace stores the trace metadata on the context for downstream usage.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceKey, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey).(TraceInfo)
	return info, ok
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithCaller installs an empty caller slot and returns it alongside the derived context.
func WithCaller(ctx context.Context) (context.Context, *Caller) {
	if ctx == nil {
		ctx = context.Background()
	}
	caller := &Caller{}
	return context.WithValue(ctx, callerKey, caller), caller
}

// SetCaller records the authenticated caller in the slot installed by WithCaller, if any.
func SetCaller(ctx context.Context, id string, roles []string) {
	if ctx == nil {
		return
	}
	if caller, ok := ctx.Value(callerKey).(*Caller); ok {
		caller.Set(id, roles)
	}
}
