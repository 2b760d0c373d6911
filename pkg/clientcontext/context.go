// Package clientcontext carries the driver's logger and metrics registry
// through a context.
package clientcontext

import (
	"context"
	"os"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
)

type contextKey int

const (
	loggerKey contextKey = iota
	registryKey
)

var defaultLogger = log.NewLogfmtLogger(os.Stderr)

func WithLogger(ctx context.Context, logger log.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

func Logger(ctx context.Context) log.Logger {
	if logger, ok := ctx.Value(loggerKey).(log.Logger); ok {
		return logger
	}
	return defaultLogger
}

// WithTarget annotates the logger in ctx with the executable being
// translated and the locator of the transport it is translated over.
func WithTarget(ctx context.Context, executable, locator string) context.Context {
	return WithLogger(ctx, log.With(Logger(ctx), "executable", executable, "locator", locator))
}

func WithRegistry(ctx context.Context, registry *prometheus.Registry) context.Context {
	return context.WithValue(ctx, registryKey, registry)
}

// Registry returns the registry stored in ctx, or a fresh one so callers
// can always register.
func Registry(ctx context.Context) *prometheus.Registry {
	if registry, ok := ctx.Value(registryKey).(*prometheus.Registry); ok {
		return registry
	}
	return prometheus.NewRegistry()
}
