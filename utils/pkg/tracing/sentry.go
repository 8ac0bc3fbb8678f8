// Package tracing configures Sentry error reporting and performance spans for
// the binaries. Without a DSN every span call in the codebase is a no-op.
package tracing

import (
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
)

type Config struct {
	DSN              string
	Environment      string
	Release          string
	TracesSampleRate float64
}

// ConfigFromEnv reads SENTRY_DSN and SENTRY_ENVIRONMENT.
func ConfigFromEnv(release string) Config {
	return Config{
		DSN:              os.Getenv("SENTRY_DSN"),
		Environment:      os.Getenv("SENTRY_ENVIRONMENT"),
		Release:          release,
		TracesSampleRate: 1.0,
	}
}

// Init initializes the Sentry client. The returned flush must be called
// before exit so buffered events are delivered.
func Init(cfg Config) (flush func(), err error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		EnableTracing:    true,
		TracesSampleRate: cfg.TracesSampleRate,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize sentry: %w", err)
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}
