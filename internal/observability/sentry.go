package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
)

// SentryConfig selects the error reporting project.
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64
}

// Reporter wraps the Sentry client. A zero Reporter is disabled and every
// method is a no-op.
type Reporter struct {
	enabled bool
	handler *sentryhttp.Handler
}

// InitSentry configures the global Sentry client. An empty DSN yields a
// disabled reporter so local runs never phone home.
func InitSentry(cfg SentryConfig) (*Reporter, error) {
	if cfg.DSN == "" {
		return &Reporter{}, nil
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 1
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		SampleRate:       rate,
		AttachStacktrace: true,
	}); err != nil {
		return nil, fmt.Errorf("init sentry: %w", err)
	}
	return &Reporter{
		enabled: true,
		handler: sentryhttp.New(sentryhttp.Options{Repanic: true, WaitForDelivery: false, Timeout: 2 * time.Second}),
	}, nil
}

// Enabled reports whether events are delivered.
func (r *Reporter) Enabled() bool {
	return r != nil && r.enabled
}

// Middleware attaches a request-scoped hub so handlers can report with
// sentry.GetHubFromContext. Panics are captured and re-raised for chi's
// Recoverer.
func (r *Reporter) Middleware(next http.Handler) http.Handler {
	if !r.Enabled() {
		return next
	}
	return r.handler.Handle(next)
}

// Capture reports err with job or component tags outside a request.
func (r *Reporter) Capture(err error, tags map[string]string) {
	if !r.Enabled() || err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Flush waits for buffered events before shutdown.
func (r *Reporter) Flush(timeout time.Duration) {
	if !r.Enabled() {
		return
	}
	sentry.Flush(timeout)
}
