// Package telemetry provides opt-in, privacy-filtered error reporting to Sentry.
package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/drawee/drawee-go/internal/conf"
	"github.com/drawee/drawee-go/internal/errors"
	"github.com/drawee/drawee-go/internal/logger"
)

// FlushTimeout bounds how long shutdown waits for queued events
const FlushTimeout = 2 * time.Second

var sentryInitialized atomic.Bool

// allowedExtras are the only extra fields kept on outgoing events
var allowedExtras = map[string]bool{
	"error_type": true,
	"component":  true,
}

// InitSentry initializes the Sentry SDK when sentry.enabled is set and
// registers the error reporter. It is a no-op otherwise.
func InitSentry(settings *conf.Settings, release string) error {
	if !settings.Sentry.Enabled {
		GetLogger().Info("sentry telemetry is disabled (opt-in required)")
		return nil
	}

	if settings.Sentry.DSN == "" {
		return errors.Newf("sentry enabled without a dsn").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sampleRate := settings.Sentry.SampleRate
	if sampleRate <= 0 || sampleRate > 1 {
		sampleRate = 1.0
	}
	environment := settings.Sentry.Environment
	if environment == "" {
		environment = "production"
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		SampleRate:       sampleRate,
		Debug:            settings.Sentry.Debug,
		AttachStacktrace: false,
		Environment:      environment,
		ServerName:       "",
		Release:          fmt.Sprintf("drawee-go@%s", release),
		BeforeSend:       beforeSend,
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("app", "drawee-go")
		scope.SetTag("instance", settings.Main.Name)
		scope.SetTag("classifier_backend", settings.Classifier.Backend)
	})

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	sentryInitialized.Store(true)

	GetLogger().Info("sentry telemetry initialized",
		logger.String("environment", environment),
		logger.String("release", release))
	return nil
}

// beforeSend strips identifying data from every event
func beforeSend(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	return applyPrivacyFilters(event)
}

// applyPrivacyFilters removes user data, host identity and runtime contexts
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	if event == nil {
		return nil
	}

	event.User = sentry.User{}
	event.ServerName = ""
	event.Request = nil

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if !allowedExtras[k] {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	return event
}

// IsInitialized reports whether InitSentry enabled reporting
func IsInitialized() bool {
	return sentryInitialized.Load()
}

// Flush waits for queued events until ctx ends or FlushTimeout passes.
func Flush(ctx context.Context) {
	if !sentryInitialized.Load() {
		return
	}
	timeout := FlushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if !sentry.Flush(timeout) {
		GetLogger().Warn("sentry flush timed out", logger.Duration("timeout", timeout))
	}
}
