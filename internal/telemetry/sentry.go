// Package telemetry wires opt-in error tracking.
package telemetry

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/threatlink/internal/buildinfo"
	"github.com/tphakala/threatlink/internal/conf"
	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/logger"
)

const flushTimeout = 2 * time.Second

var initialized atomic.Bool

// InitSentry initializes the Sentry SDK when it is enabled in settings and
// installs the error reporter. The returned func flushes pending events and
// is safe to call when Sentry is disabled.
func InitSentry(settings *conf.Settings, build *buildinfo.Context) (func(), error) {
	if !settings.Sentry.Enabled {
		GetLogger().Debug("sentry telemetry is disabled")
		return func() {}, nil
	}
	if settings.Sentry.DSN == "" {
		return nil, errors.Newf("sentry is enabled but no dsn is configured").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		SampleRate:       1.0,
		Debug:            false,
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "",
		Release:          build.Release(),
		BeforeSend:       beforeSend,
	})
	if err != nil {
		return nil, errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("operation", "sentry_init").
			Build()
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		scope.SetTag("datastore", datastoreType(settings))
	})

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	initialized.Store(true)
	GetLogger().Info("sentry telemetry initialized", logger.String("release", build.Release()))

	return Flush, nil
}

// Flush drains pending events and detaches the error reporter.
func Flush() {
	if !initialized.CompareAndSwap(true, false) {
		return
	}
	errors.SetTelemetryReporter(nil)
	sentry.Flush(flushTimeout)
}

// beforeSend strips host and user identity from every event.
func beforeSend(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Request = nil

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	return event
}

func datastoreType(settings *conf.Settings) string {
	if settings.Datastore.Type == "" {
		return "sqlite"
	}
	return settings.Datastore.Type
}
