package handlers

import (
	"taskboard-backend/internal/config"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
)

func SetupSentry(e *echo.Echo, cfg *config.Config) {
	// To initialize Sentry's handler, you need to initialize Sentry itself beforehand
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.Sentry.DSN,
		TracesSampleRate: 1.0,
	}); err != nil {
		e.Logger.Error("Sentry initialization failed: %v\n", err)
	}

	e.Use(sentryecho.New(sentryecho.Options{}))
}

// CaptureInconsistency flags a mutation that committed before a dependent
// side effect failed, e.g. an invitation revoked but its identity record
// not deleted. These must not be silently swallowed.
func CaptureInconsistency(c echo.Context, err error) {
	if hub := sentryecho.GetHubFromContext(c); hub != nil {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("kind", "inconsistency_risk")
			hub.CaptureException(err)
		})
		return
	}
	sentry.CaptureException(err)
}

func CaptureError(err error) {
	sentry.CaptureException(err)
}
