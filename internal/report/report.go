// Package report forwards unexpected errors and panics to an external
// tracker. Both hooks are no-ops until Rollbar is configured.
package report

import (
	"context"

	"github.com/rollbar/rollbar-go"
)

// ReportError notifies an external service of errors. No-op by default.
var ReportError = func(ctx context.Context, err error, args ...interface{}) {}

// ReportPanic notifies an external service of panics. No-op by default.
var ReportPanic = func(err interface{}) {}

// UseRollbar points both hooks at Rollbar. An empty token leaves them as
// no-ops and returns false.
func UseRollbar(token, environment, serverRoot string) bool {
	if token == "" {
		return false
	}

	rollbar.SetToken(token)
	rollbar.SetEnvironment(environment)
	rollbar.SetServerRoot(serverRoot)

	ReportError = func(ctx context.Context, err error, args ...interface{}) {
		rollbar.Error(append([]interface{}{err}, args...)...)
	}
	ReportPanic = func(err interface{}) {
		rollbar.Critical(err)
	}
	return true
}

// Flush blocks until queued reports are sent.
func Flush() {
	rollbar.Wait()
}
