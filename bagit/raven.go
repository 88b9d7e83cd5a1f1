package bagit

import raven "github.com/getsentry/raven-go"

// capture reports an unexpected I/O error to sentry, if configured.
func capture(err error) {
	if err == nil {
		return
	}
	raven.CaptureError(err, nil)
}
