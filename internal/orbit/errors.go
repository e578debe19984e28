package orbit

import (
	"fmt"
	"time"
)

// DownloadError reports that an ephemeris file could not be fetched after
// all retries. It is fatal for the affected time window only; callers are
// expected to skip the window and continue.
type DownloadError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("orbit: download of %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// UnavailableError reports a position query for a satellite or epoch that
// the resolved ephemeris source does not cover.
type UnavailableError struct {
	Satellite string
	Epoch     time.Time
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("orbit: no ephemeris for %s at %s", e.Satellite, e.Epoch.Format(time.RFC3339))
}
