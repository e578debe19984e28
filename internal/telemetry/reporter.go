package telemetry

import (
	"fmt"
	"log"
	"time"

	"github.com/canopysense/gnssvod/internal/observability"
)

// Broadcaster is the subset of the WebSocket hub the reporter needs.
type Broadcaster interface {
	BroadcastJSON(v any)
}

// Reporter fans pipeline progress out to a logger, an optional WebSocket
// broadcaster, and optional Prometheus metrics. A nil Reporter is valid
// and discards everything, so library code can report unconditionally.
type Reporter struct {
	log     *log.Logger
	hub     Broadcaster
	metrics *observability.Metrics
}

// NewReporter builds a reporter. Any argument may be nil.
func NewReporter(logger *log.Logger, hub Broadcaster, metrics *observability.Metrics) *Reporter {
	return &Reporter{log: logger, hub: hub, metrics: metrics}
}

func (r *Reporter) logf(format string, args ...any) {
	if r != nil && r.log != nil {
		r.log.Printf(format, args...)
	}
}

func (r *Reporter) broadcast(v any) {
	if r != nil && r.hub != nil {
		r.hub.BroadcastJSON(v)
	}
}

// Metrics returns the metrics sink, or nil. Callers must nil-check.
func (r *Reporter) Metrics() *observability.Metrics {
	if r == nil {
		return nil
	}
	return r.metrics
}

// Phase announces a transition into a new pipeline phase.
func (r *Reporter) Phase(phase, detail string) {
	if detail != "" {
		r.logf("phase: %s (%s)", phase, detail)
	} else {
		r.logf("phase: %s", phase)
	}
	r.broadcast(PhaseChange{
		Event:  Event{Type: EventPhase, TS: NowTS()},
		Phase:  phase,
		Detail: detail,
	})
}

// FileProcessed reports a successfully preprocessed observation file.
func (r *Reporter) FileProcessed(station, path string, rows, dropped int, elapsed time.Duration) {
	r.logf("processed %s: %d rows, %d dropped (%s)", path, rows, dropped, elapsed.Round(time.Millisecond))
	if m := r.Metrics(); m != nil {
		m.FilesProcessed.Inc()
		m.RecordsJoined.Add(float64(rows))
		m.RecordsDropped.Add(float64(dropped))
		m.FileDuration.Observe(elapsed.Seconds())
	}
	r.broadcast(FileResult{
		Event:   Event{Type: EventFile, TS: NowTS()},
		Station: station,
		Path:    path,
		Outcome: "processed",
		Rows:    rows,
		Dropped: dropped,
	})
}

// FileSkipped reports an observation file that was skipped or failed,
// with a machine-readable reason.
func (r *Reporter) FileSkipped(station, path, reason string, err error) {
	if err != nil {
		r.logf("skipping %s: %s: %v", path, reason, err)
	} else {
		r.logf("skipping %s: %s", path, reason)
	}
	if m := r.Metrics(); m != nil {
		m.FilesSkipped.WithLabelValues(reason).Inc()
	}
	outcome := "skipped"
	if err != nil {
		outcome = "failed"
	}
	detail := reason
	if err != nil {
		detail = fmt.Sprintf("%s: %v", reason, err)
	}
	r.broadcast(FileResult{
		Event:   Event{Type: EventFile, TS: NowTS()},
		Station: station,
		Path:    path,
		Outcome: outcome,
		Reason:  detail,
	})
}

// OrbitResolved records an ephemeris resolution; reused is true when an
// already-resolved source still covered the requested window.
func (r *Reporter) OrbitResolved(reused bool) {
	m := r.Metrics()
	if m == nil {
		return
	}
	if reused {
		m.OrbitCacheHits.Inc()
	} else {
		m.OrbitDownloads.Inc()
	}
}

// OrbitFailed records an ephemeris resolution that exhausted its retries.
func (r *Reporter) OrbitFailed() {
	if m := r.Metrics(); m != nil {
		m.OrbitDownloadFailures.Inc()
	}
}

// SkyOmissions records epoch-satellite pairs dropped during sky geometry.
func (r *Reporter) SkyOmissions(n int) {
	if n == 0 {
		return
	}
	if m := r.Metrics(); m != nil {
		m.SkyOmissions.Add(float64(n))
	}
}

// IntervalGathered reports one assembled output interval.
func (r *Reporter) IntervalGathered(caseName string, start, end time.Time, rows int, path string) {
	r.logf("gathered %s [%s, %s): %d rows -> %s",
		caseName, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339), rows, path)
	if m := r.Metrics(); m != nil {
		m.IntervalsGathered.Inc()
		m.IntervalRows.Observe(float64(rows))
	}
	r.broadcast(IntervalResult{
		Event: Event{Type: EventInterval, TS: NowTS()},
		Case:  caseName,
		Start: start.UTC().Format(time.RFC3339),
		End:   end.UTC().Format(time.RFC3339),
		Rows:  rows,
		Path:  path,
	})
}

// Infof logs and broadcasts a free-form informational message.
func (r *Reporter) Infof(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.logf("%s", msg)
	r.broadcast(LogLine{
		Event:   Event{Type: EventLog, TS: NowTS()},
		Level:   "info",
		Message: msg,
	})
}
