// Package telemetry defines the typed event structs that flow over the
// WebSocket connection between vodpipe and its monitor clients, and a
// Reporter that fans run progress out to the log, the hub, and metrics.
package telemetry

import "time"

// EventType identifies the kind of WebSocket event.
type EventType string

const (
	EventPhase    EventType = "phase"
	EventFile     EventType = "file"
	EventInterval EventType = "interval"
	EventLog      EventType = "log"
)

// Event is the base envelope shared by every event type.
type Event struct {
	Type EventType `json:"type"`
	TS   string    `json:"ts"`
}

// NowTS returns the current UTC time as an RFC 3339 nano string, matching
// the timestamp format used across all events.
func NowTS() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// PhaseChange is emitted when a run moves between pipeline phases
// (e.g. preprocess -> gather).
type PhaseChange struct {
	Event
	Phase  string `json:"phase"`
	Detail string `json:"detail,omitempty"`
}

// FileResult reports the outcome of preprocessing one observation file.
type FileResult struct {
	Event
	Station string `json:"station"`
	Path    string `json:"path"`
	Outcome string `json:"outcome"` // processed, skipped, failed
	Reason  string `json:"reason,omitempty"`
	Rows    int    `json:"rows,omitempty"`
	Dropped int    `json:"dropped,omitempty"`
}

// IntervalResult reports one gathered time interval.
type IntervalResult struct {
	Event
	Case  string `json:"case"`
	Start string `json:"start"`
	End   string `json:"end"`
	Rows  int    `json:"rows"`
	Path  string `json:"path,omitempty"`
}

// LogLine carries a human-readable log message at a severity level.
type LogLine struct {
	Event
	Level   string `json:"level"`
	Message string `json:"message"`
}
