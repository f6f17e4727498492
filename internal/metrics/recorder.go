package metrics

import "time"

// Recorder defines observability hooks for compile lifecycle metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc. The
// NoopRecorder allows optional injection.
type Recorder interface {
	ObserveCompileDuration(mode string, d time.Duration)
	IncCompileOutcome(mode, outcome string) // outcome: success|transport|timeout|service
	IncGuardRejection(mode string)
	IncPollTick(mode string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveCompileDuration(string, time.Duration) {}
func (NoopRecorder) IncCompileOutcome(string, string)             {}
func (NoopRecorder) IncGuardRejection(string)                     {}
func (NoopRecorder) IncPollTick(string)                           {}
