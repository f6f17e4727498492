package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNoopRecorderIsSafe(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveCompileDuration("preview", time.Second)
	r.IncCompileOutcome("preview", "success")
	r.IncGuardRejection("full")
	r.IncPollTick("preview")
}

func TestPrometheusRecorderCounts(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.IncCompileOutcome("preview", "success")
	r.IncCompileOutcome("preview", "success")
	r.IncCompileOutcome("full", "service")
	r.IncGuardRejection("preview")
	r.IncPollTick("preview")
	r.ObserveCompileDuration("preview", 2*time.Second)

	if got := testutil.ToFloat64(r.compileOutcome.WithLabelValues("preview", "success")); got != 2 {
		t.Errorf("preview success outcomes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.compileOutcome.WithLabelValues("full", "service")); got != 1 {
		t.Errorf("full service outcomes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.guardRejections.WithLabelValues("preview")); got != 1 {
		t.Errorf("guard rejections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.pollTicks.WithLabelValues("preview")); got != 1 {
		t.Errorf("poll ticks = %v, want 1", got)
	}
}

func TestPrometheusRecorderNilSafe(t *testing.T) {
	var r *PrometheusRecorder
	r.ObserveCompileDuration("preview", time.Second)
	r.IncCompileOutcome("preview", "success")
	r.IncGuardRejection("preview")
	r.IncPollTick("preview")
}
