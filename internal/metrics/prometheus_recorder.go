package metrics

import (
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	compileDuration *prom.HistogramVec
	compileOutcome  *prom.CounterVec
	guardRejections *prom.CounterVec
	pollTicks       *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.compileDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "texbuild",
			Name:      "compile_duration_seconds",
			Help:      "Wall-clock duration of compile requests",
			Buckets:   prom.DefBuckets,
		}, []string{"mode"})
		pr.compileOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "texbuild",
			Name:      "compile_outcomes_total",
			Help:      "Compile outcomes by mode and final status",
		}, []string{"mode", "outcome"})
		pr.guardRejections = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "texbuild",
			Name:      "guard_rejections_total",
			Help:      "Compile attempts rejected by the single-flight guard",
		}, []string{"mode"})
		pr.pollTicks = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "texbuild",
			Name:      "poll_ticks_total",
			Help:      "Status poll ticks issued for async jobs",
		}, []string{"mode"})
		reg.MustRegister(pr.compileDuration, pr.compileOutcome, pr.guardRejections, pr.pollTicks)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveCompileDuration(mode string, d time.Duration) {
	if p == nil || p.compileDuration == nil {
		return
	}
	p.compileDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncCompileOutcome(mode, outcome string) {
	if p == nil || p.compileOutcome == nil {
		return
	}
	p.compileOutcome.WithLabelValues(mode, outcome).Inc()
}

func (p *PrometheusRecorder) IncGuardRejection(mode string) {
	if p == nil || p.guardRejections == nil {
		return
	}
	p.guardRejections.WithLabelValues(mode).Inc()
}

func (p *PrometheusRecorder) IncPollTick(mode string) {
	if p == nil || p.pollTicks == nil {
		return
	}
	p.pollTicks.WithLabelValues(mode).Inc()
}

// HTTPHandler returns an http.Handler serving Prometheus metrics for the
// provided registry.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
