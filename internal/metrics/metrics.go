package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the engine's collectors. A nil *Recorder is valid and records nothing.
type Recorder struct {
	decisions       *prometheus.CounterVec
	publishDuration prometheus.Histogram
	publishFailures prometheus.Counter
	detections      *prometheus.CounterVec
	correlations    prometheus.Counter
}

func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{}
	r.decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quakewatch",
		Name:      "gatekeeper_decisions_total",
		Help:      "Eligibility decisions by outcome",
	}, []string{"outcome"})
	r.publishDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "quakewatch",
		Name:      "publish_duration_seconds",
		Help:      "Elapsed time of successful notification publish calls",
		Buckets:   prometheus.DefBuckets,
	})
	r.publishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quakewatch",
		Name:      "publish_failures_total",
		Help:      "Notification publish calls that failed",
	})
	r.detections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quakewatch",
		Name:      "detections_total",
		Help:      "Detection payloads handled by result",
	}, []string{"result"})
	r.correlations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quakewatch",
		Name:      "correlations_resolved_total",
		Help:      "Correlation runs that resolved a first trigger time",
	})

	if reg != nil {
		reg.MustRegister(r.decisions, r.publishDuration, r.publishFailures, r.detections, r.correlations)
	}
	return r
}

func (r *Recorder) Decision(outcome string) {
	if r == nil {
		return
	}
	r.decisions.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Published(elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.publishFailures.Inc()
		return
	}
	r.publishDuration.Observe(elapsed.Seconds())
}

func (r *Recorder) Detection(result string) {
	if r == nil {
		return
	}
	r.detections.WithLabelValues(result).Inc()
}

func (r *Recorder) Correlated() {
	if r == nil {
		return
	}
	r.correlations.Inc()
}
