// Package observe exports coordinator telemetry to Prometheus.
package observe

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/labelcache/internal/model"
)

const defaultNamespace = "labelcache"

// PrometheusObserver records per-event outcomes and per-step latencies.
// A nil *PrometheusObserver is valid and records nothing.
type PrometheusObserver struct {
	outcomes      *prometheus.CounterVec
	eventDuration *prometheus.HistogramVec
	stepDuration  *prometheus.HistogramVec
	stepErrors    *prometheus.CounterVec
	labelingCalls prometheus.Counter
}

// NewPrometheusObserver registers the coordinator metrics on reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Processed upload events by final status.",
	}, []string{"status"})
	eventDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "event_duration_seconds",
		Help:      "End-to-end processing latency per upload event.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"status"})
	stepDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "step_duration_seconds",
		Help:      "Latency of remote calls made by the coordinator.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"step"})
	stepErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "step_errors_total",
		Help:      "Failed coordinator steps by error kind.",
	}, []string{"step", "kind"})
	labelingCalls := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "labeling_calls_total",
		Help:      "Calls made to the external labeling service.",
	})

	o := &PrometheusObserver{}
	var err error
	if o.outcomes, err = register(reg, outcomes); err != nil {
		return nil, err
	}
	if o.eventDuration, err = register(reg, eventDuration); err != nil {
		return nil, err
	}
	if o.stepDuration, err = register(reg, stepDuration); err != nil {
		return nil, err
	}
	if o.stepErrors, err = register(reg, stepErrors); err != nil {
		return nil, err
	}
	if o.labelingCalls, err = register(reg, labelingCalls); err != nil {
		return nil, err
	}
	return o, nil
}

// register adds c to reg, reusing an identical collector that is already
// registered so several coordinators can share one registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register metric: %w", err)
	}
	return c, nil
}

// RecordOutcome counts one finished event.
func (o *PrometheusObserver) RecordOutcome(status string, duration time.Duration) {
	if o == nil {
		return
	}
	o.outcomes.WithLabelValues(status).Inc()
	o.eventDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStep records the latency of one coordinator step and its error kind.
func (o *PrometheusObserver) RecordStep(step string, duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
	if err != nil {
		o.stepErrors.WithLabelValues(step, string(model.KindOf(err))).Inc()
	}
}

// RecordLabelingCall counts one labeling service call.
func (o *PrometheusObserver) RecordLabelingCall() {
	if o == nil {
		return
	}
	o.labelingCalls.Inc()
}
