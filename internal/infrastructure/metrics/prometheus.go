// Package metrics exports bot telemetry to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer records delivery, cascade, NLU and turn metrics.
// It satisfies conversation.Observer.
type Observer struct {
	filesDelivered *prometheus.CounterVec
	cascadeMatches *prometheus.HistogramVec
	nlpFallbacks   *prometheus.CounterVec
	turnDuration   *prometheus.HistogramVec
}

// NewObserver registers the bot metrics on reg. A nil reg uses the default registerer.
// Registering twice on the same registry reuses the existing collectors.
func NewObserver(namespace string, reg prometheus.Registerer) (*Observer, error) {
	if namespace == "" {
		namespace = "material_bot"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	var err error
	o := &Observer{}
	if o.filesDelivered, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "files_delivered_total",
		Help:      "Files sent to users, by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if o.cascadeMatches, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cascade_matches",
		Help:      "Candidates found per intent cascade stage.",
		Buckets:   []float64{0, 1, 2, 3, 5, 10, 20},
	}, []string{"stage"})); err != nil {
		return nil, err
	}
	if o.nlpFallbacks, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "nlp_requests_total",
		Help:      "Free-text messages handed to the NLU engine, by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if o.turnDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "turn_duration_seconds",
		Help:      "Latency of a conversation turn.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event"})); err != nil {
		return nil, err
	}
	return o, nil
}

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

// FileDelivered counts one file delivery.
func (o *Observer) FileDelivered(success bool) {
	if o == nil {
		return
	}
	o.filesDelivered.WithLabelValues(outcome(success)).Inc()
}

// CascadeResolved records how many candidates a cascade stage produced.
func (o *Observer) CascadeResolved(stage string, matches int) {
	if o == nil {
		return
	}
	o.cascadeMatches.WithLabelValues(stage).Observe(float64(matches))
}

// NLPFallback counts one NLU request.
func (o *Observer) NLPFallback(failed bool) {
	if o == nil {
		return
	}
	o.nlpFallbacks.WithLabelValues(outcome(!failed)).Inc()
}

// TurnFinished records the latency of one text or payload turn.
func (o *Observer) TurnFinished(event string, d time.Duration) {
	if o == nil {
		return
	}
	o.turnDuration.WithLabelValues(event).Observe(d.Seconds())
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
