// Package metrics holds the Prometheus collectors of the onboarding worker.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for message handling and the onboarding saga.
type Metrics struct {
	// MessagesHandled is the total number of processed messages by outcome.
	MessagesHandled *prometheus.CounterVec

	// HandleDuration is the time spent in handlers.
	HandleDuration *prometheus.HistogramVec

	// MessagesRedelivered is the total number of scheduled redeliveries.
	MessagesRedelivered *prometheus.CounterVec

	// MessagesDeadLettered is the total number of dead-lettered messages.
	MessagesDeadLettered *prometheus.CounterVec

	// DuplicatesSkipped is the total number of deliveries skipped as duplicates.
	DuplicatesSkipped *prometheus.CounterVec

	// SagasStarted is the total number of onboarding sagas started.
	SagasStarted prometheus.Counter

	// SagasCompleted is the total number of onboarding sagas completed.
	SagasCompleted prometheus.Counter

	// SagasExpired is the total number of onboarding sagas that timed out.
	SagasExpired prometheus.Counter

	// SagaDuration is the time from registration to completion.
	SagaDuration prometheus.Histogram

	// SagasActive is the current number of in-progress sagas.
	SagasActive prometheus.Gauge

	// RateLimitWaits is the total number of mailer rate limit waits.
	RateLimitWaits prometheus.Counter
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MessagesHandled: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_handled_total",
				Help:      "Total number of processed messages",
			},
			[]string{"endpoint", "type", "status"},
		),

		HandleDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "message_handle_duration_seconds",
				Help:      "Time spent handling a message",
				Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2, 5},
			},
			[]string{"endpoint", "type"},
		),

		MessagesRedelivered: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_redelivered_total",
				Help:      "Total number of scheduled redeliveries",
			},
			[]string{"queue"},
		),

		MessagesDeadLettered: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_dead_lettered_total",
				Help:      "Total number of dead-lettered messages",
			},
			[]string{"queue"},
		),

		DuplicatesSkipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "duplicates_skipped_total",
				Help:      "Total number of deliveries skipped as duplicates",
			},
			[]string{"endpoint"},
		),

		SagasStarted: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "onboarding_sagas_started_total",
				Help:      "Total number of onboarding sagas started",
			},
		),

		SagasCompleted: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "onboarding_sagas_completed_total",
				Help:      "Total number of onboarding sagas completed",
			},
		),

		SagasExpired: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "onboarding_sagas_expired_total",
				Help:      "Total number of onboarding sagas that timed out",
			},
		),

		SagaDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "onboarding_saga_duration_seconds",
				Help:      "Time from registration to onboarding completion",
				Buckets:   []float64{.1, .25, .5, 1, 2, 5, 10, 30, 60},
			},
		),

		SagasActive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "onboarding_sagas_active",
				Help:      "Current number of in-progress onboarding sagas",
			},
		),

		RateLimitWaits: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mailer_rate_limit_waits_total",
				Help:      "Total number of mailer rate limit waits",
			},
		),
	}
}

// ObserveHandled records the outcome and duration of one handler run.
func (m *Metrics) ObserveHandled(endpoint, msgType string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.MessagesHandled.WithLabelValues(endpoint, msgType, status).Inc()
	m.HandleDuration.WithLabelValues(endpoint, msgType).Observe(d.Seconds())
}

// Redelivered increments the redelivery counter of queue.
func (m *Metrics) Redelivered(queue string) {
	if m == nil {
		return
	}
	m.MessagesRedelivered.WithLabelValues(queue).Inc()
}

// DeadLettered increments the dead-letter counter of queue.
func (m *Metrics) DeadLettered(queue string) {
	if m == nil {
		return
	}
	m.MessagesDeadLettered.WithLabelValues(queue).Inc()
}

// DuplicateSkipped increments the duplicate counter of endpoint.
func (m *Metrics) DuplicateSkipped(endpoint string) {
	if m == nil {
		return
	}
	m.DuplicatesSkipped.WithLabelValues(endpoint).Inc()
}

// SagaStarted increments the started counter.
func (m *Metrics) SagaStarted() {
	if m == nil {
		return
	}
	m.SagasStarted.Inc()
}

// SagaCompleted increments the completed counter and records the saga duration.
func (m *Metrics) SagaCompleted(d time.Duration) {
	if m == nil {
		return
	}
	m.SagasCompleted.Inc()
	m.SagaDuration.Observe(d.Seconds())
}

// SagaExpired increments the expired counter.
func (m *Metrics) SagaExpired() {
	if m == nil {
		return
	}
	m.SagasExpired.Inc()
}

// SetActiveSagas sets the in-progress gauge.
func (m *Metrics) SetActiveSagas(n int) {
	if m == nil {
		return
	}
	m.SagasActive.Set(float64(n))
}

// RateLimitWait increments the mailer rate limit counter.
func (m *Metrics) RateLimitWait() {
	if m == nil {
		return
	}
	m.RateLimitWaits.Inc()
}
