// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for RequestsTotal besides error kinds.
const (
	OutcomeSuccess   = "success"
	OutcomeQueueFull = "queue_full"
	OutcomeTimeout   = "timeout"
	OutcomeCanceled  = "canceled"
)

type Metrics struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	terminationsTotal *prometheus.CounterVec
	reloadsTotal      *prometheus.CounterVec
	feedbackTotal     *prometheus.CounterVec
	inferenceLatency  *prometheus.HistogramVec
	generatedTokens   prometheus.Histogram
}

// New registers every collector on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mixtex_requests_total",
				Help: "Recognition requests by transport and outcome",
			},
			[]string{"transport", "outcome"},
		),
		terminationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mixtex_decode_terminations_total",
				Help: "Finished decodes by termination reason",
			},
			[]string{"reason"},
		),
		reloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mixtex_model_reloads_total",
				Help: "Model reloads by trigger and result",
			},
			[]string{"trigger", "result"},
		),
		feedbackTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mixtex_feedback_total",
				Help: "Stored feedback records by kind",
			},
			[]string{"kind"},
		),
		inferenceLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mixtex_inference_duration_seconds",
				Help:    "End-to-end recognition latency",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"termination"},
		),
		generatedTokens: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mixtex_generated_tokens",
				Help:    "Tokens generated per recognition",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Request(transport, outcome string) {
	m.requestsTotal.WithLabelValues(transport, outcome).Inc()
}

// Recognition records one finished decode.
func (m *Metrics) Recognition(termination string, tokens int, elapsed time.Duration) {
	m.terminationsTotal.WithLabelValues(termination).Inc()
	m.inferenceLatency.WithLabelValues(termination).Observe(elapsed.Seconds())
	m.generatedTokens.Observe(float64(tokens))
}

func (m *Metrics) Reload(trigger string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.reloadsTotal.WithLabelValues(trigger, result).Inc()
}

func (m *Metrics) Feedback(kind string) {
	m.feedbackTotal.WithLabelValues(kind).Inc()
}

// WatchQueue exports the queue's running and waiting counts, read on every
// scrape.
func (m *Metrics) WatchQueue(running, waiting func() int64) {
	factory := promauto.With(m.registry)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mixtex_queue_running",
		Help: "Recognitions currently holding a slot",
	}, func() float64 { return float64(running()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mixtex_queue_waiting",
		Help: "Recognitions waiting for a slot",
	}, func() float64 { return float64(waiting()) })
}

// WatchModel exports the loaded model version, 0 when none is loaded.
func (m *Metrics) WatchModel(version func() uint64) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mixtex_model_version",
		Help: "Version of the loaded model, 0 when none is loaded",
	}, func() float64 { return float64(version()) })
}
