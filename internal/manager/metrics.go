package manager

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mx37/grapheneos-ai/internal/session"
)

const metricsNamespace = "llamad"

var (
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "generation",
			Name:      "total",
			Help:      "Generations by finish reason.",
		},
		[]string{"finish"},
	)
	generationTokens = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "generation",
			Name:      "tokens_total",
			Help:      "Completion tokens produced.",
		},
	)
	generationChunks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "generation",
			Name:      "chunks_total",
			Help:      "Text chunks delivered to clients.",
		},
	)
	generationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "Wall time per generation.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
	generationTTFT = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "generation",
			Name:      "ttft_seconds",
			Help:      "Time to first streamed chunk.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)
	inflightGenerations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "generation",
			Name:      "inflight",
			Help:      "Generations currently running.",
		},
	)
	modelLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "model_loaded",
			Help:      "1 when a model is loaded.",
		},
	)
	loadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "model_load_duration_seconds",
			Help:      "Time to load a model and create its context.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)
	loadFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "model_load_failures_total",
			Help:      "Failed model loads.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		generationsTotal,
		generationTokens,
		generationChunks,
		generationDuration,
		generationTTFT,
		inflightGenerations,
		modelLoaded,
		loadDuration,
		loadFailures,
	)
}

func observeGeneration(res session.Result) {
	finish := string(res.Finish)
	if finish == "" {
		finish = string(session.FinishError)
	}
	generationsTotal.WithLabelValues(finish).Inc()
	generationTokens.Add(float64(res.CompletionTokens))
	generationChunks.Add(float64(res.Chunks))
	generationDuration.Observe(res.Duration.Seconds())
	if res.Chunks > 0 {
		generationTTFT.Observe(res.TTFT.Seconds())
	}
}
