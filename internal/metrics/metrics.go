// Package metrics exposes the pipeline's Prometheus collectors: job
// lifecycle counts, queue depth, translation chunk latency, and retry
// counts. Grounded on the teacher's internal/observability/metrics.Recorder
// (a struct of named ObserveX/IncrementX methods wrapping the metrics
// backend), reimplemented on real `client_golang` collectors instead of the
// teacher's hand-rolled in-memory aggregation + text exposition.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder wraps the collectors every component instruments against.
type Recorder struct {
	jobsByStatus      *prometheus.CounterVec
	jobFailures       *prometheus.CounterVec
	queueDepth        *prometheus.GaugeVec
	translationChunks prometheus.Histogram
	llmRetries        *prometheus.CounterVec
	dedupOutcomes     *prometheus.CounterVec
	ingressRequests   *prometheus.CounterVec
}

var defaultRecorder = New(prometheus.DefaultRegisterer)

// New constructs a Recorder registering its collectors against reg.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		jobsByStatus: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subtitlex",
			Name:      "job_transitions_total",
			Help:      "Count of job state transitions by resulting status.",
		}, []string{"status"}),
		jobFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subtitlex",
			Name:      "job_failures_total",
			Help:      "Count of job failures by originating component.",
		}, []string{"component"}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "subtitlex",
			Name:      "queue_depth",
			Help:      "Approximate number of pending messages per queue.",
		}, []string{"queue"}),
		translationChunks: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "subtitlex",
			Name:      "translation_chunk_duration_seconds",
			Help:      "Latency of a single chunk translation LLM call.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		llmRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subtitlex",
			Name:      "llm_retries_total",
			Help:      "Count of LLM gateway retries by error kind.",
		}, []string{"kind"}),
		dedupOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subtitlex",
			Name:      "dedup_outcomes_total",
			Help:      "Count of dedup check-and-register outcomes.",
		}, []string{"outcome"}), // "new", "duplicate", "fail_open"
		ingressRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subtitlex",
			Name:      "ingress_requests_total",
			Help:      "Count of ingress adapter requests by adapter and outcome.",
		}, []string{"adapter", "outcome"}),
	}
}

// Default returns the Recorder registered against the default registry, for
// components that do not need a custom registry (e.g. tests).
func Default() *Recorder { return defaultRecorder }

// Handler returns the HTTP handler serving the default registry in the
// Prometheus exposition format.
func Handler() http.Handler { return promhttp.Handler() }

func (r *Recorder) JobTransitioned(status string) {
	r.jobsByStatus.WithLabelValues(status).Inc()
}

func (r *Recorder) JobFailed(component string) {
	r.jobFailures.WithLabelValues(component).Inc()
}

func (r *Recorder) SetQueueDepth(queue string, depth float64) {
	r.queueDepth.WithLabelValues(queue).Set(depth)
}

func (r *Recorder) ObserveTranslationChunk(seconds float64) {
	r.translationChunks.Observe(seconds)
}

func (r *Recorder) LLMRetry(kind string) {
	r.llmRetries.WithLabelValues(kind).Inc()
}

func (r *Recorder) DedupOutcome(outcome string) {
	r.dedupOutcomes.WithLabelValues(outcome).Inc()
}

func (r *Recorder) IngressRequest(adapter, outcome string) {
	r.ingressRequests.WithLabelValues(adapter, outcome).Inc()
}
