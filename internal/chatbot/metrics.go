package chatbot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors updated by Ask. One instance is
// shared by every chatbot in a process; a nil *Metrics disables recording.
type Metrics struct {
	// asksTotal counts Ask calls by model, prompting path and outcome.
	asksTotal *prometheus.CounterVec

	// askDuration records Ask latency by model and path.
	askDuration *prometheus.HistogramVec

	// retrievalFailures counts absorbed retrieval errors by corpus language.
	retrievalFailures *prometheus.CounterVec

	// retrievedChunks observes how many chunks grounded each chat answer.
	retrievedChunks prometheus.Histogram

	// languageMismatches counts questions replaced by a write-in-X notice.
	languageMismatches *prometheus.CounterVec

	// overBudget counts chat calls whose estimated prompt exceeded the
	// context window.
	overBudget prometheus.Counter
}

// NewMetrics registers the chatbot collectors against reg. Tests pass a
// fresh prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		asksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hamdam",
			Subsystem: "ask",
			Name:      "requests_total",
			Help:      "Questions answered, partitioned by model, path (chat or completion) and outcome.",
		}, []string{"model", "path", "outcome"}),

		askDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hamdam",
			Subsystem: "ask",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of Ask, including retrieval and generation.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"model", "path"}),

		retrievalFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hamdam",
			Subsystem: "retrieval",
			Name:      "failures_total",
			Help:      "Retrieval errors absorbed while answering, by corpus language.",
		}, []string{"lang"}),

		retrievedChunks: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hamdam",
			Subsystem: "retrieval",
			Name:      "chunks",
			Help:      "Number of corpus chunks injected into each chat prompt.",
			Buckets:   []float64{0, 1, 2, 3, 5, 7},
		}),

		languageMismatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hamdam",
			Subsystem: "ask",
			Name:      "language_mismatch_total",
			Help:      "Questions replaced with a language notice, by persona language.",
		}, []string{"persona"}),

		overBudget: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hamdam",
			Subsystem: "ask",
			Name:      "over_budget_total",
			Help:      "Chat calls whose estimated prompt did not fit the context window.",
		}),
	}
}

func (m *Metrics) observeAsk(model, path, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.asksTotal.WithLabelValues(model, path, outcome).Inc()
	m.askDuration.WithLabelValues(model, path).Observe(seconds)
}

func (m *Metrics) retrievalFailed(lang string) {
	if m != nil {
		m.retrievalFailures.WithLabelValues(lang).Inc()
	}
}

func (m *Metrics) chunks(n int) {
	if m != nil {
		m.retrievedChunks.Observe(float64(n))
	}
}

func (m *Metrics) mismatch(persona string) {
	if m != nil {
		m.languageMismatches.WithLabelValues(persona).Inc()
	}
}

func (m *Metrics) budgetExceeded() {
	if m != nil {
		m.overBudget.Inc()
	}
}
