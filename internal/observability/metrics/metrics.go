package metrics

import "github.com/prometheus/client_golang/prometheus"

// LLMMetrics exposes counters/histograms for the completion call chain.
type LLMMetrics struct {
	completionsTotal  *prometheus.CounterVec
	failuresTotal     *prometheus.CounterVec
	completionLatency *prometheus.HistogramVec
	exhaustedTotal    *prometheus.CounterVec
}

func NewLLMMetrics(reg prometheus.Registerer) *LLMMetrics {
	m := &LLMMetrics{
		completionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finsight",
			Subsystem: "llm",
			Name:      "completions_total",
			Help:      "Total completion calls by model, path (primary/fallback) and status",
		}, []string{"model", "path", "status"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finsight",
			Subsystem: "llm",
			Name:      "primary_failures_total",
			Help:      "Primary completion failures by failure class",
		}, []string{"mode", "class"}),
		completionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "finsight",
			Subsystem: "llm",
			Name:      "completion_latency_seconds",
			Help:      "Latency of a single completion call",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"model", "path"}),
		exhaustedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finsight",
			Subsystem: "llm",
			Name:      "fallback_exhausted_total",
			Help:      "Call chains that used up every fallback attempt",
		}, []string{"mode"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.completionsTotal, m.failuresTotal, m.completionLatency, m.exhaustedTotal)
	return m
}

// ObserveCompletion records one upstream call.
func (m *LLMMetrics) ObserveCompletion(model, path string, err error, seconds float64) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.completionsTotal.WithLabelValues(model, path, status).Inc()
	m.completionLatency.WithLabelValues(model, path).Observe(seconds)
}

func (m *LLMMetrics) ObservePrimaryFailure(mode, class string) {
	if m == nil {
		return
	}
	m.failuresTotal.WithLabelValues(mode, class).Inc()
}

func (m *LLMMetrics) ObserveExhausted(mode string) {
	if m == nil {
		return
	}
	m.exhaustedTotal.WithLabelValues(mode).Inc()
}
