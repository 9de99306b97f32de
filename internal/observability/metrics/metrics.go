package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConversationMetrics exposes counters/histograms for conversation turns.
// All methods are nil-safe so wiring stays optional in tests.
type ConversationMetrics struct {
	turnsTotal       *prometheus.CounterVec
	llmLatency       *prometheus.HistogramVec
	bookingsTotal    *prometheus.CounterVec
	rateLimitedTotal prometheus.Counter
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Processed conversation turns",
		}, []string{"intent", "status"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "conversation",
			Name:      "llm_latency_seconds",
			Help:      "Latency of LLM generation calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Appointments booked through the assistant",
		}, []string{"specialty"}),
		rateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "conversation",
			Name:      "rate_limited_total",
			Help:      "Turns rejected by the per-user rate limit",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.llmLatency, m.bookingsTotal, m.rateLimitedTotal)
	return m
}

func (m *ConversationMetrics) ObserveTurn(intent, status string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(intent, status).Inc()
}

func (m *ConversationMetrics) ObserveLLMLatency(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.llmLatency.WithLabelValues(operation).Observe(seconds)
}

func (m *ConversationMetrics) ObserveBooking(specialty string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(specialty).Inc()
}

func (m *ConversationMetrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.rateLimitedTotal.Inc()
}
