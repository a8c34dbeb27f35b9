package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the exact Prometheus series named in spec §6. A single
// instance is created at startup and threaded through every component,
// the way the teacher threads its AuditLogger through tool handlers.
type Metrics struct {
	QueryRequestsTotal  *prometheus.CounterVec
	QueryDurationSecs   *prometheus.HistogramVec
	LLMCallsTotal       *prometheus.CounterVec
	LLMLatencySecs      *prometheus.HistogramVec
	LLMTokensUsed       *prometheus.CounterVec
	SQLRejectedTotal    *prometheus.CounterVec
	DBConnectionsActive *prometheus.GaugeVec
	SchemaCacheAgeSecs  *prometheus.GaugeVec

	RateLimitAcquiredTotal *prometheus.CounterVec
	RateLimitHeld          *prometheus.GaugeVec
	RateLimitRejectedTotal *prometheus.CounterVec

	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics registers every series against reg and returns the handle.
// Pass prometheus.NewRegistry() in tests to avoid collisions with the
// global default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueryRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "query_requests_total",
			Help: "Total query RPC requests by outcome status and target database.",
		}, []string{"status", "database"}),
		QueryDurationSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "query_duration_seconds",
			Help:    "SQL statement execution duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"database"}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_calls_total",
			Help: "Total LLM calls by operation.",
		}, []string{"operation"}),
		LLMLatencySecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llm_latency_seconds",
			Help:    "LLM call latency by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		LLMTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_tokens_used",
			Help: "Total prompt+completion tokens reported by the LLM provider.",
		}, []string{"operation"}),
		SQLRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sql_rejected_total",
			Help: "Total statements rejected by the validator, by reason.",
		}, []string{"reason"}),
		DBConnectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Currently acquired pool connections by database.",
		}, []string{"database"}),
		SchemaCacheAgeSecs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "schema_cache_age_seconds",
			Help: "Age of the cached schema snapshot by database.",
		}, []string{"database"}),
		RateLimitAcquiredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_acquired_total",
			Help: "Total rate-limit slots acquired by class.",
		}, []string{"class"}),
		RateLimitHeld: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rate_limit_currently_held",
			Help: "Currently held rate-limit slots by class.",
		}, []string{"class"}),
		RateLimitRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_rejected_total",
			Help: "Total rate-limit acquire timeouts by class.",
		}, []string{"class"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total unexpected internal errors surfaced across the orchestrator boundary.",
		}, []string{"component"}),
	}

	reg.MustRegister(
		m.QueryRequestsTotal, m.QueryDurationSecs,
		m.LLMCallsTotal, m.LLMLatencySecs, m.LLMTokensUsed,
		m.SQLRejectedTotal, m.DBConnectionsActive, m.SchemaCacheAgeSecs,
		m.RateLimitAcquiredTotal, m.RateLimitHeld, m.RateLimitRejectedTotal,
		m.ErrorsTotal,
	)
	return m
}
