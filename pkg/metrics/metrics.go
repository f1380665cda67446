package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_evaluations_total",
			Help: "Total number of record evaluations against the active rule set (count)",
		},
		[]string{"status"},
	)

	EvaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rule_evaluation_duration_ms",
			Help:    "Duration of a single record evaluation in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"status"},
	)

	RuleMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_matches_total",
			Help: "Total number of rule matches during evaluation (count)",
		},
		[]string{"rule_id", "rule_type"},
	)

	RuleOverridesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_overrides_total",
			Help: "Total number of reported manual overrides of rule outcomes (count)",
		},
		[]string{"rule_id"},
	)

	VariantAssignmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_variant_assignments_total",
			Help: "Total number of A/B variant assignments during evaluation (count)",
		},
		[]string{"variant"},
	)

	ActiveRules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rule_engine_active_rules",
			Help: "Number of active rules in the evaluation snapshot (count)",
		},
	)

	SnapshotReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_snapshot_reloads_total",
			Help: "Total number of active rule snapshot reloads (count)",
		},
		[]string{"status"},
	)

	CounterFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_counter_flushes_total",
			Help: "Total number of fire counter flushes to the store (count)",
		},
		[]string{"status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"topic"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"operation"},
	)
)

func RegisterEngineMetrics() {
	prometheus.MustRegister(EvaluationsTotal)
	prometheus.MustRegister(EvaluationDuration)
	prometheus.MustRegister(RuleMatchesTotal)
	prometheus.MustRegister(RuleOverridesTotal)
	prometheus.MustRegister(VariantAssignmentsTotal)
	prometheus.MustRegister(ActiveRules)
	prometheus.MustRegister(SnapshotReloadsTotal)
	prometheus.MustRegister(CounterFlushesTotal)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func RegisterAuthoringMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
	prometheus.MustRegister(DatabaseQueriesTotal)
	prometheus.MustRegister(DatabaseQueryDuration)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
}

func ObserveEvaluationDuration(duration time.Duration, status string) {
	EvaluationsTotal.WithLabelValues(status).Inc()
	EvaluationDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func IncRuleMatch(ruleID, ruleType string) {
	RuleMatchesTotal.WithLabelValues(ruleID, ruleType).Inc()
}

func IncRuleOverride(ruleID string) {
	RuleOverridesTotal.WithLabelValues(ruleID).Inc()
}

func IncVariantAssignment(variant string) {
	VariantAssignmentsTotal.WithLabelValues(variant).Inc()
}

func SetActiveRules(count int) {
	ActiveRules.Set(float64(count))
}

func IncSnapshotReload(status string) {
	SnapshotReloadsTotal.WithLabelValues(status).Inc()
}

func IncCounterFlush(status string) {
	CounterFlushesTotal.WithLabelValues(status).Inc()
}

func IncKafkaMessagesWritten(topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(topic).Inc()
}

func IncDatabaseQuery(operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(operation, status).Inc()
}

func ObserveDatabaseQueryDuration(operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(operation).Observe(float64(duration.Milliseconds()))
}
