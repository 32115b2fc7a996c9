package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Number of queries slower than the configured threshold",
		},
		[]string{"sql"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	ProgressUpsertCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "milestone_progress_upsert_count",
			Help: "Total number of member progress upserts",
		},
		[]string{"source"}, // source: manual, snapshot
	)

	MilestoneCompletedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "milestone_completed_count",
			Help: "Total number of milestone completion transitions",
		},
		[]string{"source"}, // source: auto, override
	)

	ProgressCalculationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "milestone_progress_calculation_failures",
			Help: "Milestones whose target data could not be evaluated",
		},
		[]string{"milestone_type"},
	)

	SnapshotProcessedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "member_snapshot_processed_count",
			Help: "Total number of member snapshots processed",
		},
		[]string{"status"}, // status: success, failed, duplicate
	)

	SnapshotFacetParseFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "member_snapshot_facet_parse_failures",
			Help: "Snapshot facets dropped because they could not be parsed",
		},
		[]string{"facet"},
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

func IncrementSlowQuery(sql string, _ time.Duration) {
	SlowQueryCount.WithLabelValues(sql).Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func IncrementProgressUpsert(source string) {
	ProgressUpsertCount.WithLabelValues(source).Inc()
}

func IncrementMilestoneCompleted(source string) {
	MilestoneCompletedCount.WithLabelValues(source).Inc()
}

func IncrementCalculationFailure(milestoneType string) {
	ProgressCalculationFailures.WithLabelValues(milestoneType).Inc()
}

func IncrementSnapshotProcessed(status string) {
	SnapshotProcessedCount.WithLabelValues(status).Inc()
}

func IncrementFacetParseFailure(facet string) {
	SnapshotFacetParseFailures.WithLabelValues(facet).Inc()
}
