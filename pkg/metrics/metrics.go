package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 调度任务执行耗时（秒）
	JobRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reminder_job_run_duration_seconds",
			Help:    "Scheduler job tick duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		},
		[]string{"job", "status"}, // status: ok, error, panic, timeout
	)

	// 调度任务被跳过次数
	JobSkippedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_job_skipped_total",
			Help: "Total number of scheduler ticks skipped",
		},
		[]string{"job", "reason"}, // reason: running, locked
	)

	// 生成的提醒数
	RemindersEmittedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_emitted_total",
			Help: "Total number of reminder notifications recorded",
		},
		[]string{"item_type", "kind"},
	)

	// 无法评估而跳过的条目
	ReminderItemsSkippedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_skipped_items_total",
			Help: "Total number of schedule items skipped during evaluation",
		},
		[]string{"reason"},
	)

	// Outbox 发布计数
	OutboxPublishCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_total",
			Help: "Total number of outbox relay attempts",
		},
		[]string{"status"}, // status: sent, retry, failed
	)

	// 投递计数
	DispatchCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_sent_total",
			Help: "Total number of outbound deliveries",
		},
		[]string{"channel", "status"},
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Total number of queries above the slow threshold",
		},
		[]string{"statement"},
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
)

// RecordJobRun 记录调度任务执行耗时
func RecordJobRun(job, status string, duration time.Duration) {
	JobRunDuration.WithLabelValues(job, status).Observe(duration.Seconds())
}

// IncrementJobSkipped 增加任务跳过计数
func IncrementJobSkipped(job, reason string) {
	JobSkippedCount.WithLabelValues(job, reason).Inc()
}

// IncrementReminderEmitted 增加提醒计数
func IncrementReminderEmitted(itemType, kind string) {
	RemindersEmittedCount.WithLabelValues(itemType, kind).Inc()
}

// IncrementItemSkipped 增加跳过条目计数
func IncrementItemSkipped(reason string) {
	ReminderItemsSkippedCount.WithLabelValues(reason).Inc()
}

// IncrementOutboxPublish 增加 outbox 发布计数
func IncrementOutboxPublish(status string) {
	OutboxPublishCount.WithLabelValues(status).Inc()
}

// IncrementDispatch 增加投递计数
func IncrementDispatch(channel, status string) {
	DispatchCount.WithLabelValues(channel, status).Inc()
}

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// IncrementSlowQuery 记录慢查询
func IncrementSlowQuery(statement string, duration time.Duration) {
	SlowQueryCount.WithLabelValues(statementKind(statement)).Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// statementKind 只取 SQL 首个关键字作为标签
func statementKind(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToUpper(fields[0])
}
