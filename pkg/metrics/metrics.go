package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SyslogPacketsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syslog_packets_total",
			Help: "Total number of syslog datagrams received (count)",
		},
		[]string{"port", "format"},
	)

	SyslogReceiveErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syslog_receive_errors_total",
			Help: "Total number of socket or store errors in the receive loop (count)",
		},
		[]string{"port", "stage"},
	)

	SyslogPacketSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syslog_packet_size_bytes",
			Help:    "Size of received syslog datagrams in bytes",
			Buckets: []float64{64, 128, 256, 512, 1024, 2048, 8192, 65535},
		},
		[]string{"port"},
	)

	ListenerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listener_errors_total",
			Help: "Total number of failed record listener invocations (count)",
		},
		[]string{"listener"},
	)

	IndexWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "index_writes_total",
			Help: "Total number of records written to the index (count)",
		},
		[]string{"operation", "status"},
	)

	IndexWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "index_write_duration_ms",
			Help:    "Duration of index commits in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"operation"},
	)

	IndexQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "index_queries_total",
			Help: "Total number of index queries (count)",
		},
		[]string{"operation", "status"},
	)

	IndexQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "index_query_duration_ms",
			Help:    "Duration of index queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"operation"},
	)

	JobsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_active",
			Help: "Number of running bulk jobs (count)",
		},
		[]string{"kind"},
	)

	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_total",
			Help: "Total number of finished bulk jobs (count)",
		},
		[]string{"kind", "status"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Duration of bulk jobs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
		},
		[]string{"kind"},
	)

	BulkRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_rows_total",
			Help: "Total number of rows exported or imported (count)",
		},
		[]string{"kind"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
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
		[]string{"service", "topic"},
	)

	KafkaMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_message_size_bytes",
			Help:    "Size of Kafka messages in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"service", "topic", "direction"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"service", "database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"service", "database", "operation"},
	)

	WebsocketClients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "websocket_clients",
			Help: "Number of connected websocket clients (count)",
		},
		[]string{"channel"},
	)

	WebsocketDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_dropped_total",
			Help: "Total number of events dropped for slow websocket clients (count)",
		},
		[]string{"channel"},
	)
)

func RegisterSyslogMetrics() {
	prometheus.MustRegister(SyslogPacketsTotal)
	prometheus.MustRegister(SyslogReceiveErrorsTotal)
	prometheus.MustRegister(SyslogPacketSizeBytes)
	prometheus.MustRegister(ListenerErrorsTotal)
}

func RegisterIndexMetrics() {
	prometheus.MustRegister(IndexWritesTotal)
	prometheus.MustRegister(IndexWriteDuration)
	prometheus.MustRegister(IndexQueriesTotal)
	prometheus.MustRegister(IndexQueryDuration)
}

func RegisterJobMetrics() {
	prometheus.MustRegister(JobsActive)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(BulkRowsTotal)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
	prometheus.MustRegister(KafkaMessageSizeBytes)
	prometheus.MustRegister(KafkaWriteDuration)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func RegisterAPIMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
	prometheus.MustRegister(DatabaseQueriesTotal)
	prometheus.MustRegister(DatabaseQueryDuration)
	prometheus.MustRegister(WebsocketClients)
	prometheus.MustRegister(WebsocketDroppedTotal)
}

func IncSyslogPacket(port, format string, sizeBytes int) {
	SyslogPacketsTotal.WithLabelValues(port, format).Inc()
	SyslogPacketSizeBytes.WithLabelValues(port).Observe(float64(sizeBytes))
}

func IncSyslogReceiveError(port, stage string) {
	SyslogReceiveErrorsTotal.WithLabelValues(port, stage).Inc()
}

func IncListenerError(listener string) {
	ListenerErrorsTotal.WithLabelValues(listener).Inc()
}

func ObserveIndexWrite(operation string, records int, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	IndexWritesTotal.WithLabelValues(operation, status).Add(float64(records))
	IndexWriteDuration.WithLabelValues(operation).Observe(float64(duration.Milliseconds()))
}

func ObserveIndexQuery(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	IndexQueriesTotal.WithLabelValues(operation, status).Inc()
	IndexQueryDuration.WithLabelValues(operation).Observe(float64(duration.Milliseconds()))
}

func JobStarted(kind string) {
	JobsActive.WithLabelValues(kind).Inc()
}

func JobFinished(kind string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	JobsActive.WithLabelValues(kind).Dec()
	JobsTotal.WithLabelValues(kind, status).Inc()
	JobDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func AddBulkRows(kind string, rows int) {
	BulkRowsTotal.WithLabelValues(kind).Add(float64(rows))
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaMessageSize(service, topic, direction string, sizeBytes int) {
	KafkaMessageSizeBytes.WithLabelValues(service, topic, direction).Observe(float64(sizeBytes))
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func IncDatabaseQuery(service, database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(service, database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(service, database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(service, database, operation).Observe(float64(duration.Milliseconds()))
}

func SetWebsocketClients(channel string, count int) {
	WebsocketClients.WithLabelValues(channel).Set(float64(count))
}

func IncWebsocketDropped(channel string) {
	WebsocketDroppedTotal.WithLabelValues(channel).Inc()
}
