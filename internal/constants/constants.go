package constants

import "time"

const (
	ServiceName = "logsift"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
	// KafkaForwardBuffer is the number of records queued for publishing
	// before new ones are dropped.
	KafkaForwardBuffer = 4096
)

const (
	ShutdownTimeout = 5 * time.Second
	// JoinTimeout bounds how long shutdown waits for running bulk jobs.
	JoinTimeout = 30 * time.Second
)

const (
	HeaderTzOffset = "X-Tz-Offset"
	CookieTzOffset = "X-Tz-Offset"
)

const (
	DefaultBucketMinutes = 60
	DefaultPageSize      = 100
)

const (
	MigrationChunkSize = 1000
)
