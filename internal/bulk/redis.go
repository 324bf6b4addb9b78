package bulk

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"logsift/internal/config"
	"logsift/internal/constants"
	"logsift/internal/job"
	"logsift/internal/logger"
	"logsift/pkg/logging"
	"logsift/pkg/metrics"
)

const redisTimeout = 2 * time.Second

// RedisMirror publishes job events on a pub/sub channel and keeps the latest
// payload of every job under KeyPrefix+id, so other processes can follow
// bulk work without a websocket.
type RedisMirror struct {
	client  redis.UniversalClient
	channel string
	prefix  string
	ttl     time.Duration
	logger  logger.Logger
}

func NewRedisMirror(client redis.UniversalClient, cfg config.RedisConfig, log logger.Logger) *RedisMirror {
	return &RedisMirror{
		client:  client,
		channel: cfg.Channel,
		prefix:  cfg.KeyPrefix,
		ttl:     time.Duration(cfg.TTLSeconds) * time.Second,
		logger:  log,
	}
}

func (m *RedisMirror) key(id string) string {
	return m.prefix + id
}

// Publish mirrors p. Failures are logged and never reach the job.
func (m *RedisMirror) Publish(ctx context.Context, p Payload) {
	body, err := json.Marshal(p)
	if err != nil {
		m.logger.ErrorwCtx(ctx, "Failed to encode job payload", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	start := time.Now()
	pipe := m.client.TxPipeline()
	if p.Event == job.EventRemove {
		pipe.Del(ctx, m.key(p.ID))
	} else {
		pipe.Set(ctx, m.key(p.ID), body, m.ttl)
	}
	pipe.Publish(ctx, m.channel, body)
	_, err = pipe.Exec(ctx)

	status := "success"
	if err != nil {
		status = "error"
		m.logger.WarnwCtx(logging.WithJobID(ctx, p.ID), "Failed to mirror job event to redis",
			"error", err,
			"event", p.Event,
		)
	}
	metrics.IncDatabaseQuery(constants.ServiceName, "redis", "mirror", status)
	metrics.ObserveDatabaseQueryDuration(constants.ServiceName, "redis", "mirror", time.Since(start))
}

// Snapshot reads the mirrored payload of id.
func (m *RedisMirror) Snapshot(ctx context.Context, id string) (Payload, error) {
	var p Payload
	body, err := m.client.Get(ctx, m.key(id)).Bytes()
	if err != nil {
		return p, err
	}
	err = json.Unmarshal(body, &p)
	return p, err
}

func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}
