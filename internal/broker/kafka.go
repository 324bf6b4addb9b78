package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"

	"logsift/internal/config"
	"logsift/internal/constants"
	"logsift/internal/logger"
	"logsift/internal/record"
	"logsift/internal/syslog"
	"logsift/pkg/circuitbreaker"
	apperrors "logsift/pkg/errors"
	"logsift/pkg/logging"
	"logsift/pkg/metrics"
	"logsift/pkg/retry"
)

func retryPolicy(cfg config.RetryConfig) retry.Policy {
	policy := retry.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialInterval > 0 {
		policy.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		policy.MaxInterval = cfg.MaxInterval
	}
	if cfg.Multiplier > 0 {
		policy.Multiplier = cfg.Multiplier
	}
	if cfg.MaxElapsedTime > 0 {
		policy.MaxElapsedTime = cfg.MaxElapsedTime
	}
	return policy
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	breaker *circuitbreaker.Wrapper
	policy  retry.Policy
	logger  logger.Logger
}

// NewKafkaPublisher writes to cfg.OutputTopic. breaker may be nil.
func NewKafkaPublisher(cfg config.KafkaConfig, breaker *circuitbreaker.Wrapper, log logger.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           constants.KafkaBatchTimeout,
		WriteTimeout:           constants.KafkaWriteTimeout,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}
	return newKafkaPublisher(w, cfg.OutputTopic, breaker, retryPolicy(cfg.Retry), log)
}

func newKafkaPublisher(w messageWriter, topic string, breaker *circuitbreaker.Wrapper, policy retry.Policy, log logger.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic, breaker: breaker, policy: policy, logger: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, rec record.Record) error {
	msg, err := encodeRecord(p.topic, rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	err = retry.RetryWithCallback(ctx, p.policy, func() error {
		return p.write(ctx, msg)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(constants.ServiceName, p.topic).Inc()
		p.logger.WarnwCtx(ctx, "Retrying kafka publish",
			"attempt", attempt,
			"max_attempts", p.policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
			"topic", p.topic,
		)
	})
	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	metrics.IncKafkaMessagesWritten(constants.ServiceName, p.topic)
	metrics.ObserveKafkaMessageSize(constants.ServiceName, p.topic, "out", len(msg.Value))
	return nil
}

func (p *KafkaPublisher) write(ctx context.Context, msg kafka.Message) error {
	start := time.Now()
	defer func() {
		metrics.ObserveKafkaWriteDuration(constants.ServiceName, p.topic, time.Since(start))
	}()

	if p.breaker == nil {
		return p.writer.WriteMessages(ctx, msg)
	}
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.writer.WriteMessages(ctx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return retry.NewFatalError(err)
	}
	return err
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Forwarder publishes records from a bounded queue so that a slow broker
// never stalls ingestion. Records arriving while the queue is full are
// dropped.
type Forwarder struct {
	publisher Publisher
	queue     chan record.Record
	logger    logger.Logger
	dropped   atomic.Int64
}

func NewForwarder(publisher Publisher, size int, log logger.Logger) *Forwarder {
	if size <= 0 {
		size = constants.KafkaForwardBuffer
	}
	return &Forwarder{
		publisher: publisher,
		queue:     make(chan record.Record, size),
		logger:    log,
	}
}

// Listener enqueues rec without blocking.
func (f *Forwarder) Listener() func(ctx context.Context, rec record.Record) {
	return func(ctx context.Context, rec record.Record) {
		select {
		case f.queue <- rec:
		default:
			if n := f.dropped.Add(1); n == 1 || n%1000 == 0 {
				f.logger.WarnwCtx(ctx, "Kafka forward queue full, dropping records", "dropped", n)
			}
		}
	}
}

func (f *Forwarder) Dropped() int64 {
	return f.dropped.Load()
}

// Run publishes queued records until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case rec := <-f.queue:
			if err := f.publisher.Publish(ctx, rec); err != nil && ctx.Err() == nil {
				f.logger.ErrorwCtx(ctx, "Failed to forward record",
					"error", err,
					"addr", rec.Addr,
				)
			}
		}
	}
}

type KafkaConsumer struct {
	cfg    config.KafkaConfig
	wg     sync.WaitGroup
	mu     sync.Mutex
	reader *kafka.Reader
	logger logger.Logger
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	return &KafkaConsumer{cfg: cfg, logger: log}
}

func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	c.logger.Infow("Creating Kafka reader",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
	)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	c.mu.Lock()
	c.reader = reader
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		consumeCtx := logging.WithServiceName(ctx, constants.ServiceName)
		c.logger.InfowCtx(consumeCtx, "Started consuming", "topic", topic)

		for {
			m, err := reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, io.EOF) {
					c.logger.InfowCtx(consumeCtx, "Stopped consuming",
						"topic", topic,
						"reason", "context canceled",
					)
					return
				}
				c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message",
					"error", err,
					"topic", topic,
				)
				time.Sleep(time.Second)
				continue
			}

			metrics.ObserveKafkaMessageSize(constants.ServiceName, topic, "in", len(m.Value))
			pkt := decodePacket(m)
			msgCtx := logging.WithRemoteAddr(consumeCtx, pkt.Addr)

			if err := c.processMessageWithRetry(msgCtx, pkt, handler, topic); err != nil {
				c.logger.ErrorwCtx(msgCtx, "Failed to ingest message after retries, skipping",
					"error", err,
					"topic", topic,
					"offset", m.Offset,
				)
			}
			if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
				c.logger.ErrorwCtx(msgCtx, "Failed to commit message",
					"error", err,
					"topic", topic,
				)
			}
		}
	}()

	<-ctx.Done()
	return nil
}

func (c *KafkaConsumer) processMessageWithRetry(ctx context.Context, pkt syslog.RawPacket, handler HandlerFunc, topic string) error {
	policy := retryPolicy(c.cfg.Retry)
	return retry.RetryWithCallback(ctx, policy, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = retry.NewFatalError(apperrors.RecoverPanic(r))
				c.logger.ErrorwCtx(ctx, "Panic recovered during message processing",
					"error", err,
					"topic", topic,
				)
			}
		}()
		return handler(ctx, pkt)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(constants.ServiceName, topic).Inc()
		c.logger.WarnwCtx(ctx, "Retrying message processing",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
			"topic", topic,
		)
	})
}

func (c *KafkaConsumer) Close() error {
	c.mu.Lock()
	reader := c.reader
	c.mu.Unlock()

	var err error
	if reader != nil {
		err = reader.Close()
	}
	c.wg.Wait()
	return err
}
