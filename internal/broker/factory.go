package broker

import (
	"fmt"

	"github.com/sony/gobreaker"

	"logsift/internal/config"
	"logsift/internal/logger"
	"logsift/pkg/circuitbreaker"
)

// NewPublisher returns nil when cfg.Type is empty.
func NewPublisher(cfg config.BrokerConfig, cb config.CircuitBreakerConfig, log logger.Logger) (Publisher, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "kafka":
		var breaker *circuitbreaker.Wrapper
		if cb.Enabled {
			breaker = circuitbreaker.NewWrapper(breakerConfig("kafka-publisher", cb))
		}
		return NewKafkaPublisher(cfg.Kafka, breaker, log), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}

// NewConsumer returns nil when no input topic is configured.
func NewConsumer(cfg config.BrokerConfig, log logger.Logger) (Consumer, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "kafka":
		if cfg.Kafka.InputTopic == "" {
			return nil, nil
		}
		return NewKafkaConsumer(cfg.Kafka, log), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}

func breakerConfig(name string, cfg config.CircuitBreakerConfig) circuitbreaker.Config {
	c := circuitbreaker.DefaultConfig(name)
	if cfg.MaxRequests > 0 {
		c.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		c.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		c.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 || cfg.MinRequests > 0 {
		ratio, minRequests := cfg.FailureRatio, cfg.MinRequests
		if ratio <= 0 {
			ratio = 0.5
		}
		c.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.Requests >= minRequests && float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		}
	}
	return c
}
