//go:build integration

package broker

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"

	"logsift/internal/config"
	"logsift/internal/logger"
	"logsift/internal/syslog"
)

func startKafka(t *testing.T) []string {
	t.Helper()
	ctx := context.Background()

	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	}

	container, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0",
		kafkamodule.WithClusterID("logsift-test"),
	)
	if err != nil {
		t.Fatalf("failed to start kafka container: %v", err)
	}
	t.Cleanup(func() {
		container.Terminate(ctx)
	})

	brokers, err := container.Brokers(ctx)
	if err != nil {
		t.Fatalf("failed to get kafka brokers: %v", err)
	}
	return brokers
}

func TestKafkaPublisherIntegration(t *testing.T) {
	brokers := startKafka(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cfg := config.KafkaConfig{
		Brokers:     brokers,
		OutputTopic: "syslog_records",
		Retry:       config.RetryConfig{MaxAttempts: 10, InitialInterval: 200 * time.Millisecond},
	}
	pub := NewKafkaPublisher(cfg, nil, logger.NopLogger())
	defer pub.Close()

	rec := sampleRecord()
	require.NoError(t, pub.Publish(ctx, rec))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       cfg.OutputTopic,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer reader.Close()

	m, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec.Addr, string(m.Key))

	var got RecordMessage
	require.NoError(t, json.Unmarshal(m.Value, &got))
	assert.Equal(t, NewRecordMessage(rec), got)
}

func TestKafkaConsumerIntegration(t *testing.T) {
	brokers := startKafka(t)
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	const topic = "syslog_raw"
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
	}
	defer writer.Close()

	require.Eventually(t, func() bool {
		err := writer.WriteMessages(ctx, kafka.Message{
			Topic: topic,
			Key:   []byte("192.0.2.7"),
			Value: []byte("<13>Oct 12 01:02:03 host7 app: from kafka"),
			Headers: []kafka.Header{
				{Key: headerPort, Value: []byte("5140")},
				{Key: headerReceivedAt, Value: []byte("1700000000000")},
			},
		})
		return err == nil
	}, 30*time.Second, time.Second)

	consumer := NewKafkaConsumer(config.KafkaConfig{
		Brokers: brokers,
		GroupID: "logsift-test",
	}, logger.NopLogger())

	got := make(chan syslog.RawPacket, 1)
	consumeCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- consumer.Consume(consumeCtx, topic, func(_ context.Context, pkt syslog.RawPacket) error {
			select {
			case got <- pkt:
			default:
			}
			return nil
		})
	}()

	select {
	case pkt := <-got:
		assert.Equal(t, "192.0.2.7", pkt.Addr)
		assert.Equal(t, 5140, pkt.Port)
		assert.Equal(t, int64(1700000000000), pkt.ReceivedAt.UnixMilli())
		assert.Contains(t, string(pkt.Data), "from kafka")
	case <-ctx.Done():
		t.Fatal("no message consumed")
	}

	stop()
	require.NoError(t, <-done)
	require.NoError(t, consumer.Close())
}
