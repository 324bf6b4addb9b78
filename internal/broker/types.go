package broker

import (
	"context"

	"logsift/internal/record"
	"logsift/internal/syslog"
)

// Publisher forwards stored records to a downstream topic.
type Publisher interface {
	Publish(ctx context.Context, rec record.Record) error
	Close() error
}

// Consumer feeds raw syslog payloads from a topic to handler until ctx is
// cancelled.
type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
}

type HandlerFunc func(ctx context.Context, pkt syslog.RawPacket) error
