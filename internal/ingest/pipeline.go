package ingest

import (
	"context"
	"strconv"
	"sync"

	"logsift/internal/logger"
	"logsift/internal/record"
	"logsift/internal/syslog"
	apperrors "logsift/pkg/errors"
	"logsift/pkg/logging"
	"logsift/pkg/metrics"
)

// Appender persists one record durably. *store.Store implements it.
type Appender interface {
	Add(ctx context.Context, rec record.Record) error
}

// Listener observes every stored record. It runs on the receive goroutine
// and should return quickly.
type Listener func(ctx context.Context, rec record.Record)

type namedListener struct {
	name string
	fn   Listener
}

// Pipeline turns packets into stored records and fans them out to
// listeners. It is shared by every receiver.
type Pipeline struct {
	parser *syslog.Parser
	store  Appender
	seq    *record.Sequence
	logger logger.Logger

	mu        sync.RWMutex
	listeners []namedListener
}

func NewPipeline(parser *syslog.Parser, store Appender, log logger.Logger) *Pipeline {
	return &Pipeline{
		parser: parser,
		store:  store,
		seq:    &record.Sequence{},
		logger: log,
	}
}

// AddListener registers l under name. name labels its errors.
func (p *Pipeline) AddListener(name string, l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, namedListener{name: name, fn: l})
}

// Record parses pkt into the record that Ingest would store.
func (p *Pipeline) Record(pkt syslog.RawPacket) record.Record {
	msg := p.parser.Parse(pkt)
	return record.FromMessage(pkt, msg, p.seq.Next(pkt.ReceivedAt))
}

// Ingest stores the record for pkt and then notifies the listeners.
// Listeners are skipped when the store rejects the record.
func (p *Pipeline) Ingest(ctx context.Context, localPort int, pkt syslog.RawPacket) (record.Record, error) {
	rec := p.Record(pkt)
	port := strconv.Itoa(localPort)
	metrics.IncSyslogPacket(port, rec.Format, len(pkt.Data))

	if err := p.store.Add(ctx, rec); err != nil {
		metrics.IncSyslogReceiveError(port, "store")
		return rec, err
	}
	p.logger.DebugwCtx(ctx, "syslog record stored",
		"format", rec.Format,
		"host", rec.Host,
	)

	p.mu.RLock()
	listeners := p.listeners
	p.mu.RUnlock()

	for _, l := range listeners {
		p.notify(ctx, l, rec)
	}
	return rec, nil
}

func (p *Pipeline) notify(ctx context.Context, l namedListener, rec record.Record) {
	defer func() {
		if r := recover(); r != nil {
			err := apperrors.RecoverPanic(r)
			metrics.IncListenerError(l.name)
			p.logger.ErrorwCtx(ctx, "Panic recovered in listener",
				"listener", l.name,
				"error", err,
			)
		}
	}()
	l.fn(logging.WithRemoteAddr(ctx, rec.Addr), rec)
}
