package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"logsift/internal/logger"
	"logsift/internal/syslog"
	"logsift/pkg/logging"
	"logsift/pkg/metrics"
	"logsift/pkg/retry"
)

const (
	// MaxPacketSize is the largest UDP payload.
	MaxPacketSize = 65535
	// maxConsecutiveErrors read failures in a row mean the socket is unusable.
	maxConsecutiveErrors = 50
)

var errNotListening = errors.New("receiver is not listening")

// Receiver reads datagrams from one UDP port into a Pipeline.
type Receiver struct {
	bind     string
	port     int
	pipeline *Pipeline
	logger   logger.Logger
	policy   retry.Policy

	mu      sync.Mutex
	conn    net.PacketConn
	running bool
	failure error
	done    chan struct{}
}

func NewReceiver(bind string, port int, pipeline *Pipeline, log logger.Logger) *Receiver {
	return &Receiver{
		bind:     bind,
		port:     port,
		pipeline: pipeline,
		logger:   log.With("port", port),
		policy:   retry.DefaultPolicy(),
		done:     make(chan struct{}),
	}
}

// Listen binds the socket, retrying while the address is still held by a
// previous process.
func (r *Receiver) Listen(ctx context.Context) error {
	addr := net.JoinHostPort(r.bind, strconv.Itoa(r.port))

	var conn net.PacketConn
	err := retry.RetryWithCallback(ctx, r.policy, func() error {
		c, err := net.ListenPacket("udp", addr)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.IncSyslogReceiveError(strconv.Itoa(r.port), "bind")
		r.logger.WarnwCtx(ctx, "Retrying syslog bind",
			"addr", addr,
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", err,
		)
	})
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	return nil
}

// LocalAddr is the bound address, or nil before Listen.
func (r *Receiver) LocalAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Run receives until ctx is cancelled, Stop is called or the socket keeps
// failing. An unusable socket ends only this receiver: Run closes it, records
// the failure for Check and returns nil.
func (r *Receiver) Run(ctx context.Context) error {
	r.mu.Lock()
	conn := r.conn
	if conn == nil || r.running {
		r.mu.Unlock()
		return errNotListening
	}
	r.running = true
	r.mu.Unlock()
	defer close(r.done)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	port := strconv.Itoa(r.port)
	r.logger.InfowCtx(ctx, "Syslog receiver started", "addr", conn.LocalAddr().String())

	buf := make([]byte, MaxPacketSize)
	failures := 0
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				r.logger.InfowCtx(ctx, "Syslog receiver stopped")
				return nil
			}
			failures++
			metrics.IncSyslogReceiveError(port, "read")
			r.logger.ErrorwCtx(ctx, "Syslog receive failed", "error", err)
			if failures >= maxConsecutiveErrors {
				conn.Close()
				r.fail(ctx, fmt.Errorf("syslog socket on port %d is unusable: %w", r.port, err))
				return nil
			}
			r.pause(ctx, r.policy.Delay(failures))
			continue
		}
		failures = 0

		pkt := syslog.RawPacket{
			Data:       append([]byte(nil), buf[:n]...),
			ReceivedAt: time.Now(),
		}
		if udp, ok := from.(*net.UDPAddr); ok {
			pkt.Addr = udp.IP.String()
			pkt.Port = udp.Port
		} else if from != nil {
			pkt.Addr = from.String()
		}

		pktCtx := logging.WithRemoteAddr(ctx, pkt.Addr)
		if _, err := r.pipeline.Ingest(pktCtx, r.port, pkt); err != nil {
			r.logger.ErrorwCtx(pktCtx, "Failed to store syslog record",
				"remote_port", pkt.Port,
				"message", string(pkt.Data),
				"error", err,
			)
		}
	}
}

func (r *Receiver) fail(ctx context.Context, err error) {
	r.mu.Lock()
	r.failure = err
	r.mu.Unlock()

	metrics.IncSyslogReceiveError(strconv.Itoa(r.port), "unusable")
	r.logger.ErrorwCtx(ctx, "Syslog receiver gave up", "error", err)
}

// Name identifies the receiver in health reports.
func (r *Receiver) Name() string {
	return "syslog:" + strconv.Itoa(r.port)
}

// Check fails once the socket has been given up as unusable.
func (r *Receiver) Check(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure
}

func (r *Receiver) pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Stop closes the socket and waits for Run to return.
func (r *Receiver) Stop() {
	r.mu.Lock()
	conn, running := r.conn, r.running
	r.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if running {
		<-r.done
	}
}
