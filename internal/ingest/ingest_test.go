package ingest

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"logsift/internal/logger"
	"logsift/internal/record"
	"logsift/internal/syslog"
	"logsift/pkg/cel"
	"logsift/pkg/health"
	"logsift/pkg/retry"
)

type memoryStore struct {
	mu      sync.Mutex
	records []record.Record
	err     error
}

func (m *memoryStore) Add(ctx context.Context, rec record.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryStore) snapshot() []record.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]record.Record(nil), m.records...)
}

func newTestPipeline(store Appender) *Pipeline {
	return NewPipeline(syslog.NewParser(), store, logger.NopLogger())
}

func packet(text string, at time.Time) syslog.RawPacket {
	return syslog.RawPacket{Addr: "1.2.3.4", Port: 5, Data: []byte(text), ReceivedAt: at}
}

func TestIngestStoresThenNotifies(t *testing.T) {
	store := &memoryStore{}
	p := newTestPipeline(store)

	var seen []record.Record
	p.AddListener("collect", func(ctx context.Context, rec record.Record) {
		assert.Len(t, store.snapshot(), len(seen)+1)
		seen = append(seen, rec)
	})

	at := time.Date(2024, time.October, 11, 22, 14, 15, 123456789, time.UTC)
	rec, err := p.Ingest(context.Background(), 514, packet("<34>Oct 11 22:14:15 mymachine su: 'su root' failed", at))
	require.NoError(t, err)

	assert.Equal(t, "auth", rec.Facility)
	assert.Equal(t, "crit", rec.Severity)
	assert.Equal(t, "mymachine", rec.Host)
	assert.Equal(t, "su: 'su root' failed", rec.Message)
	assert.Equal(t, "rfc3164", rec.Format)
	assert.Equal(t, at.UnixMilli(), rec.Timestamp.UnixMilli())
	require.Len(t, seen, 1)
	assert.Equal(t, rec, seen[0])
}

func TestSortKeysFollowArrivalOrder(t *testing.T) {
	store := &memoryStore{}
	p := newTestPipeline(store)

	at := time.Now()
	for i := 0; i < 10; i++ {
		_, err := p.Ingest(context.Background(), 514, packet("no priority", at))
		require.NoError(t, err)
	}

	recs := store.snapshot()
	for i := 1; i < len(recs); i++ {
		assert.Greater(t, recs[i].SortKey, recs[i-1].SortKey)
	}
}

func TestStoreFailureSkipsListeners(t *testing.T) {
	store := &memoryStore{err: errors.New("disk full")}
	p := newTestPipeline(store)

	called := false
	p.AddListener("never", func(ctx context.Context, rec record.Record) { called = true })

	_, err := p.Ingest(context.Background(), 514, packet("<13>hello", time.Now()))
	assert.Error(t, err)
	assert.False(t, called)
}

func TestListenerPanicDoesNotStopOthers(t *testing.T) {
	p := newTestPipeline(&memoryStore{})

	var after int
	p.AddListener("boom", func(ctx context.Context, rec record.Record) { panic("boom") })
	p.AddListener("after", func(ctx context.Context, rec record.Record) { after++ })

	_, err := p.Ingest(context.Background(), 514, packet("<13>hello", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 1, after)
}

func TestHookFiltersRecords(t *testing.T) {
	eval, err := cel.NewEvaluator()
	require.NoError(t, err)
	filter, err := eval.CompileFilter(`severity == "crit" && structured["iut"] == "3"`)
	require.NoError(t, err)

	var matched []string
	hook := Hook("test", filter, func(ctx context.Context, rec record.Record) {
		matched = append(matched, rec.Message)
	}, logger.NopLogger())

	p := newTestPipeline(&memoryStore{})
	p.AddListener("test", hook)

	ctx := context.Background()
	_, err = p.Ingest(ctx, 514, packet(`<34>1 2003-10-11T22:14:15.003Z mymachine.example.com evntslog - ID47 [exampleSDID@32473 iut="3" eventSource="Application"] match`, time.Now()))
	require.NoError(t, err)
	_, err = p.Ingest(ctx, 514, packet(`<34>1 2003-10-11T22:14:15.003Z mymachine.example.com evntslog - ID47 [exampleSDID@32473 iut="4"] other`, time.Now()))
	require.NoError(t, err)
	// no structured data: the missing key fails evaluation and is skipped
	_, err = p.Ingest(ctx, 514, packet(`<34>Oct 11 22:14:15 mymachine plain`, time.Now()))
	require.NoError(t, err)

	assert.Equal(t, []string{"match"}, matched)
}

func TestHookWithoutFilterPassesEverything(t *testing.T) {
	n := 0
	hook := Hook("all", nil, func(ctx context.Context, rec record.Record) { n++ }, logger.NopLogger())
	hook(context.Background(), record.Record{})
	hook(context.Background(), record.Record{})
	assert.Equal(t, 2, n)
}

func TestZoneResolver(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	resolve := ZoneResolver(time.UTC, map[string]*time.Location{"10.0.0.9": tokyo})
	assert.Equal(t, tokyo, resolve("10.0.0.9"))
	assert.Equal(t, time.UTC, resolve("10.0.0.10"))
}

func TestReceiverRoundTrip(t *testing.T) {
	store := &memoryStore{}
	p := newTestPipeline(store)
	r := NewReceiver("127.0.0.1", 0, p, logger.NopLogger())

	ctx := context.Background()
	require.NoError(t, r.Listen(ctx))

	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	conn, err := net.Dial("udp", r.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("<34>Oct 11 22:14:15 mymachine su: 'su root' failed"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(store.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := store.snapshot()[0]
	assert.Equal(t, "127.0.0.1", got.Addr)
	assert.Equal(t, conn.LocalAddr().(*net.UDPAddr).Port, got.Port)
	assert.Equal(t, "mymachine", got.Host)

	r.Stop()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not stop")
	}
}

func TestReceiverStopsOnCancel(t *testing.T) {
	r := NewReceiver("127.0.0.1", 0, newTestPipeline(&memoryStore{}), logger.NopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Listen(ctx))

	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not stop")
	}
}

func TestRunWithoutListen(t *testing.T) {
	r := NewReceiver("127.0.0.1", 0, newTestPipeline(&memoryStore{}), logger.NopLogger())
	assert.Nil(t, r.LocalAddr())
	assert.ErrorIs(t, r.Run(context.Background()), errNotListening)
	r.Stop()
}

// brokenConn is a socket whose reads always fail.
type brokenConn struct {
	net.PacketConn
	reads  atomic.Int64
	closed atomic.Bool
}

func (c *brokenConn) ReadFrom(p []byte) (int, net.Addr, error) {
	c.reads.Add(1)
	return 0, nil, syscall.EIO
}

func (c *brokenConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *brokenConn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5514}
}

func TestUnusableSocketStopsOnlyItsReceiver(t *testing.T) {
	store := &memoryStore{}
	p := newTestPipeline(store)

	broken := &brokenConn{}
	failing := NewReceiver("127.0.0.1", 5514, p, logger.NopLogger())
	failing.conn = broken
	failing.policy = retry.Policy{MaxAttempts: 1, InitialInterval: time.Microsecond, MaxInterval: time.Microsecond, Multiplier: 1}

	healthy := NewReceiver("127.0.0.1", 0, p, logger.NopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, healthy.Listen(ctx))

	g, gCtx := errgroup.WithContext(ctx)
	failed := make(chan error, 1)
	g.Go(func() error {
		err := failing.Run(gCtx)
		failed <- err
		return err
	})
	g.Go(func() error { return healthy.Run(gCtx) })

	select {
	case err := <-failed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("failing receiver did not give up")
	}
	assert.Equal(t, int64(maxConsecutiveErrors), broken.reads.Load())
	assert.True(t, broken.closed.Load())
	assert.ErrorIs(t, failing.Check(ctx), syscall.EIO)
	assert.NoError(t, gCtx.Err())

	conn, err := net.Dial("udp", healthy.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("<13>Oct 11 22:14:15 host app: still receiving"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(store.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)

	registry := health.NewCheckerRegistry()
	registry.RegisterOptional(failing)
	registry.RegisterOptional(healthy)
	report := registry.Check(ctx)
	assert.Equal(t, health.StatusDegraded, report.Status)
	assert.Equal(t, health.StatusDegraded, report.Checks["syslog:5514"].Status)
	assert.Equal(t, health.StatusHealthy, report.Checks["syslog:0"].Status)

	cancel()
	require.NoError(t, g.Wait())
}
