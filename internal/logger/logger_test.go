package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"logsift/pkg/logging"
)

func TestContextFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := FromZap(zap.New(core), "logsift")

	ctx := logging.WithJobID(context.Background(), "job-1")
	ctx = logging.WithRemoteAddr(ctx, "192.0.2.7")
	log.With("port", 514).WarnwCtx(ctx, "Syslog receive failed", "error", "EIO")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "job-1", fields["job_id"])
	assert.Equal(t, "192.0.2.7", fields["remote_addr"])
	assert.Equal(t, "logsift", fields["service_name"])
	assert.Equal(t, int64(514), fields["port"])
	assert.Equal(t, "EIO", fields["error"])
}

func TestServiceNameFromContextWins(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := FromZap(zap.New(core), "logsift")

	log.InfowCtx(logging.WithServiceName(context.Background(), "migrate"), "Migration started")
	log.DebugwCtx(context.Background(), "dropped below level")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "migrate", entries[0].ContextMap()["service_name"])
}

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		log, err := New("debug", format, "logsift")
		require.NoError(t, err)
		assert.NotNil(t, log.With("k", "v"))
	}
}
