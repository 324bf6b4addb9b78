package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLogFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetLogFields(ctx))

	ctx = WithJobID(ctx, "j1")
	ctx = WithRemoteAddr(ctx, "10.0.0.1")
	assert.Equal(t, []interface{}{"job_id", "j1", "remote_addr", "10.0.0.1"}, GetLogFields(ctx))
	assert.Equal(t, "j1", GetJobID(ctx))
	assert.Empty(t, GetRequestID(ctx))
}
