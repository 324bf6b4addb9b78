package circuitbreaker

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
)

func TestWrapperOpensAfterFailures(t *testing.T) {
	w := NewWrapper(DefaultConfig("test"))
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := w.Execute(context.Background(), func(context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
	}
	assert.True(t, w.IsOpen())

	called := false
	err := w.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.False(t, called)
}

func TestWrapperHonoursCancelledContext(t *testing.T) {
	w := NewWrapper(DefaultConfig("ctx"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.Execute(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, gobreaker.StateClosed, w.State())
}
