package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastReachesEverySubscriber(t *testing.T) {
	h := New[string]("test")
	sub1 := h.Subscribe()
	sub2 := h.Subscribe()
	assert.Equal(t, 2, h.Len())

	assert.Equal(t, 2, h.Broadcast("disk full"))
	assert.Equal(t, "disk full", <-sub1.C)
	assert.Equal(t, "disk full", <-sub2.C)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := New[int]("test")
	slow := h.Subscribe()
	fast := h.Subscribe()

	for i := 0; i < subscriberBuffer+100; i++ {
		h.Broadcast(i)
		assert.Equal(t, i, <-fast.C)
	}

	assert.Equal(t, int64(100), h.Dropped())
	assert.Len(t, slow.C, subscriberBuffer)
	assert.Equal(t, 0, <-slow.C)
}

func TestCancelClosesChannel(t *testing.T) {
	h := New[int]("test")
	sub := h.Subscribe()
	sub.Cancel()
	sub.Cancel()

	_, ok := <-sub.C
	assert.False(t, ok)
	assert.Zero(t, h.Len())
	assert.Zero(t, h.Broadcast(1))
}

func TestCloseClosesEverySubscription(t *testing.T) {
	h := New[int]("test")
	sub := h.Subscribe()
	h.Close()
	h.Close()

	_, ok := <-sub.C
	assert.False(t, ok)
	sub.Cancel()

	late := h.Subscribe()
	_, ok = <-late.C
	require.False(t, ok)
}
