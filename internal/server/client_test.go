package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBareClient(bufferSize int) *Client {
	cfg := defaultConfig()
	cfg.SendBufferSize = bufferSize
	return NewClient(nil, nil, nil, 1, "test", cfg, nil)
}

func TestClientWriteFailsWhenBufferFull(t *testing.T) {
	c := newBareClient(2)

	require.NoError(t, c.Write([]byte("a")))
	require.NoError(t, c.Write([]byte("b")))
	assert.ErrorIs(t, c.Write([]byte("c")), ErrSendBufferFull)
}

func TestClientWriteAfterCloseFails(t *testing.T) {
	c := newBareClient(4)

	c.Close()
	c.Close()

	assert.ErrorIs(t, c.Write([]byte("a")), ErrConnectionClosed)
}

func TestRateLimiterAllowsBurstThenThrottles(t *testing.T) {
	limiter := newRateLimiter(RateLimitConfig{Burst: 3, RefillInterval: time.Hour})

	for i := 0; i < 3; i++ {
		assert.Truef(t, limiter.Allow(), "envelope %d within burst", i)
	}
	assert.False(t, limiter.Allow())
}

func TestRateLimiterSanitizesInput(t *testing.T) {
	limiter := newRateLimiter(RateLimitConfig{})

	assert.Equal(t, 1, limiter.Burst())
	assert.True(t, limiter.Allow())
}

func TestClientThrottleWaitsForToken(t *testing.T) {
	cfg := defaultConfig()
	cfg.RateLimit = RateLimitConfig{Burst: 1, RefillInterval: 150 * time.Millisecond}
	c := NewClient(nil, nil, nil, 1, "test", cfg, nil)

	require.NoError(t, c.throttle(context.Background()))

	start := time.Now()
	require.NoError(t, c.throttle(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestClientThrottleStopsWhenContextEnds(t *testing.T) {
	cfg := defaultConfig()
	cfg.RateLimit = RateLimitConfig{Burst: 1, RefillInterval: time.Hour}
	c := NewClient(nil, nil, nil, 1, "test", cfg, nil)
	require.NoError(t, c.throttle(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, c.throttle(ctx), context.DeadlineExceeded)
}

func TestIsExpectedCloseError(t *testing.T) {
	assert.True(t, isExpectedCloseError(nil))
	assert.True(t, isExpectedCloseError(errString("write tcp: use of closed network connection")))
	assert.True(t, isExpectedCloseError(errString("websocket: close sent")))
	assert.False(t, isExpectedCloseError(errString("tls: bad certificate")))
}

type errString string

func (e errString) Error() string { return string(e) }
