package ratelimit

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Wait(t *testing.T) {
	t.Parallel()

	l := New(Config{
		RPS:   10, // 10 requests per second = 100ms interval
		Burst: 1,
	})
	ctx := context.Background()

	// Consume initial token
	require.NoError(t, l.Wait(ctx, "10.0.0.1"))

	// Next one should wait ~100ms
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "10.0.0.1"))
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.001, Burst: 1})
	require.True(t, l.Allow("client"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "client"))
}

func TestLimiter_AllowPerClient(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 2})

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	// Client B should not be blocked by A
	assert.True(t, l.Allow("b"))
	assert.Equal(t, 2, l.Clients())
}

func TestLimiter_UnlimitedWhenRateUnset(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow(""))
	}
}

func TestClientKey(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest("GET", "/convert", nil)
	req.RemoteAddr = "192.0.2.10:41234"
	assert.Equal(t, "192.0.2.10", ClientKey(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", ClientKey(req))

	req.Header.Del("X-Forwarded-For")
	req.RemoteAddr = "no-port"
	assert.Equal(t, "no-port", ClientKey(req))
}
