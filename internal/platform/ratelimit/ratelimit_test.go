package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custody/pkg/platform/middleware/metadata"
	"custody/pkg/requestcontext"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func TestMemoryAllow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	store := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	for i := range 3 {
		res, err := store.Allow(ctx, "ip:10.0.0.1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
		clock.now = clock.now.Add(10 * time.Second)
	}

	res, err := store.Allow(ctx, "ip:10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 30, res.RetryAfter)

	other, err := store.Allow(ctx, "ip:10.0.0.2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys are counted separately")

	clock.now = clock.now.Add(31 * time.Second)
	res, err = store.Allow(ctx, "ip:10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "oldest hit left the window")
}

func TestMemoryDropsIdleWindows(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	store := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	for i := range 50 {
		_, err := store.Allow(ctx, fmt.Sprintf("ip:198.51.100.%d", i), 2, time.Minute)
		require.NoError(t, err)
	}
	assert.Len(t, store.windows, 50)

	clock.now = clock.now.Add(2 * time.Minute)
	res, err := store.Allow(ctx, "ip:192.0.2.1", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Len(t, store.windows, 1, "idle windows are evicted")

	t.Run("rejected checks do not create windows", func(t *testing.T) {
		res, err := store.Allow(ctx, "ip:192.0.2.99", 0, time.Minute)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.NotContains(t, store.windows, "ip:192.0.2.99")
	})
}

func TestRetryAfterFloor(t *testing.T) {
	assert.Equal(t, 1, retryAfter(0))
	assert.Equal(t, 1, retryAfter(200*time.Millisecond))
	assert.Equal(t, 2, retryAfter(1100*time.Millisecond))
}

type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Duration) (*Result, error) {
	return nil, errors.New("redis down")
}

func serve(mw *Middleware, ip string) *httptest.ResponseRecorder {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/coc/form/ABC", nil)
	req = req.WithContext(requestcontext.WithClientMetadata(req.Context(), ip, "test-agent"))
	rec := httptest.NewRecorder()
	mw.Handler(next).ServeHTTP(rec, req)
	return rec
}

func TestMiddleware(t *testing.T) {
	t.Run("rejects once the window is full", func(t *testing.T) {
		mw := New(NewMemory(), 2, time.Minute, nil)

		first := serve(mw, "192.0.2.7")
		assert.Equal(t, http.StatusNoContent, first.Code)
		assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, first.Header().Get("X-RateLimit-Reset"))

		assert.Equal(t, http.StatusNoContent, serve(mw, "192.0.2.7").Code)

		blocked := serve(mw, "192.0.2.7")
		assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
		assert.NotEmpty(t, blocked.Header().Get("Retry-After"))
		assert.Contains(t, blocked.Body.String(), "rate_limit_exceeded")

		assert.Equal(t, http.StatusNoContent, serve(mw, "192.0.2.8").Code)
	})

	t.Run("fails open when the store errors", func(t *testing.T) {
		mw := New(failingStore{}, 1, time.Minute, nil)
		rec := serve(mw, "192.0.2.7")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	})

	t.Run("disabled passes everything through", func(t *testing.T) {
		mw := New(NewMemory(), 1, time.Minute, nil, WithDisabled(true))
		for range 3 {
			assert.Equal(t, http.StatusNoContent, serve(mw, "192.0.2.7").Code)
		}
	})
}

func TestMiddlewareKeysOnPeerForUntrustedForwarding(t *testing.T) {
	store := NewMemory()
	mw := New(store, 2, time.Minute, nil)
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := metadata.ClientMetadata(mw.Handler(next))

	rejected := 0
	for i := range 50 {
		req := httptest.NewRequest(http.MethodGet, "/coc/form/ABC", nil)
		req.RemoteAddr = "203.0.113.50:41000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.%d.%d", i/256, i%256))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			rejected++
		}
	}
	assert.Equal(t, 48, rejected)
	assert.Len(t, store.windows, 1)
	assert.Contains(t, store.windows, "ip:203.0.113.50")
}
