package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokentrust/pkg/utils"
)

const testToken = "So1anaTestMint1111111111111111111111111111"

func pairJSON(token string, liquidity float64) string {
	return fmt.Sprintf(`{
		"chainId": "solana",
		"dexId": "raydium",
		"pairAddress": "pair-%0.f",
		"baseToken": {"address": %q, "symbol": "TEST"},
		"quoteToken": {"address": "So11111111111111111111111111111111111111112", "symbol": "SOL"},
		"priceUsd": "0.0123",
		"txns": {"m5": {"buys": 5, "sells": 1}, "h1": {"buys": 40, "sells": 20}, "h24": {"buys": 400, "sells": 380}},
		"volume": {"m5": 800, "h1": 9000, "h24": 60000},
		"priceChange": {"m5": 6.5, "h1": 12, "h24": 30},
		"liquidity": {"usd": %f},
		"fdv": 900000,
		"marketCap": 850000
	}`, liquidity, token, liquidity)
}

type recordingServer struct {
	mu       sync.Mutex
	clock    *utils.FakeClock
	calls    []time.Time
	handlers []http.HandlerFunc
}

func (s *recordingServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	idx := len(s.calls)
	s.calls = append(s.calls, s.clock.Now())
	h := s.handlers[len(s.handlers)-1]
	if idx < len(s.handlers) {
		h = s.handlers[idx]
	}
	s.mu.Unlock()
	h(w, r)
}

func (s *recordingServer) callTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.calls...)
}

func okHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func tooManyRequests(retryAfter string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if retryAfter != "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		w.WriteHeader(http.StatusTooManyRequests)
	}
}

func newTestCache(t *testing.T, handlers ...http.HandlerFunc) (*Cache, *recordingServer, *utils.FakeClock) {
	t.Helper()
	return newTestCacheWith(t, Config{}, handlers...)
}

func newTestCacheWith(t *testing.T, cfg Config, handlers ...http.HandlerFunc) (*Cache, *recordingServer, *utils.FakeClock) {
	t.Helper()
	clock := utils.NewFakeClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	rec := &recordingServer{clock: clock, handlers: handlers}
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)

	cfg.BaseURL = srv.URL
	cfg.HTTPClient = srv.Client()
	cfg.Clock = clock
	return NewCache(cfg), rec, clock
}

func TestCacheGet(t *testing.T) {
	ctx := context.Background()

	t.Run("Selects most liquid base pair", func(t *testing.T) {
		body := "[" + pairJSON(testToken, 5000) + "," + pairJSON(testToken, 120000) + "," + pairJSON("OtherMint", 9e9) + "]"
		cache, _, _ := newTestCache(t, okHandler(body))

		snap, err := cache.Get(ctx, testToken)
		require.NoError(t, err)
		require.False(t, snap.IsEmpty())
		assert.Equal(t, 120000.0, snap.LiquidityUSD)
		assert.Equal(t, 60000.0, snap.Volume.H24)
		assert.Equal(t, 6.5, snap.PriceChange.M5)
		assert.Equal(t, 5, snap.Txns.M5.Buys)
		assert.InDelta(t, 0.0123, snap.PriceUSD, 1e-9)
		assert.Equal(t, 850000.0, snap.EffectiveMarketCap())
	})

	t.Run("Pairs quoting the token are ignored", func(t *testing.T) {
		quoted := `{
			"chainId": "solana",
			"pairAddress": "pair-quoted",
			"baseToken": {"address": "OtherMint", "symbol": "OTHER"},
			"quoteToken": {"address": "` + testToken + `", "symbol": "TEST"},
			"priceUsd": "42",
			"liquidity": {"usd": 500000}
		}`
		cache, rec, _ := newTestCache(t, okHandler("["+quoted+"]"))

		snap, err := cache.Get(ctx, testToken)
		require.NoError(t, err)
		assert.True(t, snap.IsEmpty())
		assert.Empty(t, snap.Symbol)
		assert.Zero(t, snap.PriceUSD)

		// empty snapshots are not cached
		_, err = cache.Get(ctx, testToken)
		require.NoError(t, err)
		assert.Len(t, rec.callTimes(), 2)
	})

	t.Run("Cache hit within TTL issues no request", func(t *testing.T) {
		cache, rec, clock := newTestCache(t, okHandler("["+pairJSON(testToken, 1000)+"]"))

		_, err := cache.Get(ctx, testToken)
		require.NoError(t, err)
		clock.Advance(4 * time.Minute)
		_, err = cache.Get(ctx, testToken)
		require.NoError(t, err)
		assert.Len(t, rec.callTimes(), 1)

		clock.Advance(time.Minute + time.Second)
		_, err = cache.Get(ctx, testToken)
		require.NoError(t, err)
		assert.Len(t, rec.callTimes(), 2, "expiry should trigger exactly one new request")
	})

	t.Run("Minimum spacing between requests", func(t *testing.T) {
		cache, rec, _ := newTestCache(t, okHandler("["+pairJSON(testToken, 1000)+"]"))

		_, err := cache.Get(ctx, testToken)
		require.NoError(t, err)
		_, err = cache.Get(ctx, "AnotherMint")
		require.NoError(t, err)

		calls := rec.callTimes()
		require.Len(t, calls, 2)
		assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), DefaultMinInterval)
	})

	t.Run("Retry-After is honoured once", func(t *testing.T) {
		cache, rec, clock := newTestCache(t,
			tooManyRequests("5"),
			okHandler("["+pairJSON(testToken, 1000)+"]"),
		)

		snap, err := cache.Get(ctx, testToken)
		require.NoError(t, err)
		assert.False(t, snap.IsEmpty())

		calls := rec.callTimes()
		require.Len(t, calls, 2)
		assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), 5*time.Second)
		assert.Equal(t, []time.Duration{5 * time.Second}, clock.Sleeps())
	})

	t.Run("Default cooldown without hint", func(t *testing.T) {
		cache, rec, _ := newTestCache(t,
			tooManyRequests(""),
			okHandler("["+pairJSON(testToken, 1000)+"]"),
		)

		_, err := cache.Get(ctx, testToken)
		require.NoError(t, err)
		calls := rec.callTimes()
		require.Len(t, calls, 2)
		assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), DefaultCooldown)
	})

	t.Run("Repeated 429 yields empty snapshot after one retry", func(t *testing.T) {
		cache, rec, _ := newTestCache(t, tooManyRequests("1"))

		snap, err := cache.Get(ctx, testToken)
		require.NoError(t, err)
		assert.True(t, snap.IsEmpty())
		assert.Len(t, rec.callTimes(), 2)
		assert.True(t, cache.RateLimit().IsLimited())
	})

	t.Run("Negative retries give up on the first 429", func(t *testing.T) {
		cache, rec, _ := newTestCacheWith(t, Config{RateLimitRetries: -1},
			tooManyRequests("1"),
			okHandler("["+pairJSON(testToken, 1000)+"]"),
		)

		snap, err := cache.Get(ctx, testToken)
		require.NoError(t, err)
		assert.True(t, snap.IsEmpty())
		assert.Len(t, rec.callTimes(), 1)
	})

	t.Run("Configured retries are honoured", func(t *testing.T) {
		cache, rec, _ := newTestCacheWith(t, Config{RateLimitRetries: 2}, tooManyRequests("1"))

		snap, err := cache.Get(ctx, testToken)
		require.NoError(t, err)
		assert.True(t, snap.IsEmpty())
		assert.Len(t, rec.callTimes(), 3)
	})

	t.Run("Rate limit on one token throttles others", func(t *testing.T) {
		cache, rec, _ := newTestCache(t,
			tooManyRequests("30"),
			tooManyRequests("30"),
			okHandler("["+pairJSON("AnotherMint", 1000)+"]"),
		)

		snap, err := cache.Get(ctx, testToken)
		require.NoError(t, err)
		assert.True(t, snap.IsEmpty())

		_, err = cache.Get(ctx, "AnotherMint")
		require.NoError(t, err)
		calls := rec.callTimes()
		require.Len(t, calls, 3)
		assert.GreaterOrEqual(t, calls[2].Sub(calls[1]), 30*time.Second)
	})

	t.Run("Server error degrades to empty snapshot", func(t *testing.T) {
		cache, rec, _ := newTestCache(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})

		snap, err := cache.Get(ctx, testToken)
		require.NoError(t, err)
		assert.True(t, snap.IsEmpty())

		// empty results are not cached
		_, err = cache.Get(ctx, testToken)
		require.NoError(t, err)
		assert.Len(t, rec.callTimes(), 2)
	})

	t.Run("Malformed body degrades to empty snapshot", func(t *testing.T) {
		cache, _, _ := newTestCache(t, okHandler(`{"pairs": "nope"}`))

		snap, err := cache.Get(ctx, testToken)
		require.NoError(t, err)
		assert.True(t, snap.IsEmpty())
	})

	t.Run("Legacy envelope is accepted", func(t *testing.T) {
		cache, _, _ := newTestCache(t, okHandler(`{"schemaVersion":"1.0.0","pairs":[`+pairJSON(testToken, 4242)+`]}`))

		snap, err := cache.Get(ctx, testToken)
		require.NoError(t, err)
		assert.Equal(t, 4242.0, snap.LiquidityUSD)
	})

	t.Run("Cancelled context is returned", func(t *testing.T) {
		cache, _, _ := newTestCache(t, okHandler("[]"))
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := cache.Get(cctx, testToken)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRetryAfterParsing(t *testing.T) {
	clock := utils.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cache := NewCache(Config{Clock: clock})

	assert.Equal(t, 7*time.Second, cache.retryAfter("7"))
	assert.Equal(t, DefaultCooldown, cache.retryAfter(""))
	assert.Equal(t, DefaultCooldown, cache.retryAfter("soon"))
	date := clock.Now().Add(12 * time.Second).Format(http.TimeFormat)
	assert.Equal(t, 12*time.Second, cache.retryAfter(date))
}
