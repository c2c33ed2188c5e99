package marketdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"tokentrust/pkg/utils"
)

const (
	DefaultBaseURL          = "https://api.dexscreener.com"
	DefaultChainID          = "solana"
	DefaultTTL              = 5 * time.Minute
	DefaultMinInterval      = 2 * time.Second
	DefaultCooldown         = 20 * time.Second
	DefaultRateLimitRetries = 1
)

var errRateLimited = errors.New("rate limited by market data provider")

// Config configures a Cache. Zero values fall back to the defaults above.
// A negative RateLimitRetries disables the retry after HTTP 429.
type Config struct {
	BaseURL          string
	ChainID          string
	TTL              time.Duration
	MinInterval      time.Duration
	DefaultCooldown  time.Duration
	RateLimitRetries int
	HTTPClient       *http.Client
	Clock            utils.Clock
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.ChainID == "" {
		c.ChainID = DefaultChainID
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.MinInterval <= 0 {
		c.MinInterval = DefaultMinInterval
	}
	if c.DefaultCooldown <= 0 {
		c.DefaultCooldown = DefaultCooldown
	}
	switch {
	case c.RateLimitRetries == 0:
		c.RateLimitRetries = DefaultRateLimitRetries
	case c.RateLimitRetries < 0:
		c.RateLimitRetries = 0
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.Clock == nil {
		c.Clock = utils.SystemClock()
	}
	return c
}

// RateLimitState is the shared upstream quota: a minimum spacing between
// outbound requests plus a cooldown window entered on HTTP 429. One instance
// throttles every token fetched through it.
type RateLimitState struct {
	mu           sync.Mutex
	clock        utils.Clock
	limiter      *rate.Limiter
	limitedUntil time.Time
}

// NewRateLimitState creates a state allowing one request per minInterval.
func NewRateLimitState(clock utils.Clock, minInterval time.Duration) *RateLimitState {
	if clock == nil {
		clock = utils.SystemClock()
	}
	return &RateLimitState{
		clock:   clock,
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

// Acquire blocks until both the cooldown window and the minimum spacing allow
// one more request.
func (s *RateLimitState) Acquire(ctx context.Context) error {
	for {
		s.mu.Lock()
		now := s.clock.Now()
		if now.Before(s.limitedUntil) {
			wait := s.limitedUntil.Sub(now)
			s.mu.Unlock()
			log.WithField("wait", wait).Debug("market data cooldown active, waiting")
			if err := s.clock.Sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}
		r := s.limiter.ReserveN(now, 1)
		delay := r.DelayFrom(now)
		s.mu.Unlock()

		if delay <= 0 {
			return ctx.Err()
		}
		if err := s.clock.Sleep(ctx, delay); err != nil {
			return err
		}
		return nil
	}
}

// MarkLimited enters (or extends) the cooldown window.
func (s *RateLimitState) MarkLimited(cooldown time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until := s.clock.Now().Add(cooldown)
	if until.After(s.limitedUntil) {
		s.limitedUntil = until
	}
}

// IsLimited reports whether a cooldown window is currently active.
func (s *RateLimitState) IsLimited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Now().Before(s.limitedUntil)
}

type cacheEntry struct {
	snapshot  *Snapshot
	expiresAt time.Time
}

// Cache fetches token snapshots from DexScreener and keeps successful results
// for a short TTL.
type Cache struct {
	cfg   Config
	state *RateLimitState

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewCache creates a Cache owning a fresh RateLimitState.
func NewCache(cfg Config) *Cache {
	cfg = cfg.withDefaults()
	return NewCacheWithState(cfg, NewRateLimitState(cfg.Clock, cfg.MinInterval))
}

// NewCacheWithState creates a Cache sharing an existing quota.
func NewCacheWithState(cfg Config, state *RateLimitState) *Cache {
	cfg = cfg.withDefaults()
	return &Cache{
		cfg:     cfg,
		state:   state,
		entries: make(map[string]cacheEntry),
	}
}

// RateLimit exposes the quota shared by this cache.
func (c *Cache) RateLimit() *RateLimitState {
	return c.state
}

// Get returns the snapshot for tokenAddress. Upstream failures yield an empty
// snapshot and a nil error; only context cancellation is returned as an error.
func (c *Cache) Get(ctx context.Context, tokenAddress string) (*Snapshot, error) {
	if snap, ok := c.lookup(tokenAddress); ok {
		return snap, nil
	}

	logger := log.WithField("token", tokenAddress)
	for attempt := 0; ; attempt++ {
		if err := c.state.Acquire(ctx); err != nil {
			return nil, err
		}

		snap, retryAfter, err := c.fetch(ctx, tokenAddress)
		switch {
		case errors.Is(err, errRateLimited):
			c.state.MarkLimited(retryAfter)
			if attempt >= c.cfg.RateLimitRetries {
				logger.WithField("cooldown", retryAfter).Warn("market data rate limited, retries exhausted")
				return c.empty(tokenAddress), nil
			}
			logger.WithField("cooldown", retryAfter).Warn("market data rate limited, retrying after cooldown")
			continue
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logger.Errorf("failed to fetch market data: %v", err)
			return c.empty(tokenAddress), nil
		}

		if !snap.IsEmpty() {
			c.store(tokenAddress, snap)
		}
		return snap, nil
	}
}

// Invalidate drops a cached snapshot.
func (c *Cache) Invalidate(tokenAddress string) {
	c.mu.Lock()
	delete(c.entries, tokenAddress)
	c.mu.Unlock()
}

func (c *Cache) lookup(tokenAddress string) (*Snapshot, bool) {
	c.mu.RLock()
	entry, ok := c.entries[tokenAddress]
	c.mu.RUnlock()
	if !ok || !c.cfg.Clock.Now().Before(entry.expiresAt) {
		return nil, false
	}
	return entry.snapshot, true
}

func (c *Cache) store(tokenAddress string, snap *Snapshot) {
	c.mu.Lock()
	c.entries[tokenAddress] = cacheEntry{
		snapshot:  snap,
		expiresAt: c.cfg.Clock.Now().Add(c.cfg.TTL),
	}
	c.mu.Unlock()
}

func (c *Cache) empty(tokenAddress string) *Snapshot {
	return &Snapshot{TokenAddress: tokenAddress, FetchedAt: c.cfg.Clock.Now()}
}

func (c *Cache) fetch(ctx context.Context, tokenAddress string) (*Snapshot, time.Duration, error) {
	fullURL := fmt.Sprintf("%s/tokens/v1/%s/%s",
		c.cfg.BaseURL, url.PathEscape(c.cfg.ChainID), url.PathEscape(tokenAddress))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to make HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, c.retryAfter(resp.Header.Get("Retry-After")), errRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, 0, fmt.Errorf("HTTP request failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}
	pairs, err := parsePairs(body)
	if err != nil {
		return nil, 0, err
	}
	return snapshotFromPairs(tokenAddress, pairs, c.cfg.Clock.Now()), 0, nil
}

// retryAfter understands both delta-seconds and HTTP-date hints.
func (c *Cache) retryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return c.cfg.DefaultCooldown
	}
	if secs, err := strconv.ParseFloat(header, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := at.Sub(c.cfg.Clock.Now()); d > 0 {
			return d
		}
	}
	return c.cfg.DefaultCooldown
}
