package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/eduvault/backend/internal/metrics"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RateCache stores rates for a bounded window
type RateCache interface {
	Get(ctx context.Context, key string) (float64, bool, error)
	Set(ctx context.Context, key string, rate float64, ttl time.Duration) error
}

// CachedRate represents a cached exchange rate with expiration
type CachedRate struct {
	Rate      float64
	ExpiresAt time.Time
}

// MemoryRateCache is a process-local RateCache
type MemoryRateCache struct {
	mutex sync.RWMutex
	rates map[string]CachedRate
	now   func() time.Time
}

// NewMemoryRateCache creates an empty in-process cache
func NewMemoryRateCache() *MemoryRateCache {
	return &MemoryRateCache{rates: make(map[string]CachedRate), now: time.Now}
}

func (c *MemoryRateCache) Get(_ context.Context, key string) (float64, bool, error) {
	c.mutex.RLock()
	cached, ok := c.rates[key]
	c.mutex.RUnlock()
	if !ok || !c.now().Before(cached.ExpiresAt) {
		return 0, false, nil
	}
	return cached.Rate, true, nil
}

func (c *MemoryRateCache) Set(_ context.Context, key string, rate float64, ttl time.Duration) error {
	c.mutex.Lock()
	c.rates[key] = CachedRate{Rate: rate, ExpiresAt: c.now().Add(ttl)}
	c.mutex.Unlock()
	return nil
}

// RedisRateCache shares rates between service instances
type RedisRateCache struct {
	client *redis.Client
	prefix string
}

// NewRedisRateCache creates a cache storing keys under "fx:"
func NewRedisRateCache(client *redis.Client) *RedisRateCache {
	return &RedisRateCache{client: client, prefix: "fx:"}
}

func (c *RedisRateCache) Get(ctx context.Context, key string) (float64, bool, error) {
	value, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read cached rate: %w", err)
	}

	rate, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt cached rate %q: %w", value, err)
	}
	return rate, true, nil
}

func (c *RedisRateCache) Set(ctx context.Context, key string, rate float64, ttl time.Duration) error {
	value := strconv.FormatFloat(rate, 'g', -1, 64)
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache rate: %w", err)
	}
	return nil
}

// CachedRateSource consults a RateCache before the underlying source. Cache
// failures are logged and never fail a conversion.
type CachedRateSource struct {
	source  RateSource
	cache   RateCache
	ttl     time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewCachedRateSource wraps source with cache for ttl
func NewCachedRateSource(source RateSource, cache RateCache, ttl time.Duration, log *zap.Logger, m *metrics.Metrics) *CachedRateSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedRateSource{source: source, cache: cache, ttl: ttl, log: log, metrics: m}
}

func (s *CachedRateSource) Rate(ctx context.Context, from, to string) (float64, error) {
	key := fmt.Sprintf("%s-%s", from, to)

	rate, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn("rate cache read failed", zap.String("pair", key), zap.Error(err))
	}
	if ok {
		s.metrics.RateFetched("cache")
		return rate, nil
	}

	rate, err = s.source.Rate(ctx, from, to)
	if err != nil {
		return 0, err
	}
	s.metrics.RateFetched("source")

	if err := s.cache.Set(ctx, key, rate, s.ttl); err != nil {
		s.log.Warn("rate cache write failed", zap.String("pair", key), zap.Error(err))
	}
	return rate, nil
}
