package classifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/problem-service/internal/observability"
)

const cacheKeyPrefix = "classifier:"

// Cached memoises available results in Redis. Cache errors are treated as misses.
type Cached struct {
	inner   Classifier
	client  redis.Cmdable
	ttl     time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewCached wraps inner with a Redis cache.
func NewCached(inner Classifier, client redis.Cmdable, ttl time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{inner: inner, client: client, ttl: ttl, logger: logger, metrics: metrics}
}

func (c *Cached) Name() string { return c.inner.Name() }

func (c *Cached) Classify(ctx context.Context, title, description string) Result {
	key := cacheKey(c.inner.Name(), title, description)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached Result
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil && cached.Available {
			c.metrics.RecordClassifierCall("cache_hit")
			return cached
		}
	case !errors.Is(err, redis.Nil):
		c.logger.Debug("classifier cache read failed", zap.Error(err))
	}

	result := c.inner.Classify(ctx, title, description)
	if !result.Available {
		return result
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return result
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Debug("classifier cache write failed", zap.Error(err))
	}
	return result
}

func cacheKey(provider, title, description string) string {
	sum := sha256.Sum256([]byte(title + "\x00" + description))
	return cacheKeyPrefix + provider + ":" + hex.EncodeToString(sum[:])
}
