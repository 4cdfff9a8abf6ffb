package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/model"
	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/repository"
	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/infra/prometheus"
)

const (
	policyKeyPrefix   = "policy:"
	negativeKeySuffix = ":neg"

	// bloomCapacity sizes the known-slug filter; false positives just fall
	// through to the cache/store path.
	bloomCapacity      = 1_000_000
	bloomFalsePositive = 0.001
)

// Catalog is the read path for link policies: a redis cache-aside layer in
// front of the store, a negative cache for unknown slugs and a bloom filter
// that short-circuits lookup storms for slugs that never existed.
type Catalog struct {
	repo   repository.LinkRepository
	redis  *redis.Client
	logger *zap.Logger

	ttl         time.Duration
	negativeTTL time.Duration
	now         func() time.Time

	mu     sync.RWMutex
	known  *bloom.BloomFilter
	warmed bool
}

// CatalogDeps groups catalog dependencies. Redis may be nil; the catalog
// then reads through to the store on every lookup.
type CatalogDeps struct {
	Links       repository.LinkRepository
	Redis       *redis.Client
	Logger      *zap.Logger
	TTL         time.Duration
	NegativeTTL time.Duration
	Now         func() time.Time
}

// NewCatalog builds a catalog accessor.
func NewCatalog(deps CatalogDeps) *Catalog {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	negTTL := deps.NegativeTTL
	if negTTL <= 0 {
		negTTL = 5 * time.Minute
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Catalog{
		repo:        deps.Links,
		redis:       deps.Redis,
		logger:      logger,
		ttl:         ttl,
		negativeTTL: negTTL,
		now:         now,
		known:       bloom.NewWithEstimates(bloomCapacity, bloomFalsePositive),
	}
}

// Warm loads every known slug key into the bloom filter. Until it has run
// at least once the filter is not consulted.
func (c *Catalog) Warm(ctx context.Context) error {
	keys, err := c.repo.ListSlugKeys(ctx)
	if err != nil {
		return err
	}

	filter := bloom.NewWithEstimates(bloomCapacity, bloomFalsePositive)
	for _, key := range keys {
		filter.AddString(key)
	}

	c.mu.Lock()
	c.known = filter
	c.warmed = true
	c.mu.Unlock()

	c.logger.Info("slug filter warmed", zap.Int("keys", len(keys)))
	return nil
}

// Observe feeds a slug key into the filter, for links created after warm-up.
func (c *Catalog) Observe(slug, domain string) {
	c.mu.Lock()
	c.known.AddString(repository.SlugKey(slug, domain))
	c.mu.Unlock()
}

// Get returns an immutable policy snapshot for slug+domain. Staleness is
// bounded by the cache TTL; Invalidate drops the entry early.
func (c *Catalog) Get(ctx context.Context, slug, domain string) (model.PolicySnapshot, error) {
	key := repository.SlugKey(slug, domain)

	c.mu.RLock()
	warmed, miss := c.warmed, !c.known.TestString(key)
	c.mu.RUnlock()
	if warmed && miss {
		prometheus.PolicyLookups.WithLabelValues("bloom").Inc()
		return model.PolicySnapshot{}, repository.ErrPolicyNotFound
	}

	if snap, ok := c.cachedSnapshot(ctx, key); ok {
		prometheus.PolicyLookups.WithLabelValues("cache").Inc()
		return snap, nil
	}
	if c.negativelyCached(ctx, key) {
		prometheus.PolicyLookups.WithLabelValues("negative").Inc()
		return model.PolicySnapshot{}, repository.ErrPolicyNotFound
	}

	policy, err := c.repo.GetBySlug(ctx, slug, domain)
	if err != nil {
		if errors.Is(err, repository.ErrPolicyNotFound) {
			c.setNegative(ctx, key)
		}
		return model.PolicySnapshot{}, err
	}

	prometheus.PolicyLookups.WithLabelValues("store").Inc()
	c.setCached(ctx, key, policy)
	c.Observe(slug, domain)
	return policy.Snapshot(c.now()), nil
}

// Invalidate drops the cached snapshot, used on the exhaustion transition
// and on admin edits pushed by the CRUD layer.
func (c *Catalog) Invalidate(ctx context.Context, slug, domain string) error {
	if c.redis == nil {
		return nil
	}
	key := policyKeyPrefix + repository.SlugKey(slug, domain)
	return c.redis.Del(ctx, key, key+negativeKeySuffix).Err()
}

func (c *Catalog) cachedSnapshot(ctx context.Context, key string) (model.PolicySnapshot, bool) {
	if c.redis == nil {
		return model.PolicySnapshot{}, false
	}
	raw, err := c.redis.Get(ctx, policyKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("policy cache read failed", zap.Error(err))
		}
		return model.PolicySnapshot{}, false
	}
	var policy model.LinkPolicy
	if err := json.Unmarshal(raw, &policy); err != nil {
		c.logger.Warn("policy cache entry corrupt", zap.String("key", key), zap.Error(err))
		return model.PolicySnapshot{}, false
	}
	return policy.Snapshot(c.now()), true
}

func (c *Catalog) setCached(ctx context.Context, key string, policy *model.LinkPolicy) {
	if c.redis == nil {
		return
	}
	raw, err := json.Marshal(policy)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, policyKeyPrefix+key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("policy cache write failed", zap.Error(err))
	}
}

func (c *Catalog) negativelyCached(ctx context.Context, key string) bool {
	if c.redis == nil {
		return false
	}
	n, err := c.redis.Exists(ctx, policyKeyPrefix+key+negativeKeySuffix).Result()
	return err == nil && n > 0
}

func (c *Catalog) setNegative(ctx context.Context, key string) {
	if c.redis == nil {
		return
	}
	if err := c.redis.SetEx(ctx, policyKeyPrefix+key+negativeKeySuffix, "", c.negativeTTL).Err(); err != nil {
		c.logger.Warn("negative cache write failed", zap.Error(err))
	}
}
