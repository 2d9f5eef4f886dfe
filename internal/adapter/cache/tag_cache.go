package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gridwise/csms/internal/domain"
	"github.com/gridwise/csms/internal/ports"
)

// CachedTagRepository is a read-through cache in front of the tag store. Tags
// are looked up on every Authorize and StartTransaction, change rarely, and
// the cache failing open only costs a database read.
type CachedTagRepository struct {
	inner ports.TagRepository
	cache ports.Cache
	ttl   time.Duration
	log   *zap.Logger
}

var _ ports.TagRepository = (*CachedTagRepository)(nil)

func NewCachedTagRepository(inner ports.TagRepository, cache ports.Cache, ttl time.Duration, log *zap.Logger) *CachedTagRepository {
	return &CachedTagRepository{
		inner: inner,
		cache: cache,
		ttl:   ttl,
		log:   log.Named("tagcache"),
	}
}

func tagKey(tenantID, id string) string {
	return fmt.Sprintf("%s:tag:%s", tenantID, id)
}

func (r *CachedTagRepository) FindByID(ctx context.Context, tenantID, id string) (*domain.Tag, error) {
	key := tagKey(tenantID, id)
	if raw, err := r.cache.Get(ctx, key); err == nil && raw != "" {
		var tag domain.Tag
		if err := json.Unmarshal([]byte(raw), &tag); err == nil {
			return &tag, nil
		}
		// Unreadable entry, fall through to the store and rewrite it.
		if err := r.cache.Delete(ctx, key); err != nil {
			r.log.Debug("stale tag entry delete failed", zap.String("key", key), zap.Error(err))
		}
	}

	tag, err := r.inner.FindByID(ctx, tenantID, id)
	if err != nil || tag == nil {
		return tag, err
	}
	if data, err := json.Marshal(tag); err == nil {
		if err := r.cache.Set(ctx, key, string(data), r.ttl); err != nil {
			r.log.Debug("tag cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return tag, nil
}

// Invalidate drops one tag from the cache, for callers that mutate tags.
func (r *CachedTagRepository) Invalidate(ctx context.Context, tenantID, id string) error {
	return r.cache.Delete(ctx, tagKey(tenantID, id))
}
