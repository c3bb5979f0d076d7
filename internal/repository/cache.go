package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"contract-service/internal/domain"

	"github.com/redis/go-redis/v9"
)

const (
	nsBalance  = "balance"
	nsIdentity = "identity_seen"
)

// Cache is a thin namespaced wrapper over redis. A nil *Cache is valid and caches nothing.
type Cache struct {
	client redis.UniversalClient
}

func NewCache(client redis.UniversalClient) *Cache {
	if client == nil {
		return nil
	}
	return &Cache{client: client}
}

func key(namespace, k string) string { return namespace + ":" + k }

func (c *Cache) Client() redis.UniversalClient {
	if c == nil {
		return nil
	}
	return c.client
}

func (c *Cache) Set(ctx context.Context, namespace, k string, value interface{}, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	return c.client.Set(ctx, key(namespace, k), value, ttl).Err()
}

func (c *Cache) Get(ctx context.Context, namespace, k string) (string, error) {
	if c == nil {
		return "", redis.Nil
	}
	return c.client.Get(ctx, key(namespace, k)).Result()
}

func (c *Cache) Delete(ctx context.Context, namespace, k string) error {
	if c == nil {
		return nil
	}
	return c.client.Del(ctx, key(namespace, k)).Err()
}

// IncrWithExpire increments a window counter, starting its TTL on first hit.
func (c *Cache) IncrWithExpire(ctx context.Context, namespace, k string, window time.Duration) (int64, error) {
	if c == nil {
		return 0, nil
	}
	full := key(namespace, k)
	cnt, err := c.client.Incr(ctx, full).Result()
	if err != nil {
		return 0, err
	}
	if cnt == 1 {
		_ = c.client.Expire(ctx, full, window).Err()
	}
	return cnt, nil
}

func (c *Cache) TTL(ctx context.Context, namespace, k string) (time.Duration, error) {
	if c == nil {
		return 0, nil
	}
	return c.client.TTL(ctx, key(namespace, k)).Result()
}

// CachedBalance returns a cached balance; ok is false on a miss or any redis failure.
func (c *Cache) CachedBalance(ctx context.Context, contributorID string) (*domain.Balance, bool) {
	raw, err := c.Get(ctx, nsBalance, contributorID)
	if err != nil {
		return nil, false
	}
	var b domain.Balance
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, false
	}
	return &b, true
}

func (c *Cache) StoreBalance(ctx context.Context, b *domain.Balance, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return c.Set(ctx, nsBalance, b.ContributorID, raw, ttl)
}

func (c *Cache) InvalidateBalance(ctx context.Context, contributorID string) error {
	return c.Delete(ctx, nsBalance, contributorID)
}

// MarkIdentitySeen reports true the first time an identity is seen within ttl.
func (c *Cache) MarkIdentitySeen(ctx context.Context, id domain.Identity, ttl time.Duration) (bool, error) {
	if c == nil {
		return true, nil
	}
	fresh, err := c.client.SetNX(ctx, key(nsIdentity, id.ExternalID+":"+string(id.Role)), 1, ttl).Result()
	if err != nil {
		return true, err
	}
	return fresh, nil
}

func IsCacheMiss(err error) bool { return errors.Is(err, redis.Nil) }
