package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	redis "github.com/redis/go-redis/v9"

	"posbackoffice/backend/internal/domain"
)

// generationTTL outlives any in-flight read-through fill.
const generationTTL = 24 * time.Hour

type RedisSaleCache struct {
	client *redis.Client
}

func NewRedisSaleCache(addr string, password string, db int) *RedisSaleCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisSaleCache{client: client}
}

// ConnectSaleCache dials redis when addr is set. An unset or unreachable
// server yields NoopSaleCache. The returned close func is never nil.
func ConnectSaleCache(ctx context.Context, addr string, password string, db int) (SaleCache, func() error) {
	noop := func() error { return nil }
	if addr == "" {
		log.Println("[cache] sale cache: noop")
		return NoopSaleCache{}, noop
	}

	redisCache := NewRedisSaleCache(addr, password, db)
	if err := redisCache.Ping(ctx); err != nil {
		log.Printf("[cache] WARN: redis unavailable (%v), using noop cache", err)
		_ = redisCache.Close()
		return NoopSaleCache{}, noop
	}
	log.Println("[cache] sale cache: redis")
	return redisCache, redisCache.Close
}

func (c *RedisSaleCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSaleCache) Close() error {
	return c.client.Close()
}

func (c *RedisSaleCache) Get(ctx context.Context, saleID int64) (*domain.Sale, bool, error) {
	val, err := c.client.Get(ctx, SaleKey(saleID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var sale domain.Sale
	if err := json.Unmarshal(val, &sale); err != nil {
		return nil, false, err
	}
	return &sale, true, nil
}

func (c *RedisSaleCache) Generation(ctx context.Context, saleID int64) (int64, error) {
	return readGeneration(ctx, c.client, saleID)
}

// Set writes the sale inside a WATCH on its generation key. A Delete landing
// between the read and the write aborts the transaction.
func (c *RedisSaleCache) Set(ctx context.Context, sale *domain.Sale, generation int64, ttl time.Duration) (bool, error) {
	if sale == nil {
		return false, nil
	}
	payload, err := json.Marshal(sale)
	if err != nil {
		return false, err
	}

	stored := false
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readGeneration(ctx, tx, sale.ID)
		if err != nil {
			return err
		}
		if current != generation {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, SaleKey(sale.ID), payload, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		stored = true
		return nil
	}, SaleGenerationKey(sale.ID))
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored, nil
}

func (c *RedisSaleCache) Delete(ctx context.Context, saleID int64) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, SaleGenerationKey(saleID))
		pipe.Expire(ctx, SaleGenerationKey(saleID), generationTTL)
		pipe.Del(ctx, SaleKey(saleID))
		return nil
	})
	return err
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readGeneration(ctx context.Context, cmd stringGetter, saleID int64) (int64, error) {
	gen, err := cmd.Get(ctx, SaleGenerationKey(saleID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}
