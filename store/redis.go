package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rushteam/shoprec/core"
)

// RedisKV 是 Redis 实现的 KeyValueStore。
// 多实例部署时用它共享热门榜与读路径缓存。
type RedisKV struct {
	client *redis.Client
}

func NewRedisKV(addr string, db int) (*RedisKV, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisKV{client: client}, nil
}

var _ core.KeyValueStore = (*RedisKV)(nil)

func (r *RedisKV) Name() string { return "redis" }

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, core.NewDomainError(core.ModuleStore, core.ErrorCodeNotFound, "key not found: "+key)
	}
	return val, err
}

func (r *RedisKV) Set(ctx context.Context, key string, value []byte, ttlSeconds ...int) error {
	var expiration time.Duration
	if len(ttlSeconds) > 0 && ttlSeconds[0] > 0 {
		expiration = time.Duration(ttlSeconds[0]) * time.Second
	}
	return r.client.Set(ctx, key, value, expiration).Err()
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisKV) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return r.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

// ZRange 按分数降序返回成员，与 MemoryKV 保持一致语义。
func (r *RedisKV) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.ZRevRange(ctx, key, start, stop).Result()
}

func (r *RedisKV) Close() error { return r.client.Close() }
