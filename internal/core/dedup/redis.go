package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore 基于 Redis 的冷却键存储
// 使用 SET NX PX，过期由 Redis 负责；多实例部署时可共享冷却状态。
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOption Redis 存储选项
type RedisOption func(*redisConfig)

type redisConfig struct {
	addr     string
	password string
	db       int
	prefix   string
	timeout  time.Duration
}

// WithRedisAddr 设置地址
func WithRedisAddr(addr string) RedisOption {
	return func(c *redisConfig) { c.addr = addr }
}

// WithRedisPassword 设置密码
func WithRedisPassword(pw string) RedisOption {
	return func(c *redisConfig) { c.password = pw }
}

// WithRedisDB 设置库号
func WithRedisDB(db int) RedisOption {
	return func(c *redisConfig) { c.db = db }
}

// WithRedisPrefix 设置键前缀
func WithRedisPrefix(p string) RedisOption {
	return func(c *redisConfig) { c.prefix = p }
}

// NewRedisStore 创建 Redis 存储并检查连通性
func NewRedisStore(ctx context.Context, opts ...RedisOption) (*RedisStore, error) {
	cfg := &redisConfig{
		addr:    "localhost:6379",
		prefix:  "oimon:cooldown",
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.addr,
		Password: cfg.password,
		DB:       cfg.db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{client: client, prefix: cfg.prefix}, nil
}

// Acquire 实现 CooldownStore
// now 不参与计算，过期以 Redis 服务端时间为准。
func (r *RedisStore) Acquire(ctx context.Context, key string, ttl time.Duration, _ time.Time) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.wrapKey(key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

// Close 关闭连接
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) wrapKey(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}
