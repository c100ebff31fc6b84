package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisRepo struct {
	client *redis.Client
}

func New(ctx context.Context, addr, pass string, db int) (*RedisRepo, error) {
	const op = "storage.redis.New"

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     pass,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &RedisRepo{
		client: client,
	}, nil
}

// * DenyToken помещает токен в blacklist до истечения его TTL
func (r *RedisRepo) DenyToken(ctx context.Context, tokenID string, ttl time.Duration) error {
	const op = "storage.redis.DenyToken"

	if ttl <= 0 {
		// Token already expired on its own, nothing to deny.
		return nil
	}

	key := fmt.Sprintf("tokens:denied:%s", tokenID)

	if err := r.client.Set(ctx, key, "revoked", ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *RedisRepo) IsTokenDenied(ctx context.Context, tokenID string) (bool, error) {
	const op = "storage.redis.IsTokenDenied"

	key := fmt.Sprintf("tokens:denied:%s", tokenID)

	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return n > 0, nil
}

// AllowLoginAttempt counts one login attempt for the client IP and reports
// whether it is still inside the window. INCR plus a first-write expiry keep
// the counter atomic across instances.
func (r *RedisRepo) AllowLoginAttempt(ctx context.Context, ip string, limit int, window time.Duration) (bool, error) {
	const op = "storage.redis.AllowLoginAttempt"

	key := fmt.Sprintf("login:attempts:%s", ip)

	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return incr.Val() <= int64(limit), nil
}

// * ResetLoginAttempts сбрасывает счетчик попыток входа
func (r *RedisRepo) ResetLoginAttempts(ctx context.Context, ip string) error {
	const op = "storage.redis.ResetLoginAttempts"

	key := fmt.Sprintf("login:attempts:%s", ip)

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// * Close закрывает соединение с базой данных.
func (r *RedisRepo) Close() {
	r.client.Close()
}
