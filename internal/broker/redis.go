package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the network Broker shared by every producer and consumer of a
// deployment.
type Redis struct {
	client *redis.Client
}

// RedisOptions configures the connection.
type RedisOptions struct {
	Addr       string
	Username   string
	Password   string
	DB         int
	ClientName string
}

// OpenRedis connects to a Redis server and verifies the connection.
func OpenRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       opts.Addr,
		Username:   opts.Username,
		Password:   opts.Password,
		DB:         opts.DB,
		ClientName: opts.ClientName,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return &Redis{client: client}, nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func mapNil(err error) error {
	if errors.Is(err, redis.Nil) {
		return ErrNil
	}
	return err
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	return v, mapNil(err)
}

func (r *Redis) Del(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

func (r *Redis) RPush(ctx context.Context, key string, values ...string) error {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return r.client.RPush(ctx, key, args...).Err()
}

func (r *Redis) LLen(ctx context.Context, key string) (int64, error) {
	return r.client.LLen(ctx, key).Result()
}

func (r *Redis) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.LRange(ctx, key, start, stop).Result()
}

func (r *Redis) BlockingPop(ctx context.Context, keys []string, timeout time.Duration) (string, string, error) {
	res, err := r.client.BLPop(ctx, timeout, keys...).Result()
	if err != nil {
		return "", "", mapNil(err)
	}
	if len(res) != 2 {
		return "", "", fmt.Errorf("blpop: unexpected reply of length %d", len(res))
	}
	return res[0], res[1], nil
}

func (r *Redis) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := r.client.HGet(ctx, key, field).Result()
	return v, mapNil(err)
}

func (r *Redis) HSet(ctx context.Context, key, field, value string) error {
	return r.client.HSet(ctx, key, field, value).Err()
}

func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

func (r *Redis) HDel(ctx context.Context, key string, fields ...string) error {
	return r.client.HDel(ctx, key, fields...).Err()
}

func (r *Redis) HIncrBy(ctx context.Context, key, field string, n int64) (int64, error) {
	return r.client.HIncrBy(ctx, key, field, n).Result()
}

// HSwap reads and writes inside MULTI/EXEC so two instances can never both
// observe the same previous value.
func (r *Redis) HSwap(ctx context.Context, key, field, value string) (string, bool, error) {
	var get *redis.StringCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.HGet(ctx, key, field)
		pipe.HSet(ctx, key, field, value)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", false, fmt.Errorf("hswap %s %s: %w", key, field, err)
	}

	old, err := get.Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("hswap %s %s: %w", key, field, err)
	}
	return old, true, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
