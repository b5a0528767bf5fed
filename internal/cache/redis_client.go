package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultDialTimeout = 5 * time.Second

// RedisConfig holds Redis connection configuration. URL, when set, wins
// over the discrete fields.
type RedisConfig struct {
	URL         string
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	Prefix      string
	DialTimeout time.Duration
}

func (cfg RedisConfig) options() (*redis.Options, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	return opts, nil
}

// RedisClient is the shared store of a multi-process deployment: result
// cache entries, task status and the task event channels. Every key and
// channel name is prefixed.
type RedisClient struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisClient connects and pings the server.
func NewRedisClient(cfg RedisConfig) (*RedisClient, error) {
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return WrapRedis(rdb, cfg.Prefix), nil
}

// WrapRedis builds a RedisClient around an existing connection.
func WrapRedis(rdb *redis.Client, prefix string) *RedisClient {
	return &RedisClient{rdb: rdb, prefix: prefix}
}

// Redis exposes the connection for the task queue.
func (c *RedisClient) Redis() *redis.Client { return c.rdb }

// Prefix is prepended to every key and channel.
func (c *RedisClient) Prefix() string { return c.prefix }

func (c *RedisClient) key(k string) string { return c.prefix + k }

func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrCacheMiss
	case err != nil:
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

func (c *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *RedisClient) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}

// Publish sends message on channel. Values other than raw bytes are JSON
// encoded.
func (c *RedisClient) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := encodeMessage(message)
	if err != nil {
		return err
	}
	if err := c.rdb.Publish(ctx, c.key(channel), data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns the payloads published on channel from now on. cancel
// unsubscribes and closes the returned channel; so does ctx ending.
func (c *RedisClient) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	ps := c.rdb.Subscribe(ctx, c.key(channel))
	// wait for the subscription confirmation so no publish is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer ps.Close()
		in := ps.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-subCtx.Done():
					return
				}
			}
		}
	}()
	return out, cancel, nil
}
