package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	portal "github.com/academia-portal/portal-go"
)

const (
	backendRedis = "redis"

	// DefaultRedisTTL bounds how long an unused pair survives in Redis.
	DefaultRedisTTL = 24 * time.Hour

	// DefaultRedisPrefix namespaces credential keys.
	DefaultRedisPrefix = "portal:credentials:"

	redisOpTimeout = 2 * time.Second
)

// Redis stores the pair in a Redis hash so several processes (a CLI and a
// local web host, for instance) can share one session.
type Redis struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	opts   options
}

var _ portal.CredentialStore = (*Redis)(nil)

// RedisConfig selects the key and expiry of a Redis store.
type RedisConfig struct {
	// Session names the shared session. Default: "default".
	Session string

	// Prefix namespaces the key. Default: DefaultRedisPrefix.
	Prefix string

	// TTL is the key expiry, renewed on every Save. Zero means
	// DefaultRedisTTL; negative disables expiry.
	TTL time.Duration
}

// NewRedis creates a store on client.
func NewRedis(client *redis.Client, cfg RedisConfig, opts ...Option) *Redis {
	if cfg.Session == "" {
		cfg.Session = "default"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultRedisPrefix
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultRedisTTL
	}
	return &Redis{
		client: client,
		key:    cfg.Prefix + cfg.Session,
		ttl:    cfg.TTL,
		opts:   buildOptions(opts),
	}
}

// Key returns the Redis key holding the pair.
func (r *Redis) Key() string { return r.key }

// Save writes both tokens and refreshes the expiry in one transaction.
func (r *Redis) Save(ctx context.Context, creds portal.Credentials) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redisOpTimeout)
	defer cancel()

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.key, "access", creds.AccessToken, "refresh", creds.RefreshToken)
		if r.ttl > 0 {
			pipe.Expire(ctx, r.key, r.ttl)
		}
		return nil
	})
	if err != nil {
		r.opts.fail(backendRedis, "save", err)
	}
}

// Load reads the pair. Any Redis failure reports nil.
func (r *Redis) Load(ctx context.Context) *portal.Credentials {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redisOpTimeout)
	defer cancel()

	vals, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		r.opts.fail(backendRedis, "load", err)
		return nil
	}
	creds := &portal.Credentials{AccessToken: vals["access"], RefreshToken: vals["refresh"]}
	if !usable(creds) {
		return nil
	}
	return creds
}

// Clear deletes the key.
func (r *Redis) Clear(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redisOpTimeout)
	defer cancel()

	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		r.opts.fail(backendRedis, "clear", err)
	}
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("portal/credential: close redis: %w", err)
	}
	return nil
}
