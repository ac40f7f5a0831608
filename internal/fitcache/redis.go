package fitcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/banshee-data/lightcurve.report/internal/lightcurve/gp"
)

// DefaultPrefix namespaces every key written by Redis.
const DefaultPrefix = "lcr:fit"

// Redis stores fits as JSON strings with a TTL.
type Redis struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// RedisOption configures a Redis cache.
type RedisOption func(*Redis)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(p string) RedisOption { return func(r *Redis) { r.prefix = p } }

// WithTTL sets the expiry of stored fits; zero means no expiry.
func WithTTL(d time.Duration) RedisOption { return func(r *Redis) { r.ttl = d } }

// NewRedis wraps an existing client.
func NewRedis(client redis.Cmdable, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DialRedis connects and pings the server.
func DialRedis(ctx context.Context, addr, password string, db int, opts ...RedisOption) (*Redis, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedis(client, opts...), client, nil
}

func (r *Redis) key(objectID, filter string, mode gp.Mode) string {
	return r.prefix + ":" + Key(objectID, filter, mode)
}

func (r *Redis) Get(ctx context.Context, objectID, filter string, mode gp.Mode) (*gp.Fit, bool, error) {
	data, err := r.client.Get(ctx, r.key(objectID, filter, mode)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var fit gp.Fit
	if err := json.Unmarshal(data, &fit); err != nil {
		return nil, false, fmt.Errorf("decode cached fit: %w", err)
	}
	return &fit, true, nil
}

func (r *Redis) Put(ctx context.Context, objectID string, fit *gp.Fit) error {
	data, err := json.Marshal(fit)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(objectID, fit.Filter, fit.Mode), data, r.ttl).Err()
}
