package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

type RedisOption func(*RedisConfig)

func WithRedisPassword(password string) RedisOption {
	return func(c *RedisConfig) { c.Password = password }
}

func WithRedisDB(db int) RedisOption {
	return func(c *RedisConfig) { c.DB = db }
}

func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) { c.Prefix = prefix }
}

// WithLeaseTTL bounds how long a crashed holder can keep a key locked.
func WithLeaseTTL(ttl time.Duration) RedisOption {
	return func(c *RedisConfig) { c.TTL = ttl }
}

// releaseScript deletes the key only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// renewScript extends the lease only if this holder still owns it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisLocker holds leases in Redis so several trader processes sharing an
// account never run the same symbol at once. A local MemoryLocker is checked
// first to avoid a round trip for in-process contention.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	local  *MemoryLocker
	log    zerolog.Logger
}

// NewRedisLocker connects and pings Redis.
func NewRedisLocker(addr string, log zerolog.Logger, opts ...RedisOption) (*RedisLocker, error) {
	cfg := &RedisConfig{Addr: addr, Prefix: "autotrader", TTL: 2 * time.Minute}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("lease ttl must be positive, got %v", cfg.TTL)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisLocker{
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
		local:  NewMemoryLocker(),
		log:    log.With().Str("component", "lock").Logger(),
	}, nil
}

func (r *RedisLocker) key(k string) string {
	return r.prefix + ":lock:" + k
}

func (r *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	releaseLocal, err := r.local.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}

	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key(key), token, r.ttl).Result()
	if err != nil {
		releaseLocal()
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		releaseLocal()
		return nil, ErrLocked
	}

	stop := make(chan struct{})
	renewed := make(chan struct{})
	go r.renew(key, token, stop, renewed)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-renewed
			r.release(key, token)
			releaseLocal()
		})
	}, nil
}

// renew keeps the lease alive while the holder runs, extending it every
// third of the TTL. A lease lost to expiry is logged and not retaken.
func (r *RedisLocker) renew(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			n, err := renewScript.Run(ctx, r.client, []string{r.key(key)}, token, r.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				r.log.Warn().Err(err).Str("key", key).Msg("renew lease failed")
				continue
			}
			if n == 0 {
				r.log.Error().Str("key", key).Msg("lease lost before release")
				return
			}
		}
	}
}

func (r *RedisLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, r.client, []string{r.key(key)}, token).Err(); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("release lease failed, it will expire")
	}
}

func (r *RedisLocker) Close() error {
	return r.client.Close()
}
