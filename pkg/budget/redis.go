package budget

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veronica-labs/veronica/pkg/policy"
)

// addScript adds atomically and refreshes the key's expiry so abandoned
// chains self-clean.
const addScript = `
local total = redis.call("INCRBYFLOAT", KEYS[1], ARGV[1])
redis.call("EXPIRE", KEYS[1], ARGV[2])
return total
`

// RedisClient is the slice of go-redis this backend needs. *redis.Client
// satisfies it; tests inject a fake.
type RedisClient interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// RedisBackend keeps the counter in Redis, keyed by chain id with a
// TTL. Any backend error drops it into fallback mode: the local counter
// takes over and stays authoritative for the rest of the backend's life.
type RedisBackend struct {
	mu       sync.Mutex
	client   RedisClient
	key      string
	ttl      time.Duration
	local    *LocalBackend
	fallback bool
	logger   *slog.Logger
}

// RedisOption configures a RedisBackend.
type RedisOption func(*RedisBackend)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) RedisOption {
	return func(b *RedisBackend) { b.logger = l }
}

// NewRedisBackend connects to addr and scopes the counter to chainID.
func NewRedisBackend(addr, password string, db int, chainID string, ttl time.Duration, opts ...RedisOption) *RedisBackend {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return NewRedisBackendWithClient(client, chainID, ttl, opts...)
}

// NewRedisBackendWithClient wraps an existing client.
func NewRedisBackendWithClient(client RedisClient, chainID string, ttl time.Duration, opts ...RedisOption) *RedisBackend {
	if ttl <= 0 {
		ttl = time.Hour
	}
	b := &RedisBackend{
		client: client,
		key:    "veronica:budget:" + chainID,
		ttl:    ttl,
		local:  NewLocalBackend(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RedisBackend) Add(ctx context.Context, amount float64) (float64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: negative spend %.6f", policy.ErrInvalidArgument, amount)
	}

	b.mu.Lock()
	if b.fallback {
		b.mu.Unlock()
		return b.local.Add(ctx, amount)
	}
	b.mu.Unlock()

	res, err := b.client.Eval(ctx, addScript, []string{b.key},
		strconv.FormatFloat(amount, 'f', -1, 64), int(b.ttl.Seconds())).Result()
	if err != nil {
		return b.enterFallback(ctx, "add", err, amount)
	}
	raw, ok := res.(string)
	if !ok {
		return b.enterFallback(ctx, "add", fmt.Errorf("unexpected reply type %T", res), amount)
	}
	total, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return b.enterFallback(ctx, "add", err, amount)
	}
	return total, nil
}

func (b *RedisBackend) Get(ctx context.Context) (float64, error) {
	b.mu.Lock()
	if b.fallback {
		b.mu.Unlock()
		return b.local.Get(ctx)
	}
	b.mu.Unlock()

	raw, err := b.client.Get(ctx, b.key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return b.enterFallback(ctx, "get", err, 0)
	}
	total, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return b.enterFallback(ctx, "get", err, 0)
	}
	return total, nil
}

func (b *RedisBackend) Reset(ctx context.Context) error {
	if err := b.local.Reset(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	inFallback := b.fallback
	b.mu.Unlock()
	if inFallback {
		return nil
	}
	if err := b.client.Del(ctx, b.key).Err(); err != nil {
		_, ferr := b.enterFallback(ctx, "reset", err, 0)
		return ferr
	}
	return nil
}

// Fallback reports whether a backend error has switched the counter to
// the in-process fallback.
func (b *RedisBackend) Fallback() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fallback
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// enterFallback switches to the local counter and replays the pending
// add against it.
func (b *RedisBackend) enterFallback(ctx context.Context, op string, cause error, amount float64) (float64, error) {
	b.mu.Lock()
	if !b.fallback {
		b.fallback = true
		b.logger.Warn("budget backend degraded to local counter",
			"op", op, "key", b.key, "error", cause)
	}
	b.mu.Unlock()
	if amount > 0 {
		return b.local.Add(ctx, amount)
	}
	return b.local.Get(ctx)
}
