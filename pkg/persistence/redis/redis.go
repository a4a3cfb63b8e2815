package redis

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Layr-Labs/abstract-dao-go/pkg/persistence"
	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

const (
	// namespace sits between the tenant prefix and every logical key.
	namespace = "adao:"

	defaultOperationTimeout = 5 * time.Second
	maxAllocateAttempts     = 20
	allocateBackoff         = 2 * time.Millisecond
)

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address  string
	Password string
	DB       int
	// KeyPrefix separates tenants sharing a database, e.g. "myapp:" gives
	// keys like "myapp:adao:request:...".
	KeyPrefix string
	// OperationTimeout bounds every Redis round trip.
	OperationTimeout time.Duration
}

// RedisPersistence is a request store that several API replicas can share.
type RedisPersistence struct {
	client  *redis.Client
	logger  *zap.Logger
	prefix  string
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
}

func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	rp := &RedisPersistence{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		logger:  logger,
		prefix:  cfg.KeyPrefix + namespace,
		timeout: cfg.OperationTimeout,
	}
	if rp.timeout <= 0 {
		rp.timeout = defaultOperationTimeout
	}

	err := rp.withTimeout(func(ctx context.Context) error {
		if err := rp.client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
		}
		return rp.ensureSchema(ctx)
	})
	if err != nil {
		_ = rp.client.Close()
		return nil, err
	}

	logger.Sugar().Infow("Connected redis request store", "address", cfg.Address, "db", cfg.DB, "key_prefix", cfg.KeyPrefix)
	return rp, nil
}

func (r *RedisPersistence) key(logical string) string {
	return r.prefix + logical
}

func (r *RedisPersistence) withTimeout(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return fn(ctx)
}

// open runs fn with a bounded context while holding the read side of the closed guard.
func (r *RedisPersistence) open(fn func(ctx context.Context) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return persistence.ErrClosed
	}
	return r.withTimeout(fn)
}

// ensureSchema stamps an empty namespace and refuses one written by another layout.
func (r *RedisPersistence) ensureSchema(ctx context.Context) error {
	schemaKey := r.key(persistence.KeySchemaVersion)
	if _, err := r.client.SetNX(ctx, schemaKey, persistence.CurrentSchemaVersion, 0).Result(); err != nil {
		return fmt.Errorf("failed to write schema version: %w", err)
	}
	version, err := r.client.Get(ctx, schemaKey).Result()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version != persistence.CurrentSchemaVersion {
		return fmt.Errorf("unsupported schema version %q, expected %q", version, persistence.CurrentSchemaVersion)
	}
	return nil
}

// counter reads a decimal counter; a missing key is zero. Works on both the
// client and a WATCH transaction.
func counter(ctx context.Context, c redis.StringCmdable, key string) (uint64, error) {
	raw, err := c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counter %s is not a uint64: %w", key, err)
	}
	return v, nil
}

func (r *RedisPersistence) readCounter(logical string) (uint64, error) {
	var v uint64
	err := r.open(func(ctx context.Context) error {
		var err error
		v, err = counter(ctx, r.client, r.key(logical))
		return err
	})
	return v, err
}

func (r *RedisPersistence) NextRequestId() (types.RequestId, error) {
	next, err := r.readCounter(persistence.KeyNextRequestId)
	if err != nil {
		return 0, fmt.Errorf("failed to read next request id: %w", err)
	}
	return types.RequestId(next), nil
}

func (r *RedisPersistence) InsertRequest(req *types.Request) error {
	_, err := r.AllocateRequest(persistence.ExactRequest(req))
	return err
}

// AllocateRequest WATCHes the counter, builds the request for its current value and
// writes request, counter and usage in one MULTI/EXEC. When another replica bumps the
// counter first the transaction aborts and build runs again with the new id.
func (r *RedisPersistence) AllocateRequest(build persistence.RequestBuilder) (*types.Request, error) {
	counterKey := r.key(persistence.KeyNextRequestId)
	usageKey := r.key(persistence.KeyStorageUsage)

	var stored *types.Request
	err := r.open(func(ctx context.Context) error {
		allocate := func(tx *redis.Tx) error {
			next, err := counter(ctx, tx, counterKey)
			if err != nil {
				return fmt.Errorf("failed to read next request id: %w", err)
			}
			req, err := build(types.RequestId(next))
			if err != nil {
				return err
			}
			if req == nil {
				return persistence.CheckInsert(nil, types.RequestId(next), false)
			}
			logical := persistence.RequestKey(req.Id)
			requestKey := r.key(logical)
			exists, err := tx.Exists(ctx, requestKey).Result()
			if err != nil {
				return fmt.Errorf("failed to check request %d: %w", req.Id, err)
			}
			if err := persistence.CheckInsert(req, types.RequestId(next), exists > 0); err != nil {
				return err
			}
			data, err := persistence.MarshalRequest(req)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, requestKey, data, 0)
				pipe.Set(ctx, counterKey, uint64(req.Id)+1, 0)
				pipe.IncrBy(ctx, usageKey, int64(len(logical)+len(data)))
				return nil
			})
			if err == nil {
				stored = req
			}
			return err
		}

		for attempt := 1; attempt <= maxAllocateAttempts; attempt++ {
			err := r.client.Watch(ctx, allocate, counterKey)
			if !errors.Is(err, redis.TxFailedErr) {
				return err
			}
			r.logger.Sugar().Debugw("Request id taken by another writer, retrying", "attempt", attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * allocateBackoff):
			}
		}
		return fmt.Errorf("failed to allocate a request id after %d attempts", maxAllocateAttempts)
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (r *RedisPersistence) GetRequest(id types.RequestId) (*types.Request, error) {
	var data []byte
	err := r.open(func(ctx context.Context) error {
		var err error
		data, err = r.client.Get(ctx, r.key(persistence.RequestKey(id))).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load request %d: %w", id, err)
	}
	if data == nil {
		return nil, nil
	}
	return persistence.UnmarshalRequest(data)
}

func (r *RedisPersistence) StorageUsage() (uint64, error) {
	usage, err := r.readCounter(persistence.KeyStorageUsage)
	if err != nil {
		return 0, fmt.Errorf("failed to read storage usage: %w", err)
	}
	return usage, nil
}

// Close releases the connection pool. Repeated calls are no-ops.
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}
	r.logger.Sugar().Info("Closed redis request store")
	return nil
}

func (r *RedisPersistence) HealthCheck() error {
	return r.open(func(ctx context.Context) error {
		if err := r.client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		n, err := r.client.Exists(ctx, r.key(persistence.KeySchemaVersion)).Result()
		if err != nil {
			return fmt.Errorf("failed to verify schema version: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("schema version missing")
		}
		return nil
	})
}
