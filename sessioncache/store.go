package sessioncache

import (
	"context"
	"fmt"

	"github.com/0xsequence/identity-verifier/config"
	"github.com/0xsequence/identity-verifier/data"
	"github.com/0xsequence/identity-verifier/o11y"
	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
)

// Store is the byte-oriented key-value backend holding the cached record.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
)

// Open builds the backend selected by cfg.SessionCache.Backend wrapped with tracing and metrics.
// db is only used by the dynamodb backend and may be nil otherwise.
func Open(cfg *config.Config, db data.DB, metrics *o11y.Metrics) (Store, error) {
	var (
		store Store
		err   error
	)

	switch cfg.SessionCache.Backend {
	case BackendMemory, "":
		store, err = NewMemoryStore(16)
	case BackendFile:
		store = NewFileStore(cfg.SessionCache.Path)
	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store = NewRedisStore(client, cfg.Redis.Namespace)
	case BackendDynamoDB:
		if db == nil {
			return nil, fmt.Errorf("dynamodb session cache requires a database client")
		}
		table := data.NewAuthRecordTable(db, cfg.Database.AuthRecordsTable)
		store = NewDynamoStore(table, cfg.Database.DeviceID, clock.New())
	default:
		return nil, fmt.Errorf("unknown session cache backend %q", cfg.SessionCache.Backend)
	}
	if err != nil {
		return nil, err
	}

	label := cfg.SessionCache.Backend
	if label == "" {
		label = BackendMemory
	}
	return o11y.NewTracedStore(label, store, metrics), nil
}
