package o11y

import (
	"context"
	"time"

	"github.com/goware/cachestore"
)

// KVStore is the byte-oriented key-value contract of the session cache backends.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

type tracedStore struct {
	label   string
	metrics *Metrics
	KVStore
}

// NewTracedStore wraps a session cache backend with spans and operation counters.
func NewTracedStore(label string, store KVStore, metrics *Metrics) KVStore {
	return &tracedStore{label: label, KVStore: store, metrics: metrics}
}

func (s *tracedStore) Get(ctx context.Context, key string) (_ []byte, found bool, err error) {
	ctx, span := Trace(ctx, "sessioncache.Get", WithAnnotation("backend", s.label))
	defer func() {
		span.RecordError(err)
		span.End()
		s.metrics.CacheOperation(s.label, "get", cacheResult(err, found))
	}()

	return s.KVStore.Get(ctx, key)
}

func (s *tracedStore) Set(ctx context.Context, key string, value []byte) (err error) {
	ctx, span := Trace(ctx, "sessioncache.Set", WithAnnotation("backend", s.label))
	defer func() {
		span.RecordError(err)
		span.End()
		s.metrics.CacheOperation(s.label, "set", cacheResult(err, true))
	}()

	return s.KVStore.Set(ctx, key, value)
}

func (s *tracedStore) Delete(ctx context.Context, key string) (err error) {
	ctx, span := Trace(ctx, "sessioncache.Delete", WithAnnotation("backend", s.label))
	defer func() {
		span.RecordError(err)
		span.End()
		s.metrics.CacheOperation(s.label, "delete", cacheResult(err, true))
	}()

	return s.KVStore.Delete(ctx, key)
}

func cacheResult(err error, found bool) string {
	switch {
	case err != nil:
		return "error"
	case !found:
		return "miss"
	}
	return "ok"
}

type tracedCache[V any] struct {
	label string
	cachestore.Store[V]
}

// NewTracedCache wraps a cachestore with spans on its read and write paths.
func NewTracedCache[V any](label string, store cachestore.Store[V]) cachestore.Store[V] {
	return &tracedCache[V]{label: label, Store: store}
}

func (c *tracedCache[V]) Get(ctx context.Context, key string) (_ V, _ bool, err error) {
	ctx, span := Trace(ctx, "cachestore.Get", WithAnnotation("cache", c.label))
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	return c.Store.Get(ctx, key)
}

func (c *tracedCache[V]) SetEx(ctx context.Context, key string, value V, ttl time.Duration) (err error) {
	ctx, span := Trace(ctx, "cachestore.SetEx", WithAnnotation("cache", c.label))
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	return c.Store.SetEx(ctx, key, value, ttl)
}

func (c *tracedCache[V]) Delete(ctx context.Context, key string) (err error) {
	ctx, span := Trace(ctx, "cachestore.Delete", WithAnnotation("cache", c.label))
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	return c.Store.Delete(ctx, key)
}

func (c *tracedCache[V]) Set(ctx context.Context, key string, value V) (err error) {
	ctx, span := Trace(ctx, "cachestore.Set", WithAnnotation("cache", c.label))
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	return c.Store.Set(ctx, key, value)
}
