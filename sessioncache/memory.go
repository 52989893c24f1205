package sessioncache

import (
	"context"

	"github.com/0xsequence/identity-verifier/o11y"
	"github.com/goware/cachestore"
	"github.com/goware/cachestore/cachestorectl"
	"github.com/goware/cachestore/memlru"
)

type MemoryStore struct {
	store cachestore.Store[[]byte]
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(size int) (*MemoryStore, error) {
	store, err := cachestorectl.Open[[]byte](memlru.Backend(size))
	if err != nil {
		return nil, err
	}
	return &MemoryStore{store: o11y.NewTracedCache("sessioncache", store)}, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.store.Get(ctx, key)
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	return s.store.Set(ctx, key, value)
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	return s.store.Delete(ctx, key)
}
