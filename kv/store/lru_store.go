package store

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

type LRUStoreOptions struct {
	Size int `cfg:"size" def:"10000" validate:"min=0"`
}

type lruEntry[V any] struct {
	value    V
	expireAt time.Time
}

// LRUStore 按条目数限制大小的内存缓存
type LRUStore[K comparable, V any] struct {
	cache *lru.Cache[K, lruEntry[V]]
	mu    sync.Mutex
	now   func() time.Time
}

func NewLRUStoreWithOptions[K comparable, V any](options *LRUStoreOptions) (*LRUStore[K, V], error) {
	size := 10000
	if options != nil && options.Size > 0 {
		size = options.Size
	}

	cache, err := lru.New[K, lruEntry[V]](size)
	if err != nil {
		return nil, errors.Wrap(err, "lru.New failed")
	}
	return &LRUStore[K, V]{cache: cache, now: time.Now}, nil
}

func (s *LRUStore[K, V]) Set(ctx context.Context, key K, value V, opts ...setOption) error {
	options := newSetOptions(opts)

	entry := lruEntry[V]{value: value}
	if options.Expiration > 0 {
		entry.expireAt = s.now().Add(options.Expiration)
	}

	if !options.IfNotExist {
		s.cache.Add(key, entry)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.cache.Peek(key); ok && !s.expired(existing) {
		return ErrConditionFailed
	}
	s.cache.Add(key, entry)
	return nil
}

func (s *LRUStore[K, V]) expired(entry lruEntry[V]) bool {
	return !entry.expireAt.IsZero() && !s.now().Before(entry.expireAt)
}

func (s *LRUStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V
	entry, ok := s.cache.Get(key)
	if !ok {
		return zero, ErrKeyNotFound
	}
	if s.expired(entry) {
		s.cache.Remove(key)
		return zero, ErrKeyNotFound
	}
	return entry.value, nil
}

func (s *LRUStore[K, V]) Del(ctx context.Context, key K) error {
	s.cache.Remove(key)
	return nil
}

func (s *LRUStore[K, V]) BatchSet(ctx context.Context, keys []K, vals []V, opts ...setOption) ([]error, error) {
	return batchSet[K, V](ctx, s, keys, vals, opts...)
}

func (s *LRUStore[K, V]) BatchGet(ctx context.Context, keys []K) ([]V, []error, error) {
	return batchGet[K, V](ctx, s, keys)
}

func (s *LRUStore[K, V]) BatchDel(ctx context.Context, keys []K) ([]error, error) {
	return batchDel[K, V](ctx, s, keys)
}

// Len 当前缓存的条目数
func (s *LRUStore[K, V]) Len() int {
	return s.cache.Len()
}

func (s *LRUStore[K, V]) Close() error {
	s.cache.Purge()
	return nil
}
