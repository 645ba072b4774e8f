package store

import (
	"context"
	"sync"
	"time"
)

type SyncMapStoreOptions struct{}

type syncMapEntry[V any] struct {
	value    V
	expireAt time.Time
}

func (e syncMapEntry[V]) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

// SyncMapStore 基于 sync.Map 的内存存储，过期键在读取时惰性删除
type SyncMapStore[K comparable, V any] struct {
	m   sync.Map
	mu  sync.Mutex
	now func() time.Time
}

func NewSyncMapStoreWithOptions[K comparable, V any](options *SyncMapStoreOptions) *SyncMapStore[K, V] {
	return &SyncMapStore[K, V]{now: time.Now}
}

func (s *SyncMapStore[K, V]) Set(ctx context.Context, key K, value V, opts ...setOption) error {
	options := newSetOptions(opts)

	entry := syncMapEntry[V]{value: value}
	if options.Expiration > 0 {
		entry.expireAt = s.now().Add(options.Expiration)
	}

	if !options.IfNotExist {
		s.m.Store(key, entry)
		return nil
	}

	// 条件写需要和过期检查一起完成
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.m.Load(key); ok && !existing.(syncMapEntry[V]).expired(s.now()) {
		return ErrConditionFailed
	}
	s.m.Store(key, entry)
	return nil
}

func (s *SyncMapStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V
	value, ok := s.m.Load(key)
	if !ok {
		return zero, ErrKeyNotFound
	}
	entry := value.(syncMapEntry[V])
	if entry.expired(s.now()) {
		s.m.CompareAndDelete(key, value)
		return zero, ErrKeyNotFound
	}
	return entry.value, nil
}

func (s *SyncMapStore[K, V]) Del(ctx context.Context, key K) error {
	s.m.Delete(key)
	return nil
}

func (s *SyncMapStore[K, V]) BatchSet(ctx context.Context, keys []K, vals []V, opts ...setOption) ([]error, error) {
	return batchSet[K, V](ctx, s, keys, vals, opts...)
}

func (s *SyncMapStore[K, V]) BatchGet(ctx context.Context, keys []K) ([]V, []error, error) {
	return batchGet[K, V](ctx, s, keys)
}

func (s *SyncMapStore[K, V]) BatchDel(ctx context.Context, keys []K) ([]error, error) {
	return batchDel[K, V](ctx, s, keys)
}

func (s *SyncMapStore[K, V]) Close() error {
	s.m.Clear()
	return nil
}
