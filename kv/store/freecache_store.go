package store

import (
	"context"
	"time"

	"github.com/coocood/freecache"
	"github.com/hatlonely/secidx/kv/serializer"
	"github.com/pkg/errors"
)

type FreeCacheStoreOptions struct {
	// 缓存大小，单位字节，freecache 最小 512KB
	Size       int           `cfg:"size" def:"33554432"`
	DefaultTTL time.Duration `cfg:"defaultTTL"`
	KeyFormat  string        `cfg:"keyFormat" validate:"omitempty,oneof=json msgpack bson"`
	ValFormat  string        `cfg:"valFormat" validate:"omitempty,oneof=json msgpack bson"`
}

// FreeCacheStore 有界内存缓存，写满后按近似 LRU 淘汰
type FreeCacheStore[K, V any] struct {
	cache         *freecache.Cache
	defaultTTL    time.Duration
	keySerializer serializer.Serializer[K, []byte]
	valSerializer serializer.Serializer[V, []byte]
}

func NewFreeCacheStoreWithOptions[K, V any](options *FreeCacheStoreOptions) (*FreeCacheStore[K, V], error) {
	if options == nil {
		options = &FreeCacheStoreOptions{}
	}
	size := options.Size
	if size <= 0 {
		size = 32 * 1024 * 1024
	}

	keySerializer, valSerializer, err := newSerializers[K, V](options.KeyFormat, options.ValFormat)
	if err != nil {
		return nil, err
	}

	return &FreeCacheStore[K, V]{
		cache:         freecache.NewCache(size),
		defaultTTL:    options.DefaultTTL,
		keySerializer: keySerializer,
		valSerializer: valSerializer,
	}, nil
}

func (s *FreeCacheStore[K, V]) Set(ctx context.Context, key K, value V, opts ...setOption) error {
	options := newSetOptions(opts)

	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return errors.Wrap(err, "serialize key failed")
	}
	valBytes, err := s.valSerializer.Serialize(value)
	if err != nil {
		return errors.Wrap(err, "serialize value failed")
	}

	expiration := options.Expiration
	if expiration == 0 {
		expiration = s.defaultTTL
	}
	expireSeconds := int(expiration.Seconds())

	if options.IfNotExist {
		// GetOrSet 在同一个分段锁内完成检查和写入
		prev, err := s.cache.GetOrSet(keyBytes, valBytes, expireSeconds)
		if err != nil {
			return errors.Wrap(err, "freecache.GetOrSet failed")
		}
		if prev != nil {
			return ErrConditionFailed
		}
		return nil
	}

	if err := s.cache.Set(keyBytes, valBytes, expireSeconds); err != nil {
		return errors.Wrap(err, "freecache.Set failed")
	}
	return nil
}

func (s *FreeCacheStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V

	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return zero, errors.Wrap(err, "serialize key failed")
	}

	valBytes, err := s.cache.Get(keyBytes)
	if err != nil {
		if errors.Is(err, freecache.ErrNotFound) {
			return zero, ErrKeyNotFound
		}
		return zero, errors.Wrap(err, "freecache.Get failed")
	}

	value, err := s.valSerializer.Deserialize(valBytes)
	if err != nil {
		return zero, errors.Wrap(err, "deserialize value failed")
	}
	return value, nil
}

func (s *FreeCacheStore[K, V]) Del(ctx context.Context, key K) error {
	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return errors.Wrap(err, "serialize key failed")
	}
	s.cache.Del(keyBytes)
	return nil
}

func (s *FreeCacheStore[K, V]) BatchSet(ctx context.Context, keys []K, vals []V, opts ...setOption) ([]error, error) {
	return batchSet[K, V](ctx, s, keys, vals, opts...)
}

func (s *FreeCacheStore[K, V]) BatchGet(ctx context.Context, keys []K) ([]V, []error, error) {
	return batchGet[K, V](ctx, s, keys)
}

func (s *FreeCacheStore[K, V]) BatchDel(ctx context.Context, keys []K) ([]error, error) {
	return batchDel[K, V](ctx, s, keys)
}

func (s *FreeCacheStore[K, V]) Close() error {
	s.cache.Clear()
	return nil
}
