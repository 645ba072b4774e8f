package store

import (
	"context"
	"time"

	"github.com/hatlonely/secidx/kv/serializer"
	"github.com/hatlonely/secidx/ref"
	"github.com/pkg/errors"
)

const Namespace = "github.com/hatlonely/secidx/kv/store"

var (
	ErrKeyNotFound     = errors.New("key not found")
	ErrConditionFailed = errors.New("condition failed")
)

// setOptions 用于设置 KV 数据时的选项
type setOptions struct {
	Expiration time.Duration
	IfNotExist bool
}

type setOption func(*setOptions)

func WithExpiration(expiration time.Duration) setOption {
	return func(options *setOptions) {
		options.Expiration = expiration
	}
}

func WithIfNotExist() setOption {
	return func(options *setOptions) {
		options.IfNotExist = true
	}
}

func newSetOptions(opts []setOption) *setOptions {
	options := &setOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

type Store[K, V any] interface {
	// Set 设置键值对，WithIfNotExist 时键存在则返回 ErrConditionFailed
	Set(ctx context.Context, key K, value V, opts ...setOption) error
	// Get 获取键对应的值，键不存在时返回 ErrKeyNotFound
	Get(ctx context.Context, key K) (V, error)
	// Del 删除键，键不存在时也返回成功
	Del(ctx context.Context, key K) error
	// BatchSet 批量设置，返回每个键的操作结果
	BatchSet(ctx context.Context, keys []K, vals []V, opts ...setOption) ([]error, error)
	// BatchGet 批量获取，返回每个键的值和错误
	BatchGet(ctx context.Context, keys []K) ([]V, []error, error)
	// BatchDel 批量删除，返回每个键的操作结果
	BatchDel(ctx context.Context, keys []K) ([]error, error)
	Close() error
}

// NewStoreWithOptions 根据 TypeOptions 创建存储，Type 为实现名，如 SyncMapStore、RedisStore
// 泛型构造函数按 K、V 实例化后注册到独立的注册表，不同实例化之间互不影响
func NewStoreWithOptions[K comparable, V any](options *ref.TypeOptions) (Store[K, V], error) {
	if options == nil {
		return nil, errors.New("store options is nil")
	}

	registry := ref.NewRegistry()
	registry.MustRegister(Namespace, "SyncMapStore", NewSyncMapStoreWithOptions[K, V])
	registry.MustRegister(Namespace, "FreeCacheStore", NewFreeCacheStoreWithOptions[K, V])
	registry.MustRegister(Namespace, "LRUStore", NewLRUStoreWithOptions[K, V])
	registry.MustRegister(Namespace, "BoltDBStore", NewBoltDBStoreWithOptions[K, V])
	registry.MustRegister(Namespace, "PebbleStore", NewPebbleStoreWithOptions[K, V])
	registry.MustRegister(Namespace, "LevelDBStore", NewLevelDBStoreWithOptions[K, V])
	registry.MustRegister(Namespace, "RedisStore", NewRedisStoreWithOptions[K, V])
	registry.MustRegister(Namespace, "TieredStore", NewTieredStoreWithOptions[K, V])
	registry.MustRegister(Namespace, "ObservableStore", NewObservableStoreWithOptions[K, V])

	namespace := options.Namespace
	if namespace == "" {
		namespace = Namespace
	}
	obj, err := registry.New(namespace, options.Type, options.Options)
	if err != nil {
		return nil, errors.WithMessagef(err, "create store %s failed", options.Type)
	}
	store, ok := obj.(Store[K, V])
	if !ok {
		return nil, errors.Errorf("%T is not a Store", obj)
	}
	return store, nil
}

// newSerializers 构造键和值的序列化器
func newSerializers[K, V any](keyFormat, valFormat string) (serializer.Serializer[K, []byte], serializer.Serializer[V, []byte], error) {
	keySerializer, err := serializer.NewByteSerializer[K](keyFormat)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "invalid key serializer")
	}
	valSerializer, err := serializer.NewByteSerializer[V](valFormat)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "invalid value serializer")
	}
	return keySerializer, valSerializer, nil
}

// batchSet 逐个调用 Set 实现批量写入
func batchSet[K, V any](ctx context.Context, s Store[K, V], keys []K, vals []V, opts ...setOption) ([]error, error) {
	if len(keys) != len(vals) {
		return nil, errors.New("keys and vals length mismatch")
	}
	errs := make([]error, len(keys))
	for i := range keys {
		errs[i] = s.Set(ctx, keys[i], vals[i], opts...)
	}
	return errs, nil
}

func batchGet[K, V any](ctx context.Context, s Store[K, V], keys []K) ([]V, []error, error) {
	vals := make([]V, len(keys))
	errs := make([]error, len(keys))
	for i, key := range keys {
		vals[i], errs[i] = s.Get(ctx, key)
	}
	return vals, errs, nil
}

func batchDel[K, V any](ctx context.Context, s Store[K, V], keys []K) ([]error, error) {
	errs := make([]error, len(keys))
	for i, key := range keys {
		errs[i] = s.Del(ctx, key)
	}
	return errs, nil
}
