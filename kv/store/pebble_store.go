package store

import (
	"context"
	"sync"

	"github.com/cockroachdb/fifo"
	"github.com/cockroachdb/pebble"
	"github.com/hatlonely/secidx/kv/serializer"
	"github.com/pkg/errors"
)

type PebbleStoreOptions struct {
	// DBPath 是数据库目录，不存在时自动创建
	DBPath string `cfg:"dbPath" validate:"required"`

	KeyFormat string `cfg:"keyFormat" validate:"omitempty,oneof=json msgpack bson"`
	ValFormat string `cfg:"valFormat" validate:"omitempty,oneof=json msgpack bson"`

	// 写入时不等待 WAL 落盘
	SetWithoutSync bool `cfg:"setWithoutSync"`

	// 块缓存大小，单位字节，零使用 pebble 默认的 8MB
	CacheSize int64 `cfg:"cacheSize"`

	// 限制并行从文件系统加载的块数，零表示不限制
	LoadBlockConcurrency int64 `cfg:"loadBlockConcurrency"`

	// 稳态 memtable 大小，单位字节
	MemTableSize int `cfg:"memTableSize"`

	MaxOpenFiles int  `cfg:"maxOpenFiles"`
	DisableWAL   bool `cfg:"disableWAL"`
	ReadOnly     bool `cfg:"readOnly"`
}

// PebbleStore 基于 pebble 的持久化存储，pebble 不支持 TTL，WithExpiration 会被忽略
type PebbleStore[K, V any] struct {
	db            *pebble.DB
	cache         *pebble.Cache
	writeOptions  *pebble.WriteOptions
	keySerializer serializer.Serializer[K, []byte]
	valSerializer serializer.Serializer[V, []byte]

	// 条件写需要串行化检查和写入
	mu sync.Mutex
}

func NewPebbleStoreWithOptions[K, V any](options *PebbleStoreOptions) (*PebbleStore[K, V], error) {
	if options == nil || options.DBPath == "" {
		return nil, errors.New("dbPath is required")
	}

	keySerializer, valSerializer, err := newSerializers[K, V](options.KeyFormat, options.ValFormat)
	if err != nil {
		return nil, err
	}

	pebbleOptions := &pebble.Options{
		MaxOpenFiles: options.MaxOpenFiles,
		DisableWAL:   options.DisableWAL,
		ReadOnly:     options.ReadOnly,
	}
	if options.MemTableSize > 0 {
		pebbleOptions.MemTableSize = uint64(options.MemTableSize)
	}

	var cache *pebble.Cache
	if options.CacheSize > 0 {
		cache = pebble.NewCache(options.CacheSize)
		pebbleOptions.Cache = cache
	}
	if options.LoadBlockConcurrency > 0 {
		pebbleOptions.LoadBlockSema = fifo.NewSemaphore(options.LoadBlockConcurrency)
	}

	db, err := pebble.Open(options.DBPath, pebbleOptions)
	if err != nil {
		if cache != nil {
			cache.Unref()
		}
		return nil, errors.Wrapf(err, "pebble.Open failed. dbPath: %s", options.DBPath)
	}

	writeOptions := pebble.Sync
	if options.SetWithoutSync {
		writeOptions = pebble.NoSync
	}

	return &PebbleStore[K, V]{
		db:            db,
		cache:         cache,
		writeOptions:  writeOptions,
		keySerializer: keySerializer,
		valSerializer: valSerializer,
	}, nil
}

func (s *PebbleStore[K, V]) Set(ctx context.Context, key K, value V, opts ...setOption) error {
	options := newSetOptions(opts)

	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return errors.Wrap(err, "serialize key failed")
	}
	valBytes, err := s.valSerializer.Serialize(value)
	if err != nil {
		return errors.Wrap(err, "serialize value failed")
	}

	if options.IfNotExist {
		s.mu.Lock()
		defer s.mu.Unlock()

		exists, err := s.exists(keyBytes)
		if err != nil {
			return err
		}
		if exists {
			return ErrConditionFailed
		}
	}

	if err := s.db.Set(keyBytes, valBytes, s.writeOptions); err != nil {
		return errors.Wrap(err, "pebble.Set failed")
	}
	return nil
}

func (s *PebbleStore[K, V]) exists(keyBytes []byte) (bool, error) {
	_, closer, err := s.db.Get(keyBytes)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, errors.Wrap(err, "pebble.Get failed")
	}
	closer.Close()
	return true, nil
}

func (s *PebbleStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V

	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return zero, errors.Wrap(err, "serialize key failed")
	}

	valBytes, closer, err := s.db.Get(keyBytes)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return zero, ErrKeyNotFound
		}
		return zero, errors.Wrap(err, "pebble.Get failed")
	}
	// 返回的切片在 closer.Close 之后失效，先反序列化
	value, err := s.valSerializer.Deserialize(valBytes)
	closer.Close()
	if err != nil {
		return zero, errors.Wrap(err, "deserialize value failed")
	}
	return value, nil
}

func (s *PebbleStore[K, V]) Del(ctx context.Context, key K) error {
	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return errors.Wrap(err, "serialize key failed")
	}
	if err := s.db.Delete(keyBytes, s.writeOptions); err != nil {
		return errors.Wrap(err, "pebble.Delete failed")
	}
	return nil
}

func (s *PebbleStore[K, V]) BatchSet(ctx context.Context, keys []K, vals []V, opts ...setOption) ([]error, error) {
	if len(keys) != len(vals) {
		return nil, errors.New("keys and vals length mismatch")
	}
	if newSetOptions(opts).IfNotExist {
		return batchSet[K, V](ctx, s, keys, vals, opts...)
	}

	errs := make([]error, len(keys))
	batch := s.db.NewBatch()
	defer batch.Close()
	for i := range keys {
		keyBytes, err := s.keySerializer.Serialize(keys[i])
		if err != nil {
			errs[i] = errors.Wrap(err, "serialize key failed")
			continue
		}
		valBytes, err := s.valSerializer.Serialize(vals[i])
		if err != nil {
			errs[i] = errors.Wrap(err, "serialize value failed")
			continue
		}
		if err := batch.Set(keyBytes, valBytes, nil); err != nil {
			errs[i] = errors.Wrap(err, "batch.Set failed")
		}
	}
	if err := batch.Commit(s.writeOptions); err != nil {
		return nil, errors.Wrap(err, "batch.Commit failed")
	}
	return errs, nil
}

func (s *PebbleStore[K, V]) BatchGet(ctx context.Context, keys []K) ([]V, []error, error) {
	return batchGet[K, V](ctx, s, keys)
}

func (s *PebbleStore[K, V]) BatchDel(ctx context.Context, keys []K) ([]error, error) {
	errs := make([]error, len(keys))
	batch := s.db.NewBatch()
	defer batch.Close()
	for i, key := range keys {
		keyBytes, err := s.keySerializer.Serialize(key)
		if err != nil {
			errs[i] = errors.Wrap(err, "serialize key failed")
			continue
		}
		if err := batch.Delete(keyBytes, nil); err != nil {
			errs[i] = errors.Wrap(err, "batch.Delete failed")
		}
	}
	if err := batch.Commit(s.writeOptions); err != nil {
		return nil, errors.Wrap(err, "batch.Commit failed")
	}
	return errs, nil
}

func (s *PebbleStore[K, V]) Close() error {
	err := s.db.Close()
	if s.cache != nil {
		s.cache.Unref()
	}
	return err
}
