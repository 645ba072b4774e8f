package store

import (
	"context"
	"sync"

	"github.com/hatlonely/secidx/kv/serializer"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

type LevelDBStoreOptions struct {
	// DBPath 是数据库目录，不存在时自动创建
	DBPath string `cfg:"dbPath" validate:"required"`

	KeyFormat string `cfg:"keyFormat" validate:"omitempty,oneof=json msgpack bson"`
	ValFormat string `cfg:"valFormat" validate:"omitempty,oneof=json msgpack bson"`

	// 块缓存容量，单位字节，零使用默认的 8MiB
	BlockCacheCapacity int `cfg:"blockCacheCapacity"`

	// 写缓冲大小，单位字节，零使用默认的 4MiB
	WriteBuffer int `cfg:"writeBuffer"`

	// 每次写入都 fsync
	Sync bool `cfg:"sync"`

	ReadOnly bool `cfg:"readOnly"`
}

// LevelDBStore 基于 goleveldb 的持久化存储，不支持 TTL
type LevelDBStore[K, V any] struct {
	db            *leveldb.DB
	writeOptions  *opt.WriteOptions
	keySerializer serializer.Serializer[K, []byte]
	valSerializer serializer.Serializer[V, []byte]

	mu sync.Mutex
}

func NewLevelDBStoreWithOptions[K, V any](options *LevelDBStoreOptions) (*LevelDBStore[K, V], error) {
	if options == nil || options.DBPath == "" {
		return nil, errors.New("dbPath is required")
	}

	keySerializer, valSerializer, err := newSerializers[K, V](options.KeyFormat, options.ValFormat)
	if err != nil {
		return nil, err
	}

	db, err := leveldb.OpenFile(options.DBPath, &opt.Options{
		BlockCacheCapacity: options.BlockCacheCapacity,
		WriteBuffer:        options.WriteBuffer,
		ReadOnly:           options.ReadOnly,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "leveldb.OpenFile failed. dbPath: %s", options.DBPath)
	}

	return &LevelDBStore[K, V]{
		db:            db,
		writeOptions:  &opt.WriteOptions{Sync: options.Sync},
		keySerializer: keySerializer,
		valSerializer: valSerializer,
	}, nil
}

func (s *LevelDBStore[K, V]) Set(ctx context.Context, key K, value V, opts ...setOption) error {
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

		exists, err := s.db.Has(keyBytes, nil)
		if err != nil {
			return errors.Wrap(err, "leveldb.Has failed")
		}
		if exists {
			return ErrConditionFailed
		}
	}

	if err := s.db.Put(keyBytes, valBytes, s.writeOptions); err != nil {
		return errors.Wrap(err, "leveldb.Put failed")
	}
	return nil
}

func (s *LevelDBStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V

	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return zero, errors.Wrap(err, "serialize key failed")
	}

	valBytes, err := s.db.Get(keyBytes, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return zero, ErrKeyNotFound
		}
		return zero, errors.Wrap(err, "leveldb.Get failed")
	}

	value, err := s.valSerializer.Deserialize(valBytes)
	if err != nil {
		return zero, errors.Wrap(err, "deserialize value failed")
	}
	return value, nil
}

func (s *LevelDBStore[K, V]) Del(ctx context.Context, key K) error {
	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return errors.Wrap(err, "serialize key failed")
	}
	if err := s.db.Delete(keyBytes, s.writeOptions); err != nil {
		return errors.Wrap(err, "leveldb.Delete failed")
	}
	return nil
}

func (s *LevelDBStore[K, V]) BatchSet(ctx context.Context, keys []K, vals []V, opts ...setOption) ([]error, error) {
	if len(keys) != len(vals) {
		return nil, errors.New("keys and vals length mismatch")
	}
	if newSetOptions(opts).IfNotExist {
		return batchSet[K, V](ctx, s, keys, vals, opts...)
	}

	errs := make([]error, len(keys))
	batch := new(leveldb.Batch)
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
		batch.Put(keyBytes, valBytes)
	}
	if err := s.db.Write(batch, s.writeOptions); err != nil {
		return nil, errors.Wrap(err, "leveldb.Write failed")
	}
	return errs, nil
}

func (s *LevelDBStore[K, V]) BatchGet(ctx context.Context, keys []K) ([]V, []error, error) {
	return batchGet[K, V](ctx, s, keys)
}

func (s *LevelDBStore[K, V]) BatchDel(ctx context.Context, keys []K) ([]error, error) {
	errs := make([]error, len(keys))
	batch := new(leveldb.Batch)
	for i, key := range keys {
		keyBytes, err := s.keySerializer.Serialize(key)
		if err != nil {
			errs[i] = errors.Wrap(err, "serialize key failed")
			continue
		}
		batch.Delete(keyBytes)
	}
	if err := s.db.Write(batch, s.writeOptions); err != nil {
		return nil, errors.Wrap(err, "leveldb.Write failed")
	}
	return errs, nil
}

func (s *LevelDBStore[K, V]) Close() error {
	return s.db.Close()
}
