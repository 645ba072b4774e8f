package store

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/hatlonely/secidx/kv/serializer"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

type BoltDBStoreOptions struct {
	// DBPath 是数据库文件的路径，不存在时自动创建
	DBPath string `cfg:"dbPath" validate:"required"`

	// 默认桶名称
	BucketName string `cfg:"bucketName" def:"default"`

	KeyFormat string `cfg:"keyFormat" validate:"omitempty,oneof=json msgpack bson"`
	ValFormat string `cfg:"valFormat" validate:"omitempty,oneof=json msgpack bson"`

	// Timeout 是获取文件锁的等待时间，零表示无限等待
	Timeout time.Duration `cfg:"timeout" def:"1s"`

	// NoSync 跳过每次提交后的 fsync，测试和可重建的数据可以打开
	NoSync bool `cfg:"noSync"`

	// FreelistType 可选 array 或 hashmap
	FreelistType string `cfg:"freelistType" validate:"omitempty,oneof=array hashmap"`
}

// BoltDBStore 基于 bbolt 的持久化存储，所有键写在同一个桶中
// bbolt 不支持 TTL，WithExpiration 会被忽略
type BoltDBStore[K, V any] struct {
	db            *bolt.DB
	bucketName    []byte
	keySerializer serializer.Serializer[K, []byte]
	valSerializer serializer.Serializer[V, []byte]
}

func NewBoltDBStoreWithOptions[K, V any](options *BoltDBStoreOptions) (*BoltDBStore[K, V], error) {
	if options == nil || options.DBPath == "" {
		return nil, errors.New("dbPath is required")
	}

	keySerializer, valSerializer, err := newSerializers[K, V](options.KeyFormat, options.ValFormat)
	if err != nil {
		return nil, err
	}

	directory := filepath.Dir(options.DBPath)
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, errors.Wrapf(err, "os.MkdirAll failed. directory: %s", directory)
	}

	db, err := bolt.Open(options.DBPath, 0600, &bolt.Options{
		Timeout:      options.Timeout,
		NoSync:       options.NoSync,
		FreelistType: bolt.FreelistType(options.FreelistType),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "bolt.Open failed. dbPath: %s", options.DBPath)
	}

	bucketName := []byte(options.BucketName)
	if len(bucketName) == 0 {
		bucketName = []byte("default")
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create bucket failed")
	}

	return &BoltDBStore[K, V]{
		db:            db,
		bucketName:    bucketName,
		keySerializer: keySerializer,
		valSerializer: valSerializer,
	}, nil
}

func (s *BoltDBStore[K, V]) Set(ctx context.Context, key K, value V, opts ...setOption) error {
	options := newSetOptions(opts)

	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return errors.Wrap(err, "serialize key failed")
	}
	valBytes, err := s.valSerializer.Serialize(value)
	if err != nil {
		return errors.Wrap(err, "serialize value failed")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(s.bucketName)
		if options.IfNotExist && bucket.Get(keyBytes) != nil {
			return ErrConditionFailed
		}
		return bucket.Put(keyBytes, valBytes)
	})
}

func (s *BoltDBStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V

	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return zero, errors.Wrap(err, "serialize key failed")
	}

	var valBytes []byte
	if err := s.db.View(func(tx *bolt.Tx) error {
		// bbolt 返回的切片只在事务内有效
		if v := tx.Bucket(s.bucketName).Get(keyBytes); v != nil {
			valBytes = append([]byte(nil), v...)
		}
		return nil
	}); err != nil {
		return zero, errors.Wrap(err, "bolt.View failed")
	}
	if valBytes == nil {
		return zero, ErrKeyNotFound
	}

	value, err := s.valSerializer.Deserialize(valBytes)
	if err != nil {
		return zero, errors.Wrap(err, "deserialize value failed")
	}
	return value, nil
}

func (s *BoltDBStore[K, V]) Del(ctx context.Context, key K) error {
	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return errors.Wrap(err, "serialize key failed")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucketName).Delete(keyBytes)
	})
}

// BatchSet 在一个事务中写入，WithIfNotExist 时已存在的键单独报错，不影响其他键
func (s *BoltDBStore[K, V]) BatchSet(ctx context.Context, keys []K, vals []V, opts ...setOption) ([]error, error) {
	if len(keys) != len(vals) {
		return nil, errors.New("keys and vals length mismatch")
	}
	options := newSetOptions(opts)

	errs := make([]error, len(keys))
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(s.bucketName)
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
			if options.IfNotExist && bucket.Get(keyBytes) != nil {
				errs[i] = ErrConditionFailed
				continue
			}
			if err := bucket.Put(keyBytes, valBytes); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "bolt.Update failed")
	}
	return errs, nil
}

func (s *BoltDBStore[K, V]) BatchGet(ctx context.Context, keys []K) ([]V, []error, error) {
	return batchGet[K, V](ctx, s, keys)
}

func (s *BoltDBStore[K, V]) BatchDel(ctx context.Context, keys []K) ([]error, error) {
	errs := make([]error, len(keys))
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(s.bucketName)
		for i, key := range keys {
			keyBytes, err := s.keySerializer.Serialize(key)
			if err != nil {
				errs[i] = errors.Wrap(err, "serialize key failed")
				continue
			}
			if err := bucket.Delete(keyBytes); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "bolt.Update failed")
	}
	return errs, nil
}

func (s *BoltDBStore[K, V]) Close() error {
	return s.db.Close()
}
