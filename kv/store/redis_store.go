package store

import (
	"context"
	"time"

	"github.com/hatlonely/secidx/kv/serializer"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type RedisStoreOptions struct {
	// host:port 地址
	Endpoint string `cfg:"endpoint"`

	// 集群节点的 host:port 地址列表，设置 Endpoint 时忽略
	Endpoints []string `cfg:"endpoints"`

	Username string `cfg:"username"`
	Password string `cfg:"password"`
	DB       int    `cfg:"db"`

	// 键前缀，多个存储共享一个实例时用来隔离
	KeyPrefix string `cfg:"keyPrefix"`

	// 默认过期时间，零表示不过期
	DefaultTTL time.Duration `cfg:"defaultTTL"`

	KeyFormat string `cfg:"keyFormat" validate:"omitempty,oneof=json msgpack bson"`
	ValFormat string `cfg:"valFormat" validate:"omitempty,oneof=json msgpack bson"`

	MaxRetries   int           `cfg:"maxRetries" def:"3"`
	DialTimeout  time.Duration `cfg:"dialTimeout" def:"5s"`
	ReadTimeout  time.Duration `cfg:"readTimeout" def:"3s"`
	WriteTimeout time.Duration `cfg:"writeTimeout" def:"3s"`
	PoolSize     int           `cfg:"poolSize" def:"100"`
}

type RedisStore[K, V any] struct {
	client        redis.UniversalClient
	keyPrefix     string
	defaultTTL    time.Duration
	keySerializer serializer.Serializer[K, []byte]
	valSerializer serializer.Serializer[V, []byte]
}

// NewRedisClient 按配置创建单机或集群客户端，事件发布也复用这个函数
func NewRedisClient(options *RedisStoreOptions) (redis.UniversalClient, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}

	var client redis.UniversalClient
	if options.Endpoint != "" {
		client = redis.NewClient(&redis.Options{
			Addr:         options.Endpoint,
			Username:     options.Username,
			Password:     options.Password,
			DB:           options.DB,
			MaxRetries:   options.MaxRetries,
			DialTimeout:  options.DialTimeout,
			ReadTimeout:  options.ReadTimeout,
			WriteTimeout: options.WriteTimeout,
			PoolSize:     options.PoolSize,
		})
	} else if len(options.Endpoints) > 0 {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        options.Endpoints,
			Username:     options.Username,
			Password:     options.Password,
			MaxRetries:   options.MaxRetries,
			DialTimeout:  options.DialTimeout,
			ReadTimeout:  options.ReadTimeout,
			WriteTimeout: options.WriteTimeout,
			PoolSize:     options.PoolSize,
		})
	} else {
		return nil, errors.New("Endpoint or Endpoints must be set")
	}

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, errors.WithMessage(err, "redis.client.Ping failed")
	}
	return client, nil
}

func NewRedisStoreWithOptions[K, V any](options *RedisStoreOptions) (*RedisStore[K, V], error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}

	keySerializer, valSerializer, err := newSerializers[K, V](options.KeyFormat, options.ValFormat)
	if err != nil {
		return nil, err
	}

	client, err := NewRedisClient(options)
	if err != nil {
		return nil, err
	}

	return &RedisStore[K, V]{
		client:        client,
		keyPrefix:     options.KeyPrefix,
		defaultTTL:    options.DefaultTTL,
		keySerializer: keySerializer,
		valSerializer: valSerializer,
	}, nil
}

func (s *RedisStore[K, V]) key(key K) (string, error) {
	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return "", errors.Wrap(err, "serialize key failed")
	}
	return s.keyPrefix + string(keyBytes), nil
}

func (s *RedisStore[K, V]) Set(ctx context.Context, key K, value V, opts ...setOption) error {
	options := newSetOptions(opts)

	k, err := s.key(key)
	if err != nil {
		return err
	}
	valBytes, err := s.valSerializer.Serialize(value)
	if err != nil {
		return errors.Wrap(err, "serialize value failed")
	}

	expiration := options.Expiration
	if expiration == 0 {
		expiration = s.defaultTTL
	}

	if options.IfNotExist {
		ok, err := s.client.SetNX(ctx, k, valBytes, expiration).Result()
		if err != nil {
			return errors.Wrap(err, "redis.SetNX failed")
		}
		if !ok {
			return ErrConditionFailed
		}
		return nil
	}

	if err := s.client.Set(ctx, k, valBytes, expiration).Err(); err != nil {
		return errors.Wrap(err, "redis.Set failed")
	}
	return nil
}

func (s *RedisStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V

	k, err := s.key(key)
	if err != nil {
		return zero, err
	}

	valBytes, err := s.client.Get(ctx, k).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, ErrKeyNotFound
		}
		return zero, errors.Wrap(err, "redis.Get failed")
	}

	value, err := s.valSerializer.Deserialize(valBytes)
	if err != nil {
		return zero, errors.Wrap(err, "deserialize value failed")
	}
	return value, nil
}

func (s *RedisStore[K, V]) Del(ctx context.Context, key K) error {
	k, err := s.key(key)
	if err != nil {
		return err
	}
	if err := s.client.Del(ctx, k).Err(); err != nil {
		return errors.Wrap(err, "redis.Del failed")
	}
	return nil
}

// BatchSet 通过 pipeline 一次提交
func (s *RedisStore[K, V]) BatchSet(ctx context.Context, keys []K, vals []V, opts ...setOption) ([]error, error) {
	if len(keys) != len(vals) {
		return nil, errors.New("keys and vals length mismatch")
	}
	options := newSetOptions(opts)
	expiration := options.Expiration
	if expiration == 0 {
		expiration = s.defaultTTL
	}

	errs := make([]error, len(keys))
	cmds := make([]redis.Cmder, len(keys))
	pipe := s.client.Pipeline()
	for i := range keys {
		k, err := s.key(keys[i])
		if err != nil {
			errs[i] = err
			continue
		}
		valBytes, err := s.valSerializer.Serialize(vals[i])
		if err != nil {
			errs[i] = errors.Wrap(err, "serialize value failed")
			continue
		}
		if options.IfNotExist {
			cmds[i] = pipe.SetNX(ctx, k, valBytes, expiration)
		} else {
			cmds[i] = pipe.Set(ctx, k, valBytes, expiration)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, errors.Wrap(err, "redis pipeline failed")
	}

	for i, cmd := range cmds {
		if cmd == nil {
			continue
		}
		if err := cmd.Err(); err != nil {
			errs[i] = err
			continue
		}
		if boolCmd, ok := cmd.(*redis.BoolCmd); ok && !boolCmd.Val() {
			errs[i] = ErrConditionFailed
		}
	}
	return errs, nil
}

func (s *RedisStore[K, V]) BatchGet(ctx context.Context, keys []K) ([]V, []error, error) {
	vals := make([]V, len(keys))
	errs := make([]error, len(keys))

	redisKeys := make([]string, 0, len(keys))
	positions := make([]int, 0, len(keys))
	for i, key := range keys {
		k, err := s.key(key)
		if err != nil {
			errs[i] = err
			continue
		}
		redisKeys = append(redisKeys, k)
		positions = append(positions, i)
	}
	if len(redisKeys) == 0 {
		return vals, errs, nil
	}

	results, err := s.client.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return nil, nil, errors.Wrap(err, "redis.MGet failed")
	}
	for j, result := range results {
		i := positions[j]
		str, ok := result.(string)
		if !ok {
			errs[i] = ErrKeyNotFound
			continue
		}
		vals[i], errs[i] = s.valSerializer.Deserialize([]byte(str))
	}
	return vals, errs, nil
}

func (s *RedisStore[K, V]) BatchDel(ctx context.Context, keys []K) ([]error, error) {
	errs := make([]error, len(keys))
	redisKeys := make([]string, 0, len(keys))
	for i, key := range keys {
		k, err := s.key(key)
		if err != nil {
			errs[i] = err
			continue
		}
		redisKeys = append(redisKeys, k)
	}
	if len(redisKeys) > 0 {
		if err := s.client.Del(ctx, redisKeys...).Err(); err != nil {
			return nil, errors.Wrap(err, "redis.Del failed")
		}
	}
	return errs, nil
}

func (s *RedisStore[K, V]) Close() error {
	return s.client.Close()
}
