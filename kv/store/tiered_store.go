package store

import (
	"context"

	"github.com/hatlonely/secidx/ref"
	"github.com/pkg/errors"
)

const (
	WriteThrough = "writeThrough"
	WriteBack    = "writeBack"
)

type TieredStoreOptions struct {
	// Tiers 按优先级从高到低排列，第一层是最快的缓存，最后一层是持久化存储
	Tiers []*ref.TypeOptions `cfg:"tiers" validate:"required,min=1,dive,required"`

	// WritePolicy 写入策略
	// - writeThrough: 同步写入所有层
	// - writeBack: 只同步写第一层，其余层异步写入
	WritePolicy string `cfg:"writePolicy" def:"writeThrough" validate:"oneof=writeThrough writeBack"`

	// Promote 从下层读到数据后写回上层
	Promote bool `cfg:"promote"`
}

// TieredStore 多级存储，读取自上而下，命中后可以回填上层
type TieredStore[K comparable, V any] struct {
	tiers       []Store[K, V]
	writePolicy string
	promote     bool
}

func NewTieredStoreWithOptions[K comparable, V any](options *TieredStoreOptions) (*TieredStore[K, V], error) {
	if options == nil || len(options.Tiers) == 0 {
		return nil, errors.New("at least one tier is required")
	}

	tiers := make([]Store[K, V], 0, len(options.Tiers))
	for i, tierOptions := range options.Tiers {
		tier, err := NewStoreWithOptions[K, V](tierOptions)
		if err != nil {
			for _, created := range tiers {
				created.Close()
			}
			return nil, errors.WithMessagef(err, "failed to create tier %d", i)
		}
		tiers = append(tiers, tier)
	}

	return NewTieredStore(tiers, options.WritePolicy, options.Promote)
}

// NewTieredStore 用已经创建好的存储组装多级存储
func NewTieredStore[K comparable, V any](tiers []Store[K, V], writePolicy string, promote bool) (*TieredStore[K, V], error) {
	if len(tiers) == 0 {
		return nil, errors.New("at least one tier is required")
	}
	if writePolicy == "" {
		writePolicy = WriteThrough
	}
	if writePolicy != WriteThrough && writePolicy != WriteBack {
		return nil, errors.Errorf("invalid write policy: %s", writePolicy)
	}
	return &TieredStore[K, V]{tiers: tiers, writePolicy: writePolicy, promote: promote}, nil
}

func (ts *TieredStore[K, V]) Set(ctx context.Context, key K, value V, opts ...setOption) error {
	if err := ts.tiers[0].Set(ctx, key, value, opts...); err != nil {
		return err
	}
	if len(ts.tiers) == 1 {
		return nil
	}

	// 条件只在第一层判断，下层直接覆盖
	options := newSetOptions(opts)
	lowerOpts := []setOption{WithExpiration(options.Expiration)}

	if ts.writePolicy == WriteBack {
		go ts.writeLower(context.WithoutCancel(ctx), key, value, lowerOpts)
		return nil
	}
	return ts.writeLower(ctx, key, value, lowerOpts)
}

func (ts *TieredStore[K, V]) writeLower(ctx context.Context, key K, value V, opts []setOption) error {
	var firstErr error
	for i := 1; i < len(ts.tiers); i++ {
		if err := ts.tiers[i].Set(ctx, key, value, opts...); err != nil && firstErr == nil {
			firstErr = errors.WithMessagef(err, "tier %d set failed", i)
		}
	}
	return firstErr
}

func (ts *TieredStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V
	var lastErr error

	for i, tier := range ts.tiers {
		value, err := tier.Get(ctx, key)
		if err == nil {
			if ts.promote {
				for j := i - 1; j >= 0; j-- {
					_ = ts.tiers[j].Set(ctx, key, value)
				}
			}
			return value, nil
		}
		if !errors.Is(err, ErrKeyNotFound) {
			// 某一层出错时继续尝试下一层
			lastErr = err
		}
	}

	if lastErr != nil {
		return zero, lastErr
	}
	return zero, ErrKeyNotFound
}

func (ts *TieredStore[K, V]) Del(ctx context.Context, key K) error {
	var firstErr error
	for i, tier := range ts.tiers {
		if err := tier.Del(ctx, key); err != nil && firstErr == nil {
			firstErr = errors.WithMessagef(err, "tier %d del failed", i)
		}
	}
	return firstErr
}

func (ts *TieredStore[K, V]) BatchSet(ctx context.Context, keys []K, vals []V, opts ...setOption) ([]error, error) {
	return batchSet[K, V](ctx, ts, keys, vals, opts...)
}

func (ts *TieredStore[K, V]) BatchGet(ctx context.Context, keys []K) ([]V, []error, error) {
	return batchGet[K, V](ctx, ts, keys)
}

func (ts *TieredStore[K, V]) BatchDel(ctx context.Context, keys []K) ([]error, error) {
	return batchDel[K, V](ctx, ts, keys)
}

// Tier 返回指定层，用于测试和监控
func (ts *TieredStore[K, V]) Tier(i int) Store[K, V] {
	if i < 0 || i >= len(ts.tiers) {
		return nil
	}
	return ts.tiers[i]
}

func (ts *TieredStore[K, V]) Close() error {
	var firstErr error
	for i, tier := range ts.tiers {
		if err := tier.Close(); err != nil && firstErr == nil {
			firstErr = errors.WithMessagef(err, "failed to close tier %d", i)
		}
	}
	return firstErr
}
