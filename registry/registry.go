package registry

import (
	"context"
	"time"

	"github.com/hatlonely/secidx/build"
	"github.com/hatlonely/secidx/index"
	"github.com/hatlonely/secidx/ref"
	"github.com/pkg/errors"
)

const Namespace = "github.com/hatlonely/secidx/registry"

func init() {
	ref.MustRegister(Namespace, "MemoryRegistry", NewMemoryRegistryWithOptions)
	ref.MustRegister(Namespace, "GormRegistry", NewGormRegistryWithOptions)
}

// Registry 保存索引定义和构建进度
// 表上的索引每次创建、激活、删除都会增加该表的版本，查询计划缓存以版本区分
type Registry interface {
	index.Source

	// CreateIndex 重名时返回 errs.ErrDuplicate
	CreateIndex(ctx context.Context, idx *index.Index) error
	// GetIndex 不存在时返回 errs.ErrNotFound
	GetIndex(ctx context.Context, database, table, name string) (*index.Index, error)
	// ListAllIndexes 返回所有表上的索引，按表名和创建顺序排列
	ListAllIndexes(ctx context.Context) ([]*index.Index, error)
	// ActivateIndex 激活索引，已激活时直接返回
	ActivateIndex(ctx context.Context, database, table, name string, at time.Time) (*index.Index, error)
	// DeleteIndex 删除索引定义和构建进度，不存在时返回 errs.ErrNotFound
	DeleteIndex(ctx context.Context, database, table, name string) error

	// SaveStatus 保存索引最新的构建进度
	SaveStatus(ctx context.Context, status *build.IndexBuildStatus) error
	// GetStatus 不存在时返回 errs.ErrNotFound
	GetStatus(ctx context.Context, database, table, name string) (*build.IndexBuildStatus, error)

	Close() error
}

// NewRegistryWithOptions 通过 TypeOptions 创建注册表，options 为空时使用内存注册表
func NewRegistryWithOptions(options *ref.TypeOptions) (Registry, error) {
	if options == nil {
		return NewMemoryRegistryWithOptions(nil), nil
	}

	namespace := options.Namespace
	if namespace == "" {
		namespace = Namespace
	}
	obj, err := ref.New(namespace, options.Type, options.Options)
	if err != nil {
		return nil, errors.WithMessagef(err, "create registry %s failed", options.Type)
	}
	r, ok := obj.(Registry)
	if !ok {
		return nil, errors.Errorf("%T is not a Registry", obj)
	}
	return r, nil
}

func tableKey(database, table string) string {
	return database + "." + table
}
