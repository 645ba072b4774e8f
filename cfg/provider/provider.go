package provider

import (
	"github.com/hatlonely/secidx/ref"
	"github.com/pkg/errors"
)

const Namespace = "github.com/hatlonely/secidx/cfg/provider"

func init() {
	ref.MustRegister(Namespace, "FileProvider", NewFileProviderWithOptions)
	ref.MustRegister(Namespace, "EnvProvider", NewEnvProviderWithOptions)
	ref.MustRegister(Namespace, "CmdProvider", NewCmdProviderWithOptions)
}

// Provider 配置数据提供者接口
// 负责读取配置数据和监听配置变更
type Provider interface {
	// Load 读取配置数据
	Load() (data []byte, err error)
	// OnChange 注册配置数据变更回调函数，只添加回调，不启动监听
	OnChange(fn func(data []byte) error)
	// Watch 启动配置变更监听
	Watch() error
	Close() error
}

func NewProviderWithOptions(options *ref.TypeOptions) (Provider, error) {
	obj, err := ref.NewWithOptions(options)
	if err != nil {
		return nil, errors.WithMessage(err, "ref.NewWithOptions failed")
	}
	provider, ok := obj.(Provider)
	if !ok {
		return nil, errors.Errorf("%T is not a Provider", obj)
	}
	return provider, nil
}
