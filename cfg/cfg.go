package cfg

import (
	"sync"

	"github.com/hatlonely/secidx/cfg/decoder"
	"github.com/hatlonely/secidx/cfg/provider"
	"github.com/hatlonely/secidx/cfg/storage"
	"github.com/hatlonely/secidx/log"
	"github.com/hatlonely/secidx/log/logger"
	"github.com/hatlonely/secidx/ref"
	"github.com/pkg/errors"
)

// Options 配置类初始化选项
type Options struct {
	Provider ref.TypeOptions
	Decoder  ref.TypeOptions
	// EnvPrefix 非空时用该前缀的环境变量覆盖配置，例如 SECIDX_LOGGER_LEVEL 覆盖 logger.level
	EnvPrefix string
	// Args 非空时用 --key=value 形式的命令行参数覆盖配置，优先级高于环境变量
	// 例如 --backfill-workers=8 覆盖 backfill.workers
	Args      []string
	CmdPrefix string
	Logger    logger.Logger
}

// Config 配置管理器
// 提供配置数据的统一访问入口和变更监听功能
type Config struct {
	provider provider.Provider
	decoder  decoder.Decoder
	logger   logger.Logger
	envData  *storage.MapStorage
	cmdData  *storage.MapStorage

	mu               sync.RWMutex
	storage          storage.Storage
	onChangeHandlers []func(*Config) error

	closeOnce   sync.Once
	closeResult error
}

func NewConfigWithOptions(options *Options) (*Config, error) {
	if options == nil {
		return nil, errors.New("options cannot be nil")
	}

	prov, err := provider.NewProviderWithOptions(&options.Provider)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create provider")
	}
	dec, err := decoder.NewDecoderWithOptions(&options.Decoder)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create decoder")
	}

	l := options.Logger
	if l == nil {
		l = log.Default()
	}

	c := &Config{
		provider: prov,
		decoder:  dec,
		logger:   l,
	}

	if options.EnvPrefix != "" {
		envProvider, _ := provider.NewEnvProviderWithOptions(&provider.EnvProviderOptions{Prefix: options.EnvPrefix})
		data, err := envProvider.Load()
		if err != nil {
			return nil, errors.WithMessage(err, "failed to load env")
		}
		envStorage, err := decoder.NewEnvDecoderWithOptions(nil).Decode(data)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to decode env")
		}
		c.envData = envStorage.(*storage.MapStorage)
	}

	if len(options.Args) > 0 {
		cmdProvider, _ := provider.NewCmdProviderWithOptions(&provider.CmdProviderOptions{Prefix: options.CmdPrefix, Args: options.Args})
		data, err := cmdProvider.Load()
		if err != nil {
			return nil, errors.WithMessage(err, "failed to load args")
		}
		cmdStorage, err := decoder.NewCmdDecoderWithOptions(nil).Decode(data)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to decode args")
		}
		c.cmdData = cmdStorage.(*storage.MapStorage)
	}

	data, err := prov.Load()
	if err != nil {
		return nil, errors.WithMessage(err, "failed to load data from provider")
	}
	if err := c.reload(data); err != nil {
		return nil, err
	}

	prov.OnChange(func(data []byte) error {
		return c.handleProviderChange(data)
	})

	return c, nil
}

// NewConfig 从文件中加载配置，根据文件后缀选择解码器
//
//	.json -> JsonDecoder
//	.yaml/.yml -> YamlDecoder
//	.toml -> TomlDecoder
//	.ini -> IniDecoder
//	.env -> EnvDecoder
func NewConfig(filename string) (*Config, error) {
	return NewConfigWithPrefix(filename, "")
}

// NewConfigWithPrefix 从文件中加载配置，并用带前缀的环境变量覆盖
func NewConfigWithPrefix(filename string, envPrefix string) (*Config, error) {
	return NewConfigWithArgs(filename, envPrefix, nil)
}

// NewConfigWithArgs 从文件中加载配置，依次用环境变量和命令行参数覆盖
func NewConfigWithArgs(filename string, envPrefix string, args []string) (*Config, error) {
	if filename == "" {
		return nil, errors.New("filename cannot be empty")
	}

	decoderType, err := decoder.DecoderTypeForFile(filename)
	if err != nil {
		return nil, err
	}

	return NewConfigWithOptions(&Options{
		Provider: ref.TypeOptions{
			Namespace: provider.Namespace,
			Type:      "FileProvider",
			Options:   &provider.FileProviderOptions{FilePath: filename},
		},
		Decoder: ref.TypeOptions{
			Namespace: decoder.Namespace,
			Type:      decoderType,
		},
		EnvPrefix: envPrefix,
		Args:      args,
	})
}

func (c *Config) reload(data []byte) error {
	s, err := c.decoder.Decode(data)
	if err != nil {
		return errors.WithMessage(err, "failed to decode data")
	}
	if ms, ok := s.(*storage.MapStorage); ok {
		s = ms.Merge(c.envData).Merge(c.cmdData)
	}

	c.mu.Lock()
	c.storage = storage.NewValidateStorage(s)
	c.mu.Unlock()
	return nil
}

func (c *Config) handleProviderChange(data []byte) error {
	if err := c.reload(data); err != nil {
		c.logger.Warn("config reload failed", "error", err)
		return err
	}

	c.mu.RLock()
	handlers := make([]func(*Config) error, len(c.onChangeHandlers))
	copy(handlers, c.onChangeHandlers)
	c.mu.RUnlock()

	c.logger.Info("config reloaded", "handlers", len(handlers))
	for _, handler := range handlers {
		if err := handler(c); err != nil {
			c.logger.Warn("config change handler failed", "error", err)
		}
	}
	return nil
}

// Sub 获取子配置存储对象，子配置不随文件变更自动刷新
func (c *Config) Sub(key string) storage.Storage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.storage.Sub(key)
}

// ConvertTo 绑定到结构体，应用 def 默认值并校验 validate tag
func (c *Config) ConvertTo(object any) error {
	c.mu.RLock()
	s := c.storage
	c.mu.RUnlock()

	if err := s.ConvertTo(object); err != nil {
		return errors.WithMessage(err, "config convert failed")
	}
	return nil
}

// OnChange 注册配置变更回调，调用 Watch 后生效
func (c *Config) OnChange(fn func(*Config) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChangeHandlers = append(c.onChangeHandlers, fn)
}

func (c *Config) Watch() error {
	return c.provider.Watch()
}

func (c *Config) Close() error {
	c.closeOnce.Do(func() {
		c.closeResult = c.provider.Close()
	})
	return c.closeResult
}
