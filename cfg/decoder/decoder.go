package decoder

import (
	"path/filepath"
	"strings"

	"github.com/hatlonely/secidx/cfg/storage"
	"github.com/hatlonely/secidx/ref"
	"github.com/pkg/errors"
)

const Namespace = "github.com/hatlonely/secidx/cfg/decoder"

func init() {
	ref.MustRegister(Namespace, "JsonDecoder", NewJsonDecoder)
	ref.MustRegister(Namespace, "YamlDecoder", NewYamlDecoder)
	ref.MustRegister(Namespace, "TomlDecoder", NewTomlDecoder)
	ref.MustRegister(Namespace, "IniDecoder", NewIniDecoderWithOptions)
	ref.MustRegister(Namespace, "EnvDecoder", NewEnvDecoderWithOptions)
	ref.MustRegister(Namespace, "CmdDecoder", NewCmdDecoderWithOptions)
}

// Decoder 配置数据解码器接口
// 负责将原始数据转换为存储对象
type Decoder interface {
	Decode(data []byte) (storage.Storage, error)
}

func NewDecoderWithOptions(options *ref.TypeOptions) (Decoder, error) {
	obj, err := ref.NewWithOptions(options)
	if err != nil {
		return nil, errors.WithMessage(err, "ref.NewWithOptions failed")
	}
	decoder, ok := obj.(Decoder)
	if !ok {
		return nil, errors.Errorf("%T is not a Decoder", obj)
	}
	return decoder, nil
}

// DecoderTypeForFile 根据文件后缀选择解码器类型
func DecoderTypeForFile(filename string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".json":
		return "JsonDecoder", nil
	case ".yaml", ".yml":
		return "YamlDecoder", nil
	case ".toml":
		return "TomlDecoder", nil
	case ".ini":
		return "IniDecoder", nil
	case ".env":
		return "EnvDecoder", nil
	default:
		return "", errors.Errorf("unsupported file extension: %s", ext)
	}
}
