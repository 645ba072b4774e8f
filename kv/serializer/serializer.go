package serializer

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	FormatJSON    = "json"
	FormatMsgPack = "msgpack"
	FormatBSON    = "bson"
)

type Serializer[F, T any] interface {
	Serialize(from F) (T, error)
	Deserialize(to T) (F, error)
}

// NewByteSerializer 根据格式名创建序列化器，格式为空时使用 msgpack
func NewByteSerializer[T any](format string) (Serializer[T, []byte], error) {
	switch strings.ToLower(format) {
	case "", FormatMsgPack:
		return NewMsgPackSerializer[T](), nil
	case FormatJSON:
		return NewJSONSerializer[T](), nil
	case FormatBSON:
		return NewBSONSerializer[T](), nil
	default:
		return nil, errors.Errorf("unsupported serializer format: %s", format)
	}
}
