package field

import (
	"time"

	"github.com/google/uuid"
)

// Value 类型化的字段值，每个字段类型对应一个具体实现
// 编码只在 Encoder.Encode 中按具体类型分派一次
type Value interface {
	Type() Type
}

type (
	Integer   int32
	Long      int64
	Double    float64
	Boolean   bool
	Text      string
	Uuid      uuid.UUID
	DateTime  time.Time
	Timepoint time.Time

	// Binary 标准 base64 编码的二进制数据
	Binary string
)

func (Integer) Type() Type   { return TypeInteger }
func (Long) Type() Type      { return TypeLong }
func (Double) Type() Type    { return TypeDouble }
func (Boolean) Type() Type   { return TypeBoolean }
func (Text) Type() Type      { return TypeText }
func (Uuid) Type() Type      { return TypeUuid }
func (DateTime) Type() Type  { return TypeDateTime }
func (Timepoint) Type() Type { return TypeTimepoint }
func (Binary) Type() Type    { return TypeBinary }

// Native 转换成表达式求值使用的原生值
// 整数统一为 int，时间统一为毫秒时间戳，UUID 为字符串
func Native(v Value) any {
	switch v := v.(type) {
	case nil:
		return nil
	case Integer:
		return int(v)
	case Long:
		return int(v)
	case Double:
		return float64(v)
	case Boolean:
		return bool(v)
	case Text:
		return string(v)
	case Binary:
		return string(v)
	case Uuid:
		return uuid.UUID(v).String()
	case DateTime:
		return time.Time(v).UnixMilli()
	case Timepoint:
		return time.Time(v).UnixMilli()
	}
	return nil
}

// Storable 把字段值转换成存储编解码后仍能还原的形式
// 类型化的值和 uuid.UUID 经过 msgpack 后会变成 map 或字节数组，写入前统一成基础类型
func Storable(v any) any {
	switch v := v.(type) {
	case uuid.UUID:
		return v.String()
	case Uuid:
		return uuid.UUID(v).String()
	case DateTime:
		return time.Time(v)
	case Timepoint:
		return time.Time(v)
	case Integer:
		return int64(v)
	case Long:
		return int64(v)
	case Double:
		return float64(v)
	case Boolean:
		return bool(v)
	case Text:
		return string(v)
	case Binary:
		return string(v)
	}
	return v
}

// StorableFields 复制文档字段并逐个转换成 Storable 形式
func StorableFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = Storable(v)
	}
	return out
}
