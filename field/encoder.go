package field

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/hatlonely/secidx/errs"
	"github.com/pkg/errors"
)

// Key 有序键，按无符号整数比较
type Key uint64

// Int64 按位转换成 int64，用于列存的 bigint 列
// 存下来的是保序键而不是原始值，DateTime 的键是毫秒时间戳翻转符号位后的结果，
// 直接按时间戳读取 bigint 列会得到错误的时间，需要用 KeyFromInt64 还原后比较
func (k Key) Int64() int64 {
	return int64(k)
}

func KeyFromInt64(v int64) Key {
	return Key(v)
}

type Outcome uint8

const (
	OutcomeOK Outcome = iota
	// OutcomeAbsent 值缺失，调用方应跳过该字段
	OutcomeAbsent
	// OutcomeInvalid 值无法编码
	OutcomeInvalid
)

// Result 编码结果，Outcome 为 OutcomeOK 时 Key 有效
type Result struct {
	Key     Key
	Outcome Outcome
	Value   Value
	Reason  string
}

func (r Result) OK() bool      { return r.Outcome == OutcomeOK }
func (r Result) Absent() bool  { return r.Outcome == OutcomeAbsent }
func (r Result) Invalid() bool { return r.Outcome == OutcomeInvalid }

// Err 无法编码时返回携带原始值的格式错误
func (r Result) Err() error {
	if r.Outcome != OutcomeInvalid {
		return nil
	}
	return errs.Malformed(fmt.Sprint(r.Value), "%s", r.Reason)
}

func ok(k Key) Result {
	return Result{Key: k, Outcome: OutcomeOK}
}

func absent() Result {
	return Result{Outcome: OutcomeAbsent}
}

func invalid(v Value, reason string) Result {
	return Result{Outcome: OutcomeInvalid, Value: v, Reason: reason}
}

const (
	// textLanes 文本按前 8 个字符编码，前缀相同的字符串编码相同
	textLanes = 8
	signBit   = uint64(1) << 63
)

var (
	DefaultTimepointMin = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	DefaultTimepointMax = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
)

type EncoderOptions struct {
	// Timepoint 类型的时间窗口，窗口外的时间被截断到边界
	TimepointMin time.Time `cfg:"timepointMin" def:"2000-01-01T00:00:00Z"`
	TimepointMax time.Time `cfg:"timepointMax" def:"2030-01-01T00:00:00Z"`
}

// Encoder 把类型化的值映射到保序的 64 位键空间
type Encoder struct {
	timepointMin int64
	timepointMax int64
}

func NewEncoderWithOptions(options *EncoderOptions) (*Encoder, error) {
	minTime, maxTime := DefaultTimepointMin, DefaultTimepointMax
	if options != nil {
		if !options.TimepointMin.IsZero() {
			minTime = options.TimepointMin
		}
		if !options.TimepointMax.IsZero() {
			maxTime = options.TimepointMax
		}
	}
	if !minTime.Before(maxTime) {
		return nil, errors.Errorf("timepoint window is empty: [%s, %s]", minTime.Format(time.RFC3339), maxTime.Format(time.RFC3339))
	}
	return &Encoder{timepointMin: minTime.UnixMilli(), timepointMax: maxTime.UnixMilli()}, nil
}

var defaultEncoder = &Encoder{
	timepointMin: DefaultTimepointMin.UnixMilli(),
	timepointMax: DefaultTimepointMax.UnixMilli(),
}

// DefaultEncoder 使用默认 Timepoint 窗口的编码器
func DefaultEncoder() *Encoder {
	return defaultEncoder
}

// Encode 使用默认编码器编码
func Encode(v Value) Result {
	return defaultEncoder.Encode(v)
}

// Encode 编码一个值，nil 返回 Absent
func (e *Encoder) Encode(v Value) Result {
	switch v := v.(type) {
	case nil:
		return absent()
	case Integer:
		return ok(Key(int64(v) - math.MinInt32))
	case Long:
		return ok(Key(uint64(v) ^ signBit))
	case Double:
		return encodeDouble(v)
	case Boolean:
		if v {
			return ok(1)
		}
		return ok(0)
	case Uuid:
		return ok(encodeUUID(uuid.UUID(v)))
	case DateTime:
		return ok(Key(uint64(time.Time(v).UnixMilli()) ^ signBit))
	case Timepoint:
		ms := time.Time(v).UnixMilli()
		ms = max(e.timepointMin, min(ms, e.timepointMax))
		return ok(Key(ms - e.timepointMin))
	case Text:
		if v == "" {
			return absent()
		}
		return ok(packRunes(string(v)))
	case Binary:
		if v == "" {
			return absent()
		}
		raw, err := base64.StdEncoding.DecodeString(string(v))
		if err != nil {
			return invalid(v, "invalid base64: "+err.Error())
		}
		return ok(packBytes(raw))
	}
	return invalid(v, fmt.Sprintf("unsupported value type %T", v))
}

// Domain 返回类型编码后的键范围，闭区间
func (e *Encoder) Domain(t Type) (lo Key, hi Key, err error) {
	switch t {
	case TypeInteger:
		return 0, math.MaxUint32, nil
	case TypeDouble:
		return encodeDouble(Double(math.Inf(-1))).Key, encodeDouble(Double(math.Inf(1))).Key, nil
	case TypeBoolean:
		return 0, 1, nil
	case TypeTimepoint:
		return 0, Key(e.timepointMax - e.timepointMin), nil
	case TypeLong, TypeDateTime, TypeText, TypeBinary, TypeUuid:
		return 0, math.MaxUint64, nil
	}
	return 0, 0, errs.Contract("field type %s has no key domain", t)
}

func encodeDouble(v Double) Result {
	f := float64(v)
	if math.IsNaN(f) {
		return invalid(v, "NaN has no order")
	}
	if f == 0 {
		// -0.0 和 +0.0 相等
		f = 0
	}
	bits := math.Float64bits(f)
	if bits&signBit != 0 {
		return ok(Key(^bits))
	}
	return ok(Key(bits | signBit))
}

// encodeUUID v1 使用内嵌的 60 位时间戳，其他版本取高 64 位
func encodeUUID(u uuid.UUID) Key {
	if u.Version() == 1 {
		return Key(u.Time())
	}
	return Key(binary.BigEndian.Uint64(u[:8]))
}

// packRunes 取前 8 个字符的低字节，第一个字符在最高字节
func packRunes(s string) Key {
	var k uint64
	i := 0
	for _, r := range s {
		if i == textLanes {
			break
		}
		k |= uint64(byte(r)) << (56 - 8*i)
		i++
	}
	return Key(k)
}

func packBytes(b []byte) Key {
	var k uint64
	for i := 0; i < len(b) && i < textLanes; i++ {
		k |= uint64(b[i]) << (56 - 8*i)
	}
	return Key(k)
}
