package field

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hatlonely/secidx/errs"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseValue 把字符串形式的值转换成类型化的值
func ParseValue(t Type, raw string) (Value, error) {
	switch t {
	case TypeText:
		return Text(raw), nil
	case TypeBinary:
		return Binary(raw), nil
	case TypeUnset:
		return nil, errs.Contract("field type is unset")
	}

	s := strings.TrimSpace(raw)
	switch t {
	case TypeInteger:
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, errs.Malformed(raw, "not a 32-bit integer")
		}
		return Integer(v), nil
	case TypeLong:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, errs.Malformed(raw, "not a 64-bit integer")
		}
		return Long(v), nil
	case TypeDouble:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, errs.Malformed(raw, "not a number")
		}
		return Double(v), nil
	case TypeBoolean:
		v, err := strconv.ParseBool(s)
		if err != nil {
			return nil, errs.Malformed(raw, "not a boolean")
		}
		return Boolean(v), nil
	case TypeUuid:
		v, err := uuid.Parse(s)
		if err != nil {
			return nil, errs.Malformed(raw, "not a uuid")
		}
		return Uuid(v), nil
	case TypeDateTime, TypeTimepoint:
		tm, err := parseTime(s)
		if err != nil {
			return nil, errs.Malformed(raw, "not a time")
		}
		if t == TypeDateTime {
			return DateTime(tm), nil
		}
		return Timepoint(tm), nil
	}
	return nil, errs.Contract("unknown field type %d", t)
}

// parseTime 支持常见时间格式和毫秒时间戳
func parseTime(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	var lastErr error
	for _, layout := range timeLayouts {
		tm, err := time.Parse(layout, s)
		if err == nil {
			return tm, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// FromAny 把文档中解码出来的值转换成类型化的值，nil 返回 nil
func FromAny(t Type, v any) (Value, error) {
	if !t.Valid() {
		return nil, errs.Contract("field type %s is not valid", t)
	}

	switch v := v.(type) {
	case nil:
		return nil, nil
	case Value:
		if v.Type() == t {
			return v, nil
		}
		return nil, errs.Malformed(fmt.Sprint(v), "value of type %s does not match field type %s", v.Type(), t)
	case string:
		return ParseValue(t, v)
	case json.Number:
		return ParseValue(t, v.String())
	case bool:
		if t == TypeBoolean {
			return Boolean(v), nil
		}
	case float64:
		return fromFloat(t, v)
	case float32:
		return fromFloat(t, float64(v))
	case int:
		return fromInt(t, int64(v))
	case int8:
		return fromInt(t, int64(v))
	case int16:
		return fromInt(t, int64(v))
	case int32:
		return fromInt(t, int64(v))
	case int64:
		return fromInt(t, v)
	case uint8:
		return fromInt(t, int64(v))
	case uint16:
		return fromInt(t, int64(v))
	case uint32:
		return fromInt(t, int64(v))
	case uint:
		return fromUint(t, uint64(v))
	case uint64:
		return fromUint(t, v)
	case time.Time:
		switch t {
		case TypeDateTime:
			return DateTime(v), nil
		case TypeTimepoint:
			return Timepoint(v), nil
		}
	case uuid.UUID:
		if t == TypeUuid {
			return Uuid(v), nil
		}
	case []byte:
		switch t {
		case TypeBinary:
			return Binary(base64.StdEncoding.EncodeToString(v)), nil
		case TypeUuid:
			if id, err := uuid.FromBytes(v); err == nil {
				return Uuid(id), nil
			}
		}
	}
	return nil, errs.Malformed(fmt.Sprint(v), "cannot convert %T to %s", v, t)
}

func fromInt(t Type, v int64) (Value, error) {
	switch t {
	case TypeInteger:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return nil, errs.Malformed(strconv.FormatInt(v, 10), "out of 32-bit integer range")
		}
		return Integer(v), nil
	case TypeLong:
		return Long(v), nil
	case TypeDouble:
		return Double(float64(v)), nil
	case TypeDateTime:
		return DateTime(time.UnixMilli(v).UTC()), nil
	case TypeTimepoint:
		return Timepoint(time.UnixMilli(v).UTC()), nil
	}
	return nil, errs.Malformed(strconv.FormatInt(v, 10), "cannot convert to %s", t)
}

func fromUint(t Type, v uint64) (Value, error) {
	if v > math.MaxInt64 {
		return nil, errs.Malformed(strconv.FormatUint(v, 10), "out of 64-bit integer range")
	}
	return fromInt(t, int64(v))
}

// fromFloat JSON 数字默认解码为 float64，整数类型要求没有小数部分
func fromFloat(t Type, v float64) (Value, error) {
	if t == TypeDouble {
		return Double(v), nil
	}
	if v != math.Trunc(v) || math.IsInf(v, 0) || v < math.MinInt64 || v >= math.MaxInt64 {
		return nil, errs.Malformed(strconv.FormatFloat(v, 'g', -1, 64), "not an integral number")
	}
	return fromInt(t, int64(v))
}
