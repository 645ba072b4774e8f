package field

import (
	"strings"

	"github.com/hatlonely/secidx/errs"
)

// Type 字段类型，零值表示未设置
type Type uint8

const (
	TypeUnset Type = iota
	TypeBinary
	TypeBoolean
	TypeDateTime
	TypeTimepoint
	TypeDouble
	TypeInteger
	TypeText
	TypeUuid
	TypeLong
)

// Types 所有可用的字段类型
var Types = []Type{
	TypeBinary,
	TypeBoolean,
	TypeDateTime,
	TypeTimepoint,
	TypeDouble,
	TypeInteger,
	TypeText,
	TypeUuid,
	TypeLong,
}

var typeNames = map[Type]string{
	TypeUnset:     "UNSET",
	TypeBinary:    "BINARY",
	TypeBoolean:   "BOOLEAN",
	TypeDateTime:  "DATETIME",
	TypeTimepoint: "TIMEPOINT",
	TypeDouble:    "DOUBLE",
	TypeInteger:   "INTEGER",
	TypeText:      "TEXT",
	TypeUuid:      "UUID",
	TypeLong:      "LONG",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// Valid 是否是具体的字段类型
func (t Type) Valid() bool {
	return t > TypeUnset && t <= TypeLong
}

// ParseType 解析类型名，大小写不敏感
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if t != TypeUnset && strings.EqualFold(name, strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return TypeUnset, errs.Malformed(s, "unknown field type")
}

func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
