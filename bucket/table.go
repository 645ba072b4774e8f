package bucket

import (
	"slices"
	"sync"

	"github.com/hatlonely/secidx/errs"
	"github.com/hatlonely/secidx/field"
	"github.com/pkg/errors"
)

// Options 每种类型的桶数量
// 桶越多热点分区越少，但范围查询需要扫描的分区越多
type Options struct {
	Binary    int `cfg:"binary" def:"50" validate:"gte=0"`
	Boolean   int `cfg:"boolean" def:"2" validate:"gte=0"`
	DateTime  int `cfg:"dateTime" def:"100" validate:"gte=0"`
	Timepoint int `cfg:"timepoint" def:"500" validate:"gte=0"`
	Double    int `cfg:"double" def:"100" validate:"gte=0"`
	Integer   int `cfg:"integer" def:"100" validate:"gte=0"`
	Text      int `cfg:"text" def:"200" validate:"gte=0"`
	Uuid      int `cfg:"uuid" def:"100" validate:"gte=0"`
	Long      int `cfg:"long" def:"100" validate:"gte=0"`
}

var defaultCounts = map[field.Type]int{
	field.TypeBinary:    50,
	field.TypeBoolean:   2,
	field.TypeDateTime:  100,
	field.TypeTimepoint: 500,
	field.TypeDouble:    100,
	field.TypeInteger:   100,
	field.TypeText:      200,
	field.TypeUuid:      100,
	field.TypeLong:      100,
}

// Count 返回类型配置的桶数量，未配置时使用默认值
func (o *Options) Count(t field.Type) int {
	var count int
	if o != nil {
		switch t {
		case field.TypeBinary:
			count = o.Binary
		case field.TypeBoolean:
			count = o.Boolean
		case field.TypeDateTime:
			count = o.DateTime
		case field.TypeTimepoint:
			count = o.Timepoint
		case field.TypeDouble:
			count = o.Double
		case field.TypeInteger:
			count = o.Integer
		case field.TypeText:
			count = o.Text
		case field.TypeUuid:
			count = o.Uuid
		case field.TypeLong:
			count = o.Long
		}
	}
	if count <= 0 {
		return defaultCounts[t]
	}
	return count
}

// Table 每种类型一组桶边界，创建后只读，可以并发访问
type Table struct {
	encoder    *field.Encoder
	boundaries [field.TypeLong + 1][]field.Key
}

// NewTable 为所有类型生成桶边界
func NewTable(encoder *field.Encoder, options *Options) (*Table, error) {
	if encoder == nil {
		encoder = field.DefaultEncoder()
	}

	generator := NewGenerator(encoder)
	table := &Table{encoder: encoder}
	for _, t := range field.Types {
		boundaries, err := generator.Generate(t, options.Count(t))
		if err != nil {
			return nil, errors.WithMessagef(err, "generate boundaries for %s failed", t)
		}
		table.boundaries[t] = boundaries
	}
	return table, nil
}

func (t *Table) Encoder() *field.Encoder {
	return t.encoder
}

// Boundaries 返回边界的副本
func (t *Table) Boundaries(typ field.Type) []field.Key {
	if !typ.Valid() {
		return nil
	}
	return slices.Clone(t.boundaries[typ])
}

func (t *Table) BucketCount(typ field.Type) int {
	if !typ.Valid() {
		return 0
	}
	return len(t.boundaries[typ])
}

func (t *Table) lookup(typ field.Type) ([]field.Key, error) {
	if !typ.Valid() {
		return nil, errs.Contract("field type is unset")
	}
	return t.boundaries[typ], nil
}

var (
	defaultOnce    sync.Once
	defaultLocator *Locator
)

// Default 进程级的默认定位器，第一次调用时生成边界
// 需要自定义配置的调用方应该用 NewTable 创建并注入
func Default() *Locator {
	defaultOnce.Do(func() {
		table, err := NewTable(nil, nil)
		if err != nil {
			panic(err)
		}
		defaultLocator = NewLocator(table)
	})
	return defaultLocator
}

// ResetDefault 丢弃默认定位器，下次调用 Default 时重新生成，只用于测试
func ResetDefault() {
	defaultOnce = sync.Once{}
	defaultLocator = nil
}
