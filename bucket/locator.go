package bucket

import (
	"sort"

	"github.com/hatlonely/secidx/errs"
	"github.com/hatlonely/secidx/field"
)

// Locator 根据值找到所在的桶
type Locator struct {
	table *Table
}

func NewLocator(table *Table) *Locator {
	return &Locator{table: table}
}

func (l *Locator) Table() *Table {
	return l.table
}

// GetBucket 返回值所在桶的编号，范围是 [0, 桶数量)
// 未设置的类型、nil 值和缺失值都是调用约定错误，无法编码的值返回格式错误
func (l *Locator) GetBucket(t field.Type, v field.Value) (int64, error) {
	if !t.Valid() {
		return 0, errs.Contract("field type is unset")
	}
	if v == nil {
		return 0, errs.Contract("value of %s field is nil", t)
	}
	if v.Type() != t {
		return 0, errs.Contract("value of type %s passed for %s field", v.Type(), t)
	}

	result := l.table.encoder.Encode(v)
	switch result.Outcome {
	case field.OutcomeInvalid:
		return 0, result.Err()
	case field.OutcomeAbsent:
		return 0, errs.Contract("value of %s field is absent", t)
	}
	return l.BucketOfKey(t, result.Key)
}

// BucketOfKey 二分查找不大于 key 的最大边界
// key 恰好等于边界时属于从这个边界开始的桶
func (l *Locator) BucketOfKey(t field.Type, key field.Key) (int64, error) {
	boundaries, err := l.table.lookup(t)
	if err != nil {
		return 0, err
	}
	i := sort.Search(len(boundaries), func(i int) bool {
		return boundaries[i] > key
	})
	if i == 0 {
		return 0, nil
	}
	return int64(i - 1), nil
}

// BucketCount 类型的桶数量
func (l *Locator) BucketCount(t field.Type) int {
	return l.table.BucketCount(t)
}
