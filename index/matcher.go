package index

import (
	"github.com/hatlonely/secidx/errs"
)

// Select 为过滤字段选择索引
//  1. 字段集合完全相同的索引，直接返回
//  2. 覆盖所有过滤字段并且主字段出现在过滤条件中的索引，按定义顺序取第一个
//  3. 都没有时返回 errs.NotIndexedError
//
// 多个覆盖索引之间只按定义顺序选择，不比较代价
func Select(indexes []*Index, fields []string) (*Index, error) {
	want := make(map[string]struct{}, len(fields))
	var unique []string
	for _, f := range fields {
		if _, ok := want[f]; !ok {
			want[f] = struct{}{}
			unique = append(unique, f)
		}
	}

	for _, idx := range indexes {
		if len(idx.Fields) == len(want) && covers(idx, want) {
			return idx, nil
		}
	}

	for _, idx := range indexes {
		if _, ok := want[idx.Primary().Name]; ok && covers(idx, want) {
			return idx, nil
		}
	}

	return nil, &errs.NotIndexedError{Fields: unmatched(indexes, unique)}
}

func covers(idx *Index, want map[string]struct{}) bool {
	n := 0
	for _, f := range idx.Fields {
		if _, ok := want[f.Name]; ok {
			n++
		}
	}
	return n == len(want)
}

// unmatched 没有出现在任何索引中的字段，都出现过时返回全部字段
func unmatched(indexes []*Index, fields []string) []string {
	indexed := map[string]bool{}
	for _, idx := range indexes {
		for _, f := range idx.Fields {
			indexed[f.Name] = true
		}
	}

	var missing []string
	for _, f := range fields {
		if !indexed[f] {
			missing = append(missing, f)
		}
	}
	if len(missing) == 0 {
		return fields
	}
	return missing
}
