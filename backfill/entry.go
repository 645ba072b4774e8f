package backfill

import (
	"context"

	"github.com/hatlonely/secidx/bucket"
	"github.com/hatlonely/secidx/colstore"
	"github.com/hatlonely/secidx/field"
	"github.com/hatlonely/secidx/index"
	"github.com/pkg/errors"
)

// ErrPrimaryAbsent 文档没有主字段的值，不写入索引
var ErrPrimaryAbsent = errors.New("primary field absent")

// Entry 计算文档在索引表中的桶和索引行
// 主字段缺失返回 ErrPrimaryAbsent，字段值无法转换为声明类型时返回 errs.ErrMalformedInput
func Entry(locator *bucket.Locator, idx *index.Index, doc *colstore.Document) (int64, *colstore.IndexEntry, error) {
	primary := idx.Primary()
	v, err := field.FromAny(primary.Type, doc.Fields[primary.Name])
	if err != nil {
		return 0, nil, errors.WithMessagef(err, "document %s field %s", doc.ID, primary.Name)
	}
	if v == nil {
		return 0, nil, errors.WithMessagef(ErrPrimaryAbsent, "document %s field %s", doc.ID, primary.Name)
	}

	result := locator.Table().Encoder().Encode(v)
	switch result.Outcome {
	case field.OutcomeInvalid:
		return 0, nil, errors.WithMessagef(result.Err(), "document %s field %s", doc.ID, primary.Name)
	case field.OutcomeAbsent:
		return 0, nil, errors.WithMessagef(ErrPrimaryAbsent, "document %s field %s", doc.ID, primary.Name)
	}
	b, err := locator.BucketOfKey(primary.Type, result.Key)
	if err != nil {
		return 0, nil, err
	}

	values := make(map[string]any, len(idx.Fields))
	for _, f := range idx.Fields {
		fv, err := field.FromAny(f.Type, doc.Fields[f.Name])
		if err != nil {
			return 0, nil, errors.WithMessagef(err, "document %s field %s", doc.ID, f.Name)
		}
		values[f.Name] = field.Native(fv)
	}

	return b, &colstore.IndexEntry{DocumentID: doc.ID, Key: result.Key.Int64(), Values: values}, nil
}

// FindDuplicate 在唯一索引的分区中查找字段值相同的其他文档，没有时返回空字符串
func FindDuplicate(ctx context.Context, store colstore.ColumnStore, idx *index.Index, b int64, entry *colstore.IndexEntry) (string, error) {
	rows, err := store.ScanPartition(ctx, idx.PhysicalTable(), b)
	if err != nil {
		return "", errors.WithMessagef(err, "scan %s failed", idx.PhysicalTable())
	}
	for _, r := range rows {
		if r.DocumentID == entry.DocumentID || r.Key != entry.Key {
			continue
		}
		if sameValues(idx, r.Values, entry.Values) {
			return r.DocumentID, nil
		}
	}
	return "", nil
}

// sameValues 按字段类型比较，存储后的数值类型可能和写入时不同
func sameValues(idx *index.Index, a, b map[string]any) bool {
	for _, f := range idx.Fields {
		va, err := field.FromAny(f.Type, a[f.Name])
		if err != nil {
			return false
		}
		vb, err := field.FromAny(f.Type, b[f.Name])
		if err != nil {
			return false
		}
		if field.Native(va) != field.Native(vb) {
			return false
		}
	}
	return true
}
