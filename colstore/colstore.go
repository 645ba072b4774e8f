package colstore

import (
	"context"

	"github.com/hatlonely/secidx/ref"
	"github.com/pkg/errors"
)

const Namespace = "github.com/hatlonely/secidx/colstore"

func init() {
	ref.MustRegister(Namespace, "KVColumnStore", NewKVColumnStoreWithOptions)
}

// Document 源表中的一行，ID 由写入方生成
type Document struct {
	ID     string         `json:"id" msgpack:"id"`
	Fields map[string]any `json:"fields" msgpack:"fields"`
}

// IndexEntry 索引表分区中的一行
type IndexEntry struct {
	DocumentID string `json:"documentId" msgpack:"documentId"`
	// Key 主字段编码后的有符号形式
	Key int64 `json:"key" msgpack:"key"`
	// Values 索引字段的值
	Values map[string]any `json:"values,omitempty" msgpack:"values"`
}

// ColumnStore 宽列存储，源表按文档 ID 读写，索引表按 (表名, 桶) 分区读写
type ColumnStore interface {
	// PutDocument 写入文档，ID 存在时覆盖
	PutDocument(ctx context.Context, database, table string, doc *Document) error
	// GetDocument 文档不存在时返回 errs.ErrNotFound
	GetDocument(ctx context.Context, database, table, id string) (*Document, error)
	// DeleteDocument 文档不存在时也返回成功
	DeleteDocument(ctx context.Context, database, table, id string) error
	// ScanDocuments 遍历表中所有文档，fn 返回错误时停止
	ScanDocuments(ctx context.Context, database, table string, fn func(doc *Document) error) error
	// CountDocuments 表中的文档数
	CountDocuments(ctx context.Context, database, table string) (int64, error)

	// PutIndexEntry 写入索引行，同一分区中相同 DocumentID 的行被替换
	PutIndexEntry(ctx context.Context, physicalTable string, bucket int64, entry *IndexEntry) error
	DeleteIndexEntry(ctx context.Context, physicalTable string, bucket int64, documentID string) error
	// ScanPartition 按 Key 升序返回分区中的索引行
	ScanPartition(ctx context.Context, physicalTable string, bucket int64) ([]*IndexEntry, error)
	// DropIndexTable 删除索引表的所有分区
	DropIndexTable(ctx context.Context, physicalTable string) error

	Close() error
}

// NewColumnStoreWithOptions 通过 TypeOptions 创建列存储
func NewColumnStoreWithOptions(options *ref.TypeOptions) (ColumnStore, error) {
	if options == nil {
		return NewKVColumnStoreWithOptions(nil)
	}

	namespace := options.Namespace
	if namespace == "" {
		namespace = Namespace
	}
	obj, err := ref.New(namespace, options.Type, options.Options)
	if err != nil {
		return nil, errors.WithMessagef(err, "create column store %s failed", options.Type)
	}
	s, ok := obj.(ColumnStore)
	if !ok {
		return nil, errors.Errorf("%T is not a ColumnStore", obj)
	}
	return s, nil
}
