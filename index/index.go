package index

import (
	"strings"
	"time"

	"github.com/hatlonely/secidx/errs"
	"github.com/hatlonely/secidx/field"
)

// IndexField 索引字段，加入索引后不再修改
type IndexField struct {
	Name string     `json:"name" msgpack:"name"`
	Type field.Type `json:"type" msgpack:"type"`
}

// Index 二级索引定义
// Fields 的第一个字段是主字段，索引表的分区桶由主字段的值决定
type Index struct {
	Database  string       `json:"database" msgpack:"database"`
	Table     string       `json:"table" msgpack:"table"`
	Name      string       `json:"name" msgpack:"name"`
	Fields    []IndexField `json:"fields" msgpack:"fields"`
	Unique    bool         `json:"unique" msgpack:"unique"`
	Active    bool         `json:"active" msgpack:"active"`
	CreatedAt time.Time    `json:"createdAt" msgpack:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt" msgpack:"updatedAt"`
}

// Primary 主字段
func (i *Index) Primary() IndexField {
	return i.Fields[0]
}

// FieldType 返回索引中字段的类型
func (i *Index) FieldType(name string) (field.Type, bool) {
	for _, f := range i.Fields {
		if f.Name == name {
			return f.Type, true
		}
	}
	return field.TypeUnset, false
}

// FieldTypes 字段名到类型的映射
func (i *Index) FieldTypes() map[string]field.Type {
	types := make(map[string]field.Type, len(i.Fields))
	for _, f := range i.Fields {
		types[f.Name] = f.Type
	}
	return types
}

func (i *Index) FieldNames() []string {
	names := make([]string, len(i.Fields))
	for j, f := range i.Fields {
		names[j] = f.Name
	}
	return names
}

// PhysicalTable 索引表名
func (i *Index) PhysicalTable() string {
	return PhysicalTableName(i.Database, i.Table, i.Name)
}

// Clone 深拷贝，字段列表不共享
func (i *Index) Clone() *Index {
	c := *i
	c.Fields = append([]IndexField(nil), i.Fields...)
	return &c
}

// Validate 检查索引定义
func (i *Index) Validate() error {
	if i.Database == "" || i.Table == "" || i.Name == "" {
		return errs.Malformed(i.Database+"."+i.Table+"."+i.Name, "database, table and index name are required")
	}
	if strings.ContainsAny(i.Name, " \t'\"") {
		return errs.Malformed(i.Name, "index name contains invalid characters")
	}
	if len(i.Fields) == 0 {
		return errs.Malformed(i.Name, "index must have at least one field")
	}
	seen := map[string]bool{}
	for _, f := range i.Fields {
		if f.Name == "" {
			return errs.Malformed(i.Name, "index field name is empty")
		}
		if seen[f.Name] {
			return errs.Malformed(f.Name, "field appears more than once in index %s", i.Name)
		}
		seen[f.Name] = true
		if !f.Type.Valid() {
			return errs.Malformed(f.Name, "field type is unset")
		}
	}
	return nil
}

// PhysicalTableName 由库名、表名和索引名决定，统一小写
func PhysicalTableName(database, table, index string) string {
	return strings.ToLower(database + "_" + table + "_" + index)
}
