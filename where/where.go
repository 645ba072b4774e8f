package where

import (
	"fmt"
	"strings"

	"github.com/hatlonely/secidx/errs"
)

// Placeholder 模板中替代字面量的占位符
const Placeholder = "?"

// OrderBy 排序字段
type OrderBy struct {
	Field string `json:"field" msgpack:"field"`
	Desc  bool   `json:"desc,omitempty" msgpack:"desc"`
}

// WhereClause 解析后的过滤表达式
// Fields、Operators、Values 一一对应，按出现顺序排列，字段可以重复
type WhereClause struct {
	Fields    []string `json:"fields" msgpack:"fields"`
	Operators []string `json:"operators" msgpack:"operators"`
	Values    []string `json:"values" msgpack:"values"`
	// Connectors 相邻两个条件之间的 AND 或 OR，统一为大写
	Connectors []string `json:"connectors,omitempty" msgpack:"connectors"`
	// Template 字面量替换成占位符后的表达式，其他记号原样保留，以单个空格分隔
	Template string    `json:"template" msgpack:"template"`
	OrderBy  []OrderBy `json:"orderBy,omitempty" msgpack:"orderBy"`
}

// FieldSet 去重后的字段集合
func (w *WhereClause) FieldSet() map[string]struct{} {
	set := make(map[string]struct{}, len(w.Fields))
	for _, f := range w.Fields {
		set[f] = struct{}{}
	}
	return set
}

// UniqueFields 去重后按首次出现顺序排列的字段
func (w *WhereClause) UniqueFields() []string {
	seen := make(map[string]bool, len(w.Fields))
	var fields []string
	for _, f := range w.Fields {
		if !seen[f] {
			seen[f] = true
			fields = append(fields, f)
		}
	}
	return fields
}

// Substitute 把值按顺序代回模板，字面量统一用单引号
func (w *WhereClause) Substitute(values []string) (string, error) {
	return Substitute(w.Template, values)
}

func Substitute(template string, values []string) (string, error) {
	var sb strings.Builder
	n := 0
	for _, part := range strings.Split(template, " ") {
		if sb.Len() > 0 && part != "," {
			sb.WriteByte(' ')
		}
		if part != Placeholder {
			sb.WriteString(part)
			continue
		}
		if n >= len(values) {
			return "", errs.Contract("template has more placeholders than the %d values", len(values))
		}
		sb.WriteString(Quote(values[n]))
		n++
	}
	if n != len(values) {
		return "", errs.Contract("template has %d placeholders but got %d values", n, len(values))
	}
	return sb.String(), nil
}

// Quote 用单引号包裹，内部的单引号写成两个
func Quote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// ParseError 过滤表达式语法错误，Fragment 是出错的片段
type ParseError struct {
	Fragment string
	Offset   int
	Reason   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse filter failed at %q (offset %d): %s", e.Fragment, e.Offset, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return errs.ErrMalformedInput
}
