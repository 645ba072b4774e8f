package service

import (
	"context"
	"sort"
	"strconv"

	"github.com/hatlonely/secidx/colstore"
	"github.com/hatlonely/secidx/errs"
	"github.com/hatlonely/secidx/field"
	"github.com/hatlonely/secidx/index"
	"github.com/hatlonely/secidx/where"
	"github.com/pkg/errors"
)

// Explanation 查询计划和需要扫描的桶
type Explanation struct {
	Query *index.ParsedQuery `json:"query"`
	// 主字段决定的桶范围，闭区间
	FirstBucket int64 `json:"firstBucket"`
	LastBucket  int64 `json:"lastBucket"`
	// 条件中有 OR 或者主字段没有可用的范围条件时扫描全部桶
	FullScan bool `json:"fullScan"`
	// 条件不可能满足，不需要扫描
	Empty bool `json:"empty"`
}

// Buckets 需要扫描的桶
func (e *Explanation) Buckets() []int64 {
	if e.Empty {
		return nil
	}
	buckets := make([]int64, 0, e.LastBucket-e.FirstBucket+1)
	for b := e.FirstBucket; b <= e.LastBucket; b++ {
		buckets = append(buckets, b)
	}
	return buckets
}

// Explain 返回过滤表达式使用的索引和扫描范围
func (s *Service) Explain(ctx context.Context, database, table, filter string) (*Explanation, error) {
	q, err := s.planner.Parse(ctx, database, table, filter)
	if err != nil {
		return nil, err
	}
	return s.explain(q)
}

func (s *Service) explain(q *index.ParsedQuery) (*Explanation, error) {
	primary := q.Index.Primary()
	count := int64(s.locator.BucketCount(primary.Type))
	e := &Explanation{Query: q, FirstBucket: 0, LastBucket: count - 1, FullScan: true}

	clause := q.WhereClause
	for _, c := range clause.Connectors {
		if c == "OR" {
			return e, nil
		}
	}

	for i, name := range clause.Fields {
		if name != primary.Name {
			continue
		}
		op := where.CanonicalOperator(clause.Operators[i])
		switch op {
		case "=":
		case ">", ">=", "<", "<=":
			if !ordered(primary.Type) {
				continue
			}
		default:
			continue
		}

		v, err := field.ParseValue(primary.Type, clause.Values[i])
		if err != nil {
			return nil, err
		}
		result := s.locator.Table().Encoder().Encode(v)
		if result.Invalid() {
			// 超出键域的字面量不收窄范围，交给精确过滤
			continue
		}
		if result.Absent() {
			// 主字段缺失的文档不在索引中
			if op == "=" {
				e.Empty, e.FullScan = true, false
			}
			continue
		}
		b, err := s.locator.BucketOfKey(primary.Type, result.Key)
		if err != nil {
			return nil, err
		}

		switch op {
		case "=":
			e.FirstBucket, e.LastBucket = max(e.FirstBucket, b), min(e.LastBucket, b)
		case ">", ">=":
			e.FirstBucket = max(e.FirstBucket, b)
		case "<", "<=":
			e.LastBucket = min(e.LastBucket, b)
		}
		e.FullScan = false
	}
	if e.FirstBucket > e.LastBucket {
		e.Empty = true
	}
	return e, nil
}

// ordered 键的顺序和值的顺序一致的类型，只有这些类型可以用范围条件收窄桶
// 文本和二进制只取前缀的低字节，不保序
func ordered(t field.Type) bool {
	switch t {
	case field.TypeInteger, field.TypeLong, field.TypeDouble, field.TypeDateTime, field.TypeTimepoint:
		return true
	}
	return false
}

func (s *Service) program(q *index.ParsedQuery) (*where.Program, error) {
	key := q.PhysicalTable + "\x00" + strconv.FormatInt(q.Generation, 10) + "\x00" + q.Filter
	if p, ok := s.programs.Get(key); ok {
		return p, nil
	}
	p, err := where.Compile(q.WhereClause, q.Index.FieldTypes())
	if err != nil {
		return nil, err
	}
	s.programs.Add(key, p)
	return p, nil
}

// Query 返回满足过滤表达式的文档，limit 不大于 0 时不限制数量
// 没有 ORDER BY 时按主字段的编码顺序返回
func (s *Service) Query(ctx context.Context, database, table, filter string, limit int) ([]*colstore.Document, error) {
	q, err := s.planner.Parse(ctx, database, table, filter)
	if err != nil {
		return nil, err
	}
	e, err := s.explain(q)
	if err != nil {
		return nil, err
	}
	program, err := s.program(q)
	if err != nil {
		return nil, err
	}

	sorted := len(q.WhereClause.OrderBy) > 0
	seen := map[string]struct{}{}
	var docs []*colstore.Document

scan:
	for _, b := range e.Buckets() {
		rows, err := s.store.ScanPartition(ctx, q.PhysicalTable, b)
		if err != nil {
			return nil, errors.WithMessagef(err, "scan %s bucket %d failed", q.PhysicalTable, b)
		}
		for _, r := range rows {
			if _, ok := seen[r.DocumentID]; ok {
				continue
			}
			seen[r.DocumentID] = struct{}{}

			doc, err := s.store.GetDocument(ctx, database, table, r.DocumentID)
			if err != nil {
				if errors.Is(err, errs.ErrNotFound) {
					continue
				}
				return nil, err
			}
			matched, err := program.Match(doc.Fields)
			if err != nil {
				s.logger.WarnContext(ctx, "skip malformed document", "table", database+"."+table, "document", doc.ID, "error", err.Error())
				continue
			}
			if !matched {
				continue
			}
			docs = append(docs, doc)
			if !sorted && limit > 0 && len(docs) >= limit {
				break scan
			}
		}
	}

	if sorted {
		sortDocuments(docs, q.WhereClause.OrderBy, q.Index)
		if limit > 0 && len(docs) > limit {
			docs = docs[:limit]
		}
	}
	return docs, nil
}

// sortDocuments 按 ORDER BY 排序，缺失的值排在最前
func sortDocuments(docs []*colstore.Document, orderBy []where.OrderBy, idx *index.Index) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, o := range orderBy {
			a, b := docs[i].Fields[o.Field], docs[j].Fields[o.Field]
			if t, ok := idx.FieldType(o.Field); ok {
				a, b = normalize(t, a), normalize(t, b)
			}
			c := compare(a, b)
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func normalize(t field.Type, v any) any {
	fv, err := field.FromAny(t, v)
	if err != nil {
		return v
	}
	return field.Native(fv)
}

// compare 数值之间按大小比较，字符串按字典序，不同种类按 nil、bool、数值、字符串排列
func compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch x := a.(type) {
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case string:
		y := b.(string)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	if fa, ok := toFloat(a); ok {
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
	}
	return 0
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case string:
		return 3
	}
	if _, ok := toFloat(v); ok {
		return 2
	}
	return 4
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}
