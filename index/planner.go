package index

import (
	"context"
	"strconv"
	"strings"

	"github.com/hatlonely/secidx/errs"
	"github.com/hatlonely/secidx/kv/store"
	"github.com/hatlonely/secidx/log"
	"github.com/hatlonely/secidx/log/logger"
	"github.com/hatlonely/secidx/ref"
	"github.com/hatlonely/secidx/where"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// ParsedQuery 过滤表达式的查询计划，创建后不再修改
type ParsedQuery struct {
	Database      string             `json:"database" msgpack:"database"`
	Table         string             `json:"table" msgpack:"table"`
	Filter        string             `json:"filter" msgpack:"filter"`
	WhereClause   *where.WhereClause `json:"whereClause" msgpack:"whereClause"`
	Index         *Index             `json:"index" msgpack:"index"`
	PhysicalTable string             `json:"physicalTable" msgpack:"physicalTable"`
	// Generation 计划基于的索引版本
	Generation int64 `json:"generation" msgpack:"generation"`
}

// Source 提供表上定义的索引
type Source interface {
	// ListIndexes 按定义顺序返回表上的索引
	ListIndexes(ctx context.Context, database, table string) ([]*Index, error)
	// Generation 表上的索引每次创建、激活、删除都会增加版本
	Generation(ctx context.Context, database, table string) (int64, error)
}

type PlannerOptions struct {
	// Cache 查询计划缓存，为空时不缓存
	Cache *ref.TypeOptions `cfg:"cache"`

	Logger *logger.SLogOptions `cfg:"logger"`
}

// Planner 解析过滤表达式并选择索引
type Planner struct {
	source Source
	cache  store.Store[string, ParsedQuery]
	group  singleflight.Group
	logger logger.Logger
}

func NewPlannerWithOptions(source Source, options *PlannerOptions) (*Planner, error) {
	if options == nil {
		options = &PlannerOptions{}
	}

	l, err := log.NewLoggerWithOptions(options.Logger)
	if err != nil {
		return nil, errors.WithMessage(err, "create logger failed")
	}

	var cache store.Store[string, ParsedQuery]
	if options.Cache != nil {
		cache, err = store.NewStoreWithOptions[string, ParsedQuery](options.Cache)
		if err != nil {
			return nil, errors.WithMessage(err, "create plan cache failed")
		}
	}

	return NewPlanner(source, cache, l), nil
}

// NewPlanner cache 可以为空
func NewPlanner(source Source, cache store.Store[string, ParsedQuery], l logger.Logger) *Planner {
	if l == nil {
		l = log.Default()
	}
	return &Planner{source: source, cache: cache, logger: l.WithGroup("planner")}
}

func cacheKey(database, table string, generation int64, filter string) string {
	return strings.Join([]string{database, table, strconv.FormatInt(generation, 10), filter}, "\x00")
}

// Parse 返回过滤表达式的查询计划
// 相同的 (库, 表, 索引版本, 表达式) 并发首次访问只计算一次，失败的结果不缓存
func (p *Planner) Parse(ctx context.Context, database, table, filter string) (*ParsedQuery, error) {
	generation, err := p.source.Generation(ctx, database, table)
	if err != nil {
		return nil, errors.WithMessage(err, "get index generation failed")
	}
	key := cacheKey(database, table, generation, filter)

	if p.cache != nil {
		q, err := p.cache.Get(ctx, key)
		if err == nil {
			return &q, nil
		}
		if !errors.Is(err, store.ErrKeyNotFound) {
			p.logger.WarnContext(ctx, "plan cache get failed", "database", database, "table", table, "error", err.Error())
		}
	}

	v, err, _ := p.group.Do(key, func() (any, error) {
		q, err := p.plan(ctx, database, table, filter, generation)
		if err != nil {
			return nil, err
		}
		if p.cache != nil {
			if err := p.cache.Set(ctx, key, *q); err != nil {
				p.logger.WarnContext(ctx, "plan cache set failed", "database", database, "table", table, "error", err.Error())
			}
		}
		return q, nil
	})
	if err != nil {
		return nil, err
	}

	q := *v.(*ParsedQuery)
	return &q, nil
}

func (p *Planner) plan(ctx context.Context, database, table, filter string, generation int64) (*ParsedQuery, error) {
	clause, err := where.Parse(filter)
	if err != nil {
		return nil, err
	}

	indexes, err := p.source.ListIndexes(ctx, database, table)
	if err != nil {
		return nil, errors.WithMessage(err, "list indexes failed")
	}
	var active []*Index
	for _, idx := range indexes {
		if idx.Active {
			active = append(active, idx)
		}
	}

	idx, err := Select(active, clause.Fields)
	if err != nil {
		var nie *errs.NotIndexedError
		if errors.As(err, &nie) {
			nie.Database, nie.Table = database, table
		}
		return nil, err
	}

	p.logger.DebugContext(ctx, "query planned", "database", database, "table", table, "index", idx.Name, "template", clause.Template)
	return &ParsedQuery{
		Database:      database,
		Table:         table,
		Filter:        filter,
		WhereClause:   clause,
		Index:         idx,
		PhysicalTable: idx.PhysicalTable(),
		Generation:    generation,
	}, nil
}
