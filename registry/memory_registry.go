package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hatlonely/secidx/build"
	"github.com/hatlonely/secidx/errs"
	"github.com/hatlonely/secidx/index"
)

type MemoryRegistryOptions struct{}

type tableEntry struct {
	indexes    []*index.Index
	generation int64
}

// MemoryRegistry 进程内注册表，返回的索引都是副本
type MemoryRegistry struct {
	mu       sync.RWMutex
	tables   map[string]*tableEntry
	statuses map[string]*build.IndexBuildStatus
}

func NewMemoryRegistryWithOptions(options *MemoryRegistryOptions) *MemoryRegistry {
	return &MemoryRegistry{
		tables:   map[string]*tableEntry{},
		statuses: map[string]*build.IndexBuildStatus{},
	}
}

func (r *MemoryRegistry) table(database, table string) *tableEntry {
	key := tableKey(database, table)
	t, ok := r.tables[key]
	if !ok {
		t = &tableEntry{}
		r.tables[key] = t
	}
	return t
}

func (r *MemoryRegistry) find(database, table, name string) (*tableEntry, int) {
	t, ok := r.tables[tableKey(database, table)]
	if !ok {
		return nil, -1
	}
	for i, idx := range t.indexes {
		if idx.Name == name {
			return t, i
		}
	}
	return t, -1
}

func (r *MemoryRegistry) CreateIndex(ctx context.Context, idx *index.Index) error {
	if err := idx.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, i := r.find(idx.Database, idx.Table, idx.Name); i >= 0 {
		return errs.Duplicate("index %s already exists on %s.%s", idx.Name, idx.Database, idx.Table)
	}
	t := r.table(idx.Database, idx.Table)
	t.indexes = append(t.indexes, idx.Clone())
	t.generation++
	return nil
}

func (r *MemoryRegistry) GetIndex(ctx context.Context, database, table, name string) (*index.Index, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, i := r.find(database, table, name)
	if i < 0 {
		return nil, errs.NotFound("index %s not found on %s.%s", name, database, table)
	}
	return t.indexes[i].Clone(), nil
}

func (r *MemoryRegistry) ListIndexes(ctx context.Context, database, table string) ([]*index.Index, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tables[tableKey(database, table)]
	if !ok {
		return nil, nil
	}
	indexes := make([]*index.Index, len(t.indexes))
	for i, idx := range t.indexes {
		indexes[i] = idx.Clone()
	}
	return indexes, nil
}

func (r *MemoryRegistry) ListAllIndexes(ctx context.Context) ([]*index.Index, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.tables))
	for k := range r.tables {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var indexes []*index.Index
	for _, k := range keys {
		for _, idx := range r.tables[k].indexes {
			indexes = append(indexes, idx.Clone())
		}
	}
	return indexes, nil
}

func (r *MemoryRegistry) Generation(ctx context.Context, database, table string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if t, ok := r.tables[tableKey(database, table)]; ok {
		return t.generation, nil
	}
	return 0, nil
}

func (r *MemoryRegistry) ActivateIndex(ctx context.Context, database, table, name string, at time.Time) (*index.Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, i := r.find(database, table, name)
	if i < 0 {
		return nil, errs.NotFound("index %s not found on %s.%s", name, database, table)
	}
	idx := t.indexes[i]
	if !idx.Active {
		idx.Active = true
		idx.UpdatedAt = at
		t.generation++
	}
	return idx.Clone(), nil
}

func (r *MemoryRegistry) DeleteIndex(ctx context.Context, database, table, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, i := r.find(database, table, name)
	if i < 0 {
		return errs.NotFound("index %s not found on %s.%s", name, database, table)
	}
	t.indexes = append(t.indexes[:i], t.indexes[i+1:]...)
	t.generation++
	delete(r.statuses, index.PhysicalTableName(database, table, name))
	return nil
}

func (r *MemoryRegistry) SaveStatus(ctx context.Context, status *build.IndexBuildStatus) error {
	if status == nil || status.Index == nil {
		return errs.Contract("build status without index")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, i := r.find(status.Index.Database, status.Index.Table, status.Index.Name); i < 0 {
		return errs.NotFound("index %s not found on %s.%s", status.Index.Name, status.Index.Database, status.Index.Table)
	}
	r.statuses[status.Index.PhysicalTable()] = status
	return nil
}

func (r *MemoryRegistry) GetStatus(ctx context.Context, database, table, name string) (*build.IndexBuildStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status, ok := r.statuses[index.PhysicalTableName(database, table, name)]
	if !ok {
		return nil, errs.NotFound("no build status for index %s on %s.%s", name, database, table)
	}
	return status, nil
}

func (r *MemoryRegistry) Close() error {
	return nil
}
