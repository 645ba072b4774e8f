package index

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hatlonely/secidx/errs"
	"github.com/hatlonely/secidx/kv/store"
	"github.com/hatlonely/secidx/ref"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu         sync.Mutex
	indexes    []*Index
	generation int64
	calls      atomic.Int64
	delay      time.Duration
}

func (s *fakeSource) ListIndexes(ctx context.Context, database, table string) ([]*Index, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Index(nil), s.indexes...), nil
}

func (s *fakeSource) Generation(ctx context.Context, database, table string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation, nil
}

func (s *fakeSource) add(idx *Index) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes = append(s.indexes, idx)
	s.generation++
}

func TestPlannerParse(t *testing.T) {
	ctx := context.Background()

	t.Run("plans with the selected index", func(t *testing.T) {
		source := &fakeSource{}
		source.add(newIndex("email", "email"))
		planner := NewPlanner(source, nil, nil)

		q, err := planner.Parse(ctx, "db", "users", "email = 'a@x.com'")
		require.NoError(t, err)
		assert.Equal(t, "email", q.Index.Name)
		assert.Equal(t, "db_users_email", q.PhysicalTable)
		assert.Equal(t, []string{"a@x.com"}, q.WhereClause.Values)
		assert.Equal(t, "email = 'a@x.com'", q.Filter)
		assert.Equal(t, int64(1), q.Generation)
	})

	t.Run("inactive indexes are ignored", func(t *testing.T) {
		source := &fakeSource{}
		building := newIndex("email", "email")
		building.Active = false
		source.add(building)
		planner := NewPlanner(source, nil, nil)

		_, err := planner.Parse(ctx, "db", "users", "email = 'a@x.com'")
		var nie *errs.NotIndexedError
		require.True(t, errors.As(err, &nie))
		assert.Equal(t, "db", nie.Database)
		assert.Equal(t, "users", nie.Table)
		assert.Equal(t, []string{"email"}, nie.Fields)
	})

	t.Run("parse errors propagate", func(t *testing.T) {
		planner := NewPlanner(&fakeSource{}, nil, nil)
		_, err := planner.Parse(ctx, "db", "users", "email = 'a@x.com")
		assert.True(t, errors.Is(err, errs.ErrMalformedInput))
	})

	t.Run("cached plans are served until the generation changes", func(t *testing.T) {
		source := &fakeSource{}
		source.add(newIndex("ab", "a", "b"))
		cache := store.NewSyncMapStoreWithOptions[string, ParsedQuery](nil)
		planner := NewPlanner(source, cache, nil)

		q, err := planner.Parse(ctx, "db", "users", "a = '1'")
		require.NoError(t, err)
		assert.Equal(t, "ab", q.Index.Name)

		_, err = planner.Parse(ctx, "db", "users", "a = '1'")
		require.NoError(t, err)
		assert.Equal(t, int64(1), source.calls.Load())

		source.add(newIndex("a", "a"))
		q, err = planner.Parse(ctx, "db", "users", "a = '1'")
		require.NoError(t, err)
		assert.Equal(t, "a", q.Index.Name)
		assert.Equal(t, int64(2), source.calls.Load())
	})

	t.Run("errors are not cached", func(t *testing.T) {
		source := &fakeSource{}
		cache := store.NewSyncMapStoreWithOptions[string, ParsedQuery](nil)
		planner := NewPlanner(source, cache, nil)

		_, err := planner.Parse(ctx, "db", "users", "a = '1'")
		require.Error(t, err)
		_, err = planner.Parse(ctx, "db", "users", "a = '1'")
		require.Error(t, err)
		assert.Equal(t, int64(2), source.calls.Load())
	})

	t.Run("concurrent first access computes once", func(t *testing.T) {
		source := &fakeSource{delay: 100 * time.Millisecond}
		source.add(newIndex("a", "a"))
		planner := NewPlanner(source, nil, nil)

		var wg sync.WaitGroup
		results := make([]*ParsedQuery, 16)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				q, err := planner.Parse(ctx, "db", "users", "a = '1'")
				assert.NoError(t, err)
				results[i] = q
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int64(1), source.calls.Load())
		for _, q := range results {
			require.NotNil(t, q)
			assert.Equal(t, "db_users_a", q.PhysicalTable)
		}
	})
}

func TestNewPlannerWithOptions(t *testing.T) {
	ctx := context.Background()

	t.Run("redis plan cache", func(t *testing.T) {
		mr := miniredis.RunT(t)
		source := &fakeSource{}
		source.add(newIndex("email", "email"))

		planner, err := NewPlannerWithOptions(source, &PlannerOptions{
			Cache: &ref.TypeOptions{
				Type:    "RedisStore",
				Options: &store.RedisStoreOptions{Endpoint: mr.Addr(), KeyPrefix: "plan:"},
			},
		})
		require.NoError(t, err)

		first, err := planner.Parse(ctx, "db", "users", "email = 'a@x.com'")
		require.NoError(t, err)
		assert.Len(t, mr.Keys(), 1)

		second, err := planner.Parse(ctx, "db", "users", "email = 'a@x.com'")
		require.NoError(t, err)
		assert.Equal(t, int64(1), source.calls.Load())
		assert.Equal(t, first.PhysicalTable, second.PhysicalTable)
		assert.Equal(t, first.WhereClause.Template, second.WhereClause.Template)
		assert.Equal(t, first.Index.Fields, second.Index.Fields)
	})

	t.Run("invalid cache type", func(t *testing.T) {
		_, err := NewPlannerWithOptions(&fakeSource{}, &PlannerOptions{Cache: &ref.TypeOptions{Type: "NoSuchStore"}})
		assert.Error(t, err)
	})

	t.Run("nil options", func(t *testing.T) {
		planner, err := NewPlannerWithOptions(&fakeSource{}, nil)
		require.NoError(t, err)
		assert.NotNil(t, planner)
	})
}
