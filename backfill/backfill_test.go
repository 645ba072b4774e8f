package backfill

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hatlonely/secidx/bucket"
	"github.com/hatlonely/secidx/build"
	"github.com/hatlonely/secidx/colstore"
	"github.com/hatlonely/secidx/errs"
	"github.com/hatlonely/secidx/field"
	"github.com/hatlonely/secidx/index"
	"github.com/hatlonely/secidx/registry"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	colstore.ColumnStore
}

func (s *failingStore) PutIndexEntry(ctx context.Context, physicalTable string, bucket int64, entry *colstore.IndexEntry) error {
	return errors.New("disk full")
}

type countingPublisher struct {
	mu   sync.Mutex
	last *build.IndexBuildStatus
	n    int
}

func (p *countingPublisher) Publish(ctx context.Context, status *build.IndexBuildStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = status
	p.n++
	return nil
}

func newLocator(t *testing.T) *bucket.Locator {
	table, err := bucket.NewTable(field.DefaultEncoder(), nil)
	require.NoError(t, err)
	return bucket.NewLocator(table)
}

func emailIndex() *index.Index {
	return &index.Index{
		Database: "db",
		Table:    "users",
		Name:     "email",
		Fields:   []index.IndexField{{Name: "email", Type: field.TypeText}, {Name: "age", Type: field.TypeInteger}},
	}
}

type fixture struct {
	store    colstore.ColumnStore
	registry *registry.MemoryRegistry
	builder  *Builder
}

func newFixture(t *testing.T, store colstore.ColumnStore, publisher build.Publisher) *fixture {
	reg := registry.NewMemoryRegistryWithOptions(nil)
	require.NoError(t, reg.CreateIndex(context.Background(), emailIndex()))
	b, err := NewBuilderWithOptions(store, reg, newLocator(t), publisher, &BuilderOptions{
		Workers:          3,
		ProgressInterval: 10,
		Registerer:       prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	return &fixture{store: store, registry: reg, builder: b}
}

func TestEntry(t *testing.T) {
	locator := newLocator(t)
	idx := emailIndex()

	t.Run("entry of a document", func(t *testing.T) {
		doc := &colstore.Document{ID: "1", Fields: map[string]any{"email": "a@x.com", "age": float64(30)}}
		b, entry, err := Entry(locator, idx, doc)
		require.NoError(t, err)

		want, err := locator.GetBucket(field.TypeText, field.Text("a@x.com"))
		require.NoError(t, err)
		assert.Equal(t, want, b)
		assert.Equal(t, "1", entry.DocumentID)
		assert.Equal(t, field.Encode(field.Text("a@x.com")).Key.Int64(), entry.Key)
		assert.Equal(t, map[string]any{"email": "a@x.com", "age": 30}, entry.Values)
	})

	t.Run("secondary fields may be absent", func(t *testing.T) {
		_, entry, err := Entry(locator, idx, &colstore.Document{ID: "1", Fields: map[string]any{"email": "a@x.com"}})
		require.NoError(t, err)
		assert.Nil(t, entry.Values["age"])
	})

	t.Run("absent primary", func(t *testing.T) {
		_, _, err := Entry(locator, idx, &colstore.Document{ID: "1", Fields: map[string]any{"age": 1}})
		assert.True(t, errors.Is(err, ErrPrimaryAbsent))
		_, _, err = Entry(locator, idx, &colstore.Document{ID: "2", Fields: map[string]any{"email": ""}})
		assert.True(t, errors.Is(err, ErrPrimaryAbsent))
	})

	t.Run("malformed values", func(t *testing.T) {
		_, _, err := Entry(locator, idx, &colstore.Document{ID: "1", Fields: map[string]any{"email": true}})
		assert.True(t, errors.Is(err, errs.ErrMalformedInput))
		_, _, err = Entry(locator, idx, &colstore.Document{ID: "2", Fields: map[string]any{"email": "a@x.com", "age": "old"}})
		assert.True(t, errors.Is(err, errs.ErrMalformedInput))
	})
}

func TestBuilderRun(t *testing.T) {
	ctx := context.Background()

	t.Run("backfills and activates the index", func(t *testing.T) {
		store, err := colstore.NewKVColumnStoreWithOptions(nil)
		require.NoError(t, err)
		for i := 0; i < 95; i++ {
			require.NoError(t, store.PutDocument(ctx, "db", "users", &colstore.Document{
				ID:     fmt.Sprintf("u%03d", i),
				Fields: map[string]any{"email": fmt.Sprintf("user%03d@x.com", i), "age": i},
			}))
		}
		require.NoError(t, store.PutDocument(ctx, "db", "users", &colstore.Document{ID: "noemail", Fields: map[string]any{"age": 1}}))
		require.NoError(t, store.PutDocument(ctx, "db", "users", &colstore.Document{ID: "badage", Fields: map[string]any{"email": "z@x.com", "age": "old"}}))

		publisher := &countingPublisher{}
		f := newFixture(t, store, publisher)

		tracker, err := f.builder.Start(ctx, emailIndex())
		require.NoError(t, err)
		assert.Equal(t, int64(97), tracker.Status().TotalRecords)

		status, err := f.builder.Run(ctx, tracker)
		require.NoError(t, err)
		assert.True(t, status.IsDoneIndexing())
		assert.Equal(t, int64(97), status.RecordsCompleted)
		assert.Equal(t, float64(100), status.PercentComplete)
		assert.Len(t, status.Warnings, 2)
		assert.Same(t, status, publisher.last)

		idx, err := f.registry.GetIndex(ctx, "db", "users", "email")
		require.NoError(t, err)
		assert.True(t, idx.Active)

		saved, err := f.registry.GetStatus(ctx, "db", "users", "email")
		require.NoError(t, err)
		assert.True(t, saved.IsDoneIndexing())

		locator := newLocator(t)
		b, err := locator.GetBucket(field.TypeText, field.Text("user042@x.com"))
		require.NoError(t, err)
		rows, err := store.ScanPartition(ctx, "db_users_email", b)
		require.NoError(t, err)
		var found bool
		for _, r := range rows {
			if r.DocumentID == "u042" {
				found = true
			}
		}
		assert.True(t, found)

		m := f.builder.Metrics()
		assert.Equal(t, float64(95), testutil.ToFloat64(m.Records.WithLabelValues("db_users_email")))
		assert.Equal(t, float64(2), testutil.ToFloat64(m.Warnings.WithLabelValues("db_users_email")))
		assert.Equal(t, float64(1), testutil.ToFloat64(m.Builds.WithLabelValues(ResultDone)))
		assert.Equal(t, float64(0), testutil.ToFloat64(m.Active))
	})

	t.Run("empty table", func(t *testing.T) {
		store, err := colstore.NewKVColumnStoreWithOptions(nil)
		require.NoError(t, err)
		f := newFixture(t, store, nil)

		tracker, err := f.builder.Start(ctx, emailIndex())
		require.NoError(t, err)
		assert.Equal(t, float64(100), tracker.Status().PercentComplete)
		assert.Equal(t, int64(0), tracker.Status().EtaSeconds)

		status, err := f.builder.Run(ctx, tracker)
		require.NoError(t, err)
		assert.True(t, status.IsDoneIndexing())
	})

	t.Run("storage errors fail the build", func(t *testing.T) {
		inner, err := colstore.NewKVColumnStoreWithOptions(nil)
		require.NoError(t, err)
		require.NoError(t, inner.PutDocument(ctx, "db", "users", &colstore.Document{ID: "1", Fields: map[string]any{"email": "a@x.com"}}))
		f := newFixture(t, &failingStore{ColumnStore: inner}, nil)

		tracker, err := f.builder.Start(ctx, emailIndex())
		require.NoError(t, err)
		status, err := f.builder.Run(ctx, tracker)
		assert.True(t, errors.Is(err, errs.ErrBuildFailed))
		assert.Contains(t, status.FatalError, "disk full")
		assert.Equal(t, int64(-1), status.EtaSeconds)
		assert.False(t, status.IsDoneIndexing())

		idx, err := f.registry.GetIndex(ctx, "db", "users", "email")
		require.NoError(t, err)
		assert.False(t, idx.Active)
		assert.Equal(t, float64(1), testutil.ToFloat64(f.builder.Metrics().Builds.WithLabelValues(ResultFailed)))
	})

	t.Run("cancellation leaves the build unfinished", func(t *testing.T) {
		store, err := colstore.NewKVColumnStoreWithOptions(nil)
		require.NoError(t, err)
		require.NoError(t, store.PutDocument(ctx, "db", "users", &colstore.Document{ID: "1", Fields: map[string]any{"email": "a@x.com"}}))
		f := newFixture(t, store, nil)

		tracker, err := f.builder.Start(ctx, emailIndex())
		require.NoError(t, err)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		status, err := f.builder.Run(cctx, tracker)
		assert.True(t, errors.Is(err, context.Canceled))
		assert.False(t, status.IsTerminal())

		idx, err := f.registry.GetIndex(ctx, "db", "users", "email")
		require.NoError(t, err)
		assert.False(t, idx.Active)
		assert.Equal(t, float64(1), testutil.ToFloat64(f.builder.Metrics().Builds.WithLabelValues(ResultCancelled)))
	})

	t.Run("duplicate values fail a unique build", func(t *testing.T) {
		store, err := colstore.NewKVColumnStoreWithOptions(nil)
		require.NoError(t, err)
		for id, email := range map[string]string{"u1": "a@x.com", "u2": "a@x.com", "u3": "b@x.com"} {
			require.NoError(t, store.PutDocument(ctx, "db", "users", &colstore.Document{ID: id, Fields: map[string]any{"email": email, "age": 30}}))
		}
		f := newFixture(t, store, nil)
		unique := emailIndex()
		unique.Name = "email_unique"
		unique.Unique = true
		require.NoError(t, f.registry.CreateIndex(ctx, unique))

		tracker, err := f.builder.Start(ctx, unique)
		require.NoError(t, err)
		status, err := f.builder.Run(ctx, tracker)
		assert.True(t, errors.Is(err, errs.ErrBuildFailed))
		assert.Contains(t, status.FatalError, "unique index email_unique")
		assert.False(t, status.IsDoneIndexing())

		idx, err := f.registry.GetIndex(ctx, "db", "users", "email_unique")
		require.NoError(t, err)
		assert.False(t, idx.Active)
	})

	t.Run("distinct values build a unique index", func(t *testing.T) {
		store, err := colstore.NewKVColumnStoreWithOptions(nil)
		require.NoError(t, err)
		// 前 8 个字符相同，键相同但值不同
		for _, email := range []string{"abcdefgh1@x.com", "abcdefgh2@x.com"} {
			require.NoError(t, store.PutDocument(ctx, "db", "users", &colstore.Document{ID: email, Fields: map[string]any{"email": email, "age": 30}}))
		}
		f := newFixture(t, store, nil)
		unique := emailIndex()
		unique.Name = "email_unique"
		unique.Unique = true
		require.NoError(t, f.registry.CreateIndex(ctx, unique))

		tracker, err := f.builder.Start(ctx, unique)
		require.NoError(t, err)
		status, err := f.builder.Run(ctx, tracker)
		require.NoError(t, err)
		assert.True(t, status.IsDoneIndexing())
	})

	t.Run("resume keeps the build id", func(t *testing.T) {
		store, err := colstore.NewKVColumnStoreWithOptions(nil)
		require.NoError(t, err)
		for i := 0; i < 20; i++ {
			require.NoError(t, store.PutDocument(ctx, "db", "users", &colstore.Document{
				ID:     fmt.Sprintf("u%02d", i),
				Fields: map[string]any{"email": fmt.Sprintf("user%02d@x.com", i), "age": i},
			}))
		}
		f := newFixture(t, store, nil)

		started := time.Now().Add(-time.Hour)
		previous := build.NewIndexBuildStatus(uuid.New(), emailIndex(), 12, started)
		previous.RecordsCompleted = 7
		previous.Warnings = []string{"old warning"}

		tracker, err := f.builder.Resume(ctx, emailIndex(), previous)
		require.NoError(t, err)
		assert.Equal(t, previous.ID, tracker.Status().ID)
		assert.Equal(t, int64(20), tracker.Status().TotalRecords)
		assert.Equal(t, int64(0), tracker.Status().RecordsCompleted)
		assert.Empty(t, tracker.Status().Warnings)

		saved, err := f.registry.GetStatus(ctx, "db", "users", "email")
		require.NoError(t, err)
		assert.Equal(t, previous.ID, saved.ID)

		status, err := f.builder.Run(ctx, tracker)
		require.NoError(t, err)
		assert.True(t, status.IsDoneIndexing())
		assert.Equal(t, int64(20), status.RecordsCompleted)
		assert.Equal(t, started, status.DateStarted)
	})

	t.Run("missing collaborators", func(t *testing.T) {
		_, err := NewBuilderWithOptions(nil, nil, nil, nil, nil)
		assert.True(t, errors.Is(err, errs.ErrContractViolation))
	})
}
