package backfill

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hatlonely/secidx/bucket"
	"github.com/hatlonely/secidx/build"
	"github.com/hatlonely/secidx/colstore"
	"github.com/hatlonely/secidx/errs"
	"github.com/hatlonely/secidx/index"
	"github.com/hatlonely/secidx/log"
	"github.com/hatlonely/secidx/log/logger"
	"github.com/hatlonely/secidx/registry"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

type BuilderOptions struct {
	Workers int `cfg:"workers" def:"4" validate:"min=1"`

	// 每处理多少个文档更新一次进度
	ProgressInterval int `cfg:"progressInterval" def:"100" validate:"min=1"`

	// 指标命名空间
	MetricsNamespace string `cfg:"metricsNamespace" def:"secidx"`

	Logger *logger.SLogOptions `cfg:"logger"`

	Registerer prometheus.Registerer `cfg:"-"`
}

// Builder 扫描源表为新索引写入索引行，完成后激活索引
type Builder struct {
	store     colstore.ColumnStore
	registry  registry.Registry
	locator   *bucket.Locator
	publisher build.Publisher
	metrics   *Metrics
	logger    logger.Logger
	workers   int
	interval  int64
	now       func() time.Time

	// 唯一索引同一分区的检查和写入串行化
	uniqueLocks [32]sync.Mutex
}

func NewBuilderWithOptions(store colstore.ColumnStore, reg registry.Registry, locator *bucket.Locator, publisher build.Publisher, options *BuilderOptions) (*Builder, error) {
	if options == nil {
		options = &BuilderOptions{}
	}
	if store == nil || reg == nil || locator == nil {
		return nil, errs.Contract("column store, registry and locator are required")
	}

	l, err := log.NewLoggerWithOptions(options.Logger)
	if err != nil {
		return nil, errors.WithMessage(err, "create logger failed")
	}
	namespace := options.MetricsNamespace
	if namespace == "" {
		namespace = "secidx"
	}
	metrics, err := NewMetrics(namespace, options.Registerer)
	if err != nil {
		return nil, err
	}

	workers := options.Workers
	if workers <= 0 {
		workers = 4
	}
	interval := int64(options.ProgressInterval)
	if interval <= 0 {
		interval = 100
	}

	return &Builder{
		store:     store,
		registry:  reg,
		locator:   locator,
		publisher: publisher,
		metrics:   metrics,
		logger:    l.WithGroup("backfill"),
		workers:   workers,
		interval:  interval,
		now:       time.Now,
	}, nil
}

func (b *Builder) Metrics() *Metrics {
	return b.metrics
}

// Publish 保存快照到注册表再转发给发布者
func (b *Builder) Publish(ctx context.Context, status *build.IndexBuildStatus) error {
	if err := b.registry.SaveStatus(ctx, status); err != nil {
		return errors.WithMessage(err, "save build status failed")
	}
	if b.publisher != nil {
		return b.publisher.Publish(ctx, status)
	}
	return nil
}

// Start 创建跟踪器，记录开始时的表大小
func (b *Builder) Start(ctx context.Context, idx *index.Index) (*build.Tracker, error) {
	total, err := b.store.CountDocuments(ctx, idx.Database, idx.Table)
	if err != nil {
		return nil, errors.WithMessagef(err, "count %s.%s failed", idx.Database, idx.Table)
	}
	return build.NewTracker(ctx, idx, total,
		build.WithPublisher(b),
		build.WithLogger(b.logger),
		build.WithClock(b.now),
	)
}

// Resume 继续中断的构建，沿用原来的构建 ID 和开始时间
// 索引行按文档 ID 覆盖，重新扫描整张表，已完成数和告警从零开始
func (b *Builder) Resume(ctx context.Context, idx *index.Index, previous *build.IndexBuildStatus) (*build.Tracker, error) {
	if previous == nil {
		return b.Start(ctx, idx)
	}
	total, err := b.store.CountDocuments(ctx, idx.Database, idx.Table)
	if err != nil {
		return nil, errors.WithMessagef(err, "count %s.%s failed", idx.Database, idx.Table)
	}
	tracker := build.ResumeTracker(build.NewIndexBuildStatus(previous.ID, idx.Clone(), total, previous.DateStarted),
		build.WithPublisher(b),
		build.WithLogger(b.logger),
		build.WithClock(b.now),
	)
	if _, err := tracker.SetCompleted(ctx, 0); err != nil {
		return nil, err
	}
	b.logger.InfoContext(ctx, "backfill resumed", "index", idx.PhysicalTable(), "build", previous.ID.String(), "previous", previous.RecordsCompleted)
	return tracker, nil
}

// Run 回填索引
// 存储错误使构建失败，ctx 取消时构建停在未完成状态
func (b *Builder) Run(ctx context.Context, tracker *build.Tracker) (*build.IndexBuildStatus, error) {
	idx := tracker.Status().Index
	started := b.now()
	b.metrics.Active.Inc()
	defer b.metrics.Active.Dec()

	result := ResultDone
	defer func() {
		b.metrics.Builds.WithLabelValues(result).Inc()
		b.metrics.Duration.WithLabelValues(result).Observe(b.now().Sub(started).Seconds())
	}()

	b.logger.InfoContext(ctx, "backfill started", "index", idx.PhysicalTable(), "total", tracker.Status().TotalRecords)

	err := b.scan(ctx, tracker, idx)
	if ctx.Err() != nil {
		result = ResultCancelled
		b.logger.WarnContext(ctx, "backfill cancelled", "index", idx.PhysicalTable(), "completed", tracker.Status().RecordsCompleted)
		return tracker.Status(), ctx.Err()
	}
	if err != nil {
		result = ResultFailed
		status, ferr := tracker.Fail(ctx, err)
		if ferr != nil {
			return status, ferr
		}
		b.logger.ErrorContext(ctx, "backfill failed", "index", idx.PhysicalTable(), "error", err.Error())
		return status, errors.WithMessagef(errs.ErrBuildFailed, "index %s: %v", idx.Name, err)
	}

	activatedAt := b.now()
	if _, err := b.registry.ActivateIndex(ctx, idx.Database, idx.Table, idx.Name, activatedAt); err != nil {
		result = ResultFailed
		status, _ := tracker.Fail(ctx, err)
		return status, errors.WithMessagef(errs.ErrBuildFailed, "activate index %s: %v", idx.Name, err)
	}
	status, err := tracker.MarkDone(ctx, activatedAt)
	if err != nil {
		return status, err
	}
	b.logger.InfoContext(ctx, "backfill done", "index", idx.PhysicalTable(), "completed", status.RecordsCompleted, "warnings", len(status.Warnings))
	return status, nil
}

func (b *Builder) scan(ctx context.Context, tracker *build.Tracker, idx *index.Index) error {
	physicalTable := idx.PhysicalTable()
	docs := make(chan *colstore.Document, b.workers*2)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(docs)
		return b.store.ScanDocuments(gctx, idx.Database, idx.Table, func(doc *colstore.Document) error {
			select {
			case docs <- doc:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	var pending atomic.Int64
	flush := func(ctx context.Context) error {
		if n := pending.Swap(0); n > 0 {
			if _, err := tracker.Advance(ctx, n); err != nil {
				return err
			}
		}
		return nil
	}

	for i := 0; i < b.workers; i++ {
		g.Go(func() error {
			for doc := range docs {
				if err := b.indexDocument(gctx, tracker, idx, physicalTable, doc); err != nil {
					return err
				}
				if pending.Add(1) >= b.interval {
					if err := flush(gctx); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return flush(ctx)
}

func (b *Builder) indexDocument(ctx context.Context, tracker *build.Tracker, idx *index.Index, physicalTable string, doc *colstore.Document) error {
	bucketID, entry, err := Entry(b.locator, idx, doc)
	if err != nil {
		if errors.Is(err, ErrPrimaryAbsent) || errors.Is(err, errs.ErrMalformedInput) {
			b.metrics.Warnings.WithLabelValues(physicalTable).Inc()
			_, werr := tracker.AddWarning(ctx, err.Error())
			return werr
		}
		return err
	}
	if idx.Unique {
		mu := &b.uniqueLocks[xxhash.Sum64String(physicalTable+"|"+strconv.FormatInt(bucketID, 10))%uint64(len(b.uniqueLocks))]
		mu.Lock()
		defer mu.Unlock()
		other, err := FindDuplicate(ctx, b.store, idx, bucketID, entry)
		if err != nil {
			return err
		}
		if other != "" {
			return errs.Duplicate("documents %s and %s have the same value %v on unique index %s", other, doc.ID, entry.Values, idx.Name)
		}
	}
	if err := b.store.PutIndexEntry(ctx, physicalTable, bucketID, entry); err != nil {
		return errors.WithMessagef(err, "write index entry of document %s failed", doc.ID)
	}
	b.metrics.Records.WithLabelValues(physicalTable).Inc()
	return nil
}
