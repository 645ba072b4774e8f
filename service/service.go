package service

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hatlonely/secidx/backfill"
	"github.com/hatlonely/secidx/bucket"
	"github.com/hatlonely/secidx/build"
	"github.com/hatlonely/secidx/colstore"
	"github.com/hatlonely/secidx/errs"
	"github.com/hatlonely/secidx/event"
	"github.com/hatlonely/secidx/field"
	"github.com/hatlonely/secidx/index"
	"github.com/hatlonely/secidx/kv/store"
	"github.com/hatlonely/secidx/log"
	"github.com/hatlonely/secidx/log/logger"
	"github.com/hatlonely/secidx/ref"
	"github.com/hatlonely/secidx/registry"
	"github.com/hatlonely/secidx/uid"
	"github.com/hatlonely/secidx/where"
	"github.com/pkg/errors"
)

const writeStripes = 32

// Service 二级索引服务
// 索引创建后在后台回填，回填完成前查询不会选择该索引，写入会同时维护所有索引
type Service struct {
	locator   *bucket.Locator
	store     colstore.ColumnStore
	registry  registry.Registry
	publisher event.Publisher
	planner   *index.Planner
	builder   *backfill.Builder
	ids       uid.Generator
	programs  *lru.Cache[string, *where.Program]
	logger    logger.Logger
	now       func() time.Time

	// 同一张表的写入串行化，保证唯一索引检查和写入之间没有其他写入
	writeLocks [writeStripes]sync.Mutex

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running map[string]*buildHandle
}

// buildHandle 后台回填的取消函数，回填结束后 done 关闭
type buildHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewServiceWithOptions(options *Options) (*Service, error) {
	if options == nil {
		options = &Options{}
	}

	l, err := log.NewLoggerWithOptions(options.Logger)
	if err != nil {
		return nil, errors.WithMessage(err, "create logger failed")
	}

	encoder, err := field.NewEncoderWithOptions(&options.Encoder)
	if err != nil {
		return nil, errors.WithMessage(err, "create encoder failed")
	}
	table, err := bucket.NewTable(encoder, &options.Buckets)
	if err != nil {
		return nil, errors.WithMessage(err, "create bucket table failed")
	}

	s := &Service{
		locator: bucket.NewLocator(table),
		logger:  l.WithGroup("service"),
		now:     time.Now,
		running: map[string]*buildHandle{},
	}
	closeOnError := func(err error) (*Service, error) {
		s.closeCollaborators()
		return nil, err
	}

	if s.store, err = colstore.NewColumnStoreWithOptions(options.ColumnStore); err != nil {
		return closeOnError(errors.WithMessage(err, "create column store failed"))
	}
	if s.registry, err = registry.NewRegistryWithOptions(options.Registry); err != nil {
		return closeOnError(errors.WithMessage(err, "create registry failed"))
	}
	if s.publisher, err = event.NewPublisherWithOptions(options.Publisher); err != nil {
		return closeOnError(errors.WithMessage(err, "create publisher failed"))
	}
	if s.ids, err = uid.NewGeneratorWithOptions(options.IDGenerator); err != nil {
		return closeOnError(errors.WithMessage(err, "create id generator failed"))
	}

	plannerOptions := options.Planner
	if plannerOptions.Cache == nil {
		plannerOptions.Cache = &ref.TypeOptions{Namespace: store.Namespace, Type: "LRUStore", Options: &store.LRUStoreOptions{Size: 10000}}
	}
	if plannerOptions.Logger == nil {
		plannerOptions.Logger = options.Logger
	}
	if s.planner, err = index.NewPlannerWithOptions(s.registry, &plannerOptions); err != nil {
		return closeOnError(errors.WithMessage(err, "create planner failed"))
	}

	backfillOptions := options.Backfill
	if backfillOptions.Registerer == nil {
		backfillOptions.Registerer = options.Registerer
	}
	if backfillOptions.Logger == nil {
		backfillOptions.Logger = options.Logger
	}
	if s.builder, err = backfill.NewBuilderWithOptions(s.store, s.registry, s.locator, s.publisher, &backfillOptions); err != nil {
		return closeOnError(errors.WithMessage(err, "create backfill builder failed"))
	}

	size := options.ProgramCacheSize
	if size <= 0 {
		size = 1024
	}
	if s.programs, err = lru.New[string, *where.Program](size); err != nil {
		return closeOnError(errors.Wrap(err, "lru.New failed"))
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	if err := s.resume(s.ctx); err != nil {
		s.cancel()
		s.wg.Wait()
		return closeOnError(err)
	}
	return s, nil
}

// resume 继续上次进程退出时没有完成的回填，构建失败的索引保持原状
func (s *Service) resume(ctx context.Context) error {
	indexes, err := s.registry.ListAllIndexes(ctx)
	if err != nil {
		return errors.WithMessage(err, "list indexes failed")
	}
	for _, idx := range indexes {
		if idx.Active {
			continue
		}
		previous, err := s.registry.GetStatus(ctx, idx.Database, idx.Table, idx.Name)
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			return errors.WithMessagef(err, "get build status of %s failed", idx.PhysicalTable())
		}
		if previous != nil && previous.FatalError != "" {
			s.logger.WarnContext(ctx, "skip failed build", "index", idx.PhysicalTable(), "error", previous.FatalError)
			continue
		}
		tracker, err := s.builder.Resume(ctx, idx, previous)
		if err != nil {
			return errors.WithMessagef(err, "resume backfill of %s failed", idx.PhysicalTable())
		}
		s.startBuild(tracker)
	}
	return nil
}

func (s *Service) Locator() *bucket.Locator {
	return s.locator
}

func (s *Service) lockTable(database, table string) func() {
	mu := &s.writeLocks[xxhash.Sum64String(database+"."+table)%writeStripes]
	mu.Lock()
	return mu.Unlock
}

// CreateIndex 保存索引定义并在后台开始回填，返回初始的构建进度
func (s *Service) CreateIndex(ctx context.Context, idx *index.Index) (*build.IndexBuildStatus, error) {
	if idx == nil {
		return nil, errs.Contract("index is nil")
	}
	idx = idx.Clone()
	now := s.now()
	idx.Active = false
	idx.CreatedAt, idx.UpdatedAt = now, now

	if err := s.registry.CreateIndex(ctx, idx); err != nil {
		return nil, err
	}

	tracker, err := s.builder.Start(ctx, idx)
	if err != nil {
		if derr := s.registry.DeleteIndex(ctx, idx.Database, idx.Table, idx.Name); derr != nil {
			s.logger.WarnContext(ctx, "rollback index failed", "index", idx.PhysicalTable(), "error", derr.Error())
		}
		return nil, errors.WithMessage(err, "start backfill failed")
	}

	status := tracker.Status()
	s.startBuild(tracker)

	s.logger.InfoContext(ctx, "index created", "index", idx.PhysicalTable(), "fields", idx.FieldNames(), "unique", idx.Unique)
	return status, nil
}

// startBuild 在后台运行回填，DeleteIndex 和 Close 会等待它结束
func (s *Service) startBuild(tracker *build.Tracker) {
	key := tracker.Status().Index.PhysicalTable()
	buildCtx, cancel := context.WithCancel(s.ctx)
	h := &buildHandle{cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.running[key] = h
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(h.done)
		defer func() {
			s.mu.Lock()
			if s.running[key] == h {
				delete(s.running, key)
			}
			s.mu.Unlock()
			cancel()
		}()
		if _, err := s.builder.Run(buildCtx, tracker); err != nil {
			s.logger.WarnContext(buildCtx, "backfill did not finish", "index", key, "error", err.Error())
		}
	}()
}

func (s *Service) GetIndex(ctx context.Context, database, table, name string) (*index.Index, error) {
	return s.registry.GetIndex(ctx, database, table, name)
}

// ListIndexes 按定义顺序返回表上的索引
func (s *Service) ListIndexes(ctx context.Context, database, table string) ([]*index.Index, error) {
	return s.registry.ListIndexes(ctx, database, table)
}

// DeleteIndex 停止回填并等待它退出，再删除索引定义和索引表
func (s *Service) DeleteIndex(ctx context.Context, database, table, name string) error {
	key := index.PhysicalTableName(database, table, name)
	s.mu.Lock()
	h, ok := s.running[key]
	s.mu.Unlock()
	if ok {
		h.cancel()
		select {
		case <-h.done:
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "wait backfill of %s failed", key)
		}
	}

	if err := s.registry.DeleteIndex(ctx, database, table, name); err != nil {
		return err
	}
	if err := s.store.DropIndexTable(ctx, key); err != nil {
		return errors.WithMessagef(err, "drop index table %s failed", key)
	}
	s.logger.InfoContext(ctx, "index deleted", "index", key)
	return nil
}

func (s *Service) GetBuildStatus(ctx context.Context, database, table, name string) (*build.IndexBuildStatus, error) {
	return s.registry.GetStatus(ctx, database, table, name)
}

// Wait 等待所有后台回填结束
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return s.closeCollaborators()
}

func (s *Service) closeCollaborators() error {
	var first error
	for _, c := range []interface{ Close() error }{s.publisher, s.registry, s.store} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
