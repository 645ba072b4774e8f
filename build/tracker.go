package build

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hatlonely/secidx/errs"
	"github.com/hatlonely/secidx/index"
	"github.com/hatlonely/secidx/log"
	"github.com/hatlonely/secidx/log/logger"
	"github.com/pkg/errors"
)

// Publisher 接收每个新的进度快照，发布失败不影响构建
type Publisher interface {
	Publish(ctx context.Context, status *IndexBuildStatus) error
}

// Tracker 跟踪一次索引构建
// 每次修改复制当前快照、修改、重新计算派生字段，再用 CAS 替换，读者总是看到一致的快照
type Tracker struct {
	status    atomic.Pointer[IndexBuildStatus]
	publisher Publisher
	logger    logger.Logger
	now       func() time.Time
}

type TrackerOption func(*Tracker)

func WithPublisher(publisher Publisher) TrackerOption {
	return func(t *Tracker) {
		t.publisher = publisher
	}
}

func WithLogger(l logger.Logger) TrackerOption {
	return func(t *Tracker) {
		t.logger = l
	}
}

// WithClock 替换时间来源
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker 创建构建跟踪器，构建 ID 为 v1 UUID
func NewTracker(ctx context.Context, idx *index.Index, totalRecords int64, opts ...TrackerOption) (*Tracker, error) {
	if idx == nil {
		return nil, errs.Contract("index is nil")
	}
	t := &Tracker{logger: log.Default(), now: time.Now}
	for _, opt := range opts {
		opt(t)
	}

	id, err := uuid.NewUUID()
	if err != nil {
		return nil, errors.Wrap(err, "uuid.NewUUID failed")
	}
	status := NewIndexBuildStatus(id, idx.Clone(), totalRecords, t.now())
	t.status.Store(status)
	t.publish(ctx, status)
	return t, nil
}

// ResumeTracker 从保存的快照继续跟踪
func ResumeTracker(status *IndexBuildStatus, opts ...TrackerOption) *Tracker {
	t := &Tracker{logger: log.Default(), now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	t.status.Store(status.clone())
	return t
}

// Status 当前快照，调用方不能修改
func (t *Tracker) Status() *IndexBuildStatus {
	return t.status.Load()
}

func (t *Tracker) IsDoneIndexing() bool {
	return t.status.Load().IsDoneIndexing()
}

// SetCompleted 设置已完成的记录数
func (t *Tracker) SetCompleted(ctx context.Context, completed int64) (*IndexBuildStatus, error) {
	return t.update(ctx, func(s *IndexBuildStatus) error {
		if completed < 0 {
			return errs.Contract("records completed %d is negative", completed)
		}
		s.RecordsCompleted = completed
		return nil
	})
}

// Advance 已完成的记录数增加 n
func (t *Tracker) Advance(ctx context.Context, n int64) (*IndexBuildStatus, error) {
	return t.update(ctx, func(s *IndexBuildStatus) error {
		if n < 0 {
			return errs.Contract("advance by negative count %d", n)
		}
		s.RecordsCompleted += n
		return nil
	})
}

// AddWarning 记录不影响构建的问题
func (t *Tracker) AddWarning(ctx context.Context, warning string) (*IndexBuildStatus, error) {
	return t.update(ctx, func(s *IndexBuildStatus) error {
		s.Warnings = append(s.Warnings, warning)
		return nil
	})
}

// Fail 构建进入致命错误状态，之后不再接受修改
func (t *Tracker) Fail(ctx context.Context, cause error) (*IndexBuildStatus, error) {
	return t.update(ctx, func(s *IndexBuildStatus) error {
		if cause == nil {
			return errs.Contract("fatal error is nil")
		}
		s.FatalError = cause.Error()
		return nil
	})
}

// MarkDone 回填完成，索引激活
func (t *Tracker) MarkDone(ctx context.Context, activatedAt time.Time) (*IndexBuildStatus, error) {
	return t.update(ctx, func(s *IndexBuildStatus) error {
		s.Index.Active = true
		s.Index.UpdatedAt = activatedAt
		return nil
	})
}

func (t *Tracker) update(ctx context.Context, mutate func(s *IndexBuildStatus) error) (*IndexBuildStatus, error) {
	for {
		current := t.status.Load()
		if current.IsTerminal() {
			if current.FatalError != "" {
				return current, errors.WithMessagef(errs.ErrBuildFailed, "build %s of index %s: %s", current.ID, current.Index.Name, current.FatalError)
			}
			return current, errs.Contract("build %s of index %s is already done", current.ID, current.Index.Name)
		}

		next := current.clone()
		if err := mutate(next); err != nil {
			return current, err
		}
		next.StatusLastUpdatedAt = t.now()
		next.recompute()

		if t.status.CompareAndSwap(current, next) {
			t.publish(ctx, next)
			return next, nil
		}
	}
}

func (t *Tracker) publish(ctx context.Context, status *IndexBuildStatus) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.Publish(ctx, status); err != nil {
		t.logger.WarnContext(ctx, "publish build status failed", "build", status.ID.String(), "index", status.Index.Name, "error", err.Error())
	}
}
