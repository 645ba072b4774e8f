package event

import (
	"context"

	"github.com/hatlonely/secidx/build"
	"github.com/hatlonely/secidx/log"
	"github.com/hatlonely/secidx/log/logger"
	"github.com/pkg/errors"
)

type LogPublisherOptions struct {
	Logger *logger.SLogOptions `cfg:"logger"`
}

// LogPublisher 把快照写入日志
type LogPublisher struct {
	logger logger.Logger
}

func NewLogPublisherWithOptions(options *LogPublisherOptions) (*LogPublisher, error) {
	if options == nil {
		options = &LogPublisherOptions{}
	}
	l, err := log.NewLoggerWithOptions(options.Logger)
	if err != nil {
		return nil, errors.WithMessage(err, "create logger failed")
	}
	return NewLogPublisher(l), nil
}

func NewLogPublisher(l logger.Logger) *LogPublisher {
	if l == nil {
		l = log.Default()
	}
	return &LogPublisher{logger: l.WithGroup("build")}
}

func (p *LogPublisher) Publish(ctx context.Context, status *build.IndexBuildStatus) error {
	args := []any{
		"id", status.ID.String(),
		"database", status.Index.Database,
		"table", status.Index.Table,
		"index", status.Index.Name,
		"total", status.TotalRecords,
		"completed", status.RecordsCompleted,
		"percent", status.PercentComplete,
		"eta", status.EtaSeconds,
		"warnings", len(status.Warnings),
	}
	switch {
	case status.FatalError != "":
		p.logger.ErrorContext(ctx, "index build failed", append(args, "error", status.FatalError)...)
	case status.IsDoneIndexing():
		p.logger.InfoContext(ctx, "index build done", args...)
	default:
		p.logger.DebugContext(ctx, "index build progress", args...)
	}
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
