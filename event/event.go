package event

import (
	"github.com/hatlonely/secidx/build"
	"github.com/hatlonely/secidx/ref"
	"github.com/pkg/errors"
)

const Namespace = "github.com/hatlonely/secidx/event"

func init() {
	ref.MustRegister(Namespace, "LogPublisher", NewLogPublisherWithOptions)
	ref.MustRegister(Namespace, "Bus", NewBusWithOptions)
	ref.MustRegister(Namespace, "RedisPublisher", NewRedisPublisherWithOptions)
	ref.MustRegister(Namespace, "MultiPublisher", NewMultiPublisherWithOptions)
}

// Publisher 构建进度快照的发布者
type Publisher interface {
	build.Publisher
	Close() error
}

// NewPublisherWithOptions 通过 TypeOptions 创建发布者，options 为空时只写日志
func NewPublisherWithOptions(options *ref.TypeOptions) (Publisher, error) {
	if options == nil {
		return NewLogPublisherWithOptions(nil)
	}

	namespace := options.Namespace
	if namespace == "" {
		namespace = Namespace
	}
	obj, err := ref.New(namespace, options.Type, options.Options)
	if err != nil {
		return nil, errors.WithMessagef(err, "create publisher %s failed", options.Type)
	}
	publisher, ok := obj.(Publisher)
	if !ok {
		return nil, errors.Errorf("%T is not a Publisher", obj)
	}
	return publisher, nil
}
