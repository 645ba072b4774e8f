package event

import (
	"context"
	"strings"

	"github.com/hatlonely/secidx/build"
	"github.com/hatlonely/secidx/ref"
	"github.com/pkg/errors"
)

type MultiPublisherOptions struct {
	Publishers []*ref.TypeOptions `cfg:"publishers"`
}

// MultiPublisher 依次发布到所有发布者，单个失败不影响其他发布者
type MultiPublisher struct {
	publishers []Publisher
}

func NewMultiPublisherWithOptions(options *MultiPublisherOptions) (*MultiPublisher, error) {
	if options == nil {
		return NewMultiPublisher(), nil
	}
	publishers := make([]Publisher, 0, len(options.Publishers))
	for i, o := range options.Publishers {
		p, err := NewPublisherWithOptions(o)
		if err != nil {
			for _, created := range publishers {
				created.Close()
			}
			return nil, errors.WithMessagef(err, "create publisher %d failed", i)
		}
		publishers = append(publishers, p)
	}
	return NewMultiPublisher(publishers...), nil
}

func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	return &MultiPublisher{publishers: publishers}
}

func (p *MultiPublisher) Publish(ctx context.Context, status *build.IndexBuildStatus) error {
	var messages []string
	for _, publisher := range p.publishers {
		if err := publisher.Publish(ctx, status); err != nil {
			messages = append(messages, err.Error())
		}
	}
	if len(messages) > 0 {
		return errors.Errorf("publish failed: %s", strings.Join(messages, "; "))
	}
	return nil
}

func (p *MultiPublisher) Close() error {
	var messages []string
	for _, publisher := range p.publishers {
		if err := publisher.Close(); err != nil {
			messages = append(messages, err.Error())
		}
	}
	if len(messages) > 0 {
		return errors.Errorf("close failed: %s", strings.Join(messages, "; "))
	}
	return nil
}
