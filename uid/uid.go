package uid

import (
	"github.com/google/uuid"
	"github.com/hatlonely/secidx/ref"
	"github.com/pkg/errors"
)

const Namespace = "github.com/hatlonely/secidx/uid"

func init() {
	ref.MustRegister(Namespace, "UUIDGenerator", NewUUIDGeneratorWithOptions)
}

// Generator 生成唯一 ID
type Generator interface {
	// NewUUID 生成一个 UUID
	NewUUID() (uuid.UUID, error)
	// Generate 生成 UUID 的字符串形式
	Generate() (string, error)
}

// NewGeneratorWithOptions 通过 TypeOptions 创建生成器，options 为空时生成 v4
func NewGeneratorWithOptions(options *ref.TypeOptions) (Generator, error) {
	if options == nil {
		return NewUUIDGeneratorWithOptions(nil)
	}

	namespace := options.Namespace
	if namespace == "" {
		namespace = Namespace
	}
	obj, err := ref.New(namespace, options.Type, options.Options)
	if err != nil {
		return nil, errors.WithMessage(err, "ref.New failed")
	}
	g, ok := obj.(Generator)
	if !ok {
		return nil, errors.Errorf("%T is not a Generator", obj)
	}
	return g, nil
}
