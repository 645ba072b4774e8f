package uid

import (
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type UUIDGeneratorOptions struct {
	// Version 可选 v1、v4、v6、v7
	Version string `cfg:"version" def:"v4" validate:"oneof=v1 v4 v6 v7"`

	// WithHyphens 字符串形式是否包含连字符
	WithHyphens bool `cfg:"withHyphens"`
}

type UUIDGenerator struct {
	newFunc     func() (uuid.UUID, error)
	withHyphens bool
}

func NewUUIDGeneratorWithOptions(options *UUIDGeneratorOptions) (*UUIDGenerator, error) {
	if options == nil {
		options = &UUIDGeneratorOptions{}
	}

	g := &UUIDGenerator{withHyphens: options.WithHyphens}
	switch options.Version {
	case "", "v4":
		g.newFunc = uuid.NewRandom
	case "v1":
		g.newFunc = uuid.NewUUID
	case "v6":
		g.newFunc = uuid.NewV6
	case "v7":
		g.newFunc = uuid.NewV7
	default:
		return nil, errors.Errorf("unsupported uuid version: %s", options.Version)
	}
	return g, nil
}

func (g *UUIDGenerator) NewUUID() (uuid.UUID, error) {
	u, err := g.newFunc()
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "generate uuid failed")
	}
	return u, nil
}

func (g *UUIDGenerator) Generate() (string, error) {
	u, err := g.NewUUID()
	if err != nil {
		return "", err
	}
	if g.withHyphens {
		return u.String(), nil
	}
	return hex.EncodeToString(u[:]), nil
}
