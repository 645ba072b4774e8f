package provider

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

type EnvProviderOptions struct {
	// Prefix 环境变量前缀过滤，如 "SECIDX_" 只处理 SECIDX_ 开头的环境变量，处理时移除前缀
	Prefix string `cfg:"prefix"`
}

// EnvProvider 把环境变量输出为 KEY=VALUE 行，交给 EnvDecoder 解码
type EnvProvider struct {
	prefix  string
	environ func() []string
}

func NewEnvProviderWithOptions(options *EnvProviderOptions) (*EnvProvider, error) {
	if options == nil {
		options = &EnvProviderOptions{}
	}
	return &EnvProvider{
		prefix:  options.Prefix,
		environ: os.Environ,
	}, nil
}

func (p *EnvProvider) Load() ([]byte, error) {
	if p.environ == nil {
		return nil, errors.New("environment source is not set")
	}

	var lines []string
	for _, env := range p.environ() {
		key, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		if p.prefix != "" {
			if !strings.HasPrefix(key, p.prefix) {
				continue
			}
			key = key[len(p.prefix):]
		}
		if key == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	sort.Strings(lines)

	return []byte(strings.Join(lines, "\n")), nil
}

// 环境变量不支持变更监听
func (p *EnvProvider) OnChange(fn func(data []byte) error) {}

func (p *EnvProvider) Watch() error {
	return nil
}

func (p *EnvProvider) Close() error {
	return nil
}
