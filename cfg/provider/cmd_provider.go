package provider

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

type CmdProviderOptions struct {
	// Prefix 参数前缀过滤，如 "secidx-" 只处理 --secidx-* 参数，处理时移除前缀
	Prefix string `cfg:"prefix"`

	// Args 命令行参数，为空时使用 os.Args[1:]
	Args []string `cfg:"args"`
}

// CmdProvider 把 --key=value、--key value 和 --flag 形式的长选项输出为 key=value 行
// 短选项和位置参数被忽略，同一个键出现多次时后面的覆盖前面的
type CmdProvider struct {
	prefix string
	args   []string
}

func NewCmdProviderWithOptions(options *CmdProviderOptions) (*CmdProvider, error) {
	if options == nil {
		options = &CmdProviderOptions{}
	}
	args := options.Args
	if args == nil {
		args = os.Args[1:]
	}
	return &CmdProvider{prefix: options.Prefix, args: args}, nil
}

func (p *CmdProvider) Load() ([]byte, error) {
	vars := map[string]string{}
	for i := 0; i < len(p.args); i++ {
		key, ok := strings.CutPrefix(p.args[i], "--")
		if !ok || key == "" {
			continue
		}
		if p.prefix != "" {
			if key, ok = strings.CutPrefix(key, p.prefix); !ok || key == "" {
				continue
			}
		}

		value := "true"
		if k, v, found := strings.Cut(key, "="); found {
			key, value = k, v
		} else if i+1 < len(p.args) && !strings.HasPrefix(p.args[i+1], "--") {
			i++
			value = p.args[i]
		}
		vars[key] = value
	}

	lines := make([]string, 0, len(vars))
	for k, v := range vars {
		lines = append(lines, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(lines)
	return []byte(strings.Join(lines, "\n")), nil
}

// 命令行参数不会变化
func (p *CmdProvider) OnChange(fn func(data []byte) error) {}

func (p *CmdProvider) Watch() error {
	return nil
}

func (p *CmdProvider) Close() error {
	return nil
}
