package decoder

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/hatlonely/secidx/cfg/storage"
	"github.com/pkg/errors"
)

// EnvDecoderOptions 环境变量解码选项
type EnvDecoderOptions struct {
	// 层级分隔符，BACKFILL_WORKERS 对应 backfill.workers
	Separator string `cfg:"separator" def:"_"`
}

// EnvDecoder 把 KEY=VALUE 行解码为嵌套 map，键名统一转小写
type EnvDecoder struct {
	separator string
}

func NewEnvDecoderWithOptions(options *EnvDecoderOptions) *EnvDecoder {
	separator := "_"
	if options != nil && options.Separator != "" {
		separator = options.Separator
	}
	return &EnvDecoder{separator: separator}
}

func (d *EnvDecoder) Decode(data []byte) (storage.Storage, error) {
	result := make(map[string]any)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		d.set(result, strings.Split(strings.ToLower(key), d.separator), unquote(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to decode env")
	}

	return storage.NewMapStorage(result), nil
}

func (d *EnvDecoder) set(m map[string]any, parts []string, value string) {
	for i, part := range parts {
		if part == "" {
			continue
		}
		if i == len(parts)-1 {
			m[part] = value
			return
		}
		child, ok := m[part].(map[string]any)
		if !ok {
			// 标量和嵌套键冲突时，嵌套键优先
			child = make(map[string]any)
			m[part] = child
		}
		m = child
	}
}

func unquote(value string) string {
	value = strings.TrimSpace(value)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'') {
			return value[1 : len(value)-1]
		}
	}
	return value
}
