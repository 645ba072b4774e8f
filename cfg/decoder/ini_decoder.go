package decoder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hatlonely/secidx/cfg/storage"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// IniDecoderOptions INI 解码选项
type IniDecoderOptions struct {
	// 允许无值的布尔键
	AllowBoolKeys bool `cfg:"allowBoolKeys"`
	// 允许重复键，重复键会生成数组
	AllowShadows bool `cfg:"allowShadows"`
}

// IniDecoder INI 格式解码器
// section 名中的点号表示嵌套，例如 [bucket.counts]
type IniDecoder struct {
	options IniDecoderOptions
}

func NewIniDecoderWithOptions(options *IniDecoderOptions) *IniDecoder {
	if options == nil {
		options = &IniDecoderOptions{AllowBoolKeys: true, AllowShadows: true}
	}
	return &IniDecoder{options: *options}
}

func (d *IniDecoder) Decode(data []byte) (storage.Storage, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		AllowBooleanKeys:         d.options.AllowBoolKeys,
		AllowShadows:             d.options.AllowShadows,
		SpaceBeforeInlineComment: true,
	}, data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode INI")
	}

	result := make(map[string]any)
	for _, section := range file.Sections() {
		target := result
		if name := section.Name(); name != ini.DefaultSection {
			for _, part := range strings.Split(name, ".") {
				child, ok := target[part].(map[string]any)
				if !ok {
					child = make(map[string]any)
					target[part] = child
				}
				target = child
			}
		}
		for _, key := range section.Keys() {
			target[key.Name()] = d.parseValue(key)
		}
	}

	return storage.NewMapStorage(result), nil
}

func (d *IniDecoder) parseValue(key *ini.Key) any {
	if d.options.AllowShadows {
		if shadows := key.ValueWithShadows(); len(shadows) > 1 {
			values := make([]any, len(shadows))
			for i, s := range shadows {
				values[i] = parseScalar(s)
			}
			return values
		}
	}
	return parseScalar(key.String())
}

// parseScalar 尝试把字符串解析成 bool/int/float
func parseScalar(s string) any {
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return b
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
