package decoder

import (
	"github.com/BurntSushi/toml"
	"github.com/hatlonely/secidx/cfg/storage"
	"github.com/pkg/errors"
)

// TomlDecoder TOML 格式解码器
type TomlDecoder struct{}

func NewTomlDecoder() *TomlDecoder {
	return &TomlDecoder{}
}

func (d *TomlDecoder) Decode(data []byte) (storage.Storage, error) {
	var result map[string]any
	if err := toml.Unmarshal(data, &result); err != nil {
		return nil, errors.Wrap(err, "failed to decode TOML")
	}
	return storage.NewMapStorage(normalizeToml(result)), nil
}

// TOML 的数组表解码为 []map[string]any，统一成 []any
func normalizeToml(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeToml(item)
		}
		return val
	case []map[string]any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = normalizeToml(item)
		}
		return items
	case []any:
		for i, item := range val {
			val[i] = normalizeToml(item)
		}
		return val
	}
	return v
}
