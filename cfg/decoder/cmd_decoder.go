package decoder

import (
	"github.com/hatlonely/secidx/cfg/storage"
)

type CmdDecoderOptions struct {
	// 层级分隔符，backfill-workers 对应 backfill.workers
	Separator string `cfg:"separator" def:"-"`
}

// CmdDecoder 解码 CmdProvider 输出的 key=value 行，键名统一转小写
type CmdDecoder struct {
	env *EnvDecoder
}

func NewCmdDecoderWithOptions(options *CmdDecoderOptions) *CmdDecoder {
	separator := "-"
	if options != nil && options.Separator != "" {
		separator = options.Separator
	}
	return &CmdDecoder{env: NewEnvDecoderWithOptions(&EnvDecoderOptions{Separator: separator})}
}

func (d *CmdDecoder) Decode(data []byte) (storage.Storage, error) {
	return d.env.Decode(data)
}
