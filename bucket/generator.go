package bucket

import (
	"math"

	"github.com/hatlonely/secidx/errs"
	"github.com/hatlonely/secidx/field"
)

// Generator 按类型的键范围均匀切分桶边界
type Generator struct {
	encoder *field.Encoder
}

func NewGenerator(encoder *field.Encoder) *Generator {
	if encoder == nil {
		encoder = field.DefaultEncoder()
	}
	return &Generator{encoder: encoder}
}

// Generate 使用默认编码器生成桶边界
func Generate(t field.Type, count int) ([]field.Key, error) {
	return NewGenerator(nil).Generate(t, count)
}

// Generate 生成 count 个升序且不重复的边界，第 i 个桶从 boundaries[i] 开始
// 键范围小于 count 时桶数被截断为键范围大小
// 相同的输入总是得到相同的边界，已经写入的数据依赖这一点
func (g *Generator) Generate(t field.Type, count int) ([]field.Key, error) {
	if count <= 0 {
		return nil, errs.Contract("bucket count must be positive, got %d", count)
	}
	lo, hi, err := g.encoder.Domain(t)
	if err != nil {
		return nil, err
	}

	n := uint64(count)
	span := uint64(hi - lo)
	var stride uint64
	if span == math.MaxUint64 {
		// 整个 64 位空间，span+1 会溢出
		stride = span / n
	} else {
		size := span + 1
		if n > size {
			n = size
		}
		stride = size / n
	}

	boundaries := make([]field.Key, n)
	for i := uint64(0); i < n; i++ {
		boundaries[i] = lo + field.Key(i*stride)
	}
	return boundaries, nil
}
