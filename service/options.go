package service

import (
	"github.com/hatlonely/secidx/backfill"
	"github.com/hatlonely/secidx/bucket"
	"github.com/hatlonely/secidx/field"
	"github.com/hatlonely/secidx/index"
	"github.com/hatlonely/secidx/log/logger"
	"github.com/hatlonely/secidx/ref"
	"github.com/prometheus/client_golang/prometheus"
)

// Options 服务的根配置
type Options struct {
	// 每种类型的桶数量，启动后不再变化
	Buckets bucket.Options `cfg:"buckets"`

	// Timepoint 时间窗口
	Encoder field.EncoderOptions `cfg:"encoder"`

	// 存放源表和索引表的列存储，默认为内存存储
	ColumnStore *ref.TypeOptions `cfg:"columnStore"`

	// 索引定义和构建进度，默认为内存注册表
	Registry *ref.TypeOptions `cfg:"registry"`

	// 构建进度的发布者，默认写日志
	Publisher *ref.TypeOptions `cfg:"publisher"`

	// 文档 ID 生成器，默认为 v4 UUID
	IDGenerator *ref.TypeOptions `cfg:"idGenerator"`

	Planner index.PlannerOptions `cfg:"planner"`

	Backfill backfill.BuilderOptions `cfg:"backfill"`

	// 残余过滤程序缓存的条目数
	ProgramCacheSize int `cfg:"programCacheSize" def:"1024" validate:"min=0"`

	Logger *logger.SLogOptions `cfg:"logger"`

	Registerer prometheus.Registerer `cfg:"-"`
}
