package build

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/hatlonely/secidx/index"
)

// IndexBuildStatus 索引构建进度的快照，创建后不再修改
// PercentComplete 和 EtaSeconds 由 recompute 根据其他字段计算
type IndexBuildStatus struct {
	ID                  uuid.UUID    `json:"id" msgpack:"id"`
	Index               *index.Index `json:"index" msgpack:"index"`
	DateStarted         time.Time    `json:"dateStarted" msgpack:"dateStarted"`
	StatusLastUpdatedAt time.Time    `json:"statusLastUpdatedAt" msgpack:"statusLastUpdatedAt"`
	TotalRecords        int64        `json:"totalRecords" msgpack:"totalRecords"`
	RecordsCompleted    int64        `json:"recordsCompleted" msgpack:"recordsCompleted"`
	PercentComplete     float64      `json:"percentComplete" msgpack:"percentComplete"`
	EtaSeconds          int64        `json:"etaSeconds" msgpack:"etaSeconds"`
	FatalError          string       `json:"fatalError,omitempty" msgpack:"fatalError"`
	Warnings            []string     `json:"warnings,omitempty" msgpack:"warnings"`
}

// NewIndexBuildStatus 构建开始时的快照，totalRecords 取自开始时的表大小
func NewIndexBuildStatus(id uuid.UUID, idx *index.Index, totalRecords int64, startedAt time.Time) *IndexBuildStatus {
	s := &IndexBuildStatus{
		ID:                  id,
		Index:               idx,
		DateStarted:         startedAt,
		StatusLastUpdatedAt: startedAt,
		TotalRecords:        totalRecords,
	}
	s.recompute()
	return s
}

// IsDoneIndexing 以索引本身是否激活为准
func (s *IndexBuildStatus) IsDoneIndexing() bool {
	return s.Index != nil && s.Index.Active
}

// IsTerminal 索引已激活或者构建失败
func (s *IndexBuildStatus) IsTerminal() bool {
	return s.IsDoneIndexing() || s.FatalError != ""
}

func (s *IndexBuildStatus) Elapsed() time.Duration {
	return s.StatusLastUpdatedAt.Sub(s.DateStarted)
}

func (s *IndexBuildStatus) clone() *IndexBuildStatus {
	c := *s
	if s.Index != nil {
		c.Index = s.Index.Clone()
	}
	c.Warnings = append([]string(nil), s.Warnings...)
	return &c
}

func (s *IndexBuildStatus) recompute() {
	s.PercentComplete = percentComplete(s.TotalRecords, s.RecordsCompleted)
	s.EtaSeconds = etaSeconds(s.TotalRecords, s.RecordsCompleted, s.Elapsed(), s.FatalError != "")
}

func percentComplete(total, completed int64) float64 {
	if total <= 0 {
		return 100
	}
	if completed <= 0 {
		return 0
	}
	return math.Min(100, 100*float64(completed)/float64(total))
}

// etaSeconds 按已观察到的速度线性外推，-1 表示无法估计
func etaSeconds(total, completed int64, elapsed time.Duration, fatal bool) int64 {
	if total <= 0 {
		return 0
	}
	if fatal || elapsed <= 0 || completed <= 0 {
		return -1
	}
	remaining := total - completed
	if remaining <= 0 {
		return 0
	}
	return int64(math.Floor(elapsed.Seconds() * float64(remaining) / float64(completed)))
}
