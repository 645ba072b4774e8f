package writer

import (
	"fmt"

	"github.com/hatlonely/secidx/ref"
)

// MultiWriterOptions 多输出配置
type MultiWriterOptions struct {
	Writers []*ref.TypeOptions `cfg:"writers" validate:"required,min=1"`
}

// MultiWriter 把同一条日志写入所有输出器
type MultiWriter struct {
	writers []Writer
}

func NewMultiWriterWithOptions(options *MultiWriterOptions) (*MultiWriter, error) {
	if options == nil || len(options.Writers) == 0 {
		return nil, fmt.Errorf("at least one writer is required")
	}

	writers := make([]Writer, 0, len(options.Writers))
	for i, writerOptions := range options.Writers {
		w, err := NewWriterWithOptions(writerOptions)
		if err != nil {
			for _, created := range writers {
				created.Close()
			}
			return nil, fmt.Errorf("failed to create writer %d: %w", i, err)
		}
		writers = append(writers, w)
	}

	return &MultiWriter{writers: writers}, nil
}

func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

func (m *MultiWriter) Write(p []byte) (n int, err error) {
	for i, w := range m.writers {
		if _, err := w.Write(p); err != nil {
			return 0, fmt.Errorf("writer %d failed: %w", i, err)
		}
	}
	return len(p), nil
}

// Close 关闭所有输出器，返回第一个错误
func (m *MultiWriter) Close() error {
	var firstErr error
	for _, w := range m.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
