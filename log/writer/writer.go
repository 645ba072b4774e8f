package writer

import (
	"fmt"
	"io"

	"github.com/hatlonely/secidx/ref"
)

// Writer 日志输出器接口
type Writer interface {
	io.Writer
	io.Closer
}

const Namespace = "github.com/hatlonely/secidx/log/writer"

func init() {
	ref.MustRegister(Namespace, "ConsoleWriter", NewConsoleWriterWithOptions)
	ref.MustRegister(Namespace, "FileWriter", NewFileWriterWithOptions)
	ref.MustRegister(Namespace, "MultiWriter", NewMultiWriterWithOptions)
}

// NewWriterWithOptions 通过 ref 创建输出器
func NewWriterWithOptions(options *ref.TypeOptions) (Writer, error) {
	obj, err := ref.NewWithOptions(options)
	if err != nil {
		return nil, err
	}
	w, ok := obj.(Writer)
	if !ok {
		return nil, fmt.Errorf("%T does not implement Writer interface", obj)
	}
	return w, nil
}
