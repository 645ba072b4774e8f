package errs

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// 错误分类，调用方通过 errors.Is 判断
var (
	// ErrMalformedInput 字段值无法转换为声明类型，或者过滤表达式语法错误
	ErrMalformedInput = errors.New("malformed input")
	// ErrContractViolation 调用方传入了 nil 类型或 nil 值等违反调用约定的参数
	ErrContractViolation = errors.New("contract violation")
	// ErrFieldNotIndexed 没有索引可以服务该过滤条件
	ErrFieldNotIndexed = errors.New("field not indexed")
	// ErrBuildFailed 索引构建进入致命错误状态
	ErrBuildFailed = errors.New("index build failed")
	// ErrDuplicate 重名创建或唯一索引冲突
	ErrDuplicate = errors.New("duplicate")
	// ErrNotFound 查找的对象不存在
	ErrNotFound = errors.New("not found")
)

// MalformedError 携带原始值的格式错误
type MalformedError struct {
	Value  string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed input %q: %s", e.Value, e.Reason)
}

func (e *MalformedError) Unwrap() error {
	return ErrMalformedInput
}

// Malformed 构造格式错误
func Malformed(value string, format string, args ...any) error {
	return &MalformedError{Value: value, Reason: fmt.Sprintf(format, args...)}
}

// Contract 构造调用约定错误
func Contract(format string, args ...any) error {
	return errors.WithMessagef(ErrContractViolation, format, args...)
}

// NotIndexedError 列出没有被任何可用索引覆盖的字段
type NotIndexedError struct {
	Database string
	Table    string
	Fields   []string
}

func (e *NotIndexedError) Error() string {
	return fmt.Sprintf("field not indexed: table %s.%s has no index for [%s]", e.Database, e.Table, strings.Join(e.Fields, ", "))
}

func (e *NotIndexedError) Unwrap() error {
	return ErrFieldNotIndexed
}

// Duplicate 构造重复错误
func Duplicate(format string, args ...any) error {
	return errors.WithMessagef(ErrDuplicate, format, args...)
}

// NotFound 构造不存在错误
func NotFound(format string, args ...any) error {
	return errors.WithMessagef(ErrNotFound, format, args...)
}
