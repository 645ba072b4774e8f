package ref

import (
	"fmt"
	"reflect"
	"sync"
)

// TypeOptions 通过命名空间和类型名描述一个可构造的组件
// Options 会原样传给注册的构造函数，实现了 Convertable 的配置会先转换成构造函数的参数类型
type TypeOptions struct {
	Namespace string `cfg:"namespace"`
	Type      string `cfg:"type"`
	Options   any    `cfg:"options"`
}

// Convertable 可以把自身转换成任意结构体的配置数据，cfg 的 Storage 实现了该接口
type Convertable interface {
	ConvertTo(object any) error
}

type constructor struct {
	originalFunc any
	newFunc      reflect.Value
	paramType    reflect.Type
	returnsError bool
}

func newConstructor(newFunc any) (*constructor, error) {
	funcValue := reflect.ValueOf(newFunc)
	if funcValue.Kind() != reflect.Func {
		return nil, fmt.Errorf("newFunc must be a function")
	}

	funcType := funcValue.Type()

	// 参数：0 个或 1 个
	if funcType.NumIn() > 1 {
		return nil, fmt.Errorf("newFunc must have 0 or 1 input parameters, got %d", funcType.NumIn())
	}

	// 返回值：对象，或者对象和 error
	if funcType.NumOut() != 1 && funcType.NumOut() != 2 {
		return nil, fmt.Errorf("newFunc must have 1 or 2 return values, got %d", funcType.NumOut())
	}

	c := &constructor{
		originalFunc: newFunc,
		newFunc:      funcValue,
	}
	if funcType.NumIn() == 1 {
		c.paramType = funcType.In(0)
	}
	if funcType.NumOut() == 2 {
		errorInterface := reflect.TypeOf((*error)(nil)).Elem()
		if !funcType.Out(1).Implements(errorInterface) {
			return nil, fmt.Errorf("second return value must be error type")
		}
		c.returnsError = true
	}

	return c, nil
}

func (c *constructor) new(options any) (any, error) {
	var args []reflect.Value

	if c.paramType != nil {
		arg, err := c.prepareArg(options)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}

	results := c.newFunc.Call(args)
	if c.returnsError && !results[1].IsNil() {
		return nil, results[1].Interface().(error)
	}

	return results[0].Interface(), nil
}

// prepareArg 把 options 转换成构造函数的参数
func (c *constructor) prepareArg(options any) (reflect.Value, error) {
	if options == nil {
		// 指针参数允许传 nil，由构造函数自己处理默认值
		if c.paramType.Kind() == reflect.Ptr || c.paramType.Kind() == reflect.Interface {
			return reflect.Zero(c.paramType), nil
		}
		return reflect.Value{}, fmt.Errorf("constructor requires options of type %v but got nil", c.paramType)
	}

	if convertable, ok := options.(Convertable); ok {
		if c.paramType.Kind() == reflect.Ptr {
			target := reflect.New(c.paramType.Elem())
			if err := convertable.ConvertTo(target.Interface()); err != nil {
				return reflect.Value{}, fmt.Errorf("failed to convert options to %v: %w", c.paramType, err)
			}
			return target, nil
		}
		target := reflect.New(c.paramType)
		if err := convertable.ConvertTo(target.Interface()); err != nil {
			return reflect.Value{}, fmt.Errorf("failed to convert options to %v: %w", c.paramType, err)
		}
		return target.Elem(), nil
	}

	value := reflect.ValueOf(options)
	if !value.Type().AssignableTo(c.paramType) {
		return reflect.Value{}, fmt.Errorf("options type %v is not assignable to %v", value.Type(), c.paramType)
	}
	return value, nil
}

func isSameFunc(func1, func2 any) bool {
	return reflect.ValueOf(func1).Pointer() == reflect.ValueOf(func2).Pointer()
}

// Registry 构造函数注册表
// 泛型组件（例如 Store[K, V]）每种实例化各自使用一个 Registry，避免同名类型互相覆盖
type Registry struct {
	constructors sync.Map
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register 注册构造函数，同一个 key 重复注册同一个函数会被忽略
func (r *Registry) Register(namespace string, type_ string, newFunc any) error {
	key := namespace + ":" + type_

	c, err := newConstructor(newFunc)
	if err != nil {
		return fmt.Errorf("failed to create constructor for %s: %w", key, err)
	}

	existing, loaded := r.constructors.LoadOrStore(key, c)
	if loaded && !isSameFunc(existing.(*constructor).originalFunc, newFunc) {
		return fmt.Errorf("constructor for %s already registered with different function", key)
	}
	return nil
}

func (r *Registry) MustRegister(namespace string, type_ string, newFunc any) {
	if err := r.Register(namespace, type_, newFunc); err != nil {
		panic(err)
	}
}

// New 根据 namespace 和 type 调用已注册的构造函数
func (r *Registry) New(namespace string, type_ string, options any) (any, error) {
	key := namespace + ":" + type_
	value, ok := r.constructors.Load(key)
	if !ok {
		return nil, fmt.Errorf("constructor not found for %s", key)
	}
	return value.(*constructor).new(options)
}

// NewWithOptions 等价于 New(options.Namespace, options.Type, options.Options)
func (r *Registry) NewWithOptions(options *TypeOptions) (any, error) {
	if options == nil {
		return nil, fmt.Errorf("type options cannot be nil")
	}
	return r.New(options.Namespace, options.Type, options.Options)
}

var defaultRegistry = NewRegistry()

func Register(namespace string, type_ string, newFunc any) error {
	return defaultRegistry.Register(namespace, type_, newFunc)
}

// RegisterT 以类型 T 的包路径和类型名作为 namespace 和 type 注册到默认注册表
func RegisterT[T any](newFunc any) error {
	namespace, type_, err := typeKey[T]()
	if err != nil {
		return err
	}
	return defaultRegistry.Register(namespace, type_, newFunc)
}

func MustRegister(namespace string, type_ string, newFunc any) {
	defaultRegistry.MustRegister(namespace, type_, newFunc)
}

func MustRegisterT[T any](newFunc any) {
	if err := RegisterT[T](newFunc); err != nil {
		panic(err)
	}
}

func New(namespace string, type_ string, options any) (any, error) {
	return defaultRegistry.New(namespace, type_, options)
}

func NewWithOptions(options *TypeOptions) (any, error) {
	return defaultRegistry.NewWithOptions(options)
}

// NewT 根据类型 T 在默认注册表中查找构造函数并创建对象
func NewT[T any](options any) (T, error) {
	var zero T
	namespace, type_, err := typeKey[T]()
	if err != nil {
		return zero, err
	}

	obj, err := defaultRegistry.New(namespace, type_, options)
	if err != nil {
		return zero, err
	}

	result, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("created object %T is not of type %T", obj, zero)
	}
	return result, nil
}

func typeKey[T any]() (string, string, error) {
	tType := reflect.TypeOf((*T)(nil)).Elem()
	for tType.Kind() == reflect.Ptr {
		tType = tType.Elem()
	}

	if tType.PkgPath() == "" || tType.Name() == "" {
		return "", "", fmt.Errorf("cannot determine package path or type name for type %v", tType)
	}
	return tType.PkgPath(), tType.Name(), nil
}
