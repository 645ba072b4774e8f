package ref

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

type testOptions struct {
	Name string
	Size int
}

type testObject struct {
	name string
	size int
}

func newTestObject(options *testOptions) (*testObject, error) {
	if options == nil {
		return &testObject{name: "default"}, nil
	}
	if options.Size < 0 {
		return nil, errors.New("negative size")
	}
	return &testObject{name: options.Name, size: options.Size}, nil
}

func newTestObjectNoArgs() *testObject {
	return &testObject{name: "noargs"}
}

type mapConvertable map[string]any

func (m mapConvertable) ConvertTo(object any) error {
	o, ok := object.(*testOptions)
	if !ok {
		return errors.New("unexpected target")
	}
	o.Name, _ = m["name"].(string)
	o.Size, _ = m["size"].(int)
	return nil
}

func TestRegistry(t *testing.T) {
	Convey("TestRegistry", t, func() {
		r := NewRegistry()
		So(r.Register("test", "Object", newTestObject), ShouldBeNil)
		So(r.Register("test", "NoArgs", newTestObjectNoArgs), ShouldBeNil)

		Convey("重复注册同一个函数被忽略", func() {
			So(r.Register("test", "Object", newTestObject), ShouldBeNil)
		})

		Convey("同名注册不同函数返回错误", func() {
			So(r.Register("test", "Object", newTestObjectNoArgs), ShouldNotBeNil)
		})

		Convey("非函数不能注册", func() {
			So(r.Register("test", "Bad", 1), ShouldNotBeNil)
		})

		Convey("使用结构体参数构造", func() {
			obj, err := r.New("test", "Object", &testOptions{Name: "a", Size: 2})
			So(err, ShouldBeNil)
			So(obj.(*testObject).name, ShouldEqual, "a")
			So(obj.(*testObject).size, ShouldEqual, 2)
		})

		Convey("nil 指针参数交给构造函数处理", func() {
			obj, err := r.New("test", "Object", nil)
			So(err, ShouldBeNil)
			So(obj.(*testObject).name, ShouldEqual, "default")
		})

		Convey("Convertable 参数自动转换", func() {
			obj, err := r.NewWithOptions(&TypeOptions{
				Namespace: "test",
				Type:      "Object",
				Options:   mapConvertable{"name": "b", "size": 3},
			})
			So(err, ShouldBeNil)
			So(obj.(*testObject).name, ShouldEqual, "b")
			So(obj.(*testObject).size, ShouldEqual, 3)
		})

		Convey("构造函数返回的错误透传", func() {
			_, err := r.New("test", "Object", &testOptions{Size: -1})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldEqual, "negative size")
		})

		Convey("参数类型不匹配", func() {
			_, err := r.New("test", "Object", "string")
			So(err, ShouldNotBeNil)
		})

		Convey("无参构造函数", func() {
			obj, err := r.New("test", "NoArgs", nil)
			So(err, ShouldBeNil)
			So(obj.(*testObject).name, ShouldEqual, "noargs")
		})

		Convey("未注册的类型", func() {
			_, err := r.New("test", "Missing", nil)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestNewT(t *testing.T) {
	Convey("TestNewT", t, func() {
		So(RegisterT[*testObject](newTestObject), ShouldBeNil)

		obj, err := NewT[*testObject](&testOptions{Name: "t"})
		So(err, ShouldBeNil)
		So(obj.name, ShouldEqual, "t")

		_, err = NewT[int](nil)
		So(err, ShouldNotBeNil)
	})
}
