package index

import (
	"testing"

	"github.com/hatlonely/secidx/errs"
	"github.com/hatlonely/secidx/field"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func newIndex(name string, fields ...string) *Index {
	idx := &Index{Database: "db", Table: "users", Name: name, Active: true}
	for _, f := range fields {
		idx.Fields = append(idx.Fields, IndexField{Name: f, Type: field.TypeText})
	}
	return idx
}

func TestSelect(t *testing.T) {
	Convey("Select", t, func() {
		Convey("完全匹配优先于覆盖匹配", func() {
			ab, a := newIndex("ab", "a", "b"), newIndex("a", "a")
			idx, err := Select([]*Index{ab, a}, []string{"a"})
			So(err, ShouldBeNil)
			So(idx.Name, ShouldEqual, "a")
		})

		Convey("主字段在过滤条件中时使用覆盖索引", func() {
			idx, err := Select([]*Index{newIndex("ab", "a", "b")}, []string{"a"})
			So(err, ShouldBeNil)
			So(idx.Name, ShouldEqual, "ab")
		})

		Convey("主字段不在过滤条件中时不能使用", func() {
			_, err := Select([]*Index{newIndex("ba", "b", "a")}, []string{"a"})
			So(errors.Is(err, errs.ErrFieldNotIndexed), ShouldBeTrue)
			var nie *errs.NotIndexedError
			So(errors.As(err, &nie), ShouldBeTrue)
			So(nie.Fields, ShouldResemble, []string{"a"})
		})

		Convey("字段集合无序比较，重复字段只算一次", func() {
			idx, err := Select([]*Index{newIndex("abc", "a", "b", "c"), newIndex("ba", "b", "a")}, []string{"a", "b", "a"})
			So(err, ShouldBeNil)
			So(idx.Name, ShouldEqual, "ba")
		})

		Convey("多个覆盖索引按定义顺序选择", func() {
			idx, err := Select([]*Index{newIndex("abc", "a", "b", "c"), newIndex("abd", "a", "b", "d")}, []string{"a", "b"})
			So(err, ShouldBeNil)
			So(idx.Name, ShouldEqual, "abc")
		})

		Convey("列出没有索引的字段", func() {
			_, err := Select([]*Index{newIndex("a", "a")}, []string{"a", "x", "y"})
			var nie *errs.NotIndexedError
			So(errors.As(err, &nie), ShouldBeTrue)
			So(nie.Fields, ShouldResemble, []string{"x", "y"})
		})

		Convey("每个字段都有索引但没有索引能同时服务", func() {
			_, err := Select([]*Index{newIndex("a", "a"), newIndex("b", "b")}, []string{"a", "b"})
			var nie *errs.NotIndexedError
			So(errors.As(err, &nie), ShouldBeTrue)
			So(nie.Fields, ShouldResemble, []string{"a", "b"})
		})

		Convey("没有索引", func() {
			_, err := Select(nil, []string{"a"})
			So(errors.Is(err, errs.ErrFieldNotIndexed), ShouldBeTrue)
		})
	})
}

func TestIndex(t *testing.T) {
	Convey("Index", t, func() {
		Convey("索引表名小写", func() {
			idx := &Index{Database: "DB", Table: "Users", Name: "Email_Idx"}
			So(idx.PhysicalTable(), ShouldEqual, "db_users_email_idx")
			So(PhysicalTableName("db", "users", "email"), ShouldEqual, "db_users_email")
		})

		Convey("校验", func() {
			So(newIndex("a", "a").Validate(), ShouldBeNil)
			So(errors.Is(newIndex("empty").Validate(), errs.ErrMalformedInput), ShouldBeTrue)
			So(errors.Is(newIndex("dup", "a", "a").Validate(), errs.ErrMalformedInput), ShouldBeTrue)
			So(errors.Is((&Index{Name: "x", Fields: []IndexField{{Name: "a", Type: field.TypeText}}}).Validate(), errs.ErrMalformedInput), ShouldBeTrue)

			unset := newIndex("u", "a")
			unset.Fields[0].Type = field.TypeUnset
			So(errors.Is(unset.Validate(), errs.ErrMalformedInput), ShouldBeTrue)

			bad := newIndex("has space", "a")
			So(bad.Validate(), ShouldNotBeNil)
		})

		Convey("Clone 不共享字段列表", func() {
			idx := newIndex("ab", "a", "b")
			c := idx.Clone()
			c.Fields[0].Name = "z"
			So(idx.Fields[0].Name, ShouldEqual, "a")
			So(idx.Primary().Name, ShouldEqual, "a")
			So(idx.FieldNames(), ShouldResemble, []string{"a", "b"})

			typ, ok := idx.FieldType("b")
			So(ok, ShouldBeTrue)
			So(typ, ShouldEqual, field.TypeText)
			_, ok = idx.FieldType("c")
			So(ok, ShouldBeFalse)
		})
	})
}
