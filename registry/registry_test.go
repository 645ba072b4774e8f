package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hatlonely/secidx/build"
	"github.com/hatlonely/secidx/cfg/storage"
	"github.com/hatlonely/secidx/errs"
	"github.com/hatlonely/secidx/field"
	"github.com/hatlonely/secidx/index"
	"github.com/hatlonely/secidx/ref"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func newIndex(name string, fields ...string) *index.Index {
	idx := &index.Index{Database: "db", Table: "users", Name: name, CreatedAt: time.Now()}
	for _, f := range fields {
		idx.Fields = append(idx.Fields, index.IndexField{Name: f, Type: field.TypeText})
	}
	return idx
}

func testRegistry(r Registry) {
	ctx := context.Background()

	Convey("创建和查询索引", func() {
		So(r.CreateIndex(ctx, newIndex("email", "email")), ShouldBeNil)
		So(r.CreateIndex(ctx, newIndex("name_age", "name", "age")), ShouldBeNil)

		idx, err := r.GetIndex(ctx, "db", "users", "name_age")
		So(err, ShouldBeNil)
		So(idx.FieldNames(), ShouldResemble, []string{"name", "age"})
		So(idx.Active, ShouldBeFalse)

		indexes, err := r.ListIndexes(ctx, "db", "users")
		So(err, ShouldBeNil)
		So(indexes, ShouldHaveLength, 2)
		So(indexes[0].Name, ShouldEqual, "email")
		So(indexes[1].Name, ShouldEqual, "name_age")
		So(indexes[0].Fields[0].Type, ShouldEqual, field.TypeText)

		generation, err := r.Generation(ctx, "db", "users")
		So(err, ShouldBeNil)
		So(generation, ShouldEqual, 2)

		indexes, err = r.ListIndexes(ctx, "db", "orders")
		So(err, ShouldBeNil)
		So(indexes, ShouldBeEmpty)
		generation, err = r.Generation(ctx, "db", "orders")
		So(err, ShouldBeNil)
		So(generation, ShouldEqual, 0)
	})

	Convey("列出所有表的索引", func() {
		So(r.CreateIndex(ctx, newIndex("name", "name")), ShouldBeNil)
		orders := newIndex("amount", "amount")
		orders.Table = "orders"
		So(r.CreateIndex(ctx, orders), ShouldBeNil)
		So(r.CreateIndex(ctx, newIndex("email", "email")), ShouldBeNil)

		indexes, err := r.ListAllIndexes(ctx)
		So(err, ShouldBeNil)
		So(indexes, ShouldHaveLength, 3)
		So(indexes[0].Table, ShouldEqual, "orders")
		So(indexes[1].Name, ShouldEqual, "name")
		So(indexes[2].Name, ShouldEqual, "email")
	})

	Convey("重名创建", func() {
		So(r.CreateIndex(ctx, newIndex("email", "email")), ShouldBeNil)
		err := r.CreateIndex(ctx, newIndex("email", "other"))
		So(errors.Is(err, errs.ErrDuplicate), ShouldBeTrue)
	})

	Convey("非法定义", func() {
		err := r.CreateIndex(ctx, newIndex("empty"))
		So(errors.Is(err, errs.ErrMalformedInput), ShouldBeTrue)
	})

	Convey("不存在的索引", func() {
		_, err := r.GetIndex(ctx, "db", "users", "missing")
		So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
		_, err = r.ActivateIndex(ctx, "db", "users", "missing", time.Now())
		So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
		So(errors.Is(r.DeleteIndex(ctx, "db", "users", "missing"), errs.ErrNotFound), ShouldBeTrue)
		_, err = r.GetStatus(ctx, "db", "users", "missing")
		So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
	})

	Convey("激活只增加一次版本", func() {
		So(r.CreateIndex(ctx, newIndex("email", "email")), ShouldBeNil)
		idx, err := r.ActivateIndex(ctx, "db", "users", "email", time.Now())
		So(err, ShouldBeNil)
		So(idx.Active, ShouldBeTrue)
		_, err = r.ActivateIndex(ctx, "db", "users", "email", time.Now())
		So(err, ShouldBeNil)

		generation, err := r.Generation(ctx, "db", "users")
		So(err, ShouldBeNil)
		So(generation, ShouldEqual, 2)

		idx, err = r.GetIndex(ctx, "db", "users", "email")
		So(err, ShouldBeNil)
		So(idx.Active, ShouldBeTrue)
	})

	Convey("构建进度", func() {
		idx := newIndex("email", "email")
		So(r.CreateIndex(ctx, idx), ShouldBeNil)

		status := build.NewIndexBuildStatus(uuid.Must(uuid.NewUUID()), idx, 10, time.Now())
		So(r.SaveStatus(ctx, status), ShouldBeNil)
		next := *status
		next.RecordsCompleted = 5
		next.Warnings = []string{"document 3 has no email"}
		So(r.SaveStatus(ctx, &next), ShouldBeNil)

		got, err := r.GetStatus(ctx, "db", "users", "email")
		So(err, ShouldBeNil)
		So(got.ID, ShouldEqual, status.ID)
		So(got.RecordsCompleted, ShouldEqual, 5)
		So(got.Warnings, ShouldResemble, []string{"document 3 has no email"})

		Convey("删除索引同时删除进度", func() {
			So(r.DeleteIndex(ctx, "db", "users", "email"), ShouldBeNil)
			_, err := r.GetStatus(ctx, "db", "users", "email")
			So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
			_, err = r.GetIndex(ctx, "db", "users", "email")
			So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)

			generation, err := r.Generation(ctx, "db", "users")
			So(err, ShouldBeNil)
			So(generation, ShouldEqual, 2)

			So(errors.Is(r.SaveStatus(ctx, status), errs.ErrNotFound), ShouldBeTrue)
		})
	})

	Convey("返回副本", func() {
		So(r.CreateIndex(ctx, newIndex("email", "email")), ShouldBeNil)
		idx, err := r.GetIndex(ctx, "db", "users", "email")
		So(err, ShouldBeNil)
		idx.Fields[0].Name = "changed"
		idx, err = r.GetIndex(ctx, "db", "users", "email")
		So(err, ShouldBeNil)
		So(idx.Fields[0].Name, ShouldEqual, "email")
	})
}

func TestMemoryRegistry(t *testing.T) {
	Convey("MemoryRegistry", t, func() {
		r := NewMemoryRegistryWithOptions(nil)
		defer r.Close()
		testRegistry(r)
	})
}

func TestGormRegistry(t *testing.T) {
	Convey("GormRegistry", t, func() {
		r, err := NewGormRegistryWithOptions(&GormRegistryOptions{
			Driver: "sqlite",
			DSN:    filepath.Join(t.TempDir(), "registry.db"),
		})
		So(err, ShouldBeNil)
		defer r.Close()
		testRegistry(r)
	})

	Convey("不支持的驱动", t, func() {
		_, err := NewGormRegistryWithOptions(&GormRegistryOptions{Driver: "postgres", DSN: "x"})
		So(err, ShouldNotBeNil)
		_, err = NewGormRegistryWithOptions(&GormRegistryOptions{})
		So(err, ShouldNotBeNil)
	})
}

func TestNewRegistryWithOptions(t *testing.T) {
	Convey("NewRegistryWithOptions", t, func() {
		r, err := NewRegistryWithOptions(nil)
		So(err, ShouldBeNil)
		_, ok := r.(*MemoryRegistry)
		So(ok, ShouldBeTrue)

		r, err = NewRegistryWithOptions(&ref.TypeOptions{
			Type:    "GormRegistry",
			Options: storage.NewMapStorage(map[string]any{"dsn": filepath.Join(t.TempDir(), "r.db")}),
		})
		So(err, ShouldBeNil)
		_, ok = r.(*GormRegistry)
		So(ok, ShouldBeTrue)
		So(r.Close(), ShouldBeNil)

		_, err = NewRegistryWithOptions(&ref.TypeOptions{Type: "Etcd"})
		So(err, ShouldNotBeNil)
	})
}
