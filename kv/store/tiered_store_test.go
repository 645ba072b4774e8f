package store

import (
	"context"
	"testing"
	"time"

	"github.com/hatlonely/secidx/cfg/storage"
	"github.com/hatlonely/secidx/ref"
	. "github.com/smartystreets/goconvey/convey"
)

func newTestTiers(n int) []Store[string, string] {
	tiers := make([]Store[string, string], n)
	for i := range tiers {
		tiers[i] = NewSyncMapStoreWithOptions[string, string](nil)
	}
	return tiers
}

func TestNewTieredStoreWithOptions(t *testing.T) {
	Convey("NewTieredStoreWithOptions", t, func() {
		Convey("从配置数据创建两层存储", func() {
			options := &ref.TypeOptions{
				Type: "TieredStore",
				Options: storage.NewMapStorage(map[string]any{
					"tiers": []any{
						map[string]any{"type": "LRUStore", "options": map[string]any{"size": 100}},
						map[string]any{"type": "SyncMapStore"},
					},
					"promote": true,
				}),
			}
			s, err := NewStoreWithOptions[string, string](options)
			So(err, ShouldBeNil)
			defer s.Close()

			ts, ok := s.(*TieredStore[string, string])
			So(ok, ShouldBeTrue)
			So(ts.writePolicy, ShouldEqual, WriteThrough)
			So(ts.Tier(0), ShouldHaveSameTypeAs, &LRUStore[string, string]{})
			So(ts.Tier(1), ShouldHaveSameTypeAs, &SyncMapStore[string, string]{})
			So(ts.Tier(2), ShouldBeNil)
		})

		Convey("没有层", func() {
			_, err := NewTieredStoreWithOptions[string, string](&TieredStoreOptions{})
			So(err, ShouldNotBeNil)
		})

		Convey("非法写策略", func() {
			_, err := NewTieredStore(newTestTiers(2), "writeAround", false)
			So(err, ShouldNotBeNil)
		})

		Convey("某一层创建失败", func() {
			_, err := NewTieredStoreWithOptions[string, string](&TieredStoreOptions{
				Tiers: []*ref.TypeOptions{{Type: "SyncMapStore"}, {Type: "UnknownStore"}},
			})
			So(err, ShouldNotBeNil)
		})
	})
}

func TestTieredStore(t *testing.T) {
	ctx := context.Background()

	Convey("TieredStore", t, func() {
		Convey("基础语义", func() {
			ts, err := NewTieredStore(newTestTiers(2), WriteThrough, false)
			So(err, ShouldBeNil)
			testStoreBasics(ts)
		})

		Convey("writeThrough 同步写入所有层", func() {
			tiers := newTestTiers(3)
			ts, _ := NewTieredStore(tiers, WriteThrough, false)
			So(ts.Set(ctx, "k", "v"), ShouldBeNil)
			for _, tier := range tiers {
				val, err := tier.Get(ctx, "k")
				So(err, ShouldBeNil)
				So(val, ShouldEqual, "v")
			}
		})

		Convey("writeBack 异步写入下层", func() {
			tiers := newTestTiers(2)
			ts, _ := NewTieredStore(tiers, WriteBack, false)
			So(ts.Set(ctx, "k", "v"), ShouldBeNil)
			val, err := tiers[0].Get(ctx, "k")
			So(err, ShouldBeNil)
			So(val, ShouldEqual, "v")

			deadline := time.Now().Add(time.Second)
			for time.Now().Before(deadline) {
				if _, err = tiers[1].Get(ctx, "k"); err == nil {
					break
				}
				time.Sleep(5 * time.Millisecond)
			}
			So(err, ShouldBeNil)
		})

		Convey("下层命中后回填上层", func() {
			tiers := newTestTiers(3)
			ts, _ := NewTieredStore(tiers, WriteThrough, true)
			So(tiers[2].Set(ctx, "k", "v"), ShouldBeNil)

			val, err := ts.Get(ctx, "k")
			So(err, ShouldBeNil)
			So(val, ShouldEqual, "v")
			for _, tier := range tiers[:2] {
				val, err := tier.Get(ctx, "k")
				So(err, ShouldBeNil)
				So(val, ShouldEqual, "v")
			}
		})

		Convey("关闭回填时上层保持不变", func() {
			tiers := newTestTiers(2)
			ts, _ := NewTieredStore(tiers, WriteThrough, false)
			So(tiers[1].Set(ctx, "k", "v"), ShouldBeNil)
			_, err := ts.Get(ctx, "k")
			So(err, ShouldBeNil)
			_, err = tiers[0].Get(ctx, "k")
			So(err, ShouldEqual, ErrKeyNotFound)
		})

		Convey("条件写只由第一层判断", func() {
			tiers := newTestTiers(2)
			ts, _ := NewTieredStore(tiers, WriteThrough, false)
			So(tiers[1].Set(ctx, "k", "old"), ShouldBeNil)
			So(ts.Set(ctx, "k", "new", WithIfNotExist()), ShouldBeNil)
			val, _ := tiers[1].Get(ctx, "k")
			So(val, ShouldEqual, "new")
			So(ts.Set(ctx, "k", "again", WithIfNotExist()), ShouldEqual, ErrConditionFailed)
		})

		Convey("删除所有层", func() {
			tiers := newTestTiers(2)
			ts, _ := NewTieredStore(tiers, WriteThrough, false)
			So(ts.Set(ctx, "k", "v"), ShouldBeNil)
			So(ts.Del(ctx, "k"), ShouldBeNil)
			for _, tier := range tiers {
				_, err := tier.Get(ctx, "k")
				So(err, ShouldEqual, ErrKeyNotFound)
			}
		})
	})
}
