package bucket

import (
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/hatlonely/secidx/cfg/storage"
	"github.com/hatlonely/secidx/errs"
	"github.com/hatlonely/secidx/field"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	Convey("Generate", t, func() {
		Convey("边界升序且不重复", func() {
			for _, typ := range field.Types {
				boundaries, err := Generate(typ, 100)
				So(err, ShouldBeNil)
				So(len(boundaries), ShouldBeGreaterThan, 0)
				for i := 1; i < len(boundaries); i++ {
					So(boundaries[i-1] < boundaries[i], ShouldBeTrue)
				}
			}
		})

		Convey("重复生成结果完全相同", func() {
			for _, typ := range field.Types {
				a, err := Generate(typ, 37)
				So(err, ShouldBeNil)
				b, err := Generate(typ, 37)
				So(err, ShouldBeNil)
				So(a, ShouldResemble, b)
			}
		})

		Convey("第一个边界是键范围的起点", func() {
			boundaries, _ := Generate(field.TypeDouble, 10)
			So(boundaries[0], ShouldEqual, field.Encode(field.Double(math.Inf(-1))).Key)

			boundaries, _ = Generate(field.TypeInteger, 4)
			So(boundaries, ShouldResemble, []field.Key{0, 1 << 30, 2 << 30, 3 << 30})
		})

		Convey("Boolean 桶数被截断为 2", func() {
			boundaries, err := Generate(field.TypeBoolean, 100)
			So(err, ShouldBeNil)
			So(boundaries, ShouldResemble, []field.Key{0, 1})
		})

		Convey("非法参数", func() {
			_, err := Generate(field.TypeText, 0)
			So(errors.Is(err, errs.ErrContractViolation), ShouldBeTrue)
			_, err = Generate(field.TypeUnset, 10)
			So(errors.Is(err, errs.ErrContractViolation), ShouldBeTrue)
		})
	})
}

func TestNewTable(t *testing.T) {
	Convey("NewTable", t, func() {
		Convey("默认桶数量", func() {
			table, err := NewTable(nil, nil)
			So(err, ShouldBeNil)
			So(table.BucketCount(field.TypeInteger), ShouldEqual, 100)
			So(table.BucketCount(field.TypeText), ShouldEqual, 200)
			So(table.BucketCount(field.TypeTimepoint), ShouldEqual, 500)
			So(table.BucketCount(field.TypeBoolean), ShouldEqual, 2)
			So(table.BucketCount(field.TypeBinary), ShouldEqual, 50)
			So(table.BucketCount(field.TypeUnset), ShouldEqual, 0)
		})

		Convey("从配置读取桶数量", func() {
			options := &Options{}
			So(storage.NewMapStorage(map[string]any{"text": "16", "long": 8}).ConvertTo(options), ShouldBeNil)
			So(options.Integer, ShouldEqual, 100)

			table, err := NewTable(nil, options)
			So(err, ShouldBeNil)
			So(table.BucketCount(field.TypeText), ShouldEqual, 16)
			So(table.BucketCount(field.TypeLong), ShouldEqual, 8)
		})

		Convey("Boundaries 返回副本", func() {
			table, _ := NewTable(nil, &Options{Long: 4})
			b := table.Boundaries(field.TypeLong)
			b[0] = 12345
			So(table.Boundaries(field.TypeLong)[0], ShouldEqual, field.Key(0))
		})
	})
}

func TestGetBucket(t *testing.T) {
	table, err := NewTable(nil, nil)
	require.NoError(t, err)
	locator := NewLocator(table)

	t.Run("bucket ids stay in range", func(t *testing.T) {
		rng := rand.New(rand.NewSource(7))
		values := map[field.Type]func() field.Value{
			field.TypeInteger:   func() field.Value { return field.Integer(int32(rng.Uint32())) },
			field.TypeLong:      func() field.Value { return field.Long(int64(rng.Uint64())) },
			field.TypeDouble:    func() field.Value { return field.Double(rng.NormFloat64() * 1e6) },
			field.TypeBoolean:   func() field.Value { return field.Boolean(rng.Intn(2) == 1) },
			field.TypeText:      func() field.Value { return field.Text(string(rune('a' + rng.Intn(26)))) },
			field.TypeDateTime:  func() field.Value { return field.DateTime(time.UnixMilli(rng.Int63n(1 << 42))) },
			field.TypeTimepoint: func() field.Value { return field.Timepoint(time.UnixMilli(rng.Int63n(1 << 42))) },
		}
		for typ, gen := range values {
			n := int64(table.BucketCount(typ))
			for i := 0; i < 2000; i++ {
				b, err := locator.GetBucket(typ, gen())
				require.NoError(t, err)
				assert.GreaterOrEqual(t, b, int64(0))
				assert.Less(t, b, n)
			}
		}
	})

	t.Run("extremes map to first and last bucket", func(t *testing.T) {
		b, err := locator.GetBucket(field.TypeInteger, field.Integer(math.MinInt32))
		require.NoError(t, err)
		assert.Equal(t, int64(0), b)

		b, err = locator.GetBucket(field.TypeInteger, field.Integer(math.MaxInt32))
		require.NoError(t, err)
		assert.Equal(t, int64(99), b)

		b, err = locator.GetBucket(field.TypeLong, field.Long(math.MaxInt64))
		require.NoError(t, err)
		assert.Equal(t, int64(99), b)

		b, err = locator.GetBucket(field.TypeDouble, field.Double(math.Inf(1)))
		require.NoError(t, err)
		assert.Equal(t, int64(99), b)

		b, err = locator.GetBucket(field.TypeBoolean, field.Boolean(true))
		require.NoError(t, err)
		assert.Equal(t, int64(1), b)
	})

	t.Run("key on a boundary belongs to the bucket starting there", func(t *testing.T) {
		boundaries := table.Boundaries(field.TypeLong)
		for i := 1; i < len(boundaries); i++ {
			b, err := locator.BucketOfKey(field.TypeLong, boundaries[i])
			require.NoError(t, err)
			assert.Equal(t, int64(i), b)

			b, err = locator.BucketOfKey(field.TypeLong, boundaries[i]-1)
			require.NoError(t, err)
			assert.Equal(t, int64(i-1), b)
		}
	})

	t.Run("ordered values never go to an earlier bucket", func(t *testing.T) {
		prev := int64(0)
		for v := int64(math.MinInt32); v <= math.MaxInt32; v += 1 << 24 {
			b, err := locator.GetBucket(field.TypeInteger, field.Integer(v))
			require.NoError(t, err)
			assert.GreaterOrEqual(t, b, prev)
			prev = b
		}
	})

	t.Run("contract violations", func(t *testing.T) {
		_, err := locator.GetBucket(field.TypeUnset, field.Text("a"))
		assert.True(t, errors.Is(err, errs.ErrContractViolation))

		_, err = locator.GetBucket(field.TypeText, nil)
		assert.True(t, errors.Is(err, errs.ErrContractViolation))

		_, err = locator.GetBucket(field.TypeText, field.Text(""))
		assert.True(t, errors.Is(err, errs.ErrContractViolation))

		_, err = locator.GetBucket(field.TypeText, field.Long(1))
		assert.True(t, errors.Is(err, errs.ErrContractViolation))
	})

	t.Run("malformed values", func(t *testing.T) {
		_, err := locator.GetBucket(field.TypeBinary, field.Binary("%%%"))
		assert.True(t, errors.Is(err, errs.ErrMalformedInput))

		_, err = locator.GetBucket(field.TypeDouble, field.Double(math.NaN()))
		assert.True(t, errors.Is(err, errs.ErrMalformedInput))
	})
}

func TestDefault(t *testing.T) {
	Convey("Default", t, func() {
		ResetDefault()
		defer ResetDefault()

		Convey("并发首次访问得到同一个实例", func() {
			var wg sync.WaitGroup
			locators := make([]*Locator, 32)
			for i := range locators {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					locators[i] = Default()
				}(i)
			}
			wg.Wait()
			for _, l := range locators {
				So(l == locators[0], ShouldBeTrue)
				So(l.BucketCount(field.TypeText), ShouldEqual, 200)
			}
		})

		Convey("重置后重新生成", func() {
			first := Default()
			ResetDefault()
			So(Default() != first, ShouldBeTrue)
		})
	})
}
