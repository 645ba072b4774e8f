package cfg

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/require"
)

type appConfig struct {
	Name    string `cfg:"name" def:"secidx"`
	Workers int    `cfg:"workers" def:"2" validate:"min=1,max=64"`
	Logger  struct {
		Level string `cfg:"level" def:"info"`
	} `cfg:"logger"`
}

func writeFile(t *testing.T, name string, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewConfig(t *testing.T) {
	Convey("从文件加载配置", t, func() {
		path := writeFile(t, "app.yaml", "workers: 8\nlogger:\n  level: warn\n")
		c, err := NewConfig(path)
		So(err, ShouldBeNil)
		defer c.Close()

		var app appConfig
		So(c.ConvertTo(&app), ShouldBeNil)
		So(app.Name, ShouldEqual, "secidx")
		So(app.Workers, ShouldEqual, 8)
		So(app.Logger.Level, ShouldEqual, "warn")

		var level string
		So(c.Sub("logger.level").ConvertTo(&level), ShouldBeNil)
		So(level, ShouldEqual, "warn")

		Convey("校验失败", func() {
			path := writeFile(t, "bad.json", `{"workers": 100}`)
			c, err := NewConfig(path)
			So(err, ShouldBeNil)
			So(c.ConvertTo(&appConfig{}), ShouldNotBeNil)
		})
	})

	Convey("参数错误", t, func() {
		_, err := NewConfig("")
		So(err, ShouldNotBeNil)
		_, err = NewConfig("app.xml")
		So(err, ShouldNotBeNil)
		_, err = NewConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		So(err, ShouldNotBeNil)
		_, err = NewConfigWithOptions(nil)
		So(err, ShouldNotBeNil)
	})
}

func TestNewConfigWithPrefix(t *testing.T) {
	t.Setenv("SECIDXTEST_LOGGER_LEVEL", "debug")
	t.Setenv("SECIDXTEST_WORKERS", "16")

	path := writeFile(t, "app.toml", "workers = 8\n[logger]\nlevel = \"warn\"\n")
	c, err := NewConfigWithPrefix(path, "SECIDXTEST_")
	require.NoError(t, err)
	defer c.Close()

	var app appConfig
	require.NoError(t, c.ConvertTo(&app))
	require.Equal(t, 16, app.Workers)
	require.Equal(t, "debug", app.Logger.Level)
}

func TestNewConfigWithArgs(t *testing.T) {
	Convey("命令行参数覆盖环境变量和文件", t, func() {
		t.Setenv("SECIDXTEST_WORKERS", "16")
		t.Setenv("SECIDXTEST_NAME", "fromenv")

		path := writeFile(t, "app.yaml", "workers: 8\nlogger:\n  level: warn\n")
		c, err := NewConfigWithArgs(path, "SECIDXTEST_", []string{"--workers=32", "--logger-level", "error"})
		So(err, ShouldBeNil)
		defer c.Close()

		var app appConfig
		So(c.ConvertTo(&app), ShouldBeNil)
		So(app.Workers, ShouldEqual, 32)
		So(app.Logger.Level, ShouldEqual, "error")
		So(app.Name, ShouldEqual, "fromenv")
	})

	Convey("命令行参数也要通过校验", t, func() {
		path := writeFile(t, "app.yaml", "workers: 8\n")
		c, err := NewConfigWithArgs(path, "", []string{"--workers=100"})
		So(err, ShouldBeNil)
		defer c.Close()

		var app appConfig
		So(c.ConvertTo(&app), ShouldNotBeNil)
	})
}

func TestConfigWatch(t *testing.T) {
	path := writeFile(t, "app.json", `{"workers": 1}`)
	c, err := NewConfig(path)
	require.NoError(t, err)
	defer c.Close()

	var workers atomic.Int64
	c.OnChange(func(c *Config) error {
		var app appConfig
		if err := c.ConvertTo(&app); err != nil {
			return err
		}
		workers.Store(int64(app.Workers))
		return nil
	})
	require.NoError(t, c.Watch())

	require.NoError(t, os.WriteFile(path, []byte(`{"workers": 3}`), 0644))
	require.Eventually(t, func() bool {
		return workers.Load() == 3
	}, 5*time.Second, 20*time.Millisecond)
}
