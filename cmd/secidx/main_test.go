package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/hatlonely/secidx/cfg"
	"github.com/hatlonely/secidx/errs"
	"github.com/hatlonely/secidx/field"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexOptions(t *testing.T) {
	o := &IndexOptions{
		Database: "db",
		Table:    "users",
		Name:     "age",
		Fields:   []FieldOptions{{Name: "age", Type: "integer"}, {Name: "name", Type: "Text"}},
	}
	idx, err := o.index()
	require.NoError(t, err)
	assert.Equal(t, "db_users_age", idx.PhysicalTable())
	assert.Equal(t, field.TypeInteger, idx.Fields[0].Type)
	assert.Equal(t, field.TypeText, idx.Fields[1].Type)

	o.Fields = []FieldOptions{{Name: "age", Type: "int128"}}
	_, err = o.index()
	assert.True(t, errors.Is(err, errs.ErrMalformedInput))
}

func TestNumber(t *testing.T) {
	assert.Equal(t, int64(42), number(json.Number("42")))
	assert.Equal(t, 1.5, number(json.Number("1.5")))
	assert.Equal(t, "x", number("x"))
}

func TestConfigPath(t *testing.T) {
	assert.Equal(t, "secidx.yaml", configPath(nil))
	assert.Equal(t, "a.json", configPath([]string{"--query", "x", "--config=a.json"}))
	assert.Equal(t, "b.toml", configPath([]string{"--config", "b.toml"}))
	assert.Equal(t, "secidx.yaml", configPath([]string{"--config"}))
}

func TestWantsHelp(t *testing.T) {
	assert.True(t, wantsHelp([]string{"--query", "x", "-h"}))
	assert.True(t, wantsHelp([]string{"--help"}))
	assert.False(t, wantsHelp([]string{"--query", "x"}))
}

func TestHelp(t *testing.T) {
	help := cfg.GenerateHelp(&Options{}, envPrefix, "")
	assert.Contains(t, help, "  service.buckets.text (int)\n")
	assert.Contains(t, help, "    命令行参数: --service-buckets-text\n")
	assert.Contains(t, help, "    环境变量: SECIDX_SERVICE_BUCKETS_TEXT\n")
	assert.Contains(t, help, "    命令行参数: --query\n")
	assert.Contains(t, help, "  indexes[N].database (string) [必填]\n")
	assert.NotContains(t, help, "registerer")
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	config := filepath.Join(dir, "secidx.json")
	require.NoError(t, os.WriteFile(config, []byte(`{
  "service": {"buckets": {"text": 200}},
  "indexes": [
    {"database": "db", "table": "users", "name": "email", "unique": true, "fields": [{"name": "email", "type": "Text"}]}
  ]
}`), 0644))
	input := filepath.Join(dir, "users.ndjson")
	require.NoError(t, os.WriteFile(input, []byte(`{"_id": "u1", "email": "a@x.com", "age": 20}

{"_id": "u2", "email": "b@x.com", "age": 30}
`), 0644))

	ctx := context.Background()
	args := func(extra ...string) []string {
		return append([]string{"--config=" + config, "--database", "db", "--table", "users", "--input", input}, extra...)
	}

	t.Run("query", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, run(ctx, args("--query", "email = 'a@x.com'"), &out))
		var docs []map[string]any
		require.NoError(t, json.Unmarshal(out.Bytes(), &docs))
		require.Len(t, docs, 1)
		assert.Equal(t, "u1", docs[0]["id"])
	})

	t.Run("args override config", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, run(ctx, args("--query", "email != 'a@x.com'", "--explain", "--service-buckets-text=4"), &out))
		var e map[string]any
		require.NoError(t, json.Unmarshal(out.Bytes(), &e))
		assert.Equal(t, true, e["fullScan"])
		assert.Equal(t, float64(3), e["lastBucket"])
	})

	t.Run("env overrides config", func(t *testing.T) {
		t.Setenv("SECIDX_SERVICE_BUCKETS_TEXT", "8")
		var out bytes.Buffer
		require.NoError(t, run(ctx, args("--query=email != 'a@x.com'", "--explain"), &out))
		var e map[string]any
		require.NoError(t, json.Unmarshal(out.Bytes(), &e))
		assert.Equal(t, float64(7), e["lastBucket"])
	})

	t.Run("limit", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, run(ctx, args("--query", "email != 'c@x.com'", "--limit=1"), &out))
		var docs []map[string]any
		require.NoError(t, json.Unmarshal(out.Bytes(), &docs))
		assert.Len(t, docs, 1)
	})

	t.Run("field not indexed", func(t *testing.T) {
		err := run(ctx, args("--query", "age = 20"), io.Discard)
		assert.True(t, errors.Is(err, errs.ErrFieldNotIndexed))
	})

	t.Run("table is required", func(t *testing.T) {
		err := run(ctx, []string{"--config=" + config, "--input", input}, io.Discard)
		assert.Error(t, err)
	})

	t.Run("negative limit", func(t *testing.T) {
		err := run(ctx, args("--limit=-1"), io.Discard)
		assert.Error(t, err)
	})

	t.Run("missing config", func(t *testing.T) {
		err := run(ctx, []string{"--config", filepath.Join(dir, "missing.json")}, io.Discard)
		assert.Error(t, err)
	})
}
