package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hatlonely/secidx/cfg"
	"github.com/hatlonely/secidx/colstore"
	"github.com/hatlonely/secidx/errs"
	"github.com/hatlonely/secidx/field"
	"github.com/hatlonely/secidx/index"
	"github.com/hatlonely/secidx/log"
	"github.com/hatlonely/secidx/log/logger"
	"github.com/hatlonely/secidx/service"
	"github.com/pkg/errors"
)

// idKey ndjson 中作为文档 ID 的字段
const idKey = "_id"

type FieldOptions struct {
	Name string `cfg:"name" validate:"required"`
	Type string `cfg:"type" validate:"required"`
}

type IndexOptions struct {
	Database string         `cfg:"database" validate:"required"`
	Table    string         `cfg:"table" validate:"required"`
	Name     string         `cfg:"name" validate:"required"`
	Unique   bool           `cfg:"unique"`
	Fields   []FieldOptions `cfg:"fields"`
}

type Options struct {
	// 配置文件只能通过命令行参数指定
	Config string `cfg:"config" def:"secidx.yaml" help:"配置文件，支持 json/yaml/toml/ini"`

	Database string `cfg:"database" help:"数据库名"`
	Table    string `cfg:"table" help:"表名"`
	Input    string `cfg:"input" help:"要写入的 ndjson 文档，- 表示标准输入"`
	Query    string `cfg:"query" help:"过滤表达式，例如 email = 'a@x.com'"`
	Limit    int    `cfg:"limit" validate:"min=0" help:"最多返回的文档数，0 表示不限制"`
	Explain  bool   `cfg:"explain" help:"输出查询计划而不是文档"`

	Service service.Options `cfg:"service"`
	Indexes []IndexOptions  `cfg:"indexes"`

	// 等待回填完成的最长时间
	BuildTimeout time.Duration `cfg:"buildTimeout" def:"5m"`
}

func (o *IndexOptions) index() (*index.Index, error) {
	idx := &index.Index{Database: o.Database, Table: o.Table, Name: o.Name, Unique: o.Unique}
	for _, f := range o.Fields {
		t, err := field.ParseType(f.Type)
		if err != nil {
			return nil, errors.WithMessagef(err, "index %s field %s", o.Name, f.Name)
		}
		idx.Fields = append(idx.Fields, index.IndexField{Name: f.Name, Type: t})
	}
	return idx, nil
}

const envPrefix = "SECIDX_"

func main() {
	args := os.Args[1:]
	if wantsHelp(args) {
		fmt.Print(cfg.GenerateHelp(&Options{}, envPrefix, ""))
		return
	}

	if err := run(context.Background(), args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "secidx: %v\n", err)
		os.Exit(1)
	}
}

func wantsHelp(args []string) bool {
	for _, arg := range args {
		if arg == "-h" || arg == "--help" || arg == "-help" {
			return true
		}
	}
	return false
}

// configPath 配置文件需要在加载配置之前确定
func configPath(args []string) string {
	for i, arg := range args {
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			return v
		}
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return "secidx.yaml"
}

// run 配置文件中的值依次被 SECIDX_ 开头的环境变量和命令行参数覆盖
// 例如 --service-buckets-text=1024 覆盖 service.buckets.text
func run(ctx context.Context, args []string, out io.Writer) error {
	config, err := cfg.NewConfigWithArgs(configPath(args), envPrefix, args)
	if err != nil {
		return errors.WithMessage(err, "load config failed")
	}
	defer config.Close()

	var options Options
	if err := config.ConvertTo(&options); err != nil {
		return err
	}

	l, err := log.NewLoggerWithOptions(options.Service.Logger)
	if err != nil {
		return err
	}
	l = l.WithGroup("secidx")

	s, err := service.NewServiceWithOptions(&options.Service)
	if err != nil {
		return errors.WithMessage(err, "create service failed")
	}
	defer s.Close()

	if err := createIndexes(ctx, s, l, options.Indexes, options.BuildTimeout); err != nil {
		return err
	}

	database, table := options.Database, options.Table
	if options.Input != "" {
		if database == "" || table == "" {
			return errors.New("--database and --table are required to load documents")
		}
		n, err := load(ctx, s, database, table, options.Input)
		if err != nil {
			return err
		}
		l.InfoContext(ctx, "documents loaded", "table", database+"."+table, "count", n)
	}

	if options.Query == "" {
		return nil
	}
	if database == "" || table == "" {
		return errors.New("--database and --table are required to query")
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if options.Explain {
		e, err := s.Explain(ctx, database, table, options.Query)
		if err != nil {
			return err
		}
		return encoder.Encode(e)
	}
	docs, err := s.Query(ctx, database, table, options.Query, options.Limit)
	if err != nil {
		return err
	}
	if docs == nil {
		docs = []*colstore.Document{}
	}
	return encoder.Encode(docs)
}

// createIndexes 创建配置中的索引并等待回填完成，已存在的索引跳过
func createIndexes(ctx context.Context, s *service.Service, l logger.Logger, indexes []IndexOptions, timeout time.Duration) error {
	var created []*index.Index
	for i := range indexes {
		idx, err := indexes[i].index()
		if err != nil {
			return err
		}
		if _, err := s.CreateIndex(ctx, idx); err != nil {
			if errors.Is(err, errs.ErrDuplicate) {
				l.InfoContext(ctx, "index exists", "index", idx.PhysicalTable())
				continue
			}
			return errors.WithMessagef(err, "create index %s failed", idx.PhysicalTable())
		}
		created = append(created, idx)
	}

	deadline := time.Now().Add(timeout)
	for _, idx := range created {
		for {
			status, err := s.GetBuildStatus(ctx, idx.Database, idx.Table, idx.Name)
			if err != nil {
				return err
			}
			if status.FatalError != "" {
				return errors.WithMessagef(errs.ErrBuildFailed, "index %s: %s", idx.PhysicalTable(), status.FatalError)
			}
			if status.IsDoneIndexing() {
				l.InfoContext(ctx, "index ready", "index", idx.PhysicalTable(), "records", status.RecordsCompleted, "warnings", len(status.Warnings))
				break
			}
			if time.Now().After(deadline) {
				return errors.Errorf("index %s not ready after %s, %.1f%% complete", idx.PhysicalTable(), timeout, status.PercentComplete)
			}
			time.Sleep(50 * time.Millisecond)
		}
	}
	return nil
}

// load 按行读取 JSON 对象写入表中，_id 字段作为文档 ID
func load(ctx context.Context, s *service.Service, database, table, input string) (int, error) {
	var r io.Reader = os.Stdin
	if input != "-" {
		fp, err := os.Open(input)
		if err != nil {
			return 0, errors.Wrapf(err, "os.Open failed. filename: %s", input)
		}
		defer fp.Close()
		r = fp
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	n := 0
	for line := 1; scanner.Scan(); line++ {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		decoder := json.NewDecoder(bytes.NewReader(raw))
		decoder.UseNumber()
		var fields map[string]any
		if err := decoder.Decode(&fields); err != nil {
			return n, errors.Wrapf(err, "decode line %d failed", line)
		}

		for k, v := range fields {
			fields[k] = number(v)
		}
		doc := &colstore.Document{Fields: fields}
		if id, ok := fields[idKey].(string); ok {
			doc.ID = id
			delete(fields, idKey)
		}
		if _, err := s.InsertDocument(ctx, database, table, doc); err != nil {
			return n, errors.WithMessagef(err, "insert line %d failed", line)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, errors.Wrap(err, "read input failed")
	}
	return n, nil
}

// number 整数保留为 int64，避免大整数经过 float64 丢失精度
func number(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
