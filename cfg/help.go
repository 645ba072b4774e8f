package cfg

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// FieldInfo 一个配置叶子节点的说明
type FieldInfo struct {
	Path         string
	Type         string
	Help         string
	EnvName      string
	CmdName      string
	DefaultValue string
	Required     bool
}

var (
	durationType = reflect.TypeOf(time.Duration(0))
	timeType     = reflect.TypeOf(time.Time{})
)

// GenerateHelp 生成配置帮助信息，列出每个配置项对应的环境变量和命令行参数
//
//	envPrefix 环境变量前缀，如 "SECIDX_"
//	cmdPrefix 命令行参数前缀，如 "secidx-"，为空时参数形如 --backfill-workers
func GenerateHelp(config any, envPrefix, cmdPrefix string) string {
	fields := Fields(config, envPrefix, cmdPrefix)
	if len(fields) == 0 {
		return "未找到配置字段信息\n"
	}

	var sb strings.Builder
	sb.WriteString("配置参数说明：\n\n")
	for _, f := range fields {
		sb.WriteString(formatFieldHelp(f))
	}
	sb.WriteString(`配置优先级 (从低到高):
  1. 配置文件
  2. 环境变量
  3. 命令行参数

命令行参数和环境变量的键名不区分大小写，columnStore 可以写成 --columnstore
`)
	return sb.String()
}

// Fields 提取配置结构体所有的叶子节点，按路径排序
func Fields(config any, envPrefix, cmdPrefix string) []FieldInfo {
	t := reflect.TypeOf(config)
	if t == nil {
		return nil
	}
	fields := walkStruct(t, "", envPrefix, cmdPrefix)
	sort.Slice(fields, func(i, j int) bool {
		return fields[i].Path < fields[j].Path
	})
	return fields
}

func walkStruct(t reflect.Type, prefix, envPrefix, cmdPrefix string) []FieldInfo {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}

	var fields []FieldInfo
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := configName(sf)
		if name == "-" {
			continue
		}
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		fields = append(fields, walkField(sf, sf.Type, path, envPrefix, cmdPrefix)...)
	}
	return fields
}

func walkField(sf reflect.StructField, t reflect.Type, path, envPrefix, cmdPrefix string) []FieldInfo {
	switch t.Kind() {
	case reflect.Ptr:
		return walkField(sf, t.Elem(), path, envPrefix, cmdPrefix)
	case reflect.Struct:
		if t == timeType {
			break
		}
		return walkStruct(t, path, envPrefix, cmdPrefix)
	case reflect.Slice:
		if elem := indirect(t.Elem()); elem.Kind() == reflect.Struct && elem != timeType {
			return walkStruct(elem, path+"[N]", envPrefix, cmdPrefix)
		}
	case reflect.Map:
		if elem := indirect(t.Elem()); elem.Kind() == reflect.Struct && elem != timeType {
			return walkStruct(elem, path+".{KEY}", envPrefix, cmdPrefix)
		}
	}
	return []FieldInfo{leaf(sf, path, envPrefix, cmdPrefix)}
}

func indirect(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// configName 优先使用 cfg tag，其次 json 和 yaml tag
func configName(sf reflect.StructField) string {
	for _, tag := range []string{"cfg", "json", "yaml"} {
		if v, ok := sf.Tag.Lookup(tag); ok {
			if name, _, _ := strings.Cut(v, ","); name != "" {
				return name
			}
		}
	}
	return sf.Name
}

func leaf(sf reflect.StructField, path, envPrefix, cmdPrefix string) FieldInfo {
	help := sf.Tag.Get("help")
	if help == "" {
		help = typeName(sf.Type) + " 类型的配置项"
	}
	return FieldInfo{
		Path:         path,
		Type:         typeName(sf.Type),
		Help:         help,
		EnvName:      EnvName(path, envPrefix),
		CmdName:      CmdName(path, cmdPrefix),
		DefaultValue: sf.Tag.Get("def"),
		Required:     strings.Contains(sf.Tag.Get("validate"), "required"),
	}
}

// EnvName backfill.progressInterval -> SECIDX_BACKFILL_PROGRESSINTERVAL
func EnvName(path, prefix string) string {
	path = strings.ReplaceAll(path, "[N]", ".N")
	return prefix + strings.ToUpper(strings.ReplaceAll(path, ".", "_"))
}

// CmdName backfill.progressInterval -> --backfill-progressinterval
func CmdName(path, prefix string) string {
	path = strings.ReplaceAll(path, "[N]", ".N")
	return "--" + prefix + strings.ToLower(strings.ReplaceAll(path, ".", "-"))
}

func typeName(t reflect.Type) string {
	switch t {
	case durationType:
		return "time.Duration"
	case timeType:
		return "time.Time"
	}
	switch t.Kind() {
	case reflect.Ptr:
		return "*" + typeName(t.Elem())
	case reflect.Slice:
		return "[]" + typeName(t.Elem())
	case reflect.Map:
		return "map[" + typeName(t.Key()) + "]" + typeName(t.Elem())
	case reflect.Interface:
		if t.NumMethod() == 0 {
			return "any"
		}
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

func formatFieldHelp(f FieldInfo) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "  %s (%s)", f.Path, f.Type)
	if f.Required {
		sb.WriteString(" [必填]")
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "    说明: %s\n", f.Help)
	if f.DefaultValue != "" {
		fmt.Fprintf(&sb, "    默认值: %s\n", f.DefaultValue)
	}
	fmt.Fprintf(&sb, "    环境变量: %s\n", f.EnvName)
	fmt.Fprintf(&sb, "    命令行参数: %s\n\n", f.CmdName)
	return sb.String()
}
