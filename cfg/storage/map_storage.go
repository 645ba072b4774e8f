package storage

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/hatlonely/secidx/ref"
)

var (
	durationType    = reflect.TypeOf(time.Duration(0))
	timeType        = reflect.TypeOf(time.Time{})
	typeOptionsType = reflect.TypeOf(ref.TypeOptions{})
)

// MapStorage 基于 map 和 slice 的存储实现
type MapStorage struct {
	data any
}

func NewMapStorage(data any) *MapStorage {
	return &MapStorage{data: data}
}

// Data 获取存储的原始数据
func (ms *MapStorage) Data() any {
	return ms.data
}

func (ms *MapStorage) Sub(key string) Storage {
	if key == "" {
		return ms
	}

	current := ms.data
	for _, k := range parseKey(key) {
		current = getValueByKey(current, k)
		if current == nil {
			break
		}
	}
	return NewMapStorage(current)
}

func (ms *MapStorage) ConvertTo(object any) error {
	rv := reflect.ValueOf(object)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("object must be a non-nil pointer, got %T", object)
	}
	if err := convertValue(ms.data, rv.Elem()); err != nil {
		return err
	}
	return applyDefaults(rv.Elem())
}

// Merge 用 other 中的值覆盖当前数据，返回新的存储对象，原数据不变
func (ms *MapStorage) Merge(other *MapStorage) *MapStorage {
	if other == nil {
		return ms
	}
	return NewMapStorage(mergeValue(ms.data, other.data))
}

func mergeValue(dst, src any) any {
	srcMap, ok := src.(map[string]any)
	if !ok {
		if src == nil {
			return dst
		}
		return src
	}
	dstMap, ok := dst.(map[string]any)
	if !ok {
		return src
	}

	result := make(map[string]any, len(dstMap)+len(srcMap))
	for k, v := range dstMap {
		result[k] = v
	}
	for k, v := range srcMap {
		// 键名大小写不敏感，覆盖已有的同名键
		existing := k
		for dk := range dstMap {
			if strings.EqualFold(dk, k) {
				existing = dk
				break
			}
		}
		result[existing] = mergeValue(result[existing], v)
	}
	return result
}

// parseKey 解析 key 字符串，支持点号和数组索引
func parseKey(key string) []string {
	var keys []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			keys = append(keys, current.String())
			current.Reset()
		}
	}

	inBracket := false
	for _, char := range key {
		switch {
		case char == '.' && !inBracket:
			flush()
		case char == '[':
			flush()
			inBracket = true
		case char == ']' && inBracket:
			flush()
			inBracket = false
		default:
			current.WriteRune(char)
		}
	}
	flush()

	return keys
}

func getValueByKey(data any, key string) any {
	switch v := data.(type) {
	case map[string]any:
		if value, ok := v[key]; ok {
			return value
		}
		for k, value := range v {
			if strings.EqualFold(k, key) {
				return value
			}
		}
		return nil
	case map[any]any:
		for k, value := range v {
			if strings.EqualFold(fmt.Sprint(k), key) {
				return value
			}
		}
		return nil
	case []any:
		index, err := strconv.Atoi(key)
		if err != nil || index < 0 || index >= len(v) {
			return nil
		}
		return v[index]
	}
	return nil
}

// fieldName 获取结构体字段对应的配置 key，优先 cfg tag，其次 json/yaml tag
func fieldName(field reflect.StructField) string {
	for _, tagName := range []string{"cfg", "json", "yaml"} {
		if tag := field.Tag.Get(tagName); tag != "" {
			name := strings.Split(tag, ",")[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
	}
	return field.Name
}

func convertValue(src any, dst reflect.Value) error {
	if src == nil {
		return nil
	}

	if dst.Kind() == reflect.Ptr {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		return convertValue(src, dst.Elem())
	}

	srcValue := reflect.ValueOf(src)
	if srcValue.Type().AssignableTo(dst.Type()) && dst.Kind() != reflect.Interface {
		dst.Set(srcValue)
		return nil
	}

	switch dst.Type() {
	case durationType:
		return convertToDuration(src, dst)
	case timeType:
		return convertToTime(src, dst)
	case typeOptionsType:
		return convertToTypeOptions(src, dst)
	}

	switch dst.Kind() {
	case reflect.Interface:
		// 非具体类型保留为子存储，由使用方再转换
		if _, ok := src.(map[string]any); ok && dst.Type().NumMethod() == 0 {
			dst.Set(reflect.ValueOf(NewMapStorage(src)))
			return nil
		}
		if srcValue.Type().AssignableTo(dst.Type()) {
			dst.Set(srcValue)
			return nil
		}
	case reflect.Map:
		return convertToMap(srcValue, dst)
	case reflect.Slice:
		return convertToSlice(srcValue, dst)
	case reflect.Struct:
		return convertToStruct(srcValue, dst)
	case reflect.String:
		dst.SetString(fmt.Sprint(src))
		return nil
	case reflect.Bool:
		if s, ok := src.(string); ok {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return fmt.Errorf("invalid bool value %q", s)
			}
			dst.SetBool(b)
			return nil
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		if s, ok := src.(string); ok {
			return convertNumberString(s, dst)
		}
	}

	if srcValue.Type().ConvertibleTo(dst.Type()) && isNumeric(srcValue.Kind()) == isNumeric(dst.Kind()) {
		dst.Set(srcValue.Convert(dst.Type()))
		return nil
	}

	return fmt.Errorf("cannot convert %v to %v", srcValue.Type(), dst.Type())
}

func isNumeric(kind reflect.Kind) bool {
	return kind >= reflect.Int && kind <= reflect.Float64
}

func convertNumberString(s string, dst reflect.Value) error {
	s = strings.TrimSpace(s)
	switch dst.Kind() {
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, dst.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid float value %q", s)
		}
		dst.SetFloat(f)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(s, 0, dst.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid uint value %q", s)
		}
		dst.SetUint(u)
	default:
		i, err := strconv.ParseInt(s, 0, dst.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid int value %q", s)
		}
		dst.SetInt(i)
	}
	return nil
}

func convertToDuration(src any, dst reflect.Value) error {
	switch v := src.(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("failed to parse duration %q: %v", v, err)
		}
		dst.Set(reflect.ValueOf(d))
		return nil
	case int:
		dst.SetInt(int64(v))
		return nil
	case int64:
		dst.SetInt(v)
		return nil
	case float64:
		// 浮点数视为秒
		dst.SetInt(int64(v * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("cannot convert %T to time.Duration", src)
}

func convertToTime(src any, dst reflect.Value) error {
	switch v := src.(type) {
	case time.Time:
		dst.Set(reflect.ValueOf(v))
		return nil
	case string:
		for _, format := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(format, v); err == nil {
				dst.Set(reflect.ValueOf(t))
				return nil
			}
		}
		return fmt.Errorf("failed to parse time %q", v)
	case int:
		dst.Set(reflect.ValueOf(time.Unix(int64(v), 0)))
		return nil
	case int64:
		dst.Set(reflect.ValueOf(time.Unix(v, 0)))
		return nil
	}
	return fmt.Errorf("cannot convert %T to time.Time", src)
}

// convertToTypeOptions Options 字段保留为 Storage，在 ref 构造时转换成具体的参数类型
func convertToTypeOptions(src any, dst reflect.Value) error {
	m, ok := src.(map[string]any)
	if !ok {
		return fmt.Errorf("type options must be a map, got %T", src)
	}

	options := ref.TypeOptions{}
	if v := getValueByKey(m, "namespace"); v != nil {
		options.Namespace = fmt.Sprint(v)
	}
	if v := getValueByKey(m, "type"); v != nil {
		options.Type = fmt.Sprint(v)
	}
	if v := getValueByKey(m, "options"); v != nil {
		options.Options = NewMapStorage(v)
	}
	dst.Set(reflect.ValueOf(options))
	return nil
}

func convertToMap(src, dst reflect.Value) error {
	if src.Kind() != reflect.Map {
		return fmt.Errorf("source is not a map")
	}
	if dst.IsNil() {
		dst.Set(reflect.MakeMap(dst.Type()))
	}

	keyType := dst.Type().Key()
	for _, key := range src.MapKeys() {
		dstValue := reflect.New(dst.Type().Elem()).Elem()
		if err := convertValue(src.MapIndex(key).Interface(), dstValue); err != nil {
			return fmt.Errorf("key %v: %w", key.Interface(), err)
		}

		dstKey := reflect.New(keyType).Elem()
		if err := convertValue(fmt.Sprint(key.Interface()), dstKey); err != nil {
			return err
		}
		dst.SetMapIndex(dstKey, dstValue)
	}
	return nil
}

func convertToSlice(src, dst reflect.Value) error {
	if src.Kind() == reflect.String && dst.Type().Elem().Kind() == reflect.String {
		// 逗号分隔的字符串列表，环境变量中常用
		parts := strings.Split(src.String(), ",")
		slice := reflect.MakeSlice(dst.Type(), len(parts), len(parts))
		for i, part := range parts {
			slice.Index(i).SetString(strings.TrimSpace(part))
		}
		dst.Set(slice)
		return nil
	}
	if src.Kind() != reflect.Slice && src.Kind() != reflect.Array {
		return fmt.Errorf("source is not a slice or array")
	}

	length := src.Len()
	slice := reflect.MakeSlice(dst.Type(), length, length)
	for i := 0; i < length; i++ {
		if err := convertValue(src.Index(i).Interface(), slice.Index(i)); err != nil {
			return fmt.Errorf("index %d: %w", i, err)
		}
	}
	dst.Set(slice)
	return nil
}

func convertToStruct(src, dst reflect.Value) error {
	if src.Kind() != reflect.Map {
		return fmt.Errorf("source is not a map")
	}
	m := make(map[string]any, src.Len())
	for _, key := range src.MapKeys() {
		m[fmt.Sprint(key.Interface())] = src.MapIndex(key).Interface()
	}

	dstType := dst.Type()
	for i := 0; i < dstType.NumField(); i++ {
		field := dstType.Field(i)
		fieldValue := dst.Field(i)
		if !fieldValue.CanSet() {
			continue
		}

		name := fieldName(field)
		if name == "" {
			continue
		}

		value := getValueByKey(m, name)
		if value == nil {
			continue
		}
		if err := convertValue(value, fieldValue); err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
	}
	return nil
}
