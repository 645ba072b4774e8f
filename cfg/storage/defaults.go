package storage

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// SetDefaults 为结构体设置默认值，基于 def tag，只覆盖零值字段
func SetDefaults(object any) error {
	rv := reflect.ValueOf(object)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("object must be a non-nil pointer")
	}
	return applyDefaults(rv.Elem())
}

func applyDefaults(rv reflect.Value) error {
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		return applyDefaults(rv.Elem())
	case reflect.Slice:
		for i := 0; i < rv.Len(); i++ {
			if err := applyDefaults(rv.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Struct:
	default:
		return nil
	}

	if rv.Type() == timeType || rv.Type() == typeOptionsType {
		return nil
	}

	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		fieldValue := rv.Field(i)
		if !fieldValue.CanSet() {
			continue
		}

		defTag, hasDef := field.Tag.Lookup("def")
		if hasDef && fieldValue.IsZero() {
			target := fieldValue
			if target.Kind() == reflect.Ptr {
				target.Set(reflect.New(target.Type().Elem()))
				target = target.Elem()
			}
			if err := setDefaultValue(target, defTag); err != nil {
				return fmt.Errorf("failed to set default value for field %s: %v", field.Name, err)
			}
			continue
		}

		if err := applyDefaults(fieldValue); err != nil {
			return fmt.Errorf("field %s: %w", field.Name, err)
		}
	}
	return nil
}

func setDefaultValue(rv reflect.Value, defValue string) error {
	if rv.Type() == durationType {
		d, err := time.ParseDuration(defValue)
		if err != nil {
			return fmt.Errorf("invalid duration value %q: %v", defValue, err)
		}
		rv.SetInt(int64(d))
		return nil
	}

	switch rv.Kind() {
	case reflect.String:
		rv.SetString(defValue)
		return nil
	case reflect.Bool:
		val, err := strconv.ParseBool(defValue)
		if err != nil {
			return fmt.Errorf("invalid bool value %q: %v", defValue, err)
		}
		rv.SetBool(val)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return convertNumberString(defValue, rv)
	case reflect.Slice:
		parts := strings.Split(defValue, ",")
		slice := reflect.MakeSlice(rv.Type(), len(parts), len(parts))
		for i, part := range parts {
			if err := setDefaultValue(slice.Index(i), strings.TrimSpace(part)); err != nil {
				return fmt.Errorf("failed to set slice element %d: %v", i, err)
			}
		}
		rv.Set(slice)
		return nil
	case reflect.Struct:
		if rv.Type() == timeType {
			return convertToTime(defValue, rv)
		}
	}
	return fmt.Errorf("unsupported type %v", rv.Type())
}
