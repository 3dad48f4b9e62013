// Package store is the content-addressed JSON artifact store spec.md §4.1
// and §6 require: flat per-kind directories, one file per id, and a
// mandatory infinity-safe codec (+Inf <-> "Infinity", -Inf <-> "-Infinity",
// NaN <-> null) so that CSATerms' float64 threshold fields round-trip
// exactly. No library in the pack offers arbitrary-struct Inf/NaN JSON
// round-tripping, so this codec is built directly on reflect + encoding/json
// (see DESIGN.md) rather than on encoding/json's Marshal alone, which
// errors on an Inf/NaN float64 rather than encoding it.
package store

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

const (
	infinityString    = "Infinity"
	negInfinityString = "-Infinity"
)

// encodeInfinity walks an arbitrary Go value (struct, map, slice, pointer,
// or scalar) and produces a JSON-marshalable tree (map[string]interface{},
// []interface{}, string, float64, bool, nil) in which every +Inf/-Inf
// float becomes the sentinel string and every NaN becomes nil, per the
// spec.md §4.1 infinity codec contract.
func encodeInfinity(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	return encodeValue(reflect.ValueOf(v))
}

func encodeValue(v reflect.Value) interface{} {
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return nil
		}
		return encodeValue(v.Elem())
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return encodeValue(v.Elem())
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		switch {
		case math.IsInf(f, 1):
			return infinityString
		case math.IsInf(f, -1):
			return negInfinityString
		case math.IsNaN(f):
			return nil
		default:
			return f
		}
	case reflect.Struct:
		t := v.Type()
		out := make(map[string]interface{}, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if field.PkgPath != "" { // unexported
				continue
			}
			name, omitempty, skip := jsonFieldName(field)
			if skip {
				continue
			}
			fv := v.Field(i)
			if omitempty && isEmptyValue(fv) {
				continue
			}
			out[name] = encodeValue(fv)
		}
		return out
	case reflect.Map:
		out := make(map[string]interface{}, v.Len())
		for _, k := range v.MapKeys() {
			out[fmt.Sprint(k.Interface())] = encodeValue(v.MapIndex(k))
		}
		return out
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return nil
		}
		out := make([]interface{}, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = encodeValue(v.Index(i))
		}
		return out
	default:
		if !v.IsValid() {
			return nil
		}
		return v.Interface()
	}
}

func jsonFieldName(field reflect.StructField) (name string, omitempty, skip bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	name = field.Name
	if parts[0] != "" {
		name = parts[0]
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitempty = true
		}
	}
	return name, omitempty, false
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Ptr:
		return v.IsNil()
	}
	return false
}

// decodeInto populates dst (must be a non-nil pointer) from raw, a generic
// tree as produced by encoding/json.Unmarshal into interface{}, restoring
// infinity sentinels into float fields along the way.
func decodeInto(dst interface{}, raw interface{}) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return fmt.Errorf("store: decodeInto destination must be a non-nil pointer")
	}
	return decodeValue(v.Elem(), raw)
}

func decodeValue(dst reflect.Value, raw interface{}) error {
	if raw == nil {
		if dst.Kind() == reflect.Float32 || dst.Kind() == reflect.Float64 {
			dst.SetFloat(math.NaN())
		}
		return nil
	}

	switch dst.Kind() {
	case reflect.Ptr:
		elem := reflect.New(dst.Type().Elem())
		if err := decodeValue(elem.Elem(), raw); err != nil {
			return err
		}
		dst.Set(elem)
		return nil

	case reflect.Interface:
		dst.Set(reflect.ValueOf(raw))
		return nil

	case reflect.Float32, reflect.Float64:
		switch r := raw.(type) {
		case string:
			switch r {
			case infinityString:
				dst.SetFloat(math.Inf(1))
			case negInfinityString:
				dst.SetFloat(math.Inf(-1))
			default:
				f, err := strconv.ParseFloat(r, 64)
				if err != nil {
					return fmt.Errorf("store: cannot decode %q into float: %w", r, err)
				}
				dst.SetFloat(f)
			}
		case float64:
			dst.SetFloat(r)
		default:
			return fmt.Errorf("store: cannot decode %T into float field", raw)
		}
		return nil

	case reflect.String:
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("store: cannot decode %T into string field", raw)
		}
		dst.SetString(s)
		return nil

	case reflect.Bool:
		b, ok := raw.(bool)
		if !ok {
			return fmt.Errorf("store: cannot decode %T into bool field", raw)
		}
		dst.SetBool(b)
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f, ok := raw.(float64)
		if !ok {
			return fmt.Errorf("store: cannot decode %T into int field", raw)
		}
		dst.SetInt(int64(f))
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f, ok := raw.(float64)
		if !ok {
			return fmt.Errorf("store: cannot decode %T into uint field", raw)
		}
		dst.SetUint(uint64(f))
		return nil

	case reflect.Struct:
		m, ok := raw.(map[string]interface{})
		if !ok {
			return fmt.Errorf("store: cannot decode %T into struct %s", raw, dst.Type())
		}
		t := dst.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if field.PkgPath != "" {
				continue
			}
			name, _, skip := jsonFieldName(field)
			if skip {
				continue
			}
			rv, present := m[name]
			if !present {
				continue
			}
			if err := decodeValue(dst.Field(i), rv); err != nil {
				return fmt.Errorf("store: field %s: %w", field.Name, err)
			}
		}
		return nil

	case reflect.Map:
		m, ok := raw.(map[string]interface{})
		if !ok {
			return fmt.Errorf("store: cannot decode %T into map", raw)
		}
		out := reflect.MakeMapWithSize(dst.Type(), len(m))
		for k, rv := range m {
			elem := reflect.New(dst.Type().Elem()).Elem()
			if err := decodeValue(elem, rv); err != nil {
				return err
			}
			out.SetMapIndex(reflect.ValueOf(k), elem)
		}
		dst.Set(out)
		return nil

	case reflect.Slice:
		arr, ok := raw.([]interface{})
		if !ok {
			return fmt.Errorf("store: cannot decode %T into slice", raw)
		}
		out := reflect.MakeSlice(dst.Type(), len(arr), len(arr))
		for i, rv := range arr {
			if err := decodeValue(out.Index(i), rv); err != nil {
				return err
			}
		}
		dst.Set(out)
		return nil

	default:
		rv := reflect.ValueOf(raw)
		if rv.Type().AssignableTo(dst.Type()) {
			dst.Set(rv)
			return nil
		}
		return fmt.Errorf("store: cannot decode %T into %s", raw, dst.Type())
	}
}
