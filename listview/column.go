package listview

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Column describes one column of a list view.
//
// A column reads its value through Value when set, otherwise through the
// record field named by Key (Go field name or json tag; map key for
// map[string]V records). Only columns with a value are searched and sorted;
// a column with just Render is display-only.
type Column[T any] struct {
	Key      string
	Title    string
	Sortable bool
	Value    func(T) any
	Render   func(T) string
	Width    int
}

// compiled is a Column with its accessor resolved.
type compiled[T any] struct {
	Column[T]
	get func(T) (any, bool)
}

func (c compiled[T]) searchable() bool { return c.get != nil }

func compile[T any](col Column[T]) (compiled[T], error) {
	out := compiled[T]{Column: col}
	if col.Key == "" {
		return out, fmt.Errorf("listview: column %q has no key", col.Title)
	}
	if col.Value != nil {
		v := col.Value
		out.get = func(r T) (any, bool) { return v(r), true }
		return out, nil
	}
	if get := fieldAccessor[T](col.Key); get != nil {
		out.get = get
		return out, nil
	}
	if col.Render == nil {
		return out, fmt.Errorf("listview: column %q maps to no field and has no renderer", col.Key)
	}
	if col.Sortable {
		return out, fmt.Errorf("listview: column %q is sortable but maps to no field", col.Key)
	}
	return out, nil
}

// fieldAccessor resolves key against T's direct fields. Embedded and
// unexported fields are not considered.
func fieldAccessor[T any](key string) func(T) (any, bool) {
	rt := reflect.TypeOf((*T)(nil)).Elem()
	ptr := false
	if rt.Kind() == reflect.Pointer {
		rt, ptr = rt.Elem(), true
	}

	switch rt.Kind() {
	case reflect.Map:
		if rt.Key().Kind() != reflect.String {
			return nil
		}
		mk := reflect.ValueOf(key).Convert(rt.Key())
		return func(r T) (any, bool) {
			rv := reflect.ValueOf(r)
			if ptr {
				if rv.IsNil() {
					return nil, false
				}
				rv = rv.Elem()
			}
			v := rv.MapIndex(mk)
			if !v.IsValid() {
				return nil, false
			}
			return v.Interface(), true
		}
	case reflect.Struct:
		idx := -1
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			if !f.IsExported() || f.Anonymous {
				continue
			}
			if f.Name == key || jsonName(f) == key {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil
		}
		return func(r T) (any, bool) {
			rv := reflect.ValueOf(r)
			if ptr {
				if rv.IsNil() {
					return nil, false
				}
				rv = rv.Elem()
			}
			return rv.Field(idx).Interface(), true
		}
	default:
		return nil
	}
}

func jsonName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" || tag == "-" {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	return name
}

// stringOf is the searchable and default display form of a value. Nil and
// nil pointers render empty.
func stringOf(v any) string {
	if v == nil {
		return ""
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return ""
		}
		rv = rv.Elem()
	}
	switch x := rv.Interface().(type) {
	case string:
		return x
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
