package listview

import (
	"cmp"
	"reflect"
	"strings"
	"time"
)

// compareValues orders two field values naturally: numbers numerically,
// strings lexicographically, false before true, times chronologically. Nil
// sorts first. Values of different kinds fall back to their string forms.
func compareValues(a, b any) int {
	a, b = deref(a), deref(b)
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}

	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	ka, kb := numKind(ra.Kind()), numKind(rb.Kind())
	switch {
	case ka == kindInt && kb == kindInt:
		return cmp.Compare(ra.Int(), rb.Int())
	case ka == kindUint && kb == kindUint:
		return cmp.Compare(ra.Uint(), rb.Uint())
	case ka != kindNone && kb != kindNone:
		return cmp.Compare(toFloat(ra, ka), toFloat(rb, kb))
	}

	if ra.Kind() == reflect.String && rb.Kind() == reflect.String {
		return strings.Compare(ra.String(), rb.String())
	}
	if ra.Kind() == reflect.Bool && rb.Kind() == reflect.Bool {
		x, y := ra.Bool(), rb.Bool()
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	}
	return strings.Compare(stringOf(a), stringOf(b))
}

type numClass int

const (
	kindNone numClass = iota
	kindInt
	kindUint
	kindFloat
)

func numKind(k reflect.Kind) numClass {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return kindInt
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return kindUint
	case reflect.Float32, reflect.Float64:
		return kindFloat
	default:
		return kindNone
	}
}

func toFloat(v reflect.Value, k numClass) float64 {
	switch k {
	case kindInt:
		return float64(v.Int())
	case kindUint:
		return float64(v.Uint())
	default:
		return v.Float()
	}
}

func deref(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	return rv.Interface()
}
