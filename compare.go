package rop

import (
	"bytes"
	"reflect"
	"time"
)

// Equaler lets a custom field type define its own semantic equality. Types
// stored in entity fields can implement this instead of supplying a per-field
// comparer in the mapping.
type Equaler interface {
	Equal(other any) bool
}

// ValuesEqual reports whether two field values are semantically equal. It is
// the default comparison used by change detection: time instants compare with
// time.Time.Equal so equal moments in different zones do not register as
// changes, byte slices compare by content, UUIDs by value. Everything else
// falls back to ==, or to a deep comparison when the dynamic type is not
// comparable. A field mapping can override this per field with Comparer.
func ValuesEqual(x, y any) bool {
	if x == nil || y == nil {
		return x == nil && y == nil
	}
	switch xv := x.(type) {
	case time.Time:
		yv, ok := y.(time.Time)
		return ok && xv.Equal(yv)
	case *time.Time:
		yv, ok := y.(*time.Time)
		if !ok {
			return false
		}
		if xv == nil || yv == nil {
			return xv == yv
		}
		return xv.Equal(*yv)
	case []byte:
		yv, ok := y.([]byte)
		return ok && bytes.Equal(xv, yv)
	case UUID:
		yv, ok := y.(UUID)
		return ok && xv.Compare(yv) == 0
	}
	if xe, ok := x.(Equaler); ok {
		return xe.Equal(y)
	}
	if reflect.TypeOf(x) != reflect.TypeOf(y) {
		return false
	}
	if !reflect.TypeOf(x).Comparable() {
		return reflect.DeepEqual(x, y)
	}
	return x == y
}
