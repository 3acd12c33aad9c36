package tuple

import (
	"fmt"

	"github.com/lnsp/tuplestore/buffer"
)

// Value is the set of Go types that map onto a field kind.
// uintptr maps onto Pointer.
type Value interface {
	int8 | uint8 | int16 | uint16 | int32 | uint32 | int64 | uint64 | float32 | float64 | uintptr
}

// KindOf returns the field kind that stores values of type T.
func KindOf[T Value]() Kind {
	var zero T
	switch any(zero).(type) {
	case int8:
		return Int8
	case uint8:
		return UInt8
	case int16:
		return Int16
	case uint16:
		return UInt16
	case int32:
		return Int32
	case uint32:
		return UInt32
	case int64:
		return Int64
	case uint64:
		return UInt64
	case float32:
		return Float32
	case float64:
		return Float64
	default:
		return Pointer
	}
}

func load[T Value](b *buffer.Buffer, off int) T {
	var x T
	switch p := any(&x).(type) {
	case *int8:
		*p = b.Int8(off)
	case *uint8:
		*p = b.Uint8(off)
	case *int16:
		*p = b.Int16(off)
	case *uint16:
		*p = b.Uint16(off)
	case *int32:
		*p = b.Int32(off)
	case *uint32:
		*p = b.Uint32(off)
	case *int64:
		*p = b.Int64(off)
	case *uint64:
		*p = b.Uint64(off)
	case *float32:
		*p = b.Float32(off)
	case *float64:
		*p = b.Float64(off)
	case *uintptr:
		*p = b.Pointer(off)
	}
	return x
}

func store[T Value](b *buffer.Buffer, off int, x T) {
	switch v := any(x).(type) {
	case int8:
		b.PutInt8(off, v)
	case uint8:
		b.PutUint8(off, v)
	case int16:
		b.PutInt16(off, v)
	case uint16:
		b.PutUint16(off, v)
	case int32:
		b.PutInt32(off, v)
	case uint32:
		b.PutUint32(off, v)
	case int64:
		b.PutInt64(off, v)
	case uint64:
		b.PutUint64(off, v)
	case float32:
		b.PutFloat32(off, v)
	case float64:
		b.PutFloat64(off, v)
	case uintptr:
		b.PutPointer(off, v)
	}
}

// Get returns the scalar value of field i.
// The field kind must match T exactly.
func Get[T Value](t *Tuple, i int) T {
	f := t.field(i, ScalarTag(KindOf[T]()))
	t.mu.Lock()
	defer t.mu.Unlock()
	return load[T](t.buf, f.Offset)
}

// Put stores the scalar value of field i.
func Put[T Value](t *Tuple, i int, x T) {
	f := t.field(i, ScalarTag(KindOf[T]()))
	t.mu.Lock()
	store(t.buf, f.Offset, x)
	t.mu.Unlock()
}

// GetArray returns a copy of all elements of the array field i.
func GetArray[T Value](t *Tuple, i int) []T {
	f := t.field(i, ArrayTag(KindOf[T]()))
	size := f.ElemSize()
	values := make([]T, f.ArrayLen)
	t.mu.Lock()
	defer t.mu.Unlock()
	for j := range values {
		values[j] = load[T](t.buf, f.Offset+j*size)
	}
	return values
}

// PutArray stores all elements of the array field i.
// len(values) must equal the field's array length.
func PutArray[T Value](t *Tuple, i int, values []T) {
	f := t.field(i, ArrayTag(KindOf[T]()))
	if len(values) != f.ArrayLen {
		panic(&AccessError{Field: i, Name: f.Name, Reason: fmt.Sprintf("array of %d elements, expected %d", len(values), f.ArrayLen)})
	}
	size := f.ElemSize()
	t.mu.Lock()
	defer t.mu.Unlock()
	for j, x := range values {
		store(t.buf, f.Offset+j*size, x)
	}
}

// GetAt returns element j of the array field i.
func GetAt[T Value](t *Tuple, i, j int) T {
	f := t.field(i, ArrayTag(KindOf[T]()))
	off := f.element(i, j)
	t.mu.Lock()
	defer t.mu.Unlock()
	return load[T](t.buf, off)
}

// PutAt stores element j of the array field i.
func PutAt[T Value](t *Tuple, i, j int, x T) {
	f := t.field(i, ArrayTag(KindOf[T]()))
	off := f.element(i, j)
	t.mu.Lock()
	store(t.buf, off, x)
	t.mu.Unlock()
}
