package tuple

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/lnsp/tuplestore/buffer"
)

// AccessError is raised (as a panic value) when an accessor is called with
// an invalid field or array index, a mismatching type, or an oversized value.
type AccessError struct {
	Field  int
	Name   string
	Reason string
}

func (err *AccessError) Error() string {
	if err.Name != "" {
		return fmt.Sprintf("tuple: field %d (%s): %s", err.Field, err.Name, err.Reason)
	}
	return fmt.Sprintf("tuple: field %d: %s", err.Field, err.Reason)
}

// Tuple is a record of a Schema backed by one contiguous buffer.
// Live values are held in host byte order.
// All methods are safe for concurrent use; calls on one tuple serialize.
type Tuple struct {
	schema *Schema

	// mu protects buf.
	mu  sync.Mutex
	buf *buffer.Buffer
}

// New returns a zero-valued tuple of the given schema.
func New(schema *Schema) *Tuple {
	return &Tuple{
		schema: schema,
		buf:    buffer.New(schema.Size()),
	}
}

// Make builds a schema from specs and returns a zero-valued tuple of it.
func Make(name string, specs ...FieldSpec) (*Tuple, error) {
	schema, err := NewSchema(name, specs...)
	if err != nil {
		return nil, err
	}
	return New(schema), nil
}

// Schema returns the tuple's schema.
func (t *Tuple) Schema() *Schema {
	return t.schema
}

// Len returns the byte length of the tuple buffer.
func (t *Tuple) Len() int {
	return t.schema.Size()
}

// Clone returns an independent copy of the tuple sharing the same schema.
func (t *Tuple) Clone() *Tuple {
	t.mu.Lock()
	defer t.mu.Unlock()
	clone := New(t.schema)
	buffer.SubCopy(clone.buf, t.buf, 0, 0, t.buf.Len())
	return clone
}

// Reset zeroes all field values.
func (t *Tuple) Reset() {
	t.mu.Lock()
	t.buf.Zero(0, t.buf.Len())
	t.mu.Unlock()
}

// Dump returns a hex dump of the live buffer.
func (t *Tuple) Dump() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.Dump()
}

// field validates index i and the expected tag and returns the descriptor.
// mu need not be held.
func (t *Tuple) field(i int, tag Tag) Field {
	if i < 0 || i >= len(t.schema.fields) {
		panic(&AccessError{Field: i, Reason: fmt.Sprintf("field index out of range [0, %d)", len(t.schema.fields))})
	}
	f := t.schema.fields[i]
	if f.Tag != tag {
		panic(&AccessError{Field: i, Name: f.Name, Reason: fmt.Sprintf("field is %v, accessed as %v", f.Tag, tag)})
	}
	return f
}

func (f Field) element(i, j int) int {
	if j < 0 || j >= f.ArrayLen {
		panic(&AccessError{Field: i, Name: f.Name, Reason: fmt.Sprintf("array index %d out of range [0, %d)", j, f.ArrayLen)})
	}
	return f.Offset + j*f.ElemSize()
}

// Text returns the text value of field i.
func (t *Tuple) Text(i int) string {
	f := t.field(i, TagText)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.Text(f.Offset, f.TextLen)
}

// PutText stores s in field i. s must be shorter than the field capacity;
// longer values are rejected, never truncated.
func (t *Tuple) PutText(i int, s string) {
	f := t.field(i, TagText)
	checkText(i, f, s)
	t.mu.Lock()
	t.buf.PutText(f.Offset, s)
	t.mu.Unlock()
}

// TextAt returns element j of the text array field i.
func (t *Tuple) TextAt(i, j int) string {
	f := t.field(i, TagTextArray)
	off := f.element(i, j)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.Text(off, f.TextLen)
}

// PutTextAt stores s as element j of the text array field i.
func (t *Tuple) PutTextAt(i, j int, s string) {
	f := t.field(i, TagTextArray)
	off := f.element(i, j)
	checkText(i, f, s)
	t.mu.Lock()
	t.buf.PutText(off, s)
	t.mu.Unlock()
}

func checkText(i int, f Field, s string) {
	if len(s) >= f.TextLen {
		panic(&AccessError{Field: i, Name: f.Name, Reason: fmt.Sprintf("text of %d bytes does not fit capacity %d", len(s), f.TextLen)})
	}
}

// String renders the tuple as name{field=value, ...}.
// Pointer fields are shown as addresses.
func (t *Tuple) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var sb strings.Builder
	sb.WriteString(t.schema.name)
	sb.WriteByte('{')
	for i, f := range t.schema.fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.Name)
		sb.WriteByte('=')
		if !f.Tag.IsArray() {
			t.formatElement(&sb, f, f.Offset)
			continue
		}
		sb.WriteByte('[')
		for j := 0; j < f.ArrayLen; j++ {
			if j > 0 {
				sb.WriteByte(' ')
			}
			t.formatElement(&sb, f, f.Offset+j*f.ElemSize())
		}
		sb.WriteByte(']')
	}
	sb.WriteByte('}')
	return sb.String()
}

// formatElement writes one element at off. mu must be held.
func (t *Tuple) formatElement(sb *strings.Builder, f Field, off int) {
	if f.Tag.IsText() {
		sb.WriteString(strconv.Quote(t.buf.Text(off, f.TextLen)))
		return
	}
	switch f.Tag.Kind() {
	case Int8:
		sb.WriteString(strconv.FormatInt(int64(t.buf.Int8(off)), 10))
	case UInt8:
		sb.WriteString(strconv.FormatUint(uint64(t.buf.Uint8(off)), 10))
	case Int16:
		sb.WriteString(strconv.FormatInt(int64(t.buf.Int16(off)), 10))
	case UInt16:
		sb.WriteString(strconv.FormatUint(uint64(t.buf.Uint16(off)), 10))
	case Int32:
		sb.WriteString(strconv.FormatInt(int64(t.buf.Int32(off)), 10))
	case UInt32:
		sb.WriteString(strconv.FormatUint(uint64(t.buf.Uint32(off)), 10))
	case Int64:
		sb.WriteString(strconv.FormatInt(t.buf.Int64(off), 10))
	case UInt64:
		sb.WriteString(strconv.FormatUint(t.buf.Uint64(off), 10))
	case Float32:
		sb.WriteString(strconv.FormatFloat(float64(t.buf.Float32(off)), 'g', -1, 32))
	case Float64:
		sb.WriteString(strconv.FormatFloat(t.buf.Float64(off), 'g', -1, 64))
	case Pointer:
		fmt.Fprintf(sb, "%#x", t.buf.Pointer(off))
	}
}
