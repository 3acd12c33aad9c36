package tuple

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidField is returned when a field specification or a decoded field
// descriptor cannot be laid out.
var ErrInvalidField = errors.New("invalid field")

// Field describes one field of a schema.
type Field struct {
	Tag  Tag
	Name string
	// ArrayLen is the number of elements, 1 for scalars and single text values.
	ArrayLen int
	// TextLen is the capacity of one text value including its terminator,
	// 0 for non-text fields.
	TextLen int
	// Offset is the position of the field in the tuple buffer.
	Offset int
}

// ElemSize returns the byte size of one element of the field.
func (f Field) ElemSize() int {
	if f.Tag.IsText() {
		return f.TextLen
	}
	return f.Tag.Kind().Size()
}

// Size returns the number of bytes the field occupies.
func (f Field) Size() int {
	return f.ElemSize() * f.ArrayLen
}

func (f Field) String() string {
	switch {
	case f.Tag.IsText() && f.Tag.IsArray():
		return fmt.Sprintf("%s text(%d)[%d]", f.Name, f.TextLen, f.ArrayLen)
	case f.Tag.IsText():
		return fmt.Sprintf("%s text(%d)", f.Name, f.TextLen)
	case f.Tag.IsArray():
		return fmt.Sprintf("%s %s[%d]", f.Name, f.Tag.Kind(), f.ArrayLen)
	default:
		return fmt.Sprintf("%s %s", f.Name, f.Tag.Kind())
	}
}

// validate checks the descriptor's shape, ignoring its offset.
func (f Field) validate() error {
	if strings.IndexByte(f.Name, 0) >= 0 {
		return fmt.Errorf("%w: name %q contains a zero byte", ErrInvalidField, f.Name)
	}
	if !f.Tag.Valid() {
		return fmt.Errorf("%w: %q has unknown tag %#x", ErrInvalidField, f.Name, uint32(f.Tag))
	}
	if f.ArrayLen < 1 {
		return fmt.Errorf("%w: %q has array length %d", ErrInvalidField, f.Name, f.ArrayLen)
	}
	if !f.Tag.IsArray() && f.ArrayLen != 1 {
		return fmt.Errorf("%w: scalar %q has array length %d", ErrInvalidField, f.Name, f.ArrayLen)
	}
	if f.Tag.IsText() && f.TextLen < 1 {
		return fmt.Errorf("%w: text %q has capacity %d", ErrInvalidField, f.Name, f.TextLen)
	}
	if !f.Tag.IsText() && f.TextLen != 0 {
		return fmt.Errorf("%w: non-text %q has text length %d", ErrInvalidField, f.Name, f.TextLen)
	}
	return nil
}

// FieldSpec is one entry of a schema definition. The implementations are
// ScalarField, TextField, ArrayField and TextArrayField.
type FieldSpec interface {
	field() Field
}

// ScalarField declares a single value of the given kind.
type ScalarField struct {
	Kind Kind
	Name string
}

func (s ScalarField) field() Field {
	return Field{Tag: ScalarTag(s.Kind), Name: s.Name, ArrayLen: 1}
}

// TextField declares a text value of Capacity bytes including the terminator,
// so the longest storable value has Capacity-1 bytes.
type TextField struct {
	Name     string
	Capacity int
}

func (s TextField) field() Field {
	return Field{Tag: TagText, Name: s.Name, ArrayLen: 1, TextLen: s.Capacity}
}

// ArrayField declares Count values of the given kind.
type ArrayField struct {
	Kind  Kind
	Name  string
	Count int
}

func (s ArrayField) field() Field {
	return Field{Tag: ArrayTag(s.Kind), Name: s.Name, ArrayLen: s.Count}
}

// TextArrayField declares Count text values of Capacity bytes each.
type TextArrayField struct {
	Name     string
	Capacity int
	Count    int
}

func (s TextArrayField) field() Field {
	return Field{Tag: TagTextArray, Name: s.Name, ArrayLen: s.Count, TextLen: s.Capacity}
}
