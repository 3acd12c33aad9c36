// Package tuple implements fixed-layout binary records whose schema is
// defined at runtime, together with their header and data wire encodings.
package tuple

import (
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

// Schema is an immutable, ordered list of field descriptors.
// Fields are packed back to back without padding.
type Schema struct {
	name   string
	fields []Field
	size   int
}

// NewSchema lays out the given fields in order.
func NewSchema(name string, specs ...FieldSpec) (*Schema, error) {
	if strings.IndexByte(name, 0) >= 0 {
		return nil, fmt.Errorf("%w: schema name %q contains a zero byte", ErrInvalidField, name)
	}
	fields := make([]Field, len(specs))
	offset := 0
	for i, spec := range specs {
		f := spec.field()
		if err := f.validate(); err != nil {
			return nil, fmt.Errorf("schema %q field %d: %w", name, i, err)
		}
		f.Offset = offset
		if offset > math.MaxInt32-f.Size() {
			return nil, fmt.Errorf("schema %q field %d: %w: layout exceeds %d bytes", name, i, ErrInvalidField, math.MaxInt32)
		}
		offset += f.Size()
		fields[i] = f
	}
	logger.WithFields(logrus.Fields{
		"schema": name,
		"fields": len(fields),
		"size":   offset,
	}).Debug("Built schema")
	return &Schema{name: name, fields: fields, size: offset}, nil
}

// newSchemaFromFields adopts already laid out descriptors and verifies that
// their offsets match the packed layout recomputed from tag and lengths.
func newSchemaFromFields(name string, fields []Field) (*Schema, error) {
	size, err := totalSize(fields)
	if err != nil {
		return nil, err
	}
	offset := 0
	for i, f := range fields {
		if f.Offset != offset {
			return nil, fmt.Errorf("field %d %q: offset %d, expected %d: %w", i, f.Name, f.Offset, offset, ErrHeaderLayout)
		}
		offset += f.Size()
	}
	return &Schema{name: name, fields: fields, size: size}, nil
}

// totalSize computes the buffer size of fields from their tags and lengths only.
func totalSize(fields []Field) (int, error) {
	size := 0
	for i, f := range fields {
		if err := f.validate(); err != nil {
			return 0, fmt.Errorf("field %d: %w", i, err)
		}
		if size > math.MaxInt32-f.Size() {
			return 0, fmt.Errorf("field %d: %w: layout exceeds %d bytes", i, ErrInvalidField, math.MaxInt32)
		}
		size += f.Size()
	}
	return size, nil
}

// Name returns the record name.
func (s *Schema) Name() string {
	return s.name
}

// NumFields returns the number of fields.
func (s *Schema) NumFields() int {
	return len(s.fields)
}

// Field returns the descriptor of field i.
func (s *Schema) Field(i int) Field {
	if i < 0 || i >= len(s.fields) {
		panic(&AccessError{Field: i, Reason: fmt.Sprintf("field index out of range [0, %d)", len(s.fields))})
	}
	return s.fields[i]
}

// Fields returns a copy of all field descriptors.
func (s *Schema) Fields() []Field {
	fields := make([]Field, len(s.fields))
	copy(fields, s.fields)
	return fields
}

// FieldIndex returns the index of the first field called name.
func (s *Schema) FieldIndex(name string) (int, bool) {
	for i, f := range s.fields {
		if f.Name == name {
			return i, true
		}
	}
	return -1, false
}

// Size returns the byte size of a tuple buffer for this schema.
func (s *Schema) Size() int {
	return s.size
}

// Equal reports whether both schemas have the same name and field descriptors.
func (s *Schema) Equal(other *Schema) bool {
	if s == other {
		return true
	}
	if other == nil || s.name != other.name || len(s.fields) != len(other.fields) {
		return false
	}
	for i := range s.fields {
		if s.fields[i] != other.fields[i] {
			return false
		}
	}
	return true
}

func (s *Schema) String() string {
	return fmt.Sprintf("%s%v", s.name, s.fields)
}
