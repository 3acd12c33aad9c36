package tuple

import (
	"errors"
	"fmt"

	"github.com/lnsp/tuplestore/buffer"
	"github.com/sirupsen/logrus"
)

// HeaderMagic opens every header encoding ("tupl").
const HeaderMagic int32 = 0x7475706c

var (
	ErrHeaderMagic     = errors.New("tuple header: bad magic")
	ErrHeaderLength    = errors.New("tuple header: length mismatch")
	ErrHeaderTruncated = errors.New("tuple header: truncated")
	ErrHeaderLayout    = errors.New("tuple header: inconsistent layout")
)

// Header layout, all integers big-endian int32:
//
//	magic | total_length | name_length | name\0 | field_count |
//	tags[n] | n × (name_length | name\0) |
//	array_lengths[n] | text_lengths[n] | offsets[n]
//
// total_length counts the whole header including magic and itself.

func headerSize(s *Schema) int {
	n := 4 + 4 + 4 + len(s.name) + 1 + 4
	for _, f := range s.fields {
		n += 4 + 4 + len(f.Name) + 1 + 3*4
	}
	return n
}

// EncodeHeader serializes the schema of t.
func EncodeHeader(t *Tuple) []byte {
	return EncodeSchema(t.schema)
}

// EncodeSchema serializes s into the portable header encoding.
func EncodeSchema(s *Schema) []byte {
	size := headerSize(s)
	b := buffer.New(size)
	w := headerWriter{b: b, v: b.BigEndian()}
	w.int32(HeaderMagic)
	w.int32(int32(size))
	w.text(s.name)
	w.int32(int32(len(s.fields)))
	for _, f := range s.fields {
		w.int32(int32(f.Tag))
	}
	for _, f := range s.fields {
		w.text(f.Name)
	}
	for _, f := range s.fields {
		w.int32(int32(f.ArrayLen))
	}
	for _, f := range s.fields {
		w.int32(int32(f.TextLen))
	}
	for _, f := range s.fields {
		w.int32(int32(f.Offset))
	}
	return b.Bytes()
}

type headerWriter struct {
	b   *buffer.Buffer
	v   buffer.View
	off int
}

func (w *headerWriter) int32(x int32) {
	w.v.PutInt32(w.off, x)
	w.off += 4
}

func (w *headerWriter) text(s string) {
	w.int32(int32(len(s) + 1))
	w.b.PutText(w.off, s)
	w.off += len(s) + 1
}

// DecodeHeader reconstructs a schema from its header encoding and returns a
// zero-valued tuple of it. Malformed input yields an error, never a panic.
func DecodeHeader(data []byte) (*Tuple, error) {
	schema, err := DecodeSchema(data)
	if err != nil {
		return nil, err
	}
	return New(schema), nil
}

// DecodeSchema reconstructs a schema from its header encoding.
func DecodeSchema(data []byte) (*Schema, error) {
	schema, err := decodeSchema(data)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"length": len(data),
		}).WithError(err).Debug("Rejected tuple header")
		return nil, err
	}
	return schema, nil
}

func decodeSchema(data []byte) (*Schema, error) {
	b := buffer.Wrap(data)
	r := headerReader{b: b, v: b.BigEndian()}
	magic, err := r.int32()
	if err != nil {
		return nil, err
	}
	if magic != HeaderMagic {
		return nil, fmt.Errorf("%w: %#x", ErrHeaderMagic, uint32(magic))
	}
	total, err := r.int32()
	if err != nil {
		return nil, err
	}
	if int(total) != len(data) {
		return nil, fmt.Errorf("%w: header says %d bytes, got %d", ErrHeaderLength, total, len(data))
	}
	name, err := r.text()
	if err != nil {
		return nil, fmt.Errorf("schema name: %w", err)
	}
	count, err := r.int32()
	if err != nil {
		return nil, err
	}
	// Every field takes at least 21 bytes, which bounds the allocation below.
	if count < 0 || int(count) > r.remaining()/21 {
		return nil, fmt.Errorf("%w: field count %d", ErrHeaderLayout, count)
	}
	fields := make([]Field, count)
	for i := range fields {
		tag, err := r.int32()
		if err != nil {
			return nil, err
		}
		fields[i].Tag = Tag(uint32(tag))
	}
	for i := range fields {
		if fields[i].Name, err = r.text(); err != nil {
			return nil, fmt.Errorf("field %d name: %w", i, err)
		}
	}
	for _, set := range []func(f *Field, x int){
		func(f *Field, x int) { f.ArrayLen = x },
		func(f *Field, x int) { f.TextLen = x },
		func(f *Field, x int) { f.Offset = x },
	} {
		for i := range fields {
			x, err := r.int32()
			if err != nil {
				return nil, err
			}
			set(&fields[i], int(x))
		}
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrHeaderLength, r.remaining())
	}
	schema, err := newSchemaFromFields(name, fields)
	if err != nil {
		return nil, fmt.Errorf("schema %q: %w", name, err)
	}
	return schema, nil
}

type headerReader struct {
	b   *buffer.Buffer
	v   buffer.View
	off int
}

func (r *headerReader) remaining() int {
	return r.b.Len() - r.off
}

func (r *headerReader) int32() (int32, error) {
	if r.remaining() < 4 {
		return 0, fmt.Errorf("%w: need 4 bytes at offset %d", ErrHeaderTruncated, r.off)
	}
	x := r.v.Int32(r.off)
	r.off += 4
	return x, nil
}

// text reads a length-prefixed, zero-terminated string.
func (r *headerReader) text() (string, error) {
	n, err := r.int32()
	if err != nil {
		return "", err
	}
	if n < 1 || int(n) > r.remaining() {
		return "", fmt.Errorf("%w: text of %d bytes at offset %d", ErrHeaderTruncated, n, r.off)
	}
	// The terminator must be the last byte and the only zero byte.
	s := r.b.TextZ(r.off)
	if len(s) != int(n)-1 {
		return "", fmt.Errorf("%w: text at offset %d is not terminated at %d bytes", ErrHeaderLayout, r.off, n)
	}
	r.off += int(n)
	return s, nil
}
