package tuple

import (
	"errors"
	"fmt"

	"github.com/lnsp/tuplestore/buffer"
	"github.com/sirupsen/logrus"
)

// ErrDataLength is returned when a data encoding does not match the tuple size.
var ErrDataLength = errors.New("tuple data: length mismatch")

// EncodeData serializes the live values of t. The result has the same length
// and field offsets as the tuple buffer; multi-byte elements are big-endian.
// Pointer fields are not transported and encode as zero bytes.
func EncodeData(t *Tuple) []byte {
	out := buffer.New(t.Len())
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range t.schema.fields {
		convert(out.BigEndian(), t.buf.Native(), out, t.buf, f)
	}
	return out.Bytes()
}

// DecodeData loads values from a data encoding into t. Pointer fields of t
// keep their current value.
func DecodeData(t *Tuple, data []byte) error {
	if len(data) != t.Len() {
		err := fmt.Errorf("%w: got %d bytes, schema %q needs %d", ErrDataLength, len(data), t.schema.name, t.Len())
		logger.WithFields(logrus.Fields{
			"schema": t.schema.name,
		}).WithError(err).Debug("Rejected tuple data")
		return err
	}
	in := buffer.Wrap(data)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range t.schema.fields {
		convert(t.buf.Native(), in.BigEndian(), t.buf, in, f)
	}
	return nil
}

// convert copies field f from src to dst at the same offset, re-encoding
// each element from the src view's byte order into the dst view's.
func convert(dstView, srcView buffer.View, dst, src *buffer.Buffer, f Field) {
	if f.Tag.Kind() == Pointer {
		return
	}
	size := f.ElemSize()
	if f.Tag.IsText() || size == 1 {
		buffer.SubCopy(dst, src, f.Offset, f.Offset, f.Size())
		return
	}
	for j := 0; j < f.ArrayLen; j++ {
		off := f.Offset + j*size
		switch size {
		case 2:
			dstView.PutUint16(off, srcView.Uint16(off))
		case 4:
			dstView.PutUint32(off, srcView.Uint32(off))
		case 8:
			dstView.PutUint64(off, srcView.Uint64(off))
		}
	}
}
