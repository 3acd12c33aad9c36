// Package buffer implements offset-addressed byte storage with typed access
// in native, big-endian and little-endian byte order.
package buffer

import (
	"encoding/hex"
	"fmt"
	"unsafe"
)

// PointerSize is the number of bytes used to store a pointer value.
const PointerSize = int(unsafe.Sizeof(uintptr(0)))

// RangeError is raised (as a panic value) when an access leaves the buffer.
type RangeError struct {
	Offset, Size, Len int
}

func (err *RangeError) Error() string {
	return fmt.Sprintf("buffer: access [%d, %d) out of range for length %d", err.Offset, err.Offset+err.Size, err.Len)
}

// Buffer is a resizable array of bytes.
// A Buffer is not safe for concurrent use.
type Buffer struct {
	data []byte
}

// New returns a zero-filled buffer of n bytes.
func New(n int) *Buffer {
	if n < 0 {
		panic(fmt.Sprintf("buffer: negative length %d", n))
	}
	return &Buffer{data: make([]byte, n)}
}

// Wrap returns a buffer backed by b without copying it.
// The caller keeps ownership of b; writes through the buffer are visible in b.
// Growing the buffer never reaches past len(b).
func Wrap(b []byte) *Buffer {
	return &Buffer{data: b[:len(b):len(b)]}
}

// Len returns the buffer length in bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Bytes returns the underlying bytes. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Slice returns a view of n bytes starting at off that shares memory with b.
func (b *Buffer) Slice(off, n int) *Buffer {
	b.check(off, n)
	return &Buffer{data: b.data[off : off+n : off+n]}
}

// Copy returns an owned copy of n bytes starting at off.
func (b *Buffer) Copy(off, n int) []byte {
	b.check(off, n)
	out := make([]byte, n)
	copy(out, b.data[off:off+n])
	return out
}

// Put copies p into the buffer at off.
func (b *Buffer) Put(off int, p []byte) {
	b.check(off, len(p))
	copy(b.data[off:], p)
}

// Zero clears n bytes starting at off.
func (b *Buffer) Zero(off, n int) {
	b.check(off, n)
	for i := off; i < off+n; i++ {
		b.data[i] = 0
	}
}

// SubCopy copies n bytes from src at srcOff into dst at dstOff.
// src and dst may be the same buffer, also with overlapping ranges.
func SubCopy(dst, src *Buffer, dstOff, srcOff, n int) {
	src.check(srcOff, n)
	dst.check(dstOff, n)
	copy(dst.data[dstOff:dstOff+n], src.data[srcOff:srcOff+n])
}

// Append grows b by the length of src and copies src to its end.
func (b *Buffer) Append(src *Buffer) {
	b.data = append(b.data, src.data...)
}

// Resize changes the buffer length to n. Existing bytes up to min(old, n)
// are preserved, new space is zero-filled.
func (b *Buffer) Resize(n int) {
	if n < 0 {
		panic(fmt.Sprintf("buffer: negative length %d", n))
	}
	switch {
	case n <= len(b.data):
		b.data = b.data[:n]
	case n <= cap(b.data):
		old := len(b.data)
		b.data = b.data[:n]
		for i := old; i < n; i++ {
			b.data[i] = 0
		}
	default:
		data := make([]byte, n)
		copy(data, b.data)
		b.data = data
	}
}

// Hex returns the lower-case hex encoding of the whole buffer.
func (b *Buffer) Hex() string {
	return hex.EncodeToString(b.data)
}

// Dump returns a hex dump of the buffer, 16 bytes per row, with an offset
// label, the hex byte pairs and a printable ASCII column.
func (b *Buffer) Dump() string {
	return hex.Dump(b.data)
}

func (b *Buffer) check(off, n int) {
	if off < 0 || n < 0 || off > len(b.data)-n {
		panic(&RangeError{Offset: off, Size: n, Len: len(b.data)})
	}
}
