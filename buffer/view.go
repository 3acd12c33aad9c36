package buffer

import (
	"encoding/binary"
	"math"
)

// View reads and writes multi-byte values of a buffer in a fixed byte order.
type View struct {
	b     *Buffer
	order binary.ByteOrder
}

// Native returns a view using the host byte order.
func (b *Buffer) Native() View {
	return View{b: b, order: binary.NativeEndian}
}

// BigEndian returns a view using network byte order.
func (b *Buffer) BigEndian() View {
	return View{b: b, order: binary.BigEndian}
}

// LittleEndian returns a view using little-endian byte order.
func (b *Buffer) LittleEndian() View {
	return View{b: b, order: binary.LittleEndian}
}

func (v View) bytes(off, n int) []byte {
	v.b.check(off, n)
	return v.b.data[off : off+n]
}

func (v View) Int8(off int) int8 {
	return int8(v.bytes(off, 1)[0])
}

func (v View) PutInt8(off int, x int8) {
	v.bytes(off, 1)[0] = byte(x)
}

func (v View) Uint8(off int) uint8 {
	return v.bytes(off, 1)[0]
}

func (v View) PutUint8(off int, x uint8) {
	v.bytes(off, 1)[0] = x
}

func (v View) Int16(off int) int16 {
	return int16(v.order.Uint16(v.bytes(off, 2)))
}

func (v View) PutInt16(off int, x int16) {
	v.order.PutUint16(v.bytes(off, 2), uint16(x))
}

func (v View) Uint16(off int) uint16 {
	return v.order.Uint16(v.bytes(off, 2))
}

func (v View) PutUint16(off int, x uint16) {
	v.order.PutUint16(v.bytes(off, 2), x)
}

func (v View) Int32(off int) int32 {
	return int32(v.order.Uint32(v.bytes(off, 4)))
}

func (v View) PutInt32(off int, x int32) {
	v.order.PutUint32(v.bytes(off, 4), uint32(x))
}

func (v View) Uint32(off int) uint32 {
	return v.order.Uint32(v.bytes(off, 4))
}

func (v View) PutUint32(off int, x uint32) {
	v.order.PutUint32(v.bytes(off, 4), x)
}

func (v View) Int64(off int) int64 {
	return int64(v.order.Uint64(v.bytes(off, 8)))
}

func (v View) PutInt64(off int, x int64) {
	v.order.PutUint64(v.bytes(off, 8), uint64(x))
}

func (v View) Uint64(off int) uint64 {
	return v.order.Uint64(v.bytes(off, 8))
}

func (v View) PutUint64(off int, x uint64) {
	v.order.PutUint64(v.bytes(off, 8), x)
}

func (v View) Float32(off int) float32 {
	return math.Float32frombits(v.Uint32(off))
}

func (v View) PutFloat32(off int, x float32) {
	v.PutUint32(off, math.Float32bits(x))
}

func (v View) Float64(off int) float64 {
	return math.Float64frombits(v.Uint64(off))
}

func (v View) PutFloat64(off int, x float64) {
	v.PutUint64(off, math.Float64bits(x))
}

// Pointer reads a machine address stored in PointerSize bytes.
func (v View) Pointer(off int) uintptr {
	if PointerSize == 4 {
		return uintptr(v.Uint32(off))
	}
	return uintptr(v.Uint64(off))
}

// PutPointer stores a machine address in PointerSize bytes.
func (v View) PutPointer(off int, p uintptr) {
	if PointerSize == 4 {
		v.PutUint32(off, uint32(p))
		return
	}
	v.PutUint64(off, uint64(p))
}

// Native byte order shortcuts.

func (b *Buffer) Int8(off int) int8 { return b.Native().Int8(off) }
func (b *Buffer) PutInt8(off int, x int8) { b.Native().PutInt8(off, x) }
func (b *Buffer) Uint8(off int) uint8 { return b.Native().Uint8(off) }
func (b *Buffer) PutUint8(off int, x uint8) { b.Native().PutUint8(off, x) }
func (b *Buffer) Int16(off int) int16 { return b.Native().Int16(off) }
func (b *Buffer) PutInt16(off int, x int16) { b.Native().PutInt16(off, x) }
func (b *Buffer) Uint16(off int) uint16 { return b.Native().Uint16(off) }
func (b *Buffer) PutUint16(off int, x uint16) { b.Native().PutUint16(off, x) }
func (b *Buffer) Int32(off int) int32 { return b.Native().Int32(off) }
func (b *Buffer) PutInt32(off int, x int32) { b.Native().PutInt32(off, x) }
func (b *Buffer) Uint32(off int) uint32 { return b.Native().Uint32(off) }
func (b *Buffer) PutUint32(off int, x uint32) { b.Native().PutUint32(off, x) }
func (b *Buffer) Int64(off int) int64 { return b.Native().Int64(off) }
func (b *Buffer) PutInt64(off int, x int64) { b.Native().PutInt64(off, x) }
func (b *Buffer) Uint64(off int) uint64 { return b.Native().Uint64(off) }
func (b *Buffer) PutUint64(off int, x uint64) { b.Native().PutUint64(off, x) }
func (b *Buffer) Float32(off int) float32 { return b.Native().Float32(off) }
func (b *Buffer) PutFloat32(off int, x float32) { b.Native().PutFloat32(off, x) }
func (b *Buffer) Float64(off int) float64 { return b.Native().Float64(off) }
func (b *Buffer) PutFloat64(off int, x float64) { b.Native().PutFloat64(off, x) }
func (b *Buffer) Pointer(off int) uintptr { return b.Native().Pointer(off) }
func (b *Buffer) PutPointer(off int, p uintptr) { b.Native().PutPointer(off, p) }
