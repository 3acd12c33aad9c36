// Package block implements the compressed row blocks tables are made of.
//
// A block is a sequence of rows [keyLen u16][valueLen u32][key][value],
// sorted by key. On disk each block is stored as a frame
// [frameLen u64][snappy-compressed block]. All integers are big-endian.
package block

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/golang/snappy"
)

// FlushSize defines the flush size of a table block. By default 64 KiB.
const FlushSize = 1 << 16

const (
	rowHeaderSize   = 6
	frameHeaderSize = 8
)

var (
	ErrKeyTooLarge = errors.New("block: key too large")
	ErrCorrupt     = errors.New("block: corrupt frame")
)

type ReadSeekLocker interface {
	io.ReadSeeker
	sync.Locker
}

// Block is an uncompressed sequence of rows.
type Block []byte

// Find returns the values of all rows matching key.
func (b Block) Find(key []byte) [][]byte {
	var (
		offset int64
		values = make([][]byte, 0, 1)
	)
	for {
		k, v, n, ok := b.Next(offset)
		if !ok {
			return values
		}
		switch bytes.Compare(key, k) {
		case 0:
			values = append(values, v)
		case -1:
			return values
		}
		offset += n
	}
}

// Next reads the row at offset and returns its key, value and encoded size.
func (b Block) Next(offset int64) ([]byte, []byte, int64, bool) {
	size := int64(len(b))
	if offset < 0 || offset+rowHeaderSize > size {
		return nil, nil, 0, false
	}
	var (
		keyLen     = int64(binary.BigEndian.Uint16(b[offset : offset+2]))
		valueLen   = int64(binary.BigEndian.Uint32(b[offset+2 : offset+6]))
		keyStart   = offset + rowHeaderSize
		valueStart = keyStart + keyLen
		valueEnd   = valueStart + valueLen
	)
	if valueEnd > size {
		return nil, nil, 0, false
	}
	return b[keyStart:valueStart], b[valueStart:valueEnd], valueEnd - offset, true
}

// RowSize returns the size of the row in binary format.
func RowSize(key, value []byte) int64 {
	return int64(rowHeaderSize + len(key) + len(value))
}

// WriteRow writes the row in binary format to the writer.
func WriteRow(wr io.Writer, key, value []byte) error {
	if len(key) > math.MaxUint16 {
		return fmt.Errorf("%w: %d bytes", ErrKeyTooLarge, len(key))
	}
	var header [rowHeaderSize]byte
	binary.BigEndian.PutUint16(header[0:2], uint16(len(key)))
	binary.BigEndian.PutUint32(header[2:6], uint32(len(value)))
	if _, err := wr.Write(header[:]); err != nil {
		return err
	}
	if _, err := wr.Write(key); err != nil {
		return err
	}
	_, err := wr.Write(value)
	return err
}

// Builder accumulates rows of a single block.
type Builder struct {
	buffer *bytes.Buffer
}

// NewBuilder returns an empty block builder.
func NewBuilder() *Builder {
	return &Builder{
		buffer: bytes.NewBuffer(make([]byte, 0, FlushSize)),
	}
}

// Add appends a row to the block.
func (builder *Builder) Add(key, value []byte) error {
	return WriteRow(builder.buffer, key, value)
}

// Len returns the uncompressed size of the block.
func (builder *Builder) Len() int {
	return builder.buffer.Len()
}

// Full reports whether the block should be flushed.
func (builder *Builder) Full() bool {
	return builder.buffer.Len() >= FlushSize
}

// WriteTo writes the block as a compressed frame and resets the builder.
func (builder *Builder) WriteTo(wr io.Writer) (int64, error) {
	compressed := snappy.Encode(nil, builder.buffer.Bytes())
	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint64(header[:], uint64(len(compressed)))
	if _, err := wr.Write(header[:]); err != nil {
		return 0, err
	}
	if _, err := wr.Write(compressed); err != nil {
		return frameHeaderSize, err
	}
	builder.buffer.Reset()
	return frameHeaderSize + int64(len(compressed)), nil
}

func readFrame(file ReadSeekLocker, offset int64) ([]byte, int64, error) {
	file.Lock()
	defer file.Unlock()
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, err
	}
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(file, header[:]); err == io.EOF {
		return nil, 0, io.EOF
	} else if err != nil {
		return nil, 0, fmt.Errorf("%w: frame header at %d: %v", ErrCorrupt, offset, err)
	}
	size := binary.BigEndian.Uint64(header[:])
	if size > math.MaxInt32 {
		return nil, 0, fmt.Errorf("%w: frame of %d bytes at %d", ErrCorrupt, size, offset)
	}
	compressed := make([]byte, size)
	if _, err := io.ReadFull(file, compressed); err != nil {
		return nil, 0, fmt.Errorf("%w: frame at %d: %v", ErrCorrupt, offset, err)
	}
	return compressed, frameHeaderSize + int64(size), nil
}

// Read loads the block stored at the given offset and returns it together
// with the size of its frame. It returns io.EOF if offset is the end of file.
func Read(file ReadSeekLocker, offset int64) (Block, int64, error) {
	compressed, size, err := readFrame(file, offset)
	if err != nil {
		return nil, 0, err
	}
	b, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: decompress frame at %d: %v", ErrCorrupt, offset, err)
	}
	return b, size, nil
}
