package table

import (
	"bytes"
	"io"

	"github.com/lnsp/tuplestore/table/block"
)

// ScanRows returns a row scanner for the given block.
func ScanRows(b block.Block) RowScanner {
	return RowScanner{
		block: b,
	}
}

// ScanBlocks returns a block scanner for the given file.
func ScanBlocks(file block.ReadSeekLocker) BlockScanner {
	return BlockScanner{
		input: file,
	}
}

// BlockScanner implements a basic block scanner that iterates over the blocks of a table.
// The block scanner is NOT thread-safe.
type BlockScanner struct {
	input  block.ReadSeekLocker
	block  block.Block
	offset int64
	err    error
}

// Next returns true if there is a next block and moves the cursor forward.
func (scanner *BlockScanner) Next() bool {
	if scanner.err != nil {
		return false
	}
	b, n, err := block.Read(scanner.input, scanner.offset)
	if err != nil {
		if err != io.EOF {
			scanner.err = err
		}
		return false
	}
	scanner.block = b
	scanner.offset += n
	return true
}

// Block returns the last-scanned block.
func (scanner *BlockScanner) Block() block.Block {
	return scanner.block
}

// Err returns the first error encountered while reading blocks.
func (scanner *BlockScanner) Err() error {
	return scanner.err
}

// RowScanner scans through rows of a block.
// The scanner is NOT thread-safe.
type RowScanner struct {
	block          block.Block
	key, value     []byte
	peeked, offset int64
}

// Next moves the cursor forward and returns true if there is a next row.
func (scanner *RowScanner) Next() bool {
	if !scanner.Peek() {
		return false
	}
	scanner.Skip()
	return true
}

// Peek returns true if there is a next row, but does not move the cursor forward.
func (scanner *RowScanner) Peek() bool {
	key, value, n, ok := scanner.block.Next(scanner.offset)
	if !ok {
		return false
	}
	scanner.key = key
	scanner.value = value
	scanner.peeked = n
	return true
}

// Skip skips the current row.
func (scanner *RowScanner) Skip() {
	scanner.offset += scanner.peeked
	scanner.peeked = 0
}

// Key returns the last-scanned key.
func (scanner *RowScanner) Key() []byte {
	return scanner.key
}

// Value returns the last-scanned value.
func (scanner *RowScanner) Value() []byte {
	return scanner.value
}

// Scanner can scan through a table row-by-row while automatically fetching new blocks.
type Scanner struct {
	block BlockScanner
	row   RowScanner

	key, value []byte
}

// Next loads the next row (if possible) and returns true if a new key-value pair has been fetched.
// It moves the cursor one step forward.
func (scanner *Scanner) Next() bool {
	if !scanner.Peek() {
		return false
	}
	scanner.Skip()
	return true
}

// Peek loads the next row (if possible) and returns true if a new key-value pair has been fetched.
// It does not move the cursor past the row.
func (scanner *Scanner) Peek() bool {
	next := scanner.row.Peek()
	for !next && scanner.block.Next() {
		scanner.row = ScanRows(scanner.block.Block())
		next = scanner.row.Peek()
	}
	if next {
		scanner.key = scanner.row.Key()
		scanner.value = scanner.row.Value()
	}
	return next
}

// Skip skips the current cursor position.
func (scanner *Scanner) Skip() {
	scanner.row.Skip()
}

// Key returns the key of the current cursor position.
func (scanner *Scanner) Key() []byte {
	return scanner.key
}

// Value returns the value of the current cursor position.
func (scanner *Scanner) Value() []byte {
	return scanner.value
}

// Err returns the first error encountered while scanning.
func (scanner *Scanner) Err() error {
	return scanner.block.Err()
}

// Compare compares the current table scanner position with the other table scanner.
// The smaller key-value pair ordered by (key, value) will be returned.
// For equal keys the larger value, that is the newer record, is returned.
func (scanner *Scanner) Compare(other *Scanner) (int, []byte, []byte) {
	switch bytes.Compare(scanner.Key(), other.Key()) {
	case 1:
		return 1, other.Key(), other.Value()
	case -1:
		return -1, scanner.Key(), scanner.Value()
	default:
		_, max := minmax(scanner.Value(), other.Value())
		return 0, scanner.Key(), max
	}
}
