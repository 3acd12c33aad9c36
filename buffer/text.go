package buffer

import "bytes"

// Text reads a zero-terminated text value stored in a run of n bytes at off.
// The last byte of the run is treated as zero regardless of its content,
// so the result never extends past n-1 bytes.
func (b *Buffer) Text(off, n int) string {
	b.check(off, n)
	if n == 0 {
		return ""
	}
	run := b.data[off : off+n-1]
	if i := bytes.IndexByte(run, 0); i >= 0 {
		run = run[:i]
	}
	return string(run)
}

// PutText writes s followed by a zero terminator at off.
func (b *Buffer) PutText(off int, s string) {
	b.check(off, len(s)+1)
	copy(b.data[off:], s)
	b.data[off+len(s)] = 0
}

// TextZ reads bytes from off up to the next zero byte or the end of the buffer.
func (b *Buffer) TextZ(off int) string {
	b.check(off, 0)
	run := b.data[off:]
	if i := bytes.IndexByte(run, 0); i >= 0 {
		run = run[:i]
	}
	return string(run)
}
