// Package bindata provides a small cursor-based reader over raw bytes
// with an explicit byte order and word size, used to decode the
// fixed-layout SHT_RELA relocation entries that debug/elf doesn't parse
// generically across machine types.
package bindata

import (
	"bytes"
	"fmt"

	"github.com/dolphin-tools/elf2rel/arch"
)

// Reader reads fixed-width fields from a byte slice, advancing a
// cursor, using the byte order and word size given by a Layout.
type Reader struct {
	layout arch.Layout
	p      []byte
	off    int
}

// NewReader returns a Reader over p using the given layout.
func NewReader(p []byte, layout arch.Layout) *Reader {
	return &Reader{layout: layout, p: p}
}

// SetOffset moves r's cursor to the given byte offset.
func (r *Reader) SetOffset(offset int) {
	if offset < 0 || offset > len(r.p) {
		panic(fmt.Sprintf("offset %d out of range [0,%d]", offset, len(r.p)))
	}
	r.off = offset
}

// Offset returns r's current cursor position.
func (r *Reader) Offset() int {
	return r.off
}

// Avail returns the number of bytes remaining.
func (r *Reader) Avail() int {
	return len(r.p) - r.off
}

func (r *Reader) Uint8() uint8 {
	o := r.off
	r.off++
	return r.p[o]
}

func (r *Reader) Uint16() uint16 {
	o := r.off
	r.off += 2
	return r.layout.Uint16(r.p[o : o+2])
}

func (r *Reader) Uint32() uint32 {
	o := r.off
	r.off += 4
	return r.layout.Uint32(r.p[o : o+4])
}

func (r *Reader) Uint64() uint64 {
	o := r.off
	r.off += 8
	return r.layout.Uint64(r.p[o : o+8])
}

func (r *Reader) Int32() int32 { return int32(r.Uint32()) }
func (r *Reader) Int64() int64 { return int64(r.Uint64()) }

// Word reads a word using the Reader's layout word size.
func (r *Reader) Word() uint64 {
	o := r.off
	r.off += r.layout.WordSize()
	return r.layout.Word(r.p[o:])
}

// CString reads a NUL-terminated string starting at offset off,
// without moving the cursor. It does not include the terminating NUL.
func CString(p []byte, off int) string {
	if off >= len(p) {
		return ""
	}
	s := p[off:]
	if n := bytes.IndexByte(s, 0); n >= 0 {
		s = s[:n]
	}
	return string(s)
}
