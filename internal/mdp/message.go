package mdp

import (
	"bytes"
	"encoding/binary"
)

// Message is one SBE message, starting at its SBE header.
type Message struct {
	buf []byte
}

func (m Message) BlockLength() uint16 { return binary.LittleEndian.Uint16(m.buf[0:2]) }
func (m Message) TemplateID() uint16  { return binary.LittleEndian.Uint16(m.buf[2:4]) }
func (m Message) SchemaID() uint16    { return binary.LittleEndian.Uint16(m.buf[4:6]) }
func (m Message) Version() uint16     { return binary.LittleEndian.Uint16(m.buf[6:8]) }

// Root returns the fixed-length root block.
func (m Message) Root() Block {
	return Block(m.buf[MessageHeaderSize : MessageHeaderSize+int(m.BlockLength())])
}

// Group returns the n-th repeating group (zero based). The second result is
// false when the message has fewer groups or a group header is truncated.
func (m Message) Group(n int) (Group, bool) {
	pos := MessageHeaderSize + int(m.BlockLength())
	for i := 0; ; i++ {
		if pos+GroupHeaderSize > len(m.buf) {
			return Group{}, false
		}
		blockLen := int(binary.LittleEndian.Uint16(m.buf[pos:]))
		count := int(m.buf[pos+2])
		end := pos + GroupHeaderSize + blockLen*count
		if end > len(m.buf) {
			return Group{}, false
		}
		if i == n {
			return Group{buf: m.buf[pos+GroupHeaderSize : end], blockLen: blockLen, count: count, idx: -1}, true
		}
		pos = end
	}
}

// Group iterates the entries of a repeating group.
type Group struct {
	buf      []byte
	blockLen int
	count    int
	idx      int
}

// Len returns the number of entries in the group.
func (g *Group) Len() int { return g.count }

// Next advances to the next entry.
func (g *Group) Next() bool {
	if g.idx+1 >= g.count {
		return false
	}
	g.idx++
	return true
}

// Entry returns the current entry block.
func (g *Group) Entry() Block {
	off := g.idx * g.blockLen
	return Block(g.buf[off : off+g.blockLen])
}

// Block is a fixed-length SBE block. Reads past the end return the zero
// value, which callers treat like an absent optional field.
type Block []byte

func (b Block) Uint8(off int) uint8 {
	if off < 0 || off+1 > len(b) {
		return 0
	}
	return b[off]
}

func (b Block) Char(off int) byte {
	return b.Uint8(off)
}

func (b Block) Uint16(off int) uint16 {
	if off < 0 || off+2 > len(b) {
		return 0
	}
	return binary.LittleEndian.Uint16(b[off:])
}

func (b Block) Uint32(off int) uint32 {
	if off < 0 || off+4 > len(b) {
		return 0
	}
	return binary.LittleEndian.Uint32(b[off:])
}

func (b Block) Int32(off int) int32 {
	return int32(b.Uint32(off))
}

func (b Block) Uint64(off int) uint64 {
	if off < 0 || off+8 > len(b) {
		return 0
	}
	return binary.LittleEndian.Uint64(b[off:])
}

func (b Block) Int64(off int) int64 {
	return int64(b.Uint64(off))
}

// String reads a fixed-width char array, trimming NUL padding.
func (b Block) String(off, n int) string {
	if off < 0 || off+n > len(b) {
		return ""
	}
	return string(bytes.TrimRight(b[off:off+n], "\x00 "))
}
