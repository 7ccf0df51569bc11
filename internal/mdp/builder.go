package mdp

import (
	"encoding/binary"
	"fmt"
)

// PacketBuilder encodes packets for the simulator and tests. Messages are
// appended in order; a message is closed when the next one starts or when
// the packet is taken.
type PacketBuilder struct {
	schema *Schema
	buf    []byte
	open   int // start of the open message, -1 if none
	group  int // offset of the open message's first group header, -1 if none
}

// NewPacketBuilder starts a packet with the given sequence number and
// sending time.
func NewPacketBuilder(schema *Schema, seq uint64, sendingTime uint64) *PacketBuilder {
	b := &PacketBuilder{schema: schema, buf: make([]byte, PacketHeaderSize, 256), open: -1, group: -1}
	binary.LittleEndian.PutUint32(b.buf[0:4], uint32(seq))
	binary.LittleEndian.PutUint64(b.buf[4:12], sendingTime)
	return b
}

// Message appends a message with a zeroed root block. It panics on a
// template the schema does not know, which is a programming error.
func (b *PacketBuilder) Message(templateID uint16) *MessageWriter {
	b.close()
	t := b.schema.Lookup(templateID)
	if t == nil {
		panic(fmt.Sprintf("mdp: unknown template %d", templateID))
	}
	b.open = len(b.buf)
	hdr := make([]byte, MessageSizeLength+MessageHeaderSize+int(t.BlockLength))
	binary.LittleEndian.PutUint16(hdr[2:4], t.BlockLength)
	binary.LittleEndian.PutUint16(hdr[4:6], t.TemplateID)
	binary.LittleEndian.PutUint16(hdr[6:8], b.schema.ID)
	binary.LittleEndian.PutUint16(hdr[8:10], 9)
	b.buf = append(b.buf, hdr...)
	return &MessageWriter{b: b, typ: t, root: fieldWriter{b: b, base: b.open + MessageSizeLength + MessageHeaderSize, size: int(t.BlockLength)}}
}

func (b *PacketBuilder) close() {
	if b.open < 0 {
		return
	}
	binary.LittleEndian.PutUint16(b.buf[b.open:], uint16(len(b.buf)-b.open))
	b.open = -1
	b.group = -1
}

// Bytes closes the open message and returns the encoded datagram.
func (b *PacketBuilder) Bytes() []byte {
	b.close()
	return b.buf
}

// Packet closes the open message and frames the result.
func (b *PacketBuilder) Packet() Packet {
	return Packet{buf: b.Bytes()}
}

// MessageWriter fills in one message.
type MessageWriter struct {
	b    *PacketBuilder
	typ  *MessageType
	root fieldWriter
}

// Root gives access to the root block.
func (w *MessageWriter) Root() FieldWriter {
	return &w.root
}

// MatchEvent sets the match event indicator.
func (w *MessageWriter) MatchEvent(mei MatchEventIndicator) *MessageWriter {
	if w.typ.MatchEventOffset != NoField {
		w.root.PutUint8(w.typ.MatchEventOffset, uint8(mei))
	}
	return w
}

// Snapshot sets tags 369, 911 and 48 of a snapshot message.
func (w *MessageWriter) Snapshot(lastSeqProcessed uint64, totNumReports uint32, securityID int32) *MessageWriter {
	w.root.PutUint32(w.typ.LastSeqProcessedOffset, uint32(lastSeqProcessed))
	w.root.PutUint32(w.typ.TotNumReportsOffset, totNumReports)
	w.root.PutInt32(w.typ.SecurityIDOffset, securityID)
	return w
}

// Definition sets the reference data fields of a security definition.
func (w *MessageWriter) Definition(securityID int32, symbol, group, asset string) *MessageWriter {
	w.root.PutInt32(w.typ.SecurityIDOffset, securityID)
	w.root.PutString(w.typ.SymbolOffset, 20, symbol)
	w.root.PutString(w.typ.SecurityGroupOffset, 6, group)
	w.root.PutString(w.typ.AssetOffset, 6, asset)
	return w
}

// Entry appends an entry to the first repeating group, creating the group
// header on first use.
func (w *MessageWriter) Entry() *EntryWriter {
	b := w.b
	if b.group < 0 {
		b.group = len(b.buf)
		hdr := make([]byte, GroupHeaderSize)
		binary.LittleEndian.PutUint16(hdr[0:2], w.typ.EntryBlockLength)
		b.buf = append(b.buf, hdr...)
	}
	b.buf[b.group+2]++
	base := len(b.buf)
	b.buf = append(b.buf, make([]byte, w.typ.EntryBlockLength)...)
	return &EntryWriter{typ: w.typ, fieldWriter: fieldWriter{b: b, base: base, size: int(w.typ.EntryBlockLength)}}
}

// EntryWriter fills in one group entry.
type EntryWriter struct {
	fieldWriter
	typ *MessageType
}

// Book sets the common incremental entry fields.
func (e *EntryWriter) Book(securityID int32, entryType EntryType, action UpdateAction, priceMantissa int64, size int32, rptSeq uint32) *EntryWriter {
	e.PutInt32(e.typ.EntrySecurityIDOffset, securityID)
	if e.typ.EntryTypeOffset != NoField {
		e.PutUint8(e.typ.EntryTypeOffset, uint8(entryType))
	}
	e.PutUint8(e.typ.EntryUpdateActionOffset, uint8(action))
	e.PutInt64(e.typ.EntryPriceOffset, priceMantissa)
	e.PutInt32(e.typ.EntrySizeOffset, size)
	e.PutUint32(e.typ.EntryRptSeqOffset, rptSeq)
	return e
}

// Type sets only the entry type, as used by ChannelReset4.
func (e *EntryWriter) Type(entryType EntryType) *EntryWriter {
	e.PutUint8(e.typ.EntryTypeOffset, uint8(entryType))
	return e
}

// FieldWriter writes little endian fields into a fixed block.
type FieldWriter interface {
	PutUint8(off int, v uint8)
	PutUint32(off int, v uint32)
	PutInt32(off int, v int32)
	PutInt64(off int, v int64)
	PutString(off, n int, s string)
}

// fieldWriter addresses the builder buffer by offset because appends may
// move it. Writes to NoField or out of the block are ignored.
type fieldWriter struct {
	b    *PacketBuilder
	base int
	size int
}

func (f *fieldWriter) slot(off, n int) []byte {
	if off < 0 || off+n > f.size {
		return nil
	}
	return f.b.buf[f.base+off : f.base+off+n]
}

func (f *fieldWriter) PutUint8(off int, v uint8) {
	if s := f.slot(off, 1); s != nil {
		s[0] = v
	}
}

func (f *fieldWriter) PutUint32(off int, v uint32) {
	if s := f.slot(off, 4); s != nil {
		binary.LittleEndian.PutUint32(s, v)
	}
}

func (f *fieldWriter) PutInt32(off int, v int32) {
	f.PutUint32(off, uint32(v))
}

func (f *fieldWriter) PutInt64(off int, v int64) {
	if s := f.slot(off, 8); s != nil {
		binary.LittleEndian.PutUint64(s, uint64(v))
	}
}

func (f *fieldWriter) PutString(off, n int, str string) {
	if s := f.slot(off, n); s != nil {
		copy(s, str)
	}
}
