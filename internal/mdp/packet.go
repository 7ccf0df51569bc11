package mdp

import (
	"encoding/binary"
	"fmt"

	"mdp_go/internal/domain"
)

const (
	PacketHeaderSize  = 12
	MessageSizeLength = 2
	MessageHeaderSize = 8
	GroupHeaderSize   = 3
)

// Packet is a framed MDP datagram. It aliases the buffer it was built from.
type Packet struct {
	buf []byte
}

// NewPacket frames b as a packet. Only the packet header is validated here,
// messages are validated lazily while iterating.
func NewPacket(b []byte) (Packet, error) {
	if len(b) < PacketHeaderSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", domain.ErrMalformedPacket, len(b))
	}
	return Packet{buf: b}, nil
}

// SeqNum returns the packet sequence number assigned by the exchange.
func (p Packet) SeqNum() uint64 {
	return uint64(binary.LittleEndian.Uint32(p.buf[0:4]))
}

// SendingTime returns the exchange sending time in nanoseconds since epoch.
func (p Packet) SendingTime() uint64 {
	return binary.LittleEndian.Uint64(p.buf[4:12])
}

// Bytes returns the raw datagram.
func (p Packet) Bytes() []byte {
	return p.buf
}

// Len returns the datagram length.
func (p Packet) Len() int {
	return len(p.buf)
}

// Messages returns an iterator over the messages in wire order.
func (p Packet) Messages() MessageIterator {
	return MessageIterator{buf: p.buf, off: PacketHeaderSize}
}

// MessageIterator walks the messages of a packet.
//
//	it := pkt.Messages()
//	for it.Next() {
//		msg := it.Message()
//	}
//	if err := it.Err(); err != nil { ... }
type MessageIterator struct {
	buf []byte
	off int
	msg Message
	err error
}

// Next advances to the next message. It returns false at the end of the
// packet or when a message is malformed, in which case Err is set.
func (it *MessageIterator) Next() bool {
	if it.err != nil || it.off >= len(it.buf) {
		return false
	}
	if it.off+MessageSizeLength > len(it.buf) {
		it.err = fmt.Errorf("%w: truncated message size at %d", domain.ErrMalformedPacket, it.off)
		return false
	}
	size := int(binary.LittleEndian.Uint16(it.buf[it.off:]))
	if size < MessageSizeLength+MessageHeaderSize || it.off+size > len(it.buf) {
		it.err = fmt.Errorf("%w: bad message size %d at %d", domain.ErrMalformedPacket, size, it.off)
		return false
	}
	msg := Message{buf: it.buf[it.off+MessageSizeLength : it.off+size]}
	if MessageHeaderSize+int(msg.BlockLength()) > len(msg.buf) {
		it.err = fmt.Errorf("%w: block length %d exceeds message at %d", domain.ErrMalformedPacket, msg.BlockLength(), it.off)
		return false
	}
	it.msg = msg
	it.off += size
	return true
}

// Message returns the current message. Valid only after Next returned true.
func (it *MessageIterator) Message() Message {
	return it.msg
}

// Err returns the framing error that stopped iteration, if any.
func (it *MessageIterator) Err() error {
	return it.err
}
