// Package pktqueue buffers incremental packets that arrive ahead of the next
// expected sequence number.
//
// Slots are indexed by seq & (capacity-1), so the queue holds at most one
// packet per residue class and a newer sequence overwrites an older one that
// shares its slot. The queue is not synchronized: callers hold the channel
// lock around every call.
package pktqueue

import (
	"fmt"

	"mdp_go/internal/domain"
)

// Status is the outcome of admitting a packet.
type Status uint8

const (
	// StatusNext means seq is the next expected sequence. The packet is not
	// stored; the caller processes it immediately.
	StatusNext Status = iota
	// StatusBuffered means the packet was copied into a free slot.
	StatusBuffered
	// StatusOverwrote means the packet was buffered over an older pending
	// packet, which is lost. Recovery closes the resulting gap.
	StatusOverwrote
	// StatusDuplicate means the same sequence is already buffered.
	StatusDuplicate
	// StatusStale means seq was already processed.
	StatusStale
	// StatusOutOfWindow means a newer packet already occupies the slot.
	StatusOutOfWindow
	// StatusOversize means the packet does not fit a slot.
	StatusOversize
	// StatusClosed means the queue was released.
	StatusClosed
	// StatusBeyondWindow means the queue is bounded and seq is more than
	// capacity ahead of the processed sequence.
	StatusBeyondWindow
)

func (s Status) String() string {
	switch s {
	case StatusNext:
		return "next"
	case StatusBuffered:
		return "buffered"
	case StatusOverwrote:
		return "overwrote"
	case StatusDuplicate:
		return "duplicate"
	case StatusStale:
		return "stale"
	case StatusOutOfWindow:
		return "out_of_window"
	case StatusOversize:
		return "oversize"
	case StatusClosed:
		return "closed"
	case StatusBeyondWindow:
		return "beyond_window"
	default:
		return "unknown"
	}
}

// Empty is returned by Poll when no packet is buffered for a sequence.
const Empty = -1

type slot struct {
	seq  uint64
	n    int // 0 when the slot is free
	data []byte
}

// Queue is a fixed-capacity, sequence-indexed packet buffer.
type Queue struct {
	slots     []slot
	mask      uint64
	slotSize  int
	processed func() uint64
	bounded   bool
}

// New creates a queue of capacity slots, each able to hold slotSize bytes.
// processed reports the last fully applied sequence; admission is relative
// to it. capacity must be a power of two.
func New(capacity, slotSize int, processed func() uint64) (*Queue, error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidQueueSize, capacity)
	}
	if slotSize <= 0 {
		return nil, fmt.Errorf("invalid slot size %d", slotSize)
	}
	slots := make([]slot, capacity)
	for i := range slots {
		slots[i].data = make([]byte, slotSize)
	}
	return &Queue{
		slots:     slots,
		mask:      uint64(capacity - 1),
		slotSize:  slotSize,
		processed: processed,
	}, nil
}

// Capacity returns the number of slots.
func (q *Queue) Capacity() int {
	return len(q.slots)
}

// SetBounded limits admission to sequences at most capacity ahead of the
// processed sequence. Unbounded admission lets a far-ahead packet overwrite a
// pending one that is needed sooner.
func (q *Queue) SetBounded(bounded bool) {
	q.bounded = bounded
}

// SlotSize returns the largest packet a slot can hold. Poll buffers must be
// at least this large.
func (q *Queue) SlotSize() int {
	return q.slotSize
}

// Push admits a packet and reports whether seq is the next expected one.
// False means the packet was buffered for a later drain or rejected.
func (q *Queue) Push(seq uint64, pkt []byte) bool {
	return q.Admit(seq, pkt) == StatusNext
}

// Admit is Push with the detailed outcome. The packet bytes are copied; the
// queue keeps no reference to pkt.
func (q *Queue) Admit(seq uint64, pkt []byte) Status {
	if q.slots == nil {
		return StatusClosed
	}
	processed := q.processed()
	switch {
	case seq <= processed:
		return StatusStale
	case seq == processed+1:
		return StatusNext
	case q.bounded && seq-processed > uint64(len(q.slots)):
		return StatusBeyondWindow
	case len(pkt) > q.slotSize:
		return StatusOversize
	}

	s := &q.slots[seq&q.mask]
	status := StatusBuffered
	if s.n > 0 {
		switch {
		case s.seq == seq:
			return StatusDuplicate
		case s.seq > seq:
			return StatusOutOfWindow
		case s.seq > processed:
			status = StatusOverwrote
		}
	}
	s.seq = seq
	s.n = copy(s.data, pkt)
	return status
}

// Poll copies the packet buffered for seq into buf, frees its slot and
// returns its length. It returns Empty when nothing is buffered for seq.
// The queue does not keep buf; the caller must not expect buf to survive
// the next Poll.
func (q *Queue) Poll(seq uint64, buf []byte) int {
	s := q.lookup(seq)
	if s == nil {
		return Empty
	}
	if len(buf) < s.n {
		return Empty
	}
	n := copy(buf, s.data[:s.n])
	s.n = 0
	return n
}

// Exist reports whether a packet for seq is buffered.
func (q *Queue) Exist(seq uint64) bool {
	return q.lookup(seq) != nil
}

func (q *Queue) lookup(seq uint64) *slot {
	if q.slots == nil {
		return nil
	}
	s := &q.slots[seq&q.mask]
	if s.n == 0 || s.seq != seq {
		return nil
	}
	return s
}

// Pending returns the number of occupied slots holding sequences beyond the
// processed pointer.
func (q *Queue) Pending() int {
	processed := q.processed()
	n := 0
	for i := range q.slots {
		if q.slots[i].n > 0 && q.slots[i].seq > processed {
			n++
		}
	}
	return n
}

// Clear empties all slots.
func (q *Queue) Clear() {
	for i := range q.slots {
		q.slots[i].n = 0
		q.slots[i].seq = 0
	}
}

// Release frees the slot storage. Admit reports StatusClosed afterwards.
func (q *Queue) Release() {
	q.slots = nil
}
