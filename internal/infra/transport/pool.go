package transport

import "sync"

// MaxDatagramSize bounds a single UDP payload.
const MaxDatagramSize = 65535

// datagramPool recycles receive buffers across receiver restarts. Snapshot
// receivers are started and stopped on every recovery cycle.
var datagramPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, MaxDatagramSize)
		return &b
	},
}

func acquireBuffer() *[]byte {
	return datagramPool.Get().(*[]byte)
}

func releaseBuffer(b *[]byte) {
	if b == nil || cap(*b) < MaxDatagramSize {
		return
	}
	*b = (*b)[:MaxDatagramSize]
	datagramPool.Put(b)
}
