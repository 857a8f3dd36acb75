// Package ring implements the lock-free SPSC byte ring buffer described in
// spec.md §4.B, grounded on _examples/original_source/ringbuf/src/lib.rs.
//
// A Header is laid out at the start of a caller-supplied byte slice,
// followed by capacity data bytes. capacity is the largest power of two
// that fits in len(slice) - headerSize. Producer and Consumer are two
// independent views over the same slice; each tracks its own shadow of the
// opposite monotonic counter to avoid touching the other side's cache line
// on every operation.
package ring

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// headerSize is the size of the on-wire Header: two plain uint64s
// (capacity, allocated_size) then two atomic counters, each padded to its
// own cache line as in the source layout.
const (
	cacheLine  = 64
	headerSize = 4 * cacheLine // capacity+allocated_size, head+shadow_tail, tail+shadow_head, slack
)

// InitHeader writes a fresh ring header into the start of buf and returns the
// usable capacity. buf must be larger than headerSize.
func InitHeader(buf []byte) (capacity int, err error) {
	if len(buf) <= headerSize {
		return 0, fmt.Errorf("ring: buffer too small for header")
	}
	capacity = prevPowerOfTwo(len(buf) - headerSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(capacity))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(capacity))
	atomic.StoreUint64((*uint64)(ptrAt(buf, cacheLine)), 0)     // head
	atomic.StoreUint64((*uint64)(ptrAt(buf, cacheLine+8)), 0)   // shadow_tail (consumer-local)
	atomic.StoreUint64((*uint64)(ptrAt(buf, 2*cacheLine)), 0)   // tail
	atomic.StoreUint64((*uint64)(ptrAt(buf, 2*cacheLine+8)), 0) // shadow_head (producer-local)
	return capacity, nil
}

func prevPowerOfTwo(x int) int {
	if x <= 0 {
		return 0
	}
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	return x - (x >> 1)
}

func readCapacity(buf []byte) int {
	return int(binary.LittleEndian.Uint64(buf[0:8]))
}

func headPtr(buf []byte) *uint64       { return (*uint64)(ptrAt(buf, cacheLine)) }
func shadowTailPtr(buf []byte) *uint64 { return (*uint64)(ptrAt(buf, cacheLine+8)) }
func tailPtr(buf []byte) *uint64       { return (*uint64)(ptrAt(buf, 2*cacheLine)) }
func shadowHeadPtr(buf []byte) *uint64 { return (*uint64)(ptrAt(buf, 2*cacheLine+8)) }

// Producer is the write-side endpoint over a shared ring buffer slice.
type Producer struct {
	hdr  []byte
	data []byte
	cap  int
}

// Consumer is the read-side endpoint over a shared ring buffer slice.
type Consumer struct {
	hdr  []byte
	data []byte
	cap  int
}

// NewProducer wraps buf (which must already carry an initialized header, see
// InitHeader) as a write endpoint.
func NewProducer(buf []byte) *Producer {
	cap := readCapacity(buf)
	return &Producer{hdr: buf, data: buf[headerSize : headerSize+cap], cap: cap}
}

// NewConsumer wraps buf as a read endpoint.
func NewConsumer(buf []byte) *Consumer {
	cap := readCapacity(buf)
	return &Consumer{hdr: buf, data: buf[headerSize : headerSize+cap], cap: cap}
}

func (p *Producer) Capacity() int { return p.cap }
func (c *Consumer) Capacity() int { return c.cap }

// WriteHandle is a window into the ring's data bytes for an in-flight write;
// its Commit method publishes the write by advancing tail with Release
// ordering, exactly once.
type WriteHandle struct {
	p           *Producer
	currentTail uint64
	n           int
}

func (h *WriteHandle) Bytes() []byte {
	offset := h.currentTail & uint64(h.p.cap-1)
	// A write window never wraps: callers only ever issue one handle per
	// logical message, and messages are sized so the window is contiguous.
	return h.p.data[offset : offset+uint64(h.n)]
}

// Commit advances the producer's tail, publishing the bytes written into
// Bytes() to the consumer. Must be called exactly once per handle.
func (h *WriteHandle) Commit() {
	atomic.StoreUint64(tailPtr(h.p.hdr), h.currentTail+uint64(h.n))
}

// TryWrite attempts to reserve n bytes for writing without blocking. It
// returns nil if there is not currently enough free space. A write of
// exactly the ring's full capacity succeeds on an empty ring, per spec.md
// §8 property 4 and its exactly-capacity boundary case.
func (p *Producer) TryWrite(n int) *WriteHandle {
	currentTail := atomic.LoadUint64(tailPtr(p.hdr))
	shadowHead := shadowHeadPtr(p.hdr)
	if *shadowHead+uint64(p.cap) < currentTail+uint64(n) {
		*shadowHead = atomic.LoadUint64(headPtr(p.hdr))
		if *shadowHead+uint64(p.cap) < currentTail+uint64(n) {
			return nil
		}
	}
	return &WriteHandle{p: p, currentTail: currentTail, n: n}
}

// Write reserves n bytes, busy-waiting until enough space is free.
func (p *Producer) Write(n int) *WriteHandle {
	currentTail := atomic.LoadUint64(tailPtr(p.hdr))
	shadowHead := shadowHeadPtr(p.hdr)
	for *shadowHead+uint64(p.cap) < currentTail+uint64(n) {
		*shadowHead = atomic.LoadUint64(headPtr(p.hdr))
		spinWait()
	}
	return &WriteHandle{p: p, currentTail: currentTail, n: n}
}

// ReadHandle is a window into the ring's data bytes for an in-flight read;
// its Commit method advances head with Release ordering, acknowledging
// consumption exactly once.
type ReadHandle struct {
	c           *Consumer
	currentHead uint64
	n           int
}

func (h *ReadHandle) Bytes() []byte {
	offset := h.currentHead & uint64(h.c.cap-1)
	return h.c.data[offset : offset+uint64(h.n)]
}

// Commit advances the consumer's head, acknowledging the bytes in Bytes() as
// consumed. Must be called exactly once per handle.
func (h *ReadHandle) Commit() {
	atomic.StoreUint64(headPtr(h.c.hdr), h.currentHead+uint64(h.n))
}

// TryRead attempts to reserve n bytes for reading without blocking.
//
// Per SPEC_FULL.md's Open Question resolution #3, this succeeds whenever at
// least n bytes are available (available >= n) — not strictly more than n,
// which was the off-by-one present in one revision of the source kernel.
// spin bounds how many times the shadow tail is refreshed before giving up;
// callers pass a small spin count to distinguish "empty right now" from
// "empty and quiescent" (see ivshrpc's dispatch loop).
func (c *Consumer) TryRead(n int, spin int) *ReadHandle {
	currentHead := atomic.LoadUint64(headPtr(c.hdr))
	shadowTail := shadowTailPtr(c.hdr)
	for attempt := 0; ; attempt++ {
		available := *shadowTail - currentHead
		if available >= uint64(n) {
			return &ReadHandle{c: c, currentHead: currentHead, n: n}
		}
		if attempt >= spin {
			return nil
		}
		*shadowTail = atomic.LoadUint64(tailPtr(c.hdr))
	}
}

// Read reserves n bytes, busy-waiting until enough data is available.
func (c *Consumer) Read(n int) *ReadHandle {
	currentHead := atomic.LoadUint64(headPtr(c.hdr))
	shadowTail := shadowTailPtr(c.hdr)
	for *shadowTail-currentHead < uint64(n) {
		*shadowTail = atomic.LoadUint64(tailPtr(c.hdr))
		spinWait()
	}
	return &ReadHandle{c: c, currentHead: currentHead, n: n}
}

// SkipN drops up to n unread bytes, advancing head, and returns how many
// bytes were actually skipped.
func (c *Consumer) SkipN(n int) int {
	currentHead := atomic.LoadUint64(headPtr(c.hdr))
	shadowTail := shadowTailPtr(c.hdr)
	*shadowTail = atomic.LoadUint64(tailPtr(c.hdr))
	if currentHead == *shadowTail {
		return 0
	}
	diff := *shadowTail - currentHead
	if diff > uint64(n) {
		diff = uint64(n)
	}
	atomic.StoreUint64(headPtr(c.hdr), currentHead+diff)
	return int(diff)
}

// Size returns the number of unread bytes currently in the ring.
func (c *Consumer) Size() int {
	tail := atomic.LoadUint64(tailPtr(c.hdr))
	head := atomic.LoadUint64(headPtr(c.hdr))
	return int(tail - head)
}
