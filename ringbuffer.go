package relaybuf

import (
	"fmt"
	"io"
	"math/bits"
)

// RingBuffer is a fixed-capacity circular byte buffer.
//
// Data is exposed one contiguous span at a time: ReadableSpan returns the
// stored bytes starting at the head and WritableSpan the free bytes starting
// at the tail, neither crossing the end of the backing storage. After moving
// data in or out of a span the caller commits the byte count it actually
// transferred. Filling or draining across the wrap point therefore takes two
// rounds.
//
// The capacity is always a power of two. RingBuffer is not safe for
// concurrent use.
type RingBuffer struct {
	data     []byte
	mask     int
	head     int
	tail     int
	occupied int
}

// RoundCapacity returns the smallest power of two that is >= n.
// Values below 1 round to 1.
func RoundCapacity(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// NewRingBuffer allocates a ring buffer holding RoundCapacity(capacity) bytes.
func NewRingBuffer(capacity int) *RingBuffer {
	size := RoundCapacity(capacity)
	return &RingBuffer{
		data: make([]byte, size),
		mask: size - 1,
	}
}

// Cap returns the capacity in bytes.
func (r *RingBuffer) Cap() int { return len(r.data) }

// Len returns the number of stored bytes.
func (r *RingBuffer) Len() int { return r.occupied }

// Free returns the number of bytes that can still be stored.
func (r *RingBuffer) Free() int { return len(r.data) - r.occupied }

// Empty reports whether no bytes are stored.
func (r *RingBuffer) Empty() bool { return r.occupied == 0 }

// Full reports whether the buffer holds Cap bytes.
func (r *RingBuffer) Full() bool { return r.occupied == len(r.data) }

// ReadableSpan returns the longest run of stored bytes starting at the head.
// The slice aliases the buffer and is valid until the next commit.
func (r *RingBuffer) ReadableSpan() []byte {
	return r.data[r.head : r.head+r.readableLen()]
}

// WritableSpan returns the longest run of free bytes starting at the tail.
// The slice aliases the buffer and is valid until the next commit.
func (r *RingBuffer) WritableSpan() []byte {
	return r.data[r.tail : r.tail+r.writableLen()]
}

func (r *RingBuffer) readableLen() int {
	switch {
	case r.head == r.tail:
		if r.Full() {
			return len(r.data) - r.head
		}
		return 0
	case r.tail > r.head:
		return r.occupied
	default:
		return len(r.data) - r.head
	}
}

func (r *RingBuffer) writableLen() int {
	switch {
	case r.head == r.tail:
		if r.Full() {
			return 0
		}
		return len(r.data) - r.tail
	case r.tail > r.head:
		return len(r.data) - r.tail
	default:
		return r.head - r.tail
	}
}

// CommitRead releases n bytes from the head. n must not exceed the length of
// the span last returned by ReadableSpan.
func (r *RingBuffer) CommitRead(n int) {
	if n < 0 || n > r.readableLen() {
		panic(fmt.Sprintf("relaybuf: commit read of %d bytes, %d readable", n, r.readableLen()))
	}
	r.head = (r.head + n) & r.mask
	r.occupied -= n
}

// CommitWrite publishes n bytes at the tail. n must not exceed the length of
// the span last returned by WritableSpan.
func (r *RingBuffer) CommitWrite(n int) {
	if n < 0 || n > r.writableLen() {
		panic(fmt.Sprintf("relaybuf: commit write of %d bytes, %d writable", n, r.writableLen()))
	}
	r.tail = (r.tail + n) & r.mask
	r.occupied += n
}

// Read copies stored bytes into p, taking from both spans if needed.
// It returns 0 when the buffer is empty; it never returns an error.
func (r *RingBuffer) Read(p []byte) (int, error) {
	var n int
	for n < len(p) {
		c := copy(p[n:], r.ReadableSpan())
		if c == 0 {
			break
		}
		r.CommitRead(c)
		n += c
	}
	return n, nil
}

// Write copies as much of p as fits and returns the number of bytes stored.
// If the buffer fills before p is consumed it returns io.ErrShortWrite.
func (r *RingBuffer) Write(p []byte) (int, error) {
	var n int
	for n < len(p) {
		c := copy(r.WritableSpan(), p[n:])
		if c == 0 {
			break
		}
		r.CommitWrite(c)
		n += c
	}
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Reset discards all stored bytes.
func (r *RingBuffer) Reset() {
	r.head, r.tail, r.occupied = 0, 0, 0
}
