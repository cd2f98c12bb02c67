// Package relaybuf relays a byte stream from one endpoint to another through a
// fixed-size ring buffer, so a fast producer is not stalled by a slow consumer
// (or the reverse) until the buffer fills up.
//
// A Relay drives non-blocking endpoints from a single goroutine: on every
// iteration it asks its Poller to watch the input only while the ring has
// room, and the output only while the ring holds data, then moves at most one
// contiguous span in each direction. Once the input ends the relay stops
// reading and keeps flushing until the ring is empty.
//
// Pipe offers the same buffering between goroutines, with io.Pipe semantics.
package relaybuf
