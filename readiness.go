package relaybuf

import "strings"

// Interest is the set of endpoints a relay iteration wants to hear about.
type Interest uint8

const (
	// WatchInput asks to be woken when the input endpoint is readable.
	WatchInput Interest = 1 << iota
	// WatchOutput asks to be woken when the output endpoint is writable.
	WatchOutput
)

// Has reports whether every bit of w is set in i.
func (i Interest) Has(w Interest) bool { return i&w == w && w != 0 }

// String lists the watched endpoints, such as "input|output", or "none".
func (i Interest) String() string {
	var parts []string
	if i.Has(WatchInput) {
		parts = append(parts, "input")
	}
	if i.Has(WatchOutput) {
		parts = append(parts, "output")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Event is the readiness state reported for one endpoint.
type Event uint8

const (
	// EventReadable means a read will not block.
	EventReadable Event = 1 << iota
	// EventWritable means a write will not block.
	EventWritable
	// EventHangup means the peer closed. On the input side it is the
	// end-of-stream signal; on the output side it is fatal.
	EventHangup
	// EventError reports a failed or invalid descriptor. It is always fatal.
	EventError
)

// Has reports whether every bit of e is set in ev.
func (ev Event) Has(e Event) bool { return ev&e == e && e != 0 }

// String lists the set bits, such as "readable|hangup", or "none".
func (ev Event) String() string {
	var parts []string
	for _, f := range []struct {
		e    Event
		name string
	}{
		{EventReadable, "readable"},
		{EventWritable, "writable"},
		{EventHangup, "hangup"},
		{EventError, "error"},
	} {
		if ev.Has(f.e) {
			parts = append(parts, f.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Readiness holds the events observed for both endpoints after one wait.
// An endpoint that was not watched reports no events.
type Readiness struct {
	Input  Event
	Output Event
}

// Poller is the readiness primitive driving a Relay.
type Poller interface {
	// Wait blocks, without a timeout, until at least one endpoint named
	// in interest is ready or has hung up or failed.
	Wait(interest Interest) (Readiness, error)
}

// PollerFunc adapts an ordinary function to the Poller interface.
type PollerFunc func(Interest) (Readiness, error)

// Wait calls f(interest).
func (f PollerFunc) Wait(interest Interest) (Readiness, error) { return f(interest) }
