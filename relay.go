package relaybuf

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// State is the phase of a Relay.
type State uint8

const (
	// Flowing accepts input and flushes output.
	Flowing State = iota
	// Draining no longer reads; it flushes what is buffered and stops.
	Draining
)

func (s State) String() string {
	if s == Draining {
		return "draining"
	}
	return "flowing"
}

// Stats counts the work done by a Relay.
type Stats struct {
	BytesRead    int64
	BytesWritten int64
	Iterations   int64
	// HighWater is the largest buffer occupancy observed.
	HighWater int
	// Dropped is the number of buffered bytes abandoned by a fatal error.
	Dropped int
}

// Relay moves bytes from one endpoint to another through a RingBuffer,
// reading only when there is room and writing only when there is data.
//
// Both endpoints are expected to be non-blocking: Read may return (0, nil)
// when nothing is available and Write may return a short count with a nil
// error. Read returning io.EOF ends the input.
type Relay struct {
	in     io.Reader
	out    io.Writer
	buf    *RingBuffer
	poller Poller
	logger *zap.Logger

	state          State
	stats          Stats
	closeEndpoints bool
}

// NewRelay returns a Relay that copies in to out through buf, waiting for
// readiness with poller.
func NewRelay(in io.Reader, out io.Writer, buf *RingBuffer, poller Poller, opts ...Option) *Relay {
	r := &Relay{
		in:             in,
		out:            out,
		buf:            buf,
		poller:         poller,
		logger:         zap.NewNop(),
		closeEndpoints: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the current phase.
func (r *Relay) State() State { return r.state }

// Stats returns a snapshot of the counters.
func (r *Relay) Stats() Stats { return r.stats }

// Run relays until the input has ended and every buffered byte has been
// written, or until the first fatal error. Endpoints implementing io.Closer
// are closed before Run returns, whatever the outcome.
func (r *Relay) Run() (err error) {
	if r.closeEndpoints {
		defer func() {
			err = multierr.Append(err, r.closeAll())
		}()
	}

	r.logger.Debug("relay started", zap.Int("capacity", r.buf.Cap()))
	for !r.done() {
		if err := r.step(); err != nil {
			r.stats.Dropped = r.buf.Len()
			r.logger.Error("relay aborted",
				zap.Error(err),
				zap.Stringer("state", r.state),
				zap.Int("dropped", r.stats.Dropped),
			)
			return err
		}
	}
	r.logger.Debug("relay finished",
		zap.Int64("bytes", r.stats.BytesWritten),
		zap.Int64("iterations", r.stats.Iterations),
	)
	return nil
}

func (r *Relay) done() bool {
	return r.state == Draining && r.buf.Empty()
}

func (r *Relay) interest() Interest {
	var i Interest
	if len(r.buf.ReadableSpan()) > 0 {
		i |= WatchOutput
	}
	if r.state == Flowing && len(r.buf.WritableSpan()) > 0 {
		i |= WatchInput
	}
	return i
}

func (r *Relay) step() error {
	interest := r.interest()
	r.stats.Iterations++

	ready, err := r.poller.Wait(interest)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReadinessWait, err)
	}
	if ce := r.logger.Check(zap.DebugLevel, "wake"); ce != nil {
		ce.Write(
			zap.Stringer("interest", interest),
			zap.Stringer("input", ready.Input),
			zap.Stringer("output", ready.Output),
			zap.Int("buffered", r.buf.Len()),
		)
	}

	if ready.Output&(EventHangup|EventError) != 0 {
		return fmt.Errorf("%w (%s)", ErrOutputClosed, ready.Output)
	}
	if ready.Input.Has(EventError) {
		return fmt.Errorf("%w (%s)", ErrInputError, ready.Input)
	}
	// A hang-up still carrying readable data is left to the read below; the
	// zero-byte read that follows the last chunk switches to draining.
	if ready.Input.Has(EventHangup) && !ready.Input.Has(EventReadable) {
		r.drain("hangup")
	}

	if ready.Output.Has(EventWritable) {
		if err := r.flush(); err != nil {
			return err
		}
	}
	if ready.Input.Has(EventReadable) && r.state == Flowing {
		if err := r.fill(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Relay) flush() error {
	span := r.buf.ReadableSpan()
	if len(span) == 0 {
		return nil
	}
	n, err := r.out.Write(span)
	if n < 0 || n > len(span) {
		return &TransferError{Op: OpWrite, Err: fmt.Errorf("invalid count %d for %d bytes", n, len(span))}
	}
	r.buf.CommitRead(n)
	r.stats.BytesWritten += int64(n)
	if err != nil {
		return &TransferError{Op: OpWrite, Err: err}
	}
	return nil
}

func (r *Relay) fill() error {
	span := r.buf.WritableSpan()
	if len(span) == 0 {
		return nil
	}
	n, err := r.in.Read(span)
	if n < 0 || n > len(span) {
		return &TransferError{Op: OpRead, Err: fmt.Errorf("invalid count %d for %d bytes", n, len(span))}
	}
	r.buf.CommitWrite(n)
	r.stats.BytesRead += int64(n)
	r.stats.HighWater = max(r.stats.HighWater, r.buf.Len())
	switch {
	case errors.Is(err, io.EOF):
		r.drain("eof")
	case err != nil:
		return &TransferError{Op: OpRead, Err: err}
	}
	return nil
}

func (r *Relay) drain(reason string) {
	if r.state == Draining {
		return
	}
	r.state = Draining
	r.logger.Debug("input ended",
		zap.String("reason", reason),
		zap.Int("buffered", r.buf.Len()),
	)
}

// closeAll closes in reverse order of opening, output first, so FDs sharing
// one open file description restore the oldest flags last.
func (r *Relay) closeAll() error {
	var err error
	if c, ok := r.out.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	if c, ok := r.in.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	return err
}
