package relaybuf

import (
	"io"
	"sync"
)

var (
	_ io.Reader     = (*PipeReader)(nil)
	_ io.WriterTo   = (*PipeReader)(nil)
	_ io.Closer     = (*PipeReader)(nil)
	_ io.Writer     = (*PipeWriter)(nil)
	_ io.ReaderFrom = (*PipeWriter)(nil)
	_ io.Closer     = (*PipeWriter)(nil)
)

// pipe is the in-process relay: a RingBuffer shared by goroutines, with
// readers parked while it is empty and writers parked while it is full.
type pipe struct {
	notFull  sync.Cond
	notEmpty sync.Cond

	ring *RingBuffer
	mu   sync.Mutex

	reader half
	writer half
}

// half records that one side of a pipe was closed, and the error its peer
// reports from then on.
type half struct {
	closed bool
	err    error
}

// close keeps the first error given; a nil err becomes fallback.
func (h *half) close(err error, withErr bool, fallback error) {
	h.closed = true
	if withErr && h.err == nil {
		if err == nil {
			err = fallback
		}
		h.err = err
	}
}

func (h *half) errOr(fallback error) error {
	if h.err != nil {
		return h.err
	}
	return fallback
}

func newPipe(size int) *pipe {
	p := &pipe{ring: NewRingBuffer(size)}
	p.notFull.L = &p.mu
	p.notEmpty.L = &p.mu
	return p
}

func (p *pipe) read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.waitReadableLocked(); err != nil {
		return 0, err
	}

	wasFull := p.ring.Full()
	n, _ := p.ring.Read(b)
	if wasFull {
		p.notFull.Signal()
	}
	return n, nil
}

func (p *pipe) write(b []byte) (n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(b) > 0 {
		if err := p.waitWritableLocked(); err != nil {
			return n, err
		}
		wasEmpty := p.ring.Empty()
		wrote := copy(p.ring.WritableSpan(), b)
		p.ring.CommitWrite(wrote)
		b = b[wrote:]
		n += wrote
		if wasEmpty {
			p.notEmpty.Signal()
		}
	}
	return n, nil
}

func (p *pipe) close(h *half, err error, withErr bool, fallback error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h.close(err, withErr, fallback)
	p.notEmpty.Broadcast()
	p.notFull.Broadcast()
}

// closedErrLocked returns nil while both sides are open. A closed reader
// takes precedence; writerGone is returned when only the writer is closed.
func (p *pipe) closedErrLocked(writerGone error) error {
	switch {
	case p.reader.closed:
		return p.reader.errOr(io.ErrClosedPipe)
	case p.writer.closed:
		return writerGone
	}
	return nil
}

// waitReadableLocked lets a reader drain what is buffered even after the
// reader side was closed.
func (p *pipe) waitReadableLocked() error {
	for p.ring.Empty() {
		if err := p.closedErrLocked(p.writer.errOr(io.EOF)); err != nil {
			return err
		}
		p.notEmpty.Wait()
	}
	return nil
}

func (p *pipe) waitWritableLocked() error {
	for {
		if err := p.closedErrLocked(io.ErrClosedPipe); err != nil {
			return err
		}
		if !p.ring.Full() {
			return nil
		}
		p.notFull.Wait()
	}
}

// Pipe creates an in-memory pipe backed by a RingBuffer of at least size
// bytes. Writes complete as soon as the data fits in the ring; they block
// only while it is full. Reads block only while it is empty.
func Pipe(size int) (*PipeReader, *PipeWriter) {
	p := newPipe(size)
	return &PipeReader{p}, &PipeWriter{p}
}

// PipeReader is the read half of a pipe.
type PipeReader struct {
	p *pipe
}

// Read implements io.Reader.
func (r *PipeReader) Read(b []byte) (int, error) {
	return r.p.read(b)
}

// Close closes the reader side of the pipe. Bytes already buffered can
// still be read.
func (r *PipeReader) Close() error {
	r.p.close(&r.p.reader, nil, false, io.ErrClosedPipe)
	return nil
}

// CloseWithError closes the reader side of the pipe with an error.
// The error will be returned to future writes on the writer side.
func (r *PipeReader) CloseWithError(err error) error {
	r.p.close(&r.p.reader, err, true, io.ErrClosedPipe)
	return nil
}

// WriteTo implements io.WriterTo. It writes each readable span of the ring
// straight to w, without an intermediate buffer. It must not run
// concurrently with Read.
func (r *PipeReader) WriteTo(w io.Writer) (n int64, err error) {
	p := r.p
	for {
		p.mu.Lock()
		if err := p.waitReadableLocked(); err != nil {
			p.mu.Unlock()
			if err == io.EOF {
				return n, nil
			}
			return n, err
		}
		span := p.ring.ReadableSpan()
		// The span stays valid while unlocked: only this reader commits
		// reads and writers never touch stored bytes.
		p.mu.Unlock()

		wn, wErr := w.Write(span)
		if wn < 0 || wn > len(span) {
			wn = 0
			if wErr == nil {
				wErr = io.ErrShortWrite
			}
		}

		p.mu.Lock()
		wasFull := p.ring.Full()
		p.ring.CommitRead(wn)
		if wasFull && wn > 0 {
			p.notFull.Signal()
		}
		p.mu.Unlock()

		n += int64(wn)
		if wErr != nil {
			return n, wErr
		}
		if wn != len(span) {
			return n, io.ErrShortWrite
		}
	}
}

// PipeWriter is the write half of a pipe.
type PipeWriter struct {
	p *pipe
}

// Write implements io.Writer.
func (w *PipeWriter) Write(b []byte) (int, error) {
	return w.p.write(b)
}

// ReadFrom implements io.ReaderFrom. It reads from src straight into the
// writable span of the ring until src returns io.EOF or an error. It must
// not run concurrently with Write.
func (w *PipeWriter) ReadFrom(src io.Reader) (n int64, err error) {
	p := w.p
	for {
		p.mu.Lock()
		if err := p.waitWritableLocked(); err != nil {
			p.mu.Unlock()
			return n, err
		}
		span := p.ring.WritableSpan()
		// Readers never touch free bytes, so src may fill the span unlocked.
		p.mu.Unlock()

		rn, rErr := src.Read(span)
		if rn < 0 || rn > len(span) {
			rn = 0
			if rErr == nil {
				rErr = io.ErrUnexpectedEOF
			}
		}

		p.mu.Lock()
		wasEmpty := p.ring.Empty()
		p.ring.CommitWrite(rn)
		if wasEmpty && rn > 0 {
			p.notEmpty.Signal()
		}
		p.mu.Unlock()

		n += int64(rn)
		if rErr == io.EOF {
			return n, nil
		}
		if rErr != nil {
			return n, rErr
		}
	}
}

// Close closes the writer side of the pipe.
func (w *PipeWriter) Close() error {
	w.p.close(&w.p.writer, nil, false, io.EOF)
	return nil
}

// CloseWithError closes the writer side of the pipe with an error.
// The error will be returned to future reads on the reader side.
func (w *PipeWriter) CloseWithError(err error) error {
	w.p.close(&w.p.writer, err, true, io.EOF)
	return nil
}
