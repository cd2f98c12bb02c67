package relaybuf_test

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/jacoelho/relaybuf"
)

func TestFDRelayThroughPipes(t *testing.T) {
	src := newRawPipe(t)
	dst := newRawPipe(t)

	in, err := relaybuf.OpenFD(src.r)
	require.NoError(t, err)
	out, err := relaybuf.OpenFD(dst.w)
	require.NoError(t, err)
	poller, err := relaybuf.NewFDPoller(src.r, dst.w)
	require.NoError(t, err)

	data := pattern(1 << 20)

	var (
		wg       sync.WaitGroup
		writeErr error
		received []byte
		readErr  error
	)
	wg.Go(func() {
		writeErr = writeAll(src.w, data)
		src.closeWrite()
	})
	wg.Go(func() {
		received, readErr = readAll(dst.r)
	})

	relay := relaybuf.NewRelay(in, out, relaybuf.NewRingBuffer(4096), poller)
	require.NoError(t, relay.Run())
	src.forgetRead()
	dst.forgetWrite()

	wg.Wait()
	require.NoError(t, writeErr)
	require.NoError(t, readErr)
	require.True(t, bytes.Equal(data, received), "data integrity check failed")
	require.EqualValues(t, len(data), relay.Stats().BytesWritten)
}

func TestFDRelayOutputReaderGone(t *testing.T) {
	src := newRawPipe(t)
	dst := newRawPipe(t)
	require.NoError(t, writeAll(src.w, []byte("never delivered")))
	dst.closeRead()

	in, err := relaybuf.OpenFD(src.r)
	require.NoError(t, err)
	out, err := relaybuf.OpenFD(dst.w)
	require.NoError(t, err)
	poller, err := relaybuf.NewFDPoller(src.r, dst.w)
	require.NoError(t, err)

	relay := relaybuf.NewRelay(in, out, relaybuf.NewRingBuffer(64), poller)
	require.ErrorIs(t, relay.Run(), relaybuf.ErrOutputClosed)
	src.forgetRead()
	dst.forgetWrite()
}

func TestFDRead(t *testing.T) {
	p := newRawPipe(t)
	fd, err := relaybuf.OpenFD(p.r)
	require.NoError(t, err)
	t.Cleanup(func() {
		fd.Close()
		p.forgetRead()
	})

	buf := make([]byte, 8)

	// Nothing written yet: a non-blocking read reports no progress.
	n, err := fd.Read(buf)
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, writeAll(p.w, []byte("abc")))
	n, err = fd.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "abc", string(buf[:n]))

	p.closeWrite()
	_, err = fd.Read(buf)
	require.Equal(t, io.EOF, err)
}

func TestFDCloseRestoresFlags(t *testing.T) {
	p := newRawPipe(t)
	dup, err := unix.Dup(p.r)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(dup) })

	fd, err := relaybuf.OpenFD(p.r)
	require.NoError(t, err)
	require.NotZero(t, fileFlags(t, dup)&unix.O_NONBLOCK)

	require.NoError(t, fd.Close())
	p.forgetRead()
	require.Zero(t, fileFlags(t, dup)&unix.O_NONBLOCK)
}

func TestFDRelayRestoresSharedDescriptionFlags(t *testing.T) {
	// Two descriptors over one open file description, like a terminal on
	// both stdin and stdout.
	p := newRawPipe(t)
	inFD, err := unix.Dup(p.r)
	require.NoError(t, err)
	outFD, err := unix.Dup(p.r)
	require.NoError(t, err)

	in, err := relaybuf.OpenFD(inFD)
	require.NoError(t, err)
	out, err := relaybuf.OpenFD(outFD)
	require.NoError(t, err)
	require.NotZero(t, fileFlags(t, p.r)&unix.O_NONBLOCK)

	pollFailure := errors.New("poll failure")
	poller := relaybuf.PollerFunc(func(relaybuf.Interest) (relaybuf.Readiness, error) {
		return relaybuf.Readiness{}, pollFailure
	})
	relay := relaybuf.NewRelay(in, out, relaybuf.NewRingBuffer(64), poller)
	require.ErrorIs(t, relay.Run(), pollFailure)

	require.Zero(t, fileFlags(t, p.r)&unix.O_NONBLOCK, "shared description left non-blocking")
}

func TestFDPollerEvents(t *testing.T) {
	p := newRawPipe(t)
	poller, err := relaybuf.NewFDPoller(p.r, p.w)
	require.NoError(t, err)

	// An empty pipe is writable; the read end is left out of the wait.
	ready, err := poller.Wait(relaybuf.WatchOutput)
	require.NoError(t, err)
	require.True(t, ready.Output.Has(relaybuf.EventWritable))
	require.Zero(t, ready.Input)

	require.NoError(t, writeAll(p.w, []byte("x")))
	ready, err = poller.Wait(relaybuf.WatchInput)
	require.NoError(t, err)
	require.True(t, ready.Input.Has(relaybuf.EventReadable))
	require.Zero(t, ready.Output)

	// The writer is gone but a byte remains: readable and hung up.
	p.closeWrite()
	ready, err = poller.Wait(relaybuf.WatchInput)
	require.NoError(t, err)
	require.True(t, ready.Input.Has(relaybuf.EventReadable|relaybuf.EventHangup))

	_, err = unix.Read(p.r, make([]byte, 1))
	require.NoError(t, err)
	ready, err = poller.Wait(relaybuf.WatchInput)
	require.NoError(t, err)
	require.Equal(t, relaybuf.EventHangup, ready.Input)
}

type rawPipe struct {
	r, w int
}

func newRawPipe(t *testing.T) *rawPipe {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	p := &rawPipe{r: fds[0], w: fds[1]}
	t.Cleanup(func() {
		p.closeRead()
		p.closeWrite()
	})
	return p
}

func (p *rawPipe) closeRead() {
	if p.r >= 0 {
		unix.Close(p.r)
		p.r = -1
	}
}

func (p *rawPipe) closeWrite() {
	if p.w >= 0 {
		unix.Close(p.w)
		p.w = -1
	}
}

// forgetRead and forgetWrite drop descriptors that an FD has taken over.
func (p *rawPipe) forgetRead()  { p.r = -1 }
func (p *rawPipe) forgetWrite() { p.w = -1 }

func writeAll(fd int, data []byte) error {
	for len(data) > 0 {
		n, err := unix.Write(fd, data)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func readAll(fd int) ([]byte, error) {
	var out bytes.Buffer
	buf := make([]byte, 32*1024)
	for {
		n, err := unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return out.Bytes(), err
		}
		if n == 0 {
			return out.Bytes(), nil
		}
		out.Write(buf[:n])
	}
}

func fileFlags(t *testing.T, fd int) int {
	t.Helper()
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	require.NoError(t, err)
	return flags
}
