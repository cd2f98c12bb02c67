//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package relaybuf

import (
	"io"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

var (
	_ io.Reader = (*FD)(nil)
	_ io.Writer = (*FD)(nil)
	_ io.Closer = (*FD)(nil)
	_ Poller    = (*FDPoller)(nil)
)

// FD is a raw file descriptor switched to non-blocking mode.
//
// Read returns (0, nil) when no data is available and io.EOF when the peer
// has closed. Write may return a short count with a nil error.
type FD struct {
	fd    int
	flags int
}

// OpenFD puts fd in non-blocking mode. Close restores the previous flags
// before closing the descriptor.
func OpenFD(fd int) (*FD, error) {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return nil, xerrors.Errorf("get flags of fd %d: %w", fd, err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|unix.O_NONBLOCK); err != nil {
		return nil, xerrors.Errorf("set non-blocking on fd %d: %w", fd, err)
	}
	return &FD{fd: fd, flags: flags}, nil
}

// Fd returns the descriptor number.
func (f *FD) Fd() int { return f.fd }

func (f *FD) Read(p []byte) (int, error) {
	n, err := unix.Read(f.fd, p)
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		return 0, nil
	case err != nil:
		return 0, err
	case n == 0 && len(p) > 0:
		return 0, io.EOF
	}
	return n, nil
}

func (f *FD) Write(p []byte) (int, error) {
	n, err := unix.Write(f.fd, p)
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		return 0, nil
	case err != nil:
		return 0, err
	}
	return n, nil
}

// Close restores the original descriptor flags and closes it. Calling it
// more than once returns an error from the second close.
func (f *FD) Close() error {
	var err error
	if _, ferr := unix.FcntlInt(uintptr(f.fd), unix.F_SETFL, f.flags); ferr != nil && ferr != unix.EBADF {
		err = xerrors.Errorf("restore flags of fd %d: %w", f.fd, ferr)
	}
	if cerr := unix.Close(f.fd); cerr != nil {
		err = multierr.Append(err, xerrors.Errorf("close fd %d: %w", f.fd, cerr))
	}
	return err
}

// FDPoller waits on an input and an output descriptor with poll(2).
type FDPoller struct {
	fds [2]unix.PollFd
	in  int32
	out int32
}

// NewFDPoller returns a poller for the in and out descriptors.
func NewFDPoller(in, out int) (*FDPoller, error) {
	return &FDPoller{in: int32(in), out: int32(out)}, nil
}

// Wait polls the descriptors named by interest with no timeout. A negative
// descriptor is ignored by the kernel, which is how an endpoint is left out.
// Interrupted polls are restarted.
func (p *FDPoller) Wait(interest Interest) (Readiness, error) {
	p.fds[0] = unix.PollFd{Fd: -1}
	p.fds[1] = unix.PollFd{Fd: -1}
	if interest.Has(WatchInput) {
		p.fds[0] = unix.PollFd{Fd: p.in, Events: unix.POLLIN}
	}
	if interest.Has(WatchOutput) {
		p.fds[1] = unix.PollFd{Fd: p.out, Events: unix.POLLOUT}
	}

	for {
		_, err := unix.Poll(p.fds[:], -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return Readiness{}, xerrors.Errorf("poll: %w", err)
		}
		break
	}
	return Readiness{
		Input:  pollEvents(p.fds[0].Revents),
		Output: pollEvents(p.fds[1].Revents),
	}, nil
}

func pollEvents(revents int16) Event {
	var ev Event
	if revents&unix.POLLIN != 0 {
		ev |= EventReadable
	}
	if revents&unix.POLLOUT != 0 {
		ev |= EventWritable
	}
	if revents&unix.POLLHUP != 0 {
		ev |= EventHangup
	}
	if revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
		ev |= EventError
	}
	return ev
}
