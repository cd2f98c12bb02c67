//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package relaybuf

// FD is unavailable on this platform.
type FD struct{}

// OpenFD returns ErrUnsupported.
func OpenFD(fd int) (*FD, error) { return nil, ErrUnsupported }

func (f *FD) Fd() int                     { return -1 }
func (f *FD) Read(p []byte) (int, error)  { return 0, ErrUnsupported }
func (f *FD) Write(p []byte) (int, error) { return 0, ErrUnsupported }
func (f *FD) Close() error                { return ErrUnsupported }

// FDPoller is unavailable on this platform.
type FDPoller struct{}

// NewFDPoller returns ErrUnsupported.
func NewFDPoller(in, out int) (*FDPoller, error) { return nil, ErrUnsupported }

func (p *FDPoller) Wait(Interest) (Readiness, error) { return Readiness{}, ErrUnsupported }
