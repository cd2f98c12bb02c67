package relaybuf

import (
	"golang.org/x/xerrors"
)

var (
	// ErrReadinessWait is returned when the readiness primitive itself fails.
	ErrReadinessWait = xerrors.New("relaybuf: readiness wait failed")
	// ErrOutputClosed is returned when the output endpoint hangs up or
	// reports an error. Buffered bytes not yet written are discarded.
	ErrOutputClosed = xerrors.New("relaybuf: output closed")
	// ErrInputError is returned when the input endpoint reports an error
	// condition. A plain hang-up is end-of-stream, not an error.
	ErrInputError = xerrors.New("relaybuf: input error")
	// ErrUnsupported is returned by the descriptor helpers on platforms
	// without poll(2).
	ErrUnsupported = xerrors.New("relaybuf: platform not supported")
)

// Op names the side of a transfer.
type Op string

const (
	OpRead  Op = "read"
	OpWrite Op = "write"
)

// TransferError records a failed read from the input or write to the output.
type TransferError struct {
	Op  Op
	Err error
}

func (e *TransferError) Error() string {
	return "relaybuf: " + string(e.Op) + ": " + e.Err.Error()
}

func (e *TransferError) Unwrap() error { return e.Err }
