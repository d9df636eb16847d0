package transport

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrSocketClosed indicates an operation on a closed socket.
	ErrSocketClosed = errors.New("socket closed")

	// ErrNotBound indicates an operation that needs a bound socket.
	ErrNotBound = errors.New("socket not bound")

	// ErrBindRetriesExhausted indicates the reliable-stream and UDP sockets
	// could not agree on a port within the retry budget.
	ErrBindRetriesExhausted = errors.New("could not bind tcp and udp to the same port")
)

// NetError is an error with the operation and address that caused it.
type NetError struct {
	Op   string // operation that caused the error
	Addr string // address if relevant
	Err  error  // underlying error
}

func (e *NetError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetError) Unwrap() error {
	return e.Err
}

func newNetError(op, addr string, err error) *NetError {
	return &NetError{
		Op:   op,
		Addr: addr,
		Err:  err,
	}
}

// IsAddrInUse reports whether err is an address-in-use bind failure.
func IsAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}
