package noisenet

import "errors"

var (
	// ErrAlreadyListening is returned by Listen on a server that already
	// has a key pair.
	ErrAlreadyListening = errors.New("already listening")

	// ErrTimeout is the error a dial is destroyed with when no peer
	// connected before its timeout.
	ErrTimeout = errors.New("dial timed out")

	// ErrRaceDestroyed is returned by a dial closed by its owner before any
	// peer connected.
	ErrRaceDestroyed = errors.New("dial closed")

	// ErrServerClosed is the error an inbound stream is destroyed with when
	// its handshake completes after the server closed.
	ErrServerClosed = errors.New("server closed")
)
