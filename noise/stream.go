package noise

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/flynn/noise"
	"github.com/google/uuid"
	"github.com/opd-ai/noisenet/crypto"
	"github.com/opd-ai/noisenet/limits"
	"github.com/sirupsen/logrus"
)

var (
	// ErrStreamClosed is returned for operations on a closed stream.
	ErrStreamClosed = errors.New("stream closed")
	// ErrBufferFull is returned when data written before the handshake
	// completes would exceed the pending write limit.
	ErrBufferFull = errors.New("pending write buffer full")
)

// StreamState is the lifecycle state of a Stream.
type StreamState uint8

const (
	StateHandshaking StreamState = iota
	StateEstablished
	StateClosed
)

func (s StreamState) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	default:
		return "closed"
	}
}

// Config describes one side of an encrypted stream.
type Config struct {
	// Role selects initiator (dialing) or responder (accepting) behaviour.
	Role HandshakeRole

	// KeyPair is the local static key pair.
	KeyPair *crypto.KeyPair

	// RemoteStatic is the key the initiator expects the responder to hold.
	RemoteStatic *[32]byte

	// Validate, if set, is called on the responder with the initiator's
	// static key. A non-nil error aborts the handshake.
	Validate func(remoteKey [32]byte) error

	// MaxPendingWrite bounds data queued before the handshake completes.
	// Zero means limits.MaxProcessingBuffer.
	MaxPendingWrite int

	// Logger receives the stream's log lines. Nil uses the standard logger.
	Logger *logrus.Entry
}

// Stream is an encrypted, authenticated byte stream over a raw net.Conn.
//
// The handshake runs in the background as soon as the stream is created.
// Reads block until it completes; writes issued before then are queued and
// flushed in order once it does. The stream owns the raw connection:
// closing either one ends the other.
type Stream struct {
	raw    net.Conn
	config Config
	id     string
	log    *logrus.Entry

	mu           sync.Mutex
	state        StreamState
	err          error
	pending      [][]byte
	pendingLen   int
	closeWrite   bool
	readEOF      bool
	remoteStatic [32]byte
	send         *noise.CipherState
	recv         *noise.CipherState

	handshakeDone chan struct{}
	done          chan struct{}

	writeMu sync.Mutex

	readMu   sync.Mutex
	frameBuf []byte
	plainBuf []byte
	unread   []byte
}

// NewStream wraps raw and starts the handshake.
func NewStream(raw net.Conn, config Config) (*Stream, error) {
	if raw == nil {
		return nil, errors.New("raw connection is required")
	}

	hs, err := NewXKHandshake(config.KeyPair, config.RemoteStatic, config.Role)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	logger := config.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &Stream{
		raw:    raw,
		config: config,
		id:     id,
		log: logger.WithFields(logrus.Fields{
			"stream": id,
			"role":   config.Role.String(),
		}),
		handshakeDone: make(chan struct{}),
		done:          make(chan struct{}),
	}

	go s.run(hs)
	return s, nil
}

func (s *Stream) run(hs *XKHandshake) {
	remote, err := s.handshake(hs)
	if err != nil {
		hs.Wipe()
		s.log.WithError(err).Debug("Handshake failed")
		s.destroy(fmt.Errorf("handshake: %w", err))
		return
	}
	send, recv, _ := hs.GetCipherStates()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateEstablished
	s.remoteStatic = remote
	s.send, s.recv = send, recv
	pending := s.pending
	s.pending, s.pendingLen = nil, 0
	closeWrite := s.closeWrite
	close(s.handshakeDone)
	s.mu.Unlock()

	s.log.WithFields(crypto.SecureFieldHash(remote[:], "remote_key")).Debug("Handshake complete")

	for _, p := range pending {
		if err := s.writeData(p); err != nil {
			s.destroy(err)
			return
		}
	}
	if closeWrite {
		if err := s.writeEOF(); err != nil {
			s.destroy(err)
		}
	}
}

func (s *Stream) handshake(hs *XKHandshake) ([32]byte, error) {
	var remote [32]byte
	buf := make([]byte, limits.MaxNoiseMessage)

	for !hs.IsComplete() {
		if hs.WriteTurn() {
			msg, err := hs.WriteMessage(nil)
			if err != nil {
				return remote, err
			}
			if err := writeFrame(s.raw, msg); err != nil {
				return remote, err
			}
			continue
		}

		frame, err := readFrame(s.raw, buf)
		if err != nil {
			return remote, err
		}
		if _, err := hs.ReadMessage(frame); err != nil {
			return remote, err
		}
	}

	remote, err := hs.RemoteStatic()
	if err != nil {
		return remote, err
	}
	if err := hs.VerifyRemote(); err != nil {
		return remote, err
	}
	if s.config.Role == Responder && s.config.Validate != nil {
		if err := s.config.Validate(remote); err != nil {
			return remote, fmt.Errorf("%w: %v", ErrRemoteRejected, err)
		}
	}
	return remote, nil
}

// Must be called with writeMu held.
func (s *Stream) writeData(b []byte) error {
	for len(b) > 0 {
		n := len(b)
		if n > limits.MaxFramePayload {
			n = limits.MaxFramePayload
		}
		ciphertext, err := s.send.Encrypt(nil, nil, b[:n])
		if err != nil {
			return err
		}
		if err := writeFrame(s.raw, ciphertext); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// writeEOF sends the authenticated end-of-stream marker, an empty payload,
// and half-closes the raw connection when it supports that.
// Must be called with writeMu held.
func (s *Stream) writeEOF() error {
	ciphertext, err := s.send.Encrypt(nil, nil, nil)
	if err != nil {
		return err
	}
	if err := writeFrame(s.raw, ciphertext); err != nil {
		return err
	}
	if cw, ok := s.raw.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

// Read reads decrypted data. It blocks until the handshake completes.
func (s *Stream) Read(b []byte) (int, error) {
	select {
	case <-s.handshakeDone:
	case <-s.done:
		select {
		case <-s.handshakeDone:
		default:
			return 0, s.closedErr()
		}
	}

	s.readMu.Lock()
	defer s.readMu.Unlock()

	if len(b) == 0 {
		return 0, nil
	}

	for len(s.unread) == 0 {
		s.mu.Lock()
		eof := s.readEOF
		s.mu.Unlock()
		if eof {
			return 0, io.EOF
		}

		if s.frameBuf == nil {
			s.frameBuf = make([]byte, limits.MaxNoiseMessage)
			s.plainBuf = make([]byte, 0, limits.MaxFramePayload)
		}

		frame, err := readFrame(s.raw, s.frameBuf)
		if err == io.EOF {
			s.markReadEOF()
			return 0, io.EOF
		}
		if err != nil {
			s.destroy(err)
			return 0, s.closedErr()
		}

		plaintext, err := s.recv.Decrypt(s.plainBuf[:0], nil, frame)
		if err != nil {
			s.destroy(fmt.Errorf("decrypting frame: %w", err))
			return 0, s.closedErr()
		}
		if len(plaintext) == 0 {
			s.markReadEOF()
			return 0, io.EOF
		}
		s.unread = plaintext
	}

	n := copy(b, s.unread)
	s.unread = s.unread[n:]
	return n, nil
}

func (s *Stream) markReadEOF() {
	s.mu.Lock()
	s.readEOF = true
	both := s.closeWrite
	s.mu.Unlock()

	if both {
		s.destroy(nil)
	}
}

// Write encrypts and sends b. Before the handshake completes the data is
// copied into a bounded queue instead.
func (s *Stream) Write(b []byte) (int, error) {
	s.mu.Lock()
	switch {
	case s.state == StateClosed || s.closeWrite:
		s.mu.Unlock()
		return 0, ErrStreamClosed
	case len(b) == 0:
		s.mu.Unlock()
		return 0, nil
	case s.state == StateHandshaking:
		if err := limits.ValidatePendingWrite(s.pendingLen, len(b), s.config.MaxPendingWrite); err != nil {
			s.mu.Unlock()
			return 0, fmt.Errorf("%w: %v", ErrBufferFull, err)
		}
		p := make([]byte, len(b))
		copy(p, b)
		s.pending = append(s.pending, p)
		s.pendingLen += len(p)
		s.mu.Unlock()
		return len(b), nil
	}
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.writeData(b); err != nil {
		s.destroy(err)
		return 0, err
	}
	return len(b), nil
}

// CloseWrite ends the write direction after any queued data. The stream is
// closed once both directions have ended.
func (s *Stream) CloseWrite() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	if s.closeWrite {
		s.mu.Unlock()
		return nil
	}
	s.closeWrite = true
	state, readEOF := s.state, s.readEOF
	s.mu.Unlock()

	if state == StateHandshaking {
		return nil
	}

	s.writeMu.Lock()
	err := s.writeEOF()
	s.writeMu.Unlock()
	if err != nil {
		s.destroy(err)
		return err
	}
	if readEOF {
		s.destroy(nil)
	}
	return nil
}

// Close destroys the stream and its raw connection. It is safe to call
// more than once.
func (s *Stream) Close() error {
	s.destroy(nil)
	return nil
}

// Destroy closes the stream recording err as the reason.
func (s *Stream) Destroy(err error) {
	s.destroy(err)
}

func (s *Stream) destroy(err error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.err = err
	s.pending, s.pendingLen = nil, 0
	close(s.done)
	s.mu.Unlock()

	s.raw.Close()

	if err != nil {
		s.log.WithError(err).Debug("Stream destroyed")
	} else {
		s.log.Debug("Stream closed")
	}
}

func (s *Stream) closedErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	return ErrStreamClosed
}

// Handshake blocks until the handshake completes, the stream closes or ctx
// is done.
func (s *Stream) Handshake(ctx context.Context) error {
	select {
	case <-s.handshakeDone:
		return nil
	case <-s.done:
		select {
		case <-s.handshakeDone:
			return nil
		default:
			return s.closedErr()
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandshakeDone is closed when the handshake completes successfully.
func (s *Stream) HandshakeDone() <-chan struct{} {
	return s.handshakeDone
}

// Done is closed when the stream is closed or destroyed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Connected is closed once the raw transport is connected. Raw connections
// that are connected from the start report so immediately.
func (s *Stream) Connected() <-chan struct{} {
	if c, ok := s.raw.(interface{ Connected() <-chan struct{} }); ok {
		return c.Connected()
	}
	return closedChan
}

// Err returns the error the stream was destroyed with, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// State returns the current stream state.
func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemoteStatic returns the authenticated remote static key once the
// handshake has completed.
func (s *Stream) RemoteStatic() ([32]byte, bool) {
	select {
	case <-s.handshakeDone:
	default:
		return [32]byte{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteStatic, true
}

// ID returns the stream's log correlation id.
func (s *Stream) ID() string {
	return s.id
}

// Role returns the handshake role of this side.
func (s *Stream) Role() HandshakeRole {
	return s.config.Role
}

// LocalAddr returns the local address of the raw connection.
func (s *Stream) LocalAddr() net.Addr {
	return s.raw.LocalAddr()
}

// RemoteAddr returns the remote address of the raw connection.
func (s *Stream) RemoteAddr() net.Addr {
	return s.raw.RemoteAddr()
}

// SetDeadline calls SetDeadline on the raw connection.
func (s *Stream) SetDeadline(t time.Time) error {
	return s.raw.SetDeadline(t)
}

// SetReadDeadline calls SetReadDeadline on the raw connection.
func (s *Stream) SetReadDeadline(t time.Time) error {
	return s.raw.SetReadDeadline(t)
}

// SetWriteDeadline calls SetWriteDeadline on the raw connection.
func (s *Stream) SetWriteDeadline(t time.Time) error {
	return s.raw.SetWriteDeadline(t)
}

var _ net.Conn = (*Stream)(nil)
