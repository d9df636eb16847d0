package noise

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/flynn/noise"
	"github.com/opd-ai/noisenet/crypto"
)

var (
	// ErrHandshakeNotComplete indicates handshake is still in progress
	ErrHandshakeNotComplete = errors.New("handshake not complete")
	// ErrHandshakeComplete indicates handshake is already complete
	ErrHandshakeComplete = errors.New("handshake already complete")
	// ErrRemoteRejected indicates the remote static key was refused, either by
	// a validator or because it differs from the expected key.
	ErrRemoteRejected = errors.New("remote static key rejected")
)

// prologue binds both sides to this protocol; a peer speaking any other
// protocol over the same pattern fails the first message.
var prologue = []byte("noisenet/1")

// HandshakeRole defines whether we're initiating or responding to handshake
type HandshakeRole uint8

const (
	// Initiator starts the handshake and knows the responder's static key.
	Initiator HandshakeRole = iota
	// Responder learns the initiator's static key in the last message.
	Responder
)

func (r HandshakeRole) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// xkMessages is the number of messages in the XK pattern:
//
//	-> e, es
//	<- e, ee
//	-> s, se
const xkMessages = 3

// XKHandshake wraps a Noise XK handshake state.
//
// The initiator must know the responder's static key up front; the
// responder only learns the initiator's static key from the final message,
// which is where validation of the remote key happens.
type XKHandshake struct {
	role         HandshakeRole
	state        *noise.HandshakeState
	sendCipher   *noise.CipherState
	recvCipher   *noise.CipherState
	expected     [32]byte
	messageIndex int
	complete     bool

	// staticPrivate is shared with state and wiped once the handshake ends.
	staticPrivate []byte
}

// NewXKHandshake creates a new XK handshake. remoteStatic is required for
// the initiator and ignored for the responder.
func NewXKHandshake(local *crypto.KeyPair, remoteStatic *[32]byte, role HandshakeRole) (*XKHandshake, error) {
	if local == nil {
		return nil, errors.New("local key pair is required")
	}
	if role == Initiator && remoteStatic == nil {
		return nil, errors.New("initiator requires the remote static key")
	}

	staticKey := noise.DHKey{
		Private: make([]byte, 32),
		Public:  make([]byte, 32),
	}
	copy(staticKey.Private, local.Private[:])
	copy(staticKey.Public, local.Public[:])

	config := noise.Config{
		CipherSuite:   noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2b),
		Random:        rand.Reader,
		Pattern:       noise.HandshakeXK,
		Initiator:     role == Initiator,
		Prologue:      prologue,
		StaticKeypair: staticKey,
	}

	xk := &XKHandshake{role: role, staticPrivate: staticKey.Private}
	if role == Initiator {
		config.PeerStatic = make([]byte, 32)
		copy(config.PeerStatic, remoteStatic[:])
		xk.expected = *remoteStatic
	}

	state, err := noise.NewHandshakeState(config)
	if err != nil {
		crypto.ZeroBytes(staticKey.Private)
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}
	xk.state = state

	return xk, nil
}

// Role returns the role this side plays in the handshake.
func (xk *XKHandshake) Role() HandshakeRole {
	return xk.role
}

// WriteTurn reports whether the next handshake message is ours to write.
func (xk *XKHandshake) WriteTurn() bool {
	return (xk.messageIndex%2 == 0) == (xk.role == Initiator)
}

// WriteMessage produces the next outgoing handshake message.
func (xk *XKHandshake) WriteMessage(payload []byte) ([]byte, error) {
	if xk.complete {
		return nil, ErrHandshakeComplete
	}
	if !xk.WriteTurn() {
		return nil, fmt.Errorf("message %d is not ours to write", xk.messageIndex)
	}

	message, cs1, cs2, err := xk.state.WriteMessage(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("%s write failed: %w", xk.role, err)
	}
	xk.advance(cs1, cs2)
	return message, nil
}

// ReadMessage consumes the next incoming handshake message and returns its payload.
func (xk *XKHandshake) ReadMessage(message []byte) ([]byte, error) {
	if xk.complete {
		return nil, ErrHandshakeComplete
	}
	if xk.WriteTurn() {
		return nil, fmt.Errorf("message %d is ours to write", xk.messageIndex)
	}

	payload, cs1, cs2, err := xk.state.ReadMessage(nil, message)
	if err != nil {
		return nil, fmt.Errorf("%s read failed: %w", xk.role, err)
	}
	xk.advance(cs1, cs2)
	return payload, nil
}

// advance records a processed message and, on the final one, the cipher
// states. cs1 encrypts initiator to responder, cs2 the reverse.
func (xk *XKHandshake) advance(cs1, cs2 *noise.CipherState) {
	xk.messageIndex++
	if cs1 == nil || cs2 == nil {
		return
	}
	if xk.role == Initiator {
		xk.sendCipher, xk.recvCipher = cs1, cs2
	} else {
		xk.sendCipher, xk.recvCipher = cs2, cs1
	}
	xk.complete = true
	xk.Wipe()
}

// Wipe erases the local static private key held by the handshake. A wiped
// handshake that has not completed cannot continue.
func (xk *XKHandshake) Wipe() {
	crypto.ZeroBytes(xk.staticPrivate)
}

// IsComplete returns true if handshake is finished and cipher states are available.
func (xk *XKHandshake) IsComplete() bool {
	return xk.complete
}

// GetCipherStates returns the send and receive cipher states after successful handshake.
func (xk *XKHandshake) GetCipherStates() (*noise.CipherState, *noise.CipherState, error) {
	if !xk.complete {
		return nil, nil, ErrHandshakeNotComplete
	}
	return xk.sendCipher, xk.recvCipher, nil
}

// RemoteStatic returns the peer's static public key once it is known. For
// the responder that is after the final message; the initiator knows it
// from the start.
func (xk *XKHandshake) RemoteStatic() ([32]byte, error) {
	var key [32]byte
	remote := xk.state.PeerStatic()
	if len(remote) != 32 {
		return key, fmt.Errorf("remote static key not available")
	}
	copy(key[:], remote)
	return key, nil
}

// VerifyRemote checks, on the initiator, that the key the handshake ran
// against is the expected one.
func (xk *XKHandshake) VerifyRemote() error {
	if xk.role != Initiator {
		return nil
	}
	remote, err := xk.RemoteStatic()
	if err != nil {
		return err
	}
	if remote != xk.expected {
		return ErrRemoteRejected
	}
	return nil
}
