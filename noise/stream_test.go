package noise

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/opd-ai/noisenet/crypto"
	"github.com/opd-ai/noisenet/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type streamPair struct {
	client, server         *Stream
	clientKeys, serverKeys *crypto.KeyPair
}

func newStreamPair(t *testing.T, validate func([32]byte) error) *streamPair {
	t.Helper()
	clientRaw, serverRaw := net.Pipe()

	p := &streamPair{clientKeys: mustKeyPair(t), serverKeys: mustKeyPair(t)}

	var err error
	p.server, err = NewStream(serverRaw, Config{
		Role:     Responder,
		KeyPair:  p.serverKeys,
		Validate: validate,
	})
	require.NoError(t, err)

	p.client, err = NewStream(clientRaw, Config{
		Role:         Initiator,
		KeyPair:      p.clientKeys,
		RemoteStatic: &p.serverKeys.Public,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		p.client.Close()
		p.server.Close()
	})
	return p
}

func handshakeCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestStreamHandshakeAndData(t *testing.T) {
	p := newStreamPair(t, nil)

	go func() {
		p.client.Write([]byte("hello world"))
	}()

	buf := make([]byte, 64)
	n, err := p.server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(buf[:n]))

	require.NoError(t, p.client.Handshake(handshakeCtx(t)))
	require.NoError(t, p.server.Handshake(handshakeCtx(t)))

	remote, ok := p.server.RemoteStatic()
	require.True(t, ok)
	assert.Equal(t, p.clientKeys.Public, remote)

	remote, ok = p.client.RemoteStatic()
	require.True(t, ok)
	assert.Equal(t, p.serverKeys.Public, remote)

	go func() {
		p.server.Write([]byte("pong"))
	}()
	n, err = p.client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf[:n]))
	assert.Equal(t, StateEstablished, p.client.State())
}

func TestStreamPendingWritesFlushInOrder(t *testing.T) {
	clientRaw, serverRaw := net.Pipe()
	serverKeys := mustKeyPair(t)

	client, err := NewStream(clientRaw, Config{
		Role:         Initiator,
		KeyPair:      mustKeyPair(t),
		RemoteStatic: &serverKeys.Public,
	})
	require.NoError(t, err)
	defer client.Close()

	// No responder yet: everything written here must queue.
	for _, part := range []string{"one ", "two ", "three"} {
		n, err := client.Write([]byte(part))
		require.NoError(t, err)
		assert.Equal(t, len(part), n)
	}
	assert.Equal(t, StateHandshaking, client.State())

	server, err := NewStream(serverRaw, Config{Role: Responder, KeyPair: serverKeys})
	require.NoError(t, err)
	defer server.Close()

	got := make([]byte, len("one two three"))
	_, err = io.ReadFull(server, got)
	require.NoError(t, err)
	assert.Equal(t, "one two three", string(got))
}

func TestStreamPendingWriteLimit(t *testing.T) {
	clientRaw, _ := net.Pipe()
	serverKeys := mustKeyPair(t)

	client, err := NewStream(clientRaw, Config{
		Role:            Initiator,
		KeyPair:         mustKeyPair(t),
		RemoteStatic:    &serverKeys.Public,
		MaxPendingWrite: 8,
	})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("12345678"))
	require.NoError(t, err)
	_, err = client.Write([]byte("9"))
	assert.ErrorIs(t, err, ErrBufferFull)
}

func TestStreamLargeWriteIsSplit(t *testing.T) {
	p := newStreamPair(t, nil)

	payload := bytes.Repeat([]byte("0123456789abcdef"), (limits.MaxFramePayload*2)/16+7)
	go func() {
		p.client.Write(payload)
	}()

	got := make([]byte, len(payload))
	_, err := io.ReadFull(p.server, got)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, got))
}

func TestStreamValidatorRejects(t *testing.T) {
	denied := errors.New("not on the list")
	var seen [32]byte
	p := newStreamPair(t, func(remote [32]byte) error {
		seen = remote
		return denied
	})

	err := p.server.Handshake(handshakeCtx(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemoteRejected)
	assert.ErrorIs(t, p.server.Err(), ErrRemoteRejected)
	assert.Equal(t, p.clientKeys.Public, seen)

	select {
	case <-p.server.Done():
	case <-time.After(time.Second):
		t.Fatal("rejected stream was not destroyed")
	}

	// The initiator finishes its side, then sees the connection end.
	_, err = p.client.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestStreamInitiatorWrongKey(t *testing.T) {
	clientRaw, serverRaw := net.Pipe()
	serverKeys := mustKeyPair(t)
	impostor := mustKeyPair(t)

	server, err := NewStream(serverRaw, Config{Role: Responder, KeyPair: serverKeys})
	require.NoError(t, err)
	defer server.Close()

	client, err := NewStream(clientRaw, Config{
		Role:         Initiator,
		KeyPair:      mustKeyPair(t),
		RemoteStatic: &impostor.Public,
	})
	require.NoError(t, err)
	defer client.Close()

	assert.Error(t, server.Handshake(handshakeCtx(t)))
	assert.Error(t, client.Handshake(handshakeCtx(t)))
	_, ok := client.RemoteStatic()
	assert.False(t, ok)
}

func TestStreamWriteAfterClose(t *testing.T) {
	p := newStreamPair(t, nil)

	require.NoError(t, p.client.Close())
	require.NoError(t, p.client.Close())

	_, err := p.client.Write([]byte("late"))
	assert.ErrorIs(t, err, ErrStreamClosed)
	assert.NoError(t, p.client.Err())

	_, err = p.client.Read(make([]byte, 4))
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestStreamRawCloseDestroysStream(t *testing.T) {
	clientRaw, serverRaw := net.Pipe()
	server, err := NewStream(serverRaw, Config{Role: Responder, KeyPair: mustKeyPair(t)})
	require.NoError(t, err)

	clientRaw.Close()

	select {
	case <-server.Done():
	case <-time.After(time.Second):
		t.Fatal("stream survived its raw connection")
	}
	assert.Error(t, server.Err())
	assert.Error(t, server.Handshake(context.Background()))
}

func TestStreamCloseWriteSignalsEOF(t *testing.T) {
	p := newStreamPair(t, nil)

	go func() {
		p.client.Write([]byte("bye"))
		p.client.CloseWrite()
	}()

	got, err := io.ReadAll(p.server)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(got))

	_, err = p.client.Write([]byte("more"))
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestStreamConnectedDefaultsToClosed(t *testing.T) {
	p := newStreamPair(t, nil)

	select {
	case <-p.client.Connected():
	default:
		t.Fatal("plain net.Conn should report connected")
	}
	assert.NotEmpty(t, p.client.ID())
	assert.Equal(t, Initiator, p.client.Role())
}

func TestStreamSurvivesWipedKeyPair(t *testing.T) {
	p := newStreamPair(t, nil)

	// Callers may wipe an ephemeral key pair as soon as the stream exists.
	require.NoError(t, crypto.WipeKeyPair(p.clientKeys))
	require.NoError(t, crypto.WipeKeyPair(p.serverKeys))

	go p.client.Write([]byte("still works"))

	buf := make([]byte, 64)
	n, err := p.server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "still works", string(buf[:n]))
}
