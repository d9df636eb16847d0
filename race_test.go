package noisenet

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opd-ai/noisenet/discovery"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookup struct {
	closed atomic.Bool
}

func (l *fakeLookup) Topic() [32]byte { return [32]byte{} }
func (l *fakeLookup) Close() error    { l.closed.Store(true); return nil }

// fakeDialer lets tests decide when sightings arrive and how each dial
// attempt ends.
type fakeDialer struct {
	mu       sync.Mutex
	onPeer   func(discovery.Peer)
	lookup   *fakeLookup
	tcpDials int
	udpDials int

	tcp   func(ctx context.Context, addr string) (net.Conn, error)
	udp   func(ctx context.Context, addr string) (net.Conn, error)
	punch func(ctx context.Context, peer discovery.Peer) error
}

func (f *fakeDialer) Lookup(topic [32]byte, onPeer func(discovery.Peer)) (discovery.Lookup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onPeer = onPeer
	f.lookup = &fakeLookup{}
	return f.lookup, nil
}

func (f *fakeDialer) Holepunch(ctx context.Context, peer discovery.Peer) error {
	if f.punch == nil {
		return nil
	}
	return f.punch(ctx, peer)
}

func (f *fakeDialer) DialTCP(ctx context.Context, addr string) (net.Conn, error) {
	f.mu.Lock()
	f.tcpDials++
	f.mu.Unlock()
	if f.tcp == nil {
		return nil, errors.New("connection refused")
	}
	return f.tcp(ctx, addr)
}

func (f *fakeDialer) DialUDP(ctx context.Context, addr string) (net.Conn, error) {
	f.mu.Lock()
	f.udpDials++
	f.mu.Unlock()
	if f.udp == nil {
		return nil, errors.New("connection refused")
	}
	return f.udp(ctx, addr)
}

func (f *fakeDialer) sight(peer discovery.Peer) {
	f.mu.Lock()
	onPeer := f.onPeer
	f.mu.Unlock()
	onPeer(peer)
}

func (f *fakeDialer) dials() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tcpDials, f.udpDials
}

func testEntry() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}

var testReferrer = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}

func TestRaceTimeout(t *testing.T) {
	f := &fakeDialer{}
	var closes atomic.Int32

	r, err := newRawStream(f, [32]byte{1}, 100*time.Millisecond, func() { closes.Add(1) }, testEntry())
	require.NoError(t, err)

	_, err = r.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrTimeout)

	_, err = r.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrTimeout)

	assert.True(t, f.lookup.closed.Load(), "lookup is released")

	// Sightings after expiry start nothing.
	f.sight(discovery.Peer{Host: "127.0.0.1", Port: 1})
	tcp, udp := f.dials()
	assert.Zero(t, tcp)
	assert.Zero(t, udp)

	require.NoError(t, r.Close())
	assert.Equal(t, int32(1), closes.Load())
}

func TestRaceFirstTransportWins(t *testing.T) {
	tcpLocal, tcpRemote := net.Pipe()
	udpLocal, udpRemote := net.Pipe()
	defer tcpRemote.Close()
	defer udpRemote.Close()

	releaseTCP := make(chan struct{})
	f := &fakeDialer{
		tcp: func(ctx context.Context, addr string) (net.Conn, error) {
			<-releaseTCP
			return tcpLocal, nil
		},
		udp: func(ctx context.Context, addr string) (net.Conn, error) {
			return udpLocal, nil
		},
	}

	r, err := newRawStream(f, [32]byte{2}, 0, nil, testEntry())
	require.NoError(t, err)
	defer r.Close()

	f.sight(discovery.Peer{Host: "127.0.0.1", Port: 1, Referrer: testReferrer})

	select {
	case <-r.Connected():
	case <-time.After(5 * time.Second):
		t.Fatal("race never connected")
	}
	assert.Equal(t, udpLocal, r.backing())
	assert.True(t, f.lookup.closed.Load(), "lookup ends once connected")

	close(releaseTCP)

	// The late TCP connection is closed, never attached.
	tcpRemote.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = tcpRemote.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	go r.Write([]byte("hi"))

	buf := make([]byte, 2)
	_, err = io.ReadFull(udpRemote, buf)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(buf))
}

func TestRaceSkipsTriedAddresses(t *testing.T) {
	f := &fakeDialer{}

	r, err := newRawStream(f, [32]byte{3}, 0, nil, testEntry())
	require.NoError(t, err)
	defer r.Close()

	peer := discovery.Peer{Host: "127.0.0.1", Port: 1}
	f.sight(peer)
	f.sight(peer)
	f.sight(discovery.Peer{Host: "127.0.0.1", Port: 2})

	assert.Eventually(t, func() bool {
		tcp, _ := f.dials()
		return tcp == 2
	}, time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	tcp, udp := f.dials()
	assert.Equal(t, 2, tcp)
	assert.Zero(t, udp, "no referrer means no UDP attempt")
}

func TestRaceHolepunchFailureSkipsUDP(t *testing.T) {
	f := &fakeDialer{
		punch: func(ctx context.Context, peer discovery.Peer) error {
			return discovery.ErrHolepunchFailed
		},
	}

	r, err := newRawStream(f, [32]byte{4}, 0, nil, testEntry())
	require.NoError(t, err)
	defer r.Close()

	f.sight(discovery.Peer{Host: "127.0.0.1", Port: 1, Referrer: testReferrer})

	assert.Eventually(t, func() bool {
		tcp, _ := f.dials()
		return tcp == 1
	}, time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	_, udp := f.dials()
	assert.Zero(t, udp)
}

func TestRaceCloseBeforeConnect(t *testing.T) {
	f := &fakeDialer{}
	var closes atomic.Int32

	r, err := newRawStream(f, [32]byte{5}, time.Hour, func() { closes.Add(1) }, testEntry())
	require.NoError(t, err)

	readErr := make(chan error, 1)
	go func() {
		_, err := r.Read(make([]byte, 1))
		readErr <- err
	}()

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	select {
	case err := <-readErr:
		assert.ErrorIs(t, err, ErrRaceDestroyed)
	case <-time.After(5 * time.Second):
		t.Fatal("blocked read was not released")
	}
	assert.Equal(t, int32(1), closes.Load())
}

func TestRaceCloseCancelsAttempts(t *testing.T) {
	cancelled := make(chan struct{})
	f := &fakeDialer{
		tcp: func(ctx context.Context, addr string) (net.Conn, error) {
			<-ctx.Done()
			close(cancelled)
			return nil, ctx.Err()
		},
	}

	r, err := newRawStream(f, [32]byte{6}, 0, nil, testEntry())
	require.NoError(t, err)

	f.sight(discovery.Peer{Host: "127.0.0.1", Port: 1})
	assert.Eventually(t, func() bool {
		tcp, _ := f.dials()
		return tcp == 1
	}, time.Second, 10*time.Millisecond)

	r.Close()

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight dial was not cancelled")
	}
}

func TestRaceAddrBeforeConnect(t *testing.T) {
	f := &fakeDialer{}
	key := [32]byte{0xab}

	r, err := newRawStream(f, key, 0, nil, testEntry())
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, "noisenet", r.RemoteAddr().Network())
	assert.Equal(t, keyAddr(key).String(), r.RemoteAddr().String())
	assert.NotNil(t, r.LocalAddr())
	assert.NoError(t, r.SetDeadline(time.Now()))
}
