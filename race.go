package noisenet

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/noisenet/crypto"
	"github.com/opd-ai/noisenet/discovery"
	"github.com/sirupsen/logrus"
)

// dialer is what a race needs from its agent.
type dialer interface {
	Lookup(topic [32]byte, onPeer func(discovery.Peer)) (discovery.Lookup, error)
	Holepunch(ctx context.Context, peer discovery.Peer) error
	DialTCP(ctx context.Context, addr string) (net.Conn, error)
	DialUDP(ctx context.Context, addr string) (net.Conn, error)
}

// keyAddr stands in for the remote address until a transport connects.
type keyAddr [32]byte

func (k keyAddr) Network() string { return "noisenet" }
func (k keyAddr) String() string  { return hex.EncodeToString(k[:]) }

// rawStream is the unencrypted outbound stream for one dial. It looks up
// the peer's topic and, for every new address sighted, races a direct TCP
// connection against a holepunched UDP connection. The first transport to
// connect becomes the stream's backing connection; every later one is
// closed. Reads and writes block until a transport has connected.
type rawStream struct {
	id        string
	publicKey [32]byte
	d         dialer
	log       *logrus.Entry
	onClose   func()

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	destroyed bool
	err       error
	tried     map[string]struct{}
	lookup    discovery.Lookup
	timer     *time.Timer

	connectedCh chan struct{}
	done        chan struct{}
}

// newRawStream starts a race for publicKey. A positive timeout destroys the
// race with ErrTimeout if nothing connects in time. onClose runs exactly once
// when the race is destroyed.
func newRawStream(d dialer, publicKey [32]byte, timeout time.Duration, onClose func(), log *logrus.Entry) (*rawStream, error) {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()

	r := &rawStream{
		id:          id,
		publicKey:   publicKey,
		d:           d,
		onClose:     onClose,
		ctx:         ctx,
		cancel:      cancel,
		tried:       make(map[string]struct{}),
		connectedCh: make(chan struct{}),
		done:        make(chan struct{}),
		log: log.WithFields(logrus.Fields{
			"dial": id,
		}).WithFields(crypto.SecureFieldHash(publicKey[:], "remote_key")),
	}

	lookup, err := d.Lookup(crypto.DiscoveryKey(publicKey), r.onPeer)
	if err != nil {
		cancel()
		return nil, err
	}

	// Sightings may already have connected the race.
	r.mu.Lock()
	if r.connected {
		r.mu.Unlock()
		lookup.Close()
		return r, nil
	}
	r.lookup = lookup
	if timeout > 0 {
		r.timer = time.AfterFunc(timeout, r.expire)
	}
	r.mu.Unlock()

	r.log.Debug("Dial started")
	return r, nil
}

func (r *rawStream) onPeer(peer discovery.Peer) {
	r.mu.Lock()
	if r.destroyed || r.connected {
		r.mu.Unlock()
		return
	}

	id := peer.Addr()
	if _, ok := r.tried[id]; ok {
		r.mu.Unlock()
		return
	}
	r.tried[id] = struct{}{}
	r.mu.Unlock()

	r.log.WithField("peer", id).Debug("Trying peer")

	go r.connectTCP(peer)
	if peer.Referrer != nil {
		go r.connectUDP(peer)
	}
}

func (r *rawStream) connectTCP(peer discovery.Peer) {
	conn, err := r.d.DialTCP(r.ctx, peer.Addr())
	if err != nil {
		r.log.WithError(err).WithField("peer", peer.Addr()).Debug("TCP attempt failed")
		return
	}
	r.onConnect(conn, "tcp")
}

func (r *rawStream) connectUDP(peer discovery.Peer) {
	if err := r.d.Holepunch(r.ctx, peer); err != nil {
		r.log.WithError(err).WithField("peer", peer.Addr()).Debug("Holepunch failed")
		return
	}

	r.mu.Lock()
	skip := r.connected || r.destroyed
	r.mu.Unlock()
	if skip {
		return
	}

	conn, err := r.d.DialUDP(r.ctx, peer.Addr())
	if err != nil {
		r.log.WithError(err).WithField("peer", peer.Addr()).Debug("UDP attempt failed")
		return
	}
	r.onConnect(conn, "udp")
}

// onConnect adopts conn if it is the first transport to connect and closes
// it otherwise.
func (r *rawStream) onConnect(conn net.Conn, network string) {
	r.mu.Lock()
	if r.destroyed || r.connected {
		r.mu.Unlock()
		conn.Close()
		return
	}

	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.connected = true
	r.conn = conn
	lookup := r.lookup
	r.lookup = nil
	close(r.connectedCh)
	r.mu.Unlock()

	if lookup != nil {
		lookup.Close()
	}

	r.log.WithFields(logrus.Fields{
		"network": network,
		"remote":  conn.RemoteAddr().String(),
	}).Debug("Dial connected")
}

func (r *rawStream) expire() {
	r.mu.Lock()
	skip := r.connected || r.destroyed
	r.mu.Unlock()
	if !skip {
		r.destroy(ErrTimeout)
	}
}

// destroy ends the race and its connection. Only the first call has any
// effect.
func (r *rawStream) destroy(err error) {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	r.err = err
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	conn, lookup := r.conn, r.lookup
	r.lookup = nil
	close(r.done)
	r.mu.Unlock()

	r.cancel()
	if lookup != nil {
		lookup.Close()
	}
	if conn != nil {
		conn.Close()
	}

	if err != nil {
		r.log.WithError(err).Debug("Dial destroyed")
	}

	if r.onClose != nil {
		r.onClose()
	}
}

func (r *rawStream) closedErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	return ErrRaceDestroyed
}

// wait blocks until a transport connects or the race ends.
func (r *rawStream) wait() (net.Conn, error) {
	select {
	case <-r.connectedCh:
	case <-r.done:
		return nil, r.closedErr()
	}

	select {
	case <-r.done:
		return nil, r.closedErr()
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn, nil
}

// ioErr maps errors from the backing connection. End of stream and
// deadlines pass through; anything else ends the race.
func (r *rawStream) ioErr(err error) error {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, os.ErrDeadlineExceeded) {
		return err
	}
	select {
	case <-r.done:
		return r.closedErr()
	default:
	}
	r.destroy(err)
	return err
}

func (r *rawStream) Read(b []byte) (int, error) {
	conn, err := r.wait()
	if err != nil {
		return 0, err
	}
	n, err := conn.Read(b)
	return n, r.ioErr(err)
}

func (r *rawStream) Write(b []byte) (int, error) {
	conn, err := r.wait()
	if err != nil {
		return 0, err
	}
	n, err := conn.Write(b)
	return n, r.ioErr(err)
}

// CloseWrite half-closes the backing connection when it supports that.
func (r *rawStream) CloseWrite() error {
	conn, err := r.wait()
	if err != nil {
		return err
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		return r.ioErr(cw.CloseWrite())
	}
	return nil
}

func (r *rawStream) Close() error {
	r.destroy(nil)
	return nil
}

// Connected is closed when a transport has won the race.
func (r *rawStream) Connected() <-chan struct{} {
	return r.connectedCh
}

func (r *rawStream) backing() net.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

func (r *rawStream) LocalAddr() net.Addr {
	if conn := r.backing(); conn != nil {
		return conn.LocalAddr()
	}
	return keyAddr{}
}

func (r *rawStream) RemoteAddr() net.Addr {
	if conn := r.backing(); conn != nil {
		return conn.RemoteAddr()
	}
	return keyAddr(r.publicKey)
}

// Deadlines only apply once a transport has connected.
func (r *rawStream) SetDeadline(t time.Time) error {
	if conn := r.backing(); conn != nil {
		return conn.SetDeadline(t)
	}
	return nil
}

func (r *rawStream) SetReadDeadline(t time.Time) error {
	if conn := r.backing(); conn != nil {
		return conn.SetReadDeadline(t)
	}
	return nil
}

func (r *rawStream) SetWriteDeadline(t time.Time) error {
	if conn := r.backing(); conn != nil {
		return conn.SetWriteDeadline(t)
	}
	return nil
}

var _ net.Conn = (*rawStream)(nil)
