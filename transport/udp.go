package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
)

// UDPSocket is the UDP-based transport. One *net.UDPConn carries both
// reliable QUIC streams (listen and connect) and discovery datagrams, so
// hole punches made by discovery packets open the path QUIC then uses.
// It satisfies the Transport interface.
//
// Closing the socket stops the listener and the discovery packet loop at
// once. The UDP port itself stays open until every QUIC connection on it has
// ended, so established streams outlive Close.
type UDPSocket struct {
	mu        sync.RWMutex
	conn      *net.UDPConn
	tr        *quic.Transport
	listener  *quic.Listener
	serverTLS *tls.Config
	clientTLS *tls.Config
	handlers  map[PacketType]PacketHandler
	closed    bool
	live      int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewUDPSocket creates an unbound UDP socket.
func NewUDPSocket() *UDPSocket {
	ctx, cancel := context.WithCancel(context.Background())
	return &UDPSocket{
		handlers:  make(map[PacketType]PacketHandler),
		clientTLS: newClientTLSConfig(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func quicConfig() *quic.Config {
	return &quic.Config{
		HandshakeIdleTimeout: 10 * time.Second,
		MaxIdleTimeout:       60 * time.Second,
		KeepAlivePeriod:      15 * time.Second,
	}
}

// Bind binds the socket to port on all interfaces and starts reading
// discovery packets. Port 0 lets the OS choose. A failed Bind leaves the
// socket unbound so it may be retried with another port.
func (s *UDPSocket) Bind(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSocketClosed
	}
	if s.conn != nil {
		return errors.New("udp socket already bound")
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return newNetError("listen", fmt.Sprintf("udp :%d", port), err)
	}

	s.conn = conn
	s.tr = &quic.Transport{Conn: conn}

	s.wg.Add(1)
	go s.processPackets(s.tr)

	logrus.WithFields(logrus.Fields{
		"addr": conn.LocalAddr().String(),
	}).Debug("UDP socket bound")
	return nil
}

// Listen binds the socket to port and starts accepting QUIC connections.
// Connections are queued until Serve is called.
func (s *UDPSocket) Listen(port int) error {
	if err := s.Bind(port); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tlsConf, err := newServerTLSConfig()
	if err == nil {
		s.serverTLS = tlsConf
		s.listener, err = s.tr.Listen(tlsConf, quicConfig())
	}
	if err != nil {
		s.teardownLocked()
		return newNetError("listen", fmt.Sprintf("quic :%d", port), err)
	}
	return nil
}

// Serve starts handing accepted stream connections to handler.
func (s *UDPSocket) Serve(handler ConnHandler) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.listener == nil {
		return ErrNotBound
	}

	s.wg.Add(1)
	go s.acceptConnections(s.listener, handler)
	return nil
}

func (s *UDPSocket) acceptConnections(listener *quic.Listener, handler ConnHandler) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				logrus.WithError(err).Debug("QUIC accept failed")
			}
			return
		}

		s.track(conn)
		s.wg.Add(1)
		go s.acceptStreams(conn, handler)
	}
}

func (s *UDPSocket) acceptStreams(conn quic.Connection, handler ConnHandler) {
	defer s.wg.Done()

	for {
		stream, err := conn.AcceptStream(s.ctx)
		if err != nil {
			return
		}
		go handler(newQUICConn(conn, stream))
	}
}

// Connect opens a reliable stream to addr over this socket.
func (s *UDPSocket) Connect(ctx context.Context, addr string) (net.Conn, error) {
	s.mu.RLock()
	tr, closed := s.tr, s.closed
	s.mu.RUnlock()

	if closed {
		return nil, ErrSocketClosed
	}
	if tr == nil {
		return nil, ErrNotBound
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, newNetError("dial", "udp "+addr, err)
	}

	conn, err := tr.Dial(ctx, udpAddr, s.clientTLS, quicConfig())
	if err != nil {
		return nil, newNetError("dial", "udp "+addr, err)
	}

	s.track(conn)

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "")
		return nil, newNetError("open stream", "udp "+addr, err)
	}

	return newQUICConn(conn, stream), nil
}

// RegisterHandler registers a handler for a specific packet type.
func (s *UDPSocket) RegisterHandler(packetType PacketType, handler PacketHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers[packetType] = handler
}

// Send sends a packet to the specified address.
func (s *UDPSocket) Send(packet *Packet, addr net.Addr) error {
	data, err := packet.Serialize()
	if err != nil {
		return err
	}

	s.mu.RLock()
	tr, closed := s.tr, s.closed
	s.mu.RUnlock()

	if closed {
		return ErrSocketClosed
	}
	if tr == nil {
		return ErrNotBound
	}

	_, err = tr.WriteTo(data, addr)
	return err
}

// processPackets reads non-QUIC datagrams and dispatches them.
func (s *UDPSocket) processPackets(tr *quic.Transport) {
	defer s.wg.Done()

	buffer := make([]byte, 2048)
	for {
		n, addr, err := tr.ReadNonQUICPacket(s.ctx, buffer)
		if err != nil {
			if s.ctx.Err() == nil {
				logrus.WithError(err).Debug("UDP packet loop stopped")
			}
			return
		}

		packet, err := ParsePacket(buffer[:n])
		if err != nil {
			continue
		}

		s.dispatchPacketToHandler(packet, addr)
	}
}

// dispatchPacketToHandler finds and executes the appropriate packet handler.
func (s *UDPSocket) dispatchPacketToHandler(packet *Packet, addr net.Addr) {
	s.mu.RLock()
	handler, exists := s.handlers[packet.PacketType]
	s.mu.RUnlock()

	if exists {
		go func() {
			if err := handler(packet, addr); err != nil {
				logrus.WithFields(logrus.Fields{
					"packet_type": packet.PacketType,
					"from":        addr.String(),
					"error":       err.Error(),
				}).Debug("Packet handler failed")
			}
		}()
	}
}

// LocalAddr returns the local address the socket is bound to, or nil.
func (s *UDPSocket) LocalAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Port returns the bound port, or 0 when unbound.
func (s *UDPSocket) Port() int {
	if addr, ok := s.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return 0
}

// track keeps the socket bound while conn is alive.
func (s *UDPSocket) track(conn quic.Connection) {
	s.mu.Lock()
	s.live++
	s.mu.Unlock()

	go func() {
		<-conn.Context().Done()

		s.mu.Lock()
		defer s.mu.Unlock()

		s.live--
		if s.closed && s.live == 0 {
			s.teardownLocked()
		}
	}()
}

// Close stops accepting connections and discovery packets. The port is
// released once the last QUIC connection on it has ended.
func (s *UDPSocket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}
	if s.live == 0 {
		s.teardownLocked()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *UDPSocket) teardownLocked() {
	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}
	if s.tr != nil {
		s.tr.Close()
		s.tr = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

var _ Transport = (*UDPSocket)(nil)
