// Package transport provides the raw sockets a noisenet node listens and
// dials on.
//
// # Sockets
//
// TCPListener is the reliable-stream socket. UDPSocket wraps one UDP socket
// that carries two kinds of traffic at once: QUIC connections, each used as a
// single bidirectional stream, and small discovery datagrams. Both kinds share
// the same local port, so a NAT mapping opened by a discovery punch packet is
// the one QUIC later travels through.
//
//	udp := transport.NewUDPSocket()
//	if err := udp.Listen(0); err != nil {
//	    return err
//	}
//	udp.Serve(func(conn net.Conn) { ... })
//
// A server exposes the same port on both sockets. ListenBoth binds TCP to an
// OS-chosen port, then UDP to the same port, and starts over when the UDP
// port is already taken:
//
//	port, err := transport.ListenBoth(tcp, udp, 64)
//
// # Discovery packets
//
// Discovery datagrams start with a PacketType byte below 0x40, which QUIC
// never uses as a first byte. UDPSocket hands them to the PacketHandler
// registered for their type and satisfies the Transport interface that the
// discovery package builds on.
//
// # Errors
//
// Bind and dial failures are returned as *NetError carrying the operation and
// address; use errors.Is to test for the underlying cause, or IsAddrInUse for
// a port collision.
package transport
