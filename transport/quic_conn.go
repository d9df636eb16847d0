package transport

import (
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// closeLinger is how long a QUIC connection stays up after its stream is
// closed so that buffered stream data can still be delivered.
const closeLinger = time.Second

// quicConn presents one QUIC stream as a net.Conn. The stream owns its
// connection: closing the stream closes the connection.
type quicConn struct {
	conn   quic.Connection
	stream quic.Stream

	closeOnce sync.Once
}

func newQUICConn(conn quic.Connection, stream quic.Stream) *quicConn {
	return &quicConn{conn: conn, stream: stream}
}

func (c *quicConn) Read(b []byte) (int, error) {
	return c.stream.Read(b)
}

func (c *quicConn) Write(b []byte) (int, error) {
	return c.stream.Write(b)
}

// CloseWrite sends FIN on the stream and leaves the read side open.
func (c *quicConn) CloseWrite() error {
	return c.stream.Close()
}

func (c *quicConn) Close() error {
	c.closeOnce.Do(func() {
		c.stream.CancelRead(0)
		c.stream.Close()
		time.AfterFunc(closeLinger, func() {
			c.conn.CloseWithError(0, "")
		})
	})
	return nil
}

func (c *quicConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *quicConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *quicConn) SetDeadline(t time.Time) error {
	return c.stream.SetDeadline(t)
}

func (c *quicConn) SetReadDeadline(t time.Time) error {
	return c.stream.SetReadDeadline(t)
}

func (c *quicConn) SetWriteDeadline(t time.Time) error {
	return c.stream.SetWriteDeadline(t)
}

var _ net.Conn = (*quicConn)(nil)
