package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// TCPListener is the reliable-stream listening socket. Binding and serving
// are separate steps so a caller can pair the port with a UDP socket before
// any connection is handed out.
type TCPListener struct {
	mu       sync.Mutex
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewTCPListener creates an unbound listener.
func NewTCPListener() *TCPListener {
	return &TCPListener{}
}

// Listen binds to port on all interfaces; port 0 lets the OS choose.
func (t *TCPListener) Listen(port int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listener != nil {
		return errors.New("tcp listener already bound")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return newNetError("listen", fmt.Sprintf("tcp :%d", port), err)
	}

	t.listener = listener
	t.ctx, t.cancel = context.WithCancel(context.Background())
	return nil
}

// Serve starts handing accepted connections to handler.
func (t *TCPListener) Serve(handler ConnHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listener == nil {
		return ErrNotBound
	}

	t.wg.Add(1)
	go t.acceptConnections(t.ctx, t.listener, handler)
	return nil
}

// acceptConnections handles incoming connections.
func (t *TCPListener) acceptConnections(ctx context.Context, listener net.Listener, handler ConnHandler) {
	defer t.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			logrus.WithError(err).Debug("TCP accept failed")
			return
		}

		go handler(conn)
	}
}

// Addr returns the bound address, or nil when unbound.
func (t *TCPListener) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Port returns the bound port, or 0 when unbound.
func (t *TCPListener) Port() int {
	if addr, ok := t.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Close unbinds the listener and stops the accept loop. Accepted
// connections are not affected. The listener may be bound again afterwards.
func (t *TCPListener) Close() error {
	t.mu.Lock()
	listener, cancel := t.listener, t.cancel
	t.listener, t.cancel = nil, nil
	t.mu.Unlock()

	if listener == nil {
		return nil
	}

	cancel()
	err := listener.Close()
	t.wg.Wait()
	return err
}

// DialTCP opens a reliable-stream connection to addr.
func DialTCP(ctx context.Context, addr string) (net.Conn, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, newNetError("dial", "tcp "+addr, err)
	}
	return conn, nil
}
