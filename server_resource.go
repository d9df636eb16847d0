package noisenet

import (
	"net"
	"sync"

	"github.com/opd-ai/noisenet/discovery"
	"github.com/opd-ai/noisenet/resource"
	"github.com/opd-ai/noisenet/transport"
	"github.com/sirupsen/logrus"
)

// serverResource owns a server's sockets: a TCP listener and a UDP socket
// on the same port, and a discovery client on the UDP socket. Connections
// from either socket go to onConnection.
type serverResource struct {
	res          *resource.Resource
	options      *Options
	onConnection transport.ConnHandler
	log          *logrus.Entry

	mu   sync.RWMutex
	tcp  *transport.TCPListener
	udp  *transport.UDPSocket
	disc discovery.Discovery
	port int
}

func newServerResource(options *Options, onConnection transport.ConnHandler, log *logrus.Entry) *serverResource {
	r := &serverResource{
		options:      options,
		onConnection: onConnection,
		log:          log,
	}
	r.res = resource.New(r.open, r.close)
	return r
}

func (r *serverResource) open() error {
	tcp := transport.NewTCPListener()
	udp := transport.NewUDPSocket()

	port, err := transport.ListenBoth(tcp, udp, r.options.MaxBindRetries)
	if err != nil {
		udp.Close()
		return err
	}

	disc, err := r.options.discoveryFactory()(udp)
	if err != nil {
		tcp.Close()
		udp.Close()
		return err
	}

	if err := tcp.Serve(r.onConnection); err != nil {
		disc.Close()
		tcp.Close()
		udp.Close()
		return err
	}
	if err := udp.Serve(r.onConnection); err != nil {
		disc.Close()
		tcp.Close()
		udp.Close()
		return err
	}

	r.mu.Lock()
	r.tcp, r.udp, r.disc, r.port = tcp, udp, disc, port
	r.mu.Unlock()

	r.log.WithField("port", port).Info("Listening on tcp and udp")
	return nil
}

// close withdraws from discovery before releasing the sockets.
func (r *serverResource) close() error {
	r.mu.Lock()
	tcp, udp, disc := r.tcp, r.udp, r.disc
	r.tcp, r.udp, r.disc, r.port = nil, nil, nil, 0
	r.mu.Unlock()

	err := disc.Close()
	if closeErr := tcp.Close(); err == nil {
		err = closeErr
	}
	if closeErr := udp.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (r *serverResource) discovery() (discovery.Discovery, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.disc, r.port
}

func (r *serverResource) addr() net.Addr {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.tcp == nil {
		return nil
	}
	return r.tcp.Addr()
}
