package noisenet

import (
	"errors"
	"net"
	"sync"

	"github.com/opd-ai/noisenet/crypto"
	"github.com/opd-ai/noisenet/discovery"
	"github.com/opd-ai/noisenet/noise"
	"github.com/opd-ai/noisenet/resource"
	"github.com/sirupsen/logrus"
)

// ServerOptions configures a Server.
type ServerOptions struct {
	// Validate, if set, decides whether a client's static key may connect.
	// Returning an error rejects the handshake.
	Validate func(remoteKey [32]byte) error

	// OnConnection is registered as the connection callback.
	OnConnection func(stream *noise.Stream)

	// Options configures sockets and discovery. Nil uses NewOptions.
	Options *Options
}

// Server accepts encrypted streams addressed to its public key. It listens
// on TCP and UDP on the same port and announces itself under the discovery
// topic of its public key.
type Server struct {
	options  *Options
	validate func([32]byte) error
	server   *serverResource
	log      *logrus.Entry

	mu           sync.Mutex
	keyPair      *crypto.KeyPair
	discoveryKey *[32]byte
	announcement discovery.Announcement
	closed       bool
	handshaking  map[*noise.Stream]struct{}
	connections  map[*noise.Stream]struct{}

	callbackMu    sync.RWMutex
	onListening   func()
	onAnnounce    func()
	onConnection  func(*noise.Stream)
	onClientError func(error)
	onClose       func()
}

// NewServer creates a server. It does not listen until Listen is called.
func NewServer(opts *ServerOptions) *Server {
	if opts == nil {
		opts = &ServerOptions{}
	}

	s := &Server{
		options:      optionsOrDefault(opts.Options),
		validate:     opts.Validate,
		handshaking:  make(map[*noise.Stream]struct{}),
		connections:  make(map[*noise.Stream]struct{}),
		onConnection: opts.OnConnection,
	}
	s.log = s.options.logEntry("server")
	s.server = newServerResource(s.options, s.onRawStream, s.log)
	return s
}

// NewServerFunc creates a server with onConnection as its connection
// callback.
func NewServerFunc(onConnection func(stream *noise.Stream)) *Server {
	return NewServer(&ServerOptions{OnConnection: onConnection})
}

// OnListening sets the callback run when Listen succeeds.
func (s *Server) OnListening(callback func()) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	s.onListening = callback
}

// OnAnnounce sets the callback run each time a discovery node confirms the
// server's announcement.
func (s *Server) OnAnnounce(callback func()) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	s.onAnnounce = callback
}

// OnConnection sets the callback that receives each handshaken stream.
func (s *Server) OnConnection(callback func(stream *noise.Stream)) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	s.onConnection = callback
}

// OnClientError sets the callback for failed inbound streams, including
// rejected handshakes.
func (s *Server) OnClientError(callback func(err error)) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	s.onClientError = callback
}

// OnClose sets the callback run when Close completes.
func (s *Server) OnClose(callback func()) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	s.onClose = callback
}

func (s *Server) emit(pick func() func()) {
	s.callbackMu.RLock()
	callback := pick()
	s.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (s *Server) emitConnection(stream *noise.Stream) {
	s.callbackMu.RLock()
	callback := s.onConnection
	s.callbackMu.RUnlock()
	if callback != nil {
		callback(stream)
	}
}

func (s *Server) emitClientError(err error) {
	s.log.WithError(err).Warn("Client error")

	s.callbackMu.RLock()
	callback := s.onClientError
	s.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// Listen opens the sockets if needed and announces keyPair's public key.
// The key pair is copied. Listening again before Close fails with
// ErrAlreadyListening and leaves the current key pair in place.
func (s *Server) Listen(keyPair *crypto.KeyPair) error {
	if keyPair == nil {
		return errors.New("key pair is required")
	}

	if err := s.server.res.Open(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.keyPair != nil {
		s.mu.Unlock()
		return ErrAlreadyListening
	}

	kp := *keyPair
	topic := crypto.DiscoveryKey(kp.Public)
	disc, port := s.server.discovery()
	if disc == nil {
		s.mu.Unlock()
		return resource.ErrClosed
	}

	announcement, err := disc.Announce(topic, port, func() {
		s.emit(func() func() { return s.onAnnounce })
	})
	if err != nil {
		s.mu.Unlock()
		return err
	}

	s.keyPair = &kp
	s.closed = false
	s.discoveryKey = &topic
	s.announcement = announcement
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"port": port,
	}).WithFields(crypto.SecureFieldHash(kp.Public[:], "public_key")).Info("Server listening")

	s.emit(func() func() { return s.onListening })
	return nil
}

// ListenHex is Listen with hex-encoded keys.
func (s *Server) ListenHex(publicKey, secretKey string) error {
	kp, err := crypto.ParseKeyPair(publicKey, secretKey)
	if err != nil {
		return err
	}
	return s.Listen(kp)
}

// Close withdraws the announcement and closes the sockets. Streams that
// already completed their handshake stay open; handshakes still in progress
// are destroyed with ErrServerClosed. The server may Listen again afterwards.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.keyPair = nil
	s.discoveryKey = nil
	s.announcement = nil
	pending := s.handshaking
	s.handshaking = make(map[*noise.Stream]struct{})
	s.mu.Unlock()

	for stream := range pending {
		stream.Destroy(ErrServerClosed)
	}

	if err := s.server.res.Close(); err != nil {
		return err
	}

	s.log.WithField("dropped_handshakes", len(pending)).Info("Server closed")
	s.emit(func() func() { return s.onClose })
	return nil
}

// Addr returns the bound TCP address, or nil when the server is not open.
func (s *Server) Addr() net.Addr {
	return s.server.addr()
}

// PublicKey returns the public key the server listens with.
func (s *Server) PublicKey() ([32]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keyPair == nil {
		return [32]byte{}, false
	}
	return s.keyPair.Public, true
}

// DiscoveryKey returns the topic the server is announced under.
func (s *Server) DiscoveryKey() ([32]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.discoveryKey == nil {
		return [32]byte{}, false
	}
	return *s.discoveryKey, true
}

// Connections returns the currently open handshaken streams.
func (s *Server) Connections() []*noise.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()

	streams := make([]*noise.Stream, 0, len(s.connections))
	for stream := range s.connections {
		streams = append(streams, stream)
	}
	return streams
}

// onRawStream wraps an accepted connection as the responder side of an
// encrypted stream.
func (s *Server) onRawStream(raw net.Conn) {
	s.mu.Lock()
	if s.closed || s.keyPair == nil {
		s.mu.Unlock()
		raw.Close()
		return
	}

	stream, err := noise.NewStream(raw, noise.Config{
		Role:            noise.Responder,
		KeyPair:         s.keyPair,
		Validate:        s.validate,
		MaxPendingWrite: s.options.MaxPendingWrite,
		Logger:          s.log.WithField("remote", raw.RemoteAddr().String()),
	})
	if err == nil {
		s.handshaking[stream] = struct{}{}
	}
	s.mu.Unlock()

	if err != nil {
		raw.Close()
		s.emitClientError(err)
		return
	}

	s.awaitHandshake(stream)
}

func (s *Server) awaitHandshake(stream *noise.Stream) {
	select {
	case <-stream.HandshakeDone():
	case <-stream.Done():
		select {
		case <-stream.HandshakeDone():
		default:
			s.mu.Lock()
			delete(s.handshaking, stream)
			s.mu.Unlock()

			err := stream.Err()
			if err == nil {
				err = noise.ErrStreamClosed
			}
			if !errors.Is(err, ErrServerClosed) {
				s.emitClientError(err)
			}
			return
		}
	}

	// Close takes the handshaking set under the same lock, so a stream is
	// either surfaced here or destroyed by Close, never both.
	s.mu.Lock()
	_, tracked := s.handshaking[stream]
	delete(s.handshaking, stream)
	if !tracked || s.closed {
		s.mu.Unlock()
		stream.Destroy(ErrServerClosed)
		return
	}
	s.connections[stream] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-stream.Done()

		s.mu.Lock()
		delete(s.connections, stream)
		s.mu.Unlock()

		if err := stream.Err(); err != nil && !errors.Is(err, ErrServerClosed) {
			s.emitClientError(err)
		}
	}()

	s.emitConnection(stream)
}

// handshakingCount reports inbound streams still in their handshake.
func (s *Server) handshakingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handshaking)
}
