package noisenet

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/noisenet/crypto"
	"github.com/opd-ai/noisenet/discovery"
	"github.com/opd-ai/noisenet/noise"
	"github.com/opd-ai/noisenet/resource"
	"github.com/opd-ai/noisenet/transport"
	"github.com/sirupsen/logrus"
)

// ConnectOptions tunes a single Agent.Connect call.
type ConnectOptions struct {
	// KeyPair is the local static key. Nil generates an ephemeral one.
	KeyPair *crypto.KeyPair

	// Timeout overrides Options.DialTimeout when positive.
	Timeout time.Duration
}

// Agent dials peers by public key. It lazily opens one UDP socket and one
// discovery client on first use and shares them across all its dials.
type Agent struct {
	options *Options
	res     *resource.Resource
	log     *logrus.Entry

	mu     sync.RWMutex
	socket *transport.UDPSocket
	disc   discovery.Discovery
}

// NewAgent creates an agent. Nothing is opened until the first Connect.
func NewAgent(opts *Options) *Agent {
	a := &Agent{
		options: optionsOrDefault(opts),
	}
	a.log = a.options.logEntry("agent")
	a.res = resource.New(a.open, a.close)
	return a
}

func (a *Agent) open() error {
	socket := transport.NewUDPSocket()
	if err := socket.Bind(0); err != nil {
		return err
	}

	disc, err := a.options.discoveryFactory()(socket)
	if err != nil {
		socket.Close()
		return err
	}

	a.mu.Lock()
	a.socket, a.disc = socket, disc
	a.mu.Unlock()

	a.log.WithField("addr", socket.LocalAddr().String()).Debug("Agent opened")
	return nil
}

func (a *Agent) close() error {
	a.mu.Lock()
	socket, disc := a.socket, a.disc
	a.socket, a.disc = nil, nil
	a.mu.Unlock()

	err := disc.Close()
	if closeErr := socket.Close(); err == nil {
		err = closeErr
	}

	a.log.Debug("Agent closed")
	return err
}

// Connect starts dialing the peer that holds publicKey and returns the
// encrypted stream at once. The handshake and the search for the peer run
// in the background; writes are queued until they complete and reads block
// until then. The stream fails if the peer's static key is not publicKey.
func (a *Agent) Connect(publicKey [32]byte, opts *ConnectOptions) (*noise.Stream, error) {
	if opts == nil {
		opts = &ConnectOptions{}
	}

	if err := a.res.Open(); err != nil {
		return nil, err
	}
	if err := a.res.Active(); err != nil {
		return nil, err
	}

	keyPair := opts.KeyPair
	if keyPair == nil {
		var err error
		if keyPair, err = crypto.GenerateKeyPair(); err != nil {
			a.res.Inactive()
			return nil, err
		}
		// The handshake keeps its own copy of the secret.
		defer crypto.WipeKeyPair(keyPair)
	}

	timeout := a.options.DialTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	d, err := a.dialer()
	if err != nil {
		a.res.Inactive()
		return nil, err
	}

	raw, err := newRawStream(d, publicKey, timeout, a.res.Inactive, a.log)
	if err != nil {
		a.res.Inactive()
		return nil, err
	}

	remote := publicKey
	stream, err := noise.NewStream(raw, noise.Config{
		Role:            noise.Initiator,
		KeyPair:         keyPair,
		RemoteStatic:    &remote,
		MaxPendingWrite: a.options.MaxPendingWrite,
		Logger:          a.log.WithField("dial", raw.id),
	})
	if err != nil {
		raw.Close()
		return nil, err
	}
	return stream, nil
}

// ConnectHex is Connect with a hex-encoded public key.
func (a *Agent) ConnectHex(publicKey string, opts *ConnectOptions) (*noise.Stream, error) {
	key, err := crypto.ParsePublicKey(publicKey)
	if err != nil {
		return nil, err
	}
	return a.Connect(key, opts)
}

// Close waits for every outstanding dial to end, then releases the socket
// and discovery client. A later Connect reopens them.
func (a *Agent) Close() error {
	return a.res.Close()
}

// Closed reports whether the agent has fully closed.
func (a *Agent) Closed() bool {
	return a.res.Closed()
}

func (a *Agent) dialer() (*agentDialer, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.socket == nil {
		return nil, resource.ErrClosed
	}
	return &agentDialer{socket: a.socket, disc: a.disc}, nil
}

// agentDialer binds a race to the agent's socket and discovery client.
type agentDialer struct {
	socket *transport.UDPSocket
	disc   discovery.Discovery
}

func (d *agentDialer) Lookup(topic [32]byte, onPeer func(discovery.Peer)) (discovery.Lookup, error) {
	return d.disc.Lookup(topic, onPeer)
}

func (d *agentDialer) Holepunch(ctx context.Context, peer discovery.Peer) error {
	return d.disc.Holepunch(ctx, peer)
}

func (d *agentDialer) DialTCP(ctx context.Context, addr string) (net.Conn, error) {
	return transport.DialTCP(ctx, addr)
}

func (d *agentDialer) DialUDP(ctx context.Context, addr string) (net.Conn, error) {
	return d.socket.Connect(ctx, addr)
}

var (
	defaultMu      sync.Mutex
	defaultAgent   *Agent
	defaultOptions *Options
)

// SetDefaultOptions sets the options used for default agents created after
// the call. Nil restores NewOptions.
func SetDefaultOptions(opts *Options) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultOptions = opts
}

// Connect dials publicKey with the process-wide default agent. The agent is
// created on first use and is closed again as soon as its dials have ended;
// a Connect issued before then reuses it.
func Connect(publicKey [32]byte) (*noise.Stream, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	agent := defaultAgent
	if agent == nil || agent.Closed() {
		agent = NewAgent(defaultOptions)
		defaultAgent = agent
	}

	stream, err := agent.Connect(publicKey, nil)
	if errors.Is(err, resource.ErrClosed) {
		agent = NewAgent(defaultOptions)
		defaultAgent = agent
		stream, err = agent.Connect(publicKey, nil)
	}

	go agent.Close()
	return stream, err
}

// ConnectHex is Connect with a hex-encoded public key.
func ConnectHex(publicKey string) (*noise.Stream, error) {
	key, err := crypto.ParsePublicKey(publicKey)
	if err != nil {
		return nil, err
	}
	return Connect(key)
}
