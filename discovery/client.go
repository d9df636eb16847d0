package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/noisenet/transport"
	"github.com/sirupsen/logrus"
)

// Client is a Discovery that talks to bootstrap nodes over a shared UDP
// transport. Announcements and lookups are re-sent on a timer; replies
// arrive through the transport's packet handlers.
type Client struct {
	tr     transport.Transport
	config *Config
	nodes  []*net.UDPAddr

	mu            sync.Mutex
	announcements map[*announcement]struct{}
	lookups       map[*lookup]struct{}
	punches       map[string][]chan struct{}
	closed        bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a bootstrap client on tr and registers its packet
// handlers. A nil config uses DefaultConfig.
func NewClient(tr transport.Transport, config *Config) (*Client, error) {
	config = withDefaults(config)

	nodes := make([]*net.UDPAddr, 0, len(config.Bootstrap))
	for _, node := range config.Bootstrap {
		addr, err := net.ResolveUDPAddr("udp", node)
		if err != nil {
			return nil, fmt.Errorf("resolve bootstrap node %q: %w", node, err)
		}
		nodes = append(nodes, addr)
	}

	if len(nodes) == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "NewClient",
		}).Warn("Discovery client has no bootstrap nodes, peers will not be found")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		tr:            tr,
		config:        config,
		nodes:         nodes,
		announcements: make(map[*announcement]struct{}),
		lookups:       make(map[*lookup]struct{}),
		punches:       make(map[string][]chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}

	tr.RegisterHandler(transport.PacketAnnounceAck, c.handleAnnounceAck)
	tr.RegisterHandler(transport.PacketPeers, c.handlePeers)
	tr.RegisterHandler(transport.PacketHolepunchRelay, c.handleHolepunchRelay)
	tr.RegisterHandler(transport.PacketPunch, c.handlePunch)
	tr.RegisterHandler(transport.PacketPunchAck, c.handlePunchAck)

	return c, nil
}

// broadcast sends a packet to every bootstrap node.
func (c *Client) broadcast(packetType transport.PacketType, data []byte) {
	packet := &transport.Packet{PacketType: packetType, Data: data}
	for _, node := range c.nodes {
		if err := c.tr.Send(packet, node); err != nil {
			logrus.WithFields(logrus.Fields{
				"packet_type": packetType,
				"node":        node.String(),
				"error":       err.Error(),
			}).Debug("Failed to send to bootstrap node")
		}
	}
}

// repeat calls send now and then every interval until ctx is done.
func (c *Client) repeat(ctx context.Context, interval time.Duration, send func()) {
	defer c.wg.Done()

	send()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			send()
		}
	}
}

type announcement struct {
	client   *Client
	topic    [32]byte
	port     int
	onUpdate func()
	cancel   context.CancelFunc
	once     sync.Once
}

func (a *announcement) Topic() [32]byte { return a.topic }

func (a *announcement) Close() error {
	a.once.Do(func() {
		a.cancel()

		c := a.client
		c.mu.Lock()
		delete(c.announcements, a)
		c.mu.Unlock()

		c.broadcast(transport.PacketUnannounce, encodeTopicPort(a.topic, a.port))
	})
	return nil
}

// Announce implements Discovery.
func (c *Client) Announce(topic [32]byte, port int, onUpdate func()) (Announcement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(c.ctx)
	a := &announcement{
		client:   c,
		topic:    topic,
		port:     port,
		onUpdate: onUpdate,
		cancel:   cancel,
	}
	c.announcements[a] = struct{}{}

	data := encodeTopicPort(topic, port)
	c.wg.Add(1)
	go c.repeat(ctx, c.config.AnnounceInterval, func() {
		c.broadcast(transport.PacketAnnounce, data)
	})

	logrus.WithFields(logrus.Fields{
		"topic": fmt.Sprintf("%x", topic[:8]),
		"port":  port,
	}).Debug("Announcing topic")

	return a, nil
}

type lookup struct {
	client *Client
	topic  [32]byte
	onPeer func(Peer)
	cancel context.CancelFunc
	once   sync.Once
}

func (l *lookup) Topic() [32]byte { return l.topic }

func (l *lookup) Close() error {
	l.once.Do(func() {
		l.cancel()

		c := l.client
		c.mu.Lock()
		delete(c.lookups, l)
		c.mu.Unlock()
	})
	return nil
}

// Lookup implements Discovery.
func (c *Client) Lookup(topic [32]byte, onPeer func(Peer)) (Lookup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(c.ctx)
	l := &lookup{
		client: c,
		topic:  topic,
		onPeer: onPeer,
		cancel: cancel,
	}
	c.lookups[l] = struct{}{}

	c.wg.Add(1)
	go c.repeat(ctx, c.config.LookupInterval, func() {
		c.broadcast(transport.PacketLookup, topic[:])
	})

	return l, nil
}

// Holepunch implements Discovery.
func (c *Client) Holepunch(ctx context.Context, peer Peer) error {
	if peer.Referrer == nil {
		return fmt.Errorf("%w: peer %s has no referrer", ErrHolepunchFailed, peer)
	}

	target, err := net.ResolveUDPAddr("udp", peer.Addr())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHolepunchFailed, err)
	}

	done := c.awaitPunch(target)
	defer c.cancelPunch(target, done)

	if err := c.tr.Send(&transport.Packet{
		PacketType: transport.PacketHolepunch,
		Data:       encodeUDPAddr(target),
	}, peer.Referrer); err != nil {
		return fmt.Errorf("%w: %v", ErrHolepunchFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.HolepunchTimeout)
	defer cancel()

	punch := &transport.Packet{PacketType: transport.PacketPunch, Data: []byte{}}
	for attempt := 1; ; attempt++ {
		if err := c.tr.Send(punch, target); err != nil {
			logrus.WithFields(logrus.Fields{
				"target":  target.String(),
				"attempt": attempt,
				"error":   err.Error(),
			}).Debug("Failed to send punch")
		}

		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", ErrHolepunchFailed, peer, ctx.Err())
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
}

func (c *Client) awaitPunch(addr net.Addr) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	done := make(chan struct{})
	key := addrKey(addr)
	c.punches[key] = append(c.punches[key], done)
	return done
}

func (c *Client) cancelPunch(addr net.Addr, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := addrKey(addr)
	waiters := c.punches[key]
	for i, w := range waiters {
		if w == done {
			waiters = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(waiters) == 0 {
		delete(c.punches, key)
	} else {
		c.punches[key] = waiters
	}
}

// punched wakes every Holepunch waiting on addr.
func (c *Client) punched(addr net.Addr) {
	c.mu.Lock()
	key := addrKey(addr)
	waiters := c.punches[key]
	delete(c.punches, key)
	c.mu.Unlock()

	for _, done := range waiters {
		close(done)
	}
}

func (c *Client) handleAnnounceAck(packet *transport.Packet, addr net.Addr) error {
	topic, err := decodeTopic(packet.Data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	var updates []func()
	for a := range c.announcements {
		if a.topic == topic && a.onUpdate != nil {
			updates = append(updates, a.onUpdate)
		}
	}
	c.mu.Unlock()

	for _, update := range updates {
		update()
	}
	return nil
}

func (c *Client) handlePeers(packet *transport.Packet, addr net.Addr) error {
	topic, addrs, err := decodePeers(packet.Data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	var targets []func(Peer)
	for l := range c.lookups {
		if l.topic == topic {
			targets = append(targets, l.onPeer)
		}
	}
	c.mu.Unlock()

	for _, peerAddr := range addrs {
		peer := Peer{Host: peerAddr.IP.String(), Port: peerAddr.Port, Referrer: addr}
		for _, onPeer := range targets {
			onPeer(peer)
		}
	}
	return nil
}

// handleHolepunchRelay answers a referrer asking us to punch towards the
// address in the packet.
func (c *Client) handleHolepunchRelay(packet *transport.Packet, addr net.Addr) error {
	target, err := decodeUDPAddr(packet.Data)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"target":   target.String(),
		"referrer": addr.String(),
	}).Debug("Punching towards peer on request")

	return c.tr.Send(&transport.Packet{PacketType: transport.PacketPunch, Data: []byte{}}, target)
}

func (c *Client) handlePunch(packet *transport.Packet, addr net.Addr) error {
	c.punched(addr)
	return c.tr.Send(&transport.Packet{PacketType: transport.PacketPunchAck, Data: []byte{}}, addr)
}

func (c *Client) handlePunchAck(packet *transport.Packet, addr net.Addr) error {
	c.punched(addr)
	return nil
}

// Close implements Discovery. It withdraws all announcements, stops all
// lookups and waits for their timers. The transport is left open.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true

	announcements := make([]*announcement, 0, len(c.announcements))
	for a := range c.announcements {
		announcements = append(announcements, a)
	}
	lookups := make([]*lookup, 0, len(c.lookups))
	for l := range c.lookups {
		lookups = append(lookups, l)
	}
	c.mu.Unlock()

	for _, a := range announcements {
		a.Close()
	}
	for _, l := range lookups {
		l.Close()
	}

	c.cancel()
	c.wg.Wait()
	return nil
}

var _ Discovery = (*Client)(nil)
