package discovery

import (
	"net"
	"sync"
	"time"

	"github.com/opd-ai/noisenet/transport"
	"github.com/sirupsen/logrus"
)

// DefaultAnnounceTTL is how long a bootstrap node remembers an announce
// that is not refreshed.
const DefaultAnnounceTTL = 5 * time.Minute

type record struct {
	addr    *net.UDPAddr
	expires time.Time
}

// Bootstrap is a rendezvous node. It remembers which addresses announced
// which topics, answers lookups with those addresses, and relays holepunch
// requests between peers that both reach it.
type Bootstrap struct {
	tr  transport.Transport
	ttl time.Duration

	mu     sync.Mutex
	topics map[[32]byte]map[string]*record

	now func() time.Time
}

// NewBootstrap serves bootstrap requests arriving on tr. Announcements expire
// after ttl without a refresh; zero uses DefaultAnnounceTTL.
func NewBootstrap(tr transport.Transport, ttl time.Duration) *Bootstrap {
	if ttl <= 0 {
		ttl = DefaultAnnounceTTL
	}

	b := &Bootstrap{
		tr:     tr,
		ttl:    ttl,
		topics: make(map[[32]byte]map[string]*record),
		now:    time.Now,
	}

	tr.RegisterHandler(transport.PacketAnnounce, b.handleAnnounce)
	tr.RegisterHandler(transport.PacketUnannounce, b.handleUnannounce)
	tr.RegisterHandler(transport.PacketLookup, b.handleLookup)
	tr.RegisterHandler(transport.PacketHolepunch, b.handleHolepunch)

	logrus.WithFields(logrus.Fields{
		"addr": addrString(tr.LocalAddr()),
		"ttl":  ttl,
	}).Info("Bootstrap node serving")

	return b
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}

// announcedAddr is the address a peer announced: its observed IP with the
// port it asked for, or its source port when it asked for none.
func announcedAddr(src net.Addr, port int) (*net.UDPAddr, bool) {
	udp, ok := toUDPAddr(src)
	if !ok {
		return nil, false
	}
	if port == 0 {
		port = udp.Port
	}
	return &net.UDPAddr{IP: udp.IP, Port: port}, true
}

func (b *Bootstrap) handleAnnounce(packet *transport.Packet, addr net.Addr) error {
	topic, port, err := decodeTopicPort(packet.Data)
	if err != nil {
		return err
	}

	peer, ok := announcedAddr(addr, port)
	if !ok {
		return nil
	}

	b.mu.Lock()
	records := b.topics[topic]
	if records == nil {
		records = make(map[string]*record)
		b.topics[topic] = records
	}
	records[addrKey(peer)] = &record{addr: peer, expires: b.now().Add(b.ttl)}
	b.mu.Unlock()

	return b.tr.Send(&transport.Packet{PacketType: transport.PacketAnnounceAck, Data: topic[:]}, addr)
}

func (b *Bootstrap) handleUnannounce(packet *transport.Packet, addr net.Addr) error {
	topic, port, err := decodeTopicPort(packet.Data)
	if err != nil {
		return err
	}

	peer, ok := announcedAddr(addr, port)
	if !ok {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if records := b.topics[topic]; records != nil {
		delete(records, addrKey(peer))
		if len(records) == 0 {
			delete(b.topics, topic)
		}
	}
	return nil
}

func (b *Bootstrap) handleLookup(packet *transport.Packet, addr net.Addr) error {
	topic, err := decodeTopic(packet.Data)
	if err != nil {
		return err
	}

	peers := b.Peers(topic)
	if len(peers) == 0 {
		return nil
	}

	return b.tr.Send(&transport.Packet{
		PacketType: transport.PacketPeers,
		Data:       encodePeers(topic, peers),
	}, addr)
}

// handleHolepunch forwards the requester's address to the target so the
// target punches back towards it.
func (b *Bootstrap) handleHolepunch(packet *transport.Packet, addr net.Addr) error {
	target, err := decodeUDPAddr(packet.Data)
	if err != nil {
		return err
	}

	requester, ok := toUDPAddr(addr)
	if !ok {
		return nil
	}

	return b.tr.Send(&transport.Packet{
		PacketType: transport.PacketHolepunchRelay,
		Data:       encodeUDPAddr(requester),
	}, target)
}

// Peers returns the live addresses announced for topic, dropping expired
// ones.
func (b *Bootstrap) Peers(topic [32]byte) []*net.UDPAddr {
	b.mu.Lock()
	defer b.mu.Unlock()

	records := b.topics[topic]
	now := b.now()

	peers := make([]*net.UDPAddr, 0, len(records))
	for key, r := range records {
		if now.After(r.expires) {
			delete(records, key)
			continue
		}
		peers = append(peers, r.addr)
	}
	if records != nil && len(records) == 0 {
		delete(b.topics, topic)
	}
	return peers
}
