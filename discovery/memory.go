package discovery

import (
	"context"
	"sync"

	"github.com/opd-ai/noisenet/transport"
)

// memoryReferrer marks peers found on a MemoryNetwork as punchable.
type memoryReferrer struct{}

func (memoryReferrer) Network() string { return "memory" }
func (memoryReferrer) String() string  { return "memory" }

// MemoryNetwork is an in-process discovery overlay. Every Discovery created
// from the same network sees the others' announcements at once, always on
// the loopback host. Holepunches succeed immediately.
type MemoryNetwork struct {
	mu      sync.Mutex
	entries map[*memoryAnnouncement]struct{}
	lookups map[*memoryLookup]struct{}

	// Host is the address reported for every announce.
	Host string
}

// NewMemoryNetwork creates an empty network on 127.0.0.1.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		entries: make(map[*memoryAnnouncement]struct{}),
		lookups: make(map[*memoryLookup]struct{}),
		Host:    "127.0.0.1",
	}
}

// Factory returns a Factory whose discoveries join this network. The
// transport is ignored.
func (n *MemoryNetwork) Factory() Factory {
	return func(transport.Transport) (Discovery, error) {
		return &memoryDiscovery{
			network: n,
			handles: make(map[interface{ Close() error }]struct{}),
		}, nil
	}
}

type memoryAnnouncement struct {
	d     *memoryDiscovery
	topic [32]byte
	peer  Peer
	once  sync.Once
}

func (a *memoryAnnouncement) Topic() [32]byte { return a.topic }

func (a *memoryAnnouncement) Close() error {
	a.once.Do(func() {
		n := a.d.network
		n.mu.Lock()
		delete(n.entries, a)
		n.mu.Unlock()
		a.d.forget(a)
	})
	return nil
}

type memoryLookup struct {
	d      *memoryDiscovery
	topic  [32]byte
	onPeer func(Peer)
	once   sync.Once
}

func (l *memoryLookup) Topic() [32]byte { return l.topic }

func (l *memoryLookup) Close() error {
	l.once.Do(func() {
		n := l.d.network
		n.mu.Lock()
		delete(n.lookups, l)
		n.mu.Unlock()
		l.d.forget(l)
	})
	return nil
}

type memoryDiscovery struct {
	network *MemoryNetwork

	mu      sync.Mutex
	handles map[interface{ Close() error }]struct{}
	closed  bool
}

func (d *memoryDiscovery) remember(h interface{ Close() error }) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	d.handles[h] = struct{}{}
	return nil
}

func (d *memoryDiscovery) forget(h interface{ Close() error }) {
	d.mu.Lock()
	delete(d.handles, h)
	d.mu.Unlock()
}

func (d *memoryDiscovery) Announce(topic [32]byte, port int, onUpdate func()) (Announcement, error) {
	n := d.network
	a := &memoryAnnouncement{
		d:     d,
		topic: topic,
		peer:  Peer{Host: n.Host, Port: port, Referrer: memoryReferrer{}},
	}
	if err := d.remember(a); err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.entries[a] = struct{}{}
	var targets []func(Peer)
	for l := range n.lookups {
		if l.topic == topic {
			targets = append(targets, l.onPeer)
		}
	}
	n.mu.Unlock()

	go func() {
		if onUpdate != nil {
			onUpdate()
		}
		for _, onPeer := range targets {
			onPeer(a.peer)
		}
	}()

	return a, nil
}

func (d *memoryDiscovery) Lookup(topic [32]byte, onPeer func(Peer)) (Lookup, error) {
	n := d.network
	l := &memoryLookup{d: d, topic: topic, onPeer: onPeer}
	if err := d.remember(l); err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.lookups[l] = struct{}{}
	var peers []Peer
	for a := range n.entries {
		if a.topic == topic {
			peers = append(peers, a.peer)
		}
	}
	n.mu.Unlock()

	go func() {
		for _, peer := range peers {
			onPeer(peer)
		}
	}()

	return l, nil
}

func (d *memoryDiscovery) Holepunch(ctx context.Context, peer Peer) error {
	return ctx.Err()
}

func (d *memoryDiscovery) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	handles := make([]interface{ Close() error }, 0, len(d.handles))
	for h := range d.handles {
		handles = append(handles, h)
	}
	d.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}
	return nil
}

var _ Discovery = (*memoryDiscovery)(nil)
