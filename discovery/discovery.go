package discovery

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/opd-ai/noisenet/transport"
)

var (
	// ErrHolepunchFailed indicates no punch packet came back from the peer
	// before the holepunch deadline.
	ErrHolepunchFailed = errors.New("holepunch failed")

	// ErrClosed indicates an operation on a closed discovery client.
	ErrClosed = errors.New("discovery closed")
)

// Peer is one sighting of a topic: an address the topic was announced from,
// and the node that reported it. Referrer is nil when no node can relay a
// holepunch for this peer.
type Peer struct {
	Host     string
	Port     int
	Referrer net.Addr
}

// Addr returns the peer's host:port.
func (p Peer) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

func (p Peer) String() string {
	return p.Addr()
}

// Announcement is an active announce of a topic. Close stops refreshing it
// and withdraws it from the network.
type Announcement interface {
	Topic() [32]byte
	Close() error
}

// Lookup is an active subscription to sightings of a topic.
type Lookup interface {
	Topic() [32]byte
	Close() error
}

// Discovery announces and finds topics, and helps open NAT mappings
// between peers.
type Discovery interface {
	// Announce makes this node findable under topic at port. onUpdate, if
	// not nil, is called each time a bootstrap node confirms the announce.
	Announce(topic [32]byte, port int, onUpdate func()) (Announcement, error)

	// Lookup reports every sighting of topic to onPeer until closed. The
	// same peer may be reported more than once.
	Lookup(topic [32]byte, onPeer func(Peer)) (Lookup, error)

	// Holepunch asks peer.Referrer to have the peer send a packet towards
	// us while we send packets towards it, and returns once one arrives.
	Holepunch(ctx context.Context, peer Peer) error

	// Close withdraws every announcement and stops every lookup.
	Close() error
}

// Factory creates a Discovery that sends and receives on tr.
type Factory func(tr transport.Transport) (Discovery, error)

// Config holds the settings of the bootstrap client.
type Config struct {
	// Bootstrap lists host:port addresses of bootstrap nodes.
	Bootstrap []string

	// AnnounceInterval is how often announcements are refreshed.
	AnnounceInterval time.Duration

	// LookupInterval is how often lookups are sent again.
	LookupInterval time.Duration

	// HolepunchTimeout bounds a single Holepunch call.
	HolepunchTimeout time.Duration
}

// DefaultConfig returns a Config with no bootstrap nodes and default
// intervals.
func DefaultConfig() *Config {
	return &Config{
		AnnounceInterval: time.Minute,
		LookupInterval:   5 * time.Second,
		HolepunchTimeout: 5 * time.Second,
	}
}

// withDefaults returns a copy of config with unset durations filled in.
func withDefaults(config *Config) *Config {
	defaults := DefaultConfig()
	if config == nil {
		return defaults
	}

	c := *config
	if c.AnnounceInterval <= 0 {
		c.AnnounceInterval = defaults.AnnounceInterval
	}
	if c.LookupInterval <= 0 {
		c.LookupInterval = defaults.LookupInterval
	}
	if c.HolepunchTimeout <= 0 {
		c.HolepunchTimeout = defaults.HolepunchTimeout
	}
	return &c
}

// ClientFactory returns a Factory that builds bootstrap clients with config.
func ClientFactory(config *Config) Factory {
	return func(tr transport.Transport) (Discovery, error) {
		return NewClient(tr, config)
	}
}
