package noisenet

import (
	"time"

	"github.com/opd-ai/noisenet/discovery"
	"github.com/opd-ai/noisenet/limits"
	"github.com/sirupsen/logrus"
)

// Options configures servers and agents.
type Options struct {
	// Bootstrap lists host:port addresses of discovery bootstrap nodes.
	Bootstrap []string

	// Discovery, if set, replaces the bootstrap client. Tests use
	// discovery.MemoryNetwork here.
	Discovery discovery.Factory

	// MaxBindRetries bounds how often a server retries binding TCP and UDP
	// to a common port.
	MaxBindRetries int

	AnnounceInterval time.Duration
	LookupInterval   time.Duration
	HolepunchTimeout time.Duration

	// DialTimeout is the default whole-dial timeout for Agent.Connect.
	// Zero means dials wait for the peer indefinitely.
	DialTimeout time.Duration

	// MaxPendingWrite bounds data written to a stream before its
	// handshake completes.
	MaxPendingWrite int

	// Logger receives all log output. Nil uses the logrus standard logger.
	Logger *logrus.Logger
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	defaults := discovery.DefaultConfig()
	return &Options{
		MaxBindRetries:   64,
		AnnounceInterval: defaults.AnnounceInterval,
		LookupInterval:   defaults.LookupInterval,
		HolepunchTimeout: defaults.HolepunchTimeout,
		MaxPendingWrite:  limits.MaxProcessingBuffer,
	}
}

// discoveryFactory returns the configured Factory, or a bootstrap client
// factory built from the other options.
func (o *Options) discoveryFactory() discovery.Factory {
	if o.Discovery != nil {
		return o.Discovery
	}
	return discovery.ClientFactory(&discovery.Config{
		Bootstrap:        o.Bootstrap,
		AnnounceInterval: o.AnnounceInterval,
		LookupInterval:   o.LookupInterval,
		HolepunchTimeout: o.HolepunchTimeout,
	})
}

func optionsOrDefault(opts *Options) *Options {
	if opts == nil {
		return NewOptions()
	}
	return opts
}
