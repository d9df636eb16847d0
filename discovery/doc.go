// Package discovery finds the current addresses of peers by topic.
//
// A node that wants to be reachable announces a 32-byte topic together with
// the port it listens on. A node that wants to dial looks the topic up and
// receives a Peer for every address the topic was announced from.
//
// Client implements Discovery against one or more Bootstrap nodes. It sends
// small datagrams on the same UDP socket that carries the node's QUIC
// traffic, so the NAT mapping created while talking to a bootstrap node is
// the mapping a peer will later reach us through. Bootstrap nodes also act
// as the referrer for holepunching: a dialer asks the bootstrap node to tell
// the target to punch towards it, while it punches towards the target.
//
//	socket := transport.NewUDPSocket()
//	socket.Bind(0)
//	d, err := discovery.NewClient(socket, &discovery.Config{
//	    Bootstrap: []string{"bootstrap.example.org:49737"},
//	})
//	lookup, err := d.Lookup(topic, func(p discovery.Peer) { ... })
//
// MemoryNetwork is an in-process Discovery for tests and single-process use.
package discovery
