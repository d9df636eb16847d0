// Package noisenet dials and listens on encrypted peer-to-peer streams
// addressed by public key.
//
// A server listens with a static key pair. It binds TCP and UDP to the same
// port and announces the discovery topic derived from its public key. A
// client that knows the public key looks the topic up, races a direct TCP
// connection against a holepunched UDP connection to every address it
// finds, and runs a Noise XK handshake over the winner. The handshake fails
// unless the server holds the expected key.
//
// # Getting Started
//
//	options := noisenet.NewOptions()
//	options.Bootstrap = []string{"bootstrap.example.org:49737"}
//
//	server := noisenet.NewServer(&noisenet.ServerOptions{Options: options})
//	server.OnConnection(func(stream *noise.Stream) {
//	    io.Copy(stream, stream)
//	})
//
//	keyPair, err := noisenet.Keygen()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := server.Listen(keyPair); err != nil {
//	    log.Fatal(err)
//	}
//
// On another machine:
//
//	agent := noisenet.NewAgent(options)
//	defer agent.Close()
//
//	stream, err := agent.Connect(keyPair.Public, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	stream.Write([]byte("hello world"))
//
// Connect returns before the peer is found. Writes issued before the
// handshake completes are queued, and reads block until it does. Use
// stream.Handshake(ctx) to wait explicitly.
//
// # Agents
//
// An Agent owns one UDP socket and one discovery client, opened on the
// first Connect and shared by all of its dials. Agent.Close waits for the
// agent's dials to end before releasing them. The package-level Connect uses
// a default agent that closes itself as soon as it is idle.
//
// # Server events
//
// Servers report events through callbacks: OnListening, OnAnnounce,
// OnConnection, OnClientError and OnClose. Inbound streams whose handshake
// fails, including those rejected by ServerOptions.Validate, are reported to
// OnClientError and never reach OnConnection. Closing a server leaves
// already established streams open.
package noisenet
