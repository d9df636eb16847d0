// Package noise provides the encrypted stream noisenet peers talk over.
//
// The handshake is Noise XK, implemented with the flynn/noise library using
// Curve25519, ChaCha20-Poly1305 and BLAKE2b.
//
// # XK Pattern
//
// The initiator knows the responder's static public key before dialing, as a
// noisenet client always does: it dials by public key. The responder learns
// the initiator's static key during the third message.
//
//	Initiator                              Responder
//	─────────                              ─────────
//	-> e, es
//	                                       <- e, ee
//	-> s, se
//	[session established]
//
// Security properties:
//   - The initiator only completes the handshake with the holder of the key
//     it dialed.
//   - The responder sees the initiator's static key before any data, and may
//     reject it.
//   - The initiator's identity is encrypted on the wire.
//   - Ephemeral keys give forward secrecy.
//
// # Streams
//
// Stream wraps any net.Conn. The handshake starts in the background as soon
// as the stream is created:
//
//	stream, err := noise.NewStream(conn, noise.Config{
//	    Role:         noise.Initiator,
//	    KeyPair:      keyPair,
//	    RemoteStatic: &serverKey,
//	})
//	stream.Write([]byte("queued until the handshake completes"))
//
// On the wire every handshake message and every data record is a 2-byte
// big-endian length followed by the message. A record with an empty
// plaintext marks the end of the sender's data, so a truncated connection
// can be told apart from a clean CloseWrite.
//
// Writes made before the handshake completes are queued up to
// Config.MaxPendingWrite bytes; beyond that Write fails with ErrBufferFull.
// Writes after Close fail with ErrStreamClosed.
//
// # Error Handling
//
// A stream that fails is closed and keeps its cause in Err. Handshake
// failures are wrapped as "handshake: ..."; a key refused by
// Config.Validate wraps ErrRemoteRejected.
package noise
