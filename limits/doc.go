// Package limits provides centralized size constants and validation functions
// for the encrypted stream framing used by noisenet.
//
// # Frame Size Hierarchy
//
//   - MaxNoiseMessage (65535 bytes): the Noise protocol maximum, which bounds
//     every frame body, handshake messages included.
//
//   - MaxFramePayload (65519 bytes): the plaintext carried by one transport
//     frame once the 16-byte ChaCha20-Poly1305 tag is accounted for. Larger
//     writes are split across frames.
//
//   - MaxProcessingBuffer (1MB): the default bound on data queued before a
//     handshake completes.
//
// # Validation Functions
//
//	if err := limits.ValidateFrame(body); err != nil {
//	    // ErrMessageEmpty or ErrMessageTooLarge
//	}
package limits
