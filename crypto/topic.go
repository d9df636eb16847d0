package crypto

import (
	"golang.org/x/crypto/blake2b"
)

// discoveryContext is the message hashed under the public key to form a topic.
const discoveryContext = "noise-network"

// DiscoveryKey derives the 32-byte discovery topic for a public key:
// BLAKE2b-256 keyed with the public key over the fixed context string.
func DiscoveryKey(publicKey [KeySize]byte) [KeySize]byte {
	h, err := blake2b.New(KeySize, publicKey[:])
	if err != nil {
		// Only reachable with a key longer than 64 bytes.
		panic("crypto: blake2b: " + err.Error())
	}
	h.Write([]byte(discoveryContext))

	var topic [KeySize]byte
	copy(topic[:], h.Sum(nil))
	return topic
}
