// Package crypto implements the key material handling for noisenet.
//
// Peers are identified by Curve25519 static public keys. This package creates
// those key pairs, either randomly or deterministically from a seed, parses
// hex-encoded keys supplied by callers, and derives the discovery topic under
// which a peer announces itself.
//
// # Key Pairs
//
//	kp, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("public key:", kp.PublicHex())
//
// A seeded key pair is reproducible across processes:
//
//	kp, err := crypto.SeedKeyPair(seed)
//
// # Discovery Topics
//
// The topic a server announces, and a dialer looks up, is a keyed BLAKE2b-256
// hash of the string "noise-network" under the public key:
//
//	topic := crypto.DiscoveryKey(kp.Public)
//
// The same public key always maps to the same topic and distinct keys map to
// distinct topics with overwhelming probability.
//
// # Memory Hygiene
//
// KeyPair stores both keys as arrays so caller-supplied buffers are copied on
// construction. Temporary secret copies are wiped with [ZeroBytes].
package crypto
