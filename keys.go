package noisenet

import "github.com/opd-ai/noisenet/crypto"

// Keygen generates a random static key pair.
func Keygen() (*crypto.KeyPair, error) {
	return crypto.GenerateKeyPair()
}

// SeedKeygen derives a static key pair from a 32-byte seed. The same seed
// always yields the same key pair.
func SeedKeygen(seed [32]byte) (*crypto.KeyPair, error) {
	return crypto.SeedKeyPair(seed)
}
