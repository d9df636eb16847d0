package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// KeySize is the length in bytes of both halves of a KeyPair.
const KeySize = 32

var (
	// ErrInvalidKey indicates key material of the wrong length or encoding.
	ErrInvalidKey = errors.New("invalid key")

	// ErrKeyMismatch indicates a secret key that does not derive the supplied public key.
	ErrKeyMismatch = errors.New("public key does not match secret key")
)

// KeyPair is a Curve25519 static key pair used to identify a peer.
//
// Both halves are arrays, so a KeyPair always owns its key material and
// copying the struct never aliases caller buffers.
type KeyPair struct {
	Public  [KeySize]byte
	Private [KeySize]byte
}

// GenerateKeyPair creates a new random key pair.
func GenerateKeyPair() (*KeyPair, error) {
	publicKey, privateKey, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	keyPair := &KeyPair{
		Public:  *publicKey,
		Private: *privateKey,
	}
	ZeroBytes(privateKey[:])

	NewLogger("GenerateKeyPair").
		WithFields(SecureFieldHash(keyPair.Public[:], "public_key")).
		Debug("Generated key pair")

	return keyPair, nil
}

// SeedKeyPair deterministically derives a key pair from a 32-byte seed.
// The secret key is the BLAKE2b-256 digest of the seed.
func SeedKeyPair(seed [KeySize]byte) (*KeyPair, error) {
	secretKey := blake2b.Sum256(seed[:])
	defer ZeroBytes(secretKey[:])
	return FromSecretKey(secretKey)
}

// FromSecretKey creates a key pair from an existing private key.
func FromSecretKey(secretKey [KeySize]byte) (*KeyPair, error) {
	if isZeroKey(secretKey) {
		return nil, errors.New("invalid secret key: all zeros")
	}

	publicKey, err := curve25519.X25519(secretKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	keyPair := &KeyPair{Private: secretKey}
	copy(keyPair.Public[:], publicKey)
	return keyPair, nil
}

// ParsePublicKey decodes a hex-encoded 32-byte public key.
func ParsePublicKey(s string) ([KeySize]byte, error) {
	var key [KeySize]byte
	if err := decodeHexKey(key[:], s); err != nil {
		return key, fmt.Errorf("public key: %w", err)
	}
	return key, nil
}

// ParseKeyPair decodes a hex-encoded key pair. The strings are copied; the
// returned KeyPair shares no memory with its arguments.
func ParseKeyPair(publicHex, secretHex string) (*KeyPair, error) {
	publicKey, err := ParsePublicKey(publicHex)
	if err != nil {
		return nil, err
	}

	var secretKey [KeySize]byte
	defer ZeroBytes(secretKey[:])
	if err := decodeHexKey(secretKey[:], secretHex); err != nil {
		return nil, fmt.Errorf("secret key: %w", err)
	}

	keyPair, err := FromSecretKey(secretKey)
	if err != nil {
		return nil, err
	}
	if keyPair.Public != publicKey {
		NewLogger("ParseKeyPair").
			WithFields(SecureFieldHash(publicKey[:], "public_key")).
			WithError(ErrKeyMismatch, "derive_public_key").
			Warn("Supplied public key does not match secret key")
		return nil, ErrKeyMismatch
	}
	return keyPair, nil
}

// PublicHex returns the hex encoding of the public key.
func (kp *KeyPair) PublicHex() string {
	return hex.EncodeToString(kp.Public[:])
}

// SecretHex returns the hex encoding of the private key.
func (kp *KeyPair) SecretHex() string {
	return hex.EncodeToString(kp.Private[:])
}

func decodeHexKey(dst []byte, s string) error {
	if hex.DecodedLen(len(s)) != len(dst) {
		return fmt.Errorf("%w: want %d hex characters, got %d", ErrInvalidKey, hex.EncodedLen(len(dst)), len(s))
	}
	if _, err := hex.Decode(dst, []byte(s)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return nil
}

// isZeroKey checks if a key consists of all zeros.
func isZeroKey(key [KeySize]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
