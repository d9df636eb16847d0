package crypto

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPair(t *testing.T) {
	kp1, err := GenerateKeyPair()
	require.NoError(t, err)
	kp2, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.NotEqual(t, kp1.Public, kp2.Public)
	assert.NotEqual(t, kp1.Private, kp2.Private)

	derived, err := FromSecretKey(kp1.Private)
	require.NoError(t, err)
	assert.Equal(t, kp1.Public, derived.Public)
}

// RFC 7748 section 6.1 test vector.
func TestFromSecretKeyKnownVector(t *testing.T) {
	var secret [KeySize]byte
	_, err := hex.Decode(secret[:], []byte("77076d0a7318a57d3c16c17251b26645df4c2f87ebc0992ab177fba51db92c2a"))
	require.NoError(t, err)

	kp, err := FromSecretKey(secret)
	require.NoError(t, err)
	assert.Equal(t, "8520f0098930a754748b7ddcb43ef75a0dbf3a0d26381af4eba4a98eaa9b4e6a", kp.PublicHex())
}

func TestFromSecretKeyRejectsZero(t *testing.T) {
	_, err := FromSecretKey([KeySize]byte{})
	assert.Error(t, err)
}

func TestSeedKeyPairDeterministic(t *testing.T) {
	var seed [KeySize]byte
	copy(seed[:], "a deterministic thirty-two byte!")

	kp1, err := SeedKeyPair(seed)
	require.NoError(t, err)
	kp2, err := SeedKeyPair(seed)
	require.NoError(t, err)
	assert.Equal(t, *kp1, *kp2)

	seed[0] ^= 0xff
	kp3, err := SeedKeyPair(seed)
	require.NoError(t, err)
	assert.NotEqual(t, kp1.Public, kp3.Public)
}

func TestParsePublicKey(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	parsed, err := ParsePublicKey(kp.PublicHex())
	require.NoError(t, err)
	assert.Equal(t, kp.Public, parsed)

	parsed, err = ParsePublicKey(strings.ToUpper(kp.PublicHex()))
	require.NoError(t, err)
	assert.Equal(t, kp.Public, parsed)

	_, err = ParsePublicKey("abcd")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = ParsePublicKey(strings.Repeat("zz", KeySize))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestParseKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	pubHex, secHex := kp.PublicHex(), kp.SecretHex()
	parsed, err := ParseKeyPair(pubHex, secHex)
	require.NoError(t, err)
	assert.Equal(t, *kp, *parsed)

	// The caller's strings are untouched and the result owns its own memory.
	assert.Equal(t, kp.PublicHex(), pubHex)
	assert.Equal(t, kp.SecretHex(), secHex)
	parsed.Private[0] ^= 0xff
	assert.Equal(t, kp.SecretHex(), secHex)

	other, err := GenerateKeyPair()
	require.NoError(t, err)
	_, err = ParseKeyPair(other.PublicHex(), secHex)
	assert.ErrorIs(t, err, ErrKeyMismatch)
}

func TestWipeKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	require.NoError(t, WipeKeyPair(kp))
	assert.Equal(t, [KeySize]byte{}, kp.Private)
	assert.Error(t, WipeKeyPair(nil))
	assert.Error(t, SecureWipe(nil))
}
