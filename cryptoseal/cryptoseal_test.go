package cryptoseal

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveGroupKey(t *testing.T) {
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)

	k1, err := DeriveGroupKey(secret, LabelMod)
	require.NoError(t, err)
	k2, err := DeriveGroupKey(secret, LabelMod)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := DeriveGroupKey(secret, LabelPhonebook)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3, "different labels must yield different keys")
}

func TestDeriveSessionKeyDirectionDistinct(t *testing.T) {
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)

	forward, err := DeriveSessionKey(secret, LabelMod, "a->b")
	require.NoError(t, err)
	reverse, err := DeriveSessionKey(secret, LabelMod, "b->a")
	require.NoError(t, err)
	assert.NotEqual(t, forward, reverse)
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual([]byte("abc"), []byte("abc")))
	assert.False(t, ConstantTimeEqual([]byte("abc"), []byte("abd")))
	assert.False(t, ConstantTimeEqual([]byte("abc"), []byte("ab")))
}

func TestStreamSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)

	sender, salt, err := NewStream(key)
	require.NoError(t, err)
	receiver, err := NewStreamWithSalt(key, salt)
	require.NoError(t, err)

	for ordinal := uint64(0); ordinal < 4; ordinal++ {
		plaintext := []byte("frame payload")
		sealed := sender.SealFrame(ordinal, plaintext)
		opened, err := receiver.OpenFrame(ordinal, sealed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, opened)
	}
}

func TestStreamOpenRejectsWrongOrdinal(t *testing.T) {
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)

	s, salt, err := NewStream(key)
	require.NoError(t, err)
	r, err := NewStreamWithSalt(key, salt)
	require.NoError(t, err)

	sealed := s.SealFrame(1, []byte("data"))
	_, err = r.OpenFrame(2, sealed)
	assert.Error(t, err, "frame sealed at ordinal 1 must not open at ordinal 2")
}

func TestSealToEd25519PeerRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	plaintext := []byte("group_secret material")
	payload, err := SealToEd25519Peer(pub, plaintext)
	require.NoError(t, err)

	opened, err := OpenFromEd25519Peer(priv, payload)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestSealToEd25519PeerWrongRecipientFails(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	payload, err := SealToEd25519Peer(pub, []byte("secret"))
	require.NoError(t, err)

	_, err = OpenFromEd25519Peer(otherPriv, payload)
	assert.Error(t, err)
}

func TestOneShotSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)

	sealed, err := SealOneShot(key, []byte("payload"))
	require.NoError(t, err)
	opened, err := OpenOneShot(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), opened)
}
