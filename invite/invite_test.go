package invite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyteclub/syncshell/identity"
)

func TestLiveInviteRoundTrip(t *testing.T) {
	issuer, err := identity.Generate()
	require.NoError(t, err)
	consumer, err := identity.Generate()
	require.NoError(t, err)

	secret := []byte("group secret material 0123456789")
	now := time.Unix(1_700_000_000, 0)

	code, err := Encode(issuer, consumer.PublicKey(), KindLive, "grp-1", secret, "v=0\r\n", []string{"198.51.100.1:7777"}, now, time.Hour)
	require.NoError(t, err)

	decoded, err := Decode(code, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "grp-1", decoded.GroupID)
	assert.Equal(t, issuer.PeerID(), decoded.IssuerPeerID)
	assert.False(t, decoded.IsBootstrap())

	recovered, err := UnsealGroupSecret(consumer, decoded)
	require.NoError(t, err)
	assert.Equal(t, secret, recovered)
}

func TestBootstrapInviteHasNoSessionOffer(t *testing.T) {
	issuer, err := identity.Generate()
	require.NoError(t, err)
	consumer, err := identity.Generate()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	code, err := Encode(issuer, consumer.PublicKey(), KindBootstrap, "grp-1", []byte("secret"), "should be dropped", nil, now, time.Hour)
	require.NoError(t, err)

	decoded, err := Decode(code, now.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, decoded.IsBootstrap())
	assert.Empty(t, decoded.SessionOffer)
}

func TestInviteExpiryBoundary(t *testing.T) {
	issuer, err := identity.Generate()
	require.NoError(t, err)
	consumer, err := identity.Generate()
	require.NoError(t, err)

	issuedAt := time.Unix(1_700_000_000, 0)
	code, err := Encode(issuer, consumer.PublicKey(), KindLive, "grp-1", []byte("secret"), "offer", nil, issuedAt, time.Hour)
	require.NoError(t, err)

	expiresAt := issuedAt.Add(time.Hour)

	_, err = Decode(code, expiresAt.Add(-time.Second))
	assert.NoError(t, err, "one second before expiry must be accepted")

	_, err = Decode(code, expiresAt)
	assert.Error(t, err, "exactly at expiry must be rejected")
}

func TestInviteRejectsTamperedSignature(t *testing.T) {
	issuer, err := identity.Generate()
	require.NoError(t, err)
	consumer, err := identity.Generate()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	code, err := Encode(issuer, consumer.PublicKey(), KindLive, "grp-1", []byte("secret"), "offer", nil, now, time.Hour)
	require.NoError(t, err)

	tampered := code[:len(code)-2] + "AA"
	_, err = Decode(tampered, now.Add(time.Minute))
	assert.Error(t, err)
}

func TestEncodeRejectsOverlongLifetime(t *testing.T) {
	issuer, err := identity.Generate()
	require.NoError(t, err)
	consumer, err := identity.Generate()
	require.NoError(t, err)

	_, err = Encode(issuer, consumer.PublicKey(), KindLive, "grp-1", []byte("secret"), "offer", nil, time.Unix(0, 0), 25*time.Hour)
	assert.Error(t, err)
}
